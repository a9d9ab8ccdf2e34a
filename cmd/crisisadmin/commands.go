package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/guarzo/crisiscircle/common"
	"github.com/guarzo/crisiscircle/common/model"
	"github.com/guarzo/crisiscircle/modules/admin"
	"github.com/guarzo/crisiscircle/modules/auth"
)

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "logout":
		return a.logout(ctx)
	case "status":
		return a.status(ctx)
	case "refresh":
		return a.refresh(ctx)
	case "dashboard":
		return a.dashboard(ctx)
	case "users":
		return a.users(ctx, rest)
	case "announcements":
		return a.announcements(ctx, rest)
	case "items":
		return a.items(ctx, rest)
	case "watch":
		return a.watch(ctx)
	default:
		return usagef("unknown command %q", cmd)
	}
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func subcommand(group string, args []string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, usagef("%s: missing subcommand", group)
	}
	return args[0], args[1:], nil
}

// ----------------------------------------------------------------------
// Session
// ----------------------------------------------------------------------

func (a *app) login(ctx context.Context, args []string) error {
	fs := a.flags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (default $CRISISCIRCLE_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		*password = os.Getenv("CRISISCIRCLE_PASSWORD")
	}

	resp, err := a.shell.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	return a.printJSON(map[string]interface{}{
		"message": resp.Message,
		"user":    resp.Data.User,
	})
}

func (a *app) logout(ctx context.Context) error {
	if err := a.shell.Logout(ctx); err != nil {
		return err
	}
	return a.printJSON(map[string]bool{"loggedOut": true})
}

type statusOutput struct {
	Authenticated bool            `json:"authenticated"`
	APIURL        string          `json:"apiUrl"`
	Store         string          `json:"store"`
	Token         *auth.TokenInfo `json:"token,omitempty"`
	Expired       *bool           `json:"expired,omitempty"`
}

func (a *app) status(ctx context.Context) error {
	out := statusOutput{
		Authenticated: a.session.IsAuthenticated(ctx),
		APIURL:        a.cfg.APIURL,
		Store:         a.cfg.TokenStore,
	}
	if out.Authenticated {
		out.Token, out.Expired = a.inspect(ctx)
	}
	return a.printJSON(out)
}

func (a *app) inspect(ctx context.Context) (*auth.TokenInfo, *bool) {
	raw, err := a.session.GetToken(ctx)
	if err != nil || raw == "" {
		return nil, nil
	}
	info, err := auth.InspectToken(raw)
	if err != nil {
		a.logger.Debug("access token is not a readable JWT", "error", err)
		return nil, nil
	}
	expired := info.Expired(time.Now())
	return info, &expired
}

func (a *app) refresh(ctx context.Context) error {
	if _, err := a.session.RefreshToken(ctx); err != nil {
		return err
	}
	info, _ := a.inspect(ctx)
	return a.printJSON(map[string]interface{}{"refreshed": true, "token": info})
}

func (a *app) watch(ctx context.Context) error {
	if _, ok := a.store.(common.ChangeNotifier); !ok {
		return fmt.Errorf("the %s token store cannot report changes from other processes; use redis", a.cfg.TokenStore)
	}
	view, err := a.shell.Start(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("watching credential store", "view", view.String(), "store", a.cfg.TokenStore)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-a.shell.Events():
			out := map[string]interface{}{
				"view":     e.View.String(),
				"external": e.External,
				"at":       time.Now().UTC().Format(time.RFC3339),
			}
			if e.Reason != nil {
				out["reason"] = e.Reason.Error()
			}
			if err := a.printJSON(out); err != nil {
				return err
			}
		}
	}
}

// ----------------------------------------------------------------------
// Admin views
// ----------------------------------------------------------------------

func (a *app) dashboard(ctx context.Context) error {
	out, err := a.admin.Overview(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(out)
}

// listOutput adds the pagination footer to a page of results.
type listOutput struct {
	Data    interface{}      `json:"data"`
	Page    model.Pagination `json:"pagination"`
	Showing string           `json:"showing,omitempty"`
	Pages   []int            `json:"pages,omitempty"`
}

func newListOutput(data interface{}, p model.Pagination, limit int) listOutput {
	out := listOutput{Data: data, Page: p}
	if admin.HasPages(p) {
		out.Showing = admin.ShowingRange(p, limit).String()
		out.Pages = admin.PageWindow(p.CurrentPage, p.TotalPages)
	}
	return out
}

// listFlags are shared by every list command.
type listFlags struct {
	page   *int
	limit  *int
	search *string
	sort   *string
	order  *string
}

func addListFlags(fs *flag.FlagSet) listFlags {
	return listFlags{
		page:   fs.Int("page", 1, "page number"),
		limit:  fs.Int("limit", 0, "items per page (default depends on the list)"),
		search: fs.String("search", "", "free-text search"),
		sort:   fs.String("sort", "", "sort by field, toggling the order when it is already the sort field"),
		order:  fs.String("order", "", "force sort order: asc or desc"),
	}
}

func checkOrder(order string) error {
	if order != "" && order != admin.SortAsc && order != admin.SortDesc {
		return usagef("invalid -order %q", order)
	}
	return nil
}

func (a *app) users(ctx context.Context, args []string) error {
	sub, rest, err := subcommand("users", args)
	if err != nil {
		return err
	}
	fs := a.flags("users " + sub)
	lf := addListFlags(fs)
	status := fs.String("status", "", "pending, approved or rejected")
	role := fs.String("role", "", "user role")
	verified := fs.String("verified", "", "true or false")
	id := fs.String("id", "", "user id")
	reason := fs.String("reason", "", "rejection reason")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	f := admin.DefaultUserFilters()
	for key, value := range map[string]string{
		"search": *lf.search, "status": *status, "role": *role, "isEmailVerified": *verified,
	} {
		if value == "" {
			continue
		}
		if f, err = f.Set(key, value); err != nil {
			return err
		}
	}
	if *lf.limit > 0 {
		f.Limit = *lf.limit
	}
	if *lf.sort != "" {
		f = f.Sort(*lf.sort)
	}
	if err := checkOrder(*lf.order); err != nil {
		return err
	}
	if *lf.order != "" {
		f.SortOrder = *lf.order
	}
	f.Page = *lf.page

	var page *admin.Page[model.UserList]
	switch sub {
	case "list":
		page, err = a.admin.ListUsers(ctx, f)
	case "approve":
		if *id == "" {
			return usagef("users approve: -id is required")
		}
		page, err = a.admin.ApproveAndReload(ctx, *id, f)
	case "reject":
		if *id == "" {
			return usagef("users reject: -id is required")
		}
		page, err = a.admin.RejectAndReload(ctx, *id, *reason, f)
	default:
		return usagef("unknown users subcommand %q", sub)
	}
	if err != nil {
		return err
	}
	return a.printJSON(newListOutput(page.Data, page.Pagination, f.Limit))
}

func (a *app) items(ctx context.Context, args []string) error {
	sub, rest, err := subcommand("items", args)
	if err != nil {
		return err
	}
	if sub != "list" {
		return usagef("unknown items subcommand %q", sub)
	}
	fs := a.flags("items list")
	lf := addListFlags(fs)
	category := fs.String("category", "", strings.Join(admin.HelpItemCategories, ", "))
	active := fs.String("active", "", "true or false")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	f := admin.DefaultHelpItemFilters()
	for key, value := range map[string]string{"search": *lf.search, "category": *category, "active": *active} {
		if value == "" {
			continue
		}
		if f, err = f.Set(key, value); err != nil {
			return err
		}
	}
	if *lf.limit > 0 {
		f.Limit = *lf.limit
	}
	if *lf.sort != "" {
		f = f.Sort(*lf.sort)
	}
	if err := checkOrder(*lf.order); err != nil {
		return err
	}
	if *lf.order != "" {
		f.SortOrder = *lf.order
	}
	f.Page = *lf.page

	page, err := a.admin.ListHelpItems(ctx, f)
	if err != nil {
		return err
	}
	return a.printJSON(newListOutput(page.Data, page.Pagination, f.Limit))
}

// ----------------------------------------------------------------------
// Announcements
// ----------------------------------------------------------------------

// linkFlag collects repeated -link title=url values.
type linkFlag []model.Link

func (l *linkFlag) String() string {
	parts := make([]string, 0, len(*l))
	for _, link := range *l {
		parts = append(parts, link.Title+"="+link.URL)
	}
	return strings.Join(parts, ",")
}

func (l *linkFlag) Set(v string) error {
	title, u, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(u) == "" {
		return fmt.Errorf("link must be title=url, got %q", v)
	}
	*l = append(*l, model.Link{Title: strings.TrimSpace(title), URL: strings.TrimSpace(u)})
	return nil
}

func (a *app) announcements(ctx context.Context, args []string) error {
	sub, rest, err := subcommand("announcements", args)
	if err != nil {
		return err
	}
	fs := a.flags("announcements " + sub)
	lf := addListFlags(fs)
	status := fs.String("status", "", "list filter: announcement status")
	id := fs.String("id", "", "announcement id")

	in := admin.DefaultAnnouncement()
	fs.StringVar(&in.Title, "title", "", "title")
	fs.StringVar(&in.Message, "message", "", "message body")
	fs.StringVar(&in.Type, "type", in.Type, "info, warning, urgent, ...; also a list filter")
	fs.StringVar(&in.Category, "category", in.Category, "category; also a list filter")
	fs.StringVar(&in.TargetAudience, "audience", in.TargetAudience, "target audience")
	fs.BoolVar(&in.IsPinned, "pinned", false, "pin the announcement")
	fs.BoolVar(&in.DisplaySettings.ShowOnDashboard, "dashboard", true, "show on the dashboard")
	fs.BoolVar(&in.DisplaySettings.ShowInNotifications, "notify", true, "show in notifications")
	fs.BoolVar(&in.DisplaySettings.AutoHide, "auto-hide", false, "hide automatically")
	fs.StringVar(&in.Scheduling.PublishAt, "publish-at", "", "publish time, e.g. 2026-07-01T09:30")
	fs.StringVar(&in.Scheduling.ExpireAt, "expire-at", "", "expiry time, e.g. 2026-07-31")
	var links linkFlag
	fs.Var(&links, "link", "title=url, repeatable")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if len(links) > 0 {
		in.Links = links
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	f := admin.DefaultAnnouncementFilters()
	filterValues := map[string]string{"search": *lf.search, "status": *status}
	if set["type"] {
		filterValues["type"] = in.Type
	}
	if set["category"] {
		filterValues["category"] = in.Category
	}
	for key, value := range filterValues {
		if value == "" {
			continue
		}
		if f, err = f.Set(key, value); err != nil {
			return err
		}
	}
	if *lf.limit > 0 {
		f.Limit = *lf.limit
	}
	if *lf.sort != "" {
		f = f.Sort(*lf.sort)
	}
	if err := checkOrder(*lf.order); err != nil {
		return err
	}
	if *lf.order != "" {
		f.SortOrder = *lf.order
	}
	f.Page = *lf.page

	needID := func() error {
		if *id == "" {
			return usagef("announcements %s: -id is required", sub)
		}
		return nil
	}
	needContent := func() error {
		if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
			return usagef("announcements %s: -title and -message are required", sub)
		}
		return nil
	}

	switch sub {
	case "list":
		board, err := a.admin.AnnouncementBoard(ctx, f)
		if err != nil {
			return err
		}
		return a.printBoard(board, f.Limit)
	case "stats":
		stats, err := a.admin.GetAnnouncementStatistics(ctx)
		if err != nil {
			return err
		}
		return a.printJSON(stats)
	case "create":
		if err := needContent(); err != nil {
			return err
		}
		return a.printAction(a.admin.CreateAnnouncement(ctx, in))
	case "update":
		if err := needID(); err != nil {
			return err
		}
		if err := needContent(); err != nil {
			return err
		}
		return a.printAction(a.admin.UpdateAnnouncement(ctx, *id, in))
	case "delete":
		if err := needID(); err != nil {
			return err
		}
		return a.printAction(a.admin.DeleteAnnouncement(ctx, *id))
	case "pin":
		if err := needID(); err != nil {
			return err
		}
		board, err := a.admin.ToggleAnnouncementPinAndReload(ctx, *id, f)
		if err != nil {
			return err
		}
		return a.printBoard(board, f.Limit)
	case "activate":
		if err := needID(); err != nil {
			return err
		}
		board, err := a.admin.ToggleAnnouncementActiveAndReload(ctx, *id, f)
		if err != nil {
			return err
		}
		return a.printBoard(board, f.Limit)
	case "cleanup":
		return a.printAction(a.admin.CleanupExpiredAnnouncements(ctx))
	default:
		return usagef("unknown announcements subcommand %q", sub)
	}
}

func (a *app) printBoard(board *admin.AnnouncementBoard, limit int) error {
	return a.printJSON(map[string]interface{}{
		"statistics":    board.Statistics,
		"announcements": newListOutput(board.Page.Data, board.Page.Pagination, limit),
	})
}

func (a *app) printAction(res *admin.ActionResult, err error) error {
	if err != nil {
		return err
	}
	return a.printJSON(res)
}
