package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/guarzo/crisiscircle/common"
	"github.com/guarzo/crisiscircle/common/model"
	"github.com/guarzo/crisiscircle/modules/auth"
)

// Admin endpoints.
const (
	DashboardPath         = "/api/admin/dashboard"
	UsersPath             = "/api/admin/users"
	HelpItemsPath         = "/api/admin/help-items"
	AnnouncementAdminPath = "/api/announcements/admin"
)

// ApprovalReason is sent with every approval.
const ApprovalReason = "Account approved by admin"

// ErrReasonRequired is returned when a rejection has no reason.
var ErrReasonRequired = errors.New("a reason is required to reject a user")

// APIError is a 2xx response whose envelope says success=false.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "request was not successful"
	}
	return e.Message
}

// ErrorMessage picks the message to show for err: the server's message when
// there is one, then the error text, then fallback.
func ErrorMessage(err error, fallback string) string {
	var httpErr *common.HTTPError
	if errors.As(err, &httpErr) && httpErr.Message != "" {
		return httpErr.Message
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}

// Requester is the part of the session-aware client the admin endpoints use.
type Requester interface {
	Get(ctx context.Context, path string, opts ...auth.RequestOption) (*auth.Response, error)
	Post(ctx context.Context, path string, body interface{}, opts ...auth.RequestOption) (*auth.Response, error)
	Put(ctx context.Context, path string, body interface{}, opts ...auth.RequestOption) (*auth.Response, error)
	Delete(ctx context.Context, path string, opts ...auth.RequestOption) (*auth.Response, error)
}

var _ Requester = (*auth.Client)(nil)

// Page is one page of a list together with the server's pagination.
type Page[T any] struct {
	Data       T                `json:"data"`
	Pagination model.Pagination `json:"pagination"`
}

// ActionResult is the answer to a mutating call. Data is kept raw because
// its shape differs per endpoint.
type ActionResult struct {
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// AdminClient is a lower-level interface to the admin REST endpoints.
type AdminClient interface {
	GetDashboard(ctx context.Context) (*model.Dashboard, error)

	ListUsers(ctx context.Context, filters UserFilters) (*Page[model.UserList], error)
	ApproveUser(ctx context.Context, userID string) (*ActionResult, error)
	RejectUser(ctx context.Context, userID, reason string) (*ActionResult, error)

	ListAnnouncements(ctx context.Context, filters AnnouncementFilters) (*Page[model.AnnouncementList], error)
	GetAnnouncementStatistics(ctx context.Context) (*model.AnnouncementStatistics, error)
	CreateAnnouncement(ctx context.Context, in model.AnnouncementInput) (*ActionResult, error)
	UpdateAnnouncement(ctx context.Context, id string, in model.AnnouncementInput) (*ActionResult, error)
	DeleteAnnouncement(ctx context.Context, id string) (*ActionResult, error)
	ToggleAnnouncementPin(ctx context.Context, id string) (*ActionResult, error)
	ToggleAnnouncementActive(ctx context.Context, id string) (*ActionResult, error)
	CleanupExpiredAnnouncements(ctx context.Context) (*ActionResult, error)

	ListHelpItems(ctx context.Context, filters HelpItemFilters) (*Page[model.HelpItemList], error)
}

// adminClient implements AdminClient.
type adminClient struct {
	api Requester
}

// NewAdminClient constructs an AdminClient over the session-aware client.
func NewAdminClient(api Requester) AdminClient {
	return &adminClient{api: api}
}

// decode unwraps an envelope and turns success=false into *APIError.
func decode[T any](resp *auth.Response) (*model.Envelope[T], error) {
	var env model.Envelope[T]
	if err := resp.JSON(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.Success {
		return nil, &APIError{Message: env.Message}
	}
	return &env, nil
}

func pageOf[T any](env *model.Envelope[T]) *Page[T] {
	p := &Page[T]{Data: env.Data}
	if env.Meta != nil {
		p.Pagination = env.Meta.Pagination
	}
	return p
}

func action(resp *auth.Response, err error) (*ActionResult, error) {
	if err != nil {
		return nil, err
	}
	env, err := decode[json.RawMessage](resp)
	if err != nil {
		return nil, err
	}
	return &ActionResult{Message: env.Message, Data: env.Data}, nil
}

func (c *adminClient) GetDashboard(ctx context.Context) (*model.Dashboard, error) {
	resp, err := c.api.Get(ctx, DashboardPath)
	if err != nil {
		return nil, err
	}
	env, err := decode[model.Dashboard](resp)
	if err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *adminClient) ListUsers(ctx context.Context, filters UserFilters) (*Page[model.UserList], error) {
	resp, err := c.api.Get(ctx, withQuery(UsersPath+"/all", filters.Query()))
	if err != nil {
		return nil, err
	}
	env, err := decode[model.UserList](resp)
	if err != nil {
		return nil, err
	}
	return pageOf(env), nil
}

func (c *adminClient) ApproveUser(ctx context.Context, userID string) (*ActionResult, error) {
	return action(c.api.Put(ctx, userPath(userID, "approve"), model.UserDecision{
		Reason: ApprovalReason,
		UserID: userID,
	}))
}

func (c *adminClient) RejectUser(ctx context.Context, userID, reason string) (*ActionResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	return action(c.api.Put(ctx, userPath(userID, "reject"), model.UserDecision{
		Reason: reason,
		UserID: userID,
	}))
}

func userPath(userID, verb string) string {
	return UsersPath + "/" + url.PathEscape(userID) + "/" + verb
}

func (c *adminClient) ListAnnouncements(ctx context.Context, filters AnnouncementFilters) (*Page[model.AnnouncementList], error) {
	resp, err := c.api.Get(ctx, withQuery(AnnouncementAdminPath+"/all", filters.Query()))
	if err != nil {
		return nil, err
	}
	env, err := decode[model.AnnouncementList](resp)
	if err != nil {
		return nil, err
	}
	return pageOf(env), nil
}

func (c *adminClient) GetAnnouncementStatistics(ctx context.Context) (*model.AnnouncementStatistics, error) {
	resp, err := c.api.Get(ctx, AnnouncementAdminPath+"/statistics")
	if err != nil {
		return nil, err
	}
	env, err := decode[model.AnnouncementStatistics](resp)
	if err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *adminClient) CreateAnnouncement(ctx context.Context, in model.AnnouncementInput) (*ActionResult, error) {
	in, err := PrepareAnnouncement(in, time.Local)
	if err != nil {
		return nil, err
	}
	return action(c.api.Post(ctx, AnnouncementAdminPath+"/create", in))
}

func (c *adminClient) UpdateAnnouncement(ctx context.Context, id string, in model.AnnouncementInput) (*ActionResult, error) {
	in, err := PrepareAnnouncement(in, time.Local)
	if err != nil {
		return nil, err
	}
	return action(c.api.Put(ctx, announcementPath(id, ""), in))
}

func (c *adminClient) DeleteAnnouncement(ctx context.Context, id string) (*ActionResult, error) {
	return action(c.api.Delete(ctx, announcementPath(id, "")))
}

func (c *adminClient) ToggleAnnouncementPin(ctx context.Context, id string) (*ActionResult, error) {
	return action(c.api.Put(ctx, announcementPath(id, "pin"), nil))
}

func (c *adminClient) ToggleAnnouncementActive(ctx context.Context, id string) (*ActionResult, error) {
	return action(c.api.Put(ctx, announcementPath(id, "active"), nil))
}

func (c *adminClient) CleanupExpiredAnnouncements(ctx context.Context) (*ActionResult, error) {
	return action(c.api.Post(ctx, AnnouncementAdminPath+"/cleanup-expired", nil))
}

func announcementPath(id, verb string) string {
	p := AnnouncementAdminPath + "/" + url.PathEscape(id)
	if verb != "" {
		p += "/" + verb
	}
	return p
}

func (c *adminClient) ListHelpItems(ctx context.Context, filters HelpItemFilters) (*Page[model.HelpItemList], error) {
	resp, err := c.api.Get(ctx, withQuery(HelpItemsPath, filters.Query()))
	if err != nil {
		return nil, err
	}
	env, err := decode[model.HelpItemList](resp)
	if err != nil {
		return nil, err
	}
	return pageOf(env), nil
}
