package admin

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/guarzo/crisiscircle/common"
	"github.com/guarzo/crisiscircle/common/model"
)

// Overview is the landing view: the dashboard aggregate and announcement statistics.
type Overview struct {
	Dashboard     *model.Dashboard              `json:"dashboard"`
	Announcements *model.AnnouncementStatistics `json:"announcements"`
}

// AnnouncementBoard is the announcement page: one page of the list plus statistics.
type AnnouncementBoard struct {
	Page       *Page[model.AnnouncementList] `json:"page"`
	Statistics *model.AnnouncementStatistics `json:"statistics"`
}

// AdminService is a higher-level interface that combines AdminClient calls
// the way the admin screens use them.
type AdminService interface {
	AdminClient

	Overview(ctx context.Context) (*Overview, error)
	AnnouncementBoard(ctx context.Context, filters AnnouncementFilters) (*AnnouncementBoard, error)
	ApproveAndReload(ctx context.Context, userID string, filters UserFilters) (*Page[model.UserList], error)
	RejectAndReload(ctx context.Context, userID, reason string, filters UserFilters) (*Page[model.UserList], error)
	ToggleAnnouncementPinAndReload(ctx context.Context, id string, filters AnnouncementFilters) (*AnnouncementBoard, error)
	ToggleAnnouncementActiveAndReload(ctx context.Context, id string, filters AnnouncementFilters) (*AnnouncementBoard, error)
}

// adminService is the concrete struct implementing AdminService.
type adminService struct {
	AdminClient
	logger *slog.Logger
}

// NewAdminService constructs an adminService using the given client & logger.
func NewAdminService(client AdminClient, logger *slog.Logger) AdminService {
	if logger == nil {
		logger = common.DiscardLogger()
	}
	return &adminService{
		AdminClient: client,
		logger:      logger,
	}
}

// Overview fetches the dashboard and announcement statistics concurrently.
func (svc *adminService) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := svc.GetDashboard(gctx)
		if err != nil {
			svc.logger.Error("error fetching dashboard data", "error", err)
			return err
		}
		out.Dashboard = d
		return nil
	})
	g.Go(func() error {
		s, err := svc.GetAnnouncementStatistics(gctx)
		if err != nil {
			svc.logger.Error("error fetching statistics", "error", err)
			return err
		}
		out.Announcements = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnnouncementBoard fetches one page of announcements and the statistics concurrently.
func (svc *adminService) AnnouncementBoard(ctx context.Context, filters AnnouncementFilters) (*AnnouncementBoard, error) {
	var out AnnouncementBoard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := svc.ListAnnouncements(gctx, filters)
		if err != nil {
			svc.logger.Error("error fetching announcements", "error", err)
			return err
		}
		out.Page = p
		return nil
	})
	g.Go(func() error {
		s, err := svc.GetAnnouncementStatistics(gctx)
		if err != nil {
			svc.logger.Error("error fetching statistics", "error", err)
			return err
		}
		out.Statistics = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveAndReload approves a user, then reloads the list so the stats are current.
func (svc *adminService) ApproveAndReload(ctx context.Context, userID string, filters UserFilters) (*Page[model.UserList], error) {
	if _, err := svc.ApproveUser(ctx, userID); err != nil {
		svc.logger.Error("error approving user", "user_id", userID, "error", err)
		return nil, err
	}
	return svc.ListUsers(ctx, filters)
}

// RejectAndReload rejects a user, then reloads the list.
func (svc *adminService) RejectAndReload(ctx context.Context, userID, reason string, filters UserFilters) (*Page[model.UserList], error) {
	if _, err := svc.RejectUser(ctx, userID, reason); err != nil {
		svc.logger.Error("error rejecting user", "user_id", userID, "error", err)
		return nil, err
	}
	return svc.ListUsers(ctx, filters)
}

func (svc *adminService) ToggleAnnouncementPinAndReload(ctx context.Context, id string, filters AnnouncementFilters) (*AnnouncementBoard, error) {
	if _, err := svc.ToggleAnnouncementPin(ctx, id); err != nil {
		svc.logger.Error("error toggling pin", "announcement_id", id, "error", err)
		return nil, err
	}
	return svc.AnnouncementBoard(ctx, filters)
}

func (svc *adminService) ToggleAnnouncementActiveAndReload(ctx context.Context, id string, filters AnnouncementFilters) (*AnnouncementBoard, error) {
	if _, err := svc.ToggleAnnouncementActive(ctx, id); err != nil {
		svc.logger.Error("error toggling active status", "announcement_id", id, "error", err)
		return nil, err
	}
	return svc.AnnouncementBoard(ctx, filters)
}
