package admin

import (
	"fmt"
	"strings"
	"time"

	"github.com/guarzo/crisiscircle/common/model"
)

// Announcement defaults.
const (
	DefaultAnnouncementType     = "info"
	DefaultAnnouncementCategory = "general"
	DefaultTargetAudience       = "approved_users"
)

// scheduleLayout is the UTC timestamp format the API stores.
const scheduleLayout = "2006-01-02T15:04:05.000Z"

// scheduleInputLayouts are accepted for publishAt and expireAt. Layouts
// without a zone are read in the caller's location.
var scheduleInputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// DefaultAnnouncement returns the starting point of a new announcement.
func DefaultAnnouncement() model.AnnouncementInput {
	return model.AnnouncementInput{
		Type:           DefaultAnnouncementType,
		Category:       DefaultAnnouncementCategory,
		TargetAudience: DefaultTargetAudience,
		DisplaySettings: model.DisplaySettings{
			ShowOnDashboard:     true,
			ShowInNotifications: true,
			AutoHide:            false,
		},
		Links: []model.Link{},
	}
}

// PrepareAnnouncement fills empty enumerations with their defaults and
// rewrites the schedule as UTC timestamps.
func PrepareAnnouncement(in model.AnnouncementInput, loc *time.Location) (model.AnnouncementInput, error) {
	if in.Type == "" {
		in.Type = DefaultAnnouncementType
	}
	if in.Category == "" {
		in.Category = DefaultAnnouncementCategory
	}
	if in.TargetAudience == "" {
		in.TargetAudience = DefaultTargetAudience
	}
	if in.Links == nil {
		in.Links = []model.Link{}
	}

	var err error
	if in.Scheduling.PublishAt, err = NormalizeScheduleTime(in.Scheduling.PublishAt, loc); err != nil {
		return in, fmt.Errorf("publishAt: %w", err)
	}
	if in.Scheduling.ExpireAt, err = NormalizeScheduleTime(in.Scheduling.ExpireAt, loc); err != nil {
		return in, fmt.Errorf("expireAt: %w", err)
	}
	return in, nil
}

// NormalizeScheduleTime parses value and formats it in UTC. Empty stays empty.
func NormalizeScheduleTime(value string, loc *time.Location) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range scheduleInputLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC().Format(scheduleLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognised time %q", value)
}
