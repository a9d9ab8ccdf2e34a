package model

import (
	"encoding/json"
	"time"

	"golang.org/x/oauth2"
)

// JSONUnmarshal is the single decode entry point for API payloads.
func JSONUnmarshal(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}

// ----------------------------------------------------------------------
// Envelope
// ----------------------------------------------------------------------

// Envelope is the response wrapper every CrisisCircle endpoint returns.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Meta carries list metadata.
type Meta struct {
	Pagination Pagination `json:"pagination"`
}

// Pagination as reported by list endpoints.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalItems  int  `json:"totalItems"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

// ----------------------------------------------------------------------
// Auth
// ----------------------------------------------------------------------

// TokenPair is the token payload of login and refresh responses.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// OAuth2 converts the pair to the token type used throughout the client.
func (p TokenPair) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
	}
}

// AuthData is the data section of /api/auth/login and /api/auth/refresh-token.
type AuthData struct {
	Tokens TokenPair `json:"tokens"`
	User   *User     `json:"user,omitempty"`
}

// LoginRequest is posted to /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is posted to /api/auth/refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ----------------------------------------------------------------------
// Users
// ----------------------------------------------------------------------

// User status values.
const (
	UserStatusPending  = "pending"
	UserStatusApproved = "approved"
	UserStatusRejected = "rejected"
)

// User is an account as listed by the admin API.
type User struct {
	ID              string     `json:"_id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone,omitempty"`
	Address         string     `json:"address,omitempty"`
	ZipCode         string     `json:"zipCode,omitempty"`
	Role            string     `json:"role"`
	Status          string     `json:"status"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// StatusCount is one bucket of a group-by-status aggregate.
type StatusCount struct {
	Status string `json:"_id"`
	Count  int    `json:"count"`
}

// UserStats accompanies the user list.
type UserStats struct {
	Total    int           `json:"total"`
	ByStatus []StatusCount `json:"byStatus"`
}

// CountFor returns the count for status, or 0.
func (s UserStats) CountFor(status string) int {
	for _, b := range s.ByStatus {
		if b.Status == status {
			return b.Count
		}
	}
	return 0
}

// UserList is the data section of /api/admin/users/all.
type UserList struct {
	Users []User    `json:"users"`
	Stats UserStats `json:"stats"`
}

// UserDecision is the body of the approve and reject calls.
type UserDecision struct {
	Reason string `json:"reason"`
	UserID string `json:"userId"`
}

// ----------------------------------------------------------------------
// Announcements
// ----------------------------------------------------------------------

// DisplaySettings controls where an announcement shows up.
type DisplaySettings struct {
	ShowOnDashboard     bool `json:"showOnDashboard"`
	ShowInNotifications bool `json:"showInNotifications"`
	AutoHide            bool `json:"autoHide"`
}

// Scheduling holds optional publish and expiry instants, RFC 3339 encoded.
type Scheduling struct {
	PublishAt string `json:"publishAt,omitempty"`
	ExpireAt  string `json:"expireAt,omitempty"`
}

// Link is an external link attached to an announcement.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// AnnouncementInput is the writable part of an announcement.
type AnnouncementInput struct {
	Title           string          `json:"title"`
	Message         string          `json:"message"`
	Type            string          `json:"type"`
	Category        string          `json:"category"`
	IsPinned        bool            `json:"isPinned"`
	TargetAudience  string          `json:"targetAudience"`
	DisplaySettings DisplaySettings `json:"displaySettings"`
	Scheduling      Scheduling      `json:"scheduling"`
	Links           []Link          `json:"links"`
}

// Announcement as returned by the admin API.
type Announcement struct {
	AnnouncementInput
	ID        string    `json:"_id"`
	IsActive  bool      `json:"isActive"`
	Views     int       `json:"views,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AnnouncementList is the data section of /api/announcements/admin/all.
type AnnouncementList struct {
	Announcements []Announcement `json:"announcements"`
}

// AnnouncementStatistics is the data section of /api/announcements/admin/statistics.
type AnnouncementStatistics struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Pinned     int `json:"pinned"`
	TotalViews int `json:"totalViews"`
}

// ----------------------------------------------------------------------
// Help items
// ----------------------------------------------------------------------

// Creator identifies who added a help item.
type Creator struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// HelpItem is one entry of the help-item inventory.
type HelpItem struct {
	ID                  string    `json:"_id"`
	Name                string    `json:"name"`
	Category            string    `json:"category"`
	Priority            string    `json:"priority,omitempty"`
	DefaultQuantityUnit string    `json:"defaultQuantityUnit,omitempty"`
	Tags                []string  `json:"tags"`
	IsActive            bool      `json:"isActive"`
	CreatedBy           *Creator  `json:"createdBy,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// HelpItemList is the data section of /api/admin/help-items.
type HelpItemList struct {
	Items []HelpItem `json:"items"`
}

// ----------------------------------------------------------------------
// Dashboard
// ----------------------------------------------------------------------

type UserTotals struct {
	Total        int     `json:"total"`
	Recent       int     `json:"recent"`
	Pending      int     `json:"pending"`
	Approved     int     `json:"approved"`
	ApprovalRate float64 `json:"approvalRate"`
}

type HelpRequestTotals struct {
	Total          int     `json:"total"`
	Recent         int     `json:"recent"`
	Open           int     `json:"open"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completionRate"`
}

// CategoryCount is a per-category item total.
type CategoryCount struct {
	Category   string `json:"_id"`
	TotalItems int    `json:"totalItems"`
}

type HelpItemTotals struct {
	Total      int             `json:"total"`
	Active     int             `json:"active"`
	Statistics []CategoryCount `json:"statistics"`
}

type AnnouncementTotals struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// Dashboard is the data section of /api/admin/dashboard.
type Dashboard struct {
	Users         UserTotals         `json:"users"`
	HelpRequests  HelpRequestTotals  `json:"helpRequests"`
	HelpItems     HelpItemTotals     `json:"helpItems"`
	Announcements AnnouncementTotals `json:"announcements"`
	LastUpdated   *time.Time         `json:"lastUpdated,omitempty"`
}
