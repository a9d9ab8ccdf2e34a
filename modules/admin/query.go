package admin

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Sort orders.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// queryBuilder keeps keys in insertion order, unlike url.Values.Encode.
type queryBuilder struct {
	parts []string
}

func (q *queryBuilder) add(key, value string) {
	if value == "" {
		return
	}
	q.parts = append(q.parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
}

func (q *queryBuilder) addInt(key string, value int) {
	if value <= 0 {
		return
	}
	q.add(key, strconv.Itoa(value))
}

func (q *queryBuilder) encode() string {
	return strings.Join(q.parts, "&")
}

// withQuery appends an encoded query string to path, if there is one.
func withQuery(path, query string) string {
	if query == "" {
		return path
	}
	return path + "?" + query
}

// toggleSort returns the order after clicking field: a second click on an
// ascending column flips it to descending, anything else sorts ascending.
func toggleSort(currentBy, currentOrder, field string) string {
	if currentBy == field && currentOrder == SortAsc {
		return SortDesc
	}
	return SortAsc
}

// UnknownFilterError is returned when a filter key is not known to a list.
type UnknownFilterError struct {
	Key string
}

func (e *UnknownFilterError) Error() string {
	return fmt.Sprintf("unknown filter %q", e.Key)
}

// ----------------------------------------------------------------------
// Users
// ----------------------------------------------------------------------

// UserFilters are the query parameters of the user list.
type UserFilters struct {
	Page            int    `json:"page"`
	Limit           int    `json:"limit"`
	Search          string `json:"search,omitempty"`
	Status          string `json:"status,omitempty"`
	Role            string `json:"role,omitempty"`
	IsEmailVerified string `json:"isEmailVerified,omitempty"`
	SortBy          string `json:"sortBy"`
	SortOrder       string `json:"sortOrder"`
}

func DefaultUserFilters() UserFilters {
	return UserFilters{Page: 1, Limit: 10, SortBy: "createdAt", SortOrder: SortDesc}
}

// Query encodes the filters in their fixed order, skipping empty values.
func (f UserFilters) Query() string {
	var q queryBuilder
	q.addInt("page", f.Page)
	q.addInt("limit", f.Limit)
	q.add("search", f.Search)
	q.add("status", f.Status)
	q.add("role", f.Role)
	q.add("isEmailVerified", f.IsEmailVerified)
	q.add("sortBy", f.SortBy)
	q.add("sortOrder", f.SortOrder)
	return q.encode()
}

// Set changes one filter and goes back to the first page.
func (f UserFilters) Set(key, value string) (UserFilters, error) {
	switch key {
	case "search":
		f.Search = value
	case "status":
		f.Status = value
	case "role":
		f.Role = value
	case "isEmailVerified":
		f.IsEmailVerified = value
	case "limit":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", value)
		}
		f.Limit = n
	default:
		return f, &UnknownFilterError{Key: key}
	}
	f.Page = 1
	return f, nil
}

// Sort sorts by field and goes back to the first page.
func (f UserFilters) Sort(field string) UserFilters {
	f.SortOrder = toggleSort(f.SortBy, f.SortOrder, field)
	f.SortBy = field
	f.Page = 1
	return f
}

// ----------------------------------------------------------------------
// Announcements
// ----------------------------------------------------------------------

// AnnouncementFilters are the query parameters of the announcement list.
type AnnouncementFilters struct {
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	Status    string `json:"status,omitempty"`
	Category  string `json:"category,omitempty"`
	Type      string `json:"type,omitempty"`
	Search    string `json:"search,omitempty"`
	SortBy    string `json:"sortBy"`
	SortOrder string `json:"sortOrder"`
}

func DefaultAnnouncementFilters() AnnouncementFilters {
	return AnnouncementFilters{Page: 1, Limit: 10, SortBy: "createdAt", SortOrder: SortDesc}
}

func (f AnnouncementFilters) Query() string {
	var q queryBuilder
	q.addInt("page", f.Page)
	q.addInt("limit", f.Limit)
	q.add("status", f.Status)
	q.add("category", f.Category)
	q.add("type", f.Type)
	q.add("search", f.Search)
	q.add("sortBy", f.SortBy)
	q.add("sortOrder", f.SortOrder)
	return q.encode()
}

func (f AnnouncementFilters) Set(key, value string) (AnnouncementFilters, error) {
	switch key {
	case "status":
		f.Status = value
	case "category":
		f.Category = value
	case "type":
		f.Type = value
	case "search":
		f.Search = value
	case "limit":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", value)
		}
		f.Limit = n
	default:
		return f, &UnknownFilterError{Key: key}
	}
	f.Page = 1
	return f, nil
}

func (f AnnouncementFilters) Sort(field string) AnnouncementFilters {
	f.SortOrder = toggleSort(f.SortBy, f.SortOrder, field)
	f.SortBy = field
	f.Page = 1
	return f
}

// ----------------------------------------------------------------------
// Help items
// ----------------------------------------------------------------------

// HelpItemCategories are the categories the inventory is filtered by.
var HelpItemCategories = []string{"food", "clothing", "medical", "household", "education"}

// HelpItemFilters are the query parameters of the help-item list.
type HelpItemFilters struct {
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	Search    string `json:"search,omitempty"`
	Category  string `json:"category,omitempty"`
	Active    string `json:"active,omitempty"`
	SortBy    string `json:"sortBy"`
	SortOrder string `json:"sortOrder"`
}

func DefaultHelpItemFilters() HelpItemFilters {
	return HelpItemFilters{Page: 1, Limit: 20, SortBy: "name", SortOrder: SortAsc}
}

func (f HelpItemFilters) Query() string {
	var q queryBuilder
	q.addInt("page", f.Page)
	q.addInt("limit", f.Limit)
	q.add("search", f.Search)
	q.add("category", f.Category)
	q.add("active", f.Active)
	q.add("sortBy", f.SortBy)
	q.add("sortOrder", f.SortOrder)
	return q.encode()
}

func (f HelpItemFilters) Set(key, value string) (HelpItemFilters, error) {
	switch key {
	case "search":
		f.Search = value
	case "category":
		f.Category = value
	case "active":
		f.Active = value
	case "limit":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", value)
		}
		f.Limit = n
	default:
		return f, &UnknownFilterError{Key: key}
	}
	f.Page = 1
	return f, nil
}

func (f HelpItemFilters) Sort(field string) HelpItemFilters {
	f.SortOrder = toggleSort(f.SortBy, f.SortOrder, field)
	f.SortBy = field
	f.Page = 1
	return f
}
