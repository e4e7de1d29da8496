package models

import "time"

// SyncResult summarizes one sync_entity call.
type SyncResult struct {
	Entity        EntityRef     `json:"entity"`
	NewCount      int           `json:"new_count"`
	MediaEnqueued int           `json:"media_enqueued"`
	Cursor        int64         `json:"cursor"`
	Duration      time.Duration `json:"duration"`
}

// PageEvent is emitted once per persisted page. Callers may consume the
// event stream for progress reporting or ignore it entirely.
type PageEvent struct {
	Entity          EntityRef `json:"entity"`
	PageRecordCount int       `json:"page_record_count"`
	TotalNewCount   int       `json:"total_new_count"`
	OldestTimestamp string    `json:"oldest_timestamp,omitempty"`
	Cursor          int64     `json:"cursor"`
}

// Member is a platform member (timeline owner) within a group.
type Member struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Portrait  string `json:"portrait,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Subscription is the state of the user's subscription to a group.
type Subscription struct {
	State string `json:"state"`
}

// GroupInfo is one subscribed group as returned by the platform.
type GroupInfo struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Thumbnail    string        `json:"thumbnail,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// Active reports whether the subscription currently grants access.
func (g *GroupInfo) Active() bool {
	return g.Subscription != nil && g.Subscription.State == "active"
}

// Profile is the authenticated user's own profile.
type Profile struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	Email    string `json:"email,omitempty"`
}

// Announcement is one official news item.
type Announcement struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Tag is a content tag exposed by the platform catalog.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Organization is a platform organization (agency level, above groups).
type Organization struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// FCContent is one fan club content item.
type FCContent struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Product is a purchasable product, subscriptions included.
type Product struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}
