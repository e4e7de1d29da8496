package models

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// MessageType is the normalized media classification of a message.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessagePicture MessageType = "picture"
	MessageVideo   MessageType = "video"
	MessageVoice   MessageType = "voice"
)

// NormalizeMessageType maps the raw API type values onto the four
// normalized types. Unknown values fall back to text.
func NormalizeMessageType(raw string) MessageType {
	switch raw {
	case "image", "picture":
		return MessagePicture
	case "video", "movie":
		return MessageVideo
	case "voice":
		return MessageVoice
	default:
		return MessageText
	}
}

// RawMessage is one timeline entry exactly as the platform delivers it.
type RawMessage struct {
	ID          int64  `json:"id"`
	MemberID    int64  `json:"member_id"`
	Type        string `json:"type"`
	Text        string `json:"text"`
	PublishedAt string `json:"published_at"`
	File        string `json:"file"`
	Thumbnail   string `json:"thumbnail"`
	IsFavorite  bool   `json:"is_favorite"`
}

// MediaURL returns the signed media URL of the message, preferring the
// full file over the thumbnail. Empty for plain text messages.
func (m *RawMessage) MediaURL() string {
	if m.File != "" {
		return m.File
	}
	return m.Thumbnail
}

// MessageRecord is the persisted, normalized form of a message.
// Width and Height start unset and are filled exactly once by the media
// pipeline; all other fields are immutable once written.
type MessageRecord struct {
	ID         int64       `json:"id"`
	GroupID    int64       `json:"group_id"`
	MemberID   int64       `json:"member_id"`
	Type       MessageType `json:"type"`
	Body       string      `json:"body,omitempty"`
	Timestamp  string      `json:"timestamp,omitempty"`
	IsFavorite bool        `json:"is_favorite,omitempty"`
	MediaURL   string      `json:"-"`
	MediaFile  string      `json:"media_file,omitempty"`
	Width      int         `json:"width,omitempty"`
	Height     int         `json:"height,omitempty"`
}

// NormalizeMessage converts a raw timeline entry into a MessageRecord.
func NormalizeMessage(groupID int64, raw *RawMessage) MessageRecord {
	return MessageRecord{
		ID:         raw.ID,
		GroupID:    groupID,
		MemberID:   raw.MemberID,
		Type:       NormalizeMessageType(raw.Type),
		Body:       raw.Text,
		Timestamp:  raw.PublishedAt,
		IsFavorite: raw.IsFavorite,
		MediaURL:   raw.MediaURL(),
	}
}

// RecordPage is one page of raw messages plus the continuation token for
// the next page. HasMore is false on the final page.
type RecordPage struct {
	Messages     []RawMessage
	Continuation string
	HasMore      bool
}

// OldestTimestamp returns the published_at of the last message in the
// page. With the platform's newest-first ordering this is the page's
// oldest entry, which is what progress reporting wants.
func (p *RecordPage) OldestTimestamp() string {
	if len(p.Messages) == 0 {
		return ""
	}
	return p.Messages[len(p.Messages)-1].PublishedAt
}

// SortRecordsAscending orders records by strictly ascending id. The
// platform usually delivers newest-first, but the ordering is not
// documented as stable across entity types, so callers re-sort before
// persisting instead of trusting upstream order.
func SortRecordsAscending(records []MessageRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
}

// mediaExtensions maps raw API types to the default file extension used
// when the URL path does not carry a recognizable one.
var mediaExtensions = map[string]string{
	"image": "jpg", "picture": "jpg",
	"voice": "m4a",
	"movie": "mp4", "video": "mp4",
}

var knownExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
	"m4a": true, "mp3": true, "wav": true,
	"mp4": true, "mov": true, "webm": true,
}

// MediaExtension determines the file extension (no dot) from the URL
// path, falling back to the per-type default.
func MediaExtension(rawURL, rawType string) string {
	if rawURL != "" {
		if parsed, err := url.Parse(rawURL); err == nil {
			path := parsed.Path
			if idx := strings.LastIndex(path, "."); idx >= 0 {
				ext := strings.ToLower(path[idx+1:])
				if knownExtensions[ext] {
					return ext
				}
			}
		}
	}
	if ext, ok := mediaExtensions[rawType]; ok {
		return ext
	}
	return "bin"
}

// SanitizeName makes a group or member name filesystem-safe while keeping
// spaces for readability.
func SanitizeName(name string) string {
	return strings.TrimSpace(strings.ReplaceAll(name, "/", "_"))
}

// EntityRef identifies one (group, member) pair whose history is
// synchronized independently.
type EntityRef struct {
	GroupID  int64
	MemberID int64
}

func (e EntityRef) Key() string {
	return fmt.Sprintf("%d_%d", e.GroupID, e.MemberID)
}

func (e EntityRef) String() string {
	return e.Key()
}
