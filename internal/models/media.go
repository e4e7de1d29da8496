package models

// MediaTask is one pending media download. Tasks are created by the sync
// engine and consumed by the media pipeline; they are never persisted.
type MediaTask struct {
	ID              string      `json:"id"`
	SourceURL       string      `json:"source_url"`
	DestinationPath string      `json:"destination_path"`
	MediaType       MessageType `json:"media_type"`
	OwningMessageID int64       `json:"owning_message_id"`
	Entity          EntityRef   `json:"entity"`
}

// Dimensions holds the pixel size extracted from a downloaded media file.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether no dimensions were extracted.
func (d Dimensions) IsZero() bool {
	return d.Width == 0 && d.Height == 0
}
