package credentials

import (
	"fmt"
	"time"
)

// Bundle holds the credential material captured during an external login.
// The store owns persistence; the token lifecycle holds a working copy and
// writes back only through the store.
type Bundle struct {
	SubjectID    string            `json:"subject_id,omitempty"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	Cookies      map[string]string `json:"cookies,omitempty"`
	AppID        string            `json:"app_id,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	IssuedAt     time.Time         `json:"issued_at"`
}

// Validate checks that the bundle carries enough material to authenticate.
func (b *Bundle) Validate() error {
	if b.AccessToken == "" {
		return fmt.Errorf("access_token is required")
	}
	return nil
}

// CanRefresh reports whether the bundle carries any refresh material.
// Without it a 401 is immediately terminal.
func (b *Bundle) CanRefresh() bool {
	return b.RefreshToken != "" || len(b.Cookies) > 0
}

// Clone returns a deep copy so callers can mutate cookies without racing
// the stored bundle.
func (b *Bundle) Clone() *Bundle {
	clone := *b
	if b.Cookies != nil {
		clone.Cookies = make(map[string]string, len(b.Cookies))
		for k, v := range b.Cookies {
			clone.Cookies[k] = v
		}
	}
	return &clone
}
