package errors

import "fmt"

// Session errors

// ErrSessionExpired means the platform has invalidated the session.
// It is terminal: the caller must re-authenticate externally before
// any further API calls can succeed.
type ErrSessionExpired struct {
	Group  string
	Reason string
}

func (e *ErrSessionExpired) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("session expired for %s: %s", e.Group, e.Reason)
	}
	return fmt.Sprintf("session expired for %s", e.Group)
}

// ErrRefreshFailed wraps a refresh attempt that failed for a reason other
// than an invalidated session (network error, 5xx). Retryable from outside.
type ErrRefreshFailed struct {
	Status int
	Err    error
}

func (e *ErrRefreshFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed with status %d", e.Status)
}

func (e *ErrRefreshFailed) Unwrap() error {
	return e.Err
}

// Fetch errors

// ErrTransientFetch is returned after the bounded retry budget for a page
// request is exhausted. The sync cursor is untouched, so the caller may
// safely re-invoke the sync.
type ErrTransientFetch struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ErrTransientFetch) Error() string {
	return fmt.Sprintf("fetch of %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ErrTransientFetch) Unwrap() error {
	return e.Err
}

// ErrUnexpectedStatus reports a non-retryable HTTP status from the platform.
type ErrUnexpectedStatus struct {
	Endpoint string
	Status   int
}

func (e *ErrUnexpectedStatus) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.Endpoint)
}

// Media errors

// ErrMediaExpired means a signed media URL was rejected by the platform.
// Signed URLs are time-limited; only a re-sync of the owning page can mint
// a fresh one, so the pipeline surfaces this instead of retrying.
type ErrMediaExpired struct {
	MessageID int64
	URL       string
}

func (e *ErrMediaExpired) Error() string {
	return fmt.Sprintf("signed media URL expired for message %d", e.MessageID)
}

// ErrMediaDownload reports a media transfer failure that is not a URL expiry.
type ErrMediaDownload struct {
	MessageID int64
	Err       error
}

func (e *ErrMediaDownload) Error() string {
	return fmt.Sprintf("media download failed for message %d: %v", e.MessageID, e.Err)
}

func (e *ErrMediaDownload) Unwrap() error {
	return e.Err
}

// Persistence errors

// ErrPersistence is fatal for the current call. Page persistence and cursor
// advance share one transaction, so no partial state is left behind.
type ErrPersistence struct {
	Operation string
	Err       error
}

func (e *ErrPersistence) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Operation, e.Err)
}

func (e *ErrPersistence) Unwrap() error {
	return e.Err
}

// Credential errors

type ErrCredentialsNotFound struct {
	Group string
}

func (e *ErrCredentialsNotFound) Error() string {
	return fmt.Sprintf("no stored credentials for %s", e.Group)
}

type ErrCredentialsCorrupt struct {
	Group string
	Err   error
}

func (e *ErrCredentialsCorrupt) Error() string {
	return fmt.Sprintf("stored credentials for %s are unreadable: %v", e.Group, e.Err)
}

func (e *ErrCredentialsCorrupt) Unwrap() error {
	return e.Err
}

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}
