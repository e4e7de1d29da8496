package fetcher

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hakosync/hakosync/internal/auth"
	"github.com/hakosync/hakosync/internal/errors"
	"github.com/hakosync/hakosync/internal/logging"
	"github.com/hakosync/hakosync/internal/models"
	"github.com/hakosync/hakosync/pkg/headers"
)

const maxBackoff = 30 * time.Second

// Config controls page size and transient-failure retry behaviour.
type Config struct {
	PageSize      int
	RetryAttempts int
	RetryBackoff  time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:      200,
		RetryAttempts: 3,
		RetryBackoff:  time.Second,
	}
}

// Client performs authorized platform reads through a token lifecycle.
// Timeline pages are retrieved newest-first with a continuation token;
// transient failures are retried with exponential backoff before being
// surfaced as ErrTransientFetch.
type Client struct {
	group  models.Group
	auth   *auth.Lifecycle
	logger *logging.Logger

	pageSize      int
	retryAttempts int
	retryBackoff  time.Duration
}

// NewClient creates a fetch client for one group.
func NewClient(group models.Group, lifecycle *auth.Lifecycle, cfg Config, logger *logging.Logger) *Client {
	def := DefaultConfig()
	if cfg.PageSize <= 0 || cfg.PageSize > 200 {
		cfg.PageSize = def.PageSize
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return &Client{
		group:         group,
		auth:          lifecycle,
		logger:        logger,
		pageSize:      cfg.PageSize,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoff,
	}
}

type timelineResponse struct {
	Messages     []models.RawMessage `json:"messages"`
	Continuation string              `json:"continuation"`
}

// FetchPage retrieves one timeline page for the group. An empty
// continuation requests the newest page.
func (c *Client) FetchPage(ctx context.Context, groupID int64, continuation string) (*models.RecordPage, error) {
	endpoint := fmt.Sprintf("/groups/%d/timeline", groupID)
	query := url.Values{
		"count": {strconv.Itoa(c.pageSize)},
		"order": {"desc"},
	}
	if continuation != "" {
		query.Set("continuation", continuation)
	}

	var resp timelineResponse
	if err := c.getJSON(ctx, endpoint, query, &resp); err != nil {
		return nil, err
	}

	page := &models.RecordPage{
		Messages:     resp.Messages,
		Continuation: resp.Continuation,
		// An absent or unchanged continuation means the timeline is
		// exhausted.
		HasMore: resp.Continuation != "" && resp.Continuation != continuation,
	}
	return page, nil
}

// Timeline returns a pager positioned at the newest page of the group's
// timeline.
func (c *Client) Timeline(groupID int64) *Pager {
	return &Pager{client: c, groupID: groupID}
}

// Pager walks a group timeline newest-first, one page per Next call.
// It is not safe for concurrent use.
type Pager struct {
	client  *Client
	groupID int64

	continuation string
	done         bool
	started      bool
}

// Next fetches the next page. It returns nil with no error once the
// timeline is exhausted.
func (p *Pager) Next(ctx context.Context) (*models.RecordPage, error) {
	if p.done {
		return nil, nil
	}
	page, err := p.client.FetchPage(ctx, p.groupID, p.continuation)
	if err != nil {
		return nil, err
	}
	if p.started && len(page.Messages) == 0 {
		p.done = true
		return nil, nil
	}
	p.started = true
	p.continuation = page.Continuation
	if !page.HasMore {
		p.done = true
	}
	return page, nil
}

// Profile retrieves the authenticated user's profile.
func (c *Client) Profile(ctx context.Context) (*models.Profile, error) {
	var profile models.Profile
	if err := c.getJSON(ctx, "/profile", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Groups lists the user's subscribed groups.
func (c *Client) Groups(ctx context.Context) ([]models.GroupInfo, error) {
	var resp struct {
		Groups []models.GroupInfo `json:"groups"`
	}
	query := url.Values{"organization_id": {"1"}}
	if err := c.getJSON(ctx, "/groups", query, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// Members lists the members of one group.
func (c *Client) Members(ctx context.Context, groupID int64) ([]models.Member, error) {
	var resp struct {
		Members []models.Member `json:"members"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/groups/%d/members", groupID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// News lists official announcements, newest first.
func (c *Client) News(ctx context.Context, count int) ([]models.Announcement, error) {
	if count <= 0 {
		count = 20
	}
	var resp struct {
		Announcements []models.Announcement `json:"announcements"`
	}
	query := url.Values{
		"platform": {"web"},
		"count":    {strconv.Itoa(count)},
	}
	if err := c.getJSON(ctx, "/announcements", query, &resp); err != nil {
		return nil, err
	}
	return resp.Announcements, nil
}

// Tags lists the platform's content tags.
func (c *Client) Tags(ctx context.Context) ([]models.Tag, error) {
	var resp struct {
		Tags []models.Tag `json:"tags"`
	}
	if err := c.getJSON(ctx, "/tags", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

// Organizations lists the platform organizations.
func (c *Client) Organizations(ctx context.Context) ([]models.Organization, error) {
	var resp struct {
		Organizations []models.Organization `json:"organizations"`
	}
	if err := c.getJSON(ctx, "/organizations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Organizations, nil
}

// FCContents lists fan club contents for one organization.
func (c *Client) FCContents(ctx context.Context, organizationID int64) ([]models.FCContent, error) {
	var resp struct {
		Contents []models.FCContent `json:"contents"`
	}
	query := url.Values{"organization_id": {strconv.FormatInt(organizationID, 10)}}
	if err := c.getJSON(ctx, "/fc-contents", query, &resp); err != nil {
		return nil, err
	}
	return resp.Contents, nil
}

// Products lists purchasable products, optionally filtered by type.
func (c *Client) Products(ctx context.Context, productType string) ([]models.Product, error) {
	var resp struct {
		Products []models.Product `json:"products"`
	}
	var query url.Values
	if productType != "" {
		query = url.Values{"type": {productType}}
	}
	if err := c.getJSON(ctx, "/products", query, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

// getJSON performs an authorized GET with retry on transient failures
// and decodes the response body into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	target := c.group.Config().APIBase + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	var retryAfter time.Duration
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(c.retryBackoff, attempt-1)
			if retryAfter > delay {
				delay = retryAfter
			}
			retryAfter = 0
			if err := sleepContext(ctx, delay); err != nil {
				return err
			}
			c.logger.DebugWithContext(ctx, "retrying fetch",
				"endpoint", endpoint,
				"attempt", attempt,
			)
		}

		resp, err := c.auth.Authorize(ctx, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		})
		if err != nil {
			if !isTransient(err) {
				return err
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = readErr
				continue
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s response: %w", endpoint, err)
			}
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			if d, ok := retryAfterHint(resp.Header); ok {
				retryAfter = d
			}
			lastErr = &errors.ErrUnexpectedStatus{Endpoint: endpoint, Status: resp.StatusCode}
			continue
		default:
			return &errors.ErrUnexpectedStatus{Endpoint: endpoint, Status: resp.StatusCode}
		}
	}

	return &errors.ErrTransientFetch{
		Endpoint: endpoint,
		Attempts: c.retryAttempts,
		Err:      lastErr,
	}
}

// isTransient reports whether a transport-level error is worth a retry.
// Session and protocol failures from the lifecycle are not, nor is a
// cancelled context.
func isTransient(err error) bool {
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	var expired *errors.ErrSessionExpired
	if stderrors.As(err, &expired) {
		return false
	}
	var refresh *errors.ErrRefreshFailed
	if stderrors.As(err, &refresh) {
		return false
	}
	var status *errors.ErrUnexpectedStatus
	if stderrors.As(err, &status) {
		return status.Status >= 500 || status.Status == http.StatusTooManyRequests
	}
	return true
}

// retryAfterHint reads the server's Retry-After pacing hint, clamped to
// maxBackoff. A hint longer than the cap still delays the full cap
// rather than being ignored.
func retryAfterHint(h http.Header) (time.Duration, bool) {
	d, ok := headers.RetryAfter(h)
	if !ok {
		return 0, false
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d, true
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
