package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/hakosync/hakosync/internal/errors"
	"github.com/hakosync/hakosync/internal/logging"
	"github.com/hakosync/hakosync/internal/metrics"
	"github.com/hakosync/hakosync/internal/models"
	"github.com/hakosync/hakosync/internal/store"
)

// Pager yields timeline pages newest-first, nil once exhausted.
type Pager interface {
	Next(ctx context.Context) (*models.RecordPage, error)
}

// Source is the slice of the fetch client the engine drives.
type Source interface {
	Timeline(groupID int64) Pager
	Members(ctx context.Context, groupID int64) ([]models.Member, error)
}

// Config controls engine pacing and media layout.
type Config struct {
	// MediaDir is the root under which per-member media directories live.
	MediaDir string
	// PageInterval is the pause between consecutive page fetches.
	PageInterval time.Duration
}

// Engine mirrors one entity's remote message history into the local
// store. Sync is incremental: only records above the persisted watermark
// are fetched and appended, and the watermark advances only after the
// records it covers are durable.
type Engine struct {
	source  Source
	store   store.Store
	logger  *logging.Logger
	metrics *metrics.Metrics
	cfg     Config

	onPage func(models.PageEvent)

	// namesMu guards memberNames; entities sync concurrently on one engine.
	namesMu     stdsync.Mutex
	memberNames map[int64]map[int64]string
}

// NewEngine creates a sync engine. metrics may be nil.
func NewEngine(source Source, st store.Store, cfg Config, logger *logging.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Engine{
		source:      source,
		store:       st,
		logger:      logger,
		metrics:     m,
		cfg:         cfg,
		memberNames: make(map[int64]map[int64]string),
	}
}

// SetOnPage registers a per-page progress callback. The callback runs on
// the sync goroutine after each durable page.
func (e *Engine) SetOnPage(fn func(models.PageEvent)) {
	e.onPage = fn
}

// SyncEntity brings one (group, member) pair up to date and returns the
// media tasks for any new records carrying media. The caller decides
// whether and when to run them; sync success does not depend on media.
func (e *Engine) SyncEntity(ctx context.Context, entity models.EntityRef) (*models.SyncResult, []models.MediaTask, error) {
	start := time.Now()
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())

	cursor, err := e.store.Cursor(entity)
	if err != nil {
		return nil, nil, err
	}

	e.logger.InfoWithContext(ctx, "sync started",
		"group_id", entity.GroupID,
		"member_id", entity.MemberID,
		"cursor", cursor,
	)

	pages, err := e.collectPages(ctx, entity, cursor)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordSyncError(errorType(err))
		}
		return nil, nil, err
	}

	memberDir := e.memberDir(ctx, entity)

	result := &models.SyncResult{Entity: entity, Cursor: cursor}
	var tasks []models.MediaTask

	// Pages arrive newest-first; persisting oldest-first keeps the
	// watermark honest, so an interrupted run resumes without gaps.
	for i := len(pages) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		records := e.newRecords(pages[i], entity, cursor)
		if len(records) == 0 {
			continue
		}

		pageTasks := e.attachMedia(records, entity, memberDir)

		pageCursor := records[len(records)-1].ID
		inserted, err := e.store.AppendPage(entity, records, pageCursor)
		if err != nil {
			return nil, nil, err
		}

		result.NewCount += inserted
		result.Cursor = pageCursor
		tasks = append(tasks, pageTasks...)

		if e.metrics != nil {
			e.metrics.RecordPagePersisted(entity.GroupID, inserted)
		}
		if e.onPage != nil {
			e.onPage(models.PageEvent{
				Entity:          entity,
				PageRecordCount: len(records),
				TotalNewCount:   result.NewCount,
				OldestTimestamp: records[0].Timestamp,
				Cursor:          pageCursor,
			})
		}
	}

	result.MediaEnqueued = len(tasks)
	result.Duration = time.Since(start)
	if e.metrics != nil {
		e.metrics.ObserveSyncDuration(entity.GroupID, result.Duration.Seconds())
	}

	e.logger.InfoWithContext(ctx, "sync finished",
		"group_id", entity.GroupID,
		"member_id", entity.MemberID,
		"new_count", result.NewCount,
		"media_enqueued", result.MediaEnqueued,
		"cursor", result.Cursor,
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, tasks, nil
}

// collectPages walks the timeline newest-first and stops at the first
// page that reaches the watermark. Nothing is persisted here.
func (e *Engine) collectPages(ctx context.Context, entity models.EntityRef, cursor int64) ([]*models.RecordPage, error) {
	var pages []*models.RecordPage
	pager := e.source.Timeline(entity.GroupID)

	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		if page == nil {
			break
		}
		if e.metrics != nil {
			e.metrics.RecordPageFetched(entity.GroupID)
		}
		if len(page.Messages) == 0 {
			break
		}
		pages = append(pages, page)

		if pageReachesCursor(page, cursor) || !page.HasMore {
			break
		}

		if e.cfg.PageInterval > 0 {
			timer := time.NewTimer(e.cfg.PageInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return pages, nil
}

func errorType(err error) string {
	var expired *errors.ErrSessionExpired
	if stderrors.As(err, &expired) {
		return "session_expired"
	}
	var transient *errors.ErrTransientFetch
	if stderrors.As(err, &transient) {
		return "transient"
	}
	return "other"
}

func pageReachesCursor(page *models.RecordPage, cursor int64) bool {
	if cursor == 0 {
		return false
	}
	for _, m := range page.Messages {
		if m.ID <= cursor {
			return true
		}
	}
	return false
}

// newRecords filters a raw page to the target member's unseen records,
// normalized and sorted ascending.
func (e *Engine) newRecords(page *models.RecordPage, entity models.EntityRef, cursor int64) []models.MessageRecord {
	var records []models.MessageRecord
	for i := range page.Messages {
		raw := &page.Messages[i]
		if raw.MemberID != entity.MemberID {
			continue
		}
		// A record at the watermark is boundary re-delivery, already
		// persisted.
		if raw.ID <= cursor {
			continue
		}
		records = append(records, models.NormalizeMessage(entity.GroupID, raw))
	}
	models.SortRecordsAscending(records)
	return records
}

// attachMedia fills each media record's destination path and builds the
// matching download tasks.
func (e *Engine) attachMedia(records []models.MessageRecord, entity models.EntityRef, memberDir string) []models.MediaTask {
	var tasks []models.MediaTask
	for i := range records {
		r := &records[i]
		if r.MediaURL == "" || r.Type == models.MessageText {
			continue
		}
		ext := models.MediaExtension(r.MediaURL, string(r.Type))
		r.MediaFile = filepath.Join(memberDir, string(r.Type), fmt.Sprintf("%d.%s", r.ID, ext))
		tasks = append(tasks, models.MediaTask{
			ID:              uuid.New().String(),
			SourceURL:       r.MediaURL,
			DestinationPath: r.MediaFile,
			MediaType:       r.Type,
			OwningMessageID: r.ID,
			Entity:          entity,
		})
	}
	return tasks
}

// memberDir resolves the entity's media directory from the member's
// display name, falling back to the numeric id when the member list is
// unavailable or the member is no longer listed.
func (e *Engine) memberDir(ctx context.Context, entity models.EntityRef) string {
	name := e.memberName(ctx, entity)
	if name == "" {
		name = fmt.Sprintf("member_%d", entity.MemberID)
	}
	return filepath.Join(e.cfg.MediaDir, models.SanitizeName(name))
}

func (e *Engine) memberName(ctx context.Context, entity models.EntityRef) string {
	e.namesMu.Lock()
	defer e.namesMu.Unlock()

	names, ok := e.memberNames[entity.GroupID]
	if !ok {
		members, err := e.source.Members(ctx, entity.GroupID)
		if err != nil {
			e.logger.WarnWithContext(ctx, "member list unavailable, using numeric media directory",
				"group_id", entity.GroupID,
				"error", err.Error(),
			)
			return ""
		}
		names = make(map[int64]string, len(members))
		for _, m := range members {
			names[m.ID] = m.Name
		}
		e.memberNames[entity.GroupID] = names
	}
	return names[entity.MemberID]
}
