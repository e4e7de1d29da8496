package sync

import (
	"context"
	"fmt"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakosync/hakosync/internal/errors"
	"github.com/hakosync/hakosync/internal/models"
	"github.com/hakosync/hakosync/internal/store"
)

type fakeSource struct {
	pages   map[string]*models.RecordPage
	members []models.Member

	failOn  string
	failErr error

	mu          stdsync.Mutex
	fetchCalls  int
	memberCalls int
}

func (f *fakeSource) Timeline(groupID int64) Pager {
	return &fakePager{src: f}
}

func (f *fakeSource) Members(ctx context.Context, groupID int64) ([]models.Member, error) {
	f.mu.Lock()
	f.memberCalls++
	f.mu.Unlock()
	// Widen the window so overlapping callers would actually overlap.
	time.Sleep(5 * time.Millisecond)
	return f.members, nil
}

type fakePager struct {
	src          *fakeSource
	continuation string
	done         bool
}

func (p *fakePager) Next(ctx context.Context) (*models.RecordPage, error) {
	if p.done {
		return nil, nil
	}
	p.src.mu.Lock()
	p.src.fetchCalls++
	p.src.mu.Unlock()
	if p.src.failErr != nil && p.continuation == p.src.failOn {
		return nil, p.src.failErr
	}
	page, ok := p.src.pages[p.continuation]
	if !ok {
		p.done = true
		return &models.RecordPage{}, nil
	}
	out := &models.RecordPage{
		Messages:     append([]models.RawMessage(nil), page.Messages...),
		Continuation: page.Continuation,
		HasMore:      page.HasMore,
	}
	p.continuation = page.Continuation
	if !out.HasMore {
		p.done = true
	}
	return out, nil
}

// rawDesc builds descending-id text messages for one member.
func rawDesc(memberID int64, from, to int64) []models.RawMessage {
	var msgs []models.RawMessage
	for id := from; id >= to; id-- {
		msgs = append(msgs, models.RawMessage{
			ID:          id,
			MemberID:    memberID,
			Type:        "text",
			Text:        fmt.Sprintf("message %d", id),
			PublishedAt: fmt.Sprintf("2024-01-01T00:00:%02dZ", id%60),
		})
	}
	return msgs
}

func newTestEngine(t *testing.T, src Source) (*Engine, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "hakosync.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := Config{MediaDir: filepath.Join(t.TempDir(), "media")}
	return NewEngine(src, st, cfg, nil, nil), st
}

func TestFreshEntityTwoDescendingPages(t *testing.T) {
	src := &fakeSource{
		pages: map[string]*models.RecordPage{
			"":   {Messages: rawDesc(10, 80, 31), Continuation: "c1", HasMore: true},
			"c1": {Messages: rawDesc(10, 30, 1)},
		},
		members: []models.Member{{ID: 10, Name: "member a"}},
	}
	engine, st := newTestEngine(t, src)
	entity := models.EntityRef{GroupID: 1, MemberID: 10}

	result, tasks, err := engine.SyncEntity(context.Background(), entity)
	require.NoError(t, err)

	assert.Equal(t, 80, result.NewCount)
	assert.Equal(t, int64(80), result.Cursor)
	assert.Empty(t, tasks)

	msgs, err := st.Messages(entity, false)
	require.NoError(t, err)
	require.Len(t, msgs, 80)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.ID)
	}

	cursor, err := st.Cursor(entity)
	require.NoError(t, err)
	assert.Equal(t, int64(80), cursor)
}

func TestSecondSyncIsIdempotent(t *testing.T) {
	src := &fakeSource{
		pages: map[string]*models.RecordPage{
			"": {Messages: rawDesc(10, 20, 1)},
		},
		members: []models.Member{{ID: 10, Name: "member a"}},
	}
	engine, _ := newTestEngine(t, src)
	entity := models.EntityRef{GroupID: 1, MemberID: 10}

	first, _, err := engine.SyncEntity(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, 20, first.NewCount)

	second, _, err := engine.SyncEntity(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewCount)
	assert.Equal(t, int64(20), second.Cursor)
}

func TestBoundaryRecordAtCursorDropped(t *testing.T) {
	src := &fakeSource{
		pages: map[string]*models.RecordPage{
			"": {Messages: rawDesc(10, 44, 40)},
		},
		members: []models.Member{{ID: 10, Name: "member a"}},
	}
	engine, st := newTestEngine(t, src)
	entity := models.EntityRef{GroupID: 1, MemberID: 10}

	// Seed the watermark at 42 with the records it covers.
	var seed []models.MessageRecord
	for id := int64(40); id <= 42; id++ {
		seed = append(seed, models.MessageRecord{ID: id, GroupID: 1, MemberID: 10, Type: models.MessageText})
	}
	_, err := st.AppendPage(entity, seed, 42)
	require.NoError(t, err)

	result, _, err := engine.SyncEntity(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewCount)

	msgs, err := st.Messages(entity, false)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, int64(40), msgs[0].ID)
	assert.Equal(t, int64(44), msgs[4].ID)

	cursor, err := st.Cursor(entity)
	require.NoError(t, err)
	assert.Equal(t, int64(44), cursor)
}

func TestStopsAtCursorWithoutWalkingFullHistory(t *testing.T) {
	src := &fakeSource{
		pages: map[string]*models.RecordPage{
			"":   {Messages: rawDesc(10, 50, 41), Continuation: "c1", HasMore: true},
			"c1": {Messages: rawDesc(10, 40, 31), Continuation: "c2", HasMore: true},
			"c2": {Messages: rawDesc(10, 30, 1)},
		},
		members: []models.Member{{ID: 10, Name: "member a"}},
	}
	engine, st := newTestEngine(t, src)
	entity := models.EntityRef{GroupID: 1, MemberID: 10}

	_, err := st.AppendPage(entity, []models.MessageRecord{{ID: 35, GroupID: 1, MemberID: 10, Type: models.MessageText}}, 35)
	require.NoError(t, err)

	result, _, err := engine.SyncEntity(context.Background(), entity)
	require.NoError(t, err)

	// Page c1 contains id 35, so page c2 is never requested.
	assert.Equal(t, 15, result.NewCount)
	assert.Equal(t, 2, src.fetchCalls)
}

func TestMemberFilter(t *testing.T) {
	mixed := append(rawDesc(10, 10, 6), rawDesc(11, 5, 1)...)
	src := &fakeSource{
		pages: map[string]*models.RecordPage{
			"": {Messages: mixed},
		},
		members: []models.Member{{ID: 10, Name: "member a"}, {ID: 11, Name: "member b"}},
	}
	engine, st := newTestEngine(t, src)
	entity := models.EntityRef{GroupID: 1, MemberID: 10}

	result, _, err := engine.SyncEntity(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, 5, result.NewCount)

	msgs, err := st.Messages(entity, false)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.Equal(t, int64(10), m.MemberID)
	}
}

func TestConcurrentEntitiesShareMemberCache(t *testing.T) {
	mixed := append(rawDesc(10, 10, 6), rawDesc(11, 5, 1)...)
	src := &fakeSource{
		pages: map[string]*models.RecordPage{
			"": {Messages: mixed},
		},
		members: []models.Member{{ID: 10, Name: "member a"}, {ID: 11, Name: "member b"}},
	}
	engine, st := newTestEngine(t, src)

	entities := []models.EntityRef{
		{GroupID: 1, MemberID: 10},
		{GroupID: 1, MemberID: 11},
	}

	var wg stdsync.WaitGroup
	results := make([]*models.SyncResult, len(entities))
	errs := make([]error, len(entities))
	for i, entity := range entities {
		wg.Add(1)
		go func(i int, entity models.EntityRef) {
			defer wg.Done()
			results[i], _, errs[i] = engine.SyncEntity(context.Background(), entity)
		}(i, entity)
	}
	wg.Wait()

	for i := range entities {
		require.NoError(t, errs[i])
		assert.Equal(t, 5, results[i].NewCount)
	}

	// The member list is fetched once and shared across entities.
	assert.Equal(t, 1, src.memberCalls)

	for _, entity := range entities {
		msgs, err := st.Messages(entity, false)
		require.NoError(t, err)
		assert.Len(t, msgs, 5)
	}
}

func TestMediaTasksAndDestinationPaths(t *testing.T) {
	src := &fakeSource{
		pages: map[string]*models.RecordPage{
			"": {Messages: []models.RawMessage{
				{ID: 3, MemberID: 10, Type: "picture", File: "https://cdn.example.com/a/3.jpg?sig=x"},
				{ID: 2, MemberID: 10, Type: "movie", File: "https://cdn.example.com/a/2.mp4?sig=x"},
				{ID: 1, MemberID: 10, Type: "text", Text: "hello"},
			}},
		},
		members: []models.Member{{ID: 10, Name: "member/a"}},
	}
	engine, st := newTestEngine(t, src)
	entity := models.EntityRef{GroupID: 1, MemberID: 10}

	result, tasks, err := engine.SyncEntity(context.Background(), entity)
	require.NoError(t, err)

	assert.Equal(t, 3, result.NewCount)
	assert.Equal(t, 2, result.MediaEnqueued)
	require.Len(t, tasks, 2)

	byMessage := map[int64]models.MediaTask{}
	for _, task := range tasks {
		byMessage[task.OwningMessageID] = task
	}

	pic := byMessage[3]
	assert.Equal(t, models.MessagePicture, pic.MediaType)
	assert.Equal(t, filepath.Join("member_a", "picture", "3.jpg"), trimMediaDir(t, engine, pic.DestinationPath))

	vid := byMessage[2]
	assert.Equal(t, models.MessageVideo, vid.MediaType)
	assert.Equal(t, filepath.Join("member_a", "video", "2.mp4"), trimMediaDir(t, engine, vid.DestinationPath))

	// The persisted record carries the same relative media path.
	msgs, err := st.Messages(entity, true)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, pic.DestinationPath, msgs[1].MediaFile)
}

func trimMediaDir(t *testing.T, engine *Engine, path string) string {
	t.Helper()
	rel, err := filepath.Rel(engine.cfg.MediaDir, path)
	require.NoError(t, err)
	return rel
}

func TestSessionExpiredLeavesCursorUntouched(t *testing.T) {
	src := &fakeSource{
		pages: map[string]*models.RecordPage{
			"": {Messages: rawDesc(10, 20, 11), Continuation: "c1", HasMore: true},
		},
		failOn:  "c1",
		failErr: &errors.ErrSessionExpired{Group: "hinatazaka46", Reason: "invalid_parameter"},
		members: []models.Member{{ID: 10, Name: "member a"}},
	}
	engine, st := newTestEngine(t, src)
	entity := models.EntityRef{GroupID: 1, MemberID: 10}

	_, _, err := engine.SyncEntity(context.Background(), entity)

	var expired *errors.ErrSessionExpired
	require.ErrorAs(t, err, &expired)

	cursor, err := st.Cursor(entity)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)

	msgs, err := st.Messages(entity, false)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestInterruptedRunResumesWithoutGaps(t *testing.T) {
	pages := map[string]*models.RecordPage{
		"":   {Messages: rawDesc(10, 60, 41), Continuation: "c1", HasMore: true},
		"c1": {Messages: rawDesc(10, 40, 21), Continuation: "c2", HasMore: true},
		"c2": {Messages: rawDesc(10, 20, 1)},
	}
	members := []models.Member{{ID: 10, Name: "member a"}}
	entity := models.EntityRef{GroupID: 1, MemberID: 10}

	// First run dies fetching the middle page; nothing is persisted yet.
	firstSrc := &fakeSource{
		pages:   pages,
		members: members,
		failOn:  "c1",
		failErr: &errors.ErrTransientFetch{Endpoint: "/groups/1/timeline", Attempts: 3},
	}
	engine, st := newTestEngine(t, firstSrc)
	_, _, err := engine.SyncEntity(context.Background(), entity)
	var transient *errors.ErrTransientFetch
	require.ErrorAs(t, err, &transient)

	// Resume with a healthy source against the same store.
	engine2 := NewEngine(&fakeSource{pages: pages, members: members}, st, engine.cfg, nil, nil)
	result, _, err := engine2.SyncEntity(context.Background(), entity)
	require.NoError(t, err)

	assert.Equal(t, 60, result.NewCount)
	msgs, err := st.Messages(entity, false)
	require.NoError(t, err)
	require.Len(t, msgs, 60)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.ID)
	}
}

func TestPageEventsEmittedOldestFirst(t *testing.T) {
	src := &fakeSource{
		pages: map[string]*models.RecordPage{
			"":   {Messages: rawDesc(10, 40, 21), Continuation: "c1", HasMore: true},
			"c1": {Messages: rawDesc(10, 20, 1)},
		},
		members: []models.Member{{ID: 10, Name: "member a"}},
	}
	engine, _ := newTestEngine(t, src)
	entity := models.EntityRef{GroupID: 1, MemberID: 10}

	var events []models.PageEvent
	engine.SetOnPage(func(ev models.PageEvent) { events = append(events, ev) })

	_, _, err := engine.SyncEntity(context.Background(), entity)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, 20, events[0].PageRecordCount)
	assert.Equal(t, int64(20), events[0].Cursor)
	assert.Equal(t, 20, events[0].TotalNewCount)
	assert.Equal(t, int64(40), events[1].Cursor)
	assert.Equal(t, 40, events[1].TotalNewCount)
}

func TestEmptyTimeline(t *testing.T) {
	src := &fakeSource{
		pages:   map[string]*models.RecordPage{},
		members: []models.Member{{ID: 10, Name: "member a"}},
	}
	engine, st := newTestEngine(t, src)
	entity := models.EntityRef{GroupID: 1, MemberID: 10}

	result, tasks, err := engine.SyncEntity(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewCount)
	assert.Empty(t, tasks)

	cursor, err := st.Cursor(entity)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)
}
