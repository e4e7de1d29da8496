package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/hakosync/hakosync/internal/errors"
	"github.com/hakosync/hakosync/internal/logging"
	"github.com/hakosync/hakosync/internal/models"
	_ "modernc.org/sqlite"
)

// Store persists messages and per-entity sync cursors. A page of
// messages and its cursor advance commit in one transaction, so an
// interrupted sync never leaves records without a matching cursor.
type Store interface {
	AppendPage(entity models.EntityRef, records []models.MessageRecord, cursor int64) (int, error)
	Cursor(entity models.EntityRef) (int64, error)
	SetDimensions(groupID, messageID int64, dims models.Dimensions) error
	MessagesNeedingDimensions(entity models.EntityRef, limit int) ([]models.MessageRecord, error)
	Messages(entity models.EntityRef, mediaOnly bool) ([]models.MessageRecord, error)
	Stats() ([]EntityStats, error)
	Close() error
}

// EntityStats is one (group, member) pair's sync standing, for status
// reporting.
type EntityStats struct {
	Entity        models.EntityRef
	Messages      int64
	Media         int64
	Cursor        int64
	LastTimestamp string
}

// SQLiteStore provides SQLite-based message storage with WAL mode.
// It is thread-safe and supports concurrent access.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *logging.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with WAL mode enabled.
func NewSQLiteStore(dbPath string, logger *logging.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		logger = logging.NewLogger()
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS messages (
					id INTEGER NOT NULL,
					group_id INTEGER NOT NULL,
					member_id INTEGER NOT NULL,
					type TEXT NOT NULL,
					body TEXT NOT NULL DEFAULT '',
					published_at TEXT NOT NULL DEFAULT '',
					is_favorite INTEGER NOT NULL DEFAULT 0,
					media_file TEXT NOT NULL DEFAULT '',
					width INTEGER NOT NULL DEFAULT 0,
					height INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (group_id, id)
				);

				CREATE TABLE IF NOT EXISTS sync_cursors (
					group_id INTEGER NOT NULL,
					member_id INTEGER NOT NULL,
					last_message_id INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (group_id, member_id)
				);

				CREATE INDEX IF NOT EXISTS idx_messages_member ON messages(group_id, member_id, id);
				CREATE INDEX IF NOT EXISTS idx_messages_type ON messages(group_id, type);
			`,
		},
		{
			version: 2,
			up: `
				CREATE INDEX IF NOT EXISTS idx_messages_pending_dims
					ON messages(group_id, member_id)
					WHERE media_file != '' AND width = 0 AND height = 0;
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

// AppendPage inserts a page of records and advances the entity cursor
// in a single transaction. Records already present are ignored, so a
// resumed sync can safely replay a page boundary. Returns the number of
// records actually inserted.
func (s *SQLiteStore) AppendPage(entity models.EntityRef, records []models.MessageRecord, cursor int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, &errors.ErrPersistence{Operation: "begin append", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	inserted := 0
	for _, r := range records {
		res, err := tx.Exec(`
			INSERT INTO messages (id, group_id, member_id, type, body, published_at, is_favorite, media_file, width, height)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (group_id, id) DO NOTHING
		`, r.ID, r.GroupID, r.MemberID, string(r.Type), r.Body, r.Timestamp, r.IsFavorite, r.MediaFile, r.Width, r.Height)
		if err != nil {
			return 0, &errors.ErrPersistence{Operation: "insert message", Err: err}
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO sync_cursors (group_id, member_id, last_message_id, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (group_id, member_id) DO UPDATE SET
			last_message_id = MAX(last_message_id, excluded.last_message_id),
			updated_at = CURRENT_TIMESTAMP
	`, entity.GroupID, entity.MemberID, cursor)
	if err != nil {
		return 0, &errors.ErrPersistence{Operation: "advance cursor", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &errors.ErrPersistence{Operation: "commit append", Err: err}
	}

	return inserted, nil
}

// Cursor returns the entity's watermark, 0 when the entity has never
// been synced.
func (s *SQLiteStore) Cursor(entity models.EntityRef) (int64, error) {
	var cursor int64
	err := s.db.QueryRow(
		"SELECT last_message_id FROM sync_cursors WHERE group_id = ? AND member_id = ?",
		entity.GroupID, entity.MemberID,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "get cursor", Err: err}
	}
	return cursor, nil
}

// SetDimensions fills a message's media dimensions. Dimensions are
// write-once: a message that already has them keeps the original pair.
func (s *SQLiteStore) SetDimensions(groupID, messageID int64, dims models.Dimensions) error {
	if dims.IsZero() {
		return nil
	}
	_, err := s.db.Exec(`
		UPDATE messages SET width = ?, height = ?
		WHERE group_id = ? AND id = ? AND width = 0 AND height = 0
	`, dims.Width, dims.Height, groupID, messageID)
	if err != nil {
		return &errors.ErrPersistence{Operation: "set dimensions", Err: err}
	}
	return nil
}

// MessagesNeedingDimensions lists media messages whose dimensions were
// never extracted, oldest first.
func (s *SQLiteStore) MessagesNeedingDimensions(entity models.EntityRef, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, group_id, member_id, type, body, published_at, is_favorite, media_file, width, height
		FROM messages
		WHERE group_id = ? AND member_id = ? AND media_file != '' AND width = 0 AND height = 0
		ORDER BY id ASC
		LIMIT ?
	`, entity.GroupID, entity.MemberID, limit)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list pending dimensions", Err: err}
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Messages lists an entity's persisted messages in ascending id order.
// With mediaOnly set, text messages are skipped.
func (s *SQLiteStore) Messages(entity models.EntityRef, mediaOnly bool) ([]models.MessageRecord, error) {
	query := `
		SELECT id, group_id, member_id, type, body, published_at, is_favorite, media_file, width, height
		FROM messages
		WHERE group_id = ? AND member_id = ?
	`
	if mediaOnly {
		query += " AND media_file != ''"
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.Query(query, entity.GroupID, entity.MemberID)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list messages", Err: err}
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]models.MessageRecord, error) {
	var records []models.MessageRecord
	for rows.Next() {
		var r models.MessageRecord
		var msgType string
		if err := rows.Scan(&r.ID, &r.GroupID, &r.MemberID, &msgType, &r.Body, &r.Timestamp, &r.IsFavorite, &r.MediaFile, &r.Width, &r.Height); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan message", Err: err}
		}
		r.Type = models.MessageType(msgType)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "iterate messages", Err: err}
	}
	return records, nil
}

// Stats summarizes every synced entity.
func (s *SQLiteStore) Stats() ([]EntityStats, error) {
	rows, err := s.db.Query(`
		SELECT c.group_id, c.member_id, c.last_message_id,
			COUNT(m.id),
			COALESCE(SUM(CASE WHEN m.media_file != '' THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(m.published_at), '')
		FROM sync_cursors c
		LEFT JOIN messages m ON m.group_id = c.group_id AND m.member_id = c.member_id
		GROUP BY c.group_id, c.member_id
		ORDER BY c.group_id, c.member_id
	`)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "entity stats", Err: err}
	}
	defer rows.Close()

	var stats []EntityStats
	for rows.Next() {
		var st EntityStats
		if err := rows.Scan(&st.Entity.GroupID, &st.Entity.MemberID, &st.Cursor, &st.Messages, &st.Media, &st.LastTimestamp); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan entity stats", Err: err}
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "iterate entity stats", Err: err}
	}
	return stats, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
