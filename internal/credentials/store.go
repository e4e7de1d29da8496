package credentials

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hakosync/hakosync/internal/errors"
)

// Store persists named credential bundles. Implementations must be atomic
// per group key: a concurrent reader never observes a partial bundle.
type Store interface {
	Save(group string, bundle *Bundle) error
	Load(group string) (*Bundle, error)
	Delete(group string) error
}

// FileStore keeps all bundles in one JSON file keyed by group. The bundle
// payloads are zlib-compressed and base64-encoded; the loader transparently
// accepts plain JSON written by older exports.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed credential store at path.
func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}
	return &FileStore{path: path}, nil
}

// Save stores the bundle for a group. The whole file is rewritten to a
// temporary path and renamed, so readers see either the old or the new
// content, never a mix.
func (s *FileStore) Save(group string, bundle *Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll()
	if err != nil {
		return err
	}

	stored := bundle.Clone()
	if stored.IssuedAt.IsZero() {
		stored.IssuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return &errors.ErrCredentialsCorrupt{Group: group, Err: err}
	}
	entries[group] = compress(payload)

	return s.writeAll(entries)
}

// Load retrieves the bundle for a group.
func (s *FileStore) Load(group string) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll()
	if err != nil {
		return nil, err
	}

	raw, ok := entries[group]
	if !ok {
		return nil, &errors.ErrCredentialsNotFound{Group: group}
	}

	payload, err := decompress(raw)
	if err != nil {
		return nil, &errors.ErrCredentialsCorrupt{Group: group, Err: err}
	}

	var bundle Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return nil, &errors.ErrCredentialsCorrupt{Group: group, Err: err}
	}
	return &bundle, nil
}

// Delete removes the bundle for a group. Deleting an absent group is not
// an error.
func (s *FileStore) Delete(group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := entries[group]; !ok {
		return nil
	}
	delete(entries, group)
	return s.writeAll(entries)
}

// Path returns the backing file path, for watchers.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) readAll() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, &errors.ErrFileRead{Path: s.path, Err: err}
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}

	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &errors.ErrFileRead{Path: s.path, Err: err}
	}
	return entries, nil
}

func (s *FileStore) writeAll(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return &errors.ErrFileRead{Path: tmp, Err: err}
	}
	return os.Rename(tmp, s.path)
}

func compress(payload []byte) string {
	var buf bytes.Buffer
	w, _ := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	_, _ = w.Write(payload)
	_ = w.Close()
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decompress(stored string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		// Legacy entries are plain JSON.
		return []byte(stored), nil
	}
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return []byte(stored), nil
	}
	defer r.Close()
	return io.ReadAll(r)
}

var _ Store = (*FileStore)(nil)
