package credentials

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakosync/hakosync/internal/errors"
	"github.com/hakosync/hakosync/internal/logging"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	return store
}

func testBundle() *Bundle {
	return &Bundle{
		SubjectID:   "user-1",
		AccessToken: "at-abc",
		Cookies:     map[string]string{"session": "s1"},
		AppID:       "jp.co.sonymusic.communication.keyakizaka 2.5",
	}
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("hinatazaka46", testBundle()))

	loaded, err := store.Load("hinatazaka46")
	require.NoError(t, err)
	assert.Equal(t, "at-abc", loaded.AccessToken)
	assert.Equal(t, "s1", loaded.Cookies["session"])
	assert.False(t, loaded.IssuedAt.IsZero())
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("nogizaka46")

	var notFound *errors.ErrCredentialsNotFound
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nogizaka46", notFound.Group)
}

func TestFileStoreDelete(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("hinatazaka46", testBundle()))

	require.NoError(t, store.Delete("hinatazaka46"))
	_, err := store.Load("hinatazaka46")
	assert.Error(t, err)

	// Deleting an absent group is a no-op.
	assert.NoError(t, store.Delete("hinatazaka46"))
}

func TestFileStoreMultipleGroups(t *testing.T) {
	store := newTestStore(t)

	a := testBundle()
	b := testBundle()
	b.AccessToken = "at-other"

	require.NoError(t, store.Save("hinatazaka46", a))
	require.NoError(t, store.Save("sakurazaka46", b))

	loaded, err := store.Load("sakurazaka46")
	require.NoError(t, err)
	assert.Equal(t, "at-other", loaded.AccessToken)

	loaded, err = store.Load("hinatazaka46")
	require.NoError(t, err)
	assert.Equal(t, "at-abc", loaded.AccessToken)
}

func TestFileStoreCompressedOnDisk(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("hinatazaka46", testBundle()))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var entries map[string]string
	require.NoError(t, json.Unmarshal(raw, &entries))
	// Payload is base64(zlib(json)), so the token must not appear verbatim.
	assert.NotContains(t, entries["hinatazaka46"], "at-abc")
}

func TestFileStoreAcceptsLegacyPlainJSON(t *testing.T) {
	store := newTestStore(t)

	legacy := map[string]string{
		"hinatazaka46": `{"access_token":"legacy-token","cookies":{"session":"old"}}`,
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), data, 0600))

	loaded, err := store.Load("hinatazaka46")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", loaded.AccessToken)
}

func TestFileStoreConcurrentSaves(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Save("hinatazaka46", testBundle())
		}()
	}
	wg.Wait()

	loaded, err := store.Load("hinatazaka46")
	require.NoError(t, err)
	assert.Equal(t, "at-abc", loaded.AccessToken)
}

func TestBundleCanRefresh(t *testing.T) {
	b := &Bundle{AccessToken: "at"}
	assert.False(t, b.CanRefresh())

	b.Cookies = map[string]string{"session": "x"}
	assert.True(t, b.CanRefresh())

	b = &Bundle{AccessToken: "at", RefreshToken: "rt"}
	assert.True(t, b.CanRefresh())
}

func TestBundleCloneIsDeep(t *testing.T) {
	b := testBundle()
	clone := b.Clone()
	clone.Cookies["session"] = "mutated"
	assert.Equal(t, "s1", b.Cookies["session"])
}

func TestWatcherReloadsOnRewrite(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("hinatazaka46", testBundle()))

	reloaded := make(chan *Bundle, 1)
	logger := logging.NewLogger(WithDiscardOutput())

	w := NewWatcher(store, "hinatazaka46", logger, func(b *Bundle) {
		select {
		case reloaded <- b:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	fresh := testBundle()
	fresh.AccessToken = "at-fresh"
	require.NoError(t, store.Save("hinatazaka46", fresh))

	select {
	case b := <-reloaded:
		assert.Equal(t, "at-fresh", b.AccessToken)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not observe the rewrite")
	}
}

// WithDiscardOutput silences logs in tests.
func WithDiscardOutput() logging.LoggerOption {
	return logging.WithOutput(discard{})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
