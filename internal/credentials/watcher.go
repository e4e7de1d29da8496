package credentials

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/hakosync/hakosync/internal/logging"
)

// Watcher reloads a group's bundle when the backing credential file is
// rewritten externally. After a terminal session expiry an operator
// re-authenticates out-of-band and exports a fresh bundle; the watcher
// lets a long-running sync process pick it up without a restart.
type Watcher struct {
	store    *FileStore
	group    string
	logger   *logging.Logger
	onReload func(*Bundle)
}

// NewWatcher creates a watcher for one group's bundle. onReload is called
// with every successfully reloaded bundle.
func NewWatcher(store *FileStore, group string, logger *logging.Logger, onReload func(*Bundle)) *Watcher {
	return &Watcher{
		store:    store,
		group:    group,
		logger:   logger,
		onReload: onReload,
	}
}

// Start begins watching until the context is cancelled. Watching the
// parent directory instead of the file itself survives the atomic
// rename the store performs on every save.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.store.Path())
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != w.store.Path() {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					w.reload()
				}
			case <-watcher.Errors:
				// Ignore watcher errors; the next save will trigger again.
			}
		}
	}()

	return nil
}

func (w *Watcher) reload() {
	bundle, err := w.store.Load(w.group)
	if err != nil {
		w.logger.Warn("credential reload failed", "group", w.group, "error", err.Error())
		return
	}
	w.logger.Info("credentials reloaded from disk", "group", w.group)
	if w.onReload != nil {
		w.onReload(bundle)
	}
}
