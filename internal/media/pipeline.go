package media

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hakosync/hakosync/internal/errors"
	"github.com/hakosync/hakosync/internal/logging"
	"github.com/hakosync/hakosync/internal/metrics"
	"github.com/hakosync/hakosync/internal/models"
	"github.com/hakosync/hakosync/internal/store"
	"github.com/hakosync/hakosync/internal/transport"
)

// Config controls pipeline concurrency and per-download timeout.
type Config struct {
	Concurrency int
	Timeout     time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		Timeout:     60 * time.Second,
	}
}

// Pipeline downloads queued media and backfills pixel dimensions into
// the message store. Downloads for independent tasks run in parallel up
// to the concurrency limit; writes to the same destination path are
// serialized. Files land under a temporary name and are renamed on
// completion, so an interrupted download never leaves a partial file at
// the destination.
type Pipeline struct {
	client  transport.Doer
	store   store.Store
	logger  *logging.Logger
	metrics *metrics.Metrics
	cfg     Config

	mu        sync.Mutex
	pathLocks map[string]*sync.Mutex
}

// NewPipeline creates a media pipeline. metrics may be nil.
func NewPipeline(client transport.Doer, st store.Store, cfg Config, logger *logging.Logger, m *metrics.Metrics) *Pipeline {
	def := DefaultConfig()
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Pipeline{
		client:    client,
		store:     st,
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
		pathLocks: make(map[string]*sync.Mutex),
	}
}

// Process runs the given tasks and returns the dimensions extracted per
// owning message id. Individual task failures do not stop the rest; all
// failures are joined into the returned error. A failure caused by an
// expired signed URL matches ErrMediaExpired, signalling that the owning
// entity needs a re-sync to mint fresh URLs.
func (p *Pipeline) Process(ctx context.Context, tasks []models.MediaTask) (map[int64]models.Dimensions, error) {
	dims := make(map[int64]models.Dimensions)
	var dimsMu sync.Mutex

	sem := make(chan struct{}, p.cfg.Concurrency)
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task models.MediaTask) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}

			d, err := p.processTask(ctx, task)
			if err != nil {
				errs[i] = err
				return
			}
			if !d.IsZero() {
				dimsMu.Lock()
				dims[task.OwningMessageID] = d
				dimsMu.Unlock()
			}
		}(i, task)
	}
	wg.Wait()

	return dims, stderrors.Join(errs...)
}

// processTask materializes one task's file and reconciles dimensions.
func (p *Pipeline) processTask(ctx context.Context, task models.MediaTask) (models.Dimensions, error) {
	lock := p.pathLock(task.DestinationPath)
	lock.Lock()
	defer lock.Unlock()

	downloaded := false
	if !existsNonEmpty(task.DestinationPath) {
		if err := p.download(ctx, task); err != nil {
			if p.metrics != nil {
				p.metrics.RecordMediaDownload(downloadOutcome(err))
			}
			return models.Dimensions{}, err
		}
		downloaded = true
	}
	if p.metrics != nil {
		if downloaded {
			p.metrics.RecordMediaDownload("downloaded")
		} else {
			p.metrics.RecordMediaDownload("skipped")
		}
	}

	d, err := ExtractDimensions(task.DestinationPath, task.MediaType)
	if err != nil {
		p.logger.WarnWithContext(ctx, "dimension extraction failed",
			"path", task.DestinationPath,
			"media_type", string(task.MediaType),
			"error", err.Error(),
		)
		return models.Dimensions{}, nil
	}
	if d.IsZero() {
		return d, nil
	}

	if p.store != nil {
		if err := p.store.SetDimensions(task.Entity.GroupID, task.OwningMessageID, d); err != nil {
			return models.Dimensions{}, err
		}
	}
	return d, nil
}

func (p *Pipeline) download(ctx context.Context, task models.MediaTask) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.SourceURL, nil)
	if err != nil {
		return &errors.ErrMediaDownload{MessageID: task.OwningMessageID, Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &errors.ErrMediaDownload{MessageID: task.OwningMessageID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusGone:
		// The signed URL has expired; only a re-sync of the owning
		// entity can mint a fresh one.
		return &errors.ErrMediaExpired{MessageID: task.OwningMessageID, URL: task.SourceURL}
	default:
		return &errors.ErrMediaDownload{
			MessageID: task.OwningMessageID,
			Err:       &errors.ErrUnexpectedStatus{Endpoint: task.SourceURL, Status: resp.StatusCode},
		}
	}

	if err := os.MkdirAll(filepath.Dir(task.DestinationPath), 0755); err != nil {
		return &errors.ErrMediaDownload{MessageID: task.OwningMessageID, Err: err}
	}

	tmp := task.DestinationPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return &errors.ErrMediaDownload{MessageID: task.OwningMessageID, Err: err}
	}

	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return &errors.ErrMediaDownload{MessageID: task.OwningMessageID, Err: err}
	}

	if err := os.Rename(tmp, task.DestinationPath); err != nil {
		os.Remove(tmp)
		return &errors.ErrMediaDownload{MessageID: task.OwningMessageID, Err: err}
	}

	if p.metrics != nil {
		p.metrics.AddMediaBytes(n)
	}
	return nil
}

func (p *Pipeline) pathLock(path string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		p.pathLocks[path] = lock
	}
	return lock
}

func existsNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func downloadOutcome(err error) string {
	var expired *errors.ErrMediaExpired
	if stderrors.As(err, &expired) {
		return "expired"
	}
	return "failed"
}
