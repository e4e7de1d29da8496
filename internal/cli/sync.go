package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hakosync/hakosync/internal/auth"
	"github.com/hakosync/hakosync/internal/config"
	"github.com/hakosync/hakosync/internal/credentials"
	"github.com/hakosync/hakosync/internal/errors"
	"github.com/hakosync/hakosync/internal/fetcher"
	"github.com/hakosync/hakosync/internal/logging"
	"github.com/hakosync/hakosync/internal/media"
	"github.com/hakosync/hakosync/internal/metrics"
	"github.com/hakosync/hakosync/internal/models"
	"github.com/hakosync/hakosync/internal/notify"
	"github.com/hakosync/hakosync/internal/store"
	syncengine "github.com/hakosync/hakosync/internal/sync"
	"github.com/hakosync/hakosync/internal/transport"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync message timelines and download media",
	Long: `Fetch new messages for subscribed members and download their media.

Examples:
  # Sync every member of every subscribed group
  hakosync sync

  # Sync a single member
  hakosync sync --member 42

  # Text and metadata only
  hakosync sync --skip-media`,
	RunE: runSync,
}

var syncFlags struct {
	GroupID   int64
	MemberID  int64
	SkipMedia bool
}

func init() {
	syncCmd.Flags().Int64Var(&syncFlags.GroupID, "group-id", 0, "Sync only this group id")
	syncCmd.Flags().Int64Var(&syncFlags.MemberID, "member", 0, "Sync only this member id")
	syncCmd.Flags().BoolVar(&syncFlags.SkipMedia, "skip-media", false, "Skip media downloads")

	RootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	group, err := models.ParseGroup(cfg.Group)
	if err != nil {
		return err
	}

	credStore, err := credentials.NewFileStore(cfg.Storage.CredentialsPath)
	if err != nil {
		return err
	}
	bundle, err := credStore.Load(string(group))
	if err != nil {
		var notFound *errors.ErrCredentialsNotFound
		if stderrors.As(err, &notFound) {
			return fmt.Errorf("no credentials for %s, run \"hakosync creds import\" first", group)
		}
		return err
	}

	client := transport.NewClient(transport.Options{
		Timeout:   cfg.Transport.Timeout,
		UserAgent: cfg.Transport.UserAgent,
		UseUTLS:   cfg.Transport.UTLS,
	})

	m := metrics.NewMetrics("hakosync")
	if cfg.Metrics.Enabled {
		shutdown := serveMetrics(cfg.Metrics.ListenAddr, m, logger)
		defer shutdown()
	}

	lifecycle := auth.NewLifecycle(group, bundle, credStore, client, logger)
	lifecycle.SetOnRefresh(func() { m.RecordTokenRefresh("success") })

	// An external re-login rewrites the credential file; pick the fresh
	// bundle up without restarting.
	watcher := credentials.NewWatcher(credStore, string(group), logger, func(b *credentials.Bundle) {
		lifecycle.Replace(b)
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("credential watcher unavailable", "error", err.Error())
	}

	fetch := fetcher.NewClient(group, lifecycle, fetcher.Config{
		PageSize:      cfg.Sync.PageSize,
		RetryAttempts: cfg.Sync.RetryAttempts,
		RetryBackoff:  cfg.Sync.RetryBackoff,
	}, logger)

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := syncengine.NewEngine(timelineSource{fetch}, st, syncengine.Config{
		MediaDir:     cfg.Storage.MediaDir,
		PageInterval: cfg.Sync.PageInterval,
	}, logger, m)

	pipeline := media.NewPipeline(client, st, media.Config{
		Concurrency: cfg.Media.Concurrency,
		Timeout:     cfg.Media.Timeout,
	}, logger, m)

	notifier := notify.NewNotifier(cfg.Telegram, logger)

	entities, err := resolveEntities(ctx, fetch)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		fmt.Println("no matching entities to sync")
		return nil
	}

	for _, entity := range entities {
		result, tasks, err := engine.SyncEntity(ctx, entity)
		if err != nil {
			var expired *errors.ErrSessionExpired
			if stderrors.As(err, &expired) {
				m.RecordTokenRefresh("session_expired")
				notifier.SessionExpired(group)
				return fmt.Errorf("session expired, re-login and import fresh credentials: %w", err)
			}
			return err
		}

		notifier.SyncFinished(group, result)
		fmt.Printf("group %d member %d: %d new messages, cursor %d\n",
			entity.GroupID, entity.MemberID, result.NewCount, result.Cursor)

		if syncFlags.SkipMedia || len(tasks) == 0 {
			continue
		}
		if _, err := pipeline.Process(ctx, tasks); err != nil {
			var mediaExpired *errors.ErrMediaExpired
			if stderrors.As(err, &mediaExpired) {
				logger.Warn("some media URLs expired, re-run sync to mint fresh ones",
					"group_id", entity.GroupID,
					"member_id", entity.MemberID,
				)
				continue
			}
			logger.Error("media pipeline finished with failures", "error", err.Error())
		}
	}

	return nil
}

// timelineSource narrows the fetch client to the engine's Source
// interface; the pager return type needs the explicit wrap.
type timelineSource struct {
	*fetcher.Client
}

var _ syncengine.Source = timelineSource{}

func (s timelineSource) Timeline(groupID int64) syncengine.Pager {
	return s.Client.Timeline(groupID)
}

// resolveEntities expands the sync flags into concrete (group, member)
// pairs, defaulting to every member of every active subscription.
func resolveEntities(ctx context.Context, fetch *fetcher.Client) ([]models.EntityRef, error) {
	groups, err := fetch.Groups(ctx)
	if err != nil {
		return nil, err
	}

	var entities []models.EntityRef
	for _, g := range groups {
		if !g.Active() {
			continue
		}
		if syncFlags.GroupID != 0 && g.ID != syncFlags.GroupID {
			continue
		}
		members, err := fetch.Members(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			if syncFlags.MemberID != 0 && member.ID != syncFlags.MemberID {
				continue
			}
			entities = append(entities, models.EntityRef{GroupID: g.ID, MemberID: member.ID})
		}
	}
	return entities, nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err.Error())
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// loadConfig loads the YAML config and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("db") || cmd.InheritedFlags().Changed("db") {
		cfg.Storage.DBPath = globalFlags.DBPath
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	level := logging.LogLevel(cfg.Log.Level)
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.WithLevel(level))
}
