package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/dav-sync/internal/assets"
	"github.com/alexjbarnes/dav-sync/internal/auth"
	"github.com/alexjbarnes/dav-sync/internal/config"
	"github.com/alexjbarnes/dav-sync/internal/dav"
	"github.com/alexjbarnes/dav-sync/internal/events"
	"github.com/alexjbarnes/dav-sync/internal/keys"
	"github.com/alexjbarnes/dav-sync/internal/logging"
	"github.com/alexjbarnes/dav-sync/internal/mcpserver"
	"github.com/alexjbarnes/dav-sync/internal/metrics"
	"github.com/alexjbarnes/dav-sync/internal/migration"
	"github.com/alexjbarnes/dav-sync/internal/push"
	"github.com/alexjbarnes/dav-sync/internal/server"
	"github.com/alexjbarnes/dav-sync/internal/state"
	"github.com/alexjbarnes/dav-sync/internal/syncengine"
	"github.com/alexjbarnes/dav-sync/internal/trigger"
)

var Version = "dev"

const (
	eventBuffer     = 16
	shutdownTimeout = 10 * time.Second
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hash-password":
			hashPassword()
			return
		case "status":
			if err := printStatus(); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}

			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter API key: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(scanner.Text()), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

// printStatus reports the persisted migration state without starting
// any engine.
func printStatus() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := openState(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := st.Migration(cfg.Account())
	if err != nil {
		return fmt.Errorf("reading migration state: %w", err)
	}

	s := migration.State(m.State)
	fmt.Printf("%s: %s\n", cfg.Account(), s)
	if text := migration.ProgressText(s); text != "" {
		fmt.Println(text)
	}

	return nil
}

func openState(cfg *config.Config) (*state.State, error) {
	var (
		st  *state.State
		err error
	)

	if cfg.StatePath != "" {
		st, err = state.LoadAt(cfg.StatePath)
	} else {
		st, err = state.Load()
	}

	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	return st, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("dav-sync starting",
		slog.String("version", Version),
		slog.String("server", cfg.ServerURL),
		slog.Bool("push", cfg.PushURL != ""),
		slog.Bool("status", cfg.EnableStatus),
	)

	theme, err := assets.LoadTheme(cfg.ThemeFile)
	if err != nil {
		return err
	}

	st, err := openState(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	account := cfg.Account()
	bus := events.NewBus()
	eventCh, unsubscribe := bus.Subscribe(eventBuffer)
	defer unsubscribe()

	client, err := dav.NewClient(nil, cfg.ServerURL, cfg.Username, cfg.Password)
	if err != nil {
		return fmt.Errorf("creating dav client: %w", err)
	}

	keyCollection := dav.NewKeyCollections(client, cfg.KeyCollectionPath)
	keyStore := keys.NewStore(st, account, cfg.Passphrase, bus)
	collector := metrics.NewCollector()

	if err := migration.Bootstrap(ctx, st, account, keyStore, keyCollection, logger); err != nil {
		logger.Warn("key bootstrap failed, will retry on next start", slog.String("error", err.Error()))
	}

	calendars := dav.NewCollectionStore(client, cfg.CalendarHome, dav.Calendars)
	addressbooks := dav.NewCollectionStore(client, cfg.AddressbookHome, dav.Addressbooks)

	// The kicker wraps the orchestrator, which needs the engines, which
	// kick after every pass.
	var kicker *migration.Kicker
	kick := func() {
		if kicker != nil {
			kicker.Kick()
		}
	}

	newEngine := func(kind state.Kind, cols *dav.CollectionStore) *syncengine.Engine {
		return syncengine.New(syncengine.Config{
			Account:        account,
			Kind:           kind,
			State:          st,
			Collections:    cols,
			Records:        client,
			Keys:           keyStore,
			Interval:       cfg.SyncInterval,
			Logger:         logger,
			Observer:       collector,
			OnPassComplete: kick,
			Hiding: func(h dav.Hider) syncengine.Collections {
				return cols.Hiding(h)
			},
		})
	}

	calSync := newEngine(state.KindCalendar, calendars)
	abSync := newEngine(state.KindAddressbook, addressbooks)

	notifier := migration.NewLogNotifier(logger)

	var protocol migration.ProtocolUpgrader
	if cfg.IsOperatorHost() {
		protocol = client
	}

	orchestrator := migration.New(migration.Config{
		Account:       account,
		State:         st,
		Keys:          keyStore,
		KeyCollection: keyCollection,
		Calendars:     calendars,
		Addressbooks:  addressbooks,
		Hiding: func(h dav.Hider) (migration.RemoteCollections, migration.RemoteCollections) {
			return calendars.Hiding(h), addressbooks.Hiding(h)
		},
		CalendarSync:    calSync,
		AddressbookSync: abSync,
		Protocol:        protocol,
		Notifier:        notifier,
		Publisher:       bus,
		Observer:        collector,
		Theme:           theme,
		Logger:          logger,
		OnComplete:      func() { kicker.StopPeriodic() },
	})

	kicker = migration.NewKicker(orchestrator, cfg.KickInterval, logger)

	upgrade := migration.NewUpgradeTrigger(st, kicker, notifier, assets.ReleaseNotes, cfg.IsOperatorHost(), logger)
	if err := upgrade.HandleUpgrade(Version); err != nil {
		logger.Warn("handling app upgrade", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return kicker.Run(gctx) })
	g.Go(func() error { return calSync.Run(gctx) })
	g.Go(func() error { return abSync.Run(gctx) })
	g.Go(func() error {
		logEvents(gctx, eventCh, logger)
		return nil
	})

	if cfg.PushURL != "" {
		listener := push.NewListener(cfg.PushURL, cfg.Username, cfg.Password, []push.Engine{calSync, abSync}, kicker, logger)
		g.Go(func() error { return listener.Run(gctx) })
	}

	if cfg.ControlDir != "" {
		watcher := trigger.NewWatcher(cfg.ControlDir, []trigger.Syncer{calSync, abSync}, kicker, logger)
		g.Go(func() error { return watcher.Watch(gctx) })
	}

	if cfg.EnableStatus {
		g.Go(func() error {
			return runStatus(gctx, cfg, statusDeps{
				account:      account,
				orchestrator: orchestrator,
				kicker:       kicker,
				engines:      []mcpserver.Engine{calSync, abSync},
				state:        st,
				collector:    collector,
			}, logger)
		})
	}

	return g.Wait()
}

// logEvents logs lifecycle events until ctx is done.
func logEvents(ctx context.Context, ch <-chan events.Event, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			logger.Info("event", slog.String("type", fmt.Sprintf("%T", e)), slog.String("account", e.AccountID()))
		}
	}
}

type statusDeps struct {
	account      string
	orchestrator *migration.Orchestrator
	kicker       *migration.Kicker
	engines      []mcpserver.Engine
	state        *state.State
	collector    *metrics.Collector
}

// runStatus serves the MCP control tools and metrics until ctx is done.
func runStatus(ctx context.Context, cfg *config.Config, d statusDeps, logger *slog.Logger) error {
	statusLogger := logger.With(slog.String("service", "status"))

	verifier, err := auth.NewVerifier(cfg.StatusAPIKeyHash)
	if err != nil {
		return fmt.Errorf("loading status API key: %w", err)
	}

	metricsHandler, err := metrics.Handler(d.collector)
	if err != nil {
		return fmt.Errorf("building metrics handler: %w", err)
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "dav-sync", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
		Account:   d.account,
		Migration: d.orchestrator,
		Kicker:    d.kicker,
		Engines:   d.engines,
		AutoSync:  d.state,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	srv := &http.Server{
		Addr: cfg.StatusListenAddr,
		Handler: server.NewMux(server.MuxConfig{
			Verifier:       verifier,
			MCPHandler:     mcpHandler,
			MetricsHandler: metricsHandler,
			Logger:         statusLogger,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	statusLogger.Info("starting status server", slog.String("listen", cfg.StatusListenAddr))

	go func() {
		<-ctx.Done()
		statusLogger.Info("shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server error: %w", err)
	}

	return nil
}
