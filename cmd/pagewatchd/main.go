// Command pagewatchd is the page-watch engine's daemon: it loads a
// bootstrap config, opens the Config Store, wires the Page Agent, the
// Activity Log, the Watch Supervisor and the Command/Query API, then
// serves the API over HTTP until interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/watchloop/pagewatch"
	"github.com/watchloop/pagewatch/internal/activitylog"
	"github.com/watchloop/pagewatch/internal/agent"
	"github.com/watchloop/pagewatch/internal/core"
	"github.com/watchloop/pagewatch/internal/reload"
	"github.com/watchloop/pagewatch/internal/store"
)

func main() {
	configPath := flag.String("config", "pagewatch.yaml", "path to the bootstrap config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("pagewatchd: fatal", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := pagewatch.LoadBootstrapConfig(configPath)
	if err != nil {
		logger.Warn("pagewatchd: no bootstrap config, starting with store defaults only", "path", configPath, "error", err)
		cfg = &pagewatch.BootstrapConfig{}
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db)
	seedGlobalDefaults(ctx, st, cfg)

	log := activitylog.New(st, activitylog.WithLogger(logger))
	log.Restore(ctx)

	agentImpl, closeAgent, err := buildAgent(ctx, cfg.Agent, logger)
	if err != nil {
		return err
	}
	defer closeAgent()

	sup := pagewatch.NewSupervisor(st, agentImpl, log)
	if err := sup.ReloadGlobalConfig(ctx); err != nil {
		logger.Warn("pagewatchd: initial global config load failed", "error", err)
	}

	watcher := reload.New(db, reload.Options{
		Interval: 2 * time.Second,
		Debounce: 500 * time.Millisecond,
		Detector: reload.GlobalConfigDetector,
		Logger:   logger,
	})
	go watcher.OnChange(ctx, func() error { return sup.ReloadGlobalConfig(ctx) })

	for _, tc := range cfg.Targets {
		mode := core.ContentMode(tc.ContentMode)
		changeDetection := true
		if tc.ChangeDetection != nil {
			changeDetection = *tc.ChangeDetection
		}
		_, err := sup.StartTarget(ctx, core.TargetConfig{
			PageRef:         firstNonEmpty(tc.PageRef, tc.URL),
			InitialURL:      tc.URL,
			Selector:        tc.Selector,
			ContentMode:     mode,
			Interval:        tc.Interval,
			ChangeDetection: changeDetection,
			WebhookOverride: tc.WebhookOverride,
			ProfileName:     tc.ProfileName,
		})
		if err != nil {
			logger.Warn("pagewatchd: bootstrap target rejected", "url", tc.URL, "error", err)
		}
	}

	if err := sup.RestoreFromStore(ctx); err != nil {
		logger.Warn("pagewatchd: restore_from_store failed", "error", err)
	}

	api := pagewatch.NewAPI(sup, log)
	router := pagewatch.NewRouter(api)

	server := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		logger.Info("pagewatchd: serving", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("pagewatchd: http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("pagewatchd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	sup.Shutdown(shutdownCtx)

	return nil
}

func buildAgent(ctx context.Context, cfg pagewatch.AgentConfig, logger *slog.Logger) (core.PageAgent, func(), error) {
	if cfg.Mode == "http" {
		return agent.NewHTTPAgent(), func() {}, nil
	}

	stealth := agent.LevelHeadless
	if cfg.Stealth == "http" {
		stealth = agent.LevelHTTP
	}
	mgr := agent.NewManager(agent.ManagerConfig{
		RemoteURL:        cfg.RemoteURL,
		MemoryLimit:      cfg.MemoryLimit,
		RecycleInterval:  cfg.RecycleInterval,
		ResourceBlocking: cfg.ResourceBlocking,
		Stealth:          stealth,
		Logger:           logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return nil, func() {}, err
	}
	return mgr, func() { mgr.Close() }, nil
}

func seedGlobalDefaults(ctx context.Context, st *store.Store, cfg *pagewatch.BootstrapConfig) {
	if cfg.Global.WebhookURL != "" {
		if _, ok, _ := st.Global(ctx, store.GlobalWebhookURL); !ok {
			st.SetGlobal(ctx, store.GlobalWebhookURL, cfg.Global.WebhookURL)
		}
	}
	if cfg.Global.RefreshInterval > 0 {
		if _, ok, _ := st.Global(ctx, store.GlobalRefreshIntervalMs); !ok {
			st.SetGlobal(ctx, store.GlobalRefreshIntervalMs, msString(cfg.Global.RefreshInterval))
		}
	}
	if cfg.Global.ChangeDetection != nil {
		if _, ok, _ := st.Global(ctx, store.GlobalChangeDetection); !ok {
			v := "0"
			if *cfg.Global.ChangeDetection {
				v = "1"
			}
			st.SetGlobal(ctx, store.GlobalChangeDetection, v)
		}
	}
}

func msString(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
