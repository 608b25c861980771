package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/autohost/internal/config"
	"github.com/DoyleJ11/autohost/internal/httpapi"
	"github.com/DoyleJ11/autohost/internal/hub"
	"github.com/DoyleJ11/autohost/internal/jobs"
	"github.com/DoyleJ11/autohost/internal/logging"
	"github.com/DoyleJ11/autohost/internal/moderation"
	"github.com/DoyleJ11/autohost/internal/orchestrator"
	"github.com/DoyleJ11/autohost/internal/plugin"
	"github.com/DoyleJ11/autohost/internal/process"
	"github.com/DoyleJ11/autohost/internal/transport"
	"go.uber.org/zap"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "autohost.yaml", "preset file")
	envFile := flag.String("env", ".env", "dotenv file with secrets (optional)")
	issue := flag.String("issue-token", "", "print an operator token for this name and exit")
	access := flag.Int("access", 100, "access level of the issued token")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of the issued token, 0 for none")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if *issue != "" {
		tok, err := httpapi.IssueToken([]byte(cfg.HTTP.JWTSecret), *issue, *access, *ttl, time.Now())
		if err != nil {
			logger.Fatal("issue token", zap.Error(err))
		}
		fmt.Println(tok)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("autohost failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (moderation.Store, error) {
	if cfg.DB.DSN == "" {
		logger.Info("no database configured, bans are kept in memory")
		return moderation.NewMemoryStore(), nil
	}
	db, err := moderation.OpenPostgres(ctx, cfg.DB.DSN, logger)
	if err != nil {
		return nil, err
	}
	return moderation.NewGormStore(db)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	bans, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load bans: %w", err)
	}
	logger.Info("bans loaded", zap.Int("count", len(bans)))

	// Background workers outlive the signal context so the orchestrator can
	// close the room and the last ban list can be written.
	bg, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()

	syncer := moderation.NewSyncer(store, logger.Named("bans"))
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		syncer.Run(bg)
	}()

	h := hub.NewHub(bg, logger)
	o := orchestrator.New(bg, cfg.Orchestrator(), orchestrator.Deps{
		Lobby: transport.NewWSLobby(cfg.Lobby.URL, logger.Named("lobby")),
		NewGame: func(cb process.Callbacks) orchestrator.Game {
			return process.NewSupervisor(cfg.Supervisor(), logger.Named("process"), cb)
		},
		Catalog:   cfg.Catalog(),
		Plugins:   plugin.NewChain(logger.Named("plugins"), cfg.PluginChain()...),
		Bans:      moderation.NewPolicy(bans),
		BanSink:   syncer,
		Publisher: h,
		Logger:    logger,
	})
	o.Post(orchestrator.Start{})

	if _, err := jobs.Start(bg, o, logger); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr: cfg.HTTP.Addr,
			Handler: httpapi.SetupRoutes(httpapi.Deps{
				Orchestrator: o,
				Hub:          h,
				JWTSecret:    []byte(cfg.HTTP.JWTSecret),
				Logger:       logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		o.Post(orchestrator.Shutdown{Reason: "signal"})
	case <-o.Done():
	}
	select {
	case <-o.Done():
	case <-time.After(shutdownGrace):
		logger.Warn("orchestrator did not stop in time")
	}

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}
	h.Inbox() <- hub.ShutdownHub{}
	cancelBG()
	<-syncDone
	logger.Info("bye")
	return nil
}
