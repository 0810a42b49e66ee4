package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fetchdeck/backend/internal/api"
	"github.com/fetchdeck/backend/internal/archive"
	"github.com/fetchdeck/backend/internal/config"
	"github.com/fetchdeck/backend/internal/health"
	"github.com/fetchdeck/backend/internal/job"
	"github.com/fetchdeck/backend/internal/logger"
	"github.com/fetchdeck/backend/internal/metrics"
	"github.com/fetchdeck/backend/internal/notify"
	"github.com/fetchdeck/backend/internal/queue"
	"github.com/fetchdeck/backend/internal/relay"
	"github.com/fetchdeck/backend/internal/store"
	"github.com/fetchdeck/backend/internal/websocket"
	"github.com/fetchdeck/backend/internal/worker"
)

const version = "0.3.0"

func main() {
	// The same binary doubles as the download worker.
	if len(os.Args) > 1 && os.Args[1] == worker.ModeArg {
		os.Exit(worker.Main())
	}

	godotenv.Load()
	cfg := config.Load()

	logger.SetDefault(logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "fetchdeck"))
	appLog := logger.Default().WithComponent("server")
	ctx := context.Background()

	st, err := newStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer st.Close()

	ctrl, err := queue.NewController(queue.Policy(cfg.SchedulingMode), cfg.ConcurrentLimit)
	if err != nil {
		log.Fatalf("Invalid scheduling configuration: %v", err)
	}

	m := metrics.New()
	r := relay.New()
	notifier := notify.New()

	exec, err := worker.NewProcessExecutor(r, worker.ExecutorConfig{
		OutputDir:   cfg.DownloadDir,
		YTDLPPath:   cfg.YTDLPPath,
		GracePeriod: cfg.WorkerGracePeriod,
	})
	if err != nil {
		log.Fatalf("Failed to set up worker executor: %v", err)
	}

	manager := queue.NewManager(st, ctrl, exec, r, notifier, m)

	var archiveCheck func(ctx context.Context) error
	if cfg.ArchiveEnabled {
		client, err := archive.New(&archive.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("Failed to set up archive storage: %v", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			log.Fatalf("Failed to ensure archive bucket: %v", err)
		}
		archiveCheck = client.Ping

		archiver := archive.NewArchiver(client, manager.SetArchiveKey)
		manager.SetCompletionHook(func(j *job.Job) {
			archiver.Archive(context.Background(), j.ID, j.OutputPath)
		})
	}

	if err := manager.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue manager: %v", err)
	}

	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	hub := websocket.NewHub(m)
	go hub.Run(hubCtx)
	go hub.Relay(hubCtx, notifier)

	checker := health.NewChecker(&health.CheckerConfig{
		Store:        st,
		YTDLPPath:    cfg.YTDLPPath,
		ArchiveCheck: archiveCheck,
		Version:      version,
	})

	router := api.NewRouter(manager, health.NewHandler(checker), websocket.NewHandler(hub), m)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	go func() {
		appLog.Info(ctx, "server listening", map[string]any{
			"addr":   cfg.ServerAddr,
			"policy": cfg.SchedulingMode,
			"store":  cfg.StoreBackend,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	appLog.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 35*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Warn(ctx, "http shutdown failed", map[string]any{"error": err.Error()})
	}
	notifier.Close()
	if err := manager.Stop(shutdownCtx); err != nil {
		appLog.Warn(ctx, "queue shutdown incomplete", map[string]any{"error": err.Error()})
	}
	r.Close()
}

func newStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreBackend == "postgres" {
		return store.NewPostgresStore(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
	}
	return store.NewRedisStore(cfg.RedisURL)
}
