package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mediaconv/artifacts"
	"mediaconv/config"
	"mediaconv/credentials"
	"mediaconv/delivery"
	"mediaconv/errors"
	"mediaconv/failures"
	"mediaconv/imageproc"
	"mediaconv/logger"
	"mediaconv/models"
	"mediaconv/ratelimit"
	"mediaconv/routes"
	"mediaconv/scheduler"
	"mediaconv/success"
	"mediaconv/transcode"
	"mediaconv/utils"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP conversion server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg())
		},
	}
	cmd.Flags().Int("port", 0, "HTTP listen port")
	bindFlags(config.GetViper(), cmd.Flags(), map[string]string{"port": "server.port"})
	return cmd
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Workers:        cfg.Workers,
		DenyPolicy:     scheduler.DenyPolicy(cfg.Queue.DenyPolicy),
		RequeueBackoff: cfg.Queue.RequeueBackoff,
		JobTimeout:     cfg.Queue.JobTimeout,
		MaxImageBytes:  cfg.Limits.MaxImageBytes,
		MaxVideoBytes:  cfg.Limits.MaxVideoBytes,
	}
}

func pipelines(cfg *config.Config) map[models.Kind]scheduler.Pipeline {
	return map[models.Kind]scheduler.Pipeline{
		models.KindImage: imageproc.New(),
		models.KindVideo: transcode.New(transcode.Options{
			FFmpeg:  cfg.Transcode.FFmpeg,
			FFprobe: cfg.Transcode.FFprobe,
			TempDir: cfg.Transcode.TempDir,
		}),
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger.Info("Starting mediaconv server initialization")

	if err := os.MkdirAll(config.GetDataDir(), 0o755); err != nil {
		return errors.Wrap(err, "create data dir")
	}

	creds, err := credentials.Open(config.GetCredentialsDBPath())
	if err != nil {
		return errors.Wrap(err, "open credentials store")
	}
	defer creds.Close()

	fails, err := failures.Open(config.GetFailuresDBPath())
	if err != nil {
		return errors.Wrap(err, "open failure store")
	}
	defer fails.Close()

	succ, err := success.Open(config.GetSuccessDBPath())
	if err != nil {
		return errors.Wrap(err, "open success store")
	}
	defer succ.Close()

	arts, err := artifacts.Open(config.GetArtifactsDBPath())
	if err != nil {
		return errors.Wrap(err, "open artifact store")
	}
	defer arts.Close()
	logger.Info("Databases opened successfully")

	// Deliveries outlive ctx so jobs that finish during shutdown are still
	// recorded.
	deliveryCtx, cancelDelivery := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDelivery()

	limiter := ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	events := delivery.NewEventBus(0)
	recorder := delivery.New(deliveryCtx, delivery.Options{
		Artifacts:   arts,
		Successes:   succ,
		Failures:    fails,
		Credentials: creds,
		ServeDir:    config.GetDirectServeBaseDir(),
		Events:      events,
		UserAgent:   "mediaconv/" + routes.Version(),

		ReleaseAfterDelivery: true,
	})
	sched := scheduler.New(schedulerConfig(cfg), limiter, pipelines(cfg), recorder)
	recorder.Bind(sched)

	var auth *utils.VerifyConfig
	if cfg.Auth.JWTSecret != "" {
		auth = &utils.VerifyConfig{
			SecretKey:      []byte(cfg.Auth.JWTSecret),
			ExpectedIssuer: cfg.Auth.Issuer,
			ClockSkew:      cfg.Auth.ClockSkew,
		}
	} else {
		logger.Warn("auth.jwt_secret is empty; uploads are unauthenticated and rate limited by client address")
	}

	server := routes.New(routes.Deps{
		Scheduler:   sched,
		Events:      events,
		Artifacts:   arts,
		Successes:   succ,
		Failures:    fails,
		Credentials: creds,
		Auth:        auth,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := sched.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		logger.Infof("mediaconv server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		cleanupRoutine(gctx, cfg, limiter, succ, fails, arts)
		return nil
	})

	err = g.Wait()
	logger.Info("Shutting down scheduler")
	sched.Stop()
	recorder.Wait()
	logger.Info("mediaconv server stopped")
	return err
}

// cleanupRoutine sweeps idle limiter windows every rate-limit window and
// drops records older than retention.max_age every retention.interval.
func cleanupRoutine(ctx context.Context, cfg *config.Config, limiter *ratelimit.Limiter, succ *success.Store, fails *failures.Store, arts *artifacts.Store) {
	log := logger.Named("cleanup")
	sweep := time.NewTicker(cfg.RateLimit.Window)
	defer sweep.Stop()
	retention := time.NewTicker(cfg.Retention.Interval)
	defer retention.Stop()

	maxAge := cfg.Retention.MaxAge
	for {
		select {
		case <-ctx.Done():
			log.Info("Cleanup routine stopped")
			return
		case <-sweep.C:
			if n := limiter.Sweep(); n > 0 {
				log.Debugf("Dropped %d expired rate-limit windows", n)
			}
		case <-retention.C:
			log.Infof("Removing records older than %v", maxAge)
			if n, err := succ.CleanupOldRecords(maxAge); err != nil {
				log.Errorf("Failed to cleanup old success records: %v", err)
			} else {
				log.Infof("Removed %d success records", n)
			}
			if n, err := fails.CleanupOldRecords(maxAge); err != nil {
				log.Errorf("Failed to cleanup old failure records: %v", err)
			} else {
				log.Infof("Removed %d failure records", n)
			}
			if n, err := arts.CleanupOlderThan(maxAge); err != nil {
				log.Errorf("Failed to cleanup old artifacts: %v", err)
			} else {
				log.Infof("Removed %d artifacts", n)
			}
		}
	}
}
