package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"liblend/internal/config"
	"liblend/internal/lending"
	"liblend/internal/ratelimit"
	"liblend/internal/scheduler"
	"liblend/internal/server"
	"liblend/internal/util"
	"liblend/pkg/queue"
	"liblend/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	notifyQueue, err := queue.NewRedisNotifyQueue(queue.RedisNotifyConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueName,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		log.Fatalf("failed to init notify queue: %v", err)
	}

	engine, err := lending.New(lending.Config{
		Store:    st,
		Notifier: notifyQueue,
		Policy: lending.Policy{
			DefaultLoanDays:  cfg.DefaultLoanDays,
			MaxLoanDays:      cfg.MaxLoanDays,
			MaxExtendDays:    cfg.MaxExtendDays,
			MaxExtensions:    cfg.MaxExtensions,
			MinDaysBeforeDue: cfg.MinDaysBeforeDue,
			PenaltyPerDay:    cfg.PenaltyPerDay,
			ClaimWindow:      time.Duration(cfg.ClaimWindowHours) * time.Hour,
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("failed to init lending engine: %v", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Store: st,
		Tick:  time.Duration(cfg.SchedulerTickSecs) * time.Second,
		Jobs: []scheduler.Job{
			{Name: "overdue-sweep", Pattern: cfg.OverdueCron, Run: func(ctx context.Context) error {
				_, err := engine.OverdueSweep(ctx)
				return err
			}},
			{Name: "due-reminders", Pattern: cfg.ReminderCron, Run: func(ctx context.Context) error {
				_, err := engine.ReminderSweep(ctx)
				return err
			}},
			{Name: "reservation-expiry", Pattern: cfg.ExpiryCron, Run: func(ctx context.Context) error {
				_, err := engine.ReservationExpirySweep(ctx)
				return err
			}},
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("failed to init scheduler: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	limiter, err := ratelimit.New(redisClient, "liblend:ratelimit", 120, time.Minute)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	httpServer, err := server.New(server.Config{
		Lending:   engine,
		Scheduler: sched,
		Limiter:   limiter,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifyQueue.Start(ctx, 2, deliverNotification)
	if cfg.RunSweepsOnStartup {
		if err := sched.RunAll(ctx); err != nil {
			logger.Error("startup sweep run", "err", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sched.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		slog.Info("lending server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

// deliverNotification is the queue consumer. Mail and push transports hang
// off here; for now each delivery is recorded in the structured log.
func deliverNotification(_ context.Context, note queue.Notification) error {
	slog.Info("notification delivered",
		"id", note.ID,
		"kind", note.Kind,
		"attempts", note.Attempts,
		"payload", note.Payload,
	)
	return nil
}
