package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"paddlearena/gameserver/internal/auth"
	"paddlearena/gameserver/internal/config"
	"paddlearena/gameserver/internal/journal"
	"paddlearena/gameserver/internal/logging"
	"paddlearena/gameserver/internal/match"
	"paddlearena/gameserver/internal/rooms"
	"paddlearena/gameserver/internal/store"
)

const shutdownGrace = 10 * time.Second

func main() {
	//1.- Environment files are a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration invalid: %v", err)
	}
	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer logger.Close()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Fatal("database connection failed", logging.Error(err))
	}
	st := store.New(db)
	if err := st.AutoMigrate(); err != nil {
		logger.Fatal("database migration failed", logging.Error(err))
	}

	verifier, err := auth.NewTokenVerifier(cfg.AuthSecret, 2*time.Second)
	if err != nil {
		logger.Fatal("token verifier setup failed", logging.Error(err))
	}

	service := match.NewService(st, match.NopPresence{}, logger)

	var journals rooms.JournalOpener
	var sweeper *journal.Sweeper
	if cfg.JournalDir != "" {
		journals = journal.NewArchive(cfg.JournalDir, int(cfg.TickRate))
		sweeper = journal.NewSweeper(cfg.JournalDir, journal.RetentionPolicy{
			MaxMatches: cfg.JournalMaxMatches,
			MaxAge:     cfg.JournalMaxAge,
		}, logger)
	}

	//2.- The gateway broadcasts for the scheduler, so wire them both ways.
	gateway := NewGateway(service, verifier, cfg, logger)
	scheduler := rooms.NewScheduler(service, gateway, rooms.Options{
		TickRate:     cfg.TickRate,
		WinScore:     cfg.WinScore,
		StoreTimeout: cfg.StoreTimeout,
		Journals:     journals,
		Logger:       logger,
	})
	gateway.AttachScheduler(scheduler)

	maintenance := startMaintenance(cfg, scheduler, sweeper, logger)

	mux := http.NewServeMux()
	mux.Handle("/game", gateway)
	server := &http.Server{Addr: cfg.Address, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("gameserver listening", logging.String("address", cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", logging.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", logging.Error(err))
	}
	scheduler.Shutdown()
	if maintenance != nil {
		if err := maintenance.Shutdown(); err != nil {
			logger.Warn("maintenance shutdown incomplete", logging.Error(err))
		}
	}
}

// startMaintenance schedules the recurring background jobs: journal retention
// sweeps and a periodic tick-health report.
func startMaintenance(cfg *config.Config, scheduler *rooms.Scheduler, sweeper *journal.Sweeper, logger *logging.Logger) gocron.Scheduler {
	jobs, err := gocron.NewScheduler()
	if err != nil {
		logger.Warn("maintenance scheduler unavailable", logging.Error(err))
		return nil
	}

	if sweeper != nil {
		_, err = jobs.NewJob(
			gocron.DurationJob(cfg.MaintenanceInterval),
			gocron.NewTask(func() {
				sweeper.Sweep()
				stats := sweeper.Stats()
				logger.Debug("journal retention sweep finished",
					logging.Int("matches", stats.Matches),
					logging.Int("bytes", int(stats.Bytes)))
			}),
		)
		if err != nil {
			logger.Warn("journal sweep job not scheduled", logging.Error(err))
		}
	}

	_, err = jobs.NewJob(
		gocron.DurationJob(cfg.MaintenanceInterval),
		gocron.NewTask(func() {
			for matchID, stats := range scheduler.Stats() {
				logger.Debug("tick health",
					logging.String("match_id", matchID),
					logging.Int("samples", stats.Samples),
					logging.Duration("average", stats.Average),
					logging.Duration("max", stats.Max))
			}
		}),
	)
	if err != nil {
		logger.Warn("tick health job not scheduled", logging.Error(err))
	}

	jobs.Start()
	return jobs
}
