// Command option-sweeper runs one option expiry pass and exits. It is meant for cron
// style deployments where the service runs with OPTION_SWEEP_ENABLED=false.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-reservations/internal/capacity"
	"ms-reservations/internal/config"
	"ms-reservations/internal/database"
	"ms-reservations/internal/expiry"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/notify"
	"ms-reservations/internal/pricing"
	"ms-reservations/internal/reservation"
	"ms-reservations/internal/waitlist"

	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup, the notifier drain in particular,
// happens before the process exits.
func run() int {
	reconcile := flag.Bool("reconcile", false, "rebuild every event's remaining capacity before sweeping")
	dryRun := flag.Bool("dry-run", false, "list due options without expiring them")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall time limit")
	flag.Parse()

	log := logger.NewLogger("option-sweeper")
	defer log.Close()

	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Error("DATABASE", err.Error())
		return 1
	}
	defer bunDB.Close()

	redisClient, err := database.ConnectRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Error("REDIS", err.Error())
		return 1
	}

	var locker capacity.Locker = capacity.NewLocalLocker()
	var sweepLock expiry.SweepLock
	if redisClient != nil {
		defer redisClient.Close()
		locker = capacity.NewRedisLocker(redisClient, cfg.Reservation.LockTTL, cfg.Reservation.LockRetries)
		sweepLock = capacity.NewRedisLocker(redisClient, cfg.Reservation.SweepLockTTL, 0)
	}

	dispatcher := notify.NewDispatcher(notify.NewTransport(cfg, log), notify.Options{
		Buffer:     cfg.Notifier.Buffer,
		Workers:    cfg.Notifier.Workers,
		MaxElapsed: cfg.Notifier.MaxElapsed,
	}, log)
	dispatcher.Start(context.WithoutCancel(ctx))
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Error("NOTIFY", fmt.Sprintf("Dispatcher close: %v", err))
		}
		st := dispatcher.Stats()
		fmt.Printf("notifications delivered=%d failed=%d dropped=%d\n", st.Delivered, st.Failed, st.Dropped)
	}()

	svc := reservation.NewService(bunDB, locker, pricing.NewCatalog(&pricing.DBSource{Bun: bunDB}, nil), dispatcher, log, reservation.Config{
		OptionTTL:  cfg.Reservation.OptionTTL,
		MaxRetries: cfg.Reservation.MaxRetries,
		SweepBatch: cfg.Reservation.SweepBatch,
	})
	wl := waitlist.NewService(bunDB, svc, dispatcher, log, cfg.Reservation.WaitlistOfferTTL)
	svc.SetPromoter(wl)

	if *reconcile {
		remaining, err := svc.ReconcileAll(ctx)
		if err != nil {
			log.Error("CAPACITY", fmt.Sprintf("Reconcile failed: %v", err))
			return 1
		}
		for eventID, n := range remaining {
			fmt.Printf("reconciled %s remaining=%d\n", eventID, n)
		}
	}

	if *dryRun {
		due, err := svc.Store().ListExpiredOptions(ctx, time.Now().UTC(), cfg.Reservation.SweepBatch)
		if err != nil {
			log.Error("SWEEP", err.Error())
			return 1
		}
		for _, id := range due {
			fmt.Printf("due %s\n", id)
		}
		return 0
	}

	scheduler := expiry.NewScheduler(svc, wl, sweepLock, log, expiry.Options{Batch: cfg.Reservation.SweepBatch})
	res, err := scheduler.ExpireOptionsNow(ctx)
	if err != nil {
		log.Error("SWEEP", fmt.Sprintf("Sweep failed: %v", err))
		return 1
	}
	fmt.Printf("processed=%d expired=%d failed=%d took=%s\n", res.Processed, res.Expired, len(res.Failures), res.Took)
	for _, f := range res.Failures {
		fmt.Printf("failure %s: %s\n", f.ID, f.Reason)
	}
	if len(res.Failures) > 0 {
		return 2
	}
	return 0
}
