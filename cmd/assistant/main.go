// Command assistant runs the synchronization and notification engine: the
// scheduled BI sync jobs, the Telegram notifications they produce and a
// small ops HTTP server for probes, metrics and manual job runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-staff-assistant/internal/config"
	apihttp "github.com/tbourn/go-staff-assistant/internal/http"
	"github.com/tbourn/go-staff-assistant/internal/llm"
	"github.com/tbourn/go-staff-assistant/internal/nbu"
	"github.com/tbourn/go-staff-assistant/internal/notify"
	"github.com/tbourn/go-staff-assistant/internal/observability"
	"github.com/tbourn/go-staff-assistant/internal/pbi"
	"github.com/tbourn/go-staff-assistant/internal/repo"
	"github.com/tbourn/go-staff-assistant/internal/scheduler"
	"github.com/tbourn/go-staff-assistant/internal/services"
	"github.com/tbourn/go-staff-assistant/internal/sysutil"
)

var version = "dev"

func main() {
	once := flag.String("once", "", "run a single job by name and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, *once)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("assistant stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, once string) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version))
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := repo.NewStore(db)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	cal, err := scheduler.NewCalendar(cfg.Holidays)
	if err != nil {
		return err
	}

	sched := scheduler.New(loc, scheduler.NewRunner(store))
	if err := registerJobs(sched, cfg, store, loc, cal); err != nil {
		return err
	}

	if once != "" {
		res, err := sched.RunNow(ctx, once)
		if err != nil {
			return err
		}
		log.Info().Str("job", res.Job).Str("outcome", res.Outcome).Dur("took", res.Duration).Msg("single run finished")
		return res.Err
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	apihttp.RegisterRoutes(r, store, sched, cfg)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	sched.Start(ctx)
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Strs("jobs", sched.Names()).Msg("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func registerJobs(s *scheduler.Scheduler, cfg config.Config, store *repo.Store, loc *time.Location, cal *scheduler.Calendar) error {
	dir := pbi.New(cfg.PBI)
	tg := notify.NewTelegram(cfg.Telegram)
	clock := services.SystemClock{}

	identity := &services.IdentityService{Dir: dir, Store: store, Clock: clock, ActiveStatuses: cfg.ActiveStatuses}
	payments := &services.PaymentService{Dir: dir, Store: store, Notifier: tg, Clock: clock, PruneStale: cfg.PruneStale}
	devaluation := &services.DevaluationService{Dir: dir, Store: store, Notifier: tg, AdminChatIDs: cfg.AdminChatIDs}
	bonusDocs := &services.BonusDocService{Dir: dir, Store: store, Notifier: tg, Clock: clock}
	birthdays := &services.BirthdayService{
		Dir:      dir,
		Store:    store,
		Notifier: tg,
		Greeter:  llm.NewGreeter(cfg.OpenAIKey, cfg.OpenAIModel, store),
		Clock:    clock,
		Location: loc,
	}
	reminder := &services.ReminderService{Store: store, Notifier: tg, Calendar: cal, Clock: clock, Location: loc, Text: cfg.ReminderText}
	rates := &services.RatesService{Source: nbu.New(cfg.NBUURL, nil), Store: store, Clock: clock}

	jobs := []scheduler.Job{
		{Name: "identity", Every: cfg.Schedule.Identity, Run: func(ctx context.Context) error {
			rep, err := identity.Reconcile(ctx)
			logReport(ctx, rep)
			return err
		}},
		{Name: "payments", Every: cfg.Schedule.Payments, Run: scheduler.Steps(
			func(ctx context.Context) error {
				rep, err := payments.SyncAll(ctx)
				logReport(ctx, rep)
				return err
			},
			func(ctx context.Context) error {
				rep, err := payments.NotifyPending(ctx)
				logReport(ctx, rep)
				return err
			},
		)},
		{Name: "devaluation", Every: cfg.Schedule.Devaluation, Run: scheduler.Steps(
			func(ctx context.Context) error {
				rep, err := devaluation.Import(ctx)
				logReport(ctx, rep)
				return err
			},
			func(ctx context.Context) error {
				rep, err := devaluation.Notify(ctx)
				logReport(ctx, rep)
				return err
			},
		)},
		{Name: "bonus_docs", Every: cfg.Schedule.BonusDocs, Run: scheduler.Steps(
			func(ctx context.Context) error {
				rep, err := bonusDocs.Sync(ctx)
				logReport(ctx, rep)
				return err
			},
			// Doc employees are resolved upstream, so this pass also needs the BI service.
			func(ctx context.Context) error {
				rep, err := bonusDocs.Notify(ctx)
				logReport(ctx, rep)
				return err
			},
		)},
		{Name: "birthdays", DailyAt: cfg.Schedule.BirthdayAt, Run: func(ctx context.Context) error {
			rep, err := birthdays.Dispatch(ctx)
			logReport(ctx, rep)
			return err
		}},
		{Name: "reminder", DailyAt: cfg.Schedule.ReminderAt, Run: func(ctx context.Context) error {
			rep, due, err := reminder.Run(ctx)
			if due {
				logReport(ctx, rep)
			}
			return err
		}},
		{Name: "rates", DailyAt: cfg.Schedule.RatesAt, Run: func(ctx context.Context) error {
			r, err := rates.Refresh(ctx)
			if err == nil {
				log.Ctx(ctx).Info().Str("rate", r.Rate.String()).Msg("usd rate stored")
			}
			return err
		}},
	}
	for _, j := range jobs {
		if err := s.Register(j); err != nil {
			return err
		}
	}
	return nil
}

func logReport(ctx context.Context, rep any) {
	log.Ctx(ctx).Info().Interface("report", rep).Msgf("%T", rep)
}
