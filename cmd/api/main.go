package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/api"
	"github.com/safar/settlement-core/internal/auth"
	"github.com/safar/settlement-core/internal/commission"
	"github.com/safar/settlement-core/internal/config"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/eventbus"
	"github.com/safar/settlement-core/internal/inventory"
	"github.com/safar/settlement-core/internal/notify"
	"github.com/safar/settlement-core/internal/orders"
	"github.com/safar/settlement-core/internal/payment"
	"github.com/safar/settlement-core/internal/store"
	"github.com/safar/settlement-core/internal/store/memstore"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Load config")
	}
	setupLogger(cfg.LogLevel)

	st, closeStore := openStore(cfg)
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifier notify.Sender = notify.LogSender{}
	var bus *eventbus.RabbitMQManager
	if cfg.RabbitMQ.Enabled() {
		bus, err = eventbus.NewRabbitMQManager(cfg.RabbitMQ)
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ unavailable, falling back to log notifications")
		} else {
			defer bus.Close()
			notifier = notify.NewAMQPSender(bus)
		}
	}

	pricing := orders.Pricing{
		TaxPercent:   cfg.Pricing.TaxPercent,
		ShippingCost: cfg.Pricing.ShippingCost,
		Currency:     cfg.Pricing.Currency,
	}
	engine := orders.NewEngine(st, pricing, orders.CouponPolicy{}, notifier)
	commissions := commission.NewEngine(st)
	lifecycle := orders.NewLifecycle(st, commissions, notifier)
	gate := payment.NewGate(
		payment.NewSigner(cfg.Payment.KeySecret),
		st,
		payment.NewClient(cfg.Payment),
		engine,
		cfg.Payment.KeyID,
	)

	if bus != nil {
		if err := bus.StartConsuming(ctx, eventbus.FulfillmentHandler(lifecycle)); err != nil {
			log.Error().Err(err).Msg("Start fulfillment consumer")
		}
	}
	go commissions.RunReconciler(ctx, cfg.Commission.BackfillInterval)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(&api.Handler{
		Gate:       gate,
		Lifecycle:  lifecycle,
		Orders:     st,
		Commission: commissions,
		Ledger:     inventory.NewLedger(st),
		Issuer:     auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
	}, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("store", cfg.Database.Driver).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown")
	}
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if lvl <= zerolog.DebugLevel {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func openStore(cfg *config.Config) (store.Store, func()) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory store; data is lost on exit")
		return memstore.New(), func() {}
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Connect to database")
	}
	return store.NewPostgres(db), func() { db.Close() }
}
