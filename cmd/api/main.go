package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/app"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/clock"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/config"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/notify"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/payment"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/signer"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/storage/postgres"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/storage/redisstore"
	transporthttp "github.com/FrankSpooren/HolidaiButler-sub005/internal/transport/http"
	"github.com/FrankSpooren/HolidaiButler-sub005/migrations"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := log.Default()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		log.Fatalf("db ping: %v", err)
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(startupCtx).Err(); err != nil {
		// Holds and the availability cache degrade gracefully, so a slow
		// Redis does not block startup.
		logger.Printf("WARN: redis ping: %v", err)
	}

	clk := clock.NewSystem()

	slotRepo := postgres.NewSlotRepository(pool)
	bookingRepo := postgres.NewBookingRepository(pool)
	ticketRepo := postgres.NewTicketRepository(pool)

	cache := redisstore.NewAvailabilityCache(redisClient, cfg.CacheTTL())
	holds := redisstore.NewHoldRegistry(redisClient)

	ledgerSvc := app.NewLedgerService(slotRepo, cache, clk, logger)
	ticketSvc := app.NewTicketService(ticketRepo, signer.New(cfg.TicketSigningSecret), clk)

	var payments app.PaymentProvider
	if cfg.OmiseSecretKey != "" {
		provider, err := payment.NewOmiseProvider(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.PaymentReturnURI)
		if err != nil {
			log.Fatalf("init payment provider: %v", err)
		}
		payments = provider
	} else {
		logger.Printf("WARN: OMISE_SECRET_KEY not set, payment sessions disabled")
	}

	var deliverer app.Deliverer
	if cfg.RabbitURL != "" {
		publisher, err := notify.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Fatalf("init notification publisher: %v", err)
		}
		defer publisher.Close()
		deliverer = publisher
	} else {
		logger.Printf("WARN: RABBIT_URL not set, ticket delivery disabled")
	}

	bookingSvc := app.NewBookingService(
		bookingRepo, ledgerSvc, holds, payments, ticketSvc, deliverer, clk, logger,
		app.WithHoldTTL(cfg.HoldTTL()),
		app.WithPricing(cfg.TaxRate, cfg.BookingFee, cfg.CommissionRate),
	)

	reconcilerCtx, stopReconciler := context.WithCancel(context.Background())
	defer stopReconciler()
	reconciler := app.NewReconciler(bookingSvc, cfg.ReconcileInterval(), logger)
	go reconciler.Run(reconcilerCtx)

	handler := transporthttp.NewRouter(transporthttp.RouterDeps{
		Ledger:      ledgerSvc,
		Bookings:    bookingSvc,
		Tickets:     ticketSvc,
		CORSOrigins: parseCSV(cfg.CORSOrigins),
		Logger:      logger,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	log.Printf("api listening on :%s", cfg.Port)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
		}
	case <-stopCtx.Done():
		log.Printf("shutdown signal received, stopping server")
	}

	stopReconciler()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server shutdown error: %v", err)
	}
	log.Printf("server stopped")
}

func parseCSV(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
