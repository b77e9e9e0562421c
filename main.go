package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"jewellery-storefront/handlers"
	"jewellery-storefront/internal/auth"
	"jewellery-storefront/internal/cart"
	"jewellery-storefront/internal/config"
	"jewellery-storefront/internal/consul"
	"jewellery-storefront/internal/orders"
	"jewellery-storefront/internal/pricing"
	"jewellery-storefront/internal/products"
	"jewellery-storefront/internal/rates"
	"jewellery-storefront/internal/stores/kafka"
	"jewellery-storefront/internal/stores/postgres"
	"jewellery-storefront/internal/stores/redis"

	"github.com/google/uuid"
)

func main() {
	if err := run(); err != nil {
		slog.Error("storefront stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(log.With(slog.String("service", cfg.ServiceName)))
	log = slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.OpenDB(cfg.DB.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(db); err != nil {
		return err
	}

	var rateStore rates.Store
	pgRates, err := rates.NewConf(db)
	if err != nil {
		return err
	}
	rateStore = pgRates
	if cfg.Redis.URL != "" {
		rdb, err := redis.Connect(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		rateStore = rates.NewCachedStore(pgRates, rdb, cfg.Redis.RateTTL, log)
		log.Info("rate cache enabled", slog.String("addr", cfg.Redis.URL))
	}

	// the services treat a nil publisher as "events disabled"
	var (
		rateEvents  rates.EventPublisher
		orderEvents orders.EventPublisher
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewConf(cfg.Kafka.Brokers, cfg.ServiceName)
		if err != nil {
			return err
		}
		defer producer.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := producer.Ping(pingCtx); err != nil {
			log.Warn("kafka brokers unreachable at startup", slog.String("error", err.Error()))
		}
		cancel()
		rateEvents, orderEvents = producer, producer
		log.Info("event publishing enabled", slog.String("brokers", strings.Join(cfg.Kafka.Brokers, ",")))
	}

	productStore, err := products.NewConf(db)
	if err != nil {
		return err
	}
	cartStore, err := cart.NewConf(db)
	if err != nil {
		return err
	}
	orderStore, err := orders.NewConf(db)
	if err != nil {
		return err
	}

	projector := products.NewProjector(productStore, log)
	rateSvc, err := rates.NewService(rateStore, projector, rateEvents, log)
	if err != nil {
		return err
	}
	productSvc, err := products.NewService(productStore, rateSvc, projector)
	if err != nil {
		return err
	}
	ledger, err := cart.NewLedger(cartStore, productSvc, rateSvc, cfg.CartMaxRetries, log)
	if err != nil {
		return err
	}
	lifecycle, err := orders.NewLifecycle(orderStore, ledger, orderEvents,
		orders.Config{ShippingFee: pricing.Money(cfg.ShippingFlatFee)}, log)
	if err != nil {
		return err
	}

	keys, err := auth.NewKeys([]byte(cfg.JWTSecret))
	if err != nil {
		return err
	}
	h, err := handlers.NewHandler(rateSvc, productSvc, ledger, lifecycle)
	if err != nil {
		return err
	}
	router, err := handlers.API(cfg.EndpointPrefix, cfg.GinMode, keys, h)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := handlers.NewGRPCServer(ledger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}

	if cfg.ConsulAddr != "" {
		client, err := consul.NewClient(cfg.ConsulAddr)
		if err != nil {
			return err
		}
		id := cfg.ServiceName + "-" + uuid.NewString()
		if err := consul.RegisterService(client, cfg.ServiceName, id, cfg.HTTPAddr); err != nil {
			return err
		}
		defer func() {
			if err := consul.DeregisterService(client, id); err != nil {
				log.Error("failed to deregister service", slog.String("error", err.Error()))
			}
		}()
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info("grpc server listening", slog.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	grpcServer.GracefulStop()
	log.Info("servers stopped")
	return serveErr
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
