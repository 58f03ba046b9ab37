// Package main runs the trade lifecycle web service: the HTTP API, the live
// websocket endpoint and, with postgres, the LISTEN/NOTIFY change feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"confianza/internal/auth"
	"confianza/internal/config"
	"confianza/internal/domain"
	"confianza/internal/httpapi"
	"confianza/internal/lifecycle"
	"confianza/internal/storage"
	chstore "confianza/internal/storage/clickhouse"
	"confianza/internal/storage/memory"
	"confianza/internal/storage/migrations"
	pgstore "confianza/internal/storage/postgres"
	"confianza/internal/trading"
)

const demoOfferID = "demo-offer"

func main() {
	demoOffer := flag.Bool("demo-offer", false, "Create an active offer owned by demo-seller if missing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	logger := cfg.NewLogger()

	if err := lifecycle.Verify(); err != nil {
		logger.WithError(err).Fatal("inconsistent trade state table")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open storage")
	}
	defer b.close()

	if *demoOffer {
		if err := seedDemoOffer(ctx, b.offers); err != nil {
			logger.WithError(err).Fatal("failed to create demo offer")
		}
		logger.WithField("offer_id", demoOfferID).Info("demo offer ready")
	}

	if err := serve(ctx, cfg, b, logger); err != nil {
		logger.WithError(err).Fatal("server error")
	}
	logger.Info("shutdown complete")
}

// backend holds the stores selected by configuration.
type backend struct {
	trades storage.TradeStore
	offers storage.OfferStore
	feed   storage.ChangeFeed
	events storage.TransitionEventStore

	// listen runs the change feed until ctx ends, nil when the feed needs no
	// background work
	listen  func(ctx context.Context) error
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger *log.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.DBType {
	case config.DBPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			b.close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}

		feed := pgstore.NewChangeFeed(pool, pgstore.ChangeFeedConfig{
			ReconnectDelay: cfg.FeedReconnectDelay,
		}, logger.WithField("component", "change_feed"))

		b.trades = pgstore.NewTradeStore(pool)
		b.offers = pgstore.NewOfferStore(pool)
		b.feed = feed
		b.listen = feed.Run

	default:
		feed := memory.NewChangeFeed(0)
		b.trades = memory.NewTradeStore(feed)
		b.offers = memory.NewOfferStore()
		b.feed = feed
		b.closers = append(b.closers, feed.Close)
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		b.closers = append(b.closers, func() { conn.Close() })
		b.events = chstore.NewTransitionEventStore(conn)
	} else {
		b.events = memory.NewTransitionEventStore()
	}

	logger.WithFields(log.Fields{
		"db_type":     cfg.DBType,
		"audit_store": auditStoreName(cfg),
	}).Info("storage ready")
	return b, nil
}

func auditStoreName(cfg *config.Config) string {
	if cfg.ClickHouseDSN != "" {
		return "clickhouse"
	}
	return "memory"
}

func serve(ctx context.Context, cfg *config.Config, b *backend, logger *log.Logger) error {
	api := httpapi.NewServer(httpapi.Options{
		Executor: trading.NewExecutor(b.trades, logger.WithField("component", "executor"),
			trading.WithAuditTrail(b.events)),
		Opener:       trading.NewOpener(b.offers, b.trades, logger.WithField("component", "opener")),
		Trades:       b.trades,
		Feed:         b.feed,
		Sessions:     auth.NewSessions(cfg.SessionSecret, cfg.SessionCookie, cfg.SessionTTL),
		Logger:       logger.WithField("component", "http"),
		PingInterval: cfg.WSPingInterval,
	})

	// request contexts end at shutdown so live streams return
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)

	g, gctx := errgroup.WithContext(ctx)

	if b.listen != nil {
		g.Go(func() error {
			return b.listen(gctx)
		})
	}

	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func seedDemoOffer(ctx context.Context, offers storage.OfferStore) error {
	now := time.Now().UTC()
	err := offers.Insert(ctx, &domain.Offer{
		ID:              demoOfferID,
		UserID:          "demo-seller",
		Status:          domain.OfferActive,
		CryptoAsset:     "USDC",
		FiatCurrency:    "COP",
		PricePerCrypto:  decimal.RequireFromString("3900"),
		MinTradeLimit:   decimal.RequireFromString("50000"),
		MaxTradeLimit:   decimal.RequireFromString("2000000"),
		AvailableAmount: decimal.RequireFromString("1000"),
		PaymentMethod: &domain.PaymentMethod{
			Method:  "bank_transfer",
			Details: "Bancolombia savings account",
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, storage.ErrDuplicateKey) {
		return nil
	}
	return err
}
