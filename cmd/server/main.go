// Command server runs one lender instance behind the HTTP admin surface.
// Wiring only; business logic lives in the internal services.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"flowlend/internal/asset"
	assetstore "flowlend/internal/asset/store"
	"flowlend/internal/authz"
	authzstore "flowlend/internal/authz/store"
	"flowlend/internal/backend"
	"flowlend/internal/backend/engineclient"
	"flowlend/internal/backend/registry"
	"flowlend/internal/fx"
	fxstore "flowlend/internal/fx/store"
	"flowlend/internal/ledger/events"
	ledgermodels "flowlend/internal/ledger/models"
	ledgerservice "flowlend/internal/ledger/service"
	ledgerstore "flowlend/internal/ledger/store"
	"flowlend/internal/lender"
	"flowlend/internal/platform/config"
	"flowlend/internal/platform/httpserver"
	"flowlend/internal/platform/kafka"
	"flowlend/internal/platform/logger"
	"flowlend/internal/platform/metrics"
	platformredis "flowlend/internal/platform/redis"
	policystore "flowlend/internal/policy/store"
	httptransport "flowlend/internal/transport/http"
	id "flowlend/pkg/domain"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.Postgres.URL != "" {
		var err error
		if db, err = sql.Open("postgres", cfg.Postgres.URL); err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var publisher events.Publisher = events.NewInMemory()
	var eventWorker *events.Worker
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub, err := kafka.NewPublisher(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer kafkaPub.Close()
		// Emission stays off the request path; the worker drains into Kafka.
		async := events.NewAsync(256, log)
		eventWorker = events.NewWorker(async, kafkaPub)
		publisher = async
	}

	var (
		ledgerStore ledgerservice.Store
		roleStore   authz.Store
		reg         backend.Registry
		assets      asset.Store
	)
	if db != nil {
		ledgerStore = ledgerstore.NewPostgres(db)
		roleStore = authzstore.NewPostgres(db)
		reg = registry.NewPostgres(db)
		assets = assetstore.NewPostgres(db)
	} else {
		ledgerStore = ledgerstore.NewMemory()
		roleStore = authzstore.NewMemory()
		reg = registry.NewMemory()
		assets = assetstore.NewMemory()
	}

	authzSvc, err := authz.New(roleStore, authz.WithLogger(log))
	if err != nil {
		return err
	}
	if cfg.Lender.Owner != "" {
		if err := roleStore.Grant(ctx, id.Principal(cfg.Lender.Owner), id.RoleOwner); err != nil {
			return fmt.Errorf("grant owner role: %w", err)
		}
	}

	if cfg.Backend.EngineURL == "" {
		return fmt.Errorf("FLOWLEND_ENGINE_URL is required")
	}
	b := &backend.Backend{
		ID:      id.BackendID(cfg.Backend.ID),
		Pool:    id.PoolID(cfg.Backend.Pool),
		Engine:  id.Principal(cfg.Backend.EnginePrincipal),
		Account: id.Principal(cfg.Backend.Account),
	}
	if cfg.Backend.PricerPrincipal != "" {
		b.PricerKeys = map[id.Principal][]byte{
			id.Principal(cfg.Backend.PricerPrincipal): []byte(cfg.Backend.PricerKey),
		}
	}
	if err := reg.Register(ctx, b); err != nil {
		return fmt.Errorf("register backend: %w", err)
	}

	var prices fx.PriceStore = fxstore.NewMemory()
	if redisClient != nil {
		prices = fxstore.NewRedis(redisClient.Client)
	}

	ledgerID := id.LedgerID(cfg.Lender.LedgerID)
	if ledgerID.IsNil() {
		ledgerID = id.NewLedgerID()
	}
	lenderCfg := lender.Config{
		Ledger: &ledgermodels.Ledger{
			ID:             ledgerID,
			Customer:       id.Principal(cfg.Lender.Customer),
			Account:        id.Principal(cfg.Lender.Account),
			FundingAsset:   id.AssetID(cfg.Lender.FundingAsset),
			DefaultBackend: b.ID,
		},
		LedgerStore:    ledgerStore,
		Assets:         assets,
		Authz:          authzSvc,
		Registry:       reg,
		Engine:         engineclient.New(cfg.Backend.EngineURL),
		Policies:       policystore.NewMemory(),
		Prices:         prices,
		PriceTolerance: cfg.Lender.PriceTolerance,
		Publisher:      publisher,
		Logger:         log,
	}

	var instance *lender.Lender
	switch lender.Flavor(cfg.Lender.Flavor) {
	case lender.FlavorPlain:
		instance, err = lender.NewPlain(lenderCfg)
	case lender.FlavorMultiBackend:
		instance, err = lender.NewMultiBackend(lenderCfg)
	case lender.FlavorFX:
		instance, err = lender.NewFX(lenderCfg)
	default:
		return fmt.Errorf("unknown flavor %q", cfg.Lender.Flavor)
	}
	if err != nil {
		return err
	}

	handler := httptransport.NewHandler(instance, log)
	router := httptransport.NewRouter(handler, []byte(cfg.Server.JWTSigningKey), metrics.NewHTTP())
	srv := httpserver.New(cfg.Server.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	if eventWorker != nil {
		g.Go(func() error {
			if err := eventWorker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		log.Info("lender listening",
			"addr", cfg.Server.Addr,
			"flavor", cfg.Lender.Flavor,
			"ledger_id", ledgerID,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
