// README: serve subcommand; wires stores, services, hub and HTTP server, runs background loops.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"courierdispatch/internal/config"
	httptransport "courierdispatch/internal/http"
	"courierdispatch/internal/http/handlers"
	"courierdispatch/internal/infra"
	"courierdispatch/internal/metrics"
	"courierdispatch/internal/modules/courier"
	"courierdispatch/internal/modules/dispatch"
	"courierdispatch/internal/modules/eta"
	"courierdispatch/internal/modules/location"
	"courierdispatch/internal/modules/matching"
	"courierdispatch/internal/modules/order"
	"courierdispatch/internal/notify"
	"courierdispatch/internal/realtime"
	"courierdispatch/internal/types"
)

var (
	inMemory    bool
	autoMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch API, realtime hub and timeout sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		log := infra.NewLogger(cfg.Log.Level, cfg.Log.Pretty)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&inMemory, "memory", false, "Keep all state in memory instead of Postgres")
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply migrations before serving")
}

type courierStore interface {
	dispatch.Directory
	location.Directory
	handlers.CourierDirectory
}

type backends struct {
	couriers courierStore
	orders   order.Repository
	dispatch dispatch.Store
	history  location.History
	close    func()
}

func openBackends(ctx context.Context, cfg config.Config, log zerolog.Logger) (*backends, error) {
	if inMemory {
		log.Warn().Msg("using in-memory stores; state is lost on exit")
		return &backends{
			couriers: courier.NewMemoryStore(),
			orders:   order.NewMemoryStore(),
			dispatch: dispatch.NewMemoryStore(),
			history:  location.NewMemoryStore(),
			close:    func() {},
		}, nil
	}
	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if autoMigrate {
		if err := infra.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &backends{
		couriers: courier.NewStore(pool),
		orders:   order.NewStore(pool),
		dispatch: dispatch.NewPGStore(pool),
		history:  location.NewStore(pool),
		close:    pool.Close,
	}, nil
}

func newVerifier(ctx context.Context, cfg config.Config, log zerolog.Logger) (infra.TokenVerifier, error) {
	if cfg.Firebase.ProjectID == "" {
		log.Warn().Msg("DISPATCH_FIREBASE_PROJECT_ID unset; accepting dev tokens of the form role:uid")
		return infra.DevVerifier{}, nil
	}
	v, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	return v, nil
}

// newNotifier returns the vendor notifier and a cleanup func.
func newNotifier(cfg config.NotifyConfig, log zerolog.Logger) (notify.Notifier, func(), error) {
	switch cfg.Backend {
	case "", "log":
		return notify.NewLogNotifier(log), func() {}, nil
	case "mqtt":
		client, err := infra.NewMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewMQTTNotifier(client, cfg.MQTTPrefix), func() { client.Disconnect(250) }, nil
	case "kafka":
		producer, err := infra.NewKafkaProducer(cfg.KafkaBrokers, "dispatchd")
		if err != nil {
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		return notify.NewKafkaNotifier(producer, cfg.KafkaTopic), func() { _ = producer.Close() }, nil
	case "none":
		return notify.Nop{}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	be, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	verifier, err := newVerifier(ctx, cfg, log)
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := newNotifier(cfg.Notify, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var geo *matching.Store
	if cfg.Redis.Addr != "" {
		geo = matching.NewStore(infra.NewRedis(cfg.Redis.Addr))
	} else if cfg.Dispatch.UseGeoIndex {
		log.Warn().Msg("geo index requested without DISPATCH_REDIS_ADDR; scoring every available courier")
	}

	orderSvc := order.NewService(be.orders)

	// the hub authorizes subscriptions through the dispatcher, which in turn publishes on the hub
	var dispatchSvc *dispatch.Service
	hub := realtime.NewHub(realtime.NewRegistry(), realtime.NewTokenVerifier(verifier), realtime.AuthorizerFunc(func(ctx context.Context, who realtime.Identity, jobID types.ID) (bool, error) {
		return dispatchSvc.CanObserve(ctx, who, jobID)
	}),
		realtime.WithLogger(log),
		realtime.WithMetrics(m),
		realtime.WithQueueSize(cfg.Realtime.QueueSize),
	)

	dispatchDeps := dispatch.Deps{
		Store:    be.dispatch,
		Couriers: be.couriers,
		Orders:   orderSvc,
		Hub:      hub,
		Notifier: notifier,
		Metrics:  m,
		Log:      log,
	}
	locationDeps := location.Deps{
		Directory: be.couriers,
		History:   be.history,
		ETA:       eta.NewEstimator(cfg.ETA.AverageSpeedKmh, time.Local),
		Hub:       hub,
		Metrics:   m,
		Log:       log,
	}
	if geo != nil {
		dispatchDeps.Geo = geo
		locationDeps.Geo = geo
	}
	dispatchSvc = dispatch.NewService(dispatchDeps, cfg.Dispatch)
	locationDeps.Dispatcher = dispatchSvc
	locationSvc := location.NewService(locationDeps)

	ws := realtime.NewWSHandler(hub, realtime.WSOptions{
		WriteTimeout:    cfg.Realtime.WriteTimeout,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
	}, log)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Dispatch: dispatchSvc,
		Location: locationSvc,
		Orders:   orderSvc,
		Couriers: be.couriers,
		Realtime: ws,
		Verifier: verifier,
		Gatherer: reg,
		Log:      log,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes(), ReadHeaderTimeout: 10 * time.Second}

	go dispatch.NewSweeper(dispatchSvc, cfg.Dispatch.SweepInterval).Run(ctx)
	go hub.RunHeartbeat(ctx, cfg.Realtime.HeartbeatInterval)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	hub.Shutdown()
	return server.Shutdown(shutdownCtx)
}
