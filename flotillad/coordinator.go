// Package flotillad assembles and runs the coordinator service.
package flotillad

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/absmach/flotilla/coordinator"
	"github.com/absmach/flotilla/coordinator/api"
	"github.com/absmach/flotilla/coordinator/middleware"
	"github.com/absmach/flotilla/pkg/auth"
	"github.com/absmach/flotilla/pkg/fl"
	"github.com/absmach/flotilla/pkg/ledger"
	"github.com/absmach/flotilla/pkg/model"
	"github.com/absmach/flotilla/pkg/mqtt"
	"github.com/absmach/flotilla/pkg/privacy"
	"github.com/absmach/flotilla/pkg/ratelimit"
	"github.com/absmach/flotilla/pkg/round"
	"github.com/absmach/magistrala/pkg/jaeger"
	"github.com/absmach/magistrala/pkg/prometheus"
	"github.com/absmach/magistrala/pkg/server"
	httpserver "github.com/absmach/magistrala/pkg/server/http"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const svcName = "coordinator"

type Config struct {
	LogLevel   string
	InstanceID string
	DataDir    string
	ModelShape fl.Shape

	MQTTAddress string
	MQTTQoS     uint8
	MQTTTimeout time.Duration

	Async               coordinator.AsyncConfig
	Incentives          ledger.IncentiveConfig
	PrivacyMaxMagnitude float64
	AggregationTimeout  time.Duration
	RateLimitRequests   ratelimit.Rate
	RateLimitUpdates    ratelimit.Rate

	Server     server.Config
	OTELURL    url.URL
	TraceRatio float64
}

// DefaultConfig is the daemon's out-of-the-box configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel:            "info",
		DataDir:             "./data",
		ModelShape:          fl.Shape{4},
		MQTTQoS:             2,
		MQTTTimeout:         30 * time.Second,
		Async:               coordinator.AsyncConfig{MinUpdates: 2, MaxDuration: 300 * time.Second},
		Incentives:          ledger.DefaultIncentiveConfig(),
		PrivacyMaxMagnitude: privacy.DefaultMaxMagnitude,
		AggregationTimeout:  60 * time.Second,
		RateLimitRequests:   ratelimit.Rate{Limit: 120, Window: time.Minute},
		RateLimitUpdates:    ratelimit.Rate{Limit: 30, Window: time.Minute},
		Server:              server.Config{Port: "8080"},
	}
}

// StartCoordinator wires the ledgers, stores and middlewares, starts
// the service (with its async controller when cfg.Async.Enabled), and
// serves the HTTP API until ctx is done.
func StartCoordinator(ctx context.Context, cancel context.CancelFunc, cfg Config) error {
	g, ctx := errgroup.WithContext(ctx)

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, "", cfg.TraceRatio)
		if err != nil {
			return fmt.Errorf("failed to initialize opentelemetry: %s", err.Error())
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				slog.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	pubsub := mqtt.NewNoopPubSub()
	if cfg.MQTTAddress != "" {
		ps, err := mqtt.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, svcName+"-"+cfg.InstanceID, cfg.MQTTTimeout, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt pubsub: %s", err.Error())
		}
		pubsub = ps
	}

	store, err := model.NewStore(filepath.Join(cfg.DataDir, "models"))
	if err != nil {
		return err
	}
	metricsLedger, err := ledger.NewMetrics(
		filepath.Join(cfg.DataDir, "metrics"),
		filepath.Join(cfg.DataDir, "logs"),
	)
	if err != nil {
		return err
	}

	svc := coordinator.NewService(
		auth.NewRegistry(),
		ratelimit.NewLimiter(cfg.RateLimitRequests, cfg.RateLimitUpdates),
		privacy.NewGuard(cfg.PrivacyMaxMagnitude),
		round.NewManager(),
		store,
		metricsLedger,
		ledger.NewReputation(),
		ledger.NewIncentives(cfg.Incentives),
		fl.NewFedAvgAggregator(),
		pubsub,
		cfg.Async,
		cfg.AggregationTimeout,
		cfg.ModelShape,
		logger,
	)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %s", err.Error())
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, cfg.Server, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}

	if err := svc.Shutdown(context.Background()); err != nil {
		logger.Error("failed to shut down coordinator", slog.Any("error", err))
	}

	return nil
}
