package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/absmach/flotilla/coordinator"
	"github.com/absmach/flotilla/flotillad"
	"github.com/absmach/flotilla/pkg/fl"
	"github.com/absmach/flotilla/pkg/ledger"
	"github.com/absmach/flotilla/pkg/ratelimit"
	"github.com/absmach/magistrala/pkg/server"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	defHTTPPort   = "8080"
	envPrefixHTTP = "COORDINATOR_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel    string        `env:"COORDINATOR_LOG_LEVEL"           envDefault:"info"`
	InstanceID  string        `env:"COORDINATOR_INSTANCE_ID"`
	DataDir     string        `env:"COORDINATOR_DATA_DIR"            envDefault:"./data"`
	ModelShape  []int         `env:"COORDINATOR_MODEL_SHAPE"         envDefault:"4"`
	MQTTAddress string        `env:"COORDINATOR_MQTT_ADDRESS"`
	MQTTQoS     uint8         `env:"COORDINATOR_MQTT_QOS"            envDefault:"2"`
	MQTTTimeout time.Duration `env:"COORDINATOR_MQTT_TIMEOUT"        envDefault:"30s"`

	EnableAsyncRounds bool          `env:"ENABLE_ASYNC_ROUNDS" envDefault:"false"`
	AsyncMinUpdates   int           `env:"ASYNC_MIN_UPDATES"   envDefault:"2"`
	AsyncMaxDuration  time.Duration `env:"ASYNC_MAX_DURATION"  envDefault:"300s"`

	IncentiveBaseReward           float64 `env:"INCENTIVE_BASE_REWARD"           envDefault:"10.0"`
	IncentiveSpeedThreshold       float64 `env:"INCENTIVE_SPEED_THRESHOLD"       envDefault:"30.0"`
	IncentiveSpeedBonus           float64 `env:"INCENTIVE_SPEED_BONUS"           envDefault:"5.0"`
	IncentiveConsistencyThreshold int     `env:"INCENTIVE_CONSISTENCY_THRESHOLD" envDefault:"5"`
	IncentiveConsistencyBonus     float64 `env:"INCENTIVE_CONSISTENCY_BONUS"     envDefault:"3.0"`
	IncentiveDropoutPenalty       float64 `env:"INCENTIVE_DROPOUT_PENALTY"       envDefault:"2.0"`

	PrivacyMaxMagnitude float64         `env:"PRIVACY_MAX_MAGNITUDE"           envDefault:"1e6"`
	AggregationTimeout  time.Duration   `env:"COORDINATOR_AGGREGATION_TIMEOUT" envDefault:"60s"`
	RateLimitRequests   ratelimit.Rate  `env:"RATE_LIMIT_REQUESTS"             envDefault:"120/1m"`
	RateLimitUpdates    ratelimit.Rate  `env:"RATE_LIMIT_UPDATES"              envDefault:"30/1m"`

	OTELURL    url.URL `env:"COORDINATOR_OTEL_URL"`
	TraceRatio float64 `env:"COORDINATOR_TRACE_RATIO" envDefault:"0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		log.Fatalf("failed to load HTTP server configuration : %s", err.Error())
	}

	shape := make(fl.Shape, len(cfg.ModelShape))
	copy(shape, cfg.ModelShape)

	daemonCfg := flotillad.Config{
		LogLevel:    cfg.LogLevel,
		InstanceID:  cfg.InstanceID,
		DataDir:     cfg.DataDir,
		ModelShape:  shape,
		MQTTAddress: cfg.MQTTAddress,
		MQTTQoS:     cfg.MQTTQoS,
		MQTTTimeout: cfg.MQTTTimeout,
		Async: coordinator.AsyncConfig{
			Enabled:     cfg.EnableAsyncRounds,
			MinUpdates:  cfg.AsyncMinUpdates,
			MaxDuration: cfg.AsyncMaxDuration,
		},
		Incentives: ledger.IncentiveConfig{
			BaseReward:           cfg.IncentiveBaseReward,
			SpeedThreshold:       time.Duration(cfg.IncentiveSpeedThreshold * float64(time.Second)),
			SpeedBonus:           cfg.IncentiveSpeedBonus,
			ConsistencyThreshold: cfg.IncentiveConsistencyThreshold,
			ConsistencyBonus:     cfg.IncentiveConsistencyBonus,
			DropoutPenalty:       cfg.IncentiveDropoutPenalty,
		},
		PrivacyMaxMagnitude: cfg.PrivacyMaxMagnitude,
		AggregationTimeout:  cfg.AggregationTimeout,
		RateLimitRequests:   cfg.RateLimitRequests,
		RateLimitUpdates:    cfg.RateLimitUpdates,
		Server:              httpServerConfig,
		OTELURL:             cfg.OTELURL,
		TraceRatio:          cfg.TraceRatio,
	}

	if err := flotillad.StartCoordinator(ctx, cancel, daemonCfg); err != nil {
		log.Fatalf("coordinator exited with error: %s", err.Error())
	}
}
