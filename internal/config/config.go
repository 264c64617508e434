package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Env string

const (
	EnvProd Env = "prod"
	EnvDev  Env = "dev"
)

func (e Env) IsValid() bool {
	switch e {
	case EnvProd, EnvDev:
		return true
	}
	return false
}

type Config struct {
	APIServerHost         string `env:"API_SERVER_HOST"`
	APIServerPort         string `env:"API_SERVER_PORT" envDefault:"8081"`
	RedisHost             string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort             string `env:"REDIS_PORT" envDefault:"6379"`
	RedisIncidentsChannel string `env:"REDIS_INCIDENTS_CHANNEL" envDefault:"incidents"`
	Env                   Env    `env:"ENV" envDefault:"prod"`

	RoutingBaseURL string        `env:"ROUTING_BASE_URL,notEmpty"`
	RoutingTimeout time.Duration `env:"ROUTING_TIMEOUT" envDefault:"12s"`

	// ArrivalThresholdMeters is the remaining routed distance under which a
	// traveler counts as arrived.
	ArrivalThresholdMeters float64       `env:"ARRIVAL_THRESHOLD_METERS" envDefault:"50"`
	PermissionTimeout      time.Duration `env:"PERMISSION_TIMEOUT" envDefault:"10s"`
	PositionTimeout        time.Duration `env:"POSITION_TIMEOUT" envDefault:"10s"`
	SnapshotTTL            time.Duration `env:"SNAPSHOT_TTL" envDefault:"30m"`
}

func New() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.Env.IsValid() {
		return nil, fmt.Errorf("invalid env variable (must be 'prod' or 'dev')")
	}
	if cfg.ArrivalThresholdMeters <= 0 {
		return nil, fmt.Errorf("invalid arrival threshold: %v", cfg.ArrivalThresholdMeters)
	}
	if cfg.RoutingTimeout <= 0 {
		return nil, fmt.Errorf("invalid routing timeout: %v", cfg.RoutingTimeout)
	}
	return &cfg, nil
}
