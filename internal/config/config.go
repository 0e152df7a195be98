// Package config loads the solve-service configuration from the
// environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Solver struct {
		MaxIterations      int     `env:"SOLVER_MAX_ITERATIONS" envDefault:"200"`
		SufficientDecrease float64 `env:"SOLVER_SUFFICIENT_DECREASE" envDefault:"0.0001"`
		Curvature          float64 `env:"SOLVER_CURVATURE" envDefault:"0.9"`
		DisplacementTol    float64 `env:"SOLVER_DISPLACEMENT_TOL" envDefault:"0.000001"`
		StepCap            float64 `env:"SOLVER_STEP_CAP" envDefault:"100"`
		Debug              bool    `env:"SOLVER_DEBUG" envDefault:"false"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Development defaults to debug-level logging unless set explicitly.
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}
