package config

import (
	"context"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/recap/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"RECAP_RUNTIME_PATH" envDefault:".recap"`
	ListenAddr  string `env:"RECAP_LISTEN_ADDR" envDefault:":8080"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse App config")
	}
	return c
}

func (c AppConfig) GetDatabasePath() string {
	return filepath.Join(c.RuntimePath, "recap.db")
}

func (c AppConfig) GetIndexPath() string {
	return filepath.Join(c.RuntimePath, "vector_indices")
}
