package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/recap/pkg/log"
)

type RetrievalConfig struct {
	TopK             int `env:"TOP_K_CHUNKS" envDefault:"5"`
	MaxContextTokens int `env:"MAX_CONTEXT_TOKENS" envDefault:"4000"`
	CacheTTLSeconds  int `env:"CACHE_TTL_SECONDS" envDefault:"3600"`
}

func NewRetrievalConfig(ctx context.Context) *RetrievalConfig {
	c := &RetrievalConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Retrieval config")
	}
	return c
}

func (c RetrievalConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
