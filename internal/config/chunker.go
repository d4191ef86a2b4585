package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/recap/pkg/log"
)

type ChunkerConfig struct {
	MaxChunkTokens   int `env:"MAX_CHUNK_TOKENS" envDefault:"1000"`
	MaxChunkMessages int `env:"MAX_CHUNK_MESSAGES" envDefault:"50"`
	OverlapMessages  int `env:"OVERLAP_MESSAGES" envDefault:"2"`
}

func NewChunkerConfig(ctx context.Context) *ChunkerConfig {
	c := &ChunkerConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Chunker config")
	}
	return c
}
