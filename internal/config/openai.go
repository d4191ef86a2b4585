package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/recap/pkg/log"
)

type OpenAIConfig struct {
	BaseURL        string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com"`
	APIKey         string `env:"OPENAI_API_KEY,required,notEmpty"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	SummaryModel   string `env:"SUMMARY_MODEL" envDefault:"gpt-4o-mini"`
	DraftModel     string `env:"DRAFT_MODEL" envDefault:"gpt-4o-mini"`
}

func NewOpenAIConfig(ctx context.Context) *OpenAIConfig {
	c := &OpenAIConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse OpenAI config")
	}
	return c
}
