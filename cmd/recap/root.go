package main

import (
	"context"
	"os"

	"github.com/sandevgo/recap/internal/config"
	"github.com/sandevgo/recap/pkg/log"
	"github.com/spf13/cobra"
)

var (
	debug bool
)

var rootCmd = &cobra.Command{
	Use:   "recap",
	Short: "Recap — context retrieval for group chats",
	Long:  `Recap ingests group chat messages and serves semantically relevant context, summaries and reply drafts over HTTP.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", config.IsDebug(), "enable debug logging")
}

func setupLogger(ctx context.Context) (context.Context, func()) {
	isDebug := debug || config.IsDebug()
	return log.NewContextWithLogger(ctx, isDebug)
}
