package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/koscakluka/ema-live/core/llms/openai"
	_ "github.com/koscakluka/ema-live/core/llms/scripted"
	_ "github.com/koscakluka/ema-live/core/speechtotext/deepgram"
	_ "github.com/koscakluka/ema-live/core/texttospeech/deepgram"
	_ "github.com/koscakluka/ema-live/core/texttospeech/elevenlabs"
)

var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "ema-live",
	Short:   "Live conversational agent server",
	Version: version,
	Long: `ema-live serves interruptible voice and text conversations over websockets,
reacts to events from a redis bus and mints on-chain rewards for tips.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config file (default config.yaml or configs/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(providersCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
