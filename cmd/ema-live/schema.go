package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/llms"
	"github.com/koscakluka/ema-live/core/speechtotext"
	"github.com/koscakluka/ema-live/core/texttospeech"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of bus events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(events.Schema())
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the registered llm, tts and stt providers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "llm: %s\n", strings.Join(llms.Providers(), ", "))
		fmt.Fprintf(out, "tts: %s\n", strings.Join(texttospeech.Providers(), ", "))
		fmt.Fprintf(out, "stt: %s\n", strings.Join(speechtotext.Providers(), ", "))
	},
}
