package main

import (
	"errors"
	"fmt"

	"github.com/koscakluka/ema-live/core/eventbus"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/internal/config"
	"github.com/koscakluka/ema-live/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var publishFlags struct {
	channel   string
	sessionID string
	text      string
	amount    string
	currency  string
	tipper    string
	wallet    string
}

var publishCmd = &cobra.Command{
	Use:   "publish <interrupt|new_prompt|change_persona|tip>",
	Short: "Publish an event on the bus",
	Example: `  $ ema-live publish new_prompt --session default --text "What's your favourite song?"
  $ ema-live publish tip --amount 60 --currency ETH --tipper alice --wallet 0xabc --text "love the stream"`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(events.KindInterrupt), string(events.KindNewPrompt), string(events.KindChangePersona), string(events.KindTip)},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		event, err := buildEvent(events.Kind(args[0]), cfg.Session.DefaultSessionID)
		if err != nil {
			return err
		}

		bus, err := eventbus.Connect(cmd.Context(), eventbus.ConnectOptions{URL: cfg.Bus.URL, Attempts: cfg.Bus.ConnectAttempts})
		if err != nil {
			return err
		}
		defer bus.Close()

		channel := publishFlags.channel
		if channel == "" {
			channel = cfg.Bus.PublishChannel
		}
		if err := bus.Publish(cmd.Context(), channel, event); err != nil {
			return fmt.Errorf("failed to publish: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s for session %s on %s\n", event.Kind(), event.SessionID(), channel)
		return nil
	},
}

func init() {
	flags := publishCmd.Flags()
	flags.StringVar(&publishFlags.channel, "channel", "", "bus channel (default bus.publish_channel)")
	flags.StringVarP(&publishFlags.sessionID, "session", "s", "", "target session (default session.default_session_id)")
	flags.StringVarP(&publishFlags.text, "text", "t", "", "prompt, persona, heard text or tip message")
	flags.StringVar(&publishFlags.amount, "amount", "", "tip amount")
	flags.StringVar(&publishFlags.currency, "currency", "ETH", "tip currency")
	flags.StringVar(&publishFlags.tipper, "tipper", "anonymous", "tipper name")
	flags.StringVar(&publishFlags.wallet, "wallet", "", "tipper wallet address")
}

func buildEvent(kind events.Kind, defaultSessionID string) (events.Event, error) {
	sessionID := publishFlags.sessionID
	if sessionID == "" {
		sessionID = defaultSessionID
	}
	text := publishFlags.text

	switch kind {
	case events.KindInterrupt:
		var heardText *string
		if text != "" {
			heardText = utils.Ptr(text)
		}
		return events.NewInterrupt(sessionID, heardText), nil

	case events.KindNewPrompt:
		if text == "" {
			return nil, errors.New("--text is required")
		}
		return events.NewNewPrompt(sessionID, text), nil

	case events.KindChangePersona:
		if text == "" {
			return nil, errors.New("--text is required")
		}
		return events.NewChangePersona(sessionID, text), nil

	case events.KindTip:
		amount, err := decimal.NewFromString(publishFlags.amount)
		if err != nil {
			return nil, fmt.Errorf("invalid --amount %q: %w", publishFlags.amount, err)
		}
		if amount.IsNegative() {
			return nil, errors.New("--amount must not be negative")
		}
		tip := events.NewTip(sessionID, amount, publishFlags.currency, publishFlags.tipper)
		tip.Message = text
		tip.WalletAddress = publishFlags.wallet
		return tip, nil
	}

	return nil, fmt.Errorf("%w: %q", events.ErrUnknownKind, kind)
}
