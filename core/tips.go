package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-live/core/events"
)

// ReactToTip tells the client a tip arrived and queues the acknowledgment
// turn. It does not wait for, or know about, any reward for the same tip.
func (o *Orchestrator) ReactToTip(ctx context.Context, tip events.Tip) (<-chan TurnResult, error) {
	if o.options.tipStatus != "" {
		if err := o.client.SendStatus(ctx, StatusFullText, o.options.tipStatus); err != nil {
			logger.WarnContext(ctx, "failed to send tip status", "session", o.session.ID(), "error", err)
		}
	}

	return o.Submit(ctx, NewTurnRequest(TipPrompt(tip), annotationTip))
}

// TipPrompt renders the acknowledgment prompt for a tip, e.g.
// "alice just tipped you 60 ETH."
func TipPrompt(tip events.Tip) string {
	var prompt strings.Builder
	amount := strings.TrimSpace(tip.Amount.String() + " " + tip.Currency)
	fmt.Fprintf(&prompt, "%s just tipped you %s.", tip.Tipper, amount)
	if message := strings.TrimSpace(tip.Message); message != "" {
		fmt.Fprintf(&prompt, " Their message: %q", message)
	}
	return prompt.String()
}
