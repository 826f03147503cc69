package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/speechtotext"
)

const thinkingStatus = "Thinking..."

// ServeClient feeds client signals into the session until the client goes
// away or ctx is done. Recorded audio is collected until the client marks its
// end and is then transcribed into a prompt. A nil transcriber ignores audio.
func (o *Orchestrator) ServeClient(ctx context.Context, endpoint ClientEndpoint, transcriber speechtotext.Transcriber) error {
	var samples []float32
	for {
		signal, err := endpoint.ReceiveEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive client event: %w", err)
		}

		switch signal := signal.(type) {
		case RawAudioChunk:
			if transcriber != nil {
				samples = append(samples, signal.Samples...)
			}

		case InterruptSignal:
			samples = nil
			if err := o.Interrupt(ctx, signal.HeardText); err != nil {
				if errors.Is(err, ErrSessionClosed) {
					return nil
				}
				return err
			}

		case TurnSignal:
			text := strings.TrimSpace(signal.Text)
			if signal.AudioEnd {
				recorded := samples
				samples = nil
				if transcriber == nil || len(recorded) == 0 {
					continue
				}

				if err := endpoint.SendStatus(ctx, StatusFullText, thinkingStatus); err != nil {
					logger.DebugContext(ctx, "failed to send thinking status", "error", err)
				}
				transcript, err := transcriber.Transcribe(ctx, audio.Float32ToLinear16(recorded), audio.GetDefaultEncodingInfo())
				if err != nil {
					logger.WarnContext(ctx, "failed to transcribe client audio", "session", o.session.ID(), "error", err)
				}
				text = strings.TrimSpace(transcript)
				if text == "" {
					o.sendControl(ctx, ControlStartMic)
					continue
				}
			}
			if text == "" {
				continue
			}

			if _, err := o.SendPrompt(ctx, text); err != nil {
				if errors.Is(err, ErrSessionClosed) {
					return nil
				}
				return err
			}
		}
	}
}
