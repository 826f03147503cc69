package orchestration

import (
	"time"

	"github.com/koscakluka/ema-live/core/texttospeech"
)

const (
	DefaultGenerationTimeout     = 60 * time.Second
	DefaultApology               = "Sorry, something went wrong on my side. Could you say that again?"
	DefaultPersonaAcknowledgment = "Briefly introduce yourself in your new persona."
	DefaultTipStatus             = "💰 Received a crypto tip!"

	annotationPersonaChange = "Your persona was just changed. Acknowledge it in one or two sentences."
	annotationTip           = "This turn acknowledges a tip. Thank the tipper by name, mention the amount and respond to their message if there is one. Keep it short."
)

type orchestratorOptions struct {
	apology               string
	personaAcknowledgment string
	tipStatus             string
	executorOptions       []ExecutorOption
}

func defaultOrchestratorOptions() orchestratorOptions {
	return orchestratorOptions{
		apology:               DefaultApology,
		personaAcknowledgment: DefaultPersonaAcknowledgment,
		tipStatus:             DefaultTipStatus,
		executorOptions:       []ExecutorOption{WithGenerationTimeout(DefaultGenerationTimeout)},
	}
}

type OrchestratorOption func(*orchestratorOptions)

// WithApology sets the text sent to the client when a turn fails.
func WithApology(apology string) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if apology != "" {
			o.apology = apology
		}
	}
}

func WithPersonaAcknowledgment(prompt string) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if prompt != "" {
			o.personaAcknowledgment = prompt
		}
	}
}

func WithTipStatus(status string) OrchestratorOption {
	return func(o *orchestratorOptions) { o.tipStatus = status }
}

func WithSpeech(renderer texttospeech.Renderer) OrchestratorOption {
	return WithExecutorOptions(WithRenderer(renderer))
}

func WithTurnTimeout(timeout time.Duration) OrchestratorOption {
	return WithExecutorOptions(WithGenerationTimeout(timeout))
}

func WithExecutorOptions(opts ...ExecutorOption) OrchestratorOption {
	return func(o *orchestratorOptions) { o.executorOptions = append(o.executorOptions, opts...) }
}
