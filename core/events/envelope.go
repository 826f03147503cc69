package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownKind    = errors.New("unknown event type")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Envelope is the wire shape of a bus event. Alias fields exist for
// publishers that predate the current field names.
type Envelope struct {
	Type            Kind   `json:"type,omitempty" jsonschema:"enum=interrupt,enum=new_prompt,enum=change_persona,enum=tip,enum=chat"`
	SessionID       string `json:"sessionId,omitempty"`
	LegacySessionID string `json:"session_id,omitempty" jsonschema:"description=Alias of sessionId"`

	HeardText *string `json:"heardText,omitempty"`
	Prompt    string  `json:"prompt,omitempty"`
	Text      string  `json:"text,omitempty" jsonschema:"description=Alias of prompt or heardText depending on type"`
	Persona   string  `json:"persona,omitempty"`

	Amount              *decimal.Decimal `json:"amount,omitempty"`
	Currency            string           `json:"currency,omitempty"`
	Token               string           `json:"token,omitempty" jsonschema:"description=Alias of currency"`
	Tipper              string           `json:"tipper,omitempty"`
	Username            string           `json:"username,omitempty" jsonschema:"description=Alias of tipper"`
	Message             string           `json:"message,omitempty"`
	WalletAddress       string           `json:"walletAddress,omitempty"`
	LegacyWalletAddress string           `json:"wallet_address,omitempty" jsonschema:"description=Alias of walletAddress"`

	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type DecodeOptions struct {
	// DefaultKind applies to payloads without a type, e.g. everything on a
	// channel dedicated to tips.
	DefaultKind Kind
	// DefaultSessionID applies to payloads without a session id.
	DefaultSessionID string
}

func Decode(payload []byte, opts DecodeOptions) (Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return envelope.Event(opts)
}

// Event resolves aliases and defaults and returns the typed event.
func (e Envelope) Event(opts DecodeOptions) (Event, error) {
	kind := e.Type
	if kind == "" {
		kind = opts.DefaultKind
	}
	if kind == kindChat {
		kind = KindNewPrompt
	}

	sessionID := firstNonEmpty(e.SessionID, e.LegacySessionID, opts.DefaultSessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidPayload)
	}

	base := NewBase(kind, sessionID)
	if e.Timestamp != nil {
		base.timestamp = *e.Timestamp
	}

	switch kind {
	case KindInterrupt:
		heardText := e.HeardText
		if heardText == nil && e.Text != "" {
			heardText = &e.Text
		}
		return Interrupt{Base: base, HeardText: heardText}, nil

	case KindNewPrompt:
		text := strings.TrimSpace(firstNonEmpty(e.Prompt, e.Text))
		if text == "" {
			return nil, fmt.Errorf("%w: empty prompt", ErrInvalidPayload)
		}
		return NewPrompt{Base: base, Text: text}, nil

	case KindChangePersona:
		persona := strings.TrimSpace(firstNonEmpty(e.Persona, e.Text))
		if persona == "" {
			return nil, fmt.Errorf("%w: empty persona", ErrInvalidPayload)
		}
		return ChangePersona{Base: base, Persona: persona}, nil

	case KindTip:
		if e.Amount == nil {
			return nil, fmt.Errorf("%w: missing tip amount", ErrInvalidPayload)
		}
		if e.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: negative tip amount %s", ErrInvalidPayload, e.Amount)
		}
		return Tip{
			Base:          base,
			Amount:        *e.Amount,
			Currency:      firstNonEmpty(e.Currency, e.Token),
			Tipper:        firstNonEmpty(e.Tipper, e.Username, "anonymous"),
			Message:       e.Message,
			WalletAddress: firstNonEmpty(e.WalletAddress, e.LegacyWalletAddress),
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Type)
}

// ToEnvelope is the inverse of [Envelope.Event], using only current field
// names.
func ToEnvelope(event Event) (Envelope, error) {
	timestamp := event.Timestamp()
	envelope := Envelope{Type: event.Kind(), SessionID: event.SessionID(), Timestamp: &timestamp}

	switch e := event.(type) {
	case Interrupt:
		envelope.HeardText = e.HeardText
	case NewPrompt:
		envelope.Prompt = e.Text
	case ChangePersona:
		envelope.Persona = e.Persona
	case Tip:
		envelope.Amount = &e.Amount
		envelope.Currency = e.Currency
		envelope.Tipper = e.Tipper
		envelope.Message = e.Message
		envelope.WalletAddress = e.WalletAddress
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownKind, event)
	}
	return envelope, nil
}

func Encode(event Event) ([]byte, error) {
	envelope, err := ToEnvelope(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope)
}

// Schema describes the envelope for publishers.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(decimal.Decimal{}) {
				return &jsonschema.Schema{OneOf: []*jsonschema.Schema{
					{Type: "number", Minimum: json.Number("0")},
					{Type: "string", Pattern: `^[0-9]+(\.[0-9]+)?$`},
				}}
			}
			return nil
		},
	}
	schema := reflector.Reflect(&Envelope{})
	schema.Title = "Live session bus event"
	return schema
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
