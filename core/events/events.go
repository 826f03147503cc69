package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindInterrupt     Kind = "interrupt"
	KindNewPrompt     Kind = "new_prompt"
	KindChangePersona Kind = "change_persona"
	KindTip           Kind = "tip"

	// kindChat is how older publishers name new_prompt.
	kindChat Kind = "chat"
)

func (k Kind) Valid() bool {
	switch k {
	case KindInterrupt, KindNewPrompt, KindChangePersona, KindTip:
		return true
	}
	return false
}

type Event interface {
	Kind() Kind
	SessionID() string
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	sessionID string
	timestamp time.Time
}

func NewBase(kind Kind, sessionID string) Base {
	return Base{kind: kind, sessionID: sessionID, timestamp: time.Now()}
}

func (b Base) Kind() Kind           { return b.kind }
func (b Base) SessionID() string    { return b.sessionID }
func (b Base) Timestamp() time.Time { return b.timestamp }

type Interrupt struct {
	Base
	// HeardText is what reached the listener before the cutoff, nil when
	// the publisher does not know.
	HeardText *string
}

func NewInterrupt(sessionID string, heardText *string) Interrupt {
	return Interrupt{Base: NewBase(KindInterrupt, sessionID), HeardText: heardText}
}

type NewPrompt struct {
	Base
	Text string
}

func NewNewPrompt(sessionID, text string) NewPrompt {
	return NewPrompt{Base: NewBase(KindNewPrompt, sessionID), Text: text}
}

type ChangePersona struct {
	Base
	Persona string
}

func NewChangePersona(sessionID, persona string) ChangePersona {
	return ChangePersona{Base: NewBase(KindChangePersona, sessionID), Persona: persona}
}

// Tip is consumed exactly once: by the session acknowledgment and, when it
// carries a wallet address, by the reward pipeline.
type Tip struct {
	Base
	Amount        decimal.Decimal
	Currency      string
	Tipper        string
	Message       string
	WalletAddress string
}

func NewTip(sessionID string, amount decimal.Decimal, currency, tipper string) Tip {
	return Tip{Base: NewBase(KindTip, sessionID), Amount: amount, Currency: currency, Tipper: tipper}
}

// HasWallet reports whether the tipper can be rewarded.
func (t Tip) HasWallet() bool { return t.WalletAddress != "" }
