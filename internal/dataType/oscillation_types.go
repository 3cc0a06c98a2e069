package dataType

import (
	"fmt"
	"strconv"
)

// Phase is the oscillator's single bit of state.
type Phase int8

const (
	PhaseUnset Phase = -1
	PhaseLow   Phase = 0
	PhaseHigh  Phase = 1
)

// Invert flips the bit. An unset phase enters the cycle at PhaseHigh.
func (p Phase) Invert() Phase {
	if p == PhaseHigh {
		return PhaseLow
	}
	return PhaseHigh
}

func (p Phase) Valid() bool {
	return p == PhaseLow || p == PhaseHigh
}

// UnmarshalJSON accepts the phase as a number or as a quoted number.
func (p *Phase) UnmarshalJSON(b []byte) error {
	s := string(b)
	if n := len(s); n >= 2 && s[0] == '"' && s[n-1] == '"' {
		s = s[1 : n-1]
	}
	v, err := strconv.ParseInt(s, 10, 8)
	if err != nil {
		return fmt.Errorf("invalid phase %s: %w", b, err)
	}
	*p = Phase(v)
	return nil
}

type Direction string

const (
	DirectionNone Direction = ""
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

type Position string

const (
	PositionNone   Position = ""
	PositionFirst  Position = "first"
	PositionLast   Position = "last"
	PositionMiddle Position = "middle"
)

// Message is the closed set of payloads a peer understands.
type Message interface {
	isMessage()
}

// StateMessage carries the sender's phase to the next peer in line.
type StateMessage struct {
	ChainID   string    `json:"chain_id" validate:"required"`
	State     Phase     `json:"state" validate:"min=-1,max=1"`
	Location  *int      `json:"location,omitempty"`
	Direction Direction `json:"direction,omitempty" validate:"omitempty,oneof=up down"`
	Name      string    `json:"name" validate:"required"`
}

// LedgerSnapshot ships a peer's chain together with the addresses it knows.
type LedgerSnapshot struct {
	Chain     *Chain            `json:"chain" validate:"required"`
	Name      string            `json:"name,omitempty"`
	Address   string            `json:"address,omitempty"`
	Directory map[string]string `json:"directory,omitempty"`
}

// JoinRequest asks the receiver to add Name to its ledger and reply with a snapshot.
type JoinRequest struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address,omitempty" validate:"omitempty,url"`
}

func (*StateMessage) isMessage()   {}
func (*LedgerSnapshot) isMessage() {}
func (*JoinRequest) isMessage()    {}
