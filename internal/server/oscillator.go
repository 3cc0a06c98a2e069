package server

import (
	"errors"
	"sync"

	"oscillate/internal/dataType"
)

var (
	ErrNotInLedger   = errors.New("peer not in ledger")
	ErrChainMismatch = errors.New("chain id mismatch")
	ErrMissingName   = errors.New("state message without sender name")
	ErrInvalidState  = errors.New("state is neither 0 nor 1")
)

// Origin tells React whether a message was built locally or received.
type Origin int

const (
	OriginPeer Origin = iota
	OriginSelf
)

// Reaction is the outcome of one accepted state message.
type Reaction struct {
	Message   dataType.StateMessage
	Position  dataType.Position
	Recipient string
}

// ShouldSend reports whether the reaction has a neighbor to notify and a
// defined phase to hand over.
func (r Reaction) ShouldSend() bool {
	return r.Recipient != "" && r.Message.State.Valid()
}

// Oscillator is the per-peer state machine. It keeps only the phase and the
// last direction; location and position are derived from the ledger at the
// top of every reaction.
type Oscillator struct {
	name   string
	ledger *Ledger

	mu        sync.RWMutex
	state     dataType.Phase
	direction dataType.Direction
}

func NewOscillator(name string, ledger *Ledger) *Oscillator {
	return &Oscillator{
		name:   name,
		ledger: ledger,
		state:  dataType.PhaseUnset,
	}
}

func (o *Oscillator) Name() string {
	return o.name
}

// Phase returns the current state bit and direction.
func (o *Oscillator) Phase() (dataType.Phase, dataType.Direction) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state, o.direction
}

// Own builds this peer's state message against the current ledger.
func (o *Oscillator) Own() dataType.StateMessage {
	chain := o.ledger.Snapshot()
	state, direction := o.Phase()
	msg := dataType.StateMessage{
		ChainID:   chain.ID,
		State:     state,
		Direction: direction,
		Name:      o.name,
	}
	if location, ok := Locate(chain, o.name); ok {
		msg.Location = &location
	}
	return msg
}

// React applies one state message. Ends of the chain reflect: first inverts
// its own phase and sends up, last copies the incoming phase and sends down.
// Middle peers copy the phase and keep the wave moving away from its sender.
// A rejected message leaves the machine untouched.
func (o *Oscillator) React(in dataType.StateMessage, origin Origin) (Reaction, error) {
	chain := o.ledger.Snapshot()
	location, ok := Locate(chain, o.name)
	if !ok {
		return Reaction{}, ErrNotInLedger
	}
	position := Classify(chain, location)

	if err := accept(chain, in, origin); err != nil {
		return Reaction{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var recipient string
	switch position {
	case dataType.PositionFirst:
		o.state = o.state.Invert()
		recipient, _ = Above(chain, location)
		o.direction = dataType.DirectionUp

	case dataType.PositionLast:
		o.state = in.State
		recipient, _ = Below(chain, location)
		o.direction = dataType.DirectionDown

	case dataType.PositionMiddle:
		o.state = in.State
		if senderLocation, found := Locate(chain, in.Name); found && senderLocation > location {
			recipient, _ = Below(chain, location)
			o.direction = dataType.DirectionDown
		} else {
			recipient, _ = Above(chain, location)
			o.direction = dataType.DirectionUp
		}
	}

	return Reaction{
		Message: dataType.StateMessage{
			ChainID:   chain.ID,
			State:     o.state,
			Location:  &location,
			Direction: o.direction,
			Name:      o.name,
		},
		Position:  position,
		Recipient: recipient,
	}, nil
}

func accept(chain *dataType.Chain, in dataType.StateMessage, origin Origin) error {
	if in.ChainID != chain.ID {
		return ErrChainMismatch
	}
	if in.Name == "" {
		return ErrMissingName
	}
	// Only a locally built message may carry the unset phase.
	if !in.State.Valid() && !(origin == OriginSelf && in.State == dataType.PhaseUnset) {
		return ErrInvalidState
	}
	return nil
}
