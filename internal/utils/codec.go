package utils

import (
	"encoding/json"
	"errors"
	"fmt"

	"oscillate/internal/dataType"
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrMalformedState = errors.New("malformed state message")
)

// wireMessage is the union of every field a payload may carry.
// Decode classifies it by which fields are present.
type wireMessage struct {
	Chain     *dataType.Chain    `json:"chain,omitempty"`
	Directory map[string]string  `json:"directory,omitempty"`
	ChainID   *string            `json:"chain_id,omitempty"`
	State     *dataType.Phase    `json:"state,omitempty"`
	Location  *int               `json:"location,omitempty"`
	Direction dataType.Direction `json:"direction,omitempty"`
	Name      string             `json:"name,omitempty"`
	Address   string             `json:"address,omitempty"`
}

// Encode serializes a message into a wire payload.
func Encode(msg dataType.Message) ([]byte, error) {
	var w wireMessage
	switch m := msg.(type) {
	case *dataType.StateMessage:
		chainID, state := m.ChainID, m.State
		w = wireMessage{
			ChainID:   &chainID,
			State:     &state,
			Location:  m.Location,
			Direction: m.Direction,
			Name:      m.Name,
		}
	case *dataType.LedgerSnapshot:
		if m.Chain == nil {
			return nil, fmt.Errorf("%w: snapshot without chain", ErrUnknownMessage)
		}
		w = wireMessage{
			Chain:     m.Chain,
			Directory: m.Directory,
			Name:      m.Name,
			Address:   m.Address,
		}
	case *dataType.JoinRequest:
		w = wireMessage{Name: m.Name, Address: m.Address}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
	return json.Marshal(w)
}

// Decode parses a wire payload into exactly one message kind.
// A payload with a chain is a ledger snapshot; one with state or chain_id
// must carry both to be a state message; one with only a name is a join.
func Decode(payload []byte) (dataType.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}

	switch {
	case w.Chain != nil:
		return &dataType.LedgerSnapshot{
			Chain:     w.Chain,
			Name:      w.Name,
			Address:   w.Address,
			Directory: w.Directory,
		}, nil

	case w.State != nil || w.ChainID != nil:
		if w.State == nil || w.ChainID == nil {
			return nil, fmt.Errorf("%w: state and chain_id are both required", ErrMalformedState)
		}
		msg := &dataType.StateMessage{
			ChainID:   *w.ChainID,
			State:     *w.State,
			Location:  w.Location,
			Direction: w.Direction,
			Name:      w.Name,
		}
		if err := ValidateStruct(msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
		}
		return msg, nil

	case w.Name != "":
		msg := &dataType.JoinRequest{Name: w.Name, Address: w.Address}
		if err := ValidateStruct(msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
		}
		return msg, nil
	}

	return nil, ErrUnknownMessage
}
