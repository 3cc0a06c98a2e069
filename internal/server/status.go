package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"oscillate/internal/dataType"
)

// Status is a read-only view of a peer, computed fresh from its ledger.
type Status struct {
	Name      string             `json:"name"`
	ChainID   string             `json:"chain_id"`
	Length    int                `json:"length"`
	Location  *int               `json:"location,omitempty"`
	Position  dataType.Position  `json:"position,omitempty"`
	State     dataType.Phase     `json:"state"`
	Direction dataType.Direction `json:"direction,omitempty"`
	Chain     []string           `json:"chain"`
	Peers     map[string]string  `json:"peers"`
}

func (p *Peer) Status() Status {
	chain := p.ledger.Snapshot()
	state, direction := p.osc.Phase()
	st := Status{
		Name:      p.name,
		ChainID:   chain.ID,
		Length:    chain.Len(),
		State:     state,
		Position:  dataType.PositionNone,
		Direction: direction,
		Chain:     chain.Names(),
		Peers:     p.transport.Directory(),
	}
	if location, ok := Locate(chain, p.name); ok {
		st.Location = &location
		st.Position = Classify(chain, location)
	}
	return st
}

func (p *Peer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(p.Status()); err != nil {
		p.log.Error("failed to write status", zap.Error(err))
	}
}
