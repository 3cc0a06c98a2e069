package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"oscillate/internal/dataType"
	"oscillate/internal/utils"
)

var ErrInvalidName = errors.New("invalid peer name")

// Transport is what the router needs from the network.
type Transport interface {
	Sender
	Broadcast(ctx context.Context, payload []byte) error
	Learn(name, address string)
	Directory() map[string]string
}

// Router decodes every inbound payload once and dispatches it to the ledger
// or the oscillator. Handle and Kick never run concurrently for one peer.
type Router struct {
	mu        sync.Mutex
	name      string
	address   string
	ledger    *Ledger
	osc       *Oscillator
	sched     *Scheduler
	transport Transport
	log       *zap.Logger
}

func NewRouter(osc *Oscillator, ledger *Ledger, sched *Scheduler, transport Transport, address string, log *zap.Logger) *Router {
	return &Router{
		name:      osc.Name(),
		address:   address,
		ledger:    ledger,
		osc:       osc,
		sched:     sched,
		transport: transport,
		log:       log.Named("router"),
	}
}

func (r *Router) Handle(ctx context.Context, payload []byte) error {
	msg, err := utils.Decode(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case *dataType.LedgerSnapshot:
		return r.handleSnapshot(ctx, m)
	case *dataType.StateMessage:
		return r.react(ctx, *m, OriginPeer)
	case *dataType.JoinRequest:
		return r.handleJoin(ctx, m)
	}
	return fmt.Errorf("%w: %T", utils.ErrUnknownMessage, msg)
}

// Kick re-runs the oscillator on this peer's own state message.
func (r *Router) Kick(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.react(ctx, r.osc.Own(), OriginSelf)
}

func (r *Router) react(ctx context.Context, in dataType.StateMessage, origin Origin) error {
	reaction, err := r.osc.React(in, origin)
	if err != nil {
		return err
	}

	msg := reaction.Message
	r.log.Info("reacted",
		zap.Intp("location", msg.Location),
		zap.String("position", string(reaction.Position)),
		zap.Int8("state", int8(msg.State)),
		zap.String("direction", string(msg.Direction)),
		zap.String("from", in.Name),
		zap.String("to", reaction.Recipient),
	)

	if !reaction.ShouldSend() {
		return nil
	}
	payload, err := utils.Encode(&msg)
	if err != nil {
		return err
	}
	r.sched.Schedule(ctx, reaction.Recipient, payload)
	return nil
}

func (r *Router) handleSnapshot(ctx context.Context, m *dataType.LedgerSnapshot) error {
	if utils.IsNameValid(m.Name) && m.Address != "" {
		r.transport.Learn(m.Name, m.Address)
	}
	for name, addr := range m.Directory {
		if name == r.name || !utils.IsNameValid(name) {
			continue
		}
		r.transport.Learn(name, addr)
	}

	if !r.ledger.IsValid(m.Chain) {
		return fmt.Errorf("%w: from %s", ErrInvalidLedger, m.Name)
	}
	changed, err := r.ledger.Merge(m.Chain)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	r.log.Info("merged ledger",
		zap.String("from", m.Name),
		zap.String("chain_id", r.ledger.ChainID()),
		zap.Int("length", r.ledger.Len()),
	)
	return r.react(ctx, r.osc.Own(), OriginSelf)
}

func (r *Router) handleJoin(ctx context.Context, m *dataType.JoinRequest) error {
	if !utils.IsNameValid(m.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, m.Name)
	}
	if m.Name == r.name {
		return nil
	}
	if m.Address != "" {
		r.transport.Learn(m.Name, m.Address)
	}

	added, err := r.ledger.Append(m.Name)
	if err != nil {
		return err
	}
	if added {
		r.log.Info("peer joined", zap.String("peer", m.Name), zap.Int("length", r.ledger.Len()))
	}

	payload, err := r.snapshotPayload()
	if err != nil {
		return err
	}
	// The reply goes out before the kick so the joiner holds the new ledger
	// by the time a delayed state message reaches it.
	r.sched.Dispatch(ctx, m.Name, payload)
	if !added {
		return nil
	}
	return r.react(ctx, r.osc.Own(), OriginSelf)
}

// SnapshotPayload encodes the local ledger and address directory.
func (r *Router) SnapshotPayload() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotPayload()
}

func (r *Router) snapshotPayload() ([]byte, error) {
	dir := r.transport.Directory()
	dir[r.name] = r.address
	return utils.Encode(&dataType.LedgerSnapshot{
		Chain:     r.ledger.Snapshot(),
		Name:      r.name,
		Address:   r.address,
		Directory: dir,
	})
}

// JoinPayload encodes the request other peers answer with their ledger.
func (r *Router) JoinPayload() ([]byte, error) {
	return utils.Encode(&dataType.JoinRequest{Name: r.name, Address: r.address})
}
