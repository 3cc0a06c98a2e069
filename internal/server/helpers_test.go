package server

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"oscillate/internal/dataType"
	"oscillate/internal/utils"
)

type sentPayload struct {
	to      string
	payload []byte
}

// fakeTransport records what the router hands to the network.
type fakeTransport struct {
	mu         sync.Mutex
	sent       []sentPayload
	broadcasts [][]byte
	dir        map[string]string
	sendErr    error

	// block, when set, holds every Send until it is closed or ctx is done.
	block chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dir: make(map[string]string)}
}

func (f *fakeTransport) Send(ctx context.Context, to string, payload []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPayload{to: to, payload: payload})
	return f.sendErr
}

func (f *fakeTransport) Broadcast(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, payload)
	return nil
}

func (f *fakeTransport) Learn(name, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dir[name] = address
}

func (f *fakeTransport) Directory() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.dir))
	for k, v := range f.dir {
		out[k] = v
	}
	return out
}

func (f *fakeTransport) Sent() []sentPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPayload(nil), f.sent...)
}

func newTestLedger(t *testing.T, names ...string) *Ledger {
	t.Helper()
	l := NewLedger()
	for _, n := range names {
		added, err := l.Append(n)
		require.NoError(t, err)
		require.True(t, added)
	}
	return l
}

type routerFixture struct {
	router    *Router
	ledger    *Ledger
	osc       *Oscillator
	sched     *Scheduler
	transport *fakeTransport
}

// newRouterFixture builds a router for self over a ledger holding names,
// with an immediate scheduler.
func newRouterFixture(t *testing.T, self string, names ...string) *routerFixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	ledger := newTestLedger(t, names...)
	osc := NewOscillator(self, ledger)
	ft := newFakeTransport()
	sched := NewScheduler(ft, 0, log)
	return &routerFixture{
		router:    NewRouter(osc, ledger, sched, ft, "http://127.0.0.1:1", log),
		ledger:    ledger,
		osc:       osc,
		sched:     sched,
		transport: ft,
	}
}

func encode(t *testing.T, msg dataType.Message) []byte {
	t.Helper()
	payload, err := utils.Encode(msg)
	require.NoError(t, err)
	return payload
}

func decodeState(t *testing.T, payload []byte) *dataType.StateMessage {
	t.Helper()
	msg, err := utils.Decode(payload)
	require.NoError(t, err)
	st, ok := msg.(*dataType.StateMessage)
	require.True(t, ok, "expected a state message, got %T", msg)
	return st
}

func decodeSnapshot(t *testing.T, payload []byte) *dataType.LedgerSnapshot {
	t.Helper()
	msg, err := utils.Decode(payload)
	require.NoError(t, err)
	snap, ok := msg.(*dataType.LedgerSnapshot)
	require.True(t, ok, "expected a ledger snapshot, got %T", msg)
	return snap
}

// sentByKind splits recorded sends into snapshots and state messages.
func sentByKind(t *testing.T, sent []sentPayload) (snapshots, states []sentPayload) {
	t.Helper()
	for _, s := range sent {
		msg, err := utils.Decode(s.payload)
		require.NoError(t, err)
		switch msg.(type) {
		case *dataType.LedgerSnapshot:
			snapshots = append(snapshots, s)
		case *dataType.StateMessage:
			states = append(states, s)
		default:
			t.Fatalf("unexpected payload %T", msg)
		}
	}
	return snapshots, states
}
