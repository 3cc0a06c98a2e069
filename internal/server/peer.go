package server

import (
	"context"
	"math/rand"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"oscillate/internal/config"
)

const maintenanceInterval = 10 * time.Second

// Peer is one oscillator process: its ledger, state machine, router,
// scheduler and transport.
type Peer struct {
	cfg  *config.MainConfig
	name string
	log  *zap.Logger

	ledger    *Ledger
	osc       *Oscillator
	transport *HTTPTransport
	sched     *Scheduler
	router    *Router
}

// NewPeer wires a peer whose ledger starts with its own name.
func NewPeer(cfg *config.MainConfig, name string, log *zap.Logger) (*Peer, error) {
	log = log.With(zap.String("peer", name))

	ledger := NewLedger()
	if _, err := ledger.Append(name); err != nil {
		return nil, err
	}
	transport, err := NewHTTPTransport(cfg, name, log)
	if err != nil {
		return nil, err
	}
	osc := NewOscillator(name, ledger)
	sched := NewScheduler(transport, cfg.SendDelay, log)

	return &Peer{
		cfg:       cfg,
		name:      name,
		log:       log,
		ledger:    ledger,
		osc:       osc,
		transport: transport,
		sched:     sched,
		router:    NewRouter(osc, ledger, sched, transport, transport.address, log),
	}, nil
}

func (p *Peer) Name() string {
	return p.name
}

// Handler exposes the message and status endpoints under the configured web path.
func (p *Peer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(p.cfg.WebPath+"/message", p.transport.HandleMessage).Methods(http.MethodPost)
	r.HandleFunc(p.cfg.WebPath+"/status", p.HandleStatus).Methods(http.MethodGet)
	return r
}

// Run kicks the oscillator, announces the peer and processes inbound
// payloads until ctx is done. Pending sends are drained before it returns.
func (p *Peer) Run(ctx context.Context) error {
	p.log.Info("alive", zap.String("address", p.transport.address), zap.Strings("seeds", p.transport.Seeds()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.transport.Listen(gctx, p.handle) })
	g.Go(func() error { return p.transport.RunMaintenance(gctx, maintenanceInterval) })
	g.Go(func() error { return p.antiEntropy(gctx) })
	if p.cfg.ProbeInterval > 0 {
		g.Go(func() error { return p.probe(gctx) })
	}

	if err := p.router.Kick(gctx); err != nil {
		p.log.Warn("initial kick failed", zap.Error(err))
	}
	p.announce(gctx)

	err := g.Wait()
	p.sched.Wait()
	return err
}

func (p *Peer) handle(ctx context.Context, payload []byte) {
	if err := p.router.Handle(ctx, payload); err != nil {
		p.log.Warn("dropped payload", zap.Error(err))
	}
}

func (p *Peer) announce(ctx context.Context) {
	if len(p.transport.Seeds()) == 0 && len(p.transport.Directory()) == 0 {
		return
	}
	payload, err := p.router.JoinPayload()
	if err != nil {
		p.log.Error("failed to encode join request", zap.Error(err))
		return
	}
	if err := p.transport.Broadcast(ctx, payload); err != nil {
		p.log.Warn("join broadcast incomplete", zap.Error(err))
	}
}

// antiEntropy ships the ledger to one random known peer per interval, or
// re-announces while no peer is known yet.
func (p *Peer) antiEntropy(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.syncOnce(ctx)
		}
	}
}

func (p *Peer) syncOnce(ctx context.Context) {
	dir := p.transport.Directory()
	if len(dir) == 0 {
		p.announce(ctx)
		return
	}
	names := make([]string, 0, len(dir))
	for name := range dir {
		names = append(names, name)
	}
	sort.Strings(names)
	target := names[rand.Intn(len(names))]

	payload, err := p.router.SnapshotPayload()
	if err != nil {
		p.log.Error("failed to encode ledger snapshot", zap.Error(err))
		return
	}
	if err := p.transport.Send(ctx, target, payload); err != nil {
		p.log.Warn("anti-entropy send failed", zap.String("to", target), zap.Error(err))
	}
}

func (p *Peer) probe(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := p.Status()
			p.log.Info("probe",
				zap.Int("length", st.Length),
				zap.Intp("location", st.Location),
				zap.String("position", string(st.Position)),
				zap.Int8("state", int8(st.State)),
				zap.Int("peers", len(st.Peers)),
			)
		}
	}
}
