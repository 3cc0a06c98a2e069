package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"oscillate/internal/config"
	"oscillate/internal/dataType"
	"oscillate/internal/utils"
)

const (
	FrameMaxSkew = 2 * time.Minute
	FrameMaxAge  = 10 * time.Minute

	// BroadcastName addresses a frame to every peer.
	BroadcastName   = "*"
	SignatureHeader = "X-Oscillate-Signature"

	maxFrameBytes   = 1 << 20
	seenCacheSize   = 4096
	broadcastFanout = 8
)

var (
	ErrUnknownPeer  = errors.New("unknown peer")
	ErrPeerRejected = errors.New("peer rejected frame")
)

// Frame is the transport envelope around a codec payload.
type Frame struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	Address   string          `json:"address"`
	To        string          `json:"to"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// HTTPTransport moves frames between peers over HTTP POST. It owns the
// name to address directory; inbound payloads are queued for a single
// consumer started with Listen.
type HTTPTransport struct {
	name    string
	address string
	webPath string
	secret  string
	client  *http.Client
	log     *zap.Logger

	mu    sync.RWMutex
	peers map[string]string
	seeds []string

	seen  *lru.Cache[string, struct{}]
	inbox chan []byte

	counter     *dataType.FrameCounter
	limit       int64
	bans        *dataType.BanList
	banDuration time.Duration

	now func() time.Time
}

func NewHTTPTransport(cfg *config.MainConfig, name string, log *zap.Logger) (*HTTPTransport, error) {
	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, err
	}

	t := &HTTPTransport{
		name:        name,
		address:     utils.CanonicalizeAddress(cfg.Address),
		webPath:     cfg.WebPath,
		secret:      cfg.GlobalSecret,
		client:      &http.Client{Timeout: 5 * time.Second},
		log:         log.Named("transport"),
		peers:       make(map[string]string),
		seen:        seen,
		inbox:       make(chan []byte, cfg.InboxSize),
		bans:        dataType.NewBanList(),
		banDuration: cfg.BanDuration,
		now:         time.Now,
	}
	for _, addr := range cfg.SeedAddresses() {
		if addr = utils.CanonicalizeAddress(addr); addr != "" && addr != t.address {
			t.seeds = append(t.seeds, addr)
		}
	}
	if cfg.InboundLimit != "" {
		limit, window, err := utils.ParseRate(cfg.InboundLimit)
		if err != nil {
			return nil, err
		}
		t.limit = int64(limit)
		t.counter = dataType.NewFrameCounter(16, int64(window/time.Second))
	}
	return t, nil
}

// Learn records the address a peer can be reached at.
func (t *HTTPTransport) Learn(name, address string) {
	address = utils.CanonicalizeAddress(address)
	if name == "" || name == t.name || address == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peers[name] != address {
		t.peers[name] = address
		t.log.Debug("learned peer", zap.String("peer", name), zap.String("address", address))
	}
}

// Directory returns a copy of the known name to address map.
func (t *HTTPTransport) Directory() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.peers))
	for k, v := range t.peers {
		out[k] = v
	}
	return out
}

func (t *HTTPTransport) Seeds() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.seeds...)
}

func (t *HTTPTransport) lookup(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.peers[name]
	return addr, ok
}

// addresses lists every known peer and seed address once, sorted.
func (t *HTTPTransport) addresses() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := make(map[string]struct{}, len(t.peers)+len(t.seeds))
	for _, a := range t.peers {
		set[a] = struct{}{}
	}
	for _, a := range t.seeds {
		set[a] = struct{}{}
	}
	delete(set, t.address)
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (t *HTTPTransport) newFrame(to string, payload []byte) Frame {
	return Frame{
		ID:        uuid.New().String(),
		From:      t.name,
		Address:   t.address,
		To:        to,
		Timestamp: t.now().Unix(),
		Payload:   json.RawMessage(payload),
	}
}

// Send posts payload to the named peer.
func (t *HTTPTransport) Send(ctx context.Context, to string, payload []byte) error {
	addr, ok := t.lookup(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	return t.post(ctx, addr, t.newFrame(to, payload))
}

// Broadcast posts one frame addressed to every peer to each known address.
func (t *HTTPTransport) Broadcast(ctx context.Context, payload []byte) error {
	frame := t.newFrame(BroadcastName, payload)

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(broadcastFanout)
	for _, addr := range t.addresses() {
		addr := addr
		g.Go(func() error {
			if err := t.post(ctx, addr, frame); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (t *HTTPTransport) mac(data []byte) []byte {
	mac := hmac.New(sha512.New, []byte(t.secret))
	mac.Write(data)
	return mac.Sum(nil)
}

func (t *HTTPTransport) post(ctx context.Context, addr string, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+t.webPath+"/message", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", addr, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.secret != "" {
		req.Header.Set(SignatureHeader, hex.EncodeToString(t.mac(data)))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post frame to %s: %w", addr, err)
	}
	defer func() {
		if err := drainAndClose(resp.Body); err != nil {
			t.log.Warn("failed to close response body", zap.String("address", addr), zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrPeerRejected, addr, resp.StatusCode)
	}
	return nil
}

// drainAndClose discards the rest of body so the connection can be reused.
func drainAndClose(body io.ReadCloser) error {
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

func ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ACK"))
}

// HandleMessage verifies an inbound frame and queues its payload.
func (t *HTTPTransport) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFrameBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Frame too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if t.secret != "" {
		sig, err := hex.DecodeString(r.Header.Get(SignatureHeader))
		if err != nil || !hmac.Equal(sig, t.mac(body)) {
			t.log.Warn("rejected unsigned or forged frame", zap.String("remote", r.RemoteAddr))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var f Frame
	if err := json.Unmarshal(body, &f); err != nil || len(f.Payload) == 0 {
		http.Error(w, "Invalid frame", http.StatusBadRequest)
		return
	}
	if !utils.IsNameValid(f.From) {
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	if t.bans.IsBanned(f.From) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}
	if t.counter != nil && t.counter.Add(f.From, 1) > t.limit {
		t.bans.Ban(f.From, t.banDuration)
		t.log.Warn("banned flooding peer", zap.String("peer", f.From), zap.Duration("for", t.banDuration))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	now := t.now()
	sent := time.Unix(f.Timestamp, 0)
	if now.Sub(sent) > FrameMaxAge || sent.Sub(now) > FrameMaxSkew {
		t.log.Warn("dropped stale frame", zap.String("peer", f.From), zap.Int64("ts", f.Timestamp))
		ack(w)
		return
	}

	if f.To != t.name && f.To != BroadcastName {
		t.log.Debug("dropped frame for another peer", zap.String("peer", f.From), zap.String("to", f.To))
		ack(w)
		return
	}

	if f.ID != "" {
		if dup, _ := t.seen.ContainsOrAdd(f.ID, struct{}{}); dup {
			ack(w)
			return
		}
	}

	t.Learn(f.From, f.Address)

	select {
	case t.inbox <- []byte(f.Payload):
	default:
		t.log.Warn("inbox full, dropped frame", zap.String("peer", f.From))
		http.Error(w, "Busy", http.StatusServiceUnavailable)
		return
	}
	ack(w)
}

// Listen hands queued payloads to handler one at a time until ctx is done.
func (t *HTTPTransport) Listen(ctx context.Context, handler func(context.Context, []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-t.inbox:
			handler(ctx, payload)
		}
	}
}

// RunMaintenance periodically expires flood counters and bans.
func (t *HTTPTransport) RunMaintenance(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if t.counter != nil {
				t.counter.GC()
			}
			t.bans.Cleanup()
		}
	}
}
