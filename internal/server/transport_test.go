package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"oscillate/internal/config"
)

const testSecret = "test-secret-key-1234"

func newTestTransport(t *testing.T, name string, mutate func(*config.MainConfig)) (*HTTPTransport, *config.MainConfig) {
	t.Helper()
	cfg := config.DefaultMainConfig()
	cfg.Address = "http://127.0.0.1:25555"
	cfg.GlobalSecret = testSecret
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Normalize())
	tp, err := NewHTTPTransport(&cfg, name, zaptest.NewLogger(t))
	require.NoError(t, err)
	return tp, &cfg
}

func newTestFrame(from, to string, payload string) Frame {
	return Frame{
		ID:        uuid.New().String(),
		From:      from,
		Address:   "http://127.0.0.1:9001",
		To:        to,
		Timestamp: time.Now().Unix(),
		Payload:   json.RawMessage(payload),
	}
}

func createSignedRequest(t *testing.T, secret string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/oscillate/message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		mac := hmac.New(sha512.New, []byte(secret))
		mac.Write(body)
		req.Header.Set(SignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	}
	return req
}

func deliver(t *testing.T, tp *HTTPTransport, f Frame) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(f)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	tp.HandleMessage(w, createSignedRequest(t, testSecret, body))
	return w
}

func queued(tp *HTTPTransport) int {
	return len(tp.inbox)
}

func TestHTTPTransport_HandleMessage(t *testing.T) {
	t.Run("AcceptsSignedFrame", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		w := deliver(t, tp, newTestFrame("o_peer", "o_self", `{"name":"o_peer"}`))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "ACK", w.Body.String())
		require.Equal(t, 1, queued(tp))
		require.JSONEq(t, `{"name":"o_peer"}`, string(<-tp.inbox))
		require.Equal(t, "http://127.0.0.1:9001", tp.Directory()["o_peer"])
	})

	t.Run("AcceptsBroadcastFrame", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		w := deliver(t, tp, newTestFrame("o_peer", BroadcastName, `{"name":"o_peer"}`))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 1, queued(tp))
	})

	t.Run("RejectsMissingSignature", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		body, _ := json.Marshal(newTestFrame("o_peer", "o_self", `{}`))
		w := httptest.NewRecorder()
		tp.HandleMessage(w, createSignedRequest(t, "", body))
		require.Equal(t, http.StatusForbidden, w.Code)
		require.Zero(t, queued(tp))
	})

	t.Run("RejectsForgedSignature", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		body, _ := json.Marshal(newTestFrame("o_peer", "o_self", `{}`))
		w := httptest.NewRecorder()
		tp.HandleMessage(w, createSignedRequest(t, "another-secret-key-5678", body))
		require.Equal(t, http.StatusForbidden, w.Code)
		require.Zero(t, queued(tp))
	})

	t.Run("UnsignedWhenNoSecret", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", func(c *config.MainConfig) { c.GlobalSecret = "" })
		body, _ := json.Marshal(newTestFrame("o_peer", "o_self", `{"name":"o_peer"}`))
		w := httptest.NewRecorder()
		tp.HandleMessage(w, createSignedRequest(t, "", body))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 1, queued(tp))
	})

	t.Run("RejectsWrongMethod", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		w := httptest.NewRecorder()
		tp.HandleMessage(w, httptest.NewRequest(http.MethodGet, "/oscillate/message", nil))
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("RejectsOversizedBody", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		huge := `{"name":"` + strings.Repeat("a", maxFrameBytes) + `"}`
		body, _ := json.Marshal(newTestFrame("o_peer", "o_self", huge))
		w := httptest.NewRecorder()
		tp.HandleMessage(w, createSignedRequest(t, testSecret, body))
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		require.Zero(t, queued(tp))
	})

	t.Run("RejectsGarbage", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		w := httptest.NewRecorder()
		tp.HandleMessage(w, createSignedRequest(t, testSecret, []byte(`{"id":`)))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("RejectsEmptyPayload", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		body, _ := json.Marshal(map[string]any{
			"id":        uuid.New().String(),
			"from":      "o_peer",
			"to":        "o_self",
			"timestamp": time.Now().Unix(),
		})
		w := httptest.NewRecorder()
		tp.HandleMessage(w, createSignedRequest(t, testSecret, body))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("RejectsForeignSender", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		w := deliver(t, tp, newTestFrame("mallory", "o_self", `{}`))
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Empty(t, tp.Directory())
	})

	t.Run("DropsFrameForAnotherPeer", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		w := deliver(t, tp, newTestFrame("o_peer", "o_other", `{}`))
		require.Equal(t, http.StatusOK, w.Code)
		require.Zero(t, queued(tp))
	})

	t.Run("DropsDuplicateFrame", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", nil)
		f := newTestFrame("o_peer", "o_self", `{"name":"o_peer"}`)
		require.Equal(t, http.StatusOK, deliver(t, tp, f).Code)
		require.Equal(t, http.StatusOK, deliver(t, tp, f).Code)
		require.Equal(t, 1, queued(tp))
	})

	t.Run("BusyWhenInboxFull", func(t *testing.T) {
		tp, _ := newTestTransport(t, "o_self", func(c *config.MainConfig) { c.InboxSize = 1 })
		require.Equal(t, http.StatusOK, deliver(t, tp, newTestFrame("o_peer", "o_self", `{}`)).Code)
		require.Equal(t, http.StatusServiceUnavailable, deliver(t, tp, newTestFrame("o_peer", "o_self", `{}`)).Code)
	})
}

func TestHTTPTransport_ReplayProtection(t *testing.T) {
	tp, _ := newTestTransport(t, "o_self", nil)
	now := time.Unix(1_700_000_000, 0)
	tp.now = func() time.Time { return now }

	cases := []struct {
		name   string
		offset time.Duration
		queued bool
	}{
		{"Fresh", 0, true},
		{"SlightlyOld", -9 * time.Minute, true},
		{"TooOld", -11 * time.Minute, false},
		{"SlightSkew", time.Minute, true},
		{"FromTheFuture", 3 * time.Minute, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for len(tp.inbox) > 0 {
				<-tp.inbox
			}
			f := newTestFrame("o_peer", "o_self", `{}`)
			f.Timestamp = now.Add(tc.offset).Unix()
			w := deliver(t, tp, f)
			require.Equal(t, http.StatusOK, w.Code)
			if tc.queued {
				require.Equal(t, 1, queued(tp))
			} else {
				require.Zero(t, queued(tp))
			}
		})
	}
}

func TestHTTPTransport_FloodBan(t *testing.T) {
	tp, _ := newTestTransport(t, "o_self", func(c *config.MainConfig) {
		c.InboundLimit = "3/10s"
		c.BanDuration = time.Hour
		c.InboxSize = 16
	})

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, deliver(t, tp, newTestFrame("o_noisy", "o_self", `{}`)).Code)
	}
	require.Equal(t, http.StatusTooManyRequests, deliver(t, tp, newTestFrame("o_noisy", "o_self", `{}`)).Code)
	require.True(t, tp.bans.IsBanned("o_noisy"))
	require.Equal(t, http.StatusTooManyRequests, deliver(t, tp, newTestFrame("o_noisy", "o_self", `{}`)).Code)

	// Other senders are unaffected.
	require.Equal(t, http.StatusOK, deliver(t, tp, newTestFrame("o_quiet", "o_self", `{}`)).Code)
	require.Equal(t, 4, queued(tp))
}

// startTransport serves a transport over a real listener. The listener is
// bound first so the transport knows its own address.
func startTransport(t *testing.T, name string, mutate func(*config.MainConfig)) *HTTPTransport {
	t.Helper()
	ts := httptest.NewUnstartedServer(nil)
	tp, cfg := newTestTransport(t, name, func(c *config.MainConfig) {
		c.Address = "http://" + ts.Listener.Addr().String()
		if mutate != nil {
			mutate(c)
		}
	})
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WebPath+"/message", tp.HandleMessage)
	ts.Config.Handler = mux
	ts.Start()
	t.Cleanup(ts.Close)
	return tp
}

func TestHTTPTransport_SendAndBroadcast(t *testing.T) {
	a := startTransport(t, "o_a", nil)
	b := startTransport(t, "o_b", nil)
	c := startTransport(t, "o_c", func(cfg *config.MainConfig) {
		cfg.Peers = []config.Peer{{Address: a.address}, {Address: b.address}}
	})
	ctx := context.Background()

	err := a.Send(ctx, "o_b", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownPeer)

	require.NoError(t, c.Broadcast(ctx, []byte(`{"name":"o_c"}`)))
	require.JSONEq(t, `{"name":"o_c"}`, string(<-a.inbox))
	require.JSONEq(t, `{"name":"o_c"}`, string(<-b.inbox))
	require.Equal(t, c.address, a.Directory()["o_c"])
	require.Equal(t, c.address, b.Directory()["o_c"])

	require.NoError(t, a.Send(ctx, "o_c", []byte(`{"name":"o_a"}`)))
	require.JSONEq(t, `{"name":"o_a"}`, string(<-c.inbox))
	require.Equal(t, a.address, c.Directory()["o_a"])
}

func TestHTTPTransport_SendReportsRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ts.Close()

	tp, _ := newTestTransport(t, "o_self", nil)
	tp.Learn("o_broken", ts.URL)
	err := tp.Send(context.Background(), "o_broken", []byte(`{}`))
	require.ErrorIs(t, err, ErrPeerRejected)
}

func TestHTTPTransport_Listen(t *testing.T) {
	tp, _ := newTestTransport(t, "o_self", nil)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan string, 2)
	done := make(chan error, 1)
	go func() {
		done <- tp.Listen(ctx, func(_ context.Context, payload []byte) {
			got <- string(payload)
		})
	}()

	tp.inbox <- []byte("one")
	tp.inbox <- []byte("two")
	require.Equal(t, "one", <-got)
	require.Equal(t, "two", <-got)

	cancel()
	require.NoError(t, <-done)
}

func TestHTTPTransport_LearnIgnoresSelfAndBlanks(t *testing.T) {
	tp, _ := newTestTransport(t, "o_self", nil)
	tp.Learn("o_self", "http://127.0.0.1:1")
	tp.Learn("o_peer", "")
	tp.Learn("", "http://127.0.0.1:2")
	require.Empty(t, tp.Directory())

	tp.Learn("o_peer", "http://127.0.0.1:3/")
	require.Equal(t, map[string]string{"o_peer": "http://127.0.0.1:3"}, tp.Directory())
}
