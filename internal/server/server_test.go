package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/genogram/internal/analysis"
	"github.com/MrWong99/genogram/internal/chat"
	"github.com/MrWong99/genogram/internal/conversation"
	"github.com/MrWong99/genogram/internal/observe"
	"github.com/MrWong99/genogram/internal/server"
	"github.com/MrWong99/genogram/internal/session"
)

// fakeBackend records calls and serves canned data.
type fakeBackend struct {
	mu sync.Mutex

	lang       conversation.Language
	msgs       []conversation.Message
	chatErr    error
	connectErr error
	state      session.State
	dash       analysis.Snapshot
	insight    *analysis.Insight

	sent         []string
	connects     int
	disconnects  int
	insightCalls int
}

func (b *fakeBackend) Messages() []conversation.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msgs
}

func (b *fakeBackend) Language() conversation.Language {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lang
}

func (b *fakeBackend) SetLanguage(lang conversation.Language) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lang = lang
}

func (b *fakeBackend) SendChat(_ context.Context, text string) (conversation.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chatErr != nil {
		return conversation.Message{}, b.chatErr
	}
	b.sent = append(b.sent, text)
	return conversation.Message{ID: "r1", Role: conversation.RoleModel, Text: "respuesta"}, nil
}

func (b *fakeBackend) Dashboard() analysis.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dash
}

func (b *fakeBackend) Insight(context.Context) *analysis.Insight {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insightCalls++
	if b.insight != nil {
		b.dash.Insight = b.insight
	}
	return b.insight
}

func (b *fakeBackend) LiveStats() (session.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != session.StateOpen {
		return session.Stats{State: b.state}, session.ErrNotOpen
	}
	return session.Stats{State: b.state, FramesSent: 12}, nil
}

func (b *fakeBackend) ConnectLive(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.connectErr != nil {
		b.state = session.StateErrored
		return b.connectErr
	}
	b.state = session.StateOpen
	return nil
}

func (b *fakeBackend) DisconnectLive() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	if b.state == session.StateOpen {
		b.state = session.StateClosed
	}
}

func newTestServer(t *testing.T, b *fakeBackend, opts ...server.Option) *httptest.Server {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts = append([]server.Option{server.WithMetrics(m)}, opts...)
	ts := httptest.NewServer(server.New("", b, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

// ── health ──────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeBackend{})

	resp, data := do(t, ts, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := decode[map[string]any](t, data)["status"]; got != "ok" {
		t.Errorf("status field = %v", got)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checks     []server.Checker
		wantStatus int
		wantBody   string
	}{
		{name: "no checks", wantStatus: http.StatusOK, wantBody: "ok"},
		{
			name: "all pass",
			checks: []server.Checker{
				{Name: "chat", Check: func(context.Context) error { return nil }},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "one fails",
			checks: []server.Checker{
				{Name: "chat", Check: func(context.Context) error { return nil }},
				{Name: "live", Check: func(context.Context) error { return errors.New("no api key") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, &fakeBackend{}, server.WithCheckers(tt.checks...))

			resp, data := do(t, ts, http.MethodGet, "/readyz", "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			body := decode[struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}](t, data)
			if body.Status != tt.wantBody {
				t.Errorf("status field = %q, want %q", body.Status, tt.wantBody)
			}
			if tt.wantBody == "fail" && body.Checks["live"] != "fail: no api key" {
				t.Errorf("live check = %q", body.Checks["live"])
			}
		})
	}
}

func TestReadyz_CheckHasDeadline(t *testing.T) {
	t.Parallel()
	var hasDeadline bool
	ts := newTestServer(t, &fakeBackend{}, server.WithCheckers(server.Checker{
		Name: "deadline",
		Check: func(ctx context.Context) error {
			_, hasDeadline = ctx.Deadline()
			return nil
		},
	}))
	do(t, ts, http.MethodGet, "/readyz", "")
	if !hasDeadline {
		t.Error("readiness check ran without a deadline")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# HELP genogram_utterances_total\n")
	})
	ts := newTestServer(t, &fakeBackend{}, server.WithMetricsHandler(h))

	resp, data := do(t, ts, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "genogram_utterances_total") {
		t.Errorf("metrics = %d %q", resp.StatusCode, data)
	}
}

// ── API ─────────────────────────────────────────────────────────────────────

func TestMessages(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{
		lang: conversation.Spanish,
		msgs: []conversation.Message{{ID: "init-1", Role: conversation.RoleModel, Text: "Hola", At: time.Unix(0, 0).UTC()}},
	}
	ts := newTestServer(t, b)

	_, data := do(t, ts, http.MethodGet, "/api/messages", "")
	body := decode[struct {
		Language string                 `json:"language"`
		Messages []conversation.Message `json:"messages"`
	}](t, data)
	if body.Language != "es" || len(body.Messages) != 1 || body.Messages[0].ID != "init-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestChat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		chatErr    error
		wantStatus int
	}{
		{name: "ok", body: `{"text": "hola"}`, wantStatus: http.StatusOK},
		{name: "malformed", body: `{"text":`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"message": "hola"}`, wantStatus: http.StatusBadRequest},
		{name: "empty", body: `{"text": ""}`, chatErr: chat.ErrEmptyMessage, wantStatus: http.StatusBadRequest},
		{name: "live active", body: `{"text": "hola"}`, chatErr: chat.ErrLiveActive, wantStatus: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := &fakeBackend{chatErr: tt.chatErr}
			ts := newTestServer(t, b)

			resp, data := do(t, ts, http.MethodPost, "/api/chat", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, data)
			}
			if tt.wantStatus == http.StatusOK {
				if msg := decode[conversation.Message](t, data); msg.Text != "respuesta" {
					t.Errorf("reply = %+v", msg)
				}
				if len(b.sent) != 1 || b.sent[0] != "hola" {
					t.Errorf("sent = %v", b.sent)
				}
			}
		})
	}
}

func TestLanguage(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{lang: conversation.Spanish}
	ts := newTestServer(t, b)

	resp, _ := do(t, ts, http.MethodPost, "/api/language", `{"language": "en"}`)
	if resp.StatusCode != http.StatusOK || b.Language() != conversation.English {
		t.Errorf("status = %d, language = %q", resp.StatusCode, b.Language())
	}
	resp, _ = do(t, ts, http.MethodPost, "/api/language", `{"language": "fr"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unsupported language status = %d", resp.StatusCode)
	}
}

func TestInsight_AlwaysReturnsDashboard(t *testing.T) {
	t.Parallel()
	prior := &analysis.Insight{Loyalty: "l", Debt: "d", Action: "a"}
	b := &fakeBackend{dash: analysis.Snapshot{Insight: prior}}
	ts := newTestServer(t, b)

	resp, data := do(t, ts, http.MethodPost, "/api/insight", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	snap := decode[analysis.Snapshot](t, data)
	if snap.Insight == nil || snap.Insight.Action != "a" {
		t.Errorf("insight = %+v, want prior insight kept", snap.Insight)
	}
	if b.insightCalls != 1 {
		t.Errorf("insight calls = %d", b.insightCalls)
	}
}

func TestLiveLifecycle(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	ts := newTestServer(t, b)

	type status struct {
		State      string `json:"state"`
		FramesSent int64  `json:"framesSent"`
	}

	_, data := do(t, ts, http.MethodGet, "/api/live", "")
	if st := decode[status](t, data); st.State != "idle" {
		t.Errorf("initial state = %q", st.State)
	}

	resp, data := do(t, ts, http.MethodPost, "/api/live/connect", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("connect status = %d", resp.StatusCode)
	}
	if st := decode[status](t, data); st.State != "open" || st.FramesSent != 12 {
		t.Errorf("status after connect = %+v", st)
	}

	_, data = do(t, ts, http.MethodPost, "/api/live/disconnect", "")
	if st := decode[status](t, data); st.State != "closed" {
		t.Errorf("state after disconnect = %q", st.State)
	}
}

func TestLiveConnectFailure(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{connectErr: errors.New("microphone denied")}
	ts := newTestServer(t, b)

	resp, data := do(t, ts, http.MethodPost, "/api/live/connect", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, data)["error"]; got != "microphone denied" {
		t.Errorf("error = %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeBackend{})
	resp, _ := do(t, ts, http.MethodGet, "/api/live/connect", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	srv := server.New("127.0.0.1:0", &fakeBackend{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
