package api_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/matheus3301/fieldops/internal/api"
	"github.com/matheus3301/fieldops/internal/backend"
	"github.com/matheus3301/fieldops/internal/bus"
	"github.com/matheus3301/fieldops/internal/chat"
	"github.com/matheus3301/fieldops/internal/client"
	"github.com/matheus3301/fieldops/internal/geo"
	"github.com/matheus3301/fieldops/internal/netwatch"
	"github.com/matheus3301/fieldops/internal/outbox"
	"github.com/matheus3301/fieldops/internal/store"
	"github.com/matheus3301/fieldops/internal/tracker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// fakeBackend serves the REST endpoints and the chat socket from one router.
type fakeBackend struct {
	mu        sync.Mutex
	locations []backend.LocationPayload
}

func (f *fakeBackend) posted() []backend.LocationPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.LocationPayload(nil), f.locations...)
}

func testToken(t *testing.T) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func jsonReply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeBackend) router(t *testing.T) *mux.Router {
	token := testToken(t)
	r := mux.NewRouter()
	r.HandleFunc("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var creds backend.Credentials
		_ = json.NewDecoder(req.Body).Decode(&creds)
		if creds.Password != "pw" {
			jsonReply(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
			return
		}
		jsonReply(w, http.StatusOK, map[string]any{"access": token, "refresh": "r"})
	}).Methods(http.MethodPost)
	r.HandleFunc("/me/", func(w http.ResponseWriter, _ *http.Request) {
		jsonReply(w, http.StatusOK, backend.User{ID: 42, Username: "ana"})
	})
	r.HandleFunc("/location-log-config/", func(w http.ResponseWriter, _ *http.Request) {
		jsonReply(w, http.StatusOK, backend.LocationLogConfig{IntervalSeconds: 3600})
	})
	r.HandleFunc("/locations/", func(w http.ResponseWriter, req *http.Request) {
		var p backend.LocationPayload
		_ = json.NewDecoder(req.Body).Decode(&p)
		f.mu.Lock()
		f.locations = append(f.locations, p)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}).Methods(http.MethodPost)
	r.HandleFunc("/tasks/", func(w http.ResponseWriter, _ *http.Request) {
		jsonReply(w, http.StatusOK, []backend.Task{{ID: 1, Title: "inspect pole"}})
	}).Methods(http.MethodGet)
	r.HandleFunc("/ws/chat/{id:[0-9]+}/", func(w http.ResponseWriter, req *http.Request) {
		c, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		ctx := req.Context()
		for {
			var frame map[string]any
			if err := wsjson.Read(ctx, c, &frame); err != nil {
				return
			}
			if frame["type"] == chat.TypeMessageHistory {
				_ = wsjson.Write(ctx, c, map[string]any{
					"type": "message_history",
					"messages": []map[string]any{
						{"id": 1, "sender": 5, "content": "morning", "timestamp": "2026-10-15T08:00:00Z"},
					},
				})
			}
		}
	})
	return r
}

type fixture struct {
	backend *fakeBackend
	client  *client.Client
	tracker *tracker.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	// Short path for the Unix socket length limit.
	dir, err := os.MkdirTemp("/tmp", "fieldops-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.router(t))
	t.Cleanup(srv.Close)

	db, err := store.Open(filepath.Join(dir, "fieldops.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	creds := backend.NewStoredCredentials(db)
	rest, err := backend.New(srv.URL, creds, logger)
	if err != nil {
		t.Fatal(err)
	}
	session, err := chat.NewSession(chat.Options{BaseURL: srv.URL}, nil, b, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = session.Disconnect() })
	monitor := netwatch.New(netwatch.ProberFunc(func(context.Context) error { return nil }), 0, 0, b, logger)
	queue := outbox.NewSender(db, rest, b, logger, outbox.Options{})
	tr := tracker.New(tracker.Deps{
		API: rest, Geo: geo.NewStatic(-3.73, -38.52), Queue: queue, Storage: db, Net: monitor, Bus: b, Logger: logger,
	}, tracker.Options{})
	t.Cleanup(tr.Close)

	ctl := api.New(api.Deps{
		Profile: "test", Backend: rest, Credentials: creds, Session: session,
		Tracker: tr, Net: monitor, Bus: b, Logger: logger,
	})

	grpcSrv := grpc.NewServer()
	api.Register(grpcSrv, ctl)
	socketPath := filepath.Join(dir, "d.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = grpcSrv.Serve(listener) }()
	t.Cleanup(grpcSrv.Stop)

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return &fixture{backend: fb, client: c, tracker: tr}
}

func (f *fixture) call(t *testing.T, method string, in map[string]any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := f.client.Call(ctx, method, in)
	if err != nil {
		t.Fatalf("%s error = %v", method, err)
	}
	return out
}

func (f *fixture) callErr(method string, in map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.client.Call(ctx, method, in)
	return err
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	f.call(t, api.MethodLogin, map[string]any{"username": "ana", "password": "pw"})
}

func TestLoginAndStatus(t *testing.T) {
	f := newFixture(t)

	st := f.call(t, api.MethodGetStatus, nil)
	if st["account"].(map[string]any)["logged_in"] != false {
		t.Errorf("account before login = %v", st["account"])
	}

	out := f.call(t, api.MethodLogin, map[string]any{"username": "ana", "password": "pw"})
	if user, _ := out["user"].(map[string]any); user["username"] != "ana" {
		t.Errorf("login user = %v", out["user"])
	}

	st = f.call(t, api.MethodGetStatus, nil)
	acct := st["account"].(map[string]any)
	if acct["logged_in"] != true || acct["user_id"] != float64(42) || acct["username"] != "ana" {
		t.Errorf("account = %v", acct)
	}
	if st["profile"] != "test" || st["online"] != true {
		t.Errorf("status = %v", st)
	}
	if tr := st["tracker"].(map[string]any); tr["state"] != "idle" {
		t.Errorf("tracker = %v", tr)
	}
}

func TestLoginRejected(t *testing.T) {
	f := newFixture(t)
	err := f.callErr(api.MethodLogin, map[string]any{"username": "ana", "password": "wrong"})
	st, _ := grpcstatus.FromError(err)
	if st.Code() != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated (%v)", st.Code(), err)
	}
	if st.Message() != "login: Invalid credentials" {
		t.Errorf("message = %q", st.Message())
	}

	err = f.callErr(api.MethodLogin, map[string]any{"username": "ana"})
	if st, _ := grpcstatus.FromError(err); st.Code() != codes.InvalidArgument {
		t.Errorf("missing password code = %v", st.Code())
	}
}

func TestOpenChatFlow(t *testing.T) {
	f := newFixture(t)

	err := f.callErr(api.MethodOpenChat, map[string]any{"kind": "group", "id": 3})
	if st, _ := grpcstatus.FromError(err); st.Code() != codes.Unauthenticated {
		t.Errorf("open before login code = %v", st.Code())
	}

	f.login(t)
	f.call(t, api.MethodOpenChat, map[string]any{"kind": "group", "id": 3, "name": "north"})

	err = f.callErr(api.MethodOpenChat, map[string]any{"kind": "group", "id": 4})
	if st, _ := grpcstatus.FromError(err); st.Code() != codes.FailedPrecondition {
		t.Errorf("second open code = %v, want FailedPrecondition", st.Code())
	}

	deadline := time.Now().Add(2 * time.Second)
	var msgs []any
	for time.Now().Before(deadline) {
		out := f.call(t, api.MethodListMessages, nil)
		msgs, _ = out["messages"].([]any)
		if len(msgs) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(msgs) != 1 || msgs[0].(map[string]any)["content"] != "morning" {
		t.Fatalf("messages = %v", msgs)
	}

	f.call(t, api.MethodCloseChat, nil)
	err = f.callErr(api.MethodSendMessage, map[string]any{"content": "hi"})
	if st, _ := grpcstatus.FromError(err); st.Code() != codes.FailedPrecondition {
		t.Errorf("send after close code = %v", st.Code())
	}
	if err := f.callErr(api.MethodOpenChat, map[string]any{"kind": "group", "id": 0}); err == nil {
		t.Error("expected error for invalid chat id")
	}
}

func TestTrackingFlow(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan map[string]any, 16)
	go func() {
		_ = f.client.Watch(ctx, "tracker.", func(evt map[string]any) error {
			events <- evt
			return nil
		})
	}()
	// Give the stream time to subscribe.
	time.Sleep(100 * time.Millisecond)

	err := f.callErr(api.MethodStartTracking, nil)
	if st, _ := grpcstatus.FromError(err); st.Code() != codes.InvalidArgument {
		t.Errorf("start without user code = %v, want InvalidArgument", st.Code())
	}

	f.login(t)
	out := f.call(t, api.MethodStartTracking, nil)
	if out["user_id"] != float64(42) || out["interval_ms"] != float64(3600_000) {
		t.Errorf("start = %v", out)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt["kind"] != bus.KindTrackerSample {
				continue
			}
			if evt["profile"] != "test" || evt["event_id"] == "" {
				t.Errorf("envelope = %v", evt)
			}
		case <-deadline:
			t.Fatal("no tracker.sample_sent event")
		}
		break
	}
	if got := f.backend.posted(); len(got) != 1 || got[0].User != 42 {
		t.Errorf("posted = %+v", got)
	}

	out = f.call(t, api.MethodFlushLocations, map[string]any{"force": true})
	if out["remaining"] != float64(0) {
		t.Errorf("flush = %v", out)
	}
	out = f.call(t, api.MethodWake, nil)
	if out["sent"] != float64(0) || out["remaining"] != float64(0) {
		t.Errorf("wake = %v", out)
	}
	out = f.call(t, api.MethodStopTracking, nil)
	if out["state"] != "idle" {
		t.Errorf("stop = %v", out)
	}
}

func TestQuery(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	out := f.call(t, api.MethodQuery, map[string]any{"resource": "tasks"})
	items, _ := out["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["title"] != "inspect pole" {
		t.Errorf("tasks = %v", out)
	}

	err := f.callErr(api.MethodQuery, map[string]any{"resource": "weather"})
	if st, _ := grpcstatus.FromError(err); st.Code() != codes.InvalidArgument {
		t.Errorf("unknown resource code = %v", st.Code())
	}
	err = f.callErr(api.MethodQuery, map[string]any{"resource": "group_messages"})
	if st, _ := grpcstatus.FromError(err); st.Code() != codes.InvalidArgument {
		t.Errorf("group_messages without id code = %v", st.Code())
	}
}
