package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/fieldops/internal/api"
	"github.com/matheus3301/fieldops/internal/client"
	"github.com/matheus3301/fieldops/internal/config"
	"github.com/matheus3301/fieldops/internal/lock"
	"github.com/matheus3301/fieldops/internal/profile"
	"github.com/matheus3301/fieldops/internal/store"
	"github.com/matheus3301/fieldops/internal/tracker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// testHome points FIELDOPS_HOME at a short /tmp path so socket paths stay
// under the 104-char Unix socket limit on macOS.
func testHome(t *testing.T) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "fo-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(profile.HomeEnv, dir)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(backend.Close)

	cfg := config.Default()
	cfg.APIBaseURL = backend.URL
	cfg.SocketBaseURL = "ws" + strings.TrimPrefix(backend.URL, "http")
	cfg.Geo.Source = "static"
	cfg.Geo.Latitude = -3.73
	cfg.Geo.Longitude = -38.52
	cfg.Tracker.DefaultInterval = config.Duration{Duration: time.Hour}
	return cfg
}

func startApp(t *testing.T, p Params) *fx.App {
	t.Helper()
	app := fx.New(Module(p), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("app.Start() error = %v", err)
	}
	return app
}

func stopApp(t *testing.T, app *fx.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		t.Errorf("app.Stop() error = %v", err)
	}
}

func dial(t *testing.T, name string) *client.Client {
	t.Helper()
	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDaemonLifecycle(t *testing.T) {
	testHome(t)
	p := Params{ProfileName: "test", Config: testConfig(t)}
	app := startApp(t, p)

	c := dial(t, "test")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Call(ctx, api.MethodGetStatus, nil)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if resp["profile"] != "test" {
		t.Errorf("profile = %v, want test", resp["profile"])
	}
	account, _ := resp["account"].(map[string]any)
	if account["logged_in"] != false {
		t.Errorf("logged_in = %v, want false", account["logged_in"])
	}
	tr, _ := resp["tracker"].(map[string]any)
	if tr["state"] != "idle" {
		t.Errorf("tracker state = %v, want idle", tr["state"])
	}

	if info, err := os.Stat(profile.SocketPath("test")); err != nil {
		t.Fatalf("socket missing: %v", err)
	} else if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	stopApp(t, app)

	if _, err := os.Stat(profile.SocketPath("test")); !os.IsNotExist(err) {
		t.Errorf("socket should be removed on stop, stat err = %v", err)
	}
	lk, err := lock.Acquire(profile.Dir("test"))
	if err != nil {
		t.Fatalf("lock should be released on stop: %v", err)
	}
	_ = lk.Release()
}

func TestSecondDaemonRefused(t *testing.T) {
	testHome(t)
	if err := profile.EnsureDir("busy"); err != nil {
		t.Fatal(err)
	}
	held, err := lock.Acquire(profile.Dir("busy"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = held.Release() }()

	app := fx.New(Module(Params{ProfileName: "busy", Config: testConfig(t)}), fx.NopLogger)
	err = app.Err()
	if err == nil {
		t.Fatal("expected error while another daemon holds the profile")
	}
	if !strings.Contains(err.Error(), "locked by pid") {
		t.Errorf("error = %v, want lock held error", err)
	}
	if _, statErr := os.Stat(profile.StorePath("busy")); !os.IsNotExist(statErr) {
		t.Error("store must not be opened without the lock")
	}
}

// TestResumeTrackingOnBoot verifies a marker left by a previous run restarts
// the location loop for the same user.
func TestResumeTrackingOnBoot(t *testing.T) {
	testHome(t)
	if err := profile.EnsureDir("field"); err != nil {
		t.Fatal(err)
	}
	db, err := store.Open(profile.StorePath("field"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	marker := tracker.Marker{UserID: 7, StartedAt: time.Now().Add(-time.Hour).UTC()}
	if err := db.SetJSON(store.KeyAttendanceActive, marker); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	app := startApp(t, Params{ProfileName: "field", Config: testConfig(t)})
	defer stopApp(t, app)

	c := dial(t, "field")
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := c.Call(context.Background(), api.MethodGetStatus, nil)
		if err != nil {
			t.Fatalf("GetStatus error = %v", err)
		}
		tr, _ := resp["tracker"].(map[string]any)
		if tr["state"] == "running" {
			if tr["user_id"] != float64(7) {
				t.Errorf("user_id = %v, want 7", tr["user_id"])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("tracker state = %v, want running after resume", tr["state"])
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	testHome(t)
	if err := fx.ValidateApp(Module(Params{ProfileName: "fxtest", Config: config.Default()})); err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

// TestNewServerSocketOverride checks NewServer honors Params.SocketPath and
// replaces a stale socket file.
func TestNewServerSocketOverride(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "fo-srv-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	if err := os.WriteFile(socketPath, []byte("stale"), 0600); err != nil {
		t.Fatal(err)
	}

	p := Params{ProfileName: "fxtest", SocketPath: socketPath}
	srv, err := NewServer(p, zap.NewNop(), api.New(api.Deps{Profile: "fxtest"}))
	if err != nil {
		t.Fatalf("NewServer() with Params failed: %v", err)
	}

	info, statErr := os.Stat(socketPath)
	if statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Errorf("%s is not a socket", socketPath)
	}

	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket should be removed, stat err = %v", err)
	}
}
