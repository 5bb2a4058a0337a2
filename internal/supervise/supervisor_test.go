package supervise

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/bootstrap"
	"github.com/akash-s-simformsolutions/auto-worker-a1111/internal/config"
)

func TestBackendArgs(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Port = 3000
	cfg.Backend.ExtraArgs = []string{"--medvram"}
	args := BackendArgs(cfg)

	if args[0] != "launch.py" {
		t.Errorf("Expected launch.py first, got %s", args[0])
	}
	want := []string{"--api", "--nowebui", "--skip-version-check", "--no-download-sd-model", "--no-hashing", "--medvram"}
	for _, flag := range want {
		found := false
		for _, a := range args {
			if a == flag {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected flag %s in backend args", flag)
		}
	}
	for i, a := range args {
		if a == "--port" {
			if i+1 >= len(args) || args[i+1] != "3000" {
				t.Errorf("Expected --port 3000, got %v", args)
			}
		}
	}
}

// writeScript creates an executable stand-in for the backend launcher. The
// real launcher receives the API flags, so the stand-in must ignore its
// arguments.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.Command = writeScript(t, "exec sleep 30")
	cfg.Backend.Script = "launch.py"
	cfg.Backend.ExtraArgs = nil
	cfg.Backend.Dir = t.TempDir()
	cfg.Readiness.TimeoutSeconds = 5
	cfg.Readiness.IntervalMS = 10
	return cfg
}

func TestRunPropagatesHandlerExitCode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Readiness.Skip = true
	cfg.Handler.Command = "/bin/sh"
	cfg.Handler.Args = []string{"-c", "exit 7"}

	sup := New(cfg, bootstrap.Env{Base: []string{"PATH=/usr/bin:/bin"}})
	code, err := sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 7 {
		t.Errorf("Expected handler exit code 7, got %d", code)
	}
	// The idling backend must be gone after Run returns
	if !sup.backend.Exited() {
		t.Error("Expected backend to be stopped after Run")
	}
}

func TestRunHandlerSuccess(t *testing.T) {
	cfg := testConfig(t)
	cfg.Handler.Command = "/bin/sh"
	cfg.Handler.Args = []string{"-c", "exit 0"}

	sup := New(cfg, bootstrap.Env{Base: []string{"PATH=/usr/bin:/bin"}})
	code, err := sup.RunHandler(context.Background())
	if err != nil {
		t.Fatalf("RunHandler failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Expected exit code 0, got %d", code)
	}
}

func TestWaitReady(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sdapi/v1/sd-models" {
			w.Write([]byte(`[]`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	cfg := testConfig(t)
	cfg.Backend.Port = ts.Listener.Addr().(*net.TCPAddr).Port

	sup := New(cfg, bootstrap.Env{Base: []string{"PATH=/usr/bin:/bin"}})
	if err := sup.StartBackend(context.Background()); err != nil {
		t.Fatalf("StartBackend failed: %v", err)
	}
	defer sup.StopBackend()

	if err := sup.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
}

func TestWaitReadyZeroSettings(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	cfg := testConfig(t)
	cfg.Backend.Port = ts.Listener.Addr().(*net.TCPAddr).Port
	// Zeroed settings fall back to defaults instead of panicking the ticker
	cfg.Readiness.TimeoutSeconds = 0
	cfg.Readiness.IntervalMS = 0

	sup := New(cfg, bootstrap.Env{Base: []string{"PATH=/usr/bin:/bin"}})
	if err := sup.StartBackend(context.Background()); err != nil {
		t.Fatalf("StartBackend failed: %v", err)
	}
	defer sup.StopBackend()

	if err := sup.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady with zero settings failed: %v", err)
	}
}

func TestWaitReadyBackendDied(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Command = writeScript(t, "exit 2")

	sup := New(cfg, bootstrap.Env{Base: []string{"PATH=/usr/bin:/bin"}})
	if err := sup.StartBackend(context.Background()); err != nil {
		t.Fatalf("StartBackend failed: %v", err)
	}
	if err := sup.WaitReady(context.Background()); err == nil {
		t.Error("Expected error when backend exits before becoming ready")
	}
}
