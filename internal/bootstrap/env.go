package bootstrap

import (
	"os"
	"strings"
)

// Env is the explicit child-process environment shared by the backend and
// handler launches. It replaces process-wide environment mutation so the
// dependency between the two launches is visible and testable.
type Env struct {
	// Preload is the LD_PRELOAD value; empty means no allocator override.
	Preload string
	// Unbuffered forces PYTHONUNBUFFERED=1 so child logs interleave
	// correctly with container log collection.
	Unbuffered bool
	// ConfigPath, when set, is exported as A1111_WORKER_CONFIG so the
	// handler child resolves the same configuration file as its parent.
	ConfigPath string
	// Base is the inherited environment, normally os.Environ().
	Base []string
}

// NewEnv builds the child environment on top of the current process
// environment.
func NewEnv(preload string) Env {
	return Env{Preload: preload, Unbuffered: true, Base: os.Environ()}
}

// Render returns the environment in os/exec form. The preload and buffering
// overrides win over any inherited values. LD_PRELOAD is always present, with
// an empty value when no allocator was discovered, matching the original
// entrypoint's export semantics.
func (e Env) Render() []string {
	out := make([]string, 0, len(e.Base)+3)
	for _, kv := range e.Base {
		if strings.HasPrefix(kv, "LD_PRELOAD=") || strings.HasPrefix(kv, "PYTHONUNBUFFERED=") {
			continue
		}
		if e.ConfigPath != "" && strings.HasPrefix(kv, "A1111_WORKER_CONFIG=") {
			continue
		}
		out = append(out, kv)
	}
	out = append(out, "LD_PRELOAD="+e.Preload)
	if e.Unbuffered {
		out = append(out, "PYTHONUNBUFFERED=1")
	}
	if e.ConfigPath != "" {
		out = append(out, "A1111_WORKER_CONFIG="+e.ConfigPath)
	}
	return out
}
