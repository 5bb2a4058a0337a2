package bootstrap

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// DiscoverAllocator scans the shared-library cache for a preloadable fast
// memory allocator whose name starts with pattern and carries a version
// suffix (e.g. libtcmalloc_minimal.so.4). It returns the soname of the first
// match; the dynamic linker resolves it against the cache at child start.
// An empty result means no preload and is not an error.
func DiscoverAllocator(ctx context.Context, pattern string) string {
	out, err := exec.CommandContext(ctx, "ldconfig", "-p").Output()
	if err != nil {
		log.Warn().Err(err).Msg("ldconfig not available, skipping allocator preload")
		return ""
	}
	name := firstLibraryMatch(bytes.NewReader(out), pattern)
	if name == "" {
		log.Info().Str("pattern", pattern).Msg("No allocator library found, running without preload")
	} else {
		log.Info().Str("library", name).Msg("Allocator library selected for preload")
	}
	return name
}

// firstLibraryMatch parses `ldconfig -p` output. Cache entries look like
//
//	libtcmalloc_minimal.so.4 (libc6,x86-64) => /usr/lib/x86_64-linux-gnu/libtcmalloc_minimal.so.4
//
// and the cache header line carries no "=>", so it is skipped naturally.
func firstLibraryMatch(r io.Reader, pattern string) string {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.Contains(line, "=>") {
			continue
		}
		name, _, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		if !strings.HasPrefix(name, pattern) {
			continue
		}
		// Require a versioned soname; bare .so development links are not
		// guaranteed to be loadable at runtime.
		if i := strings.Index(name, ".so."); i < 0 || i+4 >= len(name) {
			continue
		}
		return name
	}
	return ""
}
