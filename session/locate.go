package session

import (
	"os"
	"path/filepath"

	"codexgate/internal/files"
)

// BinaryName is the executable the runner spawns for each execution.
const BinaryName = "codex-app-server"

// relativeCandidates are probed in order, relative to the working
// directory. The second entry is the app server's cargo build output, for
// running the gateway straight out of a source checkout.
var relativeCandidates = []string{
	"./" + BinaryName,
	filepath.Join("..", "app-server", "target", "release", BinaryName),
}

// Locate resolves the path of the app server binary. It probes, in order, a
// sibling of the current executable and then each relative candidate, and
// falls back to the bare name so the failure (if any) surfaces at spawn
// time via normal PATH resolution. Locate never fails.
func Locate() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), BinaryName)
		if files.Exists(candidate) {
			return candidate
		}
	}

	for _, candidate := range relativeCandidates {
		if files.Exists(candidate) {
			if abs, err := filepath.Abs(candidate); err == nil {
				return abs
			}
			return candidate
		}
	}

	return BinaryName
}
