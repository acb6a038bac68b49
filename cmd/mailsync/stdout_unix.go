//go:build !windows

package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// closeStdin closes stdin, the daemon never reads it.
func closeStdin() {
	if err := os.Stdin.Close(); err != nil {
		log.Warn().Str("phase", "startup").Err(err).Msg("Failed to close stdin")
	}
}

// redirectStdout points the stdout and stderr descriptors at the logfile, so panics and stray
// writes end up alongside the log.
func redirectStdout(logf *os.File) {
	for _, fd := range []int{1, 2} {
		if err := unix.Dup2(int(logf.Fd()), fd); err != nil {
			log.Warn().Str("phase", "startup").Int("fd", fd).Err(err).
				Msg("Failed to redirect output to logfile")
		}
	}
}
