//go:build windows

package main

import "os"

func closeStdin() {}

// redirectStdout replaces the std streams with the logfile.  Panic output is lost on Windows.
func redirectStdout(logf *os.File) {
	os.Stdout = logf
	os.Stderr = logf
}
