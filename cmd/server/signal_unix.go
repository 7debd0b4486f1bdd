//go:build unix

package main

import (
	"strings"
	"syscall"
)

// parseSignal accepts names with or without the SIG prefix.
func parseSignal(name string) (syscall.Signal, bool) {
	switch strings.TrimPrefix(strings.ToUpper(name), "SIG") {
	case "USR1":
		return syscall.SIGUSR1, true
	case "USR2":
		return syscall.SIGUSR2, true
	case "HUP":
		return syscall.SIGHUP, true
	default:
		return 0, false
	}
}
