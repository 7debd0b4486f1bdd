//go:build !unix

package main

import "syscall"

func parseSignal(string) (syscall.Signal, bool) {
	return 0, false
}
