//go:build windows

package main

import "os"

// Windows 没有 SIGUSR1，只能通过 POST /-/purge 触发。
func pressureSignals() []os.Signal {
	return nil
}
