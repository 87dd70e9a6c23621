//go:build !windows

package main

import (
	"os"
	"syscall"
)

// pressureSignals 返回触发内存压力清理的信号。
func pressureSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1}
}
