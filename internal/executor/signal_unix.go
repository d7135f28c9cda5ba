//go:build !windows

package executor

import "syscall"

var terminateSignal = syscall.SIGTERM
