//go:build !windows

package claudecli

import "syscall"

var terminateSignal = syscall.SIGTERM
