//go:build windows

package executor

import "os"

// Windows has no SIGTERM for arbitrary processes
var terminateSignal = os.Kill
