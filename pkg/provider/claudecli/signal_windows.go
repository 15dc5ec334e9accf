//go:build windows

package claudecli

import "os"

var terminateSignal = os.Kill
