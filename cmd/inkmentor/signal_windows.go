//go:build windows

package main

import "os"

// terminationSignals lists the signals that should trigger a graceful shutdown.
// Windows only delivers os.Interrupt (CTRL-C / CTRL-BREAK).
var terminationSignals = []os.Signal{os.Interrupt}
