package lnwire

import "github.com/btcsuite/btclog"

// log is the package-level logger used throughout lnwire. It is disabled by
// default; callers wire in a real backend via UseLogger, the same pattern
// the rest of the lnd-descended packages in this tree use.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by lnwire. This should be
// called before the package is used if you want to catch all log messages.
func UseLogger(logger btclog.Logger) {
	log = logger
}
