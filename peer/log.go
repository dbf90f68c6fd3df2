package peer

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by peer.
func UseLogger(logger btclog.Logger) {
	log = logger
}
