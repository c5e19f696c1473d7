package embedded

import (
	_ "embed"
)

//go:embed relay.toml
var relayConfig []byte

// RelayConfig returns the embedded default relay.toml.
func RelayConfig() []byte {
	return relayConfig
}
