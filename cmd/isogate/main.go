// isogate relays ISO 8583 traffic between terminals and card hosts.
//
// In the server role it accepts envelope connections from client gateways,
// manages their session keys and forwards the financial messages to the
// host, over dedicated or permanent connections. In the client role it
// accepts raw ISO 8583 from terminals and wraps them into envelopes for a
// server gateway.
//
// Usage:
//
//	isogate serve --config isogate.yaml
//	isogate decode --template ascii 600012000302007024...
//	isogate keygen --algorithm aes
//	isogate version
package main

import (
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
