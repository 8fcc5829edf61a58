// polaris-device-subclient is the CLI entry point for the Polaris device
// subscription client.
package main

import (
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/cli"
)

// version is injected at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.Version = version
	cli.Execute()
}
