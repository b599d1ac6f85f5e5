// sealos-tty-agent - WebSocket to Kubernetes pod exec terminal gateway.
package main

import (
	"fmt"
	"os"

	"github.com/Nixieboluo/sealos-tty-agent/cmd/tty-agent/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
