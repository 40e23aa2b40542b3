// simpd — SIMP chat daemon.
//
// The daemon relays a local client's chat to another daemon over UDP using a
// three-way handshake, stop-and-wait delivery and strict turn taking. The
// client talks to it with JSON records on the client port (or a WebSocket).
package main

import (
	"context"
	"errors"
	"os"

	"github.com/1ureka/simp/internal/util"
)

var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			util.LogError("%v", err)
		}
		os.Exit(1)
	}
}
