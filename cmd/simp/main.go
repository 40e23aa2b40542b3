// simp — interactive SIMP chat client.
//
// It registers with a local simpd over UDP (or WebSocket with --ws) and
// offers a small menu: start a chat, wait for requests, or quit.
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
