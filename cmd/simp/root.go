package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/simp/internal/chatclient"
	"github.com/1ureka/simp/internal/util"
)

func newRootCommand() *cobra.Command {
	var (
		daemonPort int
		daemonIP   string
		wsURL      string
		username   string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "simp",
		Short:         "Chat through a local simpd",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				util.EnableDebug()
			}

			// Cancelled on Ctrl+C.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			pterm.Info.Println(fmt.Sprintf("simp — v%s", version))
			pterm.Println()

			var (
				client *chatclient.Client
				err    error
			)
			if wsURL != "" {
				client, err = chatclient.DialWS(ctx, wsURL)
			} else {
				if daemonPort == 0 {
					daemonPort = askPort("Enter client-daemon port (1 ~ 65535)")
				}
				client, err = chatclient.DialUDP(ctx, net.JoinHostPort(daemonIP, strconv.Itoa(daemonPort)))
			}
			if err != nil {
				return err
			}
			defer client.Close()

			if strings.TrimSpace(username) == "" {
				username = askText("Enter your username")
			}
			if err := client.Connect(username); err != nil {
				return fmt.Errorf("failed to reach daemon: %w", err)
			}

			u := newUI(client, os.Stdout)
			return u.run(ctx, readLines(ctx))
		},
	}

	f := rootCmd.Flags()
	f.IntVar(&daemonPort, "daemon-port", 0, "Client port of the local daemon, 1~65535")
	f.StringVar(&daemonIP, "daemon-ip", "127.0.0.1", "Address of the daemon")
	f.StringVar(&wsURL, "ws", "", "Talk to the daemon over WebSocket at this URL instead of UDP")
	f.StringVarP(&username, "username", "u", "", "Username to chat as")
	f.BoolVar(&debug, "debug", false, "Enable debug logging")

	return rootCmd
}

// readLines forwards stdin lines until EOF or ctx is cancelled.
func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		port, err := strconv.Atoi(askText(prompt))
		if err == nil && port >= 1 && port <= 65535 {
			return port
		}
		util.LogWarning("invalid port number: must be 1 ~ 65535")
	}
}

// askText prompts until a non-empty answer is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		pterm.Println()

		if s := strings.TrimSpace(raw); s != "" {
			return s
		}
	}
}
