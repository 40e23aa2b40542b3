package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/simp/internal/control"
	"github.com/1ureka/simp/internal/util"
)

// chatClient is the part of chatclient.Client the UI drives.
type chatClient interface {
	StartChat(port int, ip string) error
	Respond(accept bool) error
	Say(message string) error
	Quit() error
	RejectBusy() error
	Notifications() <-chan control.Notification
	Err() error
}

// mode is what the next line typed by the user means.
type mode int

const (
	modeConnecting mode = iota
	modeMenu
	modeTarget  // expecting "port" or "ip:port"
	modeWaiting // waiting for a request, or for our request to be answered
	modeAccept  // expecting y/n for a chat request
	modeChat
)

type ui struct {
	client chatClient
	out    io.Writer
	mode   mode

	info, warn, chat pterm.PrefixPrinter
}

func newUI(client chatClient, out io.Writer) *ui {
	return &ui{
		client: client,
		out:    out,
		info:   *pterm.Info.WithWriter(out),
		warn:   *pterm.Warning.WithWriter(out),
		chat: *pterm.Info.WithWriter(out).WithPrefix(pterm.Prefix{
			Text:  "CHAT",
			Style: pterm.NewStyle(pterm.BgCyan, pterm.FgBlack),
		}),
	}
}

// run drives the UI until the user quits, stdin ends, ctx is cancelled or
// the daemon connection fails.
func (u *ui) run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			u.client.Quit()
			return nil

		case n, ok := <-u.client.Notifications():
			if !ok {
				return fmt.Errorf("daemon connection lost: %w", u.client.Err())
			}
			if err := u.onNotification(n); err != nil {
				return err
			}

		case line, ok := <-lines:
			if !ok {
				u.client.Quit()
				return nil
			}
			done, err := u.onLine(strings.TrimSpace(line))
			if err != nil || done {
				return err
			}
		}
	}
}

func (u *ui) onNotification(n control.Notification) error {
	switch n.Type {
	case control.NoteConnected:
		u.info.Println(n.Message)
		if u.mode == modeConnecting {
			u.showMenu()
		}

	case control.NoteChatRequest:
		if u.mode == modeChat || u.mode == modeAccept {
			util.LogDebug("auto-rejecting chat request from %s", n.From)
			return u.client.RejectBusy()
		}
		u.info.Printfln("Incoming chat request from %s (port %d)", n.From, n.Port)
		fmt.Fprint(u.out, "Accept chat? (y/n): ")
		u.mode = modeAccept

	case control.NoteChatStarted:
		u.info.Printfln("Chat started with %s! Type 'q' to end chat.", n.With)
		u.mode = modeChat

	case control.NoteChatMessage:
		u.chat.Printfln("%s: %s", n.From, n.Message)

	case control.NoteMessageAck:
		if u.mode == modeChat {
			fmt.Fprintln(u.out, "--- Message delivered ---")
		}

	case control.NoteChatEnded:
		u.info.Println("Chat ended")
		u.showMenu()

	case control.NoteError:
		if n.Message == "Not your turn" {
			u.warn.Println("Wait for your turn to send a message...")
			return nil
		}
		u.warn.Println(n.Message)
		if u.mode == modeConnecting {
			return fmt.Errorf("daemon refused connection: %s", n.Message)
		}
	}
	return nil
}

// onLine handles one line of user input. done reports that the user quit.
func (u *ui) onLine(line string) (done bool, err error) {
	switch u.mode {
	case modeMenu:
		switch line {
		case "1":
			fmt.Fprint(u.out, "Enter target daemon port (or ip:port): ")
			u.mode = modeTarget
		case "2":
			u.info.Println("Waiting for chat requests... ('q' to go back)")
			u.mode = modeWaiting
		case "q":
			if err := u.client.Quit(); err != nil {
				return true, err
			}
			fmt.Fprintln(u.out, "Goodbye!")
			return true, nil
		default:
			u.warn.Println("Invalid option, choose from 1, 2 or 'q' to quit!")
			u.showMenu()
		}

	case modeTarget:
		ip, port, err := parseTarget(line)
		if err != nil {
			u.warn.Println(err.Error())
			u.showMenu()
			return false, nil
		}
		u.info.Printfln("Calling port %d... ('q' to cancel)", port)
		u.mode = modeWaiting
		return false, u.client.StartChat(port, ip)

	case modeWaiting:
		if line == "q" {
			// Cancels an unanswered request; harmless otherwise.
			if err := u.client.Quit(); err != nil {
				return false, err
			}
			u.showMenu()
		}

	case modeAccept:
		accept := strings.EqualFold(line, "y")
		if accept {
			u.mode = modeChat
		} else {
			u.showMenu()
		}
		return false, u.client.Respond(accept)

	case modeChat:
		if line == "q" {
			return false, u.client.Quit()
		}
		if line != "" {
			return false, u.client.Say(line)
		}
	}
	return false, nil
}

func (u *ui) showMenu() {
	u.mode = modeMenu
	fmt.Fprintln(u.out)
	fmt.Fprintln(u.out, "Options:")
	fmt.Fprintln(u.out, "1. Start new chat")
	fmt.Fprintln(u.out, "2. Wait for chat requests")
	fmt.Fprintln(u.out, "q. Quit")
	fmt.Fprint(u.out, "Choose an option: ")
}

// parseTarget accepts "port" or "ip:port".
func parseTarget(s string) (string, int, error) {
	ip, portText := "", s
	if strings.Contains(s, ":") {
		var err error
		if ip, portText, err = net.SplitHostPort(s); err != nil {
			return "", 0, fmt.Errorf("invalid target %q", s)
		}
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q: must be 1 ~ 65535", portText)
	}
	return ip, port, nil
}
