package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/simp/internal/config"
	"github.com/1ureka/simp/internal/daemon"
	"github.com/1ureka/simp/internal/session"
	"github.com/1ureka/simp/internal/transport"
	"github.com/1ureka/simp/internal/util"
)

// daemonFlags are command-line overrides for the configuration file.
type daemonFlags struct {
	config     string
	bind       string
	peerPort   int
	clientPort int
	wsPort     int
	turnPolicy string
	debug      bool
}

func newRootCommand() *cobra.Command {
	var flags daemonFlags

	rootCmd := &cobra.Command{
		Use:           "simpd",
		Short:         "SIMP chat daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "Configuration file path (default ~/.config/simp/simpd.toml)")

	f := rootCmd.Flags()
	f.StringVar(&flags.bind, "bind", "", "Address to bind both sockets to")
	f.IntVar(&flags.peerPort, "peer-port", 0, "Port for datagrams from other daemons, 1~65535")
	f.IntVar(&flags.clientPort, "client-port", 0, "Port for the local client, 1~65535")
	f.IntVar(&flags.wsPort, "ws-port", 0, "Serve the client control plane over WebSocket on this port as well")
	f.StringVar(&flags.turnPolicy, "turn-policy", "", "Who sends first: handshake or legacy")
	f.BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newConfigCommand(&flags))
	return rootCmd
}

// loadConfig reads the configuration file, applies flag overrides and asks
// for ports that are still missing.
func loadConfig(cmd *cobra.Command, flags *daemonFlags) (*config.Config, error) {
	cfg, path, exists, err := config.Load(flags.config)
	if err != nil {
		return nil, err
	}
	if exists {
		util.LogDebug("using config %s", path)
	}

	changed := cmd.Flags().Changed
	if changed("bind") {
		cfg.Daemon.Bind = flags.bind
	}
	if changed("peer-port") {
		cfg.Daemon.PeerPort = flags.peerPort
	}
	if changed("client-port") {
		cfg.Daemon.ClientPort = flags.clientPort
	}
	if changed("ws-port") {
		cfg.Daemon.WSPort = flags.wsPort
	}
	if changed("turn-policy") {
		cfg.Session.TurnPolicy = flags.turnPolicy
	}

	if cfg.Daemon.PeerPort == 0 {
		cfg.Daemon.PeerPort = askPort("Port for other daemons (1 ~ 65535)")
	}
	if cfg.Daemon.ClientPort == 0 {
		cfg.Daemon.ClientPort = askPort("Port for the local client (1 ~ 65535)")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := util.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	if flags.debug {
		util.EnableDebug()
	}
	return cfg, nil
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	// Cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pterm.Info.Println(fmt.Sprintf("simpd — v%s", version))
	pterm.Println()

	policy, err := session.ParseTurnPolicy(cfg.Session.TurnPolicy)
	if err != nil {
		return err
	}

	d, err := daemon.New(daemon.Options{
		PeerAddr:   cfg.PeerAddr(),
		ClientAddr: cfg.ClientAddr(),
		WSAddr:     cfg.WSAddr(),
		Transport: transport.Options{
			RetransmitInterval: cfg.RetransmitInterval(),
			MaxRetries:         cfg.Transport.MaxRetries,
			Backoff:            cfg.Transport.Backoff,
			MaxInterval:        cfg.MaxInterval(),
		},
		TurnPolicy: policy,
	})
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	util.StartStatsReporter(ctx, cfg.StatsInterval())
	return d.Run(ctx)
}
