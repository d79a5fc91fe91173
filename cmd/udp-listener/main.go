// Package main provides the CLI entry point for the UDP listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/udp-listener/internal/config"
	"github.com/postalsys/udp-listener/internal/health"
	"github.com/postalsys/udp-listener/internal/loadtest"
	"github.com/postalsys/udp-listener/internal/logging"
	"github.com/postalsys/udp-listener/internal/metrics"
	"github.com/postalsys/udp-listener/internal/recovery"
	"github.com/postalsys/udp-listener/internal/sink"
	"github.com/postalsys/udp-listener/internal/udp"
	"github.com/postalsys/udp-listener/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

const program = "udp-listener"

// shutdownTimeout bounds how long run waits for the receive loop after Exit.
const shutdownTimeout = 5 * time.Second

func main() {
	version.Version = Version

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   program,
		Short: "Receive UDP datagrams on a local port",
		Long: `udp-listener binds a UDP port on all local interfaces and delivers
every received datagram to its observers.

Listening can be stopped and restarted without recreating the listener.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(digestCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func runCmd() *cobra.Command {
	var (
		configPath string
		port       int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the listener",
		Long:  "Bind the configured UDP port and log received datagrams until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				cfg = loaded
			}

			if cmd.Flags().Changed("port") {
				cfg.Listener.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults are used when empty)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "UDP port to bind, overrides the config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	return cmd
}

// run owns one listener for the lifetime of ctx. It returns nil on a clean
// shutdown and the transport error if the receive loop fails.
func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	l := udp.NewListener(cfg.UDP(), logger)
	l.SetMetrics(metrics.Default())

	if cfg.Diagnostics.LogDatagrams {
		s := sink.NewLogSink(logger, sink.LogConfig{
			Rate:         cfg.Diagnostics.Rate,
			Burst:        cfg.Diagnostics.Burst,
			PreviewBytes: cfg.Diagnostics.PreviewBytes,
		})
		l.Subscribe("log", s.Handle)
	}

	if cfg.Health.Enabled {
		srv := health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
		}, l)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer srv.Stop()
		logger.Info("health server started", "address", srv.Address().String())
	}

	logger.Info("starting listener",
		logging.KeyPort, cfg.Listener.Port,
		logging.KeyDigest, l.DigestString(),
		logging.KeyCount, l.ObserverCount())

	errCh := make(chan error, 1)
	go func() {
		defer recovery.RecoverWithCallback(logger, "receive loop", func(r any) {
			errCh <- fmt.Errorf("receive loop panic: %v", r)
		})
		errCh <- l.StartListening(ctx)
	}()

	printStatus(out, l, cfg)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", logging.KeyReason, context.Cause(ctx))
	l.Exit()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(shutdownTimeout):
		logger.Warn("receive loop did not stop in time", logging.KeyDuration, shutdownTimeout)
	}

	return nil
}

// printStatus reports the endpoint once the socket is bound. Output is
// styled only when out is a terminal.
func printStatus(out io.Writer, l *udp.Listener, cfg *config.Config) {
	deadline := time.Now().Add(time.Second)
	for !l.IsListening() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !l.IsListening() {
		return
	}

	label := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	value := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	if !isTerminal(out) {
		label = lipgloss.NewStyle()
		value = lipgloss.NewStyle()
	}

	fmt.Fprintf(out, "%s %s\n", label.Render("Listening on:"), value.Render(l.LocalAddr().String()))
	fmt.Fprintf(out, "%s %s\n", label.Render("Digest:      "), value.Render(l.DigestString()))
	if cfg.Health.Enabled {
		fmt.Fprintf(out, "%s %s\n", label.Render("Health:      "), value.Render("http://"+cfg.Health.Address+"/healthz"))
	}
}

func initCmd() *cobra.Command {
	var (
		configPath string
		defaults   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file",
		Long:  "Run the interactive setup wizard, or write the default configuration with --defaults.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !defaults {
				if !term.IsTerminal(int(os.Stdin.Fd())) {
					return errors.New("setup wizard needs an interactive terminal, use --defaults instead")
				}
				_, err := wizard.New().Run()
				return err
			}

			cfg, err := wizard.BuildConfig(wizard.DefaultAnswers())
			if err != nil {
				return err
			}
			if err := wizard.Write(cfg, configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path for --defaults output")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Write the default configuration without prompting")

	return cmd
}

func digestCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the identity digest of a listener",
		Long:  "Print the 64-bit identity digest of the listener for the given port without binding it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port < 0 || port > 65535 {
				return fmt.Errorf("port must be between 0 and 65535, got %d", port)
			}
			l := udp.NewListener(udp.DefaultConfig(uint16(port)), logging.NopLogger())
			fmt.Fprintln(cmd.OutOrStdout(), l.DigestString())
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", config.Default().Listener.Port, "UDP port")

	return cmd
}

func sendCmd() *cobra.Command {
	var (
		addr string
		cfg  loadtest.Config
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send test datagrams to a listener",
		Long:  "Send sequence-numbered datagrams from several sockets to exercise a running listener.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			target, err := net.ResolveUDPAddr("udp", addr)
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", addr, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m, err := loadtest.NewDatagramLoadGenerator(cfg).Run(ctx, target)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:60000", "Listener address")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 1, "Number of sending sockets")
	cmd.Flags().IntVar(&cfg.Size, "size", 64, "Payload size in bytes")
	cmd.Flags().Int64VarP(&cfg.Count, "count", "n", 100, "Datagrams to send, 0 to send until --duration")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 0, "Maximum run time")
	cmd.Flags().Float64Var(&cfg.Rate, "rate", 0, "Datagrams per second, 0 for unlimited")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Print(program))
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
