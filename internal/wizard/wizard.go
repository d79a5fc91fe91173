// Package wizard provides an interactive setup wizard for the UDP listener.
package wizard

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/postalsys/udp-listener/internal/config"
	"github.com/postalsys/udp-listener/internal/logging"
	"github.com/postalsys/udp-listener/internal/udp"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
	Digest     string
}

// Answers holds the raw form values. Inputs are kept as strings so they
// bind directly to huh fields and are parsed once in BuildConfig.
type Answers struct {
	ConfigPath      string
	Port            string
	MaxDatagramSize string
	ReadBuffer      string
	LogLevel        string
	LogFormat       string
	LogDatagrams    bool
	HealthEnabled   bool
	HealthAddress   string
}

// DefaultAnswers returns the answers the forms start with.
func DefaultAnswers() Answers {
	d := config.Default()
	return Answers{
		ConfigPath:      "./config.yaml",
		Port:            strconv.Itoa(d.Listener.Port),
		MaxDatagramSize: strconv.Itoa(int(d.Listener.MaxDatagramSize)),
		ReadBuffer:      "",
		LogLevel:        d.Logging.Level,
		LogFormat:       d.Logging.Format,
		LogDatagrams:    d.Diagnostics.LogDatagrams,
		HealthEnabled:   d.Health.Enabled,
		HealthAddress:   d.Health.Address,
	}
}

// BuildConfig turns answers into a validated configuration.
func BuildConfig(a Answers) (*config.Config, error) {
	cfg := config.Default()

	port, err := parsePort(a.Port)
	if err != nil {
		return nil, err
	}
	cfg.Listener.Port = port

	if s := strings.TrimSpace(a.MaxDatagramSize); s != "" {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return nil, fmt.Errorf("invalid max datagram size %q: %w", s, err)
		}
		cfg.Listener.MaxDatagramSize = config.ByteSize(n)
	}
	if s := strings.TrimSpace(a.ReadBuffer); s != "" {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return nil, fmt.Errorf("invalid read buffer %q: %w", s, err)
		}
		cfg.Listener.ReadBuffer = config.ByteSize(n)
	}

	if a.LogLevel != "" {
		cfg.Logging.Level = a.LogLevel
	}
	if a.LogFormat != "" {
		cfg.Logging.Format = a.LogFormat
	}
	cfg.Diagnostics.LogDatagrams = a.LogDatagrams

	cfg.Health.Enabled = a.HealthEnabled
	if a.HealthEnabled && a.HealthAddress != "" {
		cfg.Health.Address = a.HealthAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write saves cfg to path, creating the parent directory if needed.
func Write(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return cfg.Save(path)
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	a := DefaultAnswers()

	if err := w.askListener(&a); err != nil {
		return nil, err
	}
	if err := w.askLogging(&a); err != nil {
		return nil, err
	}
	if err := w.askHealth(&a); err != nil {
		return nil, err
	}

	cfg, err := BuildConfig(a)
	if err != nil {
		return nil, err
	}
	if err := Write(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	digest := udp.NewListener(cfg.UDP(), logging.NopLogger()).DigestString()
	w.printSummary(a.ConfigPath, digest, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: a.ConfigPath,
		Digest:     digest,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render("\n  udp-listener")

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  UDP datagram listener - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askListener(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Listener").
				Description("The listener binds one UDP port on all interfaces."),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./config.yaml").
				Value(&a.ConfigPath).
				Validate(validateConfigPath),

			huh.NewInput().
				Title("UDP Port").
				Description("0 lets the OS pick a free port").
				Placeholder("60000").
				Value(&a.Port).
				Validate(func(s string) error {
					_, err := parsePort(s)
					return err
				}),

			huh.NewInput().
				Title("Max Datagram Size").
				Description("Receive buffer per datagram, e.g. 1472 or 64KiB").
				Placeholder("65535").
				Value(&a.MaxDatagramSize).
				Validate(validateSize(1, udp.MaxUDPPayload)),

			huh.NewInput().
				Title("Socket Read Buffer").
				Description("SO_RCVBUF, e.g. 4MiB. Leave empty for the OS default").
				Value(&a.ReadBuffer).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					_, err := humanize.ParseBytes(s)
					return err
				}),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askLogging(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Logging").
				Description("Configure log output and the datagram log."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.LogLevel),

			huh.NewSelect[string]().
				Title("Log Format").
				Options(
					huh.NewOption("Text", "text"),
					huh.NewOption("JSON", "json"),
				).
				Value(&a.LogFormat),

			huh.NewConfirm().
				Title("Log every datagram?").
				Description("Rate-limited line per datagram with a hex preview").
				Value(&a.LogDatagrams),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askHealth(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable health check endpoint?").
				Description("HTTP endpoint for monitoring (/health, /healthz, /metrics)").
				Value(&a.HealthEnabled),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}
	if !a.HealthEnabled {
		return nil
	}

	addrForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Health Address").
				Placeholder("127.0.0.1:8080").
				Value(&a.HealthAddress).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("address is required")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	return addrForm.Run()
}

func (w *Wizard) printSummary(configPath, digest string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Endpoint:     udp://0.0.0.0:%d\n", cfg.Listener.Port)
	fmt.Printf("  Digest:       %s\n", digest)
	fmt.Printf("  Datagram max: %s\n", cfg.Listener.MaxDatagramSize)

	if cfg.Health.Enabled {
		fmt.Printf("  Health:       http://%s/health\n", cfg.Health.Address)
	}

	fmt.Println()
	fmt.Println("  To start the listener:")
	fmt.Printf("    udp-listener run -c %s\n", configPath)
	fmt.Println()
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("port must be a number")
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port must be between 0 and 65535")
	}
	return port, nil
}

func validateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

func validateSize(lo, hi uint64) func(string) error {
	return func(s string) error {
		n, err := humanize.ParseBytes(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid size")
		}
		if n < lo || n > hi {
			return fmt.Errorf("size must be between %d and %d bytes", lo, hi)
		}
		return nil
	}
}
