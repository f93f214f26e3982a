package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	homecode "github.com/abaland/Home-Code"
	"github.com/abaland/Home-Code/config"
	"github.com/abaland/Home-Code/monitor"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

type app struct {
	configPath string
	verbose    bool

	cfg     config.Config
	logger  *slog.Logger
	metrics *monitor.SimpleMetricsCollector
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "homectl",
		Short: "Send commands to home controller workers",
		Long: `homectl publishes instructions to the home controller exchange and
prints the replies of the workers (remote controls, sensors, heartbeats).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(
		a.sendCmd(),
		a.askCmd(),
		a.remoteControlCmd(),
		a.queryCmd("sensors", "Read the sensors attached to workers"),
		a.queryCmd("heartbeat", "Check which workers are alive"),
		a.healthCmd(),
		a.serveCmd(),
	)
	return rootCmd
}

func (a *app) init() error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var err error
	if a.configPath != "" {
		a.cfg, err = config.Load(a.configPath)
	} else {
		a.cfg, err = config.FromEnv()
	}
	if err != nil {
		return err
	}

	a.metrics = monitor.NewSimpleMetricsCollector()
	return nil
}

func (a *app) newClient() (*homecode.Client, error) {
	return homecode.NewClient(a.cfg.RabbitMQ.URL(),
		homecode.WithLogger(a.logger),
		homecode.WithMetrics(a.metrics),
		homecode.WithExchange(a.cfg.RabbitMQ.Exchange, a.cfg.RabbitMQ.ExchangeType),
		homecode.WithConnectTimeout(a.cfg.RabbitMQ.ConnectTimeout),
		homecode.WithDefaultTimeout(a.cfg.Client.DefaultTimeout),
	)
}

// run connects a client and hands it to fn. Interrupts cancel ctx.
func (a *app) run(fn func(ctx context.Context, client *homecode.Client) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := a.newClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	err = fn(ctx, client)
	if a.verbose {
		a.metrics.LogSummary(a.logger)
	}
	return err
}

func (a *app) targets(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return a.cfg.Client.Target
}
