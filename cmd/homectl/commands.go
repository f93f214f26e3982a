package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	homecode "github.com/abaland/Home-Code"
	"github.com/abaland/Home-Code/contracts"
	"github.com/abaland/Home-Code/gateway"
	"github.com/abaland/Home-Code/health"
	"github.com/abaland/Home-Code/internal/rabbitmq"
	"github.com/abaland/Home-Code/internal/reliability"
	rabbitmqTransport "github.com/abaland/Home-Code/transports/rabbitmq"
)

func (a *app) sendCmd() *cobra.Command {
	var target, remote, button, configValue string

	cmd := &cobra.Command{
		Use:   "send <type>",
		Short: "Publish an instruction without waiting for replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if button != "" && configValue != "" {
				return errors.New("--button and --config are mutually exclusive")
			}

			in := contracts.Instruction{Type: args[0], Target: a.targets(target), Remote: remote}
			switch {
			case button != "":
				in = contracts.NewButtonInstruction(args[0], in.Target, remote, button)
			case configValue != "":
				in = contracts.NewConfigInstruction(args[0], in.Target, remote, configValue)
			}

			return a.run(func(ctx context.Context, client *homecode.Client) error {
				if err := client.Send(ctx, in); err != nil {
					return err
				}
				fmt.Println(successStyle.Render("sent") + " " + mutedStyle.Render(in.Type))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Comma separated zones")
	cmd.Flags().StringVarP(&remote, "remote", "r", "", "Remote name")
	cmd.Flags().StringVar(&button, "button", "", "Button to press")
	cmd.Flags().StringVar(&configValue, "config-value", "", "Configuration string to send")
	return cmd
}

func (a *app) askCmd() *cobra.Command {
	var target string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ask <type>",
		Short: "Publish a query instruction and print the replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := contracts.NewQueryInstruction(args[0], contracts.SplitTargets(a.targets(target))...)
			return a.ask(in, timeout, nil)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Comma separated zones")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for replies (default from config)")
	return cmd
}

func (a *app) remoteControlCmd() *cobra.Command {
	var target string
	var timeout time.Duration
	var asConfig bool

	cmd := &cobra.Command{
		Use:   "remote-control <remote> <button>",
		Short: "Press a button on a remote and wait for the worker",
		Long: `Press a button on a remote and wait for the worker. With --as-config the
second argument is sent as a configuration string, as aircon units expect.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := contracts.NewButtonInstruction(contracts.TypeRemoteControl, a.targets(target), args[0], args[1])
			if asConfig {
				in = contracts.NewConfigInstruction(contracts.TypeRemoteControl, a.targets(target), args[0], args[1])
			}
			return a.ask(in, timeout, nil)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Comma separated zones")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for replies (default from config)")
	cmd.Flags().BoolVar(&asConfig, "as-config", false, "Send the value as a configuration string")
	return cmd
}

func (a *app) queryCmd(instructionType, short string) *cobra.Command {
	var target string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   instructionType,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := contracts.NewQueryInstruction(instructionType, contracts.SplitTargets(a.targets(target))...)

			var versions *health.VersionCheck
			if instructionType == contracts.TypeHeartbeat && a.cfg.Client.WorkerVersion != "" {
				var err error
				versions, err = health.NewVersionCheck(a.cfg.Client.WorkerVersion, health.WithVersionLogger(a.logger))
				if err != nil {
					return err
				}
			}
			return a.ask(in, timeout, versions)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Comma separated zones")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for replies (default from config)")
	return cmd
}

// ask prints each reply as it arrives, then a summary line.
func (a *app) ask(in contracts.Instruction, timeout time.Duration, versions *health.VersionCheck) error {
	return a.run(func(ctx context.Context, client *homecode.Client) error {
		result, err := client.Ask(ctx, in, timeout, func(resp contracts.WorkerResponse) {
			status := health.VersionStatus("")
			if versions != nil {
				status = versions.Observe(resp)
			}
			fmt.Println(renderResponse(resp, status))
		})
		if err != nil {
			return err
		}
		fmt.Println(renderResult(in, result))
		return nil
	})
}

func (a *app) healthCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the broker, its management port and worker versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			management := health.NewManagementProbe(a.cfg.RabbitMQ.Host, a.cfg.RabbitMQ.ManagementPort, a.logger)
			if wait {
				policy := reliability.NewFixedDelay(3*time.Second, 10)
				if err := management.WaitUntilAlive(ctx, policy); err != nil {
					return err
				}
			}

			client, err := a.newClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			manager := managerOf(client)
			m := health.NewMonitor(version)
			m.WatchBroker(health.NewBrokerChecker(manager, a.logger))
			m.Watch(management, health.RoleAdvisory)
			if a.cfg.Client.WorkerVersion != "" {
				versions, err := health.NewVersionCheck(a.cfg.Client.WorkerVersion, health.WithVersionLogger(a.logger))
				if err != nil {
					return err
				}
				if _, err := manager.EnsureConnected(ctx); err == nil {
					_, err := client.Ask(ctx, contracts.NewQueryInstruction(contracts.TypeHeartbeat, contracts.SplitTargets(a.cfg.Client.Target)...), 0,
						func(resp contracts.WorkerResponse) { versions.Observe(resp) })
					if err != nil {
						a.logger.Warn("heartbeat failed", "error", err)
					}
				}
				m.WatchVersions(versions)
			}

			report := m.Check(ctx)
			fmt.Println(renderHealth(report))
			if report.Status == health.StatusUnhealthy {
				return errors.New("broker is unreachable")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the management port answers")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	var maxWait time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the client over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func(ctx context.Context, client *homecode.Client) error {
				m := health.NewMonitor(version)
				m.WatchBroker(health.NewBrokerChecker(managerOf(client), a.logger))
				m.Watch(health.NewManagementProbe(a.cfg.RabbitMQ.Host, a.cfg.RabbitMQ.ManagementPort, a.logger), health.RoleAdvisory)

				gw := gateway.New(client,
					gateway.WithHealth(m),
					gateway.WithMetrics(a.metrics),
					gateway.WithLogger(a.logger),
					gateway.WithMaxWait(maxWait),
				)
				return gw.ListenAndServe(ctx, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 30*time.Second, "Longest reply wait a caller may ask for")
	return cmd
}

// managerOf returns the connection manager of a client built by newClient.
func managerOf(client *homecode.Client) *rabbitmq.ConnectionManager {
	return client.Transport().(*rabbitmqTransport.Transport).Manager()
}
