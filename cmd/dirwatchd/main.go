// Command dirwatchd watches configured directory trees through the
// Linux audit subsystem and appends one log line per observed access.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lipk/dirwatchd/internal/auditsrc"
	"github.com/lipk/dirwatchd/internal/config"
	"github.com/lipk/dirwatchd/internal/daemon"
	"github.com/lipk/dirwatchd/internal/ipc"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "dirwatchd",
		Short: "Watch directory trees via the Linux audit subsystem",
		Long:  "dirwatchd is a privileged daemon that watches configured directory trees through the Linux audit subsystem and logs every access.",
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(pingCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runCmd is the daemon's only foreground entry point. There are no
// flags: configuration comes entirely from the file resolved by
// config.ConfigPath.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ConfigPath())
			if err != nil {
				log.Printf("[dirwatchd] %v", err)
				os.Exit(1)
			}

			source := auditsrc.NewNetlinkSource()
			ipcServer := ipc.NewServer(nil, nil)
			d := daemon.New(cfg, source, ipcServer)

			if err := d.Start(); err != nil {
				log.Printf("[dirwatchd] %v", err)
				os.Exit(1)
			}
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ipc.NewClient(daemonSocketPath())
			if err := client.RequestStop(); err != nil {
				return fmt.Errorf("stop daemon: %w", err)
			}
			fmt.Println("daemon stopping")
			return nil
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check whether the daemon is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ipc.NewClient(daemonSocketPath())
			if err := client.Ping(); err != nil {
				color.Red("daemon is not running")
				return err
			}
			color.Green("daemon is alive")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
	}
	cmd.Flags().Bool("json", false, "print status as JSON")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		client := ipc.NewClient(daemonSocketPath())
		status, err := client.Status()
		if err != nil {
			return fmt.Errorf("daemon not running or unreachable: %w", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, _ := json.MarshalIndent(status, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("%s %s\n", color.GreenString("uptime:"), status.Uptime)
		fmt.Printf("%s %v\n", color.CyanString("watched roots:"), status.WatchedRoots)
		fmt.Printf("%s %s\n", color.CyanString("audit rules installed:"), humanize.Comma(int64(status.RuleCount)))
		fmt.Printf("%s %s\n", color.CyanString("events processed:"), humanize.Comma(int64(status.ProcessedEvents)))
		fmt.Printf("%s %s\n", color.CyanString("events pending:"), humanize.Comma(int64(status.PendingEvents)))
		if status.Idle() {
			fmt.Println(color.GreenString("pipeline is idle"))
		}
		if status.DiscardedEvents > 0 {
			fmt.Printf("%s %s\n", color.YellowString("events discarded:"), humanize.Comma(int64(status.DiscardedEvents)))
		}
		return nil
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dirwatchd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("dirwatchd " + version)
			return nil
		},
	}
}

// daemonSocketPath is the fixed IPC socket the running daemon listens
// on; unlike outputPath/dirs it is not user-configurable, since exactly
// one dirwatchd instance is expected per host.
func daemonSocketPath() string {
	return "/run/dirwatchd.sock"
}
