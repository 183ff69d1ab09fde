package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/signoff/internal/model"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "signoff",
		Short: "Progress report sign-off, task deadlines and notification delivery",
		Long: `signoff drives progress reports through manager and director approval,
tracks the tasks each step creates, escalates approaching and missed
deadlines, and delivers notifications by email and Telegram.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", model.DefaultConfigPath(),
		"path to the YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(credentialCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
