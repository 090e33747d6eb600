package cli

import (
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Background memory for conversational AI",
	Long:  "Mnemo distills durable user memories from conversation streams in the background and serves ranked recall for prompt assembly. Single Go binary.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (YAML)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(recallCmd)
}
