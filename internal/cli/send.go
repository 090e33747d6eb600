package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/mnemo/internal/emit"
	"github.com/mnemo-labs/mnemo/internal/engine"
)

var (
	sendUser   string
	sendThread string
	sendRole   string
)

// send posts a message event to a running server. Mainly for smoke
// testing an installation.
var sendCmd = &cobra.Command{
	Use:   "send [content]",
	Short: "Send one message event to a running mnemo server",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendUser, "user", "local", "user ID")
	sendCmd.Flags().StringVar(&sendThread, "thread", "cli", "thread ID")
	sendCmd.Flags().StringVar(&sendRole, "role", "user", "message role")
}

func runSend(cmd *cobra.Command, args []string) error {
	client := emit.NewClient()
	if !client.Healthy() {
		return fmt.Errorf("mnemo server not reachable (is `mnemo serve` running?)")
	}

	ev := engine.MessageEvent{
		UserID:    sendUser,
		ThreadID:  sendThread,
		Role:      sendRole,
		Content:   args[0],
		Timestamp: time.Now().UnixMilli(),
	}
	if err := client.Send(ev); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Println("accepted")
	return nil
}
