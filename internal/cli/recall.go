package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/mnemo/internal/config"
	"github.com/mnemo-labs/mnemo/internal/recall"
)

var (
	recallUser   string
	recallThread string
	recallMax    int
)

// recall runs a ranked recall directly against the local store.
var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Query ranked memories for a user",
	RunE:  runRecall,
}

func init() {
	recallCmd.Flags().StringVar(&recallUser, "user", "local", "user ID")
	recallCmd.Flags().StringVar(&recallThread, "thread", "", "thread ID (same-thread memories rank first)")
	recallCmd.Flags().IntVar(&recallMax, "max", 0, "max items (1-20)")
}

func runRecall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	st, _, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := recall.New(st)
	res, err := svc.Recall(context.Background(), recall.Query{
		UserID:   recallUser,
		ThreadID: recallThread,
		MaxItems: recallMax,
		// CLI reads are interactive, not prompt-assembly; give them room.
		Deadline: 2 * time.Second,
	})
	if err != nil {
		return err
	}

	if res.Count == 0 {
		fmt.Println("no memories")
		return nil
	}
	for _, m := range res.Memories {
		fmt.Printf("[%s] p=%.2f r=%d  %s\n", m.Tier, m.Priority, m.Repeats, m.Content)
	}
	fmt.Printf("(%d items in %dms)\n", res.Count, res.ElapsedMs)
	return nil
}
