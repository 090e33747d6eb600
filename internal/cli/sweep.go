package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/mnemo/internal/cadence"
	"github.com/mnemo-labs/mnemo/internal/config"
	"github.com/mnemo-labs/mnemo/internal/engine"
	"github.com/mnemo-labs/mnemo/internal/queue"
	"github.com/mnemo-labs/mnemo/internal/topics"
)

// sweep runs one retention pass directly against the store and exits.
// Useful from cron on hosts that do not keep the server running.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention pass and exit",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	st, desc, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Fprintf(os.Stderr, "sweeping %s\n", desc)

	eng := engine.New(st, queue.New(1, 1), cadence.New(cadence.DefaultConfig()), topics.New(), engine.Config{
		PromoteRepeats: cfg.Engine.PromoteRepeats,
		BatchSize:      cfg.Engine.BatchSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	res, err := eng.RunRetention(ctx)
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}

	fmt.Printf("decayed=%d expired=%d promoted=%d demoted=%d\n",
		res.Decayed, res.Expired, res.Promoted, res.Demoted)
	return nil
}
