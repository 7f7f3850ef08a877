package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/redbco/strata/pkg/adapter"
	"github.com/redbco/strata/pkg/lockmanager"
)

// LockOptions holds flags for the lock command.
type LockOptions struct {
	*RootOptions
	Name     string
	Workers  int
	HoldTime time.Duration
}

// NewLockCommand creates the lock command, which runs several concurrent
// workers contending for the same named lock and prints the order in which
// each acquired and released it.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LockOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "run concurrent workers contending for a named lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "demo-lock", "name of the lock to contend for")
	cmd.Flags().IntVar(&opts.Workers, "workers", 5, "number of concurrent workers")
	cmd.Flags().DurationVar(&opts.HoldTime, "hold", 100*time.Millisecond, "how long each worker holds the lock")

	return cmd
}

func runLock(cmd *cobra.Command, opts *LockOptions) error {
	store, err := opts.Registry.New(opts.Backend)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", opts.Backend, err)
	}
	if teardowner, ok := store.(adapter.Teardowner); ok {
		defer teardowner.Teardown(cmd.Context())
	}

	warningTimer, err := opts.Config.GetDurationE("lockmanager.warningTimer")
	if err != nil {
		return err
	}
	staleAfter, err := opts.Config.GetDurationE("lockmanager.staleAfter")
	if err != nil {
		return err
	}
	scanInterval, err := opts.Config.GetDurationE("lockmanager.scanInterval")
	if err != nil {
		return err
	}

	manager, err := lockmanager.New(store, lockmanager.Config{
		WarningTimer: warningTimer,
		StaleAfter:   staleAfter,
		ScanInterval: scanInterval,
	})
	if err != nil {
		return fmt.Errorf("create lock manager: %w", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	order := make([]int, 0, opts.Workers)

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			err := manager.Transaction(cmd.Context(), opts.Name, func(unlock func(...any)) {
				mu.Lock()
				order = append(order, worker)
				mu.Unlock()
				fmt.Fprintf(cmd.OutOrStdout(), "worker %d acquired %q\n", worker, opts.Name)
				time.Sleep(opts.HoldTime)
				unlock(worker)
			}, func(args ...any) {
				fmt.Fprintf(cmd.OutOrStdout(), "worker %v released %q\n", args[0], opts.Name)
			})
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "worker %d error: %v\n", worker, err)
			}
		}(i)
	}
	wg.Wait()

	fmt.Fprintf(cmd.OutOrStdout(), "acquisition order: %v\n", order)
	return nil
}
