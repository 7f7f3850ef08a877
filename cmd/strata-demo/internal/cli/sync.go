package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/redbco/strata/pkg/adapter"
	"github.com/redbco/strata/pkg/facade"
	"github.com/redbco/strata/pkg/syncstrategy"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Strategy   string
	Collection string
}

// NewSyncCommand creates the sync command, which reconciles a sample
// collection's schema against the backend selected by --backend using the
// named strategy.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "reconcile a sample collection's schema using drop, alter, or safe",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Strategy, "strategy", rootOpts.Config.Get("sync.strategy"), "sync strategy: drop, alter, or safe")
	cmd.Flags().StringVar(&opts.Collection, "collection", rootOpts.Config.Get("sync.collection"), "collection name to sync")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	store, err := opts.Registry.New(opts.Backend)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", opts.Backend, err)
	}
	if teardowner, ok := store.(adapter.Teardowner); ok {
		defer teardowner.Teardown(cmd.Context())
	}

	createdAt, err := opts.Config.GetBoolE("facade.createdAt")
	if err != nil {
		return err
	}
	updatedAt, err := opts.Config.GetBoolE("facade.updatedAt")
	if err != nil {
		return err
	}

	f := facade.New(store, facade.Config{
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil)

	declared := syncstrategy.Declared{
		"name":  "string",
		"price": "number",
		"active": map[string]any{
			"type":     "boolean",
			"required": true,
		},
	}

	if err := syncstrategy.Apply(cmd.Context(), f, syncstrategy.Strategy(opts.Strategy), opts.Collection, declared); err != nil {
		if adapter.IsUnsupported(err) {
			return fmt.Errorf("sync %q: backend %q cannot run strategy %q: %w", opts.Collection, opts.Backend, opts.Strategy, err)
		}
		return fmt.Errorf("sync %q: %w", opts.Collection, err)
	}

	attrs, err := f.Describe(cmd.Context(), opts.Collection)
	if err != nil {
		return fmt.Errorf("describe %q: %w", opts.Collection, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "collection %q synced with strategy %q, %d attributes:\n", opts.Collection, opts.Strategy, len(attrs))
	for _, attr := range attrs {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %s\n", attr.Name, attr.Type)
	}
	return nil
}
