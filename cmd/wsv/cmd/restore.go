package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alphabill-org/wsv/restore"
	"github.com/alphabill-org/wsv/storage"
)

type restoreConfiguration struct {
	storageConfiguration
	Validate  bool
	BatchSize int
}

func newRestoreCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &restoreConfiguration{storageConfiguration: storageConfiguration{Base: baseConfig}}
	var cmd = &cobra.Command{
		Use:   "restore",
		Short: "Rebuilds the world state view from the block store",
		Long: `Removes the world state view and the block index and replays all the blocks of the block store.
The node must not serve requests when restore fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return restoreWsv(cmd, config)
		},
	}
	config.addStorageFlags(cmd)
	cmd.Flags().BoolVar(&config.Validate, "validate", false, "check permissions and chaining of the blocks, use it when the blocks come from an untrusted source")
	cmd.Flags().IntVar(&config.BatchSize, "batch-size", 100, "number of blocks applied in a single database transaction")
	return cmd
}

func restoreWsv(cmd *cobra.Command, config *restoreConfiguration) error {
	ctx := cmd.Context()
	// world state is rebuilt, it may be missing or behind the block store
	s, err := config.openStorage(ctx, storage.AllowWsvBehind())
	if err != nil {
		return err
	}
	opts := []restore.Option{restore.WithBatchSize(config.BatchSize)}
	if config.Validate {
		opts = append(opts, restore.WithValidation())
	}
	if err := restore.New(config.Base.observe.Logger(), opts...).RestoreWsv(ctx, s); err != nil {
		return err
	}
	ls := s.LedgerState()
	consoleWriter.Printf("World state restored, height %d, hash %s\n", ls.Height, ls.Hash)
	return nil
}
