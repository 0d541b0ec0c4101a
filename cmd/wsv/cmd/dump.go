package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

type dumpConfiguration struct {
	storageConfiguration
	Prefix string
}

func newDumpCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &dumpConfiguration{storageConfiguration: storageConfiguration{Base: baseConfig}}
	var cmd = &cobra.Command{
		Use:   "dump",
		Short: "Prints the keys of the world state store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumpWsv(cmd, config)
		},
	}
	config.addStorageFlags(cmd)
	cmd.Flags().StringVar(&config.Prefix, "prefix", "", `print only keys with given prefix, ie "acc/"`)
	return cmd
}

func dumpWsv(cmd *cobra.Command, config *dumpConfiguration) error {
	store, err := config.openStore(cmd.Context())
	if err != nil {
		return err
	}
	if err := store.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("connecting to world state store: %w", err)
	}
	cnt := 0
	err = store.Reader().Scan([]byte(config.Prefix), func(key, value []byte) error {
		cnt++
		consoleWriter.Printf("%q %X\n", key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading world state: %w", err)
	}
	consoleWriter.Printf("%d key(s)\n", cnt)
	return nil
}
