package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/wsv/storage"
)

func newStatusCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &storageConfiguration{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "status",
		Short: "Prints the top block of the block store and the state of the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(cmd, config)
		},
	}
	config.addStorageFlags(cmd)
	return cmd
}

func printStatus(cmd *cobra.Command, config *storageConfiguration) error {
	s, err := config.openStorage(cmd.Context(), storage.AllowWsvBehind())
	if err != nil {
		return err
	}
	bq, err := s.BlockQuery()
	if err != nil {
		return fmt.Errorf("creating block query: %w", err)
	}
	top, err := bq.GetTopBlock()
	if errors.Is(err, storage.ErrBlockNotFound) {
		consoleWriter.Println("Block store is empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading top block: %w", err)
	}
	ls := s.LedgerState()
	consoleWriter.Printf("Height: %d\n", ls.Height)
	consoleWriter.Printf("Hash: %s\n", ls.Hash)
	if top.Height != ls.Height {
		consoleWriter.Printf("World state is behind the block store (height %d), run restore\n", top.Height)
	}
	consoleWriter.Printf("Transactions: %d\n", len(top.Transactions))
	consoleWriter.Printf("Rejected transactions: %d\n", len(top.RejectedTxHashes))

	pq, err := s.CreatePeerQuery()
	if err != nil {
		return fmt.Errorf("creating peer query: %w", err)
	}
	peers, err := pq.GetLedgerPeers()
	if err != nil {
		return fmt.Errorf("reading peers: %w", err)
	}
	consoleWriter.Printf("Peers: %d\n", len(peers))
	for _, p := range peers {
		consoleWriter.Printf("  %s %s\n", p.PublicKey, p.Address)
	}
	return nil
}
