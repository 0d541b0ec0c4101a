package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alphabill-org/wsv/executor"
	"github.com/alphabill-org/wsv/logger"
	"github.com/alphabill-org/wsv/session"
	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

const txSavepoint = "savepoint_temp_wsv"

type twState int

const (
	twOpen twState = iota
	twPrepared
	twClosed
)

/*
TemporaryWsv is a sandbox for stateful validation of transactions. Changes are
never committed, the session is rolled back by Close (or turned into a prepared
block by StorageImpl.PrepareBlock).

TemporaryWsv must not be used concurrently.
*/
type TemporaryWsv struct {
	owner   *StorageImpl
	ses     session.Session
	wsv     *wsv.Writer
	exec    *executor.Executor
	log     *slog.Logger
	metrics *metrics

	// transactions applied and not rolled back, in order
	applied []*types.Transaction
	state   twState
}

func newTemporaryWsv(owner *StorageImpl, ses session.Session) *TemporaryWsv {
	w := wsv.NewCommand(ses)
	return &TemporaryWsv{
		owner:   owner,
		ses:     ses,
		wsv:     w,
		exec:    executor.New(w, w),
		log:     owner.log,
		metrics: owner.metrics,
	}
}

/*
Apply validates and executes the transaction. Signatures of the transaction
are checked against the signatories and quorum of the creator account before
the commands are executed. When any check or command fails, changes made by
the transaction are rolled back, transactions applied before it are kept.

Returned error is *executor.CommandError unless the session failed.
*/
func (tw *TemporaryWsv) Apply(tx *types.Transaction) (rErr error) {
	sp, err := tw.CreateSavepoint(txSavepoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := sp.Close(); err != nil {
			tw.log.Warn("rolling back transaction", logger.Error(err))
		}
		if rErr != nil {
			tw.metrics.txRejected.Add(context.Background(), 1)
		}
	}()

	if err := tw.exec.ValidateSignatures(tx); err != nil {
		return err
	}
	for _, cmd := range tx.Commands {
		if err := tw.exec.Execute(tx.CreatorAccountID, cmd, true); err != nil {
			tw.log.Debug(fmt.Sprintf("transaction rejected: %s", err), logger.TxHash(tx.MustHash()), logger.Account(tx.CreatorAccountID))
			return err
		}
	}
	if err := sp.Release(); err != nil {
		return err
	}
	tw.applied = append(tw.applied, tx)
	return nil
}

// CreateSavepoint creates savepoint of the sandbox. Transactions applied after
// the savepoint are forgotten when the savepoint is rolled back.
func (tw *TemporaryWsv) CreateSavepoint(name string) (*Savepoint, error) {
	if tw.state != twOpen {
		return nil, ErrStorageDone
	}
	n := len(tw.applied)
	return newSavepoint(tw.ses, name, func() { tw.applied = tw.applied[:n] })
}

// Applied returns the transactions applied to the sandbox.
func (tw *TemporaryWsv) Applied() []*types.Transaction {
	return tw.applied
}

// Query returns query of the sandbox state.
func (tw *TemporaryWsv) Query() wsv.Query {
	return tw.wsv
}

// Close discards the sandbox.
func (tw *TemporaryWsv) Close() error {
	if tw.state != twOpen {
		return nil
	}
	tw.state = twClosed
	if err := tw.ses.Rollback(); err != nil {
		return fmt.Errorf("rolling back temporary wsv: %w", err)
	}
	return nil
}
