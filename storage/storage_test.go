package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/wsv/executor"
	testblock "github.com/alphabill-org/wsv/internal/testutils/block"
	testobs "github.com/alphabill-org/wsv/internal/testutils/observability"
	testtransaction "github.com/alphabill-org/wsv/internal/testutils/transaction"
	"github.com/alphabill-org/wsv/keyvaluedb/memorydb"
	"github.com/alphabill-org/wsv/session"
	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

type testStorage struct {
	*StorageImpl
	wsvDB   *memorydb.MemoryDB
	blockDB *memorydb.MemoryDB
	obs     *testobs.Metrics
	genesis *types.Block
}

// newTestStorage creates storage with the genesis block of the test ledger committed.
func newTestStorage(t *testing.T, opts ...Option) *testStorage {
	t.Helper()
	ts := &testStorage{
		wsvDB:   memorydb.New(),
		blockDB: memorydb.New(),
		obs:     testobs.WithMetrics(t),
		genesis: testblock.Genesis(),
	}
	bs, err := NewBlockStore(ts.blockDB)
	require.NoError(t, err)
	ts.StorageImpl, err = New(context.Background(), session.NewKVStore(ts.wsvDB), bs, ts.obs, opts...)
	require.NoError(t, err)
	require.NoError(t, ts.InsertBlock(context.Background(), ts.genesis))
	return ts
}

func (ts *testStorage) balance(t *testing.T, q wsv.Query, id types.AccountID) string {
	t.Helper()
	aa, err := q.GetAccountAsset(id, testblock.Coin)
	if errors.Is(err, wsv.ErrNotFound) {
		return "0"
	}
	require.NoError(t, err)
	return aa.Balance.String()
}

func (ts *testStorage) committedBalance(t *testing.T, id types.AccountID) string {
	t.Helper()
	q, err := ts.WsvQuery()
	require.NoError(t, err)
	return ts.balance(t, q, id)
}

func TestNew(t *testing.T) {
	t.Run("nil stores", func(t *testing.T) {
		bs, err := NewBlockStore(memorydb.New())
		require.NoError(t, err)
		_, err = New(context.Background(), nil, bs, testobs.NOP())
		require.EqualError(t, err, "world state store is nil")
		_, err = New(context.Background(), session.NewKVStore(memorydb.New()), nil, testobs.NOP())
		require.EqualError(t, err, "block store is nil")
	})

	t.Run("invalid prepared block name", func(t *testing.T) {
		bs, err := NewBlockStore(memorydb.New())
		require.NoError(t, err)
		_, err = New(context.Background(), session.NewKVStore(memorydb.New()), bs, testobs.NOP(), WithPreparedBlockName("drop table"))
		require.EqualError(t, err, `invalid prepared block name "drop table"`)
	})

	t.Run("ledger state is loaded from block store", func(t *testing.T) {
		ts := newTestStorage(t)
		require.EqualValues(t, 1, ts.LedgerState().Height)
		require.Equal(t, ts.genesis.MustHash(), ts.LedgerState().Hash)

		bs, err := NewBlockStore(ts.blockDB)
		require.NoError(t, err)
		s, err := New(context.Background(), session.NewKVStore(ts.wsvDB), bs, testobs.NOP())
		require.NoError(t, err)
		require.Equal(t, ts.LedgerState(), s.LedgerState())
	})

	t.Run("ledger state of prepared block", func(t *testing.T) {
		ts := newTestStorage(t)
		tw, err := ts.CreateTemporaryWsv(context.Background())
		require.NoError(t, err)
		tx := testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "10")
		require.NoError(t, tw.Apply(tx))
		require.NoError(t, ts.PrepareBlock(tw))
		b := testblock.NextBlock(t, ts.genesis, tx)
		_, err = ts.CommitPrepared(context.Background(), b)
		require.NoError(t, err)

		bs, err := NewBlockStore(ts.blockDB)
		require.NoError(t, err)
		s, err := New(context.Background(), session.NewKVStore(ts.wsvDB), bs, testobs.NOP())
		require.NoError(t, err)
		require.Equal(t, LedgerState{Height: 2, Hash: b.MustHash()}, s.LedgerState())
	})

	t.Run("block of world state is missing", func(t *testing.T) {
		ts := newTestStorage(t)
		bs, err := NewBlockStore(memorydb.New())
		require.NoError(t, err)
		_, err = New(context.Background(), session.NewKVStore(ts.wsvDB), bs, testobs.NOP())
		require.ErrorIs(t, err, ErrWsvDiverged)
		require.ErrorContains(t, err, "block 1 is not in the block store")
	})

	t.Run("block of world state differs", func(t *testing.T) {
		ts := newTestStorage(t)
		bs, err := NewBlockStore(memorydb.New())
		require.NoError(t, err)
		other := testblock.Genesis()
		other.CreatedTime = 42
		require.NoError(t, bs.Put(other))
		_, err = New(context.Background(), session.NewKVStore(ts.wsvDB), bs, testobs.NOP())
		require.ErrorIs(t, err, ErrWsvDiverged)
	})

	t.Run("store unavailable", func(t *testing.T) {
		db := memorydb.New()
		require.NoError(t, db.Close())
		bs, err := NewBlockStore(memorydb.New())
		require.NoError(t, err)
		_, err = New(context.Background(), session.NewKVStore(db), bs, testobs.NOP())
		require.ErrorIs(t, err, session.ErrUnavailable)
	})
}

func TestGenesis(t *testing.T) {
	ts := newTestStorage(t)
	require.Equal(t, "1000.00", ts.committedBalance(t, testblock.Admin))

	q, err := ts.WsvQuery()
	require.NoError(t, err)
	perms, err := q.GetAccountPermissions(testblock.Alice)
	require.NoError(t, err)
	require.Equal(t, testblock.UserPermissions, perms)
	require.EqualValues(t, 1, ts.obs.Sum("storage", "top_height"))
}

func TestMutableStorage_ApplyIsAtomic(t *testing.T) {
	ts := newTestStorage(t)
	ms, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	defer ms.Close()

	b := testblock.NextBlock(t, ts.genesis,
		testtransaction.NewTx(testblock.Admin, testblock.AdminKey, []types.Command{
			&types.CreateAccount{AccountName: "carol", DomainID: testblock.Domain, PublicKey: types.PublicKey{0xC0}},
		}),
		// transfer from account which doesn't exist
		testblock.Transfer("ghost@shop", types.PublicKey{0xDD}, testblock.Alice, "1"),
	)
	require.False(t, ms.Apply(b))
	_, err = ms.Query().GetAccount("carol@shop")
	require.ErrorIs(t, err, wsv.ErrNotFound)
	require.Equal(t, ts.LedgerState(), ms.Top())
	require.Empty(t, ms.Blocks())
	require.EqualValues(t, 1, ts.obs.Sum("storage", "block.rejected"))

	// the storage is still usable after failed block
	b = testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "5"))
	require.True(t, ms.Apply(b))
	require.Equal(t, "5.00", ts.balance(t, ms.Query(), testblock.Alice))
	// not committed yet
	require.Equal(t, "0", ts.committedBalance(t, testblock.Alice))
}

func TestMutableStorage_ApplyKeepsPreviousBlocks(t *testing.T) {
	ts := newTestStorage(t)
	ms, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	defer ms.Close()

	b2 := testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "5"))
	require.True(t, ms.Apply(b2))
	// alice doesn't have that much
	b3 := testblock.NextBlock(t, b2, testblock.Transfer(testblock.Alice, testblock.AliceKey, testblock.Bob, "50"))
	require.False(t, ms.Apply(b3))

	require.Equal(t, "5.00", ts.balance(t, ms.Query(), testblock.Alice))
	require.Equal(t, "0", ts.balance(t, ms.Query(), testblock.Bob))
	require.Equal(t, []*types.Block{b2}, ms.Blocks())
	require.Equal(t, LedgerState{Height: 2, Hash: b2.MustHash()}, ms.Top())
}

func TestMutableStorage_ApplyIf(t *testing.T) {
	ts := newTestStorage(t)
	ms, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	defer ms.Close()

	b := testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "5"))
	orphan := &types.Block{Height: 2, PrevHash: types.Hash{1, 2, 3}, Transactions: b.Transactions}

	require.False(t, ms.Check(orphan, ExtendsTop))
	require.False(t, ms.ApplyIf(orphan, ExtendsTop))
	require.Equal(t, "0", ts.balance(t, ms.Query(), testblock.Alice))

	require.True(t, ms.Check(b, ExtendsTop))
	require.True(t, ms.ApplyIf(b, ExtendsTop))
	require.Equal(t, "5.00", ts.balance(t, ms.Query(), testblock.Alice))

	// predicate gets peers of the current state
	var peerCount int
	require.False(t, ms.Check(testblock.NextBlock(t, b), func(_ *types.Block, peers *PeerQuery, _ types.Hash) bool {
		p, err := peers.GetLedgerPeers()
		require.NoError(t, err)
		peerCount = len(p)
		return false
	}))
	require.Zero(t, peerCount)
}

func TestMutableStorage_WithCommandValidation(t *testing.T) {
	ts := newTestStorage(t)
	// alice is not allowed to create assets
	b := testblock.NextBlock(t, ts.genesis, testtransaction.NewTx(testblock.Alice, testblock.AliceKey, []types.Command{
		&types.CreateAsset{AssetName: "gold", DomainID: testblock.Domain, Precision: 0},
	}))

	ms, err := ts.CreateMutableStorage(context.Background(), WithCommandValidation())
	require.NoError(t, err)
	require.False(t, ms.Apply(b))
	require.NoError(t, ms.Close())

	// trusted replay skips permission checks
	ms, err = ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	require.True(t, ms.Apply(b))
	require.NoError(t, ms.Close())
}

func TestCommit(t *testing.T) {
	ts := newTestStorage(t)

	var notified []uint64
	unsubscribe, err := ts.OnCommit(func(b *types.Block) { notified = append(notified, b.Height) })
	require.NoError(t, err)

	ms, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	b2 := testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "5"))
	b3 := testblock.NextBlock(t, b2, testblock.Transfer(testblock.Alice, testblock.AliceKey, testblock.Bob, "2"))
	require.True(t, ms.Apply(b2))
	require.True(t, ms.Apply(b3))

	ls, err := ts.Commit(ms)
	require.NoError(t, err)
	require.Equal(t, LedgerState{Height: 3, Hash: b3.MustHash()}, ls)
	require.Equal(t, ls, ts.LedgerState())
	require.Equal(t, []uint64{2, 3}, notified)
	require.Equal(t, "3.00", ts.committedBalance(t, testblock.Alice))
	require.Equal(t, "2.00", ts.committedBalance(t, testblock.Bob))
	require.EqualValues(t, 3, ts.obs.Sum("storage", "top_height"))

	bq, err := ts.BlockQuery()
	require.NoError(t, err)
	top, err := bq.GetTopBlock()
	require.NoError(t, err)
	require.Equal(t, b3.MustHash(), top.MustHash())

	// storage can be committed once
	_, err = ts.Commit(ms)
	require.ErrorIs(t, err, ErrStorageDone)
	require.False(t, ms.Apply(testblock.NextBlock(t, b3)))

	unsubscribe()
	require.NoError(t, ts.InsertBlock(context.Background(), testblock.NextBlock(t, b3, testblock.Transfer(testblock.Bob, testblock.BobKey, testblock.Alice, "1"))))
	require.Equal(t, []uint64{2, 3}, notified)
}

func TestCommit_LedgerChanged(t *testing.T) {
	ts := newTestStorage(t)
	b2 := testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "5"))

	ms1, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	ms2, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	require.True(t, ms1.Apply(b2))
	require.True(t, ms2.Apply(b2))

	_, err = ts.Commit(ms1)
	require.NoError(t, err)
	_, err = ts.Commit(ms2)
	require.ErrorIs(t, err, ErrLedgerChanged)
	require.Equal(t, "5.00", ts.committedBalance(t, testblock.Alice))
}

func TestCommit_SessionFails(t *testing.T) {
	ts := newTestStorage(t)
	ms, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	b2 := testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "5"))
	require.True(t, ms.Apply(b2))

	ts.wsvDB.MockWriteError(errors.New("disk full"))
	_, err = ts.Commit(ms)
	require.ErrorContains(t, err, "disk full")
	ts.wsvDB.MockWriteError(nil)

	// block written for the failed commit is removed
	_, err = ts.blocks.Get(2)
	require.ErrorIs(t, err, ErrBlockNotFound)
	require.EqualValues(t, 1, ts.LedgerState().Height)
	require.Equal(t, "0", ts.committedBalance(t, testblock.Alice))
	require.NoError(t, ms.Close())
}

func TestMutableStorage_CloseDiscardsChanges(t *testing.T) {
	ts := newTestStorage(t)
	ms, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	require.True(t, ms.Apply(testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "5"))))
	require.NoError(t, ms.Close())
	require.NoError(t, ms.Close())

	require.Equal(t, "0", ts.committedBalance(t, testblock.Alice))
	require.EqualValues(t, 1, ts.LedgerState().Height)
	_, err = ts.Commit(ms)
	require.ErrorIs(t, err, ErrStorageDone)
}

func TestTemporaryWsv(t *testing.T) {
	ts := newTestStorage(t)
	tw, err := ts.CreateTemporaryWsv(context.Background())
	require.NoError(t, err)
	defer tw.Close()

	tx1 := testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "10")
	require.NoError(t, tw.Apply(tx1))
	require.Equal(t, "10.00", ts.balance(t, tw.Query(), testblock.Alice))

	t.Run("failing command rolls back whole transaction", func(t *testing.T) {
		tx := testtransaction.NewTx(testblock.Alice, testblock.AliceKey, []types.Command{
			&types.TransferAsset{SrcAccountID: testblock.Alice, DestAccountID: testblock.Bob, AssetID: testblock.Coin, Amount: types.MustParseAmount("4")},
			&types.TransferAsset{SrcAccountID: testblock.Alice, DestAccountID: testblock.Bob, AssetID: testblock.Coin, Amount: types.MustParseAmount("7")},
		})
		err := tw.Apply(tx)
		var ce *executor.CommandError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, executor.CodeInsufficientBalance, ce.Code)
		require.Equal(t, "10.00", ts.balance(t, tw.Query(), testblock.Alice))
		require.Equal(t, "0", ts.balance(t, tw.Query(), testblock.Bob))
	})

	t.Run("signatures are checked", func(t *testing.T) {
		tx := testblock.Transfer(testblock.Alice, testblock.BobKey, testblock.Bob, "1")
		err := tw.Apply(tx)
		var ce *executor.CommandError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, executor.CodeInvalidSignatories, ce.Code)
		require.Equal(t, "0", ts.balance(t, tw.Query(), testblock.Bob))
	})

	t.Run("permissions are checked", func(t *testing.T) {
		tx := testtransaction.NewTx(testblock.Alice, testblock.AliceKey, []types.Command{
			&types.AddAssetQuantity{AssetID: testblock.Coin, Amount: types.MustParseAmount("1")},
		})
		err := tw.Apply(tx)
		var ce *executor.CommandError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, executor.CodePermissionDenied, ce.Code)
	})

	require.Equal(t, []*types.Transaction{tx1}, tw.Applied())
	require.EqualValues(t, 3, ts.obs.Sum("storage", "tx.rejected"))

	// nothing is ever committed
	require.NoError(t, tw.Close())
	require.Equal(t, "0", ts.committedBalance(t, testblock.Alice))
	require.ErrorIs(t, tw.Apply(tx1), ErrStorageDone)
}

func TestTemporaryWsv_Savepoint(t *testing.T) {
	ts := newTestStorage(t)
	tw, err := ts.CreateTemporaryWsv(context.Background())
	require.NoError(t, err)
	defer tw.Close()

	tx1 := testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "10")
	require.NoError(t, tw.Apply(tx1))

	sp, err := tw.CreateSavepoint("batch")
	require.NoError(t, err)
	require.Equal(t, "batch", sp.Name())
	require.NoError(t, tw.Apply(testblock.Transfer(testblock.Alice, testblock.AliceKey, testblock.Bob, "3")))
	require.Equal(t, "3.00", ts.balance(t, tw.Query(), testblock.Bob))
	require.NoError(t, sp.Close())
	require.Equal(t, "0", ts.balance(t, tw.Query(), testblock.Bob))
	require.Equal(t, []*types.Transaction{tx1}, tw.Applied())
	// no-op on closed savepoint
	require.NoError(t, sp.Close())
	require.NoError(t, sp.Release())

	sp, err = tw.CreateSavepoint("batch")
	require.NoError(t, err)
	tx2 := testblock.Transfer(testblock.Alice, testblock.AliceKey, testblock.Bob, "3")
	require.NoError(t, tw.Apply(tx2))
	require.NoError(t, sp.Release())
	require.NoError(t, sp.Release())
	require.NoError(t, sp.Close())
	require.Equal(t, "3.00", ts.balance(t, tw.Query(), testblock.Bob))
	require.Equal(t, []*types.Transaction{tx1, tx2}, tw.Applied())
}

func TestPrepareBlock(t *testing.T) {
	ts := newTestStorage(t)
	var notified []uint64
	_, err := ts.OnCommit(func(b *types.Block) { notified = append(notified, b.Height) })
	require.NoError(t, err)

	tw, err := ts.CreateTemporaryWsv(context.Background())
	require.NoError(t, err)
	tx := testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "10")
	rejected := testblock.Transfer(testblock.Alice, testblock.AliceKey, testblock.Bob, "100")
	require.NoError(t, tw.Apply(tx))
	require.Error(t, tw.Apply(rejected))
	require.NoError(t, ts.PrepareBlock(tw))
	// prepared sandbox is not rolled back by Close
	require.NoError(t, tw.Close())
	require.Equal(t, "0", ts.committedBalance(t, testblock.Alice))

	b := testblock.NextBlock(t, ts.genesis, tx)
	b.RejectedTxHashes = []types.Hash{rejected.MustHash()}
	ls, err := ts.CommitPrepared(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, LedgerState{Height: 2, Hash: b.MustHash()}, ls)
	require.Equal(t, "10.00", ts.committedBalance(t, testblock.Alice))
	require.Equal(t, []uint64{2}, notified)

	bq, err := ts.BlockQuery()
	require.NoError(t, err)
	require.Equal(t, TxPresence{Status: TxCommitted, Hash: tx.MustHash(), Height: 2}, bq.CheckTxPresence(tx.MustHash()))
	require.Equal(t, TxPresence{Status: TxRejected, Hash: rejected.MustHash(), Height: 2}, bq.CheckTxPresence(rejected.MustHash()))

	// prepared block is consumed
	_, err = ts.CommitPrepared(context.Background(), b)
	require.ErrorIs(t, err, ErrNoPreparedBlock)
}

func TestCommitPrepared_BlockDoesNotMatch(t *testing.T) {
	ts := newTestStorage(t)
	tw, err := ts.CreateTemporaryWsv(context.Background())
	require.NoError(t, err)
	tx := testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "10")
	require.NoError(t, tw.Apply(tx))
	require.NoError(t, ts.PrepareBlock(tw))

	other := testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Bob, "10"))
	_, err = ts.CommitPrepared(context.Background(), other)
	require.ErrorIs(t, err, ErrNoPreparedBlock)
	require.Equal(t, "0", ts.committedBalance(t, testblock.Alice))

	// caller falls back to apply and commit
	ms, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	require.True(t, ms.ApplyIf(other, ExtendsTop))
	_, err = ts.Commit(ms)
	require.NoError(t, err)
	require.Equal(t, "10.00", ts.committedBalance(t, testblock.Bob))
	require.Equal(t, "0", ts.committedBalance(t, testblock.Alice))
}

func TestPrepareBlock_NewStorageDiscardsStalePreparedBlock(t *testing.T) {
	ts := newTestStorage(t)
	store := session.NewKVStore(ts.wsvDB)
	bs, err := NewBlockStore(ts.blockDB)
	require.NoError(t, err)
	s, err := New(context.Background(), store, bs, testobs.NOP())
	require.NoError(t, err)

	tw, err := s.CreateTemporaryWsv(context.Background())
	require.NoError(t, err)
	tx := testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "10")
	require.NoError(t, tw.Apply(tx))
	require.NoError(t, s.PrepareBlock(tw))

	s, err = New(context.Background(), store, bs, testobs.NOP())
	require.NoError(t, err)
	_, err = s.CommitPrepared(context.Background(), testblock.NextBlock(t, ts.genesis, tx))
	require.ErrorIs(t, err, ErrNoPreparedBlock)
	require.ErrorIs(t, store.CommitPrepared(context.Background(), defaultPreparedBlockName), session.ErrNotPrepared)
}

func TestCheckTxPresence(t *testing.T) {
	ts := newTestStorage(t)
	tx := testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "10")
	rejected := testblock.Transfer(testblock.Alice, testblock.AliceKey, testblock.Bob, "100")
	b := testblock.NextBlock(t, ts.genesis, tx)
	b.RejectedTxHashes = []types.Hash{rejected.MustHash()}
	require.NoError(t, ts.InsertBlock(context.Background(), b))

	bq, err := ts.BlockQuery()
	require.NoError(t, err)
	require.Equal(t, TxCommitted, bq.CheckTxPresence(tx.MustHash()).Status)
	require.Equal(t, TxRejected, bq.CheckTxPresence(rejected.MustHash()).Status)
	missing := types.Hash{1, 2, 3}
	require.Equal(t, TxPresence{Status: TxMissing, Hash: missing}, bq.CheckTxPresence(missing))

	require.NoError(t, ts.wsvDB.Close())
	// final answers are cached
	require.Equal(t, TxCommitted, bq.CheckTxPresence(tx.MustHash()).Status)
	// missing is not final
	require.Equal(t, TxUnknown, bq.CheckTxPresence(missing).Status)
	require.Equal(t, "unknown", TxUnknown.String())
}

func TestBlockQuery(t *testing.T) {
	ts := newTestStorage(t)
	blocks := testblock.Chain(t, 4)
	require.NoError(t, ts.InsertBlocks(context.Background(), blocks[1:]))

	bq, err := ts.BlockQuery()
	require.NoError(t, err)
	h, err := bq.GetTopBlockHeight()
	require.NoError(t, err)
	require.EqualValues(t, 5, h)

	res, err := bq.GetBlocks(2, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.EqualValues(t, 2, res[0].Height)
	require.EqualValues(t, 3, res[1].Height)

	_, err = bq.GetBlock(6)
	require.ErrorIs(t, err, ErrBlockNotFound)

	tx, err := bq.GetTransaction(blocks[3].Transactions[0].MustHash())
	require.NoError(t, err)
	require.Equal(t, blocks[3].Transactions[0].MustHash(), tx.MustHash())
	require.Equal(t, "4.00", ts.committedBalance(t, testblock.Alice))
}

func TestReset(t *testing.T) {
	ts := newTestStorage(t)
	require.NoError(t, ts.InsertBlocks(context.Background(), testblock.Chain(t, 2)[1:]))

	t.Run("wsv only", func(t *testing.T) {
		require.NoError(t, ts.ResetWsv(context.Background()))
		require.Equal(t, LedgerState{}, ts.LedgerState())
		q, err := ts.WsvQuery()
		require.NoError(t, err)
		_, err = q.GetAccount(testblock.Alice)
		require.ErrorIs(t, err, wsv.ErrNotFound)
		roles, err := q.GetRoles()
		require.NoError(t, err)
		require.Empty(t, roles)
		// blocks are kept
		b, err := ts.blocks.Top()
		require.NoError(t, err)
		require.EqualValues(t, 3, b.Height)
	})

	t.Run("everything", func(t *testing.T) {
		require.NoError(t, ts.Reset(context.Background()))
		b, err := ts.blocks.Top()
		require.NoError(t, err)
		require.Nil(t, b)
		// storage starts from scratch
		require.NoError(t, ts.InsertBlock(context.Background(), testblock.Genesis()))
		require.EqualValues(t, 1, ts.LedgerState().Height)
	})
}

func TestDropStorage(t *testing.T) {
	ts := newTestStorage(t)
	require.NoError(t, ts.DropStorage(context.Background()))
	require.Zero(t, ts.blockDB.Len())

	_, err := ts.WsvQuery()
	require.ErrorIs(t, err, session.ErrUnavailable)
	require.NoError(t, ts.FreeConnections())
}

func TestFreeConnections(t *testing.T) {
	ts := newTestStorage(t)
	require.NoError(t, ts.FreeConnections())
	require.NoError(t, ts.FreeConnections())

	_, err := ts.CreateMutableStorage(context.Background())
	require.ErrorIs(t, err, session.ErrUnavailable)
	_, err = ts.BlockQuery()
	require.ErrorIs(t, err, session.ErrUnavailable)
}

func TestNew_CrashBeforeWorldStateCommit(t *testing.T) {
	ts := newTestStorage(t)
	b2 := testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "5"))
	ms, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	require.True(t, ms.Apply(b2))
	// block reaches the block store, process dies before the session is committed
	var written []uint64
	require.NoError(t, ts.storeBlock(b2, &written))
	require.Equal(t, []uint64{2}, written)

	bs, err := NewBlockStore(ts.blockDB)
	require.NoError(t, err)
	_, err = New(context.Background(), session.NewKVStore(ts.wsvDB), bs, testobs.NOP())
	require.ErrorIs(t, err, ErrWsvBehind)
	require.ErrorContains(t, err, "world state height 1, block store height 2")

	s, err := New(context.Background(), session.NewKVStore(ts.wsvDB), bs, testobs.NOP(), AllowWsvBehind())
	require.NoError(t, err)
	require.Equal(t, LedgerState{Height: 1, Hash: ts.genesis.MustHash()}, s.LedgerState())
	q, err := s.WsvQuery()
	require.NoError(t, err)
	require.Equal(t, "0", ts.balance(t, q, testblock.Alice))

	// the block is applied again on top of the world state
	require.NoError(t, s.InsertBlock(context.Background(), b2))
	require.Equal(t, LedgerState{Height: 2, Hash: b2.MustHash()}, s.LedgerState())
	q, err = s.WsvQuery()
	require.NoError(t, err)
	require.Equal(t, "5.00", ts.balance(t, q, testblock.Alice))

	s, err = New(context.Background(), session.NewKVStore(ts.wsvDB), bs, testobs.NOP())
	require.NoError(t, err)
	require.EqualValues(t, 2, s.LedgerState().Height)
}

func TestCommit_ForeignStorage(t *testing.T) {
	ts := newTestStorage(t)
	bs, err := NewBlockStore(ts.blockDB)
	require.NoError(t, err)
	other, err := New(context.Background(), session.NewKVStore(ts.wsvDB), bs, testobs.NOP())
	require.NoError(t, err)

	ms, err := other.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	require.True(t, ms.Apply(testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "5"))))
	_, err = ts.Commit(ms)
	require.ErrorIs(t, err, ErrForeignStorage)
	// rejected storage is rolled back
	_, err = other.Commit(ms)
	require.ErrorIs(t, err, ErrStorageDone)

	tw, err := other.CreateTemporaryWsv(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, ts.PrepareBlock(tw), ErrForeignStorage)
	require.Equal(t, "0", ts.committedBalance(t, testblock.Alice))
	require.EqualValues(t, 1, ts.LedgerState().Height)
}

func TestCommit_StorageClosed(t *testing.T) {
	ts := newTestStorage(t)
	ms, err := ts.CreateMutableStorage(context.Background())
	require.NoError(t, err)
	require.True(t, ms.Apply(testblock.NextBlock(t, ts.genesis, testblock.Transfer(testblock.Admin, testblock.AdminKey, testblock.Alice, "5"))))
	require.NoError(t, ts.FreeConnections())
	_, err = ts.Commit(ms)
	require.ErrorIs(t, err, ErrStorageClosed)
	_, err = ts.blocks.Get(2)
	require.ErrorIs(t, err, ErrBlockNotFound)
}
