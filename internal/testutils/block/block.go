package testblock

import (
	"testing"

	"github.com/stretchr/testify/require"

	testtransaction "github.com/alphabill-org/wsv/internal/testutils/transaction"
	"github.com/alphabill-org/wsv/types"
)

const (
	Domain   types.DomainID  = "shop"
	UserRole types.RoleID    = "user"
	RootRole types.RoleID    = "root"
	Admin    types.AccountID = "admin@shop"
	Alice    types.AccountID = "alice@shop"
	Bob      types.AccountID = "bob@shop"
	Coin     types.AssetID   = "coin#shop"
)

var (
	AdminKey = types.PublicKey{0xA0}
	AliceKey = types.PublicKey{0xA1}
	BobKey   = types.PublicKey{0xB0}

	UserPermissions = types.NewRolePermissionSet(
		types.PermTransfer, types.PermReceive, types.PermGetMyAccount, types.PermGetMyAccAst, types.PermGetMyTxs,
	)
)

/*
Genesis returns the first block of the test ledger: roles "root" and "user",
domain "shop" (default role "user"), accounts admin (root), alice and bob,
asset coin#shop with precision 2 and 1000 coins on the admin account.
*/
func Genesis() *types.Block {
	tx := testtransaction.NewTx(Admin, AdminKey, []types.Command{
		&types.CreateRole{RoleID: RootRole, Permissions: types.NewRolePermissionSet(types.PermRoot)},
		&types.CreateRole{RoleID: UserRole, Permissions: UserPermissions},
		&types.CreateDomain{DomainID: Domain, DefaultRole: UserRole},
		&types.CreateAccount{AccountName: "admin", DomainID: Domain, PublicKey: AdminKey},
		&types.AppendRole{AccountID: Admin, RoleID: RootRole},
		&types.CreateAccount{AccountName: "alice", DomainID: Domain, PublicKey: AliceKey},
		&types.CreateAccount{AccountName: "bob", DomainID: Domain, PublicKey: BobKey},
		&types.CreateAsset{AssetName: "coin", DomainID: Domain, Precision: 2},
		&types.AddAssetQuantity{AssetID: Coin, Amount: types.MustParseAmount("1000")},
	}, testtransaction.WithCreatedTime(0))
	return &types.Block{Height: 1, PrevHash: types.ZeroHash(), Transactions: []*types.Transaction{tx}}
}

// NextBlock creates block which follows "prev".
func NextBlock(t testing.TB, prev *types.Block, txs ...*types.Transaction) *types.Block {
	t.Helper()
	hash, err := prev.Hash()
	require.NoError(t, err)
	return &types.Block{Height: prev.Height + 1, PrevHash: hash, CreatedTime: prev.CreatedTime + 1, Transactions: txs}
}

// Transfer creates transaction transferring coins.
func Transfer(src types.AccountID, key types.PublicKey, dest types.AccountID, amount string) *types.Transaction {
	return testtransaction.NewTx(src, key, []types.Command{
		&types.TransferAsset{SrcAccountID: src, DestAccountID: dest, AssetID: Coin, Amount: types.MustParseAmount(amount)},
	})
}

// Chain creates "n" blocks following genesis, each transferring 1 coin from admin to alice.
func Chain(t testing.TB, n int) []*types.Block {
	t.Helper()
	blocks := []*types.Block{Genesis()}
	for i := 0; i < n; i++ {
		blocks = append(blocks, NextBlock(t, blocks[len(blocks)-1], Transfer(Admin, AdminKey, Alice, "1")))
	}
	return blocks
}
