package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/wsv/keyvaluedb/memorydb"
	"github.com/alphabill-org/wsv/session"
	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

const (
	domain types.DomainID  = "shop"
	user   types.RoleID    = "user"
	admin  types.AccountID = "admin@shop"
	alice  types.AccountID = "alice@shop"
	bob    types.AccountID = "bob@shop"
	coin   types.AssetID   = "coin#shop"
)

var (
	adminKey = types.PublicKey{0xA0}
	aliceKey = types.PublicKey{0xA1}
	bobKey   = types.PublicKey{0xB0}
)

type testEnv struct {
	exec *Executor
	w    *wsv.Writer
	ses  session.Session
}

// newTestEnv creates world state with admin (root), alice and bob (user role) and
// the coin asset with precision 2.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := session.NewKVStore(memorydb.New())
	ses, err := store.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ses.Rollback() })

	w := wsv.NewCommand(ses)
	require.NoError(t, w.InsertRole("root", types.NewRolePermissionSet(types.PermRoot)))
	require.NoError(t, w.InsertRole(user, types.NewRolePermissionSet(types.PermTransfer, types.PermReceive, types.PermGetMyAccount)))
	require.NoError(t, w.InsertDomain(&types.Domain{ID: domain, DefaultRole: user}))
	accounts := []struct {
		id   types.AccountID
		key  types.PublicKey
		role types.RoleID
	}{
		{admin, adminKey, "root"},
		{alice, aliceKey, user},
		{bob, bobKey, user},
	}
	for _, a := range accounts {
		require.NoError(t, w.InsertAccount(&types.Account{ID: a.id, DomainID: domain, Quorum: 1}))
		require.NoError(t, w.InsertAccountSignatory(a.id, a.key))
		require.NoError(t, w.InsertAccountRole(a.id, a.role))
	}
	require.NoError(t, w.InsertAsset(&types.Asset{ID: coin, DomainID: domain, Precision: 2}))
	return &testEnv{exec: New(w, w), w: w, ses: ses}
}

func (env *testEnv) balance(t *testing.T, id types.AccountID) string {
	t.Helper()
	aa, err := env.w.GetAccountAsset(id, coin)
	if errors.Is(err, wsv.ErrNotFound) {
		return "0"
	}
	require.NoError(t, err)
	return aa.Balance.String()
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, code, ce.Code, ce.Error())
}

func TestExecute_InvalidCommand(t *testing.T) {
	env := newTestEnv(t)
	err := env.exec.Execute(admin, nil, true)
	requireCode(t, err, CodeInvalidArgument)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "<nil>", ce.CommandName)

	for _, cmd := range []types.Command{(*types.TransferAsset)(nil), (*types.CreateAccount)(nil), (*types.SetQuorum)(nil)} {
		err = env.exec.Execute(admin, cmd, true)
		requireCode(t, err, CodeInvalidArgument)
		require.ErrorContains(t, err, "command is nil")
		// unvalidated execution is guarded too
		requireCode(t, env.exec.Execute(admin, cmd, false), CodeInvalidArgument)
	}
}

func TestCommandError(t *testing.T) {
	env := newTestEnv(t)
	err := env.exec.Execute(alice, &types.CreateDomain{DomainID: "market", DefaultRole: user}, true)
	requireCode(t, err, CodePermissionDenied)
	require.EqualError(t, err, `CreateDomain failed with code 1: account "alice@shop" does not have permission can_create_domain`)
}

func TestAssetQuantity(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.exec.Execute(admin, &types.AddAssetQuantity{AssetID: coin, Amount: types.MustParseAmount("10.5")}, true))
	require.Equal(t, "10.50", env.balance(t, admin))
	require.NoError(t, env.exec.Execute(admin, &types.SubtractAssetQuantity{AssetID: coin, Amount: types.MustParseAmount("0.25")}, true))
	require.Equal(t, "10.25", env.balance(t, admin))

	t.Run("permission", func(t *testing.T) {
		requireCode(t, env.exec.Execute(alice, &types.AddAssetQuantity{AssetID: coin, Amount: types.MustParseAmount("1")}, true), CodePermissionDenied)
		requireCode(t, env.exec.Execute(alice, &types.SubtractAssetQuantity{AssetID: coin, Amount: types.MustParseAmount("1")}, true), CodePermissionDenied)
	})
	t.Run("precision", func(t *testing.T) {
		requireCode(t, env.exec.Execute(admin, &types.AddAssetQuantity{AssetID: coin, Amount: types.MustParseAmount("1.001")}, true), CodeInvalidAmount)
	})
	t.Run("zero amount", func(t *testing.T) {
		requireCode(t, env.exec.Execute(admin, &types.AddAssetQuantity{AssetID: coin, Amount: types.MustParseAmount("0.00")}, true), CodeInvalidAmount)
	})
	t.Run("unknown asset", func(t *testing.T) {
		requireCode(t, env.exec.Execute(admin, &types.AddAssetQuantity{AssetID: "gold#shop", Amount: types.MustParseAmount("1")}, true), CodeNotFound)
	})
	t.Run("insufficient balance", func(t *testing.T) {
		requireCode(t, env.exec.Execute(admin, &types.SubtractAssetQuantity{AssetID: coin, Amount: types.MustParseAmount("11")}, true), CodeInsufficientBalance)
		// without validation the mutation itself fails
		requireCode(t, env.exec.Execute(admin, &types.SubtractAssetQuantity{AssetID: coin, Amount: types.MustParseAmount("11")}, false), CodeInsufficientBalance)
		require.Equal(t, "10.25", env.balance(t, admin))
	})
}

func TestTransferAsset(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.exec.Execute(admin, &types.AddAssetQuantity{AssetID: coin, Amount: types.MustParseAmount("100")}, true))
	require.NoError(t, env.exec.Execute(admin, &types.TransferAsset{SrcAccountID: admin, DestAccountID: alice, AssetID: coin, Amount: types.MustParseAmount("40")}, true))
	require.Equal(t, "60.00", env.balance(t, admin))
	require.Equal(t, "40.00", env.balance(t, alice))

	transfer := func(src, dest types.AccountID, amount string) *types.TransferAsset {
		return &types.TransferAsset{SrcAccountID: src, DestAccountID: dest, AssetID: coin, Amount: types.MustParseAmount(amount)}
	}
	require.NoError(t, env.exec.Execute(alice, transfer(alice, bob, "0.01"), true))
	require.Equal(t, "39.99", env.balance(t, alice))
	require.Equal(t, "0.01", env.balance(t, bob))

	requireCode(t, env.exec.Execute(alice, transfer(alice, alice, "1"), true), CodeSameAccounts)
	requireCode(t, env.exec.Execute(alice, transfer(alice, bob, "40"), true), CodeInsufficientBalance)
	requireCode(t, env.exec.Execute(alice, transfer(alice, "carol@shop", "1"), true), CodeNotFound)
	requireCode(t, env.exec.Execute(alice, transfer(alice, bob, "0.001"), true), CodeInvalidAmount)
	// bob has not granted alice to transfer his assets
	requireCode(t, env.exec.Execute(alice, transfer(bob, alice, "0.01"), true), CodePermissionDenied)

	require.NoError(t, env.exec.Execute(admin, &types.CreateRole{RoleID: "granter", Permissions: types.NewRolePermissionSet(types.PermGrantTransferMyAssets)}, true))
	require.NoError(t, env.exec.Execute(admin, &types.AppendRole{AccountID: bob, RoleID: "granter"}, true))
	require.NoError(t, env.exec.Execute(bob, &types.GrantPermission{AccountID: alice, Permission: types.GrantTransferMyAssets}, true))
	require.NoError(t, env.exec.Execute(alice, transfer(bob, alice, "0.01"), true))
	require.Equal(t, "40.00", env.balance(t, alice))
	require.Equal(t, "0.00", env.balance(t, bob))

	// destination must be able to receive
	require.NoError(t, env.exec.Execute(admin, &types.DetachRole{AccountID: bob, RoleID: user}, true))
	requireCode(t, env.exec.Execute(alice, transfer(alice, bob, "1"), true), CodePermissionDenied)
}

func TestCreateAccount(t *testing.T) {
	env := newTestEnv(t)
	carol := &types.CreateAccount{AccountName: "carol", DomainID: domain, PublicKey: types.PublicKey{0xC0}}
	require.NoError(t, env.exec.Execute(admin, carol, true))

	acc, err := env.w.GetAccount("carol@shop")
	require.NoError(t, err)
	require.EqualValues(t, 1, acc.Quorum)
	sigs, err := env.w.GetSignatories("carol@shop")
	require.NoError(t, err)
	require.Equal(t, []types.PublicKey{{0xC0}}, sigs)
	roles, err := env.w.GetAccountRoles("carol@shop")
	require.NoError(t, err)
	require.Equal(t, []types.RoleID{user}, roles)

	requireCode(t, env.exec.Execute(admin, carol, true), CodeAlreadyExists)
	requireCode(t, env.exec.Execute(alice, &types.CreateAccount{AccountName: "dave", DomainID: domain}, true), CodePermissionDenied)
	requireCode(t, env.exec.Execute(admin, &types.CreateAccount{AccountName: "dave", DomainID: "market"}, true), CodeNotFound)
	requireCode(t, env.exec.Execute(admin, &types.CreateAccount{AccountName: "Dave", DomainID: domain}, true), CodeInvalidArgument)
	// replay does not check permissions
	require.NoError(t, env.exec.Execute(alice, &types.CreateAccount{AccountName: "dave", DomainID: domain, PublicKey: types.PublicKey{0xD0}}, false))
}

func TestCreateAccount_DefaultRoleNotSubsetOfCreator(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.exec.Execute(admin, &types.CreateRole{RoleID: "creator", Permissions: types.NewRolePermissionSet(types.PermCreateAccount)}, true))
	require.NoError(t, env.exec.Execute(admin, &types.AppendRole{AccountID: alice, RoleID: "creator"}, true))
	require.NoError(t, env.exec.Execute(admin, &types.CreateRole{RoleID: "rich", Permissions: types.NewRolePermissionSet(types.PermAddAssetQty)}, true))
	require.NoError(t, env.exec.Execute(admin, &types.CreateDomain{DomainID: "bank", DefaultRole: "rich"}, true))

	requireCode(t, env.exec.Execute(alice, &types.CreateAccount{AccountName: "eve", DomainID: "bank", PublicKey: types.PublicKey{1}}, true), CodePermissionDenied)
	require.NoError(t, env.exec.Execute(alice, &types.CreateAccount{AccountName: "eve", DomainID: domain, PublicKey: types.PublicKey{1}}, true))
}

func TestSignatoriesAndQuorum(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.exec.Execute(admin, &types.AddSignatory{AccountID: alice, PublicKey: types.PublicKey{0xA2}}, true))
	requireCode(t, env.exec.Execute(admin, &types.AddSignatory{AccountID: alice, PublicKey: types.PublicKey{0xA2}}, true), CodeAlreadyExists)

	// quorum can not exceed the number of signatories
	requireCode(t, env.exec.Execute(admin, &types.SetQuorum{AccountID: alice, Quorum: 3}, true), CodeInvalidSignatories)
	requireCode(t, env.exec.Execute(admin, &types.SetQuorum{AccountID: alice, Quorum: 0}, true), CodeInvalidArgument)
	requireCode(t, env.exec.Execute(admin, &types.SetQuorum{AccountID: alice, Quorum: types.MaxQuorum + 1}, true), CodeInvalidArgument)
	require.NoError(t, env.exec.Execute(admin, &types.SetQuorum{AccountID: alice, Quorum: 2}, true))
	acc, err := env.w.GetAccount(alice)
	require.NoError(t, err)
	require.EqualValues(t, 2, acc.Quorum)

	// removing a signatory would break the quorum
	requireCode(t, env.exec.Execute(admin, &types.RemoveSignatory{AccountID: alice, PublicKey: aliceKey}, true), CodeInvalidSignatories)
	requireCode(t, env.exec.Execute(admin, &types.RemoveSignatory{AccountID: alice, PublicKey: types.PublicKey{0xFF}}, true), CodeNotFound)
	require.NoError(t, env.exec.Execute(admin, &types.SetQuorum{AccountID: alice, Quorum: 1}, true))
	require.NoError(t, env.exec.Execute(admin, &types.RemoveSignatory{AccountID: alice, PublicKey: aliceKey}, true))
	sigs, err := env.w.GetSignatories(alice)
	require.NoError(t, err)
	require.Equal(t, []types.PublicKey{{0xA2}}, sigs)

	// alice has neither the role permission nor a grant from bob
	requireCode(t, env.exec.Execute(alice, &types.AddSignatory{AccountID: bob, PublicKey: types.PublicKey{1}}, true), CodePermissionDenied)
	requireCode(t, env.exec.Execute(alice, &types.SetQuorum{AccountID: alice, Quorum: 1}, true), CodePermissionDenied)
}

func TestSetAccountDetail(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.exec.Execute(alice, &types.SetAccountDetail{AccountID: alice, Key: "age", Value: "30"}, true))
	requireCode(t, env.exec.Execute(bob, &types.SetAccountDetail{AccountID: alice, Key: "age", Value: "18"}, true), CodePermissionDenied)
	require.NoError(t, env.exec.Execute(admin, &types.SetAccountDetail{AccountID: alice, Key: "age", Value: "31"}, true))
	requireCode(t, env.exec.Execute(admin, &types.SetAccountDetail{AccountID: "carol@shop", Key: "age", Value: "1"}, true), CodeNotFound)

	detail, err := env.w.GetAccountDetail(alice)
	require.NoError(t, err)
	require.Equal(t, types.AccountDetail{alice: {"age": "30"}, admin: {"age": "31"}}, detail)
}

func TestGrantAndRevokePermission(t *testing.T) {
	env := newTestEnv(t)
	grant := &types.GrantPermission{AccountID: bob, Permission: types.GrantSetMyAccountDetail}
	// alice does not have the permission to grant
	requireCode(t, env.exec.Execute(alice, grant, true), CodePermissionDenied)

	require.NoError(t, env.exec.Execute(admin, &types.CreateRole{RoleID: "granter", Permissions: types.NewRolePermissionSet(types.PermGrantSetMyAccountDetail)}, true))
	require.NoError(t, env.exec.Execute(admin, &types.AppendRole{AccountID: alice, RoleID: "granter"}, true))
	require.NoError(t, env.exec.Execute(alice, grant, true))
	requireCode(t, env.exec.Execute(alice, grant, true), CodeAlreadyExists)
	require.NoError(t, env.exec.Execute(bob, &types.SetAccountDetail{AccountID: alice, Key: "note", Value: "hi"}, true))

	revoke := &types.RevokePermission{AccountID: bob, Permission: types.GrantSetMyAccountDetail}
	require.NoError(t, env.exec.Execute(alice, revoke, true))
	requireCode(t, env.exec.Execute(alice, revoke, true), CodePermissionDenied)
	requireCode(t, env.exec.Execute(bob, &types.SetAccountDetail{AccountID: alice, Key: "note", Value: "bye"}, true), CodePermissionDenied)

	requireCode(t, env.exec.Execute(admin, &types.GrantPermission{AccountID: bob, Permission: 200}, true), CodeInvalidArgument)
}

func TestRoles(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.exec.Execute(admin, &types.CreateRole{RoleID: "manager", Permissions: types.NewRolePermissionSet(types.PermCreateRole, types.PermAppendRole, types.PermDetachRole)}, true))
	requireCode(t, env.exec.Execute(admin, &types.CreateRole{RoleID: "manager"}, true), CodeAlreadyExists)
	requireCode(t, env.exec.Execute(admin, &types.CreateRole{RoleID: "bad role"}, true), CodeInvalidArgument)
	require.NoError(t, env.exec.Execute(admin, &types.AppendRole{AccountID: alice, RoleID: "manager"}, true))

	// alice can not create roles with permissions she does not have
	requireCode(t, env.exec.Execute(alice, &types.CreateRole{RoleID: "peers", Permissions: types.NewRolePermissionSet(types.PermAddPeer)}, true), CodePermissionDenied)
	require.NoError(t, env.exec.Execute(alice, &types.CreateRole{RoleID: "sender", Permissions: types.NewRolePermissionSet(types.PermTransfer)}, true))
	require.NoError(t, env.exec.Execute(alice, &types.AppendRole{AccountID: bob, RoleID: "sender"}, true))
	requireCode(t, env.exec.Execute(alice, &types.AppendRole{AccountID: bob, RoleID: "sender"}, true), CodeAlreadyExists)
	requireCode(t, env.exec.Execute(alice, &types.AppendRole{AccountID: bob, RoleID: "missing"}, true), CodeNotFound)
	require.NoError(t, env.exec.Execute(alice, &types.DetachRole{AccountID: bob, RoleID: "sender"}, true))
	requireCode(t, env.exec.Execute(alice, &types.DetachRole{AccountID: bob, RoleID: "sender"}, true), CodeNotFound)

	roles, err := env.w.GetAccountRoles(bob)
	require.NoError(t, err)
	require.Equal(t, []types.RoleID{user}, roles)
}

func TestDomainAndPeer(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.exec.Execute(admin, &types.CreateDomain{DomainID: "market", DefaultRole: user}, true))
	requireCode(t, env.exec.Execute(admin, &types.CreateDomain{DomainID: "market", DefaultRole: user}, true), CodeAlreadyExists)
	requireCode(t, env.exec.Execute(admin, &types.CreateDomain{DomainID: "bazaar", DefaultRole: "missing"}, true), CodeNotFound)
	requireCode(t, env.exec.Execute(admin, &types.CreateDomain{DomainID: "-bazaar", DefaultRole: user}, true), CodeInvalidArgument)

	require.NoError(t, env.exec.Execute(admin, &types.CreateAsset{AssetName: "gold", DomainID: "market", Precision: 4}, true))
	requireCode(t, env.exec.Execute(admin, &types.CreateAsset{AssetName: "gold", DomainID: "market", Precision: 4}, true), CodeAlreadyExists)
	requireCode(t, env.exec.Execute(admin, &types.CreateAsset{AssetName: "silver", DomainID: "market", Precision: types.MaxPrecision + 1}, true), CodeInvalidAmount)
	requireCode(t, env.exec.Execute(alice, &types.CreateAsset{AssetName: "silver", DomainID: "market"}, true), CodePermissionDenied)

	peer := types.Peer{Address: "10.0.0.1:10001", PublicKey: types.PublicKey{0x01}}
	require.NoError(t, env.exec.Execute(admin, &types.AddPeer{Peer: peer}, true))
	requireCode(t, env.exec.Execute(admin, &types.AddPeer{Peer: peer}, true), CodeAlreadyExists)
	requireCode(t, env.exec.Execute(admin, &types.AddPeer{Peer: types.Peer{PublicKey: types.PublicKey{0x02}}}, true), CodeInvalidArgument)
	requireCode(t, env.exec.Execute(alice, &types.AddPeer{Peer: types.Peer{Address: "10.0.0.2:10001", PublicKey: types.PublicKey{0x02}}}, true), CodePermissionDenied)
	peers, err := env.w.GetPeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
}

type denyAll struct{}

func (denyAll) AccountPermissions(types.AccountID) (types.RolePermissionSet, error) { return 0, nil }
func (denyAll) HasRolePermission(types.AccountID, types.RolePermission) (bool, error) {
	return false, nil
}
func (denyAll) HasGrantablePermission(_, _ types.AccountID, _ types.GrantablePermission) (bool, error) {
	return false, nil
}

func TestWithPermissionChecker(t *testing.T) {
	env := newTestEnv(t)
	exec := New(env.w, env.w, WithPermissionChecker(denyAll{}))
	requireCode(t, exec.Execute(admin, &types.AddPeer{Peer: types.Peer{Address: "a:1", PublicKey: types.PublicKey{1}}}, true), CodePermissionDenied)
	// self detail does not depend on permissions
	require.NoError(t, exec.Execute(alice, &types.SetAccountDetail{AccountID: alice, Key: "k", Value: "v"}, true))
}

func TestExecute_StoreUnavailable(t *testing.T) {
	db := memorydb.New()
	store := session.NewKVStore(db)
	ses, err := store.Begin(context.Background())
	require.NoError(t, err)
	w := wsv.NewCommand(ses)
	require.NoError(t, db.Close())

	err = New(w, w).Execute(admin, &types.CreateDomain{DomainID: "market", DefaultRole: user}, true)
	requireCode(t, err, CodeInternal)
	require.True(t, session.Unavailable(err))
}
