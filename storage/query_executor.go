package storage

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/wsv/executor"
	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

var ErrPermissionDenied = errors.New("permission denied")

// QueryExecutor answers queries of an account about the committed state. Queries
// about other accounts need the "all" flavor of the read permission.
type QueryExecutor struct {
	creator types.AccountID
	q       wsv.Query
	perms   executor.PermissionChecker
	blocks  *BlockQuery
}

func NewQueryExecutor(creator types.AccountID, q wsv.Query, blocks *BlockQuery) *QueryExecutor {
	return &QueryExecutor{
		creator: creator,
		q:       q,
		perms:   executor.NewRolePermissionChecker(q),
		blocks:  blocks,
	}
}

func (qe *QueryExecutor) GetAccount(id types.AccountID) (*types.Account, error) {
	if err := qe.requireMyOrAll(id, types.PermGetMyAccount, types.PermGetAllAccounts); err != nil {
		return nil, err
	}
	return qe.q.GetAccount(id)
}

func (qe *QueryExecutor) GetSignatories(id types.AccountID) ([]types.PublicKey, error) {
	if err := qe.requireMyOrAll(id, types.PermGetMySignatories, types.PermGetAllSignatories); err != nil {
		return nil, err
	}
	if _, err := qe.q.GetAccount(id); err != nil {
		return nil, err
	}
	return qe.q.GetSignatories(id)
}

func (qe *QueryExecutor) GetAccountAssets(id types.AccountID) ([]*types.AccountAsset, error) {
	if err := qe.requireMyOrAll(id, types.PermGetMyAccAst, types.PermGetAllAccAst); err != nil {
		return nil, err
	}
	return qe.q.GetAccountAssets(id)
}

func (qe *QueryExecutor) GetAccountDetail(id types.AccountID) (types.AccountDetail, error) {
	if err := qe.requireMyOrAll(id, types.PermGetMyAccDetail, types.PermGetAllAccDetail); err != nil {
		return nil, err
	}
	return qe.q.GetAccountDetail(id)
}

func (qe *QueryExecutor) GetRoles() ([]types.RoleID, error) {
	if err := qe.require(types.PermGetRoles); err != nil {
		return nil, err
	}
	return qe.q.GetRoles()
}

func (qe *QueryExecutor) GetRolePermissions(role types.RoleID) (types.RolePermissionSet, error) {
	if err := qe.require(types.PermGetRoles); err != nil {
		return 0, err
	}
	return qe.q.GetRolePermissions(role)
}

func (qe *QueryExecutor) GetAssetInfo(id types.AssetID) (*types.Asset, error) {
	if err := qe.require(types.PermReadAssets); err != nil {
		return nil, err
	}
	return qe.q.GetAsset(id)
}

func (qe *QueryExecutor) GetPeers() ([]*types.Peer, error) {
	if err := qe.require(types.PermGetPeers); err != nil {
		return nil, err
	}
	return qe.q.GetPeers()
}

func (qe *QueryExecutor) GetBlock(height uint64) (*types.Block, error) {
	if err := qe.require(types.PermGetBlocks); err != nil {
		return nil, err
	}
	return qe.blocks.GetBlock(height)
}

// GetTransactions returns committed transactions by hash. Without the permission
// to read all transactions only the creator's own transactions are returned.
func (qe *QueryExecutor) GetTransactions(hashes []types.Hash) ([]*types.Transaction, error) {
	all, err := qe.perms.HasRolePermission(qe.creator, types.PermGetAllTxs)
	if err != nil {
		return nil, err
	}
	if !all {
		if err := qe.require(types.PermGetMyTxs); err != nil {
			return nil, err
		}
	}
	res := make([]*types.Transaction, 0, len(hashes))
	for _, h := range hashes {
		tx, err := qe.blocks.GetTransaction(h)
		if err != nil {
			return nil, err
		}
		if !all && tx.CreatorAccountID != qe.creator {
			return nil, fmt.Errorf("%w: transaction %s is not created by %q", ErrPermissionDenied, h, qe.creator)
		}
		res = append(res, tx)
	}
	return res, nil
}

// GetAccountTransactions returns the transactions created by the account in chain order.
func (qe *QueryExecutor) GetAccountTransactions(id types.AccountID) ([]*types.Transaction, error) {
	if err := qe.requireMyOrAll(id, types.PermGetMyTxs, types.PermGetAllTxs); err != nil {
		return nil, err
	}
	positions, err := qe.blocks.index.GetAccountTxPositions(id)
	if err != nil {
		return nil, err
	}
	res := make([]*types.Transaction, 0, len(positions))
	for _, pos := range positions {
		tx, err := qe.blocks.transactionAt(pos)
		if err != nil {
			return nil, err
		}
		res = append(res, tx)
	}
	return res, nil
}

func (qe *QueryExecutor) require(perm types.RolePermission) error {
	ok, err := qe.perms.HasRolePermission(qe.creator, perm)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q does not have %s", ErrPermissionDenied, qe.creator, perm)
	}
	return nil
}

func (qe *QueryExecutor) requireMyOrAll(target types.AccountID, my, all types.RolePermission) error {
	perms, err := qe.perms.AccountPermissions(qe.creator)
	if err != nil {
		return err
	}
	if perms.IsSet(all) || (target == qe.creator && perms.IsSet(my)) {
		return nil
	}
	return fmt.Errorf("%w: %q can not query %q", ErrPermissionDenied, qe.creator, target)
}
