package executor

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

func (e *Executor) validateCreateAsset(creator types.AccountID, cmd *types.CreateAsset) error {
	if err := e.requireRolePermission(creator, types.PermCreateAsset); err != nil {
		return err
	}
	id := types.NewAssetID(cmd.AssetName, cmd.DomainID)
	if err := id.Validate(); err != nil {
		return failf(CodeInvalidArgument, "invalid asset id: %w", err)
	}
	if cmd.Precision > types.MaxPrecision {
		return failf(CodeInvalidAmount, "asset precision %d exceeds %d", cmd.Precision, types.MaxPrecision)
	}
	if _, err := e.query.GetDomain(cmd.DomainID); err != nil {
		return err
	}
	if _, err := e.query.GetAsset(id); !errors.Is(err, wsv.ErrNotFound) {
		if err == nil {
			return failf(CodeAlreadyExists, "asset %q already exists", id)
		}
		return err
	}
	return nil
}

func (e *Executor) executeCreateAsset(_ types.AccountID, cmd *types.CreateAsset) error {
	return e.cmd.InsertAsset(&types.Asset{
		ID:        types.NewAssetID(cmd.AssetName, cmd.DomainID),
		DomainID:  cmd.DomainID,
		Precision: cmd.Precision,
	})
}

func (e *Executor) validateAddAssetQuantity(creator types.AccountID, cmd *types.AddAssetQuantity) error {
	if err := e.requireRolePermission(creator, types.PermAddAssetQty); err != nil {
		return err
	}
	if cmd.Amount.IsZero() {
		return fail(CodeInvalidAmount, "amount must be positive")
	}
	_, err := e.assetAmount(cmd.AssetID, cmd.Amount)
	return err
}

// executeAddAssetQuantity adds the amount to the balance of the creator.
func (e *Executor) executeAddAssetQuantity(creator types.AccountID, cmd *types.AddAssetQuantity) error {
	amount, err := e.assetAmount(cmd.AssetID, cmd.Amount)
	if err != nil {
		return err
	}
	balance, err := e.balance(creator, cmd.AssetID, amount.Precision())
	if err != nil {
		return err
	}
	if balance, err = balance.Add(amount); err != nil {
		return fmt.Errorf("adding %s to balance of %q: %w", amount, creator, err)
	}
	return e.cmd.UpsertAccountAsset(&types.AccountAsset{AccountID: creator, AssetID: cmd.AssetID, Balance: balance})
}

func (e *Executor) validateSubtractAssetQuantity(creator types.AccountID, cmd *types.SubtractAssetQuantity) error {
	if err := e.requireRolePermission(creator, types.PermSubtractAssetQty); err != nil {
		return err
	}
	if cmd.Amount.IsZero() {
		return fail(CodeInvalidAmount, "amount must be positive")
	}
	amount, err := e.assetAmount(cmd.AssetID, cmd.Amount)
	if err != nil {
		return err
	}
	return e.requireBalance(creator, cmd.AssetID, amount)
}

func (e *Executor) executeSubtractAssetQuantity(creator types.AccountID, cmd *types.SubtractAssetQuantity) error {
	amount, err := e.assetAmount(cmd.AssetID, cmd.Amount)
	if err != nil {
		return err
	}
	balance, err := e.balance(creator, cmd.AssetID, amount.Precision())
	if err != nil {
		return err
	}
	if balance, err = balance.Sub(amount); err != nil {
		return fmt.Errorf("subtracting %s from balance of %q: %w", amount, creator, err)
	}
	return e.cmd.UpsertAccountAsset(&types.AccountAsset{AccountID: creator, AssetID: cmd.AssetID, Balance: balance})
}

func (e *Executor) validateTransferAsset(creator types.AccountID, cmd *types.TransferAsset) error {
	if cmd.SrcAccountID == cmd.DestAccountID {
		return failf(CodeSameAccounts, "source and destination account are the same (%q)", cmd.SrcAccountID)
	}
	if cmd.Amount.IsZero() {
		return fail(CodeInvalidAmount, "amount must be positive")
	}
	if err := e.requireSelfOrGranted(creator, cmd.SrcAccountID, types.PermTransfer, types.GrantTransferMyAssets); err != nil {
		return err
	}
	if _, err := e.query.GetAccount(cmd.DestAccountID); err != nil {
		return err
	}
	if err := e.requireRolePermission(cmd.DestAccountID, types.PermReceive); err != nil {
		return err
	}
	amount, err := e.assetAmount(cmd.AssetID, cmd.Amount)
	if err != nil {
		return err
	}
	if err := e.requireBalance(cmd.SrcAccountID, cmd.AssetID, amount); err != nil {
		return err
	}
	dest, err := e.balance(cmd.DestAccountID, cmd.AssetID, amount.Precision())
	if err != nil {
		return err
	}
	if _, err := dest.Add(amount); err != nil {
		return failf(CodeInsufficientBalance, "balance of %q would overflow: %w", cmd.DestAccountID, err)
	}
	return nil
}

func (e *Executor) executeTransferAsset(_ types.AccountID, cmd *types.TransferAsset) error {
	amount, err := e.assetAmount(cmd.AssetID, cmd.Amount)
	if err != nil {
		return err
	}
	src, err := e.balance(cmd.SrcAccountID, cmd.AssetID, amount.Precision())
	if err != nil {
		return err
	}
	if src, err = src.Sub(amount); err != nil {
		return fmt.Errorf("subtracting %s from balance of %q: %w", amount, cmd.SrcAccountID, err)
	}
	if err := e.cmd.UpsertAccountAsset(&types.AccountAsset{AccountID: cmd.SrcAccountID, AssetID: cmd.AssetID, Balance: src}); err != nil {
		return err
	}
	// read the destination after the source was written, src and dest may be the same in replay
	dest, err := e.balance(cmd.DestAccountID, cmd.AssetID, amount.Precision())
	if err != nil {
		return err
	}
	if dest, err = dest.Add(amount); err != nil {
		return fmt.Errorf("adding %s to balance of %q: %w", amount, cmd.DestAccountID, err)
	}
	return e.cmd.UpsertAccountAsset(&types.AccountAsset{AccountID: cmd.DestAccountID, AssetID: cmd.AssetID, Balance: dest})
}

// assetAmount returns the amount rescaled to the precision of the asset. Amounts
// with more fraction digits than the asset has are rejected.
func (e *Executor) assetAmount(id types.AssetID, amount types.Amount) (types.Amount, error) {
	asset, err := e.query.GetAsset(id)
	if err != nil {
		return types.Amount{}, err
	}
	if amount.Precision() > asset.Precision {
		return types.Amount{}, failf(CodeInvalidAmount, "amount %s has more fraction digits than asset %q precision %d", amount, id, asset.Precision)
	}
	res, err := amount.Rescale(asset.Precision)
	if err != nil {
		return types.Amount{}, failf(CodeInvalidAmount, "amount %s: %w", amount, err)
	}
	return res, nil
}

// balance returns the balance of the account, zero when the account does not hold the asset.
func (e *Executor) balance(id types.AccountID, asset types.AssetID, precision uint8) (types.Amount, error) {
	aa, err := e.query.GetAccountAsset(id, asset)
	if err != nil {
		if errors.Is(err, wsv.ErrNotFound) {
			return types.NewAmount(0, precision), nil
		}
		return types.Amount{}, err
	}
	return aa.Balance, nil
}

func (e *Executor) requireBalance(id types.AccountID, asset types.AssetID, amount types.Amount) error {
	balance, err := e.balance(id, asset, amount.Precision())
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return failf(CodeInsufficientBalance, "balance %s of %q is less than %s", balance, id, amount)
	}
	return nil
}
