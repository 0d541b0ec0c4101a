package executor

import (
	"errors"

	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

func (e *Executor) validateCreateAccount(creator types.AccountID, cmd *types.CreateAccount) error {
	if err := e.requireRolePermission(creator, types.PermCreateAccount); err != nil {
		return err
	}
	id := types.NewAccountID(cmd.AccountName, cmd.DomainID)
	if err := id.Validate(); err != nil {
		return failf(CodeInvalidArgument, "invalid account id: %w", err)
	}
	domain, err := e.query.GetDomain(cmd.DomainID)
	if err != nil {
		return err
	}
	if _, err := e.query.GetAccount(id); !errors.Is(err, wsv.ErrNotFound) {
		if err == nil {
			return failf(CodeAlreadyExists, "account %q already exists", id)
		}
		return err
	}
	perms, err := e.query.GetRolePermissions(domain.DefaultRole)
	if err != nil {
		return err
	}
	return e.requireSubsetOfCreator(creator, perms)
}

// executeCreateAccount creates the account with quorum 1, the public key as its only
// signatory and the default role of the domain attached.
func (e *Executor) executeCreateAccount(_ types.AccountID, cmd *types.CreateAccount) error {
	domain, err := e.query.GetDomain(cmd.DomainID)
	if err != nil {
		return err
	}
	id := types.NewAccountID(cmd.AccountName, cmd.DomainID)
	if err := e.cmd.InsertAccount(&types.Account{ID: id, DomainID: cmd.DomainID, Quorum: 1}); err != nil {
		return err
	}
	if err := e.cmd.InsertAccountSignatory(id, cmd.PublicKey); err != nil {
		return err
	}
	return e.cmd.InsertAccountRole(id, domain.DefaultRole)
}

func (e *Executor) validateSetQuorum(creator types.AccountID, cmd *types.SetQuorum) error {
	if err := e.requireSelfOrGranted(creator, cmd.AccountID, types.PermSetQuorum, types.GrantSetMyQuorum); err != nil {
		return err
	}
	if cmd.Quorum == 0 || cmd.Quorum > types.MaxQuorum {
		return failf(CodeInvalidArgument, "quorum %d is out of range [1, %d]", cmd.Quorum, types.MaxQuorum)
	}
	sigs, err := e.query.GetSignatories(cmd.AccountID)
	if err != nil {
		return err
	}
	if len(sigs) < int(cmd.Quorum) {
		return failf(CodeInvalidSignatories, "account %q has %d signatories, can not set quorum to %d", cmd.AccountID, len(sigs), cmd.Quorum)
	}
	return nil
}

func (e *Executor) executeSetQuorum(_ types.AccountID, cmd *types.SetQuorum) error {
	acc, err := e.query.GetAccount(cmd.AccountID)
	if err != nil {
		return err
	}
	acc.Quorum = cmd.Quorum
	return e.cmd.UpdateAccount(acc)
}

// validateSetAccountDetail allows an account to write into its own detail, others
// need the set detail permission or a grant from the account.
func (e *Executor) validateSetAccountDetail(creator types.AccountID, cmd *types.SetAccountDetail) error {
	if _, err := e.query.GetAccount(cmd.AccountID); err != nil {
		return err
	}
	if creator == cmd.AccountID {
		return nil
	}
	ok, err := e.perms.HasRolePermission(creator, types.PermSetDetail)
	if err != nil || ok {
		return err
	}
	return e.requireSelfOrGranted(creator, cmd.AccountID, types.PermSetDetail, types.GrantSetMyAccountDetail)
}

func (e *Executor) executeSetAccountDetail(creator types.AccountID, cmd *types.SetAccountDetail) error {
	return e.cmd.SetAccountKV(cmd.AccountID, creator, cmd.Key, cmd.Value)
}

func (e *Executor) validateAddSignatory(creator types.AccountID, cmd *types.AddSignatory) error {
	if err := e.requireSelfOrGranted(creator, cmd.AccountID, types.PermAddSignatory, types.GrantAddMySignatory); err != nil {
		return err
	}
	if len(cmd.PublicKey) == 0 {
		return fail(CodeInvalidArgument, "public key is empty")
	}
	sigs, err := e.query.GetSignatories(cmd.AccountID)
	if err != nil {
		return err
	}
	for _, pk := range sigs {
		if pk.Eq(cmd.PublicKey) {
			return failf(CodeAlreadyExists, "%s is already a signatory of %q", cmd.PublicKey, cmd.AccountID)
		}
	}
	return nil
}

func (e *Executor) executeAddSignatory(_ types.AccountID, cmd *types.AddSignatory) error {
	return e.cmd.InsertAccountSignatory(cmd.AccountID, cmd.PublicKey)
}

func (e *Executor) validateRemoveSignatory(creator types.AccountID, cmd *types.RemoveSignatory) error {
	if err := e.requireSelfOrGranted(creator, cmd.AccountID, types.PermRemoveSignatory, types.GrantRemoveMySignatory); err != nil {
		return err
	}
	acc, err := e.query.GetAccount(cmd.AccountID)
	if err != nil {
		return err
	}
	sigs, err := e.query.GetSignatories(cmd.AccountID)
	if err != nil {
		return err
	}
	found := false
	for _, pk := range sigs {
		if pk.Eq(cmd.PublicKey) {
			found = true
			break
		}
	}
	if !found {
		return failf(CodeNotFound, "%s is not a signatory of %q", cmd.PublicKey, cmd.AccountID)
	}
	// the account must remain able to reach its quorum
	if len(sigs)-1 < int(acc.Quorum) {
		return failf(CodeInvalidSignatories, "removing %s would leave %q with less signatories than quorum %d", cmd.PublicKey, cmd.AccountID, acc.Quorum)
	}
	return nil
}

func (e *Executor) executeRemoveSignatory(_ types.AccountID, cmd *types.RemoveSignatory) error {
	return e.cmd.DeleteAccountSignatory(cmd.AccountID, cmd.PublicKey)
}
