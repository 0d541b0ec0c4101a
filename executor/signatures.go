package executor

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/wsv/types"
)

// signaturesValidation is the command name of errors returned by ValidateSignatures.
const signaturesValidation = "SignaturesValidation"

var errQuorumNotReached = errors.New("quorum not reached")

/*
ValidateSignatures checks that every signature of the transaction is made by a
signatory of the creator account and that there are at least quorum of them.
The signatures themselves are expected to be verified before.

Returned error is *CommandError.
*/
func (e *Executor) ValidateSignatures(tx *types.Transaction) error {
	if err := e.validateSignatures(tx); err != nil {
		return &CommandError{
			CommandName: signaturesValidation,
			Code:        errorCode(err),
			Extra:       err.Error(),
			Err:         err,
		}
	}
	return nil
}

func (e *Executor) validateSignatures(tx *types.Transaction) error {
	if err := tx.IsValid(); err != nil {
		return &codedError{code: CodeInvalidArgument, err: err}
	}
	acc, err := e.query.GetAccount(tx.CreatorAccountID)
	if err != nil {
		return err
	}
	signatories, err := e.query.GetSignatories(tx.CreatorAccountID)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(signatories))
	for _, pk := range signatories {
		known[string(pk)] = struct{}{}
	}
	signers := make(map[string]struct{}, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		if _, ok := known[string(sig.PublicKey)]; !ok {
			return failf(CodeInvalidSignatories, "%s is not a signatory of %q", sig.PublicKey, tx.CreatorAccountID)
		}
		signers[string(sig.PublicKey)] = struct{}{}
	}
	if len(signers) < int(acc.Quorum) {
		return &codedError{
			code: CodeInvalidSignatories,
			err:  fmt.Errorf("%w: %d signatures, quorum of %q is %d", errQuorumNotReached, len(signers), tx.CreatorAccountID, acc.Quorum),
		}
	}
	return nil
}
