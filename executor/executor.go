package executor

import (
	"fmt"

	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

type (
	// Executor validates and applies ledger commands against the world state view.
	// It keeps no state between calls, creator account and validation mode are
	// given to every Execute call.
	Executor struct {
		query wsv.Query
		cmd   wsv.Command
		perms PermissionChecker
	}

	Options struct {
		permissions PermissionChecker
	}

	Option func(*Options)
)

func WithPermissionChecker(pc PermissionChecker) Option {
	return func(o *Options) {
		o.permissions = pc
	}
}

func New(q wsv.Query, c wsv.Command, opts ...Option) *Executor {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.permissions == nil {
		o.permissions = NewRolePermissionChecker(q)
	}
	return &Executor{query: q, cmd: c, perms: o.permissions}
}

/*
Execute applies the command on behalf of the creator account. When validate is
true permissions of the creator and command specific invariants are checked
before the state is changed, otherwise only the mutation is performed (replay
of already validated blocks).

Returned error is always *CommandError. The state may be partially modified
when an error is returned, caller is responsible for rolling back.
*/
func (e *Executor) Execute(creator types.AccountID, cmd types.Command, validate bool) error {
	if err := e.execute(creator, cmd, validate); err != nil {
		return newCommandError(cmd, err)
	}
	return nil
}

func (e *Executor) execute(creator types.AccountID, cmd types.Command, validate bool) error {
	if types.IsNilCommand(cmd) {
		return fail(CodeInvalidArgument, "command is nil")
	}
	switch c := cmd.(type) {
	case *types.AddAssetQuantity:
		return handle(creator, c, validate, e.validateAddAssetQuantity, e.executeAddAssetQuantity)
	case *types.AddPeer:
		return handle(creator, c, validate, e.validateAddPeer, e.executeAddPeer)
	case *types.AddSignatory:
		return handle(creator, c, validate, e.validateAddSignatory, e.executeAddSignatory)
	case *types.AppendRole:
		return handle(creator, c, validate, e.validateAppendRole, e.executeAppendRole)
	case *types.CreateAccount:
		return handle(creator, c, validate, e.validateCreateAccount, e.executeCreateAccount)
	case *types.CreateAsset:
		return handle(creator, c, validate, e.validateCreateAsset, e.executeCreateAsset)
	case *types.CreateDomain:
		return handle(creator, c, validate, e.validateCreateDomain, e.executeCreateDomain)
	case *types.CreateRole:
		return handle(creator, c, validate, e.validateCreateRole, e.executeCreateRole)
	case *types.DetachRole:
		return handle(creator, c, validate, e.validateDetachRole, e.executeDetachRole)
	case *types.GrantPermission:
		return handle(creator, c, validate, e.validateGrantPermission, e.executeGrantPermission)
	case *types.RemoveSignatory:
		return handle(creator, c, validate, e.validateRemoveSignatory, e.executeRemoveSignatory)
	case *types.RevokePermission:
		return handle(creator, c, validate, e.validateRevokePermission, e.executeRevokePermission)
	case *types.SetAccountDetail:
		return handle(creator, c, validate, e.validateSetAccountDetail, e.executeSetAccountDetail)
	case *types.SetQuorum:
		return handle(creator, c, validate, e.validateSetQuorum, e.executeSetQuorum)
	case *types.SubtractAssetQuantity:
		return handle(creator, c, validate, e.validateSubtractAssetQuantity, e.executeSubtractAssetQuantity)
	case *types.TransferAsset:
		return handle(creator, c, validate, e.validateTransferAsset, e.executeTransferAsset)
	default:
		return fail(CodeInvalidArgument, fmt.Sprintf("unsupported command type %T", cmd))
	}
}

type handlerFunc[T types.Command] func(creator types.AccountID, cmd T) error

func handle[T types.Command](creator types.AccountID, cmd T, validate bool, validateFn, executeFn handlerFunc[T]) error {
	if validate {
		if err := validateFn(creator, cmd); err != nil {
			return err
		}
	}
	return executeFn(creator, cmd)
}
