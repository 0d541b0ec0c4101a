package executor

import (
	"errors"
	"slices"

	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

func (e *Executor) validateCreateRole(creator types.AccountID, cmd *types.CreateRole) error {
	if err := e.requireRolePermission(creator, types.PermCreateRole); err != nil {
		return err
	}
	if err := cmd.RoleID.Validate(); err != nil {
		return failf(CodeInvalidArgument, "invalid role id: %w", err)
	}
	if _, err := e.query.GetRolePermissions(cmd.RoleID); !errors.Is(err, wsv.ErrNotFound) {
		if err == nil {
			return failf(CodeAlreadyExists, "role %q already exists", cmd.RoleID)
		}
		return err
	}
	return e.requireSubsetOfCreator(creator, cmd.Permissions)
}

func (e *Executor) executeCreateRole(_ types.AccountID, cmd *types.CreateRole) error {
	return e.cmd.InsertRole(cmd.RoleID, cmd.Permissions)
}

func (e *Executor) validateAppendRole(creator types.AccountID, cmd *types.AppendRole) error {
	if err := e.requireRolePermission(creator, types.PermAppendRole); err != nil {
		return err
	}
	if _, err := e.query.GetAccount(cmd.AccountID); err != nil {
		return err
	}
	perms, err := e.query.GetRolePermissions(cmd.RoleID)
	if err != nil {
		return err
	}
	return e.requireSubsetOfCreator(creator, perms)
}

func (e *Executor) executeAppendRole(_ types.AccountID, cmd *types.AppendRole) error {
	return e.cmd.InsertAccountRole(cmd.AccountID, cmd.RoleID)
}

func (e *Executor) validateDetachRole(creator types.AccountID, cmd *types.DetachRole) error {
	if err := e.requireRolePermission(creator, types.PermDetachRole); err != nil {
		return err
	}
	roles, err := e.query.GetAccountRoles(cmd.AccountID)
	if err != nil {
		return err
	}
	if !slices.Contains(roles, cmd.RoleID) {
		return failf(CodeNotFound, "account %q does not have role %q", cmd.AccountID, cmd.RoleID)
	}
	return nil
}

func (e *Executor) executeDetachRole(_ types.AccountID, cmd *types.DetachRole) error {
	return e.cmd.DeleteAccountRole(cmd.AccountID, cmd.RoleID)
}

// validateGrantPermission checks that creator may grant the permission over its
// own account to cmd.AccountID.
func (e *Executor) validateGrantPermission(creator types.AccountID, cmd *types.GrantPermission) error {
	if !cmd.Permission.Valid() {
		return failf(CodeInvalidArgument, "unknown grantable permission %d", cmd.Permission)
	}
	if err := e.requireRolePermission(creator, cmd.Permission.RequiredToGrant()); err != nil {
		return err
	}
	if _, err := e.query.GetAccount(cmd.AccountID); err != nil {
		return err
	}
	ok, err := e.query.HasAccountGrantablePermission(cmd.AccountID, creator, cmd.Permission)
	if err != nil {
		return err
	}
	if ok {
		return failf(CodeAlreadyExists, "%s is already granted to %q by %q", cmd.Permission, cmd.AccountID, creator)
	}
	return nil
}

func (e *Executor) executeGrantPermission(creator types.AccountID, cmd *types.GrantPermission) error {
	return e.cmd.InsertAccountGrantablePermission(cmd.AccountID, creator, cmd.Permission)
}

func (e *Executor) validateRevokePermission(creator types.AccountID, cmd *types.RevokePermission) error {
	if !cmd.Permission.Valid() {
		return failf(CodeInvalidArgument, "unknown grantable permission %d", cmd.Permission)
	}
	ok, err := e.query.HasAccountGrantablePermission(cmd.AccountID, creator, cmd.Permission)
	if err != nil {
		return err
	}
	if !ok {
		return failf(CodePermissionDenied, "%s has not been granted to %q by %q", cmd.Permission, cmd.AccountID, creator)
	}
	return nil
}

func (e *Executor) executeRevokePermission(creator types.AccountID, cmd *types.RevokePermission) error {
	return e.cmd.DeleteAccountGrantablePermission(cmd.AccountID, creator, cmd.Permission)
}
