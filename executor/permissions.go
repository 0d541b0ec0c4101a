package executor

import (
	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

// PermissionChecker answers permission questions about accounts.
type PermissionChecker interface {
	AccountPermissions(id types.AccountID) (types.RolePermissionSet, error)
	HasRolePermission(id types.AccountID, perm types.RolePermission) (bool, error)
	HasGrantablePermission(grantee, grantor types.AccountID, perm types.GrantablePermission) (bool, error)
}

// RolePermissionChecker derives permissions from the roles attached to the
// account. Accounts with the root permission have every permission.
type RolePermissionChecker struct {
	q wsv.Query
}

func NewRolePermissionChecker(q wsv.Query) *RolePermissionChecker {
	return &RolePermissionChecker{q: q}
}

func (c *RolePermissionChecker) AccountPermissions(id types.AccountID) (types.RolePermissionSet, error) {
	perms, err := c.q.GetAccountPermissions(id)
	if err != nil {
		return 0, err
	}
	if perms.IsSet(types.PermRoot) {
		return types.AllRolePermissions(), nil
	}
	return perms, nil
}

func (c *RolePermissionChecker) HasRolePermission(id types.AccountID, perm types.RolePermission) (bool, error) {
	perms, err := c.AccountPermissions(id)
	if err != nil {
		return false, err
	}
	return perms.IsSet(perm), nil
}

func (c *RolePermissionChecker) HasGrantablePermission(grantee, grantor types.AccountID, perm types.GrantablePermission) (bool, error) {
	root, err := c.HasRolePermission(grantee, types.PermRoot)
	if err != nil || root {
		return root, err
	}
	return c.q.HasAccountGrantablePermission(grantee, grantor, perm)
}

func (e *Executor) requireRolePermission(id types.AccountID, perm types.RolePermission) error {
	ok, err := e.perms.HasRolePermission(id, perm)
	if err != nil {
		return err
	}
	if !ok {
		return failf(CodePermissionDenied, "account %q does not have permission %s", id, perm)
	}
	return nil
}

// requireSelfOrGranted checks that creator has the role permission when acting on
// its own account or has been granted the grantable permission by the target account.
func (e *Executor) requireSelfOrGranted(creator, target types.AccountID, perm types.RolePermission, grantable types.GrantablePermission) error {
	if creator == target {
		return e.requireRolePermission(creator, perm)
	}
	ok, err := e.perms.HasGrantablePermission(creator, target, grantable)
	if err != nil {
		return err
	}
	if !ok {
		return failf(CodePermissionDenied, "account %q has not been granted %s by %q", creator, grantable, target)
	}
	return nil
}

// requireSubsetOfCreator checks that creator has all the permissions it is about to hand out.
func (e *Executor) requireSubsetOfCreator(creator types.AccountID, perms types.RolePermissionSet) error {
	have, err := e.perms.AccountPermissions(creator)
	if err != nil {
		return err
	}
	if !perms.IsSubsetOf(have) {
		return failf(CodePermissionDenied, "account %q can not hand out permissions it does not have", creator)
	}
	return nil
}
