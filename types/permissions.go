package types

import (
	"fmt"
	"math/bits"
	"sort"
)

type (
	// RolePermission is a permission a role grants to accounts the role is attached to.
	RolePermission uint8

	// GrantablePermission is a permission an account grants to another account over itself.
	GrantablePermission uint8

	// RolePermissionSet is a bitset of RolePermission values.
	RolePermissionSet uint64
)

const (
	PermAddAssetQty RolePermission = iota
	PermSubtractAssetQty
	PermAddPeer
	PermAddSignatory
	PermRemoveSignatory
	PermSetQuorum
	PermCreateAccount
	PermSetDetail
	PermCreateAsset
	PermTransfer
	PermReceive
	PermCreateDomain
	PermCreateRole
	PermAppendRole
	PermDetachRole
	PermGrantAddMySignatory
	PermGrantRemoveMySignatory
	PermGrantSetMyQuorum
	PermGrantSetMyAccountDetail
	PermGrantTransferMyAssets
	PermGetMyAccount
	PermGetAllAccounts
	PermGetMySignatories
	PermGetAllSignatories
	PermGetMyAccAst
	PermGetAllAccAst
	PermGetMyAccDetail
	PermGetAllAccDetail
	PermGetMyTxs
	PermGetAllTxs
	PermGetRoles
	PermReadAssets
	PermGetBlocks
	PermGetPeers
	PermRoot

	rolePermissionCount
)

const (
	GrantAddMySignatory GrantablePermission = iota
	GrantRemoveMySignatory
	GrantSetMyQuorum
	GrantSetMyAccountDetail
	GrantTransferMyAssets

	grantablePermissionCount
)

var rolePermissionNames = [...]string{
	PermAddAssetQty:             "can_add_asset_qty",
	PermSubtractAssetQty:        "can_subtract_asset_qty",
	PermAddPeer:                 "can_add_peer",
	PermAddSignatory:            "can_add_signatory",
	PermRemoveSignatory:         "can_remove_signatory",
	PermSetQuorum:               "can_set_quorum",
	PermCreateAccount:           "can_create_account",
	PermSetDetail:               "can_set_detail",
	PermCreateAsset:             "can_create_asset",
	PermTransfer:                "can_transfer",
	PermReceive:                 "can_receive",
	PermCreateDomain:            "can_create_domain",
	PermCreateRole:              "can_create_role",
	PermAppendRole:              "can_append_role",
	PermDetachRole:              "can_detach_role",
	PermGrantAddMySignatory:     "can_grant_can_add_my_signatory",
	PermGrantRemoveMySignatory:  "can_grant_can_remove_my_signatory",
	PermGrantSetMyQuorum:        "can_grant_can_set_my_quorum",
	PermGrantSetMyAccountDetail: "can_grant_can_set_my_account_detail",
	PermGrantTransferMyAssets:   "can_grant_can_transfer_my_assets",
	PermGetMyAccount:            "can_get_my_account",
	PermGetAllAccounts:          "can_get_all_accounts",
	PermGetMySignatories:        "can_get_my_signatories",
	PermGetAllSignatories:       "can_get_all_signatories",
	PermGetMyAccAst:             "can_get_my_acc_ast",
	PermGetAllAccAst:            "can_get_all_acc_ast",
	PermGetMyAccDetail:          "can_get_my_acc_detail",
	PermGetAllAccDetail:         "can_get_all_acc_detail",
	PermGetMyTxs:                "can_get_my_txs",
	PermGetAllTxs:               "can_get_all_txs",
	PermGetRoles:                "can_get_roles",
	PermReadAssets:              "can_read_assets",
	PermGetBlocks:               "can_get_blocks",
	PermGetPeers:                "can_get_peers",
	PermRoot:                    "root",
}

var grantablePermissionNames = [...]string{
	GrantAddMySignatory:     "can_add_my_signatory",
	GrantRemoveMySignatory:  "can_remove_my_signatory",
	GrantSetMyQuorum:        "can_set_my_quorum",
	GrantSetMyAccountDetail: "can_set_my_account_detail",
	GrantTransferMyAssets:   "can_transfer_my_assets",
}

func (p RolePermission) String() string {
	if p >= rolePermissionCount {
		return fmt.Sprintf("role_permission(%d)", uint8(p))
	}
	return rolePermissionNames[p]
}

func (p RolePermission) Valid() bool { return p < rolePermissionCount }

func ParseRolePermission(name string) (RolePermission, error) {
	for i, n := range rolePermissionNames {
		if n == name {
			return RolePermission(i), nil
		}
	}
	return 0, fmt.Errorf("unknown role permission %q", name)
}

func (p GrantablePermission) String() string {
	if p >= grantablePermissionCount {
		return fmt.Sprintf("grantable_permission(%d)", uint8(p))
	}
	return grantablePermissionNames[p]
}

func (p GrantablePermission) Valid() bool { return p < grantablePermissionCount }

func ParseGrantablePermission(name string) (GrantablePermission, error) {
	for i, n := range grantablePermissionNames {
		if n == name {
			return GrantablePermission(i), nil
		}
	}
	return 0, fmt.Errorf("unknown grantable permission %q", name)
}

// RequiredToGrant returns the role permission an account must have in order to
// grant (or revoke) the grantable permission to other accounts.
func (p GrantablePermission) RequiredToGrant() RolePermission {
	switch p {
	case GrantAddMySignatory:
		return PermGrantAddMySignatory
	case GrantRemoveMySignatory:
		return PermGrantRemoveMySignatory
	case GrantSetMyQuorum:
		return PermGrantSetMyQuorum
	case GrantSetMyAccountDetail:
		return PermGrantSetMyAccountDetail
	default:
		return PermGrantTransferMyAssets
	}
}

func NewRolePermissionSet(perms ...RolePermission) RolePermissionSet {
	var s RolePermissionSet
	for _, p := range perms {
		s = s.Set(p)
	}
	return s
}

// AllRolePermissions returns set with every known role permission.
func AllRolePermissions() RolePermissionSet {
	return RolePermissionSet(1<<rolePermissionCount - 1)
}

func (s RolePermissionSet) Set(p RolePermission) RolePermissionSet {
	if !p.Valid() {
		return s
	}
	return s | 1<<p
}

func (s RolePermissionSet) IsSet(p RolePermission) bool {
	return p.Valid() && s&(1<<p) != 0
}

// IsSubsetOf returns true when every permission of s is in o.
func (s RolePermissionSet) IsSubsetOf(o RolePermissionSet) bool {
	return s&^o == 0
}

func (s RolePermissionSet) Union(o RolePermissionSet) RolePermissionSet {
	return s | o
}

func (s RolePermissionSet) Len() int {
	return bits.OnesCount64(uint64(s))
}

func (s RolePermissionSet) Permissions() []RolePermission {
	res := make([]RolePermission, 0, s.Len())
	for p := RolePermission(0); p < rolePermissionCount; p++ {
		if s.IsSet(p) {
			res = append(res, p)
		}
	}
	return res
}

func (s RolePermissionSet) Names() []string {
	perms := s.Permissions()
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.String()
	}
	sort.Strings(names)
	return names
}
