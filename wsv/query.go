package wsv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alphabill-org/wsv/session"
	"github.com/alphabill-org/wsv/types"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type (
	// Query is the read contract of the world state view. Lookups of a single
	// entity return ErrNotFound when the entity does not exist, list queries
	// return empty result.
	Query interface {
		GetAccount(id types.AccountID) (*types.Account, error)
		GetSignatories(id types.AccountID) ([]types.PublicKey, error)
		GetAccountRoles(id types.AccountID) ([]types.RoleID, error)
		GetAccountPermissions(id types.AccountID) (types.RolePermissionSet, error)
		GetAccountDetail(id types.AccountID) (types.AccountDetail, error)
		GetAccountAsset(id types.AccountID, asset types.AssetID) (*types.AccountAsset, error)
		GetAccountAssets(id types.AccountID) ([]*types.AccountAsset, error)
		HasAccountGrantablePermission(grantee, grantor types.AccountID, perm types.GrantablePermission) (bool, error)
		GetRoles() ([]types.RoleID, error)
		GetRolePermissions(role types.RoleID) (types.RolePermissionSet, error)
		GetAsset(id types.AssetID) (*types.Asset, error)
		GetDomain(id types.DomainID) (*types.Domain, error)
		GetPeers() ([]*types.Peer, error)
	}

	// Reader implements Query and block index lookups on top of a session or
	// the committed state of a store.
	Reader struct {
		r session.Reader
	}
)

func NewQuery(r session.Reader) *Reader {
	return &Reader{r: r}
}

func (q *Reader) GetAccount(id types.AccountID) (*types.Account, error) {
	acc := &types.Account{}
	if err := q.read(accountKey(id), acc); err != nil {
		return nil, fmt.Errorf("account %q: %w", id, err)
	}
	return acc, nil
}

func (q *Reader) GetSignatories(id types.AccountID) ([]types.PublicKey, error) {
	var res []types.PublicKey
	err := q.scan(signatoryPrefix(id), func(_, value []byte) error {
		var pk types.PublicKey
		if err := types.Cbor.Unmarshal(value, &pk); err != nil {
			return err
		}
		res = append(res, pk)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("signatories of %q: %w", id, err)
	}
	return res, nil
}

func (q *Reader) GetAccountRoles(id types.AccountID) ([]types.RoleID, error) {
	prefix := accountRolePrefix(id)
	var res []types.RoleID
	if err := q.scan(prefix, func(key, _ []byte) error {
		res = append(res, types.RoleID(key[len(prefix):]))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("roles of %q: %w", id, err)
	}
	return res, nil
}

// GetAccountPermissions returns union of the permissions of all the roles attached to the account.
func (q *Reader) GetAccountPermissions(id types.AccountID) (types.RolePermissionSet, error) {
	roles, err := q.GetAccountRoles(id)
	if err != nil {
		return 0, err
	}
	var perms types.RolePermissionSet
	for _, role := range roles {
		p, err := q.GetRolePermissions(role)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return 0, err
		}
		perms = perms.Union(p)
	}
	return perms, nil
}

func (q *Reader) GetAccountDetail(id types.AccountID) (types.AccountDetail, error) {
	detail := types.AccountDetail{}
	if err := q.read(detailKey(id), &detail); err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.AccountDetail{}, nil
		}
		return nil, fmt.Errorf("detail of %q: %w", id, err)
	}
	return detail, nil
}

func (q *Reader) GetAccountAsset(id types.AccountID, asset types.AssetID) (*types.AccountAsset, error) {
	aa := &types.AccountAsset{}
	if err := q.read(accountAssetKey(id, asset), aa); err != nil {
		return nil, fmt.Errorf("asset %q of account %q: %w", asset, id, err)
	}
	return aa, nil
}

func (q *Reader) GetAccountAssets(id types.AccountID) ([]*types.AccountAsset, error) {
	var res []*types.AccountAsset
	err := q.scan(accountAssetPrefix(id), func(_, value []byte) error {
		aa := &types.AccountAsset{}
		if err := types.Cbor.Unmarshal(value, aa); err != nil {
			return err
		}
		res = append(res, aa)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assets of %q: %w", id, err)
	}
	return res, nil
}

func (q *Reader) HasAccountGrantablePermission(grantee, grantor types.AccountID, perm types.GrantablePermission) (bool, error) {
	_, found, err := q.r.Get(grantKey(grantee, grantor, perm))
	if err != nil {
		return false, fmt.Errorf("grantable permission %s of %q over %q: %w", perm, grantee, grantor, err)
	}
	return found, nil
}

func (q *Reader) GetRoles() ([]types.RoleID, error) {
	var res []types.RoleID
	if err := q.scan([]byte(prefixRole), func(key, _ []byte) error {
		res = append(res, types.RoleID(strings.TrimPrefix(string(key), prefixRole)))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("roles: %w", err)
	}
	return res, nil
}

func (q *Reader) GetRolePermissions(role types.RoleID) (types.RolePermissionSet, error) {
	var perms types.RolePermissionSet
	if err := q.read(roleKey(role), &perms); err != nil {
		return 0, fmt.Errorf("role %q: %w", role, err)
	}
	return perms, nil
}

func (q *Reader) GetAsset(id types.AssetID) (*types.Asset, error) {
	asset := &types.Asset{}
	if err := q.read(assetKey(id), asset); err != nil {
		return nil, fmt.Errorf("asset %q: %w", id, err)
	}
	return asset, nil
}

func (q *Reader) GetDomain(id types.DomainID) (*types.Domain, error) {
	domain := &types.Domain{}
	if err := q.read(domainKey(id), domain); err != nil {
		return nil, fmt.Errorf("domain %q: %w", id, err)
	}
	return domain, nil
}

func (q *Reader) GetPeers() ([]*types.Peer, error) {
	var res []*types.Peer
	err := q.scan([]byte(prefixPeer), func(_, value []byte) error {
		peer := &types.Peer{}
		if err := types.Cbor.Unmarshal(value, peer); err != nil {
			return err
		}
		res = append(res, peer)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("peers: %w", err)
	}
	return res, nil
}

// exists reports whether the entity stored under key exists.
func (q *Reader) exists(key []byte) (bool, error) {
	_, found, err := q.r.Get(key)
	return found, err
}

func (q *Reader) read(key []byte, v any) error {
	data, found, err := q.r.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if err := types.Cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

func (q *Reader) scan(prefix []byte, fn func(key, value []byte) error) error {
	return q.r.Scan(prefix, fn)
}
