package wsv

import (
	"fmt"

	"github.com/alphabill-org/wsv/session"
	"github.com/alphabill-org/wsv/types"
)

type (
	// Command is the write contract of the world state view. Inserts fail with
	// ErrAlreadyExists when the entity exists, deletes and updates fail with
	// ErrNotFound when it does not. Entities an insert refers to must exist.
	Command interface {
		InsertRole(role types.RoleID, perms types.RolePermissionSet) error
		InsertAccountRole(id types.AccountID, role types.RoleID) error
		DeleteAccountRole(id types.AccountID, role types.RoleID) error
		InsertAccount(acc *types.Account) error
		UpdateAccount(acc *types.Account) error
		SetAccountKV(id, writer types.AccountID, key, value string) error
		InsertAsset(asset *types.Asset) error
		UpsertAccountAsset(aa *types.AccountAsset) error
		InsertAccountSignatory(id types.AccountID, pk types.PublicKey) error
		DeleteAccountSignatory(id types.AccountID, pk types.PublicKey) error
		InsertPeer(peer *types.Peer) error
		DeletePeer(pk types.PublicKey) error
		InsertDomain(domain *types.Domain) error
		InsertAccountGrantablePermission(grantee, grantor types.AccountID, perm types.GrantablePermission) error
		DeleteAccountGrantablePermission(grantee, grantor types.AccountID, perm types.GrantablePermission) error
	}

	// Writer implements Command (and Query) on top of a session.
	Writer struct {
		*Reader
		s session.Session
	}
)

func NewCommand(s session.Session) *Writer {
	return &Writer{Reader: NewQuery(s), s: s}
}

func (w *Writer) InsertRole(role types.RoleID, perms types.RolePermissionSet) error {
	if err := w.insert(roleKey(role), perms); err != nil {
		return fmt.Errorf("insert role %q: %w", role, err)
	}
	return nil
}

func (w *Writer) InsertAccountRole(id types.AccountID, role types.RoleID) error {
	if err := w.mustExist(accountKey(id), roleKey(role)); err != nil {
		return fmt.Errorf("append role %q to %q: %w", role, id, err)
	}
	if err := w.insert(accountRoleKey(id, role), role); err != nil {
		return fmt.Errorf("append role %q to %q: %w", role, id, err)
	}
	return nil
}

func (w *Writer) DeleteAccountRole(id types.AccountID, role types.RoleID) error {
	if err := w.delete(accountRoleKey(id, role)); err != nil {
		return fmt.Errorf("detach role %q from %q: %w", role, id, err)
	}
	return nil
}

func (w *Writer) InsertAccount(acc *types.Account) error {
	if err := w.mustExist(domainKey(acc.DomainID)); err != nil {
		return fmt.Errorf("insert account %q: %w", acc.ID, err)
	}
	if err := w.insert(accountKey(acc.ID), acc); err != nil {
		return fmt.Errorf("insert account %q: %w", acc.ID, err)
	}
	return nil
}

func (w *Writer) UpdateAccount(acc *types.Account) error {
	if err := w.mustExist(accountKey(acc.ID)); err != nil {
		return fmt.Errorf("update account %q: %w", acc.ID, err)
	}
	if err := w.put(accountKey(acc.ID), acc); err != nil {
		return fmt.Errorf("update account %q: %w", acc.ID, err)
	}
	return nil
}

// SetAccountKV sets the key in the writer's namespace of the account detail.
func (w *Writer) SetAccountKV(id, writer types.AccountID, key, value string) error {
	if err := w.mustExist(accountKey(id)); err != nil {
		return fmt.Errorf("set detail of %q: %w", id, err)
	}
	detail, err := w.GetAccountDetail(id)
	if err != nil {
		return err
	}
	if detail[writer] == nil {
		detail[writer] = make(map[string]string)
	}
	detail[writer][key] = value
	if err := w.put(detailKey(id), detail); err != nil {
		return fmt.Errorf("set detail of %q: %w", id, err)
	}
	return nil
}

func (w *Writer) InsertAsset(asset *types.Asset) error {
	if err := w.mustExist(domainKey(asset.DomainID)); err != nil {
		return fmt.Errorf("insert asset %q: %w", asset.ID, err)
	}
	if err := w.insert(assetKey(asset.ID), asset); err != nil {
		return fmt.Errorf("insert asset %q: %w", asset.ID, err)
	}
	return nil
}

func (w *Writer) UpsertAccountAsset(aa *types.AccountAsset) error {
	if err := w.mustExist(accountKey(aa.AccountID), assetKey(aa.AssetID)); err != nil {
		return fmt.Errorf("upsert asset %q of %q: %w", aa.AssetID, aa.AccountID, err)
	}
	if err := w.put(accountAssetKey(aa.AccountID, aa.AssetID), aa); err != nil {
		return fmt.Errorf("upsert asset %q of %q: %w", aa.AssetID, aa.AccountID, err)
	}
	return nil
}

func (w *Writer) InsertAccountSignatory(id types.AccountID, pk types.PublicKey) error {
	if err := w.mustExist(accountKey(id)); err != nil {
		return fmt.Errorf("insert signatory %s of %q: %w", pk, id, err)
	}
	if err := w.insert(signatoryKey(id, pk), pk); err != nil {
		return fmt.Errorf("insert signatory %s of %q: %w", pk, id, err)
	}
	return nil
}

func (w *Writer) DeleteAccountSignatory(id types.AccountID, pk types.PublicKey) error {
	if err := w.delete(signatoryKey(id, pk)); err != nil {
		return fmt.Errorf("delete signatory %s of %q: %w", pk, id, err)
	}
	return nil
}

func (w *Writer) InsertPeer(peer *types.Peer) error {
	if err := w.insert(peerKey(peer.PublicKey), peer); err != nil {
		return fmt.Errorf("insert peer %s: %w", peer.PublicKey, err)
	}
	return nil
}

func (w *Writer) DeletePeer(pk types.PublicKey) error {
	if err := w.delete(peerKey(pk)); err != nil {
		return fmt.Errorf("delete peer %s: %w", pk, err)
	}
	return nil
}

func (w *Writer) InsertDomain(domain *types.Domain) error {
	if err := w.mustExist(roleKey(domain.DefaultRole)); err != nil {
		return fmt.Errorf("insert domain %q: %w", domain.ID, err)
	}
	if err := w.insert(domainKey(domain.ID), domain); err != nil {
		return fmt.Errorf("insert domain %q: %w", domain.ID, err)
	}
	return nil
}

func (w *Writer) InsertAccountGrantablePermission(grantee, grantor types.AccountID, perm types.GrantablePermission) error {
	if err := w.mustExist(accountKey(grantee), accountKey(grantor)); err != nil {
		return fmt.Errorf("grant %s to %q over %q: %w", perm, grantee, grantor, err)
	}
	if err := w.insert(grantKey(grantee, grantor, perm), perm); err != nil {
		return fmt.Errorf("grant %s to %q over %q: %w", perm, grantee, grantor, err)
	}
	return nil
}

func (w *Writer) DeleteAccountGrantablePermission(grantee, grantor types.AccountID, perm types.GrantablePermission) error {
	if err := w.delete(grantKey(grantee, grantor, perm)); err != nil {
		return fmt.Errorf("revoke %s from %q over %q: %w", perm, grantee, grantor, err)
	}
	return nil
}

func (w *Writer) insert(key []byte, v any) error {
	found, err := w.exists(key)
	if err != nil {
		return err
	}
	if found {
		return ErrAlreadyExists
	}
	return w.put(key, v)
}

func (w *Writer) delete(key []byte) error {
	if err := w.mustExist(key); err != nil {
		return err
	}
	return w.s.Delete(key)
}

func (w *Writer) put(key []byte, v any) error {
	data, err := types.Cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return w.s.Put(key, data)
}

// mustExist returns error wrapping ErrNotFound for the first key which does not exist.
func (w *Writer) mustExist(keys ...[]byte) error {
	for _, key := range keys {
		found, err := w.exists(key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
	}
	return nil
}
