package wsv

import (
	"encoding/binary"
	"strconv"

	"github.com/alphabill-org/wsv/types"
)

// Key layout of the world state view. Identifiers never contain '/' (see
// types.AccountID.Validate), public keys and hashes are hex encoded.
const (
	prefixAccount    = "acc/"
	prefixSignatory  = "accsig/"
	prefixAccRole    = "accrole/"
	prefixAccAsset   = "accast/"
	prefixDetail     = "detail/"
	prefixAsset      = "asset/"
	prefixDomain     = "dom/"
	prefixRole       = "role/"
	prefixPeer       = "peer/"
	prefixGrant      = "grant/"
	prefixTx         = "tx/"
	prefixAccountTx  = "acctx/"
	prefixTransferTx = "acctransfer/"
	prefixMeta       = "meta/"
)

// WsvPrefixes lists key prefixes of the world state view tables, block index
// is not included.
var WsvPrefixes = []string{
	prefixAccount, prefixSignatory, prefixAccRole, prefixAccAsset, prefixDetail,
	prefixAsset, prefixDomain, prefixRole, prefixPeer, prefixGrant,
}

// IndexPrefixes lists key prefixes of the block index.
var IndexPrefixes = []string{prefixTx, prefixAccountTx, prefixTransferTx}

// MetaPrefixes lists key prefixes of the records describing the view itself.
var MetaPrefixes = []string{prefixMeta}

var topKey = []byte(prefixMeta + "top")

func accountKey(id types.AccountID) []byte {
	return []byte(prefixAccount + string(id))
}

func signatoryPrefix(id types.AccountID) []byte {
	return []byte(prefixSignatory + string(id) + "/")
}

func signatoryKey(id types.AccountID, pk types.PublicKey) []byte {
	return append(signatoryPrefix(id), pk.String()...)
}

func accountRolePrefix(id types.AccountID) []byte {
	return []byte(prefixAccRole + string(id) + "/")
}

func accountRoleKey(id types.AccountID, role types.RoleID) []byte {
	return append(accountRolePrefix(id), role...)
}

func accountAssetPrefix(id types.AccountID) []byte {
	return []byte(prefixAccAsset + string(id) + "/")
}

func accountAssetKey(id types.AccountID, asset types.AssetID) []byte {
	return append(accountAssetPrefix(id), asset...)
}

func detailKey(id types.AccountID) []byte {
	return []byte(prefixDetail + string(id))
}

func assetKey(id types.AssetID) []byte {
	return []byte(prefixAsset + string(id))
}

func domainKey(id types.DomainID) []byte {
	return []byte(prefixDomain + string(id))
}

func roleKey(id types.RoleID) []byte {
	return []byte(prefixRole + string(id))
}

func peerKey(pk types.PublicKey) []byte {
	return []byte(prefixPeer + pk.String())
}

func grantPrefix(grantee, grantor types.AccountID) []byte {
	return []byte(prefixGrant + string(grantee) + "/" + string(grantor) + "/")
}

func grantKey(grantee, grantor types.AccountID, perm types.GrantablePermission) []byte {
	return strconv.AppendUint(grantPrefix(grantee, grantor), uint64(perm), 10)
}

func txKey(hash types.Hash) []byte {
	return []byte(prefixTx + hash.String())
}

func accountTxPrefix(id types.AccountID) []byte {
	return []byte(prefixAccountTx + string(id) + "/")
}

// position is encoded big-endian so that keys sort in chain order
func accountTxKey(id types.AccountID, height uint64, index uint32) []byte {
	return appendPosition(accountTxPrefix(id), height, index)
}

func transferTxPrefix(id types.AccountID, asset types.AssetID) []byte {
	return []byte(prefixTransferTx + string(id) + "/" + string(asset) + "/")
}

func transferTxKey(id types.AccountID, asset types.AssetID, height uint64, index uint32) []byte {
	return appendPosition(transferTxPrefix(id, asset), height, index)
}

func appendPosition(b []byte, height uint64, index uint32) []byte {
	b = binary.BigEndian.AppendUint64(b, height)
	return binary.BigEndian.AppendUint32(b, index)
}
