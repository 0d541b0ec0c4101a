package testtransaction

import (
	"sync/atomic"

	"github.com/alphabill-org/wsv/types"
)

// createdTime makes transactions built by the same test distinct.
var createdTime atomic.Uint64

type Option func(*types.Transaction)

// WithSigners replaces the signatures of the transaction with (empty) signatures of the keys.
func WithSigners(keys ...types.PublicKey) Option {
	return func(tx *types.Transaction) {
		tx.Signatures = nil
		for _, k := range keys {
			tx.Signatures = append(tx.Signatures, types.Signature{PublicKey: k, Signed: []byte{1}})
		}
	}
}

func WithQuorum(q uint32) Option {
	return func(tx *types.Transaction) {
		tx.Quorum = q
	}
}

func WithCreatedTime(t uint64) Option {
	return func(tx *types.Transaction) {
		tx.CreatedTime = t
	}
}

/*
NewTx creates transaction of creator signed by key. The signature is not a
real one, world state checks only that the key is a signatory of the creator.
*/
func NewTx(creator types.AccountID, key types.PublicKey, cmds []types.Command, opts ...Option) *types.Transaction {
	tx := &types.Transaction{
		CreatorAccountID: creator,
		CreatedTime:      createdTime.Add(1),
		Quorum:           1,
		Commands:         cmds,
	}
	WithSigners(key)(tx)
	for _, opt := range opts {
		opt(tx)
	}
	return tx
}
