package types

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

var (
	errBlockIsNil       = errors.New("block is nil")
	errZeroHeight       = errors.New("block height must be greater than zero")
	errPrevHashIsNil    = errors.New("previous block hash is nil")
	errTransactionIsNil = errors.New("transaction is nil")
)

// HashSize is the size of block and transaction hashes in bytes.
const HashSize = 32

type (
	Block struct {
		_                struct{} `cbor:",toarray"`
		Height           uint64
		PrevHash         Hash
		CreatedTime      uint64
		Transactions     []*Transaction
		RejectedTxHashes []Hash
		Signatures       []Signature
	}

	blockPayloadCBOR struct {
		_                struct{} `cbor:",toarray"`
		Height           uint64
		PrevHash         Hash
		CreatedTime      uint64
		TxHashes         []Hash
		RejectedTxHashes []Hash
	}
)

// ZeroHash is the previous hash of the genesis block.
func ZeroHash() Hash {
	return make(Hash, HashSize)
}

// Hash returns SHA3-256 hash of the block header fields and hashes of its transactions.
func (b *Block) Hash() (Hash, error) {
	if b == nil {
		return nil, errBlockIsNil
	}
	p := &blockPayloadCBOR{
		Height:           b.Height,
		PrevHash:         b.PrevHash,
		CreatedTime:      b.CreatedTime,
		TxHashes:         make([]Hash, len(b.Transactions)),
		RejectedTxHashes: b.RejectedTxHashes,
	}
	for i, tx := range b.Transactions {
		if tx == nil {
			return nil, fmt.Errorf("transaction %d: %w", i, errTransactionIsNil)
		}
		h, err := tx.Hash()
		if err != nil {
			return nil, fmt.Errorf("hashing transaction %d: %w", i, err)
		}
		p.TxHashes[i] = h
	}
	data, err := Cbor.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding block payload: %w", err)
	}
	h := sha3.Sum256(data)
	return h[:], nil
}

func (b *Block) MustHash() Hash {
	h, err := b.Hash()
	if err != nil {
		panic(err)
	}
	return h
}

func (b *Block) GetHeight() uint64 {
	if b == nil {
		return 0
	}
	return b.Height
}

func (b *Block) IsValid() error {
	if b == nil {
		return errBlockIsNil
	}
	if b.Height == 0 {
		return errZeroHeight
	}
	if b.PrevHash == nil {
		return errPrevHashIsNil
	}
	for i, tx := range b.Transactions {
		if err := tx.IsValid(); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}
