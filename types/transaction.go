package types

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

var (
	errTxIsNil          = errors.New("transaction is nil")
	errNoCommands       = errors.New("transaction has no commands")
	errCreatorIsMissing = errors.New("creator account id is missing")
)

type (
	Transaction struct {
		CreatorAccountID AccountID
		CreatedTime      uint64
		Quorum           uint32
		Commands         []Command
		Signatures       []Signature
	}

	Signature struct {
		_         struct{} `cbor:",toarray"`
		PublicKey PublicKey
		Signed    []byte
	}

	txPayloadCBOR struct {
		_                struct{} `cbor:",toarray"`
		CreatorAccountID AccountID
		CreatedTime      uint64
		Quorum           uint32
		Commands         []commandCBOR
	}

	txCBOR struct {
		_          struct{} `cbor:",toarray"`
		Payload    txPayloadCBOR
		Signatures []Signature
	}
)

func (tx *Transaction) payload() (*txPayloadCBOR, error) {
	cmds, err := encodeCommands(tx.Commands)
	if err != nil {
		return nil, err
	}
	return &txPayloadCBOR{
		CreatorAccountID: tx.CreatorAccountID,
		CreatedTime:      tx.CreatedTime,
		Quorum:           tx.Quorum,
		Commands:         cmds,
	}, nil
}

// PayloadBytes returns the canonical encoding of the signed part of the transaction.
func (tx *Transaction) PayloadBytes() ([]byte, error) {
	p, err := tx.payload()
	if err != nil {
		return nil, err
	}
	return Cbor.Marshal(p)
}

// Hash returns SHA3-256 hash of the transaction payload, signatures are not included.
func (tx *Transaction) Hash() (Hash, error) {
	b, err := tx.PayloadBytes()
	if err != nil {
		return nil, fmt.Errorf("encoding transaction payload: %w", err)
	}
	h := sha3.Sum256(b)
	return h[:], nil
}

// MustHash is like Hash but panics on error; payload encoding only fails for nil commands.
func (tx *Transaction) MustHash() Hash {
	h, err := tx.Hash()
	if err != nil {
		panic(err)
	}
	return h
}

func (tx *Transaction) IsValid() error {
	if tx == nil {
		return errTxIsNil
	}
	if tx.CreatorAccountID == "" {
		return errCreatorIsMissing
	}
	if len(tx.Commands) == 0 {
		return errNoCommands
	}
	for i, c := range tx.Commands {
		if IsNilCommand(c) {
			return fmt.Errorf("command %d is nil", i)
		}
	}
	return nil
}

func (tx *Transaction) MarshalCBOR() ([]byte, error) {
	p, err := tx.payload()
	if err != nil {
		return nil, err
	}
	return Cbor.Marshal(&txCBOR{Payload: *p, Signatures: tx.Signatures})
}

func (tx *Transaction) UnmarshalCBOR(data []byte) error {
	var v txCBOR
	if err := Cbor.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding transaction: %w", err)
	}
	cmds, err := decodeCommands(v.Payload.Commands)
	if err != nil {
		return err
	}
	*tx = Transaction{
		CreatorAccountID: v.Payload.CreatorAccountID,
		CreatedTime:      v.Payload.CreatedTime,
		Quorum:           v.Payload.Quorum,
		Commands:         cmds,
		Signatures:       v.Signatures,
	}
	return nil
}
