package types

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

type cborHandler struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// Cbor is the canonical (deterministic) CBOR codec used for hashing and storage.
var Cbor = mustCborHandler()

func mustCborHandler() cborHandler {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("creating CBOR encoder: %w", err))
	}
	dec, err := cbor.DecOptions{MaxArrayElements: 1 << 20}.DecMode()
	if err != nil {
		panic(fmt.Errorf("creating CBOR decoder: %w", err))
	}
	return cborHandler{enc: enc, dec: dec}
}

func (c cborHandler) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c cborHandler) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
