package keyvaluedb

import (
	"errors"
	"reflect"
)

var (
	ErrInvalidKey = errors.New("empty key")
	ErrNilValue   = errors.New("nil value")
)

// CheckKey validates the key of a world state or block record.
func CheckKey(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}
	return nil
}

// CheckValue rejects values which can't be CBOR encoded into a record.
func CheckValue(val any) error {
	if val == nil {
		return ErrNilValue
	}
	if v := reflect.ValueOf(val); v.Kind() == reflect.Pointer && v.IsNil() {
		return ErrNilValue
	}
	return nil
}

func CheckKeyAndValue(key []byte, val any) error {
	return errors.Join(CheckKey(key), CheckValue(val))
}
