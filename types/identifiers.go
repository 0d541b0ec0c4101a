package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	accountSeparator = "@"
	assetSeparator   = "#"

	maxNameLength   = 32
	maxDomainLength = 255
)

var (
	errEmptyIdentifier  = errors.New("identifier is empty")
	errInvalidCharacter = errors.New("identifier contains invalid character")
)

type (
	// AccountID is in the form "name@domain".
	AccountID string
	// AssetID is in the form "name#domain".
	AssetID  string
	DomainID string
	RoleID   string

	PublicKey []byte
	Hash      []byte
)

func NewAccountID(name string, domain DomainID) AccountID {
	return AccountID(name + accountSeparator + string(domain))
}

func NewAssetID(name string, domain DomainID) AssetID {
	return AssetID(name + assetSeparator + string(domain))
}

// Domain returns the domain part of the account id or empty string when id is malformed.
func (id AccountID) Domain() DomainID {
	_, d, found := strings.Cut(string(id), accountSeparator)
	if !found {
		return ""
	}
	return DomainID(d)
}

func (id AccountID) Name() string {
	n, _, _ := strings.Cut(string(id), accountSeparator)
	return n
}

func (id AccountID) Validate() error {
	name, domain, found := strings.Cut(string(id), accountSeparator)
	if !found {
		return fmt.Errorf("account id %q: missing %q separator", id, accountSeparator)
	}
	if err := validName(name); err != nil {
		return fmt.Errorf("account id %q: %w", id, err)
	}
	if err := DomainID(domain).Validate(); err != nil {
		return fmt.Errorf("account id %q: %w", id, err)
	}
	return nil
}

func (id AssetID) Domain() DomainID {
	_, d, found := strings.Cut(string(id), assetSeparator)
	if !found {
		return ""
	}
	return DomainID(d)
}

func (id AssetID) Validate() error {
	name, domain, found := strings.Cut(string(id), assetSeparator)
	if !found {
		return fmt.Errorf("asset id %q: missing %q separator", id, assetSeparator)
	}
	if err := validName(name); err != nil {
		return fmt.Errorf("asset id %q: %w", id, err)
	}
	if err := DomainID(domain).Validate(); err != nil {
		return fmt.Errorf("asset id %q: %w", id, err)
	}
	return nil
}

// Validate checks that domain consists of dot separated labels of letters,
// digits and hyphens.
func (d DomainID) Validate() error {
	if d == "" {
		return errEmptyIdentifier
	}
	if len(d) > maxDomainLength {
		return fmt.Errorf("domain %q is too long", d)
	}
	for _, label := range strings.Split(string(d), ".") {
		if label == "" || label[0] == '-' || label[len(label)-1] == '-' {
			return fmt.Errorf("domain %q: %w", d, errInvalidCharacter)
		}
		for _, c := range label {
			if !(c == '-' || isLetter(c) || isDigit(c)) {
				return fmt.Errorf("domain %q: %w", d, errInvalidCharacter)
			}
		}
	}
	return nil
}

func (r RoleID) Validate() error {
	if err := validName(string(r)); err != nil {
		return fmt.Errorf("role id %q: %w", r, err)
	}
	return nil
}

// validName checks account, asset and role names: lowercase letters, digits and
// underscore, at most 32 characters.
func validName(name string) error {
	if name == "" {
		return errEmptyIdentifier
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name %q is too long", name)
	}
	for _, c := range name {
		if !(c == '_' || c >= 'a' && c <= 'z' || isDigit(c)) {
			return errInvalidCharacter
		}
	}
	return nil
}

func isLetter(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}

func (pk PublicKey) String() string {
	return hex.EncodeToString(pk)
}

func (pk PublicKey) Eq(o PublicKey) bool {
	return bytes.Equal(pk, o)
}

func (h Hash) String() string {
	return hex.EncodeToString(h)
}

func (h Hash) Eq(o Hash) bool {
	return bytes.Equal(h, o)
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

func (h *Hash) UnmarshalText(src []byte) error {
	b, err := hex.DecodeString(string(src))
	if err != nil {
		return fmt.Errorf("decoding hash: %w", err)
	}
	*h = b
	return nil
}
