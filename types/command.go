package types

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

type CommandKind uint8

const (
	KindAddAssetQuantity CommandKind = iota + 1
	KindAddPeer
	KindAddSignatory
	KindAppendRole
	KindCreateAccount
	KindCreateAsset
	KindCreateDomain
	KindCreateRole
	KindDetachRole
	KindGrantPermission
	KindRemoveSignatory
	KindRevokePermission
	KindSetAccountDetail
	KindSetQuorum
	KindSubtractAssetQuantity
	KindTransferAsset

	commandKindEnd
)

var commandNames = [...]string{
	KindAddAssetQuantity:      "AddAssetQuantity",
	KindAddPeer:               "AddPeer",
	KindAddSignatory:          "AddSignatory",
	KindAppendRole:            "AppendRole",
	KindCreateAccount:         "CreateAccount",
	KindCreateAsset:           "CreateAsset",
	KindCreateDomain:          "CreateDomain",
	KindCreateRole:            "CreateRole",
	KindDetachRole:            "DetachRole",
	KindGrantPermission:       "GrantPermission",
	KindRemoveSignatory:       "RemoveSignatory",
	KindRevokePermission:      "RevokePermission",
	KindSetAccountDetail:      "SetAccountDetail",
	KindSetQuorum:             "SetQuorum",
	KindSubtractAssetQuantity: "SubtractAssetQuantity",
	KindTransferAsset:         "TransferAsset",
}

func (k CommandKind) String() string {
	if k == 0 || k >= commandKindEnd {
		return fmt.Sprintf("Command(%d)", uint8(k))
	}
	return commandNames[k]
}

// CommandKinds returns all known command kinds.
func CommandKinds() []CommandKind {
	res := make([]CommandKind, 0, commandKindEnd-1)
	for k := KindAddAssetQuantity; k < commandKindEnd; k++ {
		res = append(res, k)
	}
	return res
}

/*
Command is one ledger state mutation. The set of implementations is closed,
only types declared in this package implement it.
*/
type Command interface {
	Kind() CommandKind
	isCommand()
}

// IsNilCommand reports whether cmd is nil or a nil pointer of a command type.
func IsNilCommand(cmd Command) bool {
	if cmd == nil {
		return true
	}
	v := reflect.ValueOf(cmd)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

type (
	AddAssetQuantity struct {
		_       struct{} `cbor:",toarray"`
		AssetID AssetID
		Amount  Amount
	}

	AddPeer struct {
		_    struct{} `cbor:",toarray"`
		Peer Peer
	}

	AddSignatory struct {
		_         struct{} `cbor:",toarray"`
		AccountID AccountID
		PublicKey PublicKey
	}

	AppendRole struct {
		_         struct{} `cbor:",toarray"`
		AccountID AccountID
		RoleID    RoleID
	}

	CreateAccount struct {
		_           struct{} `cbor:",toarray"`
		AccountName string
		DomainID    DomainID
		PublicKey   PublicKey
	}

	CreateAsset struct {
		_         struct{} `cbor:",toarray"`
		AssetName string
		DomainID  DomainID
		Precision uint8
	}

	CreateDomain struct {
		_           struct{} `cbor:",toarray"`
		DomainID    DomainID
		DefaultRole RoleID
	}

	CreateRole struct {
		_           struct{} `cbor:",toarray"`
		RoleID      RoleID
		Permissions RolePermissionSet
	}

	DetachRole struct {
		_         struct{} `cbor:",toarray"`
		AccountID AccountID
		RoleID    RoleID
	}

	// GrantPermission grants permission over the creator account to AccountID.
	GrantPermission struct {
		_          struct{} `cbor:",toarray"`
		AccountID  AccountID
		Permission GrantablePermission
	}

	RemoveSignatory struct {
		_         struct{} `cbor:",toarray"`
		AccountID AccountID
		PublicKey PublicKey
	}

	RevokePermission struct {
		_          struct{} `cbor:",toarray"`
		AccountID  AccountID
		Permission GrantablePermission
	}

	SetAccountDetail struct {
		_         struct{} `cbor:",toarray"`
		AccountID AccountID
		Key       string
		Value     string
	}

	SetQuorum struct {
		_         struct{} `cbor:",toarray"`
		AccountID AccountID
		Quorum    uint32
	}

	SubtractAssetQuantity struct {
		_       struct{} `cbor:",toarray"`
		AssetID AssetID
		Amount  Amount
	}

	TransferAsset struct {
		_             struct{} `cbor:",toarray"`
		SrcAccountID  AccountID
		DestAccountID AccountID
		AssetID       AssetID
		Description   string
		Amount        Amount
	}
)

func (*AddAssetQuantity) Kind() CommandKind      { return KindAddAssetQuantity }
func (*AddPeer) Kind() CommandKind               { return KindAddPeer }
func (*AddSignatory) Kind() CommandKind          { return KindAddSignatory }
func (*AppendRole) Kind() CommandKind            { return KindAppendRole }
func (*CreateAccount) Kind() CommandKind         { return KindCreateAccount }
func (*CreateAsset) Kind() CommandKind           { return KindCreateAsset }
func (*CreateDomain) Kind() CommandKind          { return KindCreateDomain }
func (*CreateRole) Kind() CommandKind            { return KindCreateRole }
func (*DetachRole) Kind() CommandKind            { return KindDetachRole }
func (*GrantPermission) Kind() CommandKind       { return KindGrantPermission }
func (*RemoveSignatory) Kind() CommandKind       { return KindRemoveSignatory }
func (*RevokePermission) Kind() CommandKind      { return KindRevokePermission }
func (*SetAccountDetail) Kind() CommandKind      { return KindSetAccountDetail }
func (*SetQuorum) Kind() CommandKind             { return KindSetQuorum }
func (*SubtractAssetQuantity) Kind() CommandKind { return KindSubtractAssetQuantity }
func (*TransferAsset) Kind() CommandKind         { return KindTransferAsset }

func (*AddAssetQuantity) isCommand()      {}
func (*AddPeer) isCommand()               {}
func (*AddSignatory) isCommand()          {}
func (*AppendRole) isCommand()            {}
func (*CreateAccount) isCommand()         {}
func (*CreateAsset) isCommand()           {}
func (*CreateDomain) isCommand()          {}
func (*CreateRole) isCommand()            {}
func (*DetachRole) isCommand()            {}
func (*GrantPermission) isCommand()       {}
func (*RemoveSignatory) isCommand()       {}
func (*RevokePermission) isCommand()      {}
func (*SetAccountDetail) isCommand()      {}
func (*SetQuorum) isCommand()             {}
func (*SubtractAssetQuantity) isCommand() {}
func (*TransferAsset) isCommand()         {}

// NewCommand returns zero value command of given kind.
func NewCommand(kind CommandKind) (Command, error) {
	switch kind {
	case KindAddAssetQuantity:
		return &AddAssetQuantity{}, nil
	case KindAddPeer:
		return &AddPeer{}, nil
	case KindAddSignatory:
		return &AddSignatory{}, nil
	case KindAppendRole:
		return &AppendRole{}, nil
	case KindCreateAccount:
		return &CreateAccount{}, nil
	case KindCreateAsset:
		return &CreateAsset{}, nil
	case KindCreateDomain:
		return &CreateDomain{}, nil
	case KindCreateRole:
		return &CreateRole{}, nil
	case KindDetachRole:
		return &DetachRole{}, nil
	case KindGrantPermission:
		return &GrantPermission{}, nil
	case KindRemoveSignatory:
		return &RemoveSignatory{}, nil
	case KindRevokePermission:
		return &RevokePermission{}, nil
	case KindSetAccountDetail:
		return &SetAccountDetail{}, nil
	case KindSetQuorum:
		return &SetQuorum{}, nil
	case KindSubtractAssetQuantity:
		return &SubtractAssetQuantity{}, nil
	case KindTransferAsset:
		return &TransferAsset{}, nil
	default:
		return nil, fmt.Errorf("unknown command kind %d", uint8(kind))
	}
}

// commandCBOR is the wire form of a command: kind tag followed by encoded body.
type commandCBOR struct {
	_    struct{} `cbor:",toarray"`
	Kind CommandKind
	Body cbor.RawMessage
}

func encodeCommands(cmds []Command) ([]commandCBOR, error) {
	res := make([]commandCBOR, len(cmds))
	for i, c := range cmds {
		if c == nil {
			return nil, fmt.Errorf("command %d is nil", i)
		}
		body, err := Cbor.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encoding command %d (%s): %w", i, c.Kind(), err)
		}
		res[i] = commandCBOR{Kind: c.Kind(), Body: body}
	}
	return res, nil
}

func decodeCommands(src []commandCBOR) ([]Command, error) {
	res := make([]Command, len(src))
	for i, c := range src {
		cmd, err := NewCommand(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("decoding command %d: %w", i, err)
		}
		if err := Cbor.Unmarshal(c.Body, cmd); err != nil {
			return nil, fmt.Errorf("decoding command %d (%s): %w", i, c.Kind, err)
		}
		res[i] = cmd
	}
	return res, nil
}
