package types

type (
	Account struct {
		_        struct{} `cbor:",toarray"`
		ID       AccountID
		DomainID DomainID
		Quorum   uint32
	}

	Asset struct {
		_         struct{} `cbor:",toarray"`
		ID        AssetID
		DomainID  DomainID
		Precision uint8
	}

	Domain struct {
		_           struct{} `cbor:",toarray"`
		ID          DomainID
		DefaultRole RoleID
	}

	Peer struct {
		_         struct{} `cbor:",toarray"`
		Address   string
		PublicKey PublicKey
	}

	AccountAsset struct {
		_         struct{} `cbor:",toarray"`
		AccountID AccountID
		AssetID   AssetID
		Balance   Amount
	}

	// AccountDetail is the free-form detail of an account: writer -> key -> value.
	AccountDetail map[AccountID]map[string]string
)

// MaxQuorum is the upper bound for account quorum.
const MaxQuorum = 128
