package storage

import (
	"fmt"

	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

var errPeerNotFound = fmt.Errorf("peer: %w", wsv.ErrNotFound)

// PeerQuery answers questions about the peers of the ledger.
type PeerQuery struct {
	q wsv.Query
}

func NewPeerQuery(q wsv.Query) *PeerQuery {
	return &PeerQuery{q: q}
}

func (pq *PeerQuery) GetLedgerPeers() ([]*types.Peer, error) {
	return pq.q.GetPeers()
}

func (pq *PeerQuery) GetLedgerPeerByPublicKey(pk types.PublicKey) (*types.Peer, error) {
	peers, err := pq.q.GetPeers()
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		if p.PublicKey.Eq(pk) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w %s", errPeerNotFound, pk)
}
