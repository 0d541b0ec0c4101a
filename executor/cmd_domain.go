package executor

import (
	"errors"

	"github.com/alphabill-org/wsv/types"
	"github.com/alphabill-org/wsv/wsv"
)

func (e *Executor) validateCreateDomain(creator types.AccountID, cmd *types.CreateDomain) error {
	if err := e.requireRolePermission(creator, types.PermCreateDomain); err != nil {
		return err
	}
	if err := cmd.DomainID.Validate(); err != nil {
		return failf(CodeInvalidArgument, "invalid domain id: %w", err)
	}
	if _, err := e.query.GetRolePermissions(cmd.DefaultRole); err != nil {
		return err
	}
	if _, err := e.query.GetDomain(cmd.DomainID); !errors.Is(err, wsv.ErrNotFound) {
		if err == nil {
			return failf(CodeAlreadyExists, "domain %q already exists", cmd.DomainID)
		}
		return err
	}
	return nil
}

func (e *Executor) executeCreateDomain(_ types.AccountID, cmd *types.CreateDomain) error {
	return e.cmd.InsertDomain(&types.Domain{ID: cmd.DomainID, DefaultRole: cmd.DefaultRole})
}

func (e *Executor) validateAddPeer(creator types.AccountID, cmd *types.AddPeer) error {
	if err := e.requireRolePermission(creator, types.PermAddPeer); err != nil {
		return err
	}
	if cmd.Peer.Address == "" {
		return fail(CodeInvalidArgument, "peer address is empty")
	}
	if len(cmd.Peer.PublicKey) == 0 {
		return fail(CodeInvalidArgument, "peer public key is empty")
	}
	peers, err := e.query.GetPeers()
	if err != nil {
		return err
	}
	for _, p := range peers {
		if p.PublicKey.Eq(cmd.Peer.PublicKey) || p.Address == cmd.Peer.Address {
			return failf(CodeAlreadyExists, "peer %s (%s) already exists", cmd.Peer.PublicKey, cmd.Peer.Address)
		}
	}
	return nil
}

func (e *Executor) executeAddPeer(_ types.AccountID, cmd *types.AddPeer) error {
	peer := cmd.Peer
	return e.cmd.InsertPeer(&peer)
}
