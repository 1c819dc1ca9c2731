package client

import (
	"bytes"
	"encoding/binary"

	"github.com/certen/grandpa-parachain-client/pkg/hostctx"
	"github.com/certen/grandpa-parachain-client/pkg/lcerr"
	"github.com/certen/grandpa-parachain-client/pkg/trieproof"
)

// VerifyMembership checks that proof, read against root, proves exactly
// expectedValue at path, after rejecting height via cs.VerifyHeight. Every
// concrete membership verification below goes through this, the
// packet-related ones after their own delay precondition.
func (c *Client) VerifyMembership(cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte, path string, expectedValue []byte) error {
	if err := cs.VerifyHeight(height); err != nil {
		return err
	}
	proof, err := trieproof.New(root, proofNodes, c.hash)
	if err != nil {
		return err
	}
	value, present, err := proof.Get([]byte(path))
	if err != nil {
		return err
	}
	if !present {
		return lcerr.Newf(lcerr.MissingHeader, "no value proven at path %q", path)
	}
	if !bytes.Equal(value, expectedValue) {
		return lcerr.Newf(lcerr.Decode, "membership proof value mismatch at path %q", path)
	}
	return nil
}

// VerifyNonMembership checks that proof, read against root, proves that no
// value is stored under the empty key. It takes no path argument, so it
// cannot check absence at any other key; VerifyPacketReceiptAbsence checks
// a specific path through the unexported verifyNonMembershipAt.
func (c *Client) VerifyNonMembership(cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte) error {
	return c.verifyNonMembershipAt(cs, height, proofNodes, root, "")
}

func (c *Client) verifyNonMembershipAt(cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte, path string) error {
	if err := cs.VerifyHeight(height); err != nil {
		return err
	}
	proof, err := trieproof.New(root, proofNodes, c.hash)
	if err != nil {
		return err
	}
	_, present, err := proof.Get([]byte(path))
	if err != nil {
		return err
	}
	if present {
		return lcerr.Newf(lcerr.Decode, "expected absence at path %q but a value was present", path)
	}
	return nil
}

// enforceDelay rejects if connectionDelayNs has not yet elapsed since this
// client recorded processing the header at height, per the connection
// delay period IBC packet-related verifications must respect.
func (c *Client) enforceDelay(ctx hostctx.ReaderContext, clientID string, height hostctx.Height, connectionDelayNs int64) error {
	if connectionDelayNs <= 0 {
		return nil
	}
	processedAt, ok := ctx.GetProcessedTime(clientID, height)
	if !ok {
		return lcerr.Newf(lcerr.MissingHeader, "no processed time recorded for height %s", height)
	}
	if ctx.HostTimestamp() < processedAt+connectionDelayNs {
		return lcerr.Newf(lcerr.HeightMismatch, "connection delay period has not yet elapsed at height %s", height)
	}
	return nil
}

// VerifyClientConsensusState verifies a counterparty's claim about the
// consensus state this client holds for clientID at height, as seen
// through a proof against the parachain's own state root.
func (c *Client) VerifyClientConsensusState(cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte, clientID string, consensusHeight hostctx.Height, encodedConsensusState []byte) error {
	path := ClientConsensusStatePath(clientID, consensusHeight.RevisionNumber, consensusHeight.RevisionHeight)
	return c.VerifyMembership(cs, height, proofNodes, root, path, encodedConsensusState)
}

// VerifyClientFullState verifies a counterparty's claim about a client
// state at height.
func (c *Client) VerifyClientFullState(cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte, clientID string, encodedClientState []byte) error {
	return c.VerifyMembership(cs, height, proofNodes, root, ClientStatePath(clientID), encodedClientState)
}

// VerifyConnectionState verifies a connection end at height.
func (c *Client) VerifyConnectionState(cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte, connectionID string, encodedConnectionEnd []byte) error {
	return c.VerifyMembership(cs, height, proofNodes, root, ConnectionPath(connectionID), encodedConnectionEnd)
}

// VerifyChannelState verifies a channel end at height.
func (c *Client) VerifyChannelState(cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte, portID, channelID string, encodedChannelEnd []byte) error {
	return c.VerifyMembership(cs, height, proofNodes, root, ChannelPath(portID, channelID), encodedChannelEnd)
}

// VerifyPacketData verifies a packet commitment, additionally enforcing
// the connection's delay period against the processing record ctx holds
// for clientID at height.
func (c *Client) VerifyPacketData(ctx hostctx.ReaderContext, clientID string, cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte, connectionDelayNs int64, portID, channelID string, sequence uint64, commitmentBytes []byte) error {
	if err := c.enforceDelay(ctx, clientID, height, connectionDelayNs); err != nil {
		return err
	}
	return c.VerifyMembership(cs, height, proofNodes, root, PacketCommitmentPath(portID, channelID, sequence), commitmentBytes)
}

// VerifyPacketAcknowledgement verifies a packet acknowledgement.
func (c *Client) VerifyPacketAcknowledgement(ctx hostctx.ReaderContext, clientID string, cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte, connectionDelayNs int64, portID, channelID string, sequence uint64, ackBytes []byte) error {
	if err := c.enforceDelay(ctx, clientID, height, connectionDelayNs); err != nil {
		return err
	}
	return c.VerifyMembership(cs, height, proofNodes, root, PacketAcknowledgementPath(portID, channelID, sequence), ackBytes)
}

// VerifyNextSequenceRecv verifies the next-sequence-recv counter, encoded
// as a fixed 8-byte big-endian value.
func (c *Client) VerifyNextSequenceRecv(ctx hostctx.ReaderContext, clientID string, cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte, connectionDelayNs int64, portID, channelID string, nextSequenceRecv uint64) error {
	if err := c.enforceDelay(ctx, clientID, height, connectionDelayNs); err != nil {
		return err
	}
	var want [8]byte
	binary.BigEndian.PutUint64(want[:], nextSequenceRecv)
	return c.VerifyMembership(cs, height, proofNodes, root, NextSequenceRecvPath(portID, channelID), want[:])
}

// VerifyPacketReceiptAbsence verifies that no receipt has been recorded
// for sequence, proving the packet has not yet been received.
func (c *Client) VerifyPacketReceiptAbsence(ctx hostctx.ReaderContext, clientID string, cs *ClientState, height hostctx.Height, proofNodes ParachainHeaderProof, root [32]byte, connectionDelayNs int64, portID, channelID string, sequence uint64) error {
	if err := c.enforceDelay(ctx, clientID, height, connectionDelayNs); err != nil {
		return err
	}
	return c.verifyNonMembershipAt(cs, height, proofNodes, root, PacketReceiptPath(portID, channelID, sequence))
}
