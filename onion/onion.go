// Package onion adapts github.com/lightningnetwork/lightning-onion's sphinx
// packet format to the narrower surface the pay and receive flows need:
// building an onion for a path this node is routing a payment over, and
// processing one received as the next hop. The underlying sphinx types
// (OnionPacket, ProcessedPacket, the ExitNode/MoreHops actions) are used
// directly where an update_add_htlc's onion_routing_packet is unwrapped.
package onion

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	sphinx "github.com/lightningnetwork/lightning-onion"
)

// HopPayload is the per-hop data a sender includes for one node along a
// payment path: the amount and CLTV expiry it should forward, and the
// short_channel_id of the next hop (zero for the final, exit hop).
type HopPayload struct {
	NextChannelID uint64
	AmountToFwd   uint64
	OutgoingCltv  uint32
}

// Router processes onion packets addressed to this node, unwrapping one
// layer and reporting whether this node is the payment's final destination
// or should forward to another hop.
type Router struct {
	sphinxRouter *sphinx.Router
}

// NewRouter constructs a Router that unwraps onion packets using priv as
// this node's onion-layer private key.
func NewRouter(priv *btcec.PrivateKey) *Router {
	return &Router{sphinxRouter: sphinx.NewRouter(priv, sphinx.NewMemoryReplayLog())}
}

// Start and Stop manage the Router's replay log, which opens a resource
// that should be closed on shutdown.
func (r *Router) Start() error { return r.sphinxRouter.Start() }
func (r *Router) Stop() error  { return r.sphinxRouter.Stop() }

// DecodePacket parses the 1366-byte onion_routing_packet field of an
// update_add_htlc message.
func DecodePacket(blob []byte) (*sphinx.OnionPacket, error) {
	pkt := &sphinx.OnionPacket{}
	if err := pkt.Decode(bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("onion: decoding packet: %w", err)
	}
	return pkt, nil
}

// Process peels one layer off pkt, using assocData (conventionally the
// HTLC's payment hash) to bind the packet to this specific HTLC and defeat
// replay across different payments.
func (r *Router) Process(pkt *sphinx.OnionPacket, assocData []byte) (*sphinx.ProcessedPacket, error) {
	processed, err := r.sphinxRouter.ProcessOnionPacket(pkt, assocData)
	if err != nil {
		return nil, fmt.Errorf("onion: processing packet: %w", err)
	}
	return processed, nil
}

// IsExitNode reports whether processed indicates this node is the payment's
// final destination, per sphinx's Action enum.
func IsExitNode(processed *sphinx.ProcessedPacket) bool {
	return processed.Action == sphinx.ExitNode
}

// IsMoreHops reports whether processed should be forwarded to a further hop.
func IsMoreHops(processed *sphinx.ProcessedPacket) bool {
	return processed.Action == sphinx.MoreHops
}

// BuildPacket constructs the onion_routing_packet for a new outgoing
// payment: sessionKey is a fresh, single-use ephemeral key; path is the
// ordered list of each hop's onion public key; payloads carries one
// HopPayload per hop, in the same order.
func BuildPacket(sessionKey *btcec.PrivateKey, path []*btcec.PublicKey, payloads []HopPayload, assocData []byte) (*sphinx.OnionPacket, error) {
	if len(path) != len(payloads) {
		return nil, fmt.Errorf("onion: %d hops in path but %d payloads", len(path), len(payloads))
	}
	hopData := make([]sphinx.HopData, len(payloads))
	for i, p := range payloads {
		hopData[i] = encodeHopPayload(p, i == len(payloads)-1)
	}
	pkt, err := sphinx.NewOnionPacket(path, sessionKey, hopData, assocData)
	if err != nil {
		return nil, fmt.Errorf("onion: building packet: %w", err)
	}
	return pkt, nil
}

// encodeHopPayload packs a HopPayload into sphinx's legacy fixed-size
// per-hop realm-0 format: 1-byte realm, 8-byte next channel ID, 8-byte
// amount to forward, 4-byte outgoing CLTV, then padding. The final hop uses
// an all-zero next-channel-ID to signal "no further hop", matching the
// exit-node convention behind the sphinx.ExitNode action IsExitNode checks.
func encodeHopPayload(p HopPayload, isFinalHop bool) sphinx.HopData {
	var hd sphinx.HopData
	hd.Realm = 0
	nextChan := p.NextChannelID
	if isFinalHop {
		nextChan = 0
	}
	binary.BigEndian.PutUint64(hd.NextAddress[:], nextChan)
	hd.ForwardAmount = p.AmountToFwd
	hd.OutgoingCltv = p.OutgoingCltv
	return hd
}

var _ io.Reader = (*bytes.Reader)(nil)
