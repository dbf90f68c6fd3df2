package lnwire

import (
	"encoding/binary"
	"fmt"
)

// MilliSatoshi is a thousandth of a satoshi, the unit HTLC and channel
// balance amounts are carried in on the wire.
type MilliSatoshi uint64

// ToSatoshis rounds down to the nearest whole satoshi.
func (m MilliSatoshi) ToSatoshis() int64 { return int64(m / 1000) }

// ChannelID identifies a channel once its funding transaction exists. It is
// derived by XORing the funding outpoint's txid with its output index,
// encoded as the low two bytes — see channel.DeriveChannelID, which
// preserves this exact derivation including its low-byte-only peculiarity.
type ChannelID [32]byte

func (c ChannelID) String() string { return fmt.Sprintf("%x", c[:]) }

// IsZero reports whether c is the all-zero "no channel yet" ID used to key
// pending exchanges on the temporary_channel_id before funding_created.
func (c ChannelID) IsZero() bool { return c == ChannelID{} }

// ShortChannelID is the compact (block, tx index, output index) locator
// assigned to a channel once its funding transaction has sufficient depth,
// packed into 8 bytes as block_height(3) || tx_index(3) || tx_position(2).
type ShortChannelID uint64

func NewShortChannelID(blockHeight uint32, txIndex uint32, txPosition uint16) ShortChannelID {
	return ShortChannelID(uint64(blockHeight&0xffffff)<<40 | uint64(txIndex&0xffffff)<<16 | uint64(txPosition))
}

func (s ShortChannelID) BlockHeight() uint32 { return uint32(s >> 40) }
func (s ShortChannelID) TxIndex() uint32     { return uint32(s>>16) & 0xffffff }
func (s ShortChannelID) TxPosition() uint16  { return uint16(s) }

func (s ShortChannelID) ToBytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(s))
	return b
}

func NewShortChannelIDFromBytes(b []byte) ShortChannelID {
	return ShortChannelID(beUint64(b))
}
