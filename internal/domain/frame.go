package domain

import "encoding/binary"

// FrameType tags a data-channel frame's purpose.
type FrameType byte

const (
	FrameData  FrameType = 0
	FrameOpen  FrameType = 1
	FrameClose FrameType = 2
)

// DataChannelHeaderLen is the fixed prefix of a DCF frame: 1 byte type + 4
// byte from + 4 byte to.
const DataChannelHeaderLen = 9

// DataChannelFrame is the per-stream data-channel fabric's wire frame.
// Both from and to are little-endian u32 on the wire, and the decode path
// uses the same byte order as synthesis.
type DataChannelFrame struct {
	Type    FrameType
	From    DataChannelPeerID
	To      DataChannelPeerID
	Payload []byte
}

// IsBroadcast reports whether the frame targets every peer on the stream
// (from == to).
func (f DataChannelFrame) IsBroadcast() bool {
	return f.From == f.To
}

// Encode serializes the frame header and payload into a single buffer.
func (f DataChannelFrame) Encode() []byte {
	buf := make([]byte, DataChannelHeaderLen+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(f.From))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(f.To))
	copy(buf[9:], f.Payload)
	return buf
}

// DecodeDataChannelFrame parses a raw DCF message. It returns false if buf is
// shorter than the fixed header.
func DecodeDataChannelFrame(buf []byte) (DataChannelFrame, bool) {
	if len(buf) < DataChannelHeaderLen {
		return DataChannelFrame{}, false
	}
	f := DataChannelFrame{
		Type: FrameType(buf[0]),
		From: DataChannelPeerID(binary.LittleEndian.Uint32(buf[1:5])),
		To:   DataChannelPeerID(binary.LittleEndian.Uint32(buf[5:9])),
	}
	if len(buf) > DataChannelHeaderLen {
		f.Payload = append([]byte(nil), buf[DataChannelHeaderLen:]...)
	}
	return f, true
}

// NewOpenNotice synthesizes the "open notice" frame a DCF read loop publishes
// immediately on data-channel open: from = to = self.
func NewOpenNotice(self DataChannelPeerID) DataChannelFrame {
	return DataChannelFrame{Type: FrameOpen, From: self, To: self}
}

// NewCloseNotice synthesizes the "close notice" frame PFI publishes when a
// peer's publisher (or the peer itself) is removed.
func NewCloseNotice(self DataChannelPeerID) DataChannelFrame {
	return DataChannelFrame{Type: FrameClose, From: self, To: self}
}

// GroupHeaderLen is the portion of a group frame the manager itself
// interprets: the leading 4 bytes of sender user-id.
const GroupHeaderLen = 4

// GroupFrameFrom extracts the sender user-id from a group frame's leading
// bytes. Unlike DataChannelFrame, this is big-endian, matching the
// WebSocket upstream handler's header convention.
func GroupFrameFrom(payload []byte) (UserID, bool) {
	if len(payload) < GroupHeaderLen {
		return 0, false
	}
	return UserID(binary.BigEndian.Uint32(payload[:GroupHeaderLen])), true
}

// EncodeGroupFrame prefixes payload with the sender's user-id, big-endian,
// matching the upstream WebSocket framing convention.
func EncodeGroupFrame(from UserID, payload []byte) []byte {
	buf := make([]byte, GroupHeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[:GroupHeaderLen], uint32(from))
	copy(buf[GroupHeaderLen:], payload)
	return buf
}
