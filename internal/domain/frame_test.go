package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataChannelFrameRoundTrip(t *testing.T) {
	in := DataChannelFrame{Type: FrameData, From: 1, To: 2, Payload: []byte{0xDE, 0xAD}}

	out, ok := DecodeDataChannelFrame(in.Encode())
	require.True(t, ok)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.From, out.From)
	assert.Equal(t, in.To, out.To)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestDataChannelFrameWireLayoutIsLittleEndian(t *testing.T) {
	f := DataChannelFrame{Type: FrameData, From: 0x01020304, To: 0x0A0B0C0D}
	buf := f.Encode()

	assert.Equal(t, byte(0), buf[0])
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf[1:5])
	assert.Equal(t, []byte{0x0D, 0x0C, 0x0B, 0x0A}, buf[5:9])
}

func TestDataChannelFrameBroadcastWhenFromEqualsTo(t *testing.T) {
	assert.True(t, DataChannelFrame{From: 7, To: 7}.IsBroadcast())
	assert.False(t, DataChannelFrame{From: 7, To: 8}.IsBroadcast())
}

func TestDecodeDataChannelFrameShortBufferFails(t *testing.T) {
	_, ok := DecodeDataChannelFrame([]byte{0, 1, 2, 3, 4, 5, 6, 7})
	assert.False(t, ok)
}

func TestDecodeDataChannelFrameHeaderOnlyHasNoPayload(t *testing.T) {
	f, ok := DecodeDataChannelFrame(NewOpenNotice(3).Encode())
	require.True(t, ok)
	assert.Nil(t, f.Payload)
}

func TestOpenAndCloseNoticesAreSelfAddressed(t *testing.T) {
	open := NewOpenNotice(9)
	assert.Equal(t, FrameOpen, open.Type)
	assert.True(t, open.IsBroadcast())
	assert.Equal(t, DataChannelPeerID(9), open.From)

	cl := NewCloseNotice(9)
	assert.Equal(t, FrameClose, cl.Type)
	assert.True(t, cl.IsBroadcast())
}

func TestGroupFrameFromIsBigEndian(t *testing.T) {
	// user id 2 serializes as the big-endian prefix [0,0,0,2]
	from, ok := GroupFrameFrom([]byte{0x00, 0x00, 0x00, 0x02, 0xFF})
	require.True(t, ok)
	assert.Equal(t, UserID(2), from)
}

func TestGroupFrameRoundTrip(t *testing.T) {
	buf := EncodeGroupFrame(0xCAFEBABE, []byte{1, 2, 3})
	from, ok := GroupFrameFrom(buf)
	require.True(t, ok)
	assert.Equal(t, UserID(0xCAFEBABE), from)
	assert.Equal(t, []byte{1, 2, 3}, buf[GroupHeaderLen:])
}

func TestGroupFrameFromShortBufferFails(t *testing.T) {
	_, ok := GroupFrameFrom([]byte{0, 0, 2})
	assert.False(t, ok)
}
