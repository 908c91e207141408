// internal/protocol/codec_test.go
package protocol

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_CanonicalLayout(t *testing.T) {
	req := NewRequest(SystemReply, CmdPoll, []byte{0x00, 0x40})

	buf, err := Encode(req)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x04, 0x00, 0x01, 0xA2, 0x00, 0x40}, buf)
}

func TestFrame_Views(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", nil},
		{"one byte", []byte{0x7F}},
		{"message write", []byte{0x01, 0x03, 'h', 'i', 0x00}},
		{"large", bytes.Repeat([]byte{0xAA}, 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest(DirectReply, CmdKeepAlive, tt.payload)

			canonical, err := Encode(req)
			require.NoError(t, err)

			stream, err := Frame(req, FramingStream)
			require.NoError(t, err)
			assert.Equal(t, canonical, stream)

			pre, err := Frame(req, FramingPreFramed)
			require.NoError(t, err)
			assert.Equal(t, canonical[2:], pre)
		})
	}
}

func TestEncode_LengthInvariant(t *testing.T) {
	for n := 0; n <= 250; n++ {
		req := NewRequest(DirectNoReply, CmdMessageWrite, make([]byte, n))
		buf, err := Encode(req)
		require.NoError(t, err)

		got, err := DeclaredLength(buf)
		require.NoError(t, err)
		if got != 2+n {
			t.Fatalf("payload %d: declared length %d, want %d", n, got, 2+n)
		}
		if len(buf) != LengthPrefixSize+got {
			t.Fatalf("payload %d: buffer is %d bytes, want %d", n, len(buf), LengthPrefixSize+got)
		}
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	req := NewRequest(DirectNoReply, CmdMessageWrite, make([]byte, MaxPayloadSize+1))
	_, err := Encode(req)
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))
}

func TestNewMessageWrite(t *testing.T) {
	req, err := NewMessageWrite(2, "go")
	require.NoError(t, err)
	assert.Equal(t, DirectNoReply, req.Type)
	assert.Equal(t, []byte{0x02, 0x03, 'g', 'o', 0x00}, req.Payload)

	_, err = NewMessageWrite(0, string(make([]byte, MaxMessageLength+1)))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestNewPlayTone(t *testing.T) {
	req := NewPlayTone(440, 500*time.Millisecond)
	assert.Equal(t, []byte{0xB8, 0x01, 0xF4, 0x01}, req.Payload)
}

func TestNewStartProgram(t *testing.T) {
	req, err := NewStartProgram("tlm.rxe")
	require.NoError(t, err)
	assert.Equal(t, DirectReply, req.Type)
	assert.Equal(t, CmdStartProgram, req.Code)
	assert.Equal(t, []byte{'t', 'l', 'm', '.', 'r', 'x', 'e', 0x00}, req.Payload)

	_, err = NewStartProgram("a-very-long-program.rxe")
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestNewRequest_DefaultTimeout(t *testing.T) {
	req := NewKeepAlive()
	assert.Zero(t, req.MaxDuration)

	now := time.Now()
	req.MarkSent(now)
	assert.Equal(t, now.Add(DefaultMaxDuration), req.Deadline)
}

func TestNewPoll_ClampsLength(t *testing.T) {
	req := NewPoll(1, 200)
	assert.Equal(t, []byte{0x01, MaxPollLength}, req.Payload)
	assert.Equal(t, 250*time.Millisecond, req.MaxDuration)
}

func TestRequest_CompleteOnce(t *testing.T) {
	req := NewGetDeviceInfo()
	reply := &Reply{Type: ReplyPacket, Code: CmdGetDeviceInfo}

	assert.True(t, req.Complete(reply, nil))
	assert.False(t, req.Complete(nil, ErrReplyTimeout))

	got, err := req.Result()
	require.NoError(t, err)
	assert.Same(t, reply, got)
}

func TestRequest_WaitTimesOut(t *testing.T) {
	req := NewGetDeviceInfo()
	req.MaxDuration = 10 * time.Millisecond

	_, err := req.Wait(context.Background())
	assert.ErrorIs(t, err, ErrReplyTimeout)
	assert.True(t, req.Finished())
}

func TestRequest_Expired(t *testing.T) {
	req := NewGetDeviceInfo()
	now := time.Now()
	assert.False(t, req.Expired(now), "unsent request never expires")

	req.MarkSent(now)
	assert.False(t, req.Expired(now.Add(500*time.Millisecond)))
	assert.True(t, req.Expired(now.Add(1500*time.Millisecond)))
}
