// internal/protocol/request.go
package protocol

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxDuration is the reply timeout used when a request kind does not set its own.
const DefaultMaxDuration = time.Second

const (
	// MaxMessageLength is the longest mailbox message text (the brick adds a NUL).
	MaxMessageLength = 58
	// MaxPollLength is the largest poll read the brick answers in one reply.
	MaxPollLength = 64
	// MaxFileName is the 15.3 file name limit used by program commands.
	MaxFileName = 19
)

// Request is one outbound unit of work.
// The caller owns it; the connection only references it until it completes.
type Request struct {
	Type        CommandType
	Code        Command
	Payload     []byte
	MaxDuration time.Duration

	// Set by the send worker when the request reaches the transport.
	SentAt   time.Time
	Deadline time.Time

	once  sync.Once
	mu    sync.Mutex
	done  chan struct{}
	reply *Reply
	err   error
}

// NewRequest builds a request. MaxDuration is left zero, which means
// DefaultMaxDuration unless the connection supplies its own reply timeout.
func NewRequest(t CommandType, code Command, payload []byte) *Request {
	return &Request{
		Type:    t,
		Code:    code,
		Payload: payload,
		done:    make(chan struct{}),
	}
}

func (r *Request) timeout() time.Duration {
	if r.MaxDuration <= 0 {
		return DefaultMaxDuration
	}
	return r.MaxDuration
}

// MarkSent records the transmission time and derives the deadline.
func (r *Request) MarkSent(at time.Time) {
	r.SentAt = at
	r.Deadline = at.Add(r.timeout())
}

// Expired reports whether the request was sent and its deadline has passed.
func (r *Request) Expired(now time.Time) bool {
	return !r.Deadline.IsZero() && now.After(r.Deadline)
}

func (r *Request) doneChan() chan struct{} {
	r.once.Do(func() {
		if r.done == nil {
			r.done = make(chan struct{})
		}
	})
	return r.done
}

// Complete resolves the request. Only the first call has an effect;
// it reports whether this call was the one that completed it.
func (r *Request) Complete(reply *Reply, err error) bool {
	ch := r.doneChan()

	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-ch:
		return false
	default:
	}
	r.reply = reply
	r.err = err
	close(ch)
	return true
}

// Done is closed once the request has a result.
func (r *Request) Done() <-chan struct{} {
	return r.doneChan()
}

// Finished reports whether Complete has been called.
func (r *Request) Finished() bool {
	select {
	case <-r.doneChan():
		return true
	default:
		return false
	}
}

// Result returns the outcome. Valid only after Done is closed.
func (r *Request) Result() (*Reply, error) {
	<-r.doneChan()
	return r.reply, r.err
}

// Wait blocks until the request completes, MaxDuration elapses, or ctx ends.
// A timeout completes the request with ErrReplyTimeout so a late reply is ignored.
func (r *Request) Wait(ctx context.Context) (*Reply, error) {
	t := time.NewTimer(r.timeout())
	defer t.Stop()

	select {
	case <-r.doneChan():
	case <-t.C:
		r.Complete(nil, ErrReplyTimeout)
	case <-ctx.Done():
		r.Complete(nil, ctx.Err())
	}
	return r.Result()
}

func (r *Request) String() string {
	return fmt.Sprintf("%s/%s len=%d", r.Type, r.Code, len(r.Payload))
}

// ---- constructors per request kind ----

// NewGetDeviceInfo asks for the brick name, address, signal and free flash.
func NewGetDeviceInfo() *Request {
	return NewRequest(SystemReply, CmdGetDeviceInfo, nil)
}

// NewGetFirmwareVersion asks for protocol and firmware versions.
func NewGetFirmwareVersion() *Request {
	return NewRequest(SystemReply, CmdGetFirmwareVersion, nil)
}

// NewGetBatteryLevel asks for the battery voltage in millivolts.
func NewGetBatteryLevel() *Request {
	return NewRequest(DirectReply, CmdGetBatteryLevel, nil)
}

// NewKeepAlive resets the brick sleep timer and asks for its current value.
func NewKeepAlive() *Request {
	return NewRequest(DirectReply, CmdKeepAlive, nil)
}

// NewPollLength asks how many bytes are waiting in a poll buffer.
func NewPollLength(buffer byte) *Request {
	req := NewRequest(SystemReply, CmdPollLength, []byte{buffer})
	req.MaxDuration = 250 * time.Millisecond
	return req
}

// NewPoll reads up to length bytes from a poll buffer.
func NewPoll(buffer, length byte) *Request {
	if length > MaxPollLength {
		length = MaxPollLength
	}
	req := NewRequest(SystemReply, CmdPoll, []byte{buffer, length})
	req.MaxDuration = 250 * time.Millisecond
	return req
}

// NewMessageWrite sends text to a brick mailbox without waiting for a reply.
func NewMessageWrite(mailbox byte, text string) (*Request, error) {
	if len(text) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message is %d bytes, max %d", ErrPayloadTooLarge, len(text), MaxMessageLength)
	}
	p := make([]byte, 0, len(text)+3)
	p = append(p, mailbox, byte(len(text)+1))
	p = append(p, text...)
	p = append(p, 0)
	return NewRequest(DirectNoReply, CmdMessageWrite, p), nil
}

// NewPlayTone plays a tone of freq Hz for the given duration.
func NewPlayTone(freq uint16, d time.Duration) *Request {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint16(p[0:2], freq)
	binary.LittleEndian.PutUint16(p[2:4], uint16(d/time.Millisecond))
	return NewRequest(DirectNoReply, CmdPlayTone, p)
}

// NewStartProgram starts a program file on the brick.
func NewStartProgram(name string) (*Request, error) {
	if len(name) > MaxFileName {
		return nil, fmt.Errorf("%w: file name is %d bytes, max %d", ErrPayloadTooLarge, len(name), MaxFileName)
	}
	p := append([]byte(name), 0)
	return NewRequest(DirectReply, CmdStartProgram, p), nil
}

// NewStopProgram stops the running program.
func NewStopProgram() *Request {
	return NewRequest(DirectReply, CmdStopProgram, nil)
}
