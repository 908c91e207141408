// internal/protocol/reply.go
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ReplyHeaderSize covers command_type, command_code and status.
const ReplyHeaderSize = 3

// Reply is a decoded response header plus its undecoded tail.
type Reply struct {
	Type   CommandType
	Code   Command
	Status Status
	Body   []byte // bytes after the status byte
}

// OK reports a success status.
func (r *Reply) OK() bool { return r.Status == StatusSuccess }

// Err returns a *StatusError for a failed reply, nil otherwise.
func (r *Reply) Err() error {
	if r.OK() {
		return nil
	}
	return &StatusError{Code: r.Code, Status: r.Status}
}

// DecodeReply reads [command_type, command_code, status, ...].
// Anything past the header is left in Body for the subtype decoders.
func DecodeReply(pkt []byte) (*Reply, error) {
	if len(pkt) < ReplyHeaderSize {
		return nil, malformed("reply header", len(pkt), ReplyHeaderSize)
	}
	return &Reply{
		Type:   CommandType(pkt[0]),
		Code:   Command(pkt[1]),
		Status: Status(pkt[2]),
		Body:   pkt[ReplyHeaderSize:],
	}, nil
}

// ---- device info ----

const deviceNameSize = 15

// DeviceInfo is the GetDeviceInfo reply.
type DeviceInfo struct {
	Name             string
	BluetoothAddress [6]byte
	SignalStrength   uint32
	FreeFlash        uint32
}

// DecodeDeviceInfo decodes the name (NUL-terminated, at most 15 bytes, starting
// right after the header) and whatever of the trailing fields are present.
func DecodeDeviceInfo(r *Reply) (DeviceInfo, error) {
	var info DeviceInfo
	if r.Code != CmdGetDeviceInfo {
		return info, fmt.Errorf("%w: %s is not %s", ErrUnknownCommand, r.Code, CmdGetDeviceInfo)
	}
	b := r.Body

	name := b
	if len(name) > deviceNameSize {
		name = name[:deviceNameSize]
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	info.Name = string(name)

	// address is 7 bytes on the wire; the last one is always zero
	if len(b) >= deviceNameSize+7 {
		copy(info.BluetoothAddress[:], b[deviceNameSize:deviceNameSize+6])
	}
	if len(b) >= deviceNameSize+7+4 {
		info.SignalStrength = binary.LittleEndian.Uint32(b[22:26])
	}
	if len(b) >= deviceNameSize+7+8 {
		info.FreeFlash = binary.LittleEndian.Uint32(b[26:30])
	}
	return info, nil
}

// ---- poll length ----

// PollLength is the PollCommandLength reply.
type PollLength struct {
	Buffer byte
	Count  uint16
}

// DecodePollLength reads the buffer id and a little-endian count of one or two bytes.
func DecodePollLength(r *Reply) (PollLength, error) {
	b := r.Body
	if len(b) < 2 {
		return PollLength{}, malformed("poll length", len(b), 2)
	}
	out := PollLength{Buffer: b[0]}
	if len(b) >= 3 {
		out.Count = binary.LittleEndian.Uint16(b[1:3])
	} else {
		out.Count = uint16(b[1])
	}
	return out, nil
}

// ---- poll data ----

// PollData is the Poll reply: [buffer_id, length, data:length].
type PollData struct {
	Buffer byte
	Length byte
	Data   []byte
}

// DecodePollData reads the poll payload. Data shorter than the declared length is malformed.
func DecodePollData(r *Reply) (PollData, error) {
	b := r.Body
	if len(b) < 2 {
		return PollData{}, malformed("poll data header", len(b), 2)
	}
	n := int(b[1])
	if len(b)-2 < n {
		return PollData{}, malformed("poll data", len(b)-2, n)
	}
	return PollData{Buffer: b[0], Length: b[1], Data: b[2 : 2+n]}, nil
}

// ---- firmware / battery / keep alive ----

// FirmwareVersion is the GetFirmwareVersion reply.
type FirmwareVersion struct {
	ProtocolMajor, ProtocolMinor byte
	FirmwareMajor, FirmwareMinor byte
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("protocol %d.%d firmware %d.%02d", v.ProtocolMajor, v.ProtocolMinor, v.FirmwareMajor, v.FirmwareMinor)
}

func DecodeFirmwareVersion(r *Reply) (FirmwareVersion, error) {
	b := r.Body
	if len(b) < 4 {
		return FirmwareVersion{}, malformed("firmware version", len(b), 4)
	}
	return FirmwareVersion{
		ProtocolMinor: b[0],
		ProtocolMajor: b[1],
		FirmwareMinor: b[2],
		FirmwareMajor: b[3],
	}, nil
}

// DecodeBatteryLevel returns millivolts.
func DecodeBatteryLevel(r *Reply) (uint16, error) {
	if len(r.Body) < 2 {
		return 0, malformed("battery level", len(r.Body), 2)
	}
	return binary.LittleEndian.Uint16(r.Body[0:2]), nil
}

// DecodeKeepAlive returns the current sleep time limit in milliseconds.
func DecodeKeepAlive(r *Reply) (uint32, error) {
	if len(r.Body) < 4 {
		return 0, malformed("keep alive", len(r.Body), 4)
	}
	return binary.LittleEndian.Uint32(r.Body[0:4]), nil
}

// ---- spontaneous notifications ----

// NotificationHeaderSize covers type, code, mailbox and length.
const NotificationHeaderSize = 4

// Notification is a message the brick sends without being asked:
//
//	[command_type, command_code, mailbox, length, data:length]
type Notification struct {
	Code    Command
	Mailbox byte
	Data    []byte
}

// Text returns the data with its trailing NUL removed.
func (n Notification) Text() string {
	return string(bytes.TrimRight(n.Data, "\x00"))
}

// IsNotification reports whether a packet is a spontaneous direct/no-reply message.
func IsNotification(pkt []byte) bool {
	return len(pkt) >= 2 && CommandType(pkt[0]) == DirectNoReply
}

// DecodeNotification reads a spontaneous packet. A declared length past the end
// of the packet is clamped to the bytes present.
func DecodeNotification(pkt []byte) (Notification, error) {
	if len(pkt) < NotificationHeaderSize {
		return Notification{}, malformed("notification", len(pkt), NotificationHeaderSize)
	}
	if CommandType(pkt[0]) != DirectNoReply {
		return Notification{}, fmt.Errorf("%w: notification type %s", ErrUnknownCommand, CommandType(pkt[0]))
	}
	n := int(pkt[3])
	data := pkt[NotificationHeaderSize:]
	if n < len(data) {
		data = data[:n]
	}
	return Notification{
		Code:    Command(pkt[1]),
		Mailbox: pkt[2],
		Data:    data,
	}, nil
}
