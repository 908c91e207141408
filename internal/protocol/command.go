// internal/protocol/command.go
package protocol

import "fmt"

// CommandType is the first opcode byte of every packet.
type CommandType byte

const (
	DirectReply   CommandType = 0x00 // direct command, reply required
	SystemReply   CommandType = 0x01 // system command, reply required
	ReplyPacket   CommandType = 0x02 // reply from the brick
	DirectNoReply CommandType = 0x80 // direct command, no reply
	SystemNoReply CommandType = 0x81 // system command, no reply
)

// ReplyRequired reports whether a request of this type expects an answer.
func (t CommandType) ReplyRequired() bool {
	return t == DirectReply || t == SystemReply
}

func (t CommandType) String() string {
	switch t {
	case DirectReply:
		return "direct"
	case SystemReply:
		return "system"
	case ReplyPacket:
		return "reply"
	case DirectNoReply:
		return "direct-noreply"
	case SystemNoReply:
		return "system-noreply"
	default:
		return fmt.Sprintf("type(0x%02x)", byte(t))
	}
}

// Command is the second opcode byte.
type Command byte

// Direct commands.
const (
	CmdStartProgram    Command = 0x00
	CmdStopProgram     Command = 0x01
	CmdPlayTone        Command = 0x03
	CmdMessageWrite    Command = 0x09
	CmdGetBatteryLevel Command = 0x0B
	CmdKeepAlive       Command = 0x0D
)

// System commands.
const (
	CmdGetFirmwareVersion Command = 0x88
	CmdGetDeviceInfo      Command = 0x9B
	CmdPollLength         Command = 0xA1
	CmdPoll               Command = 0xA2
)

var commandNames = map[Command]string{
	CmdStartProgram:       "start_program",
	CmdStopProgram:        "stop_program",
	CmdPlayTone:           "play_tone",
	CmdMessageWrite:       "message_write",
	CmdGetBatteryLevel:    "get_battery_level",
	CmdKeepAlive:          "keep_alive",
	CmdGetFirmwareVersion: "get_firmware_version",
	CmdGetDeviceInfo:      "get_device_info",
	CmdPollLength:         "poll_length",
	CmdPoll:               "poll",
}

// Known reports whether the command has a decoder in this package.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("cmd(0x%02x)", byte(c))
}

// Status is the third byte of a reply. Zero is success.
type Status byte

const StatusSuccess Status = 0x00

var statusNames = map[Status]string{
	0x20: "pending communication transaction in progress",
	0x40: "mailbox queue is empty",
	0x81: "no more handles",
	0x82: "no space",
	0x83: "no more files",
	0x84: "end of file expected",
	0x85: "end of file",
	0x86: "not a linear file",
	0x87: "file not found",
	0x88: "handle already closed",
	0x89: "no linear space",
	0x8A: "undefined error",
	0x8B: "file is busy",
	0x8C: "no write buffers",
	0x8D: "append not possible",
	0x8E: "file is full",
	0x8F: "file exists",
	0x90: "module not found",
	0x91: "out of boundary",
	0x92: "illegal file name",
	0x93: "illegal handle",
	0xBD: "request failed",
	0xBE: "unknown command opcode",
	0xBF: "insane packet",
	0xC0: "data contains out-of-range values",
	0xDD: "communication bus error",
	0xDE: "no free memory in communication buffer",
	0xDF: "channel or connection not valid",
	0xE0: "channel or connection not configured or busy",
	0xEC: "no active program",
	0xED: "illegal size specified",
	0xEE: "illegal mailbox queue id",
	0xEF: "invalid field of a structure",
	0xF0: "bad input or output specified",
	0xFB: "insufficient memory available",
	0xFF: "bad arguments",
}

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(0x%02x)", byte(s))
}
