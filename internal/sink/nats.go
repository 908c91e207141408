// internal/sink/nats.go
package sink

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/telemetry"
)

// Publisher is the part of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subscriber is the part of *nats.Conn the mailbox inbox needs.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSSink publishes payload records as JSON to <subject>.<device>.<sheet>
// and brick notifications to <subject>.<device>.notify.
type NATSSink struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: strings.TrimSuffix(subject, "."), now: time.Now}
}

type natsValue struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
	Text  string `json:"text"`
}

type natsMessage struct {
	Device         string      `json:"device"`
	Sheet          int         `json:"sheet"`
	At             time.Time   `json:"at"`
	EndOfRecordset bool        `json:"end_of_recordset"`
	Values         []natsValue `json:"values"`
}

func (s *NATSSink) WriteRecord(deviceID string, rec telemetry.Record) error {
	if rec.Meta {
		return nil
	}

	msg := natsMessage{
		Device:         deviceID,
		Sheet:          rec.Sheet,
		At:             s.now().UTC(),
		EndOfRecordset: rec.EndOfRecordset,
		Values:         make([]natsValue, 0, len(rec.Data)),
	}
	for _, d := range rec.Data {
		msg.Values = append(msg.Values, natsValue{Type: d.Type.String(), Value: d.Value(), Text: d.String()})
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("nats sink: marshal: %w", err)
	}
	subj := s.Subject(deviceID, rec.Sheet)
	if err := s.pub.Publish(subj, b); err != nil {
		return fmt.Errorf("nats sink: publish %s: %w", subj, err)
	}
	return nil
}

type natsNotification struct {
	Device  string    `json:"device"`
	At      time.Time `json:"at"`
	Code    string    `json:"code"`
	Mailbox byte      `json:"mailbox"`
	Text    string    `json:"text"`
}

// WriteNotification publishes a spontaneous brick message.
func (s *NATSSink) WriteNotification(deviceID string, n protocol.Notification) error {
	b, err := json.Marshal(natsNotification{
		Device:  deviceID,
		At:      s.now().UTC(),
		Code:    n.Code.String(),
		Mailbox: n.Mailbox,
		Text:    n.Text(),
	})
	if err != nil {
		return fmt.Errorf("nats sink: marshal: %w", err)
	}
	subj := s.subject + "." + subjectToken(deviceID) + ".notify"
	if err := s.pub.Publish(subj, b); err != nil {
		return fmt.Errorf("nats sink: publish %s: %w", subj, err)
	}
	return nil
}

// InboxSubject is where text destined for a device's mailbox is received.
func InboxSubject(subject, deviceID string) string {
	return strings.TrimSuffix(subject, ".") + "." + subjectToken(deviceID) + ".mailbox"
}

// SubscribeInbox delivers every message on the device inbox subject to fn.
func SubscribeInbox(sub Subscriber, subject, deviceID string, fn func(text string)) error {
	subj := InboxSubject(subject, deviceID)
	if _, err := sub.Subscribe(subj, func(m *nats.Msg) { fn(string(m.Data)) }); err != nil {
		return fmt.Errorf("nats sink: subscribe %s: %w", subj, err)
	}
	return nil
}

// Subject returns the subject a record for deviceID and sheet goes to.
func (s *NATSSink) Subject(deviceID string, sheet int) string {
	return s.subject + "." + subjectToken(deviceID) + "." + strconv.Itoa(sheet)
}

// subjectToken replaces characters NATS treats as separators or wildcards.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

// ConnectNATS dials a NATS server for the record sink.
func ConnectNATS(url, name string, timeout time.Duration) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats sink: connect %s: %w", url, err)
	}
	return nc, nil
}
