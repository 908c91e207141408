// internal/sink/builder.go
package sink

import (
	"errors"
	"time"

	cfg "github.com/tamzrod/brickbridge/internal/config"
	smodbus "github.com/tamzrod/brickbridge/internal/sink/modbus"
)

type natsConn interface {
	Publisher
	Subscriber
	Close()
}

var dialNATS = func(url, name string, timeout time.Duration) (natsConn, error) {
	return ConnectNATS(url, name, timeout)
}

// Set is everything one device delivers to.
// Records, Notifications and Status are nil when not configured.
type Set struct {
	Records       RecordSink
	Notifications NotificationSink
	Status        StatusWriter

	inbox   func(fn func(text string)) error
	closers []func() error
}

// SubscribeInbox delivers text published for the device mailbox to fn.
// It is a no-op when no NATS sink is configured.
func (s *Set) SubscribeInbox(fn func(text string)) error {
	if s == nil || s.inbox == nil {
		return nil
	}
	return s.inbox(fn)
}

// Close releases every client the set opened.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, fn := range s.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Build creates the sinks for one device.
// Assumes config has already passed validation and normalization.
func Build(d cfg.DeviceConfig) (*Set, error) {
	set := &Set{}

	clients, closeClients, err := buildEndpointClients(d.Sinks)
	if err != nil {
		return nil, err
	}
	set.closers = append(set.closers, closeClients)

	var fan Fanout

	if m := d.Sinks.Modbus; m != nil && len(m.Sheets) > 0 {
		windows := make([]SheetWindow, 0, len(m.Sheets))
		for _, st := range m.Sheets {
			windows = append(windows, SheetWindow{
				Sheet:     st.Sheet,
				Endpoint:  st.Endpoint,
				UnitID:    st.UnitID,
				Address:   st.Address,
				Registers: st.Registers,
			})
		}
		fan = append(fan, NewRegisterSink(windows, clients))
	}

	if n := d.Sinks.NATS; n != nil {
		nc, err := dialNATS(n.URL, "brickbridge-"+d.ID, 5*time.Second)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		set.closers = append(set.closers, func() error { nc.Close(); return nil })
		ns := NewNATSSink(nc, n.Subject)
		fan = append(fan, ns)
		set.Notifications = ns
		subject, id := n.Subject, d.ID
		set.inbox = func(fn func(string)) error { return SubscribeInbox(nc, subject, id, fn) }
	}

	switch len(fan) {
	case 0:
	case 1:
		set.Records = fan[0]
	default:
		set.Records = fan
	}

	if st := d.Sinks.Status; st != nil {
		sw, err := NewStatusWriter(StatusTarget{
			Endpoint:   st.Endpoint,
			UnitID:     st.UnitID,
			Slot:       st.Slot,
			DeviceName: st.DeviceName,
		}, clients)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		set.Status = sw
	}

	return set, nil
}

// buildEndpointClients creates one Modbus TCP client per unique endpoint.
func buildEndpointClients(s cfg.SinksConfig) (map[string]endpointClient, func() error, error) {
	timeouts := map[string]int{}
	if m := s.Modbus; m != nil {
		for _, st := range m.Sheets {
			if _, ok := timeouts[st.Endpoint]; !ok {
				timeouts[st.Endpoint] = m.TimeoutMs
			}
		}
	}
	if st := s.Status; st != nil {
		if _, ok := timeouts[st.Endpoint]; !ok {
			timeouts[st.Endpoint] = st.TimeoutMs
		}
	}

	clients := make(map[string]endpointClient, len(timeouts))
	var closers []func() error

	closeAll := func() error {
		var errs []error
		for _, fn := range closers {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for endpoint, ms := range timeouts {
		c, err := smodbus.NewEndpointClient(smodbus.Config{
			Endpoint: endpoint,
			Timeout:  time.Duration(ms) * time.Millisecond,
		})
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		clients[endpoint] = c
		closers = append(closers, c.Close)
	}

	return clients, closeAll, nil
}
