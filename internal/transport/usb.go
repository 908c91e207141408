// internal/transport/usb.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/tamzrod/brickbridge/internal/protocol"
)

// Default USB identity of the brick.
const (
	DefaultVendorID  gousb.ID = 0x0694
	DefaultProductID gousb.ID = 0x0002
)

// USBAddress selects one device: vendor, product and an optional serial number.
type USBAddress struct {
	Vendor  gousb.ID
	Product gousb.ID
	Serial  string
}

func (a USBAddress) String() string {
	s := fmt.Sprintf("%04x:%04x", uint16(a.Vendor), uint16(a.Product))
	if a.Serial != "" {
		s += ":" + a.Serial
	}
	return s
}

// ParseUSBAddress parses "vvvv:pppp[:serial]" (hex ids). An empty string
// selects the default brick ids.
func ParseUSBAddress(s string) (USBAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return USBAddress{Vendor: DefaultVendorID, Product: DefaultProductID}, nil
	}
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return USBAddress{}, fmt.Errorf("transport: usb address %q: want vvvv:pppp[:serial]", s)
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return USBAddress{}, fmt.Errorf("transport: usb vendor id %q: %w", parts[0], err)
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return USBAddress{}, fmt.Errorf("transport: usb product id %q: %w", parts[1], err)
	}
	a := USBAddress{Vendor: gousb.ID(vid), Product: gousb.ID(pid)}
	if len(parts) == 3 {
		a.Serial = parts[2]
	}
	return a, nil
}

// USBConfig configures the USB transport.
type USBConfig struct {
	Address USBAddress
	Timeout time.Duration // per transfer
	Logger  *slog.Logger
}

// USB is the direct cable transport. Every completed IN transfer is one packet.
type USB struct {
	cfg USBConfig
	log *slog.Logger

	mu      sync.Mutex
	uctx    *gousb.Context
	dev     *gousb.Device
	release func()
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewUSB builds a closed USB transport.
func NewUSB(cfg USBConfig) *USB {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &USB{
		cfg: cfg,
		log: log.With("component", "transport", "kind", KindUSB, "endpoint", cfg.Address.String()),
	}
}

func (u *USB) Kind() Kind                { return KindUSB }
func (u *USB) Endpoint() string          { return u.cfg.Address.String() }
func (u *USB) Framing() protocol.Framing { return protocol.FramingPreFramed }

// pipeNumbers finds the first bulk or interrupt endpoint in each direction.
func pipeNumbers(setting gousb.InterfaceSetting) (in, out int, err error) {
	in, out = -1, -1
	for _, ep := range setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk && ep.TransferType != gousb.TransferTypeInterrupt {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn {
			if in < 0 || ep.Number < in {
				in = ep.Number
			}
		} else if out < 0 || ep.Number < out {
			out = ep.Number
		}
	}
	if in < 0 || out < 0 {
		return 0, 0, fmt.Errorf("no bulk/interrupt pipe pair on interface %d", setting.Number)
	}
	return in, out, nil
}

func (u *USB) openDevice(uctx *gousb.Context) (*gousb.Device, error) {
	a := u.cfg.Address
	devs, err := uctx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return d.Vendor == a.Vendor && d.Product == a.Product
	})
	var chosen *gousb.Device
	for _, d := range devs {
		if chosen == nil && (a.Serial == "" || serialOf(d) == a.Serial) {
			chosen = d
			continue
		}
		_ = d.Close()
	}
	if chosen == nil {
		if err != nil {
			return nil, err
		}
		return nil, errors.New("device not found")
	}
	return chosen, nil
}

func serialOf(d *gousb.Device) string {
	s, err := d.SerialNumber()
	if err != nil {
		return ""
	}
	return s
}

// Open claims the default interface, discovers the pipes and starts the receive loop.
func (u *USB) Open(ctx context.Context, rx Receiver) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	fail := func(err error) error {
		return &OpenError{Kind: KindUSB, Endpoint: u.Endpoint(), Err: err}
	}
	if u.dev != nil {
		return fail(ErrAlreadyOpen)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	uctx := gousb.NewContext()
	dev, err := u.openDevice(uctx)
	if err != nil {
		_ = uctx.Close()
		return fail(err)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		u.log.Debug("auto detach unavailable", "err", err)
	}

	intf, release, err := dev.DefaultInterface()
	if err != nil {
		_ = dev.Close()
		_ = uctx.Close()
		return fail(err)
	}

	cleanup := func() {
		release()
		_ = dev.Close()
		_ = uctx.Close()
	}

	inNum, outNum, err := pipeNumbers(intf.Setting)
	if err != nil {
		cleanup()
		return fail(err)
	}
	in, err := intf.InEndpoint(inNum)
	if err != nil {
		cleanup()
		return fail(err)
	}
	out, err := intf.OutEndpoint(outNum)
	if err != nil {
		cleanup()
		return fail(err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	u.uctx, u.dev, u.release = uctx, dev, release
	u.in, u.out = in, out
	u.cancel = cancel
	u.done = make(chan struct{})

	go u.receive(loopCtx, in, rx, u.done)

	u.log.Info("usb device open", "in", inNum, "out", outNum, "max_packet", in.Desc.MaxPacketSize)
	return nil
}

func (u *USB) receive(ctx context.Context, in *gousb.InEndpoint, rx Receiver, done chan struct{}) {
	defer close(done)

	size := in.Desc.MaxPacketSize
	if size <= 0 {
		size = 64
	}
	buf := make([]byte, size)

	for {
		// one outstanding read; the per-transfer context also cancels it on Close
		readCtx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
		n, err := in.ReadContext(readCtx, buf)
		timedOut := errors.Is(readCtx.Err(), context.DeadlineExceeded)
		cancel()

		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			rx.OnReplyBytes(pkt)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if timedOut || errors.Is(err, gousb.ErrorTimeout) {
				continue
			}
			u.log.Warn("usb read failed", "err", err)
			rx.OnTransportError(&IOError{Kind: KindUSB, Endpoint: u.Endpoint(), Op: "read", Err: err})
			return
		}
	}
}

// Send writes one pre-framed packet to the OUT pipe.
func (u *USB) Send(ctx context.Context, b []byte) error {
	u.mu.Lock()
	out := u.out
	u.mu.Unlock()
	if out == nil {
		return ErrNotOpen
	}

	wctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	if _, err := out.WriteContext(wctx, b); err != nil {
		return &IOError{Kind: KindUSB, Endpoint: u.Endpoint(), Op: "write", Err: err}
	}
	return nil
}

// Close cancels the outstanding IN transfer, waits for the loop and releases the device.
func (u *USB) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.dev == nil {
		return nil
	}
	u.cancel()
	<-u.done

	u.release()
	err := u.dev.Close()
	if cerr := u.uctx.Close(); err == nil {
		err = cerr
	}

	u.uctx, u.dev, u.release = nil, nil, nil
	u.in, u.out = nil, nil
	u.cancel, u.done = nil, nil

	u.log.Info("usb device closed")
	return err
}
