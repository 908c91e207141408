// internal/config/normalize.go
package config

import "github.com/tamzrod/brickbridge/internal/status"

const (
	DefaultReconnectIntervalMs = 5000
	DefaultBaud                = 115200
	DefaultReadTimeoutMs       = 100
	DefaultReplyTimeoutMs      = 1000
	DefaultThrottleMs          = 10
	DefaultTCPPort             = 5000
	DefaultHTTPPort            = 80
	DefaultPasswordFile        = "~/.brickbridge/password"
	DefaultPollIntervalMs      = 30
	DefaultReadSize            = 64
	DefaultSinkTimeoutMs       = 1000
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	b := &cfg.Bridge

	if b.Log.Level == "" {
		b.Log.Level = "info"
	}
	if b.Log.Format == "" {
		b.Log.Format = "text"
	}
	if b.ReconnectIntervalMs == 0 {
		b.ReconnectIntervalMs = DefaultReconnectIntervalMs
	}

	for i := range b.Devices {
		d := &b.Devices[i]

		setDefault(&d.Baud, DefaultBaud)
		setDefault(&d.ReadTimeoutMs, DefaultReadTimeoutMs)
		setDefault(&d.ReplyTimeoutMs, DefaultReplyTimeoutMs)
		setDefault(&d.ThrottleMs, DefaultThrottleMs)

		setDefault(&d.IP.TCPPort, DefaultTCPPort)
		setDefault(&d.IP.HTTPPort, DefaultHTTPPort)
		if d.IP.PasswordFile == "" {
			d.IP.PasswordFile = DefaultPasswordFile
		}

		if d.Telemetry.Enabled == nil {
			on := true
			d.Telemetry.Enabled = &on
		}
		setDefault(&d.Telemetry.ReadSize, DefaultReadSize)
		if d.Telemetry.DefaultIntervalMs == nil {
			ms := DefaultPollIntervalMs
			d.Telemetry.DefaultIntervalMs = &ms
		}

		if m := d.Sinks.Modbus; m != nil {
			setDefault(&m.TimeoutMs, DefaultSinkTimeoutMs)
		}

		if s := d.Sinks.Status; s != nil {
			setDefault(&s.TimeoutMs, DefaultSinkTimeoutMs)
			if s.DeviceName == "" {
				s.DeviceName = d.ID
			}
			// Truncate to the name slots; ASCII already validated.
			if len(s.DeviceName) > status.DeviceNameMaxChars {
				s.DeviceName = s.DeviceName[:status.DeviceNameMaxChars]
			}
		}
	}
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
