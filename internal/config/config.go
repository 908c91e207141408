// internal/config/config.go
package config

type Config struct {
	Bridge BridgeConfig `yaml:"bridge"`
}

type BridgeConfig struct {
	Log                 LogConfig      `yaml:"log"`
	MetricsListen       string         `yaml:"metrics_listen"`
	ReconnectIntervalMs int            `yaml:"reconnect_interval_ms"`
	Devices             []DeviceConfig `yaml:"devices"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// ---- DEVICE ----

type DeviceConfig struct {
	ID        string `yaml:"id"`
	Transport string `yaml:"transport"` // bluetooth | usb | ip
	Endpoint  string `yaml:"endpoint"`

	Baud           int `yaml:"baud"`
	ReadTimeoutMs  int `yaml:"read_timeout_ms"`
	ReplyTimeoutMs int `yaml:"reply_timeout_ms"`
	ThrottleMs     int `yaml:"throttle_ms"`

	// Mailbox used for outbound message writes.
	Mailbox int `yaml:"mailbox"`

	IP        IPConfig        `yaml:"ip"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sinks     SinksConfig     `yaml:"sinks"`
}

type IPConfig struct {
	TCPPort      int    `yaml:"tcp_port"`
	HTTPPort     int    `yaml:"http_port"`
	PasswordFile string `yaml:"password_file"`
}

// ---- TELEMETRY ----

type TelemetryConfig struct {
	Enabled  *bool `yaml:"enabled"` // default true
	Buffer   int   `yaml:"buffer"`
	ReadSize int   `yaml:"read_size"`
	// 0 polls as fast as replies allow; unset means DefaultPollIntervalMs.
	DefaultIntervalMs *int `yaml:"default_interval_ms"`
}

// On reports whether polling is enabled.
func (t TelemetryConfig) On() bool {
	return t.Enabled == nil || *t.Enabled
}

// IntervalMs is the starting poll interval in milliseconds.
func (t TelemetryConfig) IntervalMs() int {
	if t.DefaultIntervalMs == nil {
		return DefaultPollIntervalMs
	}
	return *t.DefaultIntervalMs
}

// ---- SINKS ----

type SinksConfig struct {
	Modbus *ModbusSinkConfig `yaml:"modbus"`
	NATS   *NATSSinkConfig   `yaml:"nats"`
	Status *StatusSinkConfig `yaml:"status"`
}

type ModbusSinkConfig struct {
	TimeoutMs int           `yaml:"timeout_ms"`
	Sheets    []SheetTarget `yaml:"sheets"`
}

// SheetTarget maps one telemetry sheet to a holding register window.
type SheetTarget struct {
	Sheet     int    `yaml:"sheet"`
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	Address   uint16 `yaml:"address"`
	Registers uint16 `yaml:"registers"` // window size; encoded records are truncated to it
}

type NATSSinkConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// StatusSinkConfig places the device status block (opt-in).
type StatusSinkConfig struct {
	Endpoint   string `yaml:"endpoint"`
	UnitID     uint8  `yaml:"unit_id"`
	Slot       uint16 `yaml:"slot"`
	DeviceName string `yaml:"device_name"` // defaults to the device id
	TimeoutMs  int    `yaml:"timeout_ms"`
}
