// Package config loads the gateway configuration from YAML files and
// ISOGATE_* environment variables and converts it into component configs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: relay.client_id is read from
// ISOGATE_RELAY_CLIENT_ID.
const EnvPrefix = "ISOGATE"

// Config errors.
var (
	// ErrInvalidHex is returned for a key or IV that is not hex.
	ErrInvalidHex = errors.New("config: invalid hex value")

	// ErrInvalidLevel is returned for an unknown log level.
	ErrInvalidLevel = errors.New("config: invalid log level")

	// ErrInvalidStrategy is returned for an unknown obscuring strategy.
	ErrInvalidStrategy = errors.New("config: invalid obscure strategy")

	// ErrInvalidNII is returned for a network identifier outside 0-9999.
	ErrInvalidNII = errors.New("config: invalid NII")

	// ErrNoDestination is returned when neither a destination nor pools
	// are configured.
	ErrNoDestination = errors.New("config: destination address or pools required")
)

// Config is the complete gateway configuration.
type Config struct {
	Role        string            `mapstructure:"role" yaml:"role"`
	Listen      ListenConfig      `mapstructure:"listen" yaml:"listen"`
	Destination DestinationConfig `mapstructure:"destination" yaml:"destination"`
	Pools       []PoolConfig      `mapstructure:"pools" yaml:"pools"`
	Keys        KeysConfig        `mapstructure:"keys" yaml:"keys"`
	Relay       RelayConfig       `mapstructure:"relay" yaml:"relay"`
	Admin       bool              `mapstructure:"admin" yaml:"admin"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery" yaml:"discovery"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// ListenConfig is the source side listener.
type ListenConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix"`
	TLSCert string `mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key" yaml:"tls_key"`
}

// DestinationConfig is the dedicated destination dialled per connection.
type DestinationConfig struct {
	Address            string        `mapstructure:"address" yaml:"address"`
	Prefix             string        `mapstructure:"prefix" yaml:"prefix"`
	TLS                bool          `mapstructure:"tls" yaml:"tls"`
	ServerName         string        `mapstructure:"server_name" yaml:"server_name"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// PoolConfig is one permanent destination connection.
type PoolConfig struct {
	NII               int           `mapstructure:"nii" yaml:"nii"`
	Address           string        `mapstructure:"address" yaml:"address"`
	Prefix            string        `mapstructure:"prefix" yaml:"prefix"`
	TLS               bool          `mapstructure:"tls" yaml:"tls"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" yaml:"reconnect_interval"`
	LogEvery          int           `mapstructure:"log_every" yaml:"log_every"`
}

// KeysConfig configures the cipher and the session key table. Keys are
// hex strings.
type KeysConfig struct {
	Algorithm       string        `mapstructure:"algorithm" yaml:"algorithm"`
	Mode            string        `mapstructure:"mode" yaml:"mode"`
	Digest          string        `mapstructure:"digest" yaml:"digest"`
	Master          string        `mapstructure:"master" yaml:"master"`
	IV              string        `mapstructure:"iv" yaml:"iv"`
	CSK             string        `mapstructure:"csk" yaml:"csk"`
	RotationCount   int           `mapstructure:"rotation_count" yaml:"rotation_count"`
	DerivedKEK      bool          `mapstructure:"derived_kek" yaml:"derived_kek"`
	AdminPassphrase string        `mapstructure:"admin_passphrase" yaml:"admin_passphrase"`
	AdminWindow     time.Duration `mapstructure:"admin_window" yaml:"admin_window"`
}

// RelayConfig configures every connection's relay.
type RelayConfig struct {
	Template          string         `mapstructure:"template" yaml:"template"`
	Timeout           time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	UpstreamTimeout   time.Duration  `mapstructure:"upstream_timeout" yaml:"upstream_timeout"`
	TerminateOnError  bool           `mapstructure:"terminate_on_error" yaml:"terminate_on_error"`
	TolerateMalformed bool           `mapstructure:"tolerate_malformed" yaml:"tolerate_malformed"`
	ResponseCode      string         `mapstructure:"response_code" yaml:"response_code"`
	ClientID          string         `mapstructure:"client_id" yaml:"client_id"`
	MerchantID        string         `mapstructure:"merchant_id" yaml:"merchant_id"`
	FetchKEK          bool           `mapstructure:"fetch_kek" yaml:"fetch_kek"`
	NIIMap            map[string]int `mapstructure:"nii_map" yaml:"nii_map"`
	Obscure           ObscureConfig  `mapstructure:"obscure" yaml:"obscure"`
}

// ObscureConfig selects the fields moved into an encrypted carrier.
type ObscureConfig struct {
	// Strategy is "tlv" or "simple". Empty disables obscuring.
	Strategy string `mapstructure:"strategy" yaml:"strategy"`
	Carrier  int    `mapstructure:"carrier" yaml:"carrier"`
	Fields   []int  `mapstructure:"fields" yaml:"fields"`
}

// DiscoveryConfig configures the mDNS advertisement.
type DiscoveryConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Instance string `mapstructure:"instance" yaml:"instance"`
}

// LogConfig configures logging and the log sink.
type LogConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Capacity int    `mapstructure:"capacity" yaml:"capacity"`
}

// SetDefaults registers the default values on v. Every scalar key gets a
// default so that AutomaticEnv can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("role", "server")
	v.SetDefault("listen.address", ":8583")
	v.SetDefault("listen.prefix", "binary")
	v.SetDefault("listen.tls_cert", "")
	v.SetDefault("listen.tls_key", "")
	v.SetDefault("destination.address", "")
	v.SetDefault("destination.prefix", "binary")
	v.SetDefault("destination.tls", false)
	v.SetDefault("destination.server_name", "")
	v.SetDefault("destination.insecure_skip_verify", false)
	v.SetDefault("destination.dial_timeout", 10*time.Second)
	v.SetDefault("keys.algorithm", "3des")
	v.SetDefault("keys.mode", "cbc")
	v.SetDefault("keys.digest", "sha256")
	v.SetDefault("keys.master", "")
	v.SetDefault("keys.iv", "")
	v.SetDefault("keys.csk", "")
	v.SetDefault("keys.rotation_count", 0)
	v.SetDefault("keys.derived_kek", false)
	v.SetDefault("keys.admin_passphrase", "")
	v.SetDefault("keys.admin_window", time.Duration(0))
	v.SetDefault("relay.template", "standard")
	v.SetDefault("relay.timeout", time.Duration(0))
	v.SetDefault("relay.upstream_timeout", 30*time.Second)
	v.SetDefault("relay.terminate_on_error", false)
	v.SetDefault("relay.tolerate_malformed", false)
	v.SetDefault("relay.response_code", "96")
	v.SetDefault("relay.client_id", "")
	v.SetDefault("relay.merchant_id", "")
	v.SetDefault("relay.fetch_kek", false)
	v.SetDefault("relay.obscure.strategy", "")
	v.SetDefault("relay.obscure.carrier", 62)
	v.SetDefault("admin", false)
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.instance", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.capacity", 1000)
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the YAML file at path (optional) and the environment into a
// validated Config.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
