package config

import (
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/backkem/isogate/pkg/crypto"
	"github.com/backkem/isogate/pkg/discovery"
	"github.com/backkem/isogate/pkg/frame"
	"github.com/backkem/isogate/pkg/gateway"
	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/backkem/isogate/pkg/keys"
	"github.com/backkem/isogate/pkg/relay"
	"github.com/backkem/isogate/pkg/session"
	"github.com/backkem/isogate/pkg/transport"
	"github.com/pion/logging"
)

// Validate checks every value that can be checked without touching the
// network or the file system.
func (c *Config) Validate() error {
	role, err := relay.ParseRole(c.Role)
	if err != nil {
		return err
	}
	if _, err := frame.ParsePrefix(c.Listen.Prefix); err != nil {
		return err
	}
	if (c.Listen.TLSCert == "") != (c.Listen.TLSKey == "") {
		return fmt.Errorf("config: listen.tls_cert and listen.tls_key must be set together")
	}
	if _, err := c.Cipher(); err != nil {
		return err
	}
	if _, err := decodeHex("keys.csk", c.Keys.CSK); err != nil {
		return err
	}
	if _, err := crypto.ParseDigest(c.Keys.Digest); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := c.Obscurer(); err != nil {
		return err
	}
	if _, err := c.NIIMap(); err != nil {
		return err
	}

	if len(c.Pools) == 0 && c.Destination.Address == "" {
		return ErrNoDestination
	}
	if _, err := frame.ParsePrefix(c.Destination.Prefix); err != nil {
		return err
	}
	for _, p := range c.Pools {
		if p.NII < 0 || p.NII > iso8583.MaxNII {
			return fmt.Errorf("%w: pool %d", ErrInvalidNII, p.NII)
		}
		if p.Address == "" {
			return fmt.Errorf("config: pool %d: %w", p.NII, transport.ErrInvalidAddress)
		}
		if _, err := frame.ParsePrefix(p.Prefix); err != nil {
			return err
		}
	}
	if role == relay.RoleClient && c.Relay.ClientID == "" {
		return relay.ErrNoClientID
	}
	return nil
}

func decodeHex(name, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHex, name, err)
	}
	return b, nil
}

// RelayRole returns the parsed role.
func (c *Config) RelayRole() relay.Role {
	r, _ := relay.ParseRole(c.Role)
	return r
}

// Cipher returns the configured cipher with the master key.
func (c *Config) Cipher() (crypto.CipherConfig, error) {
	alg, err := crypto.ParseAlgorithm(c.Keys.Algorithm)
	if err != nil {
		return crypto.CipherConfig{}, err
	}
	mode, err := crypto.ParseMode(c.Keys.Mode)
	if err != nil {
		return crypto.CipherConfig{}, err
	}
	master, err := decodeHex("keys.master", c.Keys.Master)
	if err != nil {
		return crypto.CipherConfig{}, err
	}
	iv, err := decodeHex("keys.iv", c.Keys.IV)
	if err != nil {
		return crypto.CipherConfig{}, err
	}
	cc := crypto.CipherConfig{Algorithm: alg, Mode: mode, Key: master, IV: iv}
	if err := cc.Validate(); err != nil {
		return crypto.CipherConfig{}, err
	}
	return cc, nil
}

// KeyManager builds the session key table.
func (c *Config) KeyManager(lf logging.LoggerFactory) (*keys.Manager, error) {
	cc, err := c.Cipher()
	if err != nil {
		return nil, err
	}
	digest, err := crypto.ParseDigest(c.Keys.Digest)
	if err != nil {
		return nil, err
	}
	csk, err := decodeHex("keys.csk", c.Keys.CSK)
	if err != nil {
		return nil, err
	}
	var lookup keys.KEKLookup
	if c.Keys.DerivedKEK {
		lookup = keys.DerivedKEKLookup(cc.Key)
	}
	return keys.NewManager(keys.ManagerConfig{
		Cipher:        cc,
		Digest:        digest,
		DefaultCSK:    csk,
		RotationCount: c.Keys.RotationCount,
		KEKLookup:     lookup,
		LoggerFactory: lf,
	})
}

// Codec builds the envelope codec over a new key table.
func (c *Config) Codec(version string, lf logging.LoggerFactory) (*session.Codec, error) {
	km, err := c.KeyManager(lf)
	if err != nil {
		return nil, err
	}
	var adminKey []byte
	if c.Keys.AdminPassphrase != "" {
		adminKey = session.AdminKey(c.Keys.AdminPassphrase, km.Cipher().Algorithm)
	}
	return session.NewCodec(session.CodecConfig{
		Keys:          km,
		AdminKey:      adminKey,
		AdminWindow:   c.Keys.AdminWindow,
		ClientVersion: version,
		LoggerFactory: lf,
	})
}

// Template returns the field template named by relay.template.
func (c *Config) Template() (*iso8583.Template, error) {
	return iso8583.LookupTemplate(c.Relay.Template)
}

// Obscurer returns the configured obscuring strategy, or nil.
func (c *Config) Obscurer() (iso8583.Obscurer, error) {
	o := c.Relay.Obscure
	switch strings.ToLower(o.Strategy) {
	case "":
		return nil, nil
	case "tlv":
		return iso8583.ReplacedByEncryptedData{Carrier: o.Carrier}, nil
	case "simple":
		return iso8583.ReplacedByEncryptedDataSimple{Carrier: o.Carrier}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, o.Strategy)
}

// NIIMap converts relay.nii_map into NII numbers.
func (c *Config) NIIMap() (map[int]int, error) {
	if len(c.Relay.NIIMap) == 0 {
		return nil, nil
	}
	out := make(map[int]int, len(c.Relay.NIIMap))
	for k, v := range c.Relay.NIIMap {
		from, err := strconv.Atoi(k)
		if err != nil || from < 0 || from > iso8583.MaxNII {
			return nil, fmt.Errorf("%w: nii_map key %q", ErrInvalidNII, k)
		}
		if v < 0 || v > iso8583.MaxNII {
			return nil, fmt.Errorf("%w: nii_map value %d", ErrInvalidNII, v)
		}
		out[from] = v
	}
	return out, nil
}

// RelayConfig builds the relay template shared by every connection. The
// upstream is left for the gateway to fill in.
func (c *Config) RelayConfig(codec *session.Codec, lf logging.LoggerFactory) (relay.Config, error) {
	tmpl, err := c.Template()
	if err != nil {
		return relay.Config{}, err
	}
	obscurer, err := c.Obscurer()
	if err != nil {
		return relay.Config{}, err
	}
	niiMap, err := c.NIIMap()
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		Role:              c.RelayRole(),
		Codec:             codec,
		Template:          tmpl,
		Obscurer:          obscurer,
		ObscureFields:     c.Relay.Obscure.Fields,
		NIIMap:            niiMap,
		Timeout:           c.Relay.Timeout,
		UpstreamTimeout:   c.Relay.UpstreamTimeout,
		TerminateOnError:  c.Relay.TerminateOnError,
		TolerateMalformed: c.Relay.TolerateMalformed,
		ResponseCode:      c.Relay.ResponseCode,
		ClientID:          c.Relay.ClientID,
		MerchantID:        c.Relay.MerchantID,
		FetchKEK:          c.Relay.FetchKEK,
		LoggerFactory:     lf,
	}, nil
}

func (c *Config) destinationTLS(enabled bool) *tls.Config {
	if !enabled {
		return nil
	}
	return &tls.Config{
		ServerName:         c.Destination.ServerName,
		InsecureSkipVerify: c.Destination.InsecureSkipVerify,
	}
}

// DialConfig returns the dedicated destination settings.
func (c *Config) DialConfig() (transport.DialConfig, error) {
	prefix, err := frame.ParsePrefix(c.Destination.Prefix)
	if err != nil {
		return transport.DialConfig{}, err
	}
	return transport.DialConfig{
		Address: c.Destination.Address,
		Prefix:  prefix,
		Timeout: c.Destination.DialTimeout,
		TLS:     c.destinationTLS(c.Destination.TLS),
	}, nil
}

// PoolManager builds one pool per configured NII. Pools are not started.
func (c *Config) PoolManager(lf logging.LoggerFactory) (*relay.PoolManager, error) {
	if len(c.Pools) == 0 {
		return nil, nil
	}
	pools := append([]PoolConfig(nil), c.Pools...)
	sort.Slice(pools, func(i, j int) bool { return pools[i].NII < pools[j].NII })

	m := relay.NewPoolManager()
	for _, pc := range pools {
		prefix, err := frame.ParsePrefix(pc.Prefix)
		if err != nil {
			return nil, err
		}
		p, err := relay.NewPool(relay.PoolConfig{
			NII: pc.NII,
			Dial: relay.TransportDialer(transport.DialConfig{
				Address: pc.Address,
				Prefix:  prefix,
				Timeout: c.Destination.DialTimeout,
				TLS:     c.destinationTLS(pc.TLS),
			}),
			ReconnectInterval: pc.ReconnectInterval,
			LogEvery:          pc.LogEvery,
			LoggerFactory:     lf,
		})
		if err != nil {
			return nil, err
		}
		if err := m.Add(p); err != nil {
			return nil, fmt.Errorf("%w: %d", err, pc.NII)
		}
	}
	return m, nil
}

// ListenTLS loads the listener certificate, or returns nil without one.
func (c *Config) ListenTLS() (*tls.Config, error) {
	if c.Listen.TLSCert == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.Listen.TLSCert, c.Listen.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("config: listen tls: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// AdvertiserConfig returns the mDNS settings, or false when disabled.
func (c *Config) AdvertiserConfig(port int, lf logging.LoggerFactory) (discovery.AdvertiserConfig, bool) {
	if !c.Discovery.Enabled {
		return discovery.AdvertiserConfig{}, false
	}
	return discovery.AdvertiserConfig{
		Instance:      c.Discovery.Instance,
		Port:          port,
		LoggerFactory: lf,
	}, true
}

// GatewayConfig assembles the gateway: codec, relay template, pools or
// dedicated destination, listener and admin switch. Discovery and the log
// sink are left to the caller.
func (c *Config) GatewayConfig(version string, lf logging.LoggerFactory) (gateway.Config, error) {
	codec, err := c.Codec(version, lf)
	if err != nil {
		return gateway.Config{}, err
	}
	rc, err := c.RelayConfig(codec, lf)
	if err != nil {
		return gateway.Config{}, err
	}
	prefix, err := frame.ParsePrefix(c.Listen.Prefix)
	if err != nil {
		return gateway.Config{}, err
	}
	listenTLS, err := c.ListenTLS()
	if err != nil {
		return gateway.Config{}, err
	}
	pools, err := c.PoolManager(lf)
	if err != nil {
		return gateway.Config{}, err
	}
	gc := gateway.Config{
		ListenAddr:    c.Listen.Address,
		TLS:           listenTLS,
		Prefix:        prefix,
		Relay:         rc,
		Pools:         pools,
		Admin:         c.Admin,
		Version:       version,
		LoggerFactory: lf,
	}
	if pools == nil {
		if gc.Destination, err = c.DialConfig(); err != nil {
			return gateway.Config{}, err
		}
	}
	return gc, nil
}

// ParseLevel parses a pion log level name.
func ParseLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "", "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}
