package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backkem/isogate/pkg/crypto"
	"github.com/backkem/isogate/pkg/frame"
	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/backkem/isogate/pkg/relay"
	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const master3DES = "0123456789abcdeffedcba9876543210"

const serverYAML = `
role: server
listen:
  address: 127.0.0.1:9000
  prefix: bcd
keys:
  algorithm: 3des
  mode: cbc
  master: ` + master3DES + `
  csk: 5c5c5c5c5c5c5c5c5c5c5c5c5c5c5c5c
  rotation_count: 50
  admin_passphrase: secret
pools:
  - nii: 12
    address: 10.0.0.1:7000
    reconnect_interval: 2s
  - nii: 3
    address: 10.0.0.2:7000
    prefix: ascii4
relay:
  template: ascii
  upstream_timeout: 15s
  nii_map:
    "12": 13
  obscure:
    strategy: simple
    fields: [2, 35]
admin: true
log:
  level: debug
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "isogate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadServerConfig(t *testing.T) {
	c, err := Load(writeFile(t, serverYAML))
	require.NoError(t, err)

	assert.Equal(t, relay.RoleServer, c.RelayRole())
	assert.Equal(t, "127.0.0.1:9000", c.Listen.Address)
	assert.Equal(t, 15*time.Second, c.Relay.UpstreamTimeout)
	assert.Equal(t, "96", c.Relay.ResponseCode)
	assert.Equal(t, 62, c.Relay.Obscure.Carrier)
	assert.Equal(t, []int{2, 35}, c.Relay.Obscure.Fields)
	require.Len(t, c.Pools, 2)
	assert.Equal(t, 2*time.Second, c.Pools[0].ReconnectInterval)

	cc, err := c.Cipher()
	require.NoError(t, err)
	assert.Equal(t, crypto.AlgorithmTripleDES, cc.Algorithm)
	assert.Equal(t, crypto.ModeCBC, cc.Mode)
	assert.Len(t, cc.Key, 16)

	m, err := c.NIIMap()
	require.NoError(t, err)
	assert.Equal(t, map[int]int{12: 13}, m)

	o, err := c.Obscurer()
	require.NoError(t, err)
	assert.Equal(t, iso8583.ReplacedByEncryptedDataSimple{Carrier: 62}, o)

	level, err := ParseLevel(c.Log.Level)
	require.NoError(t, err)
	assert.Equal(t, logging.LogLevelDebug, level)

	gc, err := c.GatewayConfig("test", nil)
	require.NoError(t, err)
	assert.Equal(t, frame.PrefixBCD, gc.Prefix)
	assert.True(t, gc.Admin)
	require.NotNil(t, gc.Pools)
	assert.Equal(t, []int{3, 12}, gc.Pools.NIIs())
	assert.Equal(t, "ascii", gc.Relay.Template.Name())
	assert.Equal(t, map[int]int{12: 13}, gc.Relay.NIIMap)
	require.NotNil(t, gc.Relay.Codec)
	assert.Equal(t, crypto.AlgorithmTripleDES, gc.Relay.Codec.Keys().Cipher().Algorithm)
	assert.IsType(t, iso8583.ReplacedByEncryptedDataSimple{}, gc.Relay.Obscurer)
	require.NoError(t, gc.Pools.Close())
}

func TestLoadClientConfigFromEnv(t *testing.T) {
	t.Setenv("ISOGATE_ROLE", "client")
	t.Setenv("ISOGATE_RELAY_CLIENT_ID", "T0042")
	t.Setenv("ISOGATE_KEYS_MASTER", master3DES)
	t.Setenv("ISOGATE_DESTINATION_ADDRESS", "gateway.example:8583")
	t.Setenv("ISOGATE_RELAY_FETCH_KEK", "true")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, relay.RoleClient, c.RelayRole())
	assert.Equal(t, "T0042", c.Relay.ClientID)
	assert.True(t, c.Relay.FetchKEK)

	gc, err := c.GatewayConfig("test", nil)
	require.NoError(t, err)
	assert.Nil(t, gc.Pools)
	assert.Equal(t, "gateway.example:8583", gc.Destination.Address)
	assert.Equal(t, frame.PrefixBinary, gc.Destination.Prefix)
	assert.Equal(t, 10*time.Second, gc.Destination.Timeout)
	assert.Nil(t, gc.Destination.TLS)
	assert.Equal(t, relay.RoleClient, gc.Relay.Role)
	assert.Equal(t, "standard", gc.Relay.Template.Name())
	assert.Equal(t, ":8583", gc.ListenAddr)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		v := New()
		v.Set("keys.master", master3DES)
		v.Set("destination.address", "host:1")
		c, err := FromViper(v)
		require.NoError(t, err)
		return c
	}

	tests := []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"role", func(c *Config) { c.Role = "proxy" }, "invalid role"},
		{"prefix", func(c *Config) { c.Listen.Prefix = "ebcdic" }, "unknown prefix"},
		{"master hex", func(c *Config) { c.Keys.Master = "zz" }, "invalid hex"},
		{"master size", func(c *Config) { c.Keys.Master = "0011" }, "key size"},
		{"algorithm", func(c *Config) { c.Keys.Algorithm = "rc4" }, "algorithm"},
		{"digest", func(c *Config) { c.Keys.Digest = "md5" }, "digest"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"strategy", func(c *Config) { c.Relay.Obscure.Strategy = "rot13" }, "obscure strategy"},
		{"nii map", func(c *Config) { c.Relay.NIIMap = map[string]int{"x": 1} }, "invalid NII"},
		{"nii map value", func(c *Config) { c.Relay.NIIMap = map[string]int{"1": 10000} }, "invalid NII"},
		{"no destination", func(c *Config) { c.Destination.Address = "" }, "destination address or pools"},
		{"pool nii", func(c *Config) { c.Pools = []PoolConfig{{NII: -1, Address: "a:1"}} }, "invalid NII"},
		{"pool address", func(c *Config) { c.Pools = []PoolConfig{{NII: 1}} }, "invalid address"},
		{"client id", func(c *Config) { c.Role = "client" }, "client id"},
		{"tls pair", func(c *Config) { c.Listen.TLSCert = "cert.pem" }, "tls_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, strings.ToLower(err.Error()), strings.ToLower(tt.want))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDuplicatePools(t *testing.T) {
	c, err := Load(writeFile(t, `
keys:
  master: `+master3DES+`
pools:
  - {nii: 5, address: "a:1"}
  - {nii: 5, address: "b:1"}
`))
	require.NoError(t, err)
	_, err = c.PoolManager(nil)
	assert.ErrorIs(t, err, relay.ErrDuplicatePool)
}
