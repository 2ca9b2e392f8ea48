package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/backkem/isogate/pkg/config"
	"github.com/backkem/isogate/pkg/discovery"
	"github.com/backkem/isogate/pkg/frame"
	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func packedSale(t *testing.T, prefix frame.Prefix) string {
	t.Helper()
	m := iso8583.NewMessage(iso8583.StandardTemplate())
	h, err := iso8583.NewTPDU(iso8583.DefaultTPDUID, 12, 3)
	require.NoError(t, err)
	m.SetHeader(h)
	require.NoError(t, m.SetMTI("0200"))
	require.NoError(t, m.SetString(2, "4761739001010119"))
	require.NoError(t, m.SetString(11, "000123"))
	require.NoError(t, m.SetString(41, "TERM0001"))
	out, err := m.Pack(prefix)
	require.NoError(t, err)
	return hex.EncodeToString(out)
}

func TestDecodeCommand(t *testing.T) {
	out, err := run(t, "decode", packedSale(t, frame.PrefixNone))
	require.NoError(t, err)
	assert.Contains(t, out, "MTI    : 0200")
	assert.Contains(t, out, "[002]  : 476173900101****")
	assert.Contains(t, out, "[011]  : 000123")
	assert.Contains(t, out, "[041]  : TERM0001")
	assert.NotContains(t, out, "4761739001010119")

	out, err = run(t, "decode", "--prefix", "binary", packedSale(t, frame.PrefixBinary))
	require.NoError(t, err)
	assert.Contains(t, out, "MTI    : 0200")

	_, err = run(t, "decode", "zz")
	assert.Error(t, err)
	_, err = run(t, "decode", "--prefix", "binary", "00ff60")
	assert.ErrorIs(t, err, frame.ErrInvalidPrefix)
	_, err = run(t, "decode")
	assert.Error(t, err)
}

func TestKeygenCommand(t *testing.T) {
	out, err := run(t, "keygen", "--algorithm", "aes", "--count", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		b, err := hex.DecodeString(l)
		require.NoError(t, err)
		assert.Len(t, b, 32)
	}
	assert.NotEqual(t, lines[0], lines[1])

	_, err = run(t, "keygen", "--algorithm", "rc4")
	assert.Error(t, err)
	_, err = run(t, "keygen", "--count", "0")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "isogate dev\n", out)
}

func TestServeRequiresKeys(t *testing.T) {
	_, err := run(t, "serve", "--destination", "127.0.0.1:1")
	assert.Error(t, err)
}

func TestServeUntilCancelled(t *testing.T) {
	v := config.New()
	v.Set("listen.address", "127.0.0.1:0")
	v.Set("destination.address", "127.0.0.1:1")
	v.Set("keys.master", "0123456789abcdeffedcba9876543210")
	v.Set("log.level", "disabled")
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, io.Discard) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestListenPort(t *testing.T) {
	assert.Equal(t, 8583, listenPort(":8583"))
	assert.Equal(t, 9000, listenPort("127.0.0.1:9000"))
	assert.Equal(t, 0, listenPort("nonsense"))
}

func TestDiscoverCommand(t *testing.T) {
	mdns := discovery.NewMockMDNS(net.IPv4(10, 0, 0, 7))
	for _, g := range []struct {
		name string
		txt  discovery.GatewayTXT
	}{
		{"acquirer", discovery.GatewayTXT{Role: discovery.RoleServer, NIIs: []int{3, 12}, Version: "1", Algorithm: "3des"}},
		{"store", discovery.GatewayTXT{Role: discovery.RoleClient, NIIs: []int{12}, TLS: true}},
	} {
		adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{Instance: g.name, Port: 5000, ServerFactory: mdns})
		require.NoError(t, err)
		require.NoError(t, adv.Start(g.txt))
		t.Cleanup(func() { _ = adv.Stop() })
	}

	discover := func(args ...string) (string, error) {
		c := &cli{v: config.New(), mdns: mdns}
		cmd := c.rootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(append([]string{"discover", "--timeout", "50ms"}, args...))
		err := cmd.Execute()
		return out.String(), err
	}

	tests := []struct {
		name     string
		args     []string
		contains []string
		missing  []string
	}{
		{
			name:     "all",
			contains: []string{"acquirer\t10.0.0.7:5000\trole=server\tnii=3,12\tver=1\talg=3des", "store\t10.0.0.7:5000\trole=client\tnii=12\ttls"},
		},
		{
			name:     "by role",
			args:     []string{"--role", "client"},
			contains: []string{"store"},
			missing:  []string{"acquirer"},
		},
		{
			name:     "by nii",
			args:     []string{"--nii", "12"},
			contains: []string{"acquirer"},
			missing:  []string{"store"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := discover(tt.args...)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.missing {
				assert.NotContains(t, out, s)
			}
		})
	}

	_, err := discover("--nii", "99")
	assert.ErrorIs(t, err, discovery.ErrNotFound)
	_, err = discover("--role", "proxy")
	assert.ErrorIs(t, err, discovery.ErrInvalidRole)
}
