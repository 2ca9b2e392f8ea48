package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/backkem/isogate/pkg/crypto"
	"github.com/backkem/isogate/pkg/frame"
	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/backkem/isogate/pkg/session"
	"github.com/backkem/isogate/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "T0001"
	waitTime     = 2 * time.Second
)

func tpdu(t *testing.T, dst, orig int) iso8583.TPDU {
	t.Helper()
	h, err := iso8583.NewTPDU(iso8583.DefaultTPDUID, dst, orig)
	require.NoError(t, err)
	return h
}

// sale builds a 0200 purchase request addressed to NII 12 from NII 3.
func sale(t *testing.T, stan string) []byte {
	t.Helper()
	m := iso8583.NewMessage(iso8583.StandardTemplate())
	m.SetHeader(tpdu(t, 12, 3))
	require.NoError(t, m.SetMTI("0200"))
	require.NoError(t, m.SetString(2, "4761739001010119"))
	require.NoError(t, m.SetString(3, "000000"))
	require.NoError(t, m.SetString(4, "000000000100"))
	require.NoError(t, m.SetString(11, stan))
	require.NoError(t, m.SetString(41, "TERM0001"))
	out, err := m.Pack(frame.PrefixNone)
	require.NoError(t, err)
	return out
}

func decode(t *testing.T, raw []byte) *iso8583.Message {
	t.Helper()
	m := iso8583.NewMessage(iso8583.StandardTemplate())
	require.NoError(t, m.Unpack(raw, 0, len(raw)))
	return m
}

func field(t *testing.T, m *iso8583.Message, n int) string {
	t.Helper()
	s, err := m.GetString(n)
	require.NoError(t, err, "field %d", n)
	return s
}

func approve() func([]byte) []byte {
	return ApproveWith(iso8583.StandardTemplate(), "00")
}

// serverFixture drives a server relay with envelopes packed by the client
// codec of a key pair.
type serverFixture struct {
	pair    *TestKeyPair
	conn    *transport.Conn
	host    *TestHost
	relay   *Relay
	metrics *Metrics
	done    chan error
}

func newServerFixture(t *testing.T, respond func([]byte) []byte, configure func(*Config)) *serverFixture {
	t.Helper()
	pair, err := NewTestKeyPair(TestKeyPairConfig{})
	require.NoError(t, err)

	driver, source := transport.NewStreamPair(frame.PrefixBinary)
	dst, hostEnd := transport.NewStreamPair(frame.PrefixBinary)
	host := NewTestHost(hostEnd, respond)

	up, err := NewDirect(DirectConfig{Dial: StreamDialer(dst)})
	require.NoError(t, err)

	config := Config{
		Codec:           pair.Server,
		Upstream:        up,
		Template:        iso8583.StandardTemplate(),
		UpstreamTimeout: waitTime,
		Metrics:         NewMetrics(),
	}
	if configure != nil {
		configure(&config)
	}
	r, err := New(config, source)
	require.NoError(t, err)

	f := &serverFixture{
		pair:    pair,
		conn:    driver,
		host:    host,
		relay:   r,
		metrics: config.Metrics,
		done:    make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { f.done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		driver.Close()
		host.Close()
		up.Close()
	})
	return f
}

func (f *serverFixture) send(t *testing.T, m *session.Message) {
	t.Helper()
	out, err := f.pair.Client.Pack(m)
	require.NoError(t, err)
	require.NoError(t, f.conn.Send(out))
}

func (f *serverFixture) receive(t *testing.T) *session.Message {
	t.Helper()
	data, err := f.conn.Receive(waitTime)
	require.NoError(t, err)
	m, err := f.pair.Client.Unpack(data)
	require.NoError(t, err)
	return m
}

func (f *serverFixture) roundTrip(t *testing.T, m *session.Message) *session.Message {
	t.Helper()
	f.send(t, m)
	return f.receive(t)
}

func (f *serverFixture) logon(t *testing.T) {
	t.Helper()
	resp := f.roundTrip(t, session.NewMessage(tpdu(t, 12, 3), &session.LogonRequest{ClientID: testClientID}))
	require.IsType(t, &session.LogonResponse{}, resp.Body)
	require.True(t, f.pair.Client.Keys().LoggedOn(testClientID))
}

func (f *serverFixture) normal(t *testing.T, raw []byte) *session.Message {
	t.Helper()
	m := session.NewMessage(tpdu(t, 12, 3), &session.NormalRequest{ClientID: testClientID})
	m.Payload = raw
	return f.roundTrip(t, m)
}

func TestServerRelayForwardsNormalRequest(t *testing.T) {
	f := newServerFixture(t, approve(), nil)
	f.logon(t)

	resp := f.normal(t, sale(t, "000001"))
	require.IsType(t, &session.NormalResponse{}, resp.Body)
	require.NoError(t, f.pair.Client.Open(resp))

	m := decode(t, resp.Payload)
	assert.Equal(t, "0210", m.MTI())
	assert.Equal(t, "00", field(t, m, 39))
	assert.Equal(t, "000001", field(t, m, 11))
	assert.Equal(t, 3, m.Header().Destination())
	assert.Equal(t, 12, m.Header().Origin())

	assert.Equal(t, 3, resp.Header.Destination(), "envelope header swapped")
	require.Len(t, f.host.Requests(), 1)
	assert.Equal(t, sale(t, "000001"), f.host.Requests()[0])

	assert.Eventually(t, func() bool {
		return f.relay.Status() == StatusSuccessful
	}, waitTime, 5*time.Millisecond)
	snap := f.metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.Transactions)
	assert.Equal(t, uint64(0), snap.Failures)
	assert.Equal(t, int64(1), snap.Gauges["successful"])
	assert.NotZero(t, snap.BytesFromSource)
	assert.NotZero(t, snap.BytesFromDestination)
}

func TestServerRelayWrongMACKeepsConnection(t *testing.T) {
	f := newServerFixture(t, approve(), nil)
	f.logon(t)

	m := session.NewMessage(tpdu(t, 12, 3), &session.NormalRequest{ClientID: testClientID})
	m.Payload = sale(t, "000002")
	out, err := f.pair.Client.Pack(m)
	require.NoError(t, err)
	out[len(out)-1] ^= 0xFF
	require.NoError(t, f.conn.Send(out))

	resp := f.receive(t)
	require.IsType(t, &session.ErrorResponse{}, resp.Body)
	assert.Equal(t, session.KindWrongMAC, resp.Body.(*session.ErrorResponse).Kind)
	assert.Empty(t, f.host.Requests())
	assert.Equal(t, StatusHeaderUnpacked, f.relay.Status())
	assert.Equal(t, int64(1), f.metrics.Gauge(StatusHeaderUnpacked))

	resp = f.normal(t, sale(t, "000003"))
	require.IsType(t, &session.NormalResponse{}, resp.Body)
}

func TestServerRelayNotLoggedOn(t *testing.T) {
	f := newServerFixture(t, approve(), nil)
	f.logon(t)
	require.NoError(t, f.pair.Server.Keys().Remove(testClientID))

	resp := f.normal(t, sale(t, "000004"))
	require.IsType(t, &session.ErrorResponse{}, resp.Body)
	assert.Equal(t, session.KindNotLoggedOnBefore, resp.Body.(*session.ErrorResponse).Kind)

	f.logon(t)
	resp = f.normal(t, sale(t, "000005"))
	require.IsType(t, &session.NormalResponse{}, resp.Body)
}

func TestServerRelayErrorResponseCarriesISOReply(t *testing.T) {
	f := newServerFixture(t, approve(), func(c *Config) {
		c.Hook = func(dir Direction, m *iso8583.Message) (bool, error) {
			if dir == DirectionRequest {
				return false, errors.New("amount limit")
			}
			return false, nil
		}
	})
	f.logon(t)

	resp := f.normal(t, sale(t, "000006"))
	require.IsType(t, &session.ErrorResponse{}, resp.Body)
	body := resp.Body.(*session.ErrorResponse)
	assert.Equal(t, session.KindDeclined, body.Kind)
	require.Greater(t, body.Length, 0)

	require.NoError(t, f.pair.Client.Decrypt(resp))
	m := decode(t, resp.Payload)
	assert.Equal(t, "0210", m.MTI())
	assert.Equal(t, DefaultResponseCode, field(t, m, 39))
	assert.Equal(t, 3, m.Header().Destination())
	assert.Empty(t, f.host.Requests())
}

func TestServerRelayHookAndNIIMap(t *testing.T) {
	var seen []Direction
	f := newServerFixture(t, approve(), func(c *Config) {
		c.NIIMap = map[int]int{12: 40}
		c.Hook = func(dir Direction, m *iso8583.Message) (bool, error) {
			seen = append(seen, dir)
			if dir == DirectionResponse {
				return true, m.SetString(38, "APPR01")
			}
			return false, nil
		}
	})
	f.logon(t)

	resp := f.normal(t, sale(t, "000007"))
	require.NoError(t, f.pair.Client.Open(resp))
	m := decode(t, resp.Payload)
	assert.Equal(t, "APPR01", field(t, m, 38))
	assert.Equal(t, 3, m.Header().Destination())
	assert.Equal(t, 12, m.Header().Origin())

	require.Len(t, f.host.Requests(), 1)
	forwarded := decode(t, f.host.Requests()[0])
	assert.Equal(t, 40, forwarded.Header().Destination())
	assert.Equal(t, []Direction{DirectionRequest, DirectionResponse}, seen)
}

func TestServerRelayDestinationTimeout(t *testing.T) {
	f := newServerFixture(t, func([]byte) []byte { return nil }, func(c *Config) {
		c.UpstreamTimeout = 50 * time.Millisecond
	})
	f.logon(t)

	m := session.NewMessage(tpdu(t, 12, 3), &session.NormalRequest{ClientID: testClientID})
	m.Payload = sale(t, "000008")
	f.send(t, m)

	_, err := f.conn.Receive(300 * time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Equal(t, StatusSentToDestination, f.relay.Status())
	assert.Equal(t, int64(1), f.metrics.Gauge(StatusSentToDestination))
	assert.Equal(t, "no_response", StatusSentToDestination.Gauge())
}

func TestServerRelayDestinationDisconnect(t *testing.T) {
	f := newServerFixture(t, approve(), nil)
	f.logon(t)
	require.NoError(t, f.host.Close())

	resp := f.normal(t, sale(t, "000009"))
	require.IsType(t, &session.ErrorResponse{}, resp.Body)
	assert.Equal(t, session.KindDisconnectedFromDestination, resp.Body.(*session.ErrorResponse).Kind)

	select {
	case err := <-f.done:
		assert.ErrorIs(t, err, session.ErrDisconnectedFromDestination)
	case <-time.After(waitTime):
		t.Fatal("relay kept running after destination disconnect")
	}
	_, err := f.conn.Receive(waitTime)
	assert.ErrorIs(t, err, transport.ErrDisconnected)
}

func TestServerRelayAdmin(t *testing.T) {
	f := newServerFixture(t, approve(), func(c *Config) {
		c.Admin = func(command, content string) (string, error) {
			if command == "fail" {
				return "", errors.New("nope")
			}
			return command + ":" + content, nil
		}
	})

	resp := f.roundTrip(t, session.NewMessage(tpdu(t, 12, 3), &session.AdminRequest{
		ClientID: "ops",
		Command:  "status",
		Content:  "all",
	}))
	require.IsType(t, &session.AdminResponse{}, resp.Body)
	assert.Equal(t, "status:all", resp.Body.(*session.AdminResponse).Content)

	resp = f.roundTrip(t, session.NewMessage(tpdu(t, 12, 3), &session.AdminRequest{ClientID: "ops", Command: "fail"}))
	require.IsType(t, &session.AdminResponse{}, resp.Body)
	assert.Equal(t, "error: nope", resp.Body.(*session.AdminResponse).Content)
}

func TestServerRelayAdminDisabled(t *testing.T) {
	f := newServerFixture(t, approve(), nil)

	resp := f.roundTrip(t, session.NewMessage(tpdu(t, 12, 3), &session.AdminRequest{ClientID: "ops", Command: "status"}))
	require.IsType(t, &session.ErrorResponse{}, resp.Body)
	assert.Equal(t, session.KindWrongConfiguration, resp.Body.(*session.ErrorResponse).Kind)
}

func TestServerRelayTerminateOnError(t *testing.T) {
	f := newServerFixture(t, approve(), func(c *Config) {
		c.TerminateOnError = true
	})

	resp := f.roundTrip(t, session.NewMessage(tpdu(t, 12, 3), &session.AdminRequest{ClientID: "ops", Command: "status"}))
	require.IsType(t, &session.ErrorResponse{}, resp.Body)

	select {
	case err := <-f.done:
		assert.ErrorIs(t, err, session.ErrWrongConfiguration)
	case <-time.After(waitTime):
		t.Fatal("relay kept running")
	}
}

func TestServerRelayTolerateMalformed(t *testing.T) {
	f := newServerFixture(t, approve(), func(c *Config) {
		c.TolerateMalformed = true
	})

	require.NoError(t, f.conn.Send([]byte{0x60, 0x00, 0x12}))
	_, err := f.conn.Receive(100 * time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)

	f.logon(t)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Failures)
}

// chain connects terminal -> client relay -> server relay -> host.
type chain struct {
	pos    *transport.Conn
	host   *TestHost
	pair   *TestKeyPair
	server *Metrics
	client *Relay
}

type chainOptions struct {
	keys    TestKeyPairConfig
	pair    *TestKeyPair
	respond func([]byte) []byte
	server  func(*Config)
	client  func(*Config)
}

func newChain(t *testing.T, o chainOptions) *chain {
	t.Helper()
	pair := o.pair
	if pair == nil {
		var err error
		pair, err = NewTestKeyPair(o.keys)
		require.NoError(t, err)
	}
	if o.respond == nil {
		o.respond = approve()
	}

	pos, clientSrc := transport.NewStreamPair(frame.PrefixBinary)
	clientDst, serverSrc := transport.NewStreamPair(frame.PrefixBinary)
	serverDst, hostEnd := transport.NewStreamPair(frame.PrefixBinary)
	host := NewTestHost(hostEnd, o.respond)

	serverUp, err := NewDirect(DirectConfig{Dial: StreamDialer(serverDst)})
	require.NoError(t, err)
	clientUp, err := NewDirect(DirectConfig{Dial: StreamDialer(clientDst)})
	require.NoError(t, err)

	sc := Config{
		Codec:           pair.Server,
		Upstream:        serverUp,
		Template:        iso8583.StandardTemplate(),
		UpstreamTimeout: waitTime,
		Metrics:         NewMetrics(),
	}
	if o.server != nil {
		o.server(&sc)
	}
	cc := Config{
		Role:            RoleClient,
		Codec:           pair.Client,
		Upstream:        clientUp,
		Template:        iso8583.StandardTemplate(),
		UpstreamTimeout: waitTime,
		ClientID:        testClientID,
		MerchantID:      "M42",
	}
	if o.client != nil {
		o.client(&cc)
	}

	server, err := New(sc, serverSrc)
	require.NoError(t, err)
	client, err := New(cc, clientSrc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go server.Run(ctx)
	go client.Run(ctx)
	t.Cleanup(func() {
		cancel()
		pos.Close()
		host.Close()
		serverUp.Close()
		clientUp.Close()
	})
	return &chain{pos: pos, host: host, pair: pair, server: sc.Metrics, client: client}
}

func (c *chain) transact(t *testing.T, raw []byte) *iso8583.Message {
	t.Helper()
	require.NoError(t, c.pos.Send(raw))
	resp, err := c.pos.Receive(waitTime)
	require.NoError(t, err)
	return decode(t, resp)
}

func TestClientRelayEndToEnd(t *testing.T) {
	c := newChain(t, chainOptions{})

	for _, stan := range []string{"000011", "000012"} {
		m := c.transact(t, sale(t, stan))
		assert.Equal(t, "0210", m.MTI())
		assert.Equal(t, "00", field(t, m, 39))
		assert.Equal(t, stan, field(t, m, 11))
		assert.Equal(t, 3, m.Header().Destination())
	}
	require.Len(t, c.host.Requests(), 2)
	assert.Equal(t, sale(t, "000011"), c.host.Requests()[0])

	// one logon and two normal requests
	assert.Eventually(t, func() bool {
		return c.server.Snapshot().Transactions == 3
	}, waitTime, 5*time.Millisecond)
}

func TestClientRelayFollowsKeyRotation(t *testing.T) {
	c := newChain(t, chainOptions{keys: TestKeyPairConfig{RotationCount: 1}})

	for _, stan := range []string{"000021", "000022", "000023"} {
		m := c.transact(t, sale(t, stan))
		assert.Equal(t, "00", field(t, m, 39))
	}
}

func TestClientRelayFollowsAdminRotation(t *testing.T) {
	c := newChain(t, chainOptions{})
	km := c.pair.Server.Keys()

	m := c.transact(t, sale(t, "000024"))
	assert.Equal(t, "00", field(t, m, 39))
	before, _, err := km.EncryptedKeys(testClientID)
	require.NoError(t, err)

	require.NoError(t, km.Rotate(testClientID))
	for _, stan := range []string{"000025", "000026"} {
		m := c.transact(t, sale(t, stan))
		assert.Equal(t, "00", field(t, m, 39), stan)
	}
	after, _, err := km.EncryptedKeys(testClientID)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

// try sends raw from the terminal and returns field 39 of the answer.
func (c *chain) try(raw []byte) (string, error) {
	if err := c.pos.Send(raw); err != nil {
		return "", err
	}
	resp, err := c.pos.Receive(waitTime)
	if err != nil {
		return "", err
	}
	m := iso8583.NewMessage(iso8583.StandardTemplate())
	if err := m.Unpack(resp, 0, len(resp)); err != nil {
		return "", err
	}
	return m.GetString(39)
}

// assertApproved runs count sales on every chain concurrently.
func assertApproved(t *testing.T, chains []*chain, count int) {
	t.Helper()
	sales := make([][]byte, count)
	for i := range sales {
		sales[i] = sale(t, fmt.Sprintf("%06d", 100+i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(chains)*count)
	for i, c := range chains {
		wg.Add(1)
		go func(i int, c *chain) {
			defer wg.Done()
			for j, raw := range sales {
				code, err := c.try(raw)
				if err != nil {
					errs <- fmt.Errorf("chain %d sale %d: %w", i, j, err)
					return
				}
				if code != "00" {
					errs <- fmt.Errorf("chain %d sale %d: response code %q", i, j, code)
				}
			}
		}(i, c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRelaysShareKeyManager(t *testing.T) {
	t.Run("rotating clients", func(t *testing.T) {
		pair, err := NewTestKeyPair(TestKeyPairConfig{RotationCount: 1})
		require.NoError(t, err)
		chains := make([]*chain, 8)
		for i := range chains {
			id := fmt.Sprintf("T%04d", i+1)
			chains[i] = newChain(t, chainOptions{
				pair:   pair,
				client: func(cc *Config) { cc.ClientID = id },
			})
		}
		assertApproved(t, chains, 5)
		assert.Len(t, pair.Server.Keys().Clients(), 8)
	})

	t.Run("one client id", func(t *testing.T) {
		pair, err := NewTestKeyPair(TestKeyPairConfig{})
		require.NoError(t, err)
		chains := make([]*chain, 8)
		for i := range chains {
			chains[i] = newChain(t, chainOptions{pair: pair})
		}
		assertApproved(t, chains, 5)
		assert.Len(t, pair.Server.Keys().Clients(), 1)
	})
}

func TestClientRelayFetchesKEK(t *testing.T) {
	c := newChain(t, chainOptions{
		keys:   TestKeyPairConfig{DerivedKEK: true, Algorithm: crypto.AlgorithmAES},
		client: func(cc *Config) { cc.FetchKEK = true },
	})

	m := c.transact(t, sale(t, "000031"))
	assert.Equal(t, "00", field(t, m, 39))
}

func TestClientRelayLogonRefused(t *testing.T) {
	c := newChain(t, chainOptions{keys: TestKeyPairConfig{DerivedKEK: true}})

	m := c.transact(t, sale(t, "000041"))
	assert.Equal(t, "0210", m.MTI())
	assert.Equal(t, DefaultResponseCode, field(t, m, 39))
	assert.Empty(t, c.host.Requests())
}

func TestClientRelayObscuresFields(t *testing.T) {
	obscurer := iso8583.ReplacedByEncryptedData{Carrier: 62}
	c := newChain(t, chainOptions{
		server: func(sc *Config) { sc.Obscurer = obscurer },
		client: func(cc *Config) {
			cc.Obscurer = obscurer
			cc.ObscureFields = []int{2, 35}
		},
	})

	m := c.transact(t, sale(t, "000051"))
	assert.Equal(t, "00", field(t, m, 39))

	require.Len(t, c.host.Requests(), 1)
	forwarded := decode(t, c.host.Requests()[0])
	assert.Equal(t, "4761739001010119", field(t, forwarded, 2))
	assert.False(t, forwarded.Has(62))
}

func TestClientRelayDeliversRemoteErrorReply(t *testing.T) {
	c := newChain(t, chainOptions{
		server: func(sc *Config) {
			sc.ResponseCode = "91"
			sc.Hook = func(dir Direction, m *iso8583.Message) (bool, error) {
				return false, errors.New("blocked")
			}
		},
	})

	m := c.transact(t, sale(t, "000061"))
	assert.Equal(t, "0210", m.MTI())
	assert.Equal(t, "91", field(t, m, 39))
	assert.Equal(t, "000061", field(t, m, 11))
}

func TestClientRelayLocalErrorReply(t *testing.T) {
	c := newChain(t, chainOptions{
		client: func(cc *Config) {
			cc.ResponseCode = "05"
			cc.Hook = func(dir Direction, m *iso8583.Message) (bool, error) {
				return false, errors.New("blocked")
			}
		},
	})

	m := c.transact(t, sale(t, "000071"))
	assert.Equal(t, "05", field(t, m, 39))
	assert.Empty(t, c.host.Requests())
}

func TestNewRelayConfigErrors(t *testing.T) {
	pair, err := NewTestKeyPair(TestKeyPairConfig{})
	require.NoError(t, err)
	a, b := transport.NewStreamPair(frame.PrefixBinary)
	defer a.Close()
	defer b.Close()
	up, err := NewDirect(DirectConfig{Dial: StreamDialer(a)})
	require.NoError(t, err)

	tests := []struct {
		name   string
		config Config
		source transport.Stream
		want   error
	}{
		{"no source", Config{Codec: pair.Server, Upstream: up}, nil, ErrNoSource},
		{"no codec", Config{Upstream: up}, b, ErrNoCodec},
		{"no upstream", Config{Codec: pair.Server}, b, ErrNoUpstream},
		{"bad role", Config{Codec: pair.Server, Upstream: up, Role: Role(7)}, b, ErrInvalidRole},
		{"no client id", Config{Codec: pair.Client, Upstream: up, Role: RoleClient}, b, ErrNoClientID},
		{"hook without template", Config{
			Codec:    pair.Server,
			Upstream: up,
			Hook:     func(Direction, *iso8583.Message) (bool, error) { return false, nil },
		}, b, ErrNoTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config, tt.source)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	r, err := New(Config{Codec: pair.Server, Upstream: up}, b)
	require.NoError(t, err)
	assert.Equal(t, RoleServer, r.Role())
	assert.Equal(t, StatusNone, r.Status())
	assert.NotEmpty(t, r.ID().String())
}
