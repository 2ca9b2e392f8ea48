package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/backkem/isogate/pkg/frame"
	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/backkem/isogate/pkg/session"
	"github.com/backkem/isogate/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// swapHeader answers a request with its body and swapped header.
func swapHeader(req []byte) []byte {
	h, err := iso8583.ParseTPDU(req)
	if err != nil {
		return nil
	}
	return append(h.Swapped().Bytes(), req[iso8583.TPDUSize:]...)
}

func silent([]byte) []byte { return nil }

func request(t *testing.T, dst, orig int, body string) []byte {
	t.Helper()
	return append(tpdu(t, dst, orig).Bytes(), body...)
}

func newTestPool(t *testing.T, nii int, respond func([]byte) []byte) (*Pool, *TestHost) {
	t.Helper()
	a, b := transport.NewStreamPair(frame.PrefixBinary)
	host := NewTestHost(b, respond)
	p, err := NewPool(PoolConfig{
		NII:               nii,
		Dial:              StreamDialer(a),
		ReconnectInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	p.Start()
	t.Cleanup(func() {
		p.Close()
		host.Close()
	})
	require.Eventually(t, p.Connected, waitTime, time.Millisecond)
	return p, host
}

func TestPoolCorrelatesConcurrentRequests(t *testing.T) {
	p, host := newTestPool(t, 7, swapHeader)

	const n = 25
	reqs := make([][]byte, n)
	for i := range reqs {
		reqs[i] = request(t, 7, 100+i, fmt.Sprintf("request-%d", i))
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf("request-%d", i)
			resp, err := p.Exchange(reqs[i], waitTime)
			if err != nil {
				errs <- err
				return
			}
			h, err := iso8583.ParseTPDU(resp)
			if err != nil {
				errs <- err
				return
			}
			if h.Destination() != 100+i || h.Origin() != 7 || string(resp[iso8583.TPDUSize:]) != body {
				errs <- fmt.Errorf("request %d got %s %q", i, h, resp[iso8583.TPDUSize:])
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Len(t, host.Requests(), n)
	for _, req := range host.Requests() {
		h, err := iso8583.ParseTPDU(req)
		require.NoError(t, err)
		assert.Equal(t, 7, h.Destination())
		assert.True(t, h.Origin() >= 1 && h.Origin() <= MaxSlots, "slot %d", h.Origin())
	}
	assert.Zero(t, p.Outstanding())
}

func TestPoolTimeout(t *testing.T) {
	p, _ := newTestPool(t, 7, silent)

	_, err := p.Exchange(request(t, 7, 1, "x"), 30*time.Millisecond)
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.Zero(t, p.Outstanding())
	assert.True(t, p.Connected())
}

func TestPoolDisconnectFailsPending(t *testing.T) {
	p, host := newTestPool(t, 7, silent)

	req := request(t, 7, 1, "x")
	result := make(chan error, 1)
	go func() {
		_, err := p.Exchange(req, 5*time.Second)
		result <- err
	}()
	require.Eventually(t, func() bool { return len(host.Requests()) == 1 }, waitTime, time.Millisecond)
	require.NoError(t, host.Close())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, session.ErrDisconnectedFromDestination)
	case <-time.After(waitTime):
		t.Fatal("pending request not failed")
	}
	assert.Eventually(t, func() bool { return !p.Connected() }, waitTime, time.Millisecond)

	_, err := p.Exchange(request(t, 7, 1, "y"), time.Second)
	assert.ErrorIs(t, err, session.ErrDisconnectedFromDestination)
}

func TestPoolRejectsWithoutConnection(t *testing.T) {
	p, err := NewPool(PoolConfig{NII: 7, Dial: StreamDialer(nil)})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Exchange(request(t, 7, 1, "x"), time.Second)
	assert.ErrorIs(t, err, session.ErrDisconnectedFromDestination)

	_, err = p.Exchange([]byte{0x60}, time.Second)
	assert.ErrorIs(t, err, session.ErrPackDataError)

	require.NoError(t, p.Close())
	_, err = p.Exchange(request(t, 7, 1, "x"), time.Second)
	assert.ErrorIs(t, err, session.ErrDisconnectedFromDestination)
}

func TestPoolConfig(t *testing.T) {
	_, err := NewPool(PoolConfig{NII: 7})
	assert.ErrorIs(t, err, ErrNoDialer)

	_, err = NewPool(PoolConfig{NII: 10000, Dial: StreamDialer(nil)})
	assert.ErrorIs(t, err, session.ErrInvalidNetworkIdentifier)
}

func TestPoolManagerRoutesByNII(t *testing.T) {
	p7, _ := newTestPool(t, 7, swapHeader)
	p8, _ := newTestPool(t, 8, func(req []byte) []byte {
		return append(swapHeader(req), '!')
	})

	m := NewPoolManager()
	require.NoError(t, m.Add(p7))
	require.NoError(t, m.Add(p8))
	assert.ErrorIs(t, m.Add(p7), ErrDuplicatePool)
	assert.Equal(t, []int{7, 8}, m.NIIs())

	resp, err := m.Exchange(request(t, 8, 3, "abc"), waitTime)
	require.NoError(t, err)
	assert.Equal(t, "abc!", string(resp[iso8583.TPDUSize:]))

	resp, err = m.Exchange(request(t, 7, 3, "abc"), waitTime)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(resp[iso8583.TPDUSize:]))

	_, err = m.Exchange(request(t, 9, 3, "abc"), waitTime)
	assert.ErrorIs(t, err, session.ErrInvalidNetworkIdentifier)

	_, err = m.Get(9)
	assert.ErrorIs(t, err, session.ErrInvalidNetworkIdentifier)
}

func TestServerRelayOverPool(t *testing.T) {
	p, host := newTestPool(t, 12, approve())
	f := newServerFixture(t, silent, func(c *Config) {
		c.Upstream = p
	})
	f.logon(t)

	resp := f.normal(t, sale(t, "000081"))
	require.IsType(t, &session.NormalResponse{}, resp.Body)
	require.NoError(t, f.pair.Client.Open(resp))

	m := decode(t, resp.Payload)
	assert.Equal(t, "00", field(t, m, 39))
	assert.Equal(t, 3, m.Header().Destination())
	assert.Equal(t, 12, m.Header().Origin())
	require.Len(t, host.Requests(), 1)
}

func TestDirectTimeoutVersusDisconnect(t *testing.T) {
	a, b := transport.NewStreamPair(frame.PrefixBinary)
	host := NewTestHost(b, silent)
	up, err := NewDirect(DirectConfig{Dial: StreamDialer(a)})
	require.NoError(t, err)
	defer up.Close()

	_, err = up.Exchange([]byte("ping"), 30*time.Millisecond)
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.NotErrorIs(t, err, session.ErrDisconnectedFromDestination)

	require.NoError(t, host.Close())
	_, err = up.Exchange([]byte("ping"), time.Second)
	assert.ErrorIs(t, err, session.ErrDisconnectedFromDestination)
	assert.NotErrorIs(t, err, session.ErrTimeout)

	_, err = NewDirect(DirectConfig{})
	assert.ErrorIs(t, err, ErrNoDialer)
}

func TestDirectRedialsAfterTimeout(t *testing.T) {
	var hosts []*TestHost
	dial := func(context.Context) (transport.Stream, error) {
		a, b := transport.NewStreamPair(frame.PrefixBinary)
		hosts = append(hosts, NewTestHost(b, func(req []byte) []byte {
			if string(req) == "A" {
				time.Sleep(150 * time.Millisecond)
			}
			return append([]byte("resp-"), req...)
		}))
		return a, nil
	}
	up, err := NewDirect(DirectConfig{Dial: dial})
	require.NoError(t, err)
	t.Cleanup(func() {
		up.Close()
		for _, h := range hosts {
			h.Close()
		}
	})

	_, err = up.Exchange([]byte("A"), 30*time.Millisecond)
	assert.ErrorIs(t, err, session.ErrTimeout)

	resp, err := up.Exchange([]byte("B"), waitTime)
	require.NoError(t, err)
	assert.Equal(t, "resp-B", string(resp))
	assert.Len(t, hosts, 2)

	// the late reply to A is never delivered
	resp, err = up.Exchange([]byte("C"), waitTime)
	require.NoError(t, err)
	assert.Equal(t, "resp-C", string(resp))
	assert.Len(t, hosts, 2)
}
