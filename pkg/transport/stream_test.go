package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/backkem/isogate/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnRoundTrip(t *testing.T) {
	for _, prefix := range []frame.Prefix{frame.PrefixBinary, frame.PrefixBCD, frame.PrefixASCII4} {
		t.Run(prefix.String(), func(t *testing.T) {
			a, b := NewStreamPair(prefix)
			defer a.Close()
			defer b.Close()

			msgs := [][]byte{[]byte("0200 first"), []byte("second message"), {0x00}}
			go func() {
				for _, m := range msgs {
					_ = a.Send(m)
				}
			}()
			for _, want := range msgs {
				got, err := b.Receive(time.Second)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestConnReassemblesAcrossTimeout(t *testing.T) {
	raw, peer := net.Pipe()
	defer raw.Close()
	c := NewConn(peer, frame.PrefixBinary, NetworkPipe)
	defer c.Close()

	go func() { _, _ = raw.Write([]byte{0x00, 0x05, 'a', 'b'}) }()
	_, err := c.Receive(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrDisconnected)

	go func() { _, _ = raw.Write([]byte("cde")) }()
	got, err := c.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), got)
}

func TestConnTwoMessagesInOneRead(t *testing.T) {
	raw, peer := net.Pipe()
	defer raw.Close()
	c := NewConn(peer, frame.PrefixASCII4, NetworkPipe)
	defer c.Close()

	go func() { _, _ = raw.Write([]byte("0002ab0003cde")) }()
	got, err := c.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), got)
	got, err = c.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("cde"), got)
}

func TestConnTimeoutAndDisconnect(t *testing.T) {
	a, b := NewStreamPair(frame.PrefixBinary)

	_, err := b.Receive(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, a.Close())
	_, err = b.Receive(time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.NotErrorIs(t, err, ErrTimeout)

	assert.ErrorIs(t, a.Send([]byte("x")), ErrDisconnected)
	assert.NoError(t, a.Close())
}

func TestConnInvalidPrefix(t *testing.T) {
	raw, peer := net.Pipe()
	defer raw.Close()
	c := NewConn(peer, frame.PrefixASCII4, NetworkPipe)
	defer c.Close()

	go func() { _, _ = raw.Write([]byte("12x4")) }()
	_, err := c.Receive(time.Second)
	assert.ErrorIs(t, err, frame.ErrInvalidPrefix)
}

func TestPipeDatagrams(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	require.NoError(t, p.Stream0().Send([]byte("ping")))
	got, err := p.Stream1().Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)

	require.NoError(t, p.Stream1().Send([]byte("pong")))
	got, err = p.Stream0().Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), got)
	assert.Equal(t, frame.PrefixNone, p.Stream0().Prefix())
	assert.Equal(t, NetworkPipe, p.Stream0().Network())
}

func TestPipeManualProcess(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	defer p.Close()

	require.NoError(t, p.Stream0().Send([]byte("one")))
	assert.Equal(t, 1, p.Process())
	got, err := p.Stream1().Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)
}

func echo(c *Conn) {
	for {
		msg, err := c.Receive(0)
		if err != nil {
			return
		}
		if err := c.Send(msg); err != nil {
			return
		}
	}
}

func TestListenerDial(t *testing.T) {
	l, err := NewListener(ListenerConfig{
		ListenAddr: "127.0.0.1:0",
		Prefix:     frame.PrefixBinary,
		Handler:    echo,
	})
	require.NoError(t, err)
	require.NoError(t, l.Start())
	assert.ErrorIs(t, l.Start(), ErrAlreadyStarted)

	c, err := Dial(context.Background(), DialConfig{
		Address: l.Addr().String(),
		Prefix:  frame.PrefixBinary,
		Timeout: time.Second,
	})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, NetworkTCP, c.Network())

	require.NoError(t, c.Send([]byte("0800")))
	got, err := c.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("0800"), got)

	require.NoError(t, l.Stop())
	assert.ErrorIs(t, l.Stop(), ErrClosed)

	_, err = c.Receive(time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestDialTLSHandshakeFailure(t *testing.T) {
	l, err := NewListener(ListenerConfig{
		ListenAddr: "127.0.0.1:0",
		Handler:    func(c *Conn) {},
	})
	require.NoError(t, err)
	require.NoError(t, l.Start())
	defer l.Stop()

	_, err = Dial(context.Background(), DialConfig{
		Address: l.Addr().String(),
		Timeout: time.Second,
		TLS:     &tls.Config{InsecureSkipVerify: true},
	})
	assert.ErrorIs(t, err, ErrTLS)
}

func TestConfigErrors(t *testing.T) {
	_, err := Dial(context.Background(), DialConfig{})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NewListener(ListenerConfig{ListenAddr: "127.0.0.1:0"})
	assert.ErrorIs(t, err, ErrNoHandler)

	_, err = NewListener(ListenerConfig{Handler: echo, Prefix: frame.Prefix(42)})
	assert.ErrorIs(t, err, frame.ErrUnknownPrefix)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(io.EOF), ErrDisconnected)
	assert.ErrorIs(t, classify(context.DeadlineExceeded), ErrTimeout)
	other := errors.New("boom")
	assert.Equal(t, other, classify(other))

	n, err := ParseNetwork("TLS")
	require.NoError(t, err)
	assert.Equal(t, NetworkTLS, n)
	assert.True(t, n.IsValid())
	_, err = ParseNetwork("udp")
	assert.Error(t, err)
}
