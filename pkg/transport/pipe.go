package transport

import (
	"net"
	"sync"
	"time"

	"github.com/backkem/isogate/pkg/frame"
	"github.com/pion/transport/v3/test"
)

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic message delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor checks for messages.
	// Default: 1ms
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe connects two in-memory datagram endpoints. Each write arrives as
// one read on the other side, so the endpoints are used with
// frame.PrefixNone. It wraps pion's test.Bridge.
type Pipe struct {
	bridge *test.Bridge

	mu              sync.Mutex
	closed          bool
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup

	stream0 *Conn
	stream1 *Conn
}

// NewPipe creates a new pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a new pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}
	p.stream0 = NewConn(p.bridge.GetConn0(), frame.PrefixNone, NetworkPipe)
	p.stream1 = NewConn(p.bridge.GetConn1(), frame.PrefixNone, NetworkPipe)

	if p.autoProcess {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pipe) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// Stream0 returns the stream for endpoint 0.
func (p *Pipe) Stream0() *Conn {
	return p.stream0
}

// Stream1 returns the stream for endpoint 1.
func (p *Pipe) Stream1() *Conn {
	return p.stream1
}

// Process delivers all queued packets and returns how many were delivered.
// Only needed when AutoProcess is disabled.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.bridge.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close closes both endpoints of the pipe and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.stream0.Close()
	err1 := p.stream1.Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// NewStreamPair returns two connected in-memory streams framed with
// prefix, built on net.Pipe. Unlike Pipe, writes block until the peer
// reads, and closing one end disconnects the other.
func NewStreamPair(prefix frame.Prefix) (*Conn, *Conn) {
	a, b := net.Pipe()
	return NewConn(a, prefix, NetworkPipe), NewConn(b, prefix, NetworkPipe)
}
