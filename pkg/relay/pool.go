package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/backkem/isogate/pkg/session"
	"github.com/backkem/isogate/pkg/transport"
	"github.com/pion/logging"
)

// MaxSlots is the number of requests a pool can have outstanding. Slot ids
// run from 1 to MaxSlots and wrap.
const MaxSlots = 999

// PoolConfig configures a Pool.
type PoolConfig struct {
	// NII is the network identifier the pool serves.
	NII int

	// Dial opens the permanent connection. Required.
	Dial DialFunc

	// ReconnectInterval is the pause between connection attempts.
	// Default: 5s.
	ReconnectInterval time.Duration

	// LogEvery limits failure logging to the first failed attempt and
	// every LogEvery-th after it. Default: 10.
	LogEvery int

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// pending is a registered request waiting for its response.
type pending struct {
	header iso8583.TPDU
	ch     chan result
}

type result struct {
	data []byte
	err  error
}

// Pool multiplexes many relays over one permanent destination connection.
// Each request is registered under a slot id written into the origin of
// its TPDU; the destination echoes it back as the response destination,
// which routes the response to the waiting relay and restores the original
// addressing.
type Pool struct {
	config PoolConfig
	log    logging.LeveledLogger

	// mu serializes sending and registry mutation.
	mu      sync.Mutex
	stream  transport.Stream
	pending map[int]*pending
	next    int
	started bool
	closed  bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates a pool. Call Start to connect.
func NewPool(config PoolConfig) (*Pool, error) {
	if config.Dial == nil {
		return nil, ErrNoDialer
	}
	if config.NII < 0 || config.NII > iso8583.MaxNII {
		return nil, session.Errorf(session.KindInvalidNetworkIdentifier, "%d", config.NII)
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = 5 * time.Second
	}
	if config.LogEvery <= 0 {
		config.LogEvery = 10
	}
	p := &Pool{
		config:  config,
		pending: make(map[int]*pending),
		closeCh: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("pool")
	}
	return p, nil
}

// NII returns the network identifier the pool serves.
func (p *Pool) NII() int {
	return p.config.NII
}

// Start launches the connect loop. It keeps the connection up until Close.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.wg.Add(1)
	go p.run()
}

// Connected reports whether the permanent connection is up.
func (p *Pool) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// Outstanding returns the number of registered requests.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Pool) run() {
	defer p.wg.Done()

	failures := 0
	for {
		select {
		case <-p.closeCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.config.ReconnectInterval)
		s, err := p.config.Dial(ctx)
		cancel()
		if err != nil {
			failures++
			if p.log != nil && (failures == 1 || failures%p.config.LogEvery == 0) {
				p.log.Warnf("pool %d: connect failed (attempt %d): %v", p.config.NII, failures, err)
			}
			select {
			case <-p.closeCh:
				return
			case <-time.After(p.config.ReconnectInterval):
			}
			continue
		}
		if p.log != nil {
			p.log.Infof("pool %d: connected to %s after %d failed attempts", p.config.NII, s.RemoteAddr(), failures)
		}
		failures = 0

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			s.Close()
			return
		}
		p.stream = s
		p.mu.Unlock()

		p.readLoop(s)

		p.mu.Lock()
		p.stream = nil
		for id, e := range p.pending {
			e.ch <- result{err: session.Errorf(session.KindDisconnectedFromDestination, "pool %d connection lost", p.config.NII)}
			delete(p.pending, id)
		}
		p.mu.Unlock()
		s.Close()
	}
}

func (p *Pool) readLoop(s transport.Stream) {
	for {
		data, err := s.Receive(0)
		if err != nil {
			if p.log != nil {
				p.log.Warnf("pool %d: %v", p.config.NII, err)
			}
			return
		}
		p.deliver(data)
	}
}

// deliver routes a response to the request registered under its
// destination.
func (p *Pool) deliver(data []byte) {
	h, err := iso8583.ParseTPDU(data)
	if err != nil {
		if p.log != nil {
			p.log.Warnf("pool %d: dropping %d byte response without header", p.config.NII, len(data))
		}
		return
	}
	slot := h.Destination()

	p.mu.Lock()
	e, ok := p.pending[slot]
	if ok {
		delete(p.pending, slot)
	}
	p.mu.Unlock()

	if !ok {
		if p.log != nil {
			p.log.Warnf("pool %d: dropping response for unknown slot %d", p.config.NII, slot)
		}
		return
	}
	out := append([]byte(nil), data...)
	copy(out, e.header.Swapped().Bytes())
	e.ch <- result{data: out}
}

// register reserves the next free slot. The lock must be held.
func (p *Pool) register(e *pending) (int, error) {
	for i := 0; i < MaxSlots; i++ {
		p.next = p.next%MaxSlots + 1
		if _, busy := p.pending[p.next]; !busy {
			p.pending[p.next] = e
			return p.next, nil
		}
	}
	return 0, ErrPoolFull
}

func (p *Pool) unregister(slot int, e *pending) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[slot] == e {
		delete(p.pending, slot)
	}
}

// Exchange implements Upstream. request must start with a TPDU.
func (p *Pool) Exchange(request []byte, timeout time.Duration) ([]byte, error) {
	header, err := iso8583.ParseTPDU(request)
	if err != nil {
		return nil, session.Wrap(session.KindPackDataError, err, "pool request")
	}
	e := &pending{header: header, ch: make(chan result, 1)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, session.Wrap(session.KindDisconnectedFromDestination, ErrPoolClosed, "pool")
	}
	if p.stream == nil {
		p.mu.Unlock()
		return nil, session.Errorf(session.KindDisconnectedFromDestination, "pool %d not connected", p.config.NII)
	}
	slot, err := p.register(e)
	if err != nil {
		p.mu.Unlock()
		return nil, session.Wrap(session.KindSocketError, err, "pool")
	}
	out := append([]byte(nil), request...)
	tagged := header
	_ = tagged.SetOrigin(slot)
	copy(out, tagged.Bytes())
	err = p.stream.Send(out)
	if err != nil {
		delete(p.pending, slot)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, destinationError(err)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case res := <-e.ch:
		return res.data, res.err
	case <-timer:
		p.unregister(slot, e)
		return nil, session.Errorf(session.KindTimeout, "pool %d slot %d", p.config.NII, slot)
	case <-p.closeCh:
		p.unregister(slot, e)
		return nil, session.Wrap(session.KindDisconnectedFromDestination, ErrPoolClosed, "pool")
	}
}

// Close stops the connect loop and closes the connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)
	if p.stream != nil {
		p.stream.Close()
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// PoolManager routes requests to pools by the destination NII in their
// TPDU.
type PoolManager struct {
	mu    sync.RWMutex
	pools map[int]*Pool
}

// NewPoolManager creates an empty manager.
func NewPoolManager() *PoolManager {
	return &PoolManager{pools: make(map[int]*Pool)}
}

// Add registers p under its NII.
func (m *PoolManager) Add(p *Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[p.NII()]; ok {
		return ErrDuplicatePool
	}
	m.pools[p.NII()] = p
	return nil
}

// Get returns the pool serving nii.
func (m *PoolManager) Get(nii int) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[nii]
	if !ok {
		return nil, session.Errorf(session.KindInvalidNetworkIdentifier, "no pool for NII %d", nii)
	}
	return p, nil
}

// NIIs lists the served network identifiers in ascending order.
func (m *PoolManager) NIIs() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int, 0, len(m.pools))
	for nii := range m.pools {
		out = append(out, nii)
	}
	sort.Ints(out)
	return out
}

// Start starts every pool.
func (m *PoolManager) Start() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pools {
		p.Start()
	}
}

// Exchange implements Upstream by picking the pool for the request's
// destination NII.
func (m *PoolManager) Exchange(request []byte, timeout time.Duration) ([]byte, error) {
	h, err := iso8583.ParseTPDU(request)
	if err != nil {
		return nil, session.Wrap(session.KindPackDataError, err, "pool request")
	}
	p, err := m.Get(h.Destination())
	if err != nil {
		return nil, err
	}
	return p.Exchange(request, timeout)
}

// Close closes every pool.
func (m *PoolManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		p.Close()
	}
	return nil
}
