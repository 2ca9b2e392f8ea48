// Package keys maintains the per-client session keys and performs the
// message cryptography that depends on them.
//
// Every client id owns a data-encryption key (DEK) for payloads, a MAC key
// (MPK), a client signature key (CSK) and a rotation counter. Keys travel
// wrapped under a key-encryption key (KEK), which defaults to the master
// key.
package keys

import (
	"sort"
	"sync"

	"github.com/backkem/isogate/pkg/crypto"
	"github.com/pion/logging"
)

// KEKLookup returns the key-encryption key for a client.
type KEKLookup func(clientID string) ([]byte, error)

// MasterKEKLookup returns a lookup that uses master for every client.
func MasterKEKLookup(master []byte) KEKLookup {
	return func(string) ([]byte, error) {
		return master, nil
	}
}

// DerivedKEKLookup returns a lookup that derives a per-client KEK from
// master with HKDF-SHA256, using the client id as info. The derived key has
// the length of master.
func DerivedKEKLookup(master []byte) KEKLookup {
	return func(clientID string) ([]byte, error) {
		return crypto.HKDFSHA256(master, nil, []byte(clientID), len(master))
	}
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Cipher is the block cipher; Cipher.Key is the master key.
	Cipher crypto.CipherConfig

	// Digest is hashed into MACs. Default: SHA-256.
	Digest crypto.Digest

	// DefaultCSK is the signature key given to new clients. When empty a
	// random key is generated once per manager.
	DefaultCSK []byte

	// RotationCount is the number of uses after which DEK and MPK are
	// replaced. Zero or less disables rotation.
	RotationCount int

	// KEKLookup overrides the KEK source. Default: the master key.
	KEKLookup KEKLookup

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// record is the key state of one client.
type record struct {
	dek       []byte
	mpk       []byte
	csk       []byte
	kek        []byte // override installed by SetKEK
	remaining  int
	rotateNext bool
	enabled    bool
}

// ClientInfo describes one client record.
type ClientInfo struct {
	ID        string
	Enabled   bool
	Remaining int
	Rotating  bool
}

// Manager holds the key table shared by every relay. All operations take a
// single lock so that rotation never interleaves with MAC or payload
// cryptography.
type Manager struct {
	mu      sync.Mutex
	config  ManagerConfig
	clients map[string]*record
	log     logging.LeveledLogger
}

// NewManager validates config and creates an empty Manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if err := config.Cipher.Validate(); err != nil {
		return nil, err
	}
	if !config.Digest.IsValid() {
		return nil, crypto.ErrUnknownDigest
	}
	if len(config.DefaultCSK) == 0 {
		csk, err := crypto.RandomKey(config.Cipher.Algorithm)
		if err != nil {
			return nil, err
		}
		config.DefaultCSK = csk
	} else if !config.Cipher.Algorithm.ValidKeySize(len(config.DefaultCSK)) {
		return nil, crypto.ErrInvalidKeySize
	}
	if config.KEKLookup == nil {
		config.KEKLookup = MasterKEKLookup(config.Cipher.Key)
	}

	m := &Manager{
		config:  config,
		clients: make(map[string]*record),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("keys")
	}
	return m, nil
}

// Cipher returns the configured cipher.
func (m *Manager) Cipher() crypto.CipherConfig {
	return m.config.Cipher
}

// RoundedSize rounds n up to the cipher block size. Buffers for encrypted
// payloads must be sized with it.
func (m *Manager) RoundedSize(n int) int {
	return m.config.Cipher.RoundedSize(n)
}

// keySize is the length of generated and unwrapped client keys.
func (m *Manager) keySize() int {
	return m.config.Cipher.Algorithm.DefaultKeySize()
}

func (m *Manager) randomKey() ([]byte, error) {
	return crypto.RandomKey(m.config.Cipher.Algorithm)
}

// get returns the enabled record for clientID. The lock must be held.
func (m *Manager) get(clientID string) (*record, error) {
	r, ok := m.clients[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	if !r.enabled {
		return nil, ErrDeclined
	}
	return r, nil
}

// ensure returns the record for clientID, creating an empty enabled one.
// The lock must be held.
func (m *Manager) ensure(clientID string) (*record, error) {
	if clientID == "" {
		return nil, ErrInvalidClientID
	}
	r, ok := m.clients[clientID]
	if !ok {
		r = &record{
			csk:       append([]byte(nil), m.config.DefaultCSK...),
			remaining: m.config.RotationCount,
			enabled:   true,
		}
		m.clients[clientID] = r
		return r, nil
	}
	if !r.enabled {
		return nil, ErrDeclined
	}
	return r, nil
}

// Has reports whether clientID has a key record.
func (m *Manager) Has(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.clients[clientID]
	return ok
}

// NewClientKeys creates fresh random keys for clientID. It does nothing when
// the client already has keys.
func (m *Manager) NewClientKeys(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.clients[clientID]; ok {
		if !r.enabled {
			return ErrDeclined
		}
		if r.dek != nil && r.mpk != nil {
			return nil
		}
	}
	r, err := m.ensure(clientID)
	if err != nil {
		return err
	}
	if r.dek, err = m.randomKey(); err != nil {
		return err
	}
	if r.mpk, err = m.randomKey(); err != nil {
		return err
	}
	if m.log != nil {
		m.log.Debugf("created keys for client %s", clientID)
	}
	return nil
}

// GenerateRandomKey counts one use of the client's keys and replaces DEK and
// MPK once the rotation counter runs out. It reports whether the keys
// changed. With rotation disabled it does nothing unless Rotate scheduled a
// replacement.
func (m *Manager) GenerateRandomKey(clientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.get(clientID)
	if err != nil {
		return false, err
	}
	rotated, err := m.use(r)
	if rotated && m.log != nil {
		m.log.Infof("rotated keys for client %s", clientID)
	}
	return rotated, err
}

// use counts one use of r and rotates when due. The lock must be held.
func (m *Manager) use(r *record) (bool, error) {
	if !r.rotateNext {
		if m.config.RotationCount <= 0 {
			return false, nil
		}
		r.remaining--
		if r.remaining > 0 {
			return false, nil
		}
	}
	if err := m.rotate(r); err != nil {
		return false, err
	}
	return true, nil
}

// Rotate schedules a replacement of DEK and MPK for the client's next
// response, which carries the new keys to the client.
func (m *Manager) Rotate(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.get(clientID)
	if err != nil {
		return err
	}
	if r.dek == nil || r.mpk == nil {
		return ErrInvalidKey
	}
	r.rotateNext = true
	return nil
}

func (m *Manager) rotate(r *record) error {
	dek, err := m.randomKey()
	if err != nil {
		return err
	}
	mpk, err := m.randomKey()
	if err != nil {
		return err
	}
	r.dek, r.mpk = dek, mpk
	r.remaining = m.config.RotationCount
	r.rotateNext = false
	return nil
}

// SetCSK replaces the signature key of clientID, creating the record if
// needed.
func (m *Manager) SetCSK(clientID string, csk []byte) error {
	if !m.config.Cipher.Algorithm.ValidKeySize(len(csk)) {
		return crypto.ErrInvalidKeySize
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.ensure(clientID)
	if err != nil {
		return err
	}
	r.csk = append([]byte(nil), csk...)
	return nil
}

// Disable makes every further operation on clientID fail with ErrDeclined.
func (m *Manager) Disable(clientID string) error {
	return m.setEnabled(clientID, false)
}

// Enable re-enables a disabled client.
func (m *Manager) Enable(clientID string) error {
	return m.setEnabled(clientID, true)
}

func (m *Manager) setEnabled(clientID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	r.enabled = enabled
	return nil
}

// Remove deletes the client record and clears its keys.
func (m *Manager) Remove(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	for _, k := range [][]byte{r.dek, r.mpk, r.csk, r.kek} {
		for i := range k {
			k[i] = 0
		}
	}
	delete(m.clients, clientID)
	return nil
}

// Clients lists the known clients ordered by id.
func (m *Manager) Clients() []ClientInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ClientInfo, 0, len(m.clients))
	for id, r := range m.clients {
		out = append(out, ClientInfo{ID: id, Enabled: r.enabled, Remaining: r.remaining, Rotating: r.rotateNext})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
