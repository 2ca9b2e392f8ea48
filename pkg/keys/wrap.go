package keys

import (
	"github.com/backkem/isogate/pkg/crypto"
)

// AddClient creates an empty record for clientID so that keys sent by a
// peer can be absorbed. Existing records are left as they are.
func (m *Manager) AddClient(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.ensure(clientID)
	return err
}

// LoggedOn reports whether clientID holds a DEK and MPK.
func (m *Manager) LoggedOn(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.clients[clientID]
	return ok && r.dek != nil && r.mpk != nil
}

// kek returns the client's key-encryption key. The lock must be held.
func (m *Manager) kek(clientID string, r *record) ([]byte, error) {
	if r.kek != nil {
		return r.kek, nil
	}
	return m.config.KEKLookup(clientID)
}

// unwrap decrypts a client key wrapped under kek.
func (m *Manager) unwrap(kek, wrapped []byte) ([]byte, error) {
	plain, err := m.config.Cipher.Decrypt(kek, wrapped)
	if err != nil {
		return nil, err
	}
	if len(plain) < m.keySize() {
		return nil, ErrInvalidKey
	}
	return plain[:m.keySize()], nil
}

// EncryptedKeys returns the client's DEK and MAC key wrapped under its KEK,
// both taken from the same key generation.
func (m *Manager) EncryptedKeys(clientID string) (dek, mpk []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.get(clientID)
	if err != nil {
		return nil, nil, err
	}
	if r.dek == nil || r.mpk == nil {
		return nil, nil, ErrInvalidKey
	}
	kek, err := m.kek(clientID, r)
	if err != nil {
		return nil, nil, err
	}
	if dek, err = m.config.Cipher.Encrypt(kek, r.dek); err != nil {
		return nil, nil, err
	}
	if mpk, err = m.config.Cipher.Encrypt(kek, r.mpk); err != nil {
		return nil, nil, err
	}
	return dek, mpk, nil
}

// SetEncryptedKeys installs a wrapped DEK and MAC key together. Either may
// be empty, in which case the current key is kept. The record is created if
// needed.
func (m *Manager) SetEncryptedKeys(clientID string, dek, mpk []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.ensure(clientID)
	if err != nil {
		return err
	}
	kek, err := m.kek(clientID, r)
	if err != nil {
		return err
	}
	var newDEK, newMPK []byte
	if len(dek) > 0 {
		if newDEK, err = m.unwrap(kek, dek); err != nil {
			return err
		}
	}
	if len(mpk) > 0 {
		if newMPK, err = m.unwrap(kek, mpk); err != nil {
			return err
		}
	}
	if newDEK != nil {
		r.dek = newDEK
	}
	if newMPK != nil {
		r.mpk = newMPK
	}
	return nil
}

// Wrapping selects the key a client signature key is encrypted under.
type Wrapping byte

const (
	// WrapKEK encrypts under the client's key-encryption key.
	WrapKEK Wrapping = iota
	// WrapDEK encrypts under the client's data-encryption key.
	WrapDEK
	// WrapMaster encrypts under the master key.
	WrapMaster
)

// String returns a human-readable name for the wrapping.
func (w Wrapping) String() string {
	switch w {
	case WrapKEK:
		return "KEK"
	case WrapDEK:
		return "DEK"
	case WrapMaster:
		return "Master"
	default:
		return "Unknown"
	}
}

// EncryptedCSK returns the client's signature key encrypted under the key
// selected by w.
func (m *Manager) EncryptedCSK(clientID string, w Wrapping) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.get(clientID)
	if err != nil {
		return nil, err
	}
	key, err := m.cskKey(clientID, r, w)
	if err != nil {
		return nil, err
	}
	return m.config.Cipher.Encrypt(key, r.csk)
}

// VerifyCSK reports whether encrypted holds the client's signature key,
// encrypted as EncryptedCSK would.
func (m *Manager) VerifyCSK(clientID string, encrypted []byte, w Wrapping) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.get(clientID)
	if err != nil {
		return false, err
	}
	key, err := m.cskKey(clientID, r, w)
	if err != nil {
		return false, err
	}
	plain, err := m.config.Cipher.Decrypt(key, encrypted)
	if err != nil {
		return false, nil
	}
	if len(plain) < len(r.csk) {
		return false, nil
	}
	return crypto.Equal(plain[:len(r.csk)], r.csk), nil
}

func (m *Manager) cskKey(clientID string, r *record, w Wrapping) ([]byte, error) {
	switch w {
	case WrapKEK:
		return m.kek(clientID, r)
	case WrapDEK:
		if r.dek == nil {
			return nil, ErrInvalidKey
		}
		return r.dek, nil
	case WrapMaster:
		return m.config.Cipher.Key, nil
	}
	return nil, ErrInvalidKey
}

// EncryptedKEK returns a random IV and the client's KEK encrypted in CBC
// mode under its signature key with that IV.
func (m *Manager) EncryptedKEK(clientID string) (iv, wrapped []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.get(clientID)
	if err != nil {
		return nil, nil, err
	}
	kek, err := m.kek(clientID, r)
	if err != nil {
		return nil, nil, err
	}
	cbc := m.cbc()
	if iv, err = crypto.RandomBytes(cbc.BlockSize()); err != nil {
		return nil, nil, err
	}
	if wrapped, err = cbc.EncryptIV(r.csk, iv, kek); err != nil {
		return nil, nil, err
	}
	return iv, wrapped, nil
}

// SetKEK decrypts a KEK sent by EncryptedKEK and installs it as the
// client's KEK, overriding the lookup.
func (m *Manager) SetKEK(clientID string, iv, wrapped []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.ensure(clientID)
	if err != nil {
		return err
	}
	plain, err := m.cbc().DecryptIV(r.csk, iv, wrapped)
	if err != nil {
		return err
	}
	size := len(m.config.Cipher.Key)
	if len(plain) < size {
		return ErrInvalidKey
	}
	r.kek = append([]byte(nil), plain[:size]...)
	return nil
}

func (m *Manager) cbc() crypto.CipherConfig {
	c := m.config.Cipher
	c.Mode = crypto.ModeCBC
	return c
}
