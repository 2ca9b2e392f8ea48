package keys

import (
	"github.com/backkem/isogate/pkg/crypto"
)

// Sealed is an encrypted and MACed payload together with the key material
// that travels with it: the CSK proof of a request, or the wrapped DEK and
// MPK of a response.
type Sealed struct {
	Ciphertext   []byte
	MAC          []byte
	EncryptedCSK []byte
	EncryptedDEK []byte
	EncryptedMPK []byte

	// Rotated is set by SealResponse when the keys were replaced for this
	// response.
	Rotated bool
}

// SealRequest encrypts the client's CSK under its DEK, MACs payload and
// encrypts it. All three use the same keys even while other goroutines
// install or rotate keys for the client.
func (m *Manager) SealRequest(clientID string, payload []byte) (*Sealed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.get(clientID)
	if err != nil {
		return nil, err
	}
	if r.dek == nil || r.mpk == nil {
		return nil, ErrInvalidKey
	}
	s := &Sealed{}
	if s.EncryptedCSK, err = m.config.Cipher.Encrypt(r.dek, r.csk); err != nil {
		return nil, err
	}
	if s.MAC, s.Ciphertext, err = m.seal(r.dek, r.mpk, payload); err != nil {
		return nil, err
	}
	return s, nil
}

// SealResponse counts one use of the client's keys, replacing them when the
// rotation counter runs out or a rotation was scheduled, and seals payload
// under the resulting keys. The DEK and MPK are returned wrapped under the
// client's KEK, so they always match the payload they travel with.
func (m *Manager) SealResponse(clientID string, payload []byte) (*Sealed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.get(clientID)
	if err != nil {
		return nil, err
	}
	if r.dek == nil || r.mpk == nil {
		return nil, ErrInvalidKey
	}
	s := &Sealed{}
	if s.Rotated, err = m.use(r); err != nil {
		return nil, err
	}
	if s.Rotated && m.log != nil {
		m.log.Infof("rotated keys for client %s", clientID)
	}
	kek, err := m.kek(clientID, r)
	if err != nil {
		return nil, err
	}
	if s.EncryptedDEK, err = m.config.Cipher.Encrypt(kek, r.dek); err != nil {
		return nil, err
	}
	if s.EncryptedMPK, err = m.config.Cipher.Encrypt(kek, r.mpk); err != nil {
		return nil, err
	}
	if s.MAC, s.Ciphertext, err = m.seal(r.dek, r.mpk, payload); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenRequest checks the CSK proof of a sealed request, decrypts n payload
// bytes and verifies the MAC, all against one view of the client's keys.
func (m *Manager) OpenRequest(clientID string, s *Sealed, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.get(clientID)
	if err != nil {
		return nil, err
	}
	if r.dek == nil || r.mpk == nil {
		return nil, ErrInvalidKey
	}
	csk, err := m.config.Cipher.Decrypt(r.dek, s.EncryptedCSK)
	if err != nil || len(csk) < len(r.csk) || !crypto.Equal(csk[:len(r.csk)], r.csk) {
		return nil, ErrWrongSignature
	}
	return m.open(r.dek, r.mpk, s, n)
}

// OpenResponse decrypts n payload bytes of a sealed response and verifies
// the MAC. The DEK and MPK carried by the response are used when present,
// so the result does not depend on keys other responses installed in the
// meantime.
func (m *Manager) OpenResponse(clientID string, s *Sealed, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.get(clientID)
	if err != nil {
		return nil, err
	}
	dek, mpk := r.dek, r.mpk
	if len(s.EncryptedDEK) > 0 || len(s.EncryptedMPK) > 0 {
		kek, err := m.kek(clientID, r)
		if err != nil {
			return nil, err
		}
		if len(s.EncryptedDEK) > 0 {
			if dek, err = m.unwrap(kek, s.EncryptedDEK); err != nil {
				return nil, err
			}
		}
		if len(s.EncryptedMPK) > 0 {
			if mpk, err = m.unwrap(kek, s.EncryptedMPK); err != nil {
				return nil, err
			}
		}
	}
	if dek == nil || mpk == nil {
		return nil, ErrInvalidKey
	}
	return m.open(dek, mpk, s, n)
}

// seal MACs and encrypts payload. The lock must be held.
func (m *Manager) seal(dek, mpk, payload []byte) (mac, ciphertext []byte, err error) {
	if mac, err = m.macWith(mpk, payload); err != nil {
		return nil, nil, err
	}
	if len(payload) == 0 {
		return mac, []byte{}, nil
	}
	if ciphertext, err = m.config.Cipher.Encrypt(dek, payload); err != nil {
		return nil, nil, err
	}
	return mac, ciphertext, nil
}

// open decrypts and verifies a sealed payload of n bytes. The lock must be
// held.
func (m *Manager) open(dek, mpk []byte, s *Sealed, n int) ([]byte, error) {
	if n < 0 || len(s.Ciphertext) != m.config.Cipher.RoundedSize(n) {
		return nil, ErrOutOfRange
	}
	var plain []byte
	if n > 0 {
		p, err := m.config.Cipher.Decrypt(dek, s.Ciphertext)
		if err != nil {
			return nil, err
		}
		plain = p[:n]
	}
	want, err := m.macWith(mpk, plain)
	if err != nil {
		return nil, err
	}
	if !crypto.Equal(want, s.MAC) {
		return nil, ErrWrongMAC
	}
	return plain, nil
}
