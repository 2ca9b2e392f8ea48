package keys

import (
	"github.com/backkem/isogate/pkg/crypto"
)

// GenerateMAC hashes raw with the configured digest, zero-pads the digest to
// the block size and encrypts it under the client's MAC key.
func (m *Manager) GenerateMAC(clientID string, raw []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mac(clientID, raw)
}

// VerifyMAC reports whether mac matches GenerateMAC for raw.
func (m *Manager) VerifyMAC(clientID string, raw, mac []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want, err := m.mac(clientID, raw)
	if err != nil {
		return false, err
	}
	return crypto.Equal(want, mac), nil
}

func (m *Manager) mac(clientID string, raw []byte) ([]byte, error) {
	r, err := m.get(clientID)
	if err != nil {
		return nil, err
	}
	if r.mpk == nil {
		return nil, ErrInvalidKey
	}
	return m.macWith(r.mpk, raw)
}

// macWith computes the MAC of raw under mpk.
func (m *Manager) macWith(mpk, raw []byte) ([]byte, error) {
	return m.config.Cipher.Encrypt(mpk, m.config.Digest.Sum(raw))
}

// EncryptMessage encrypts count bytes of buf starting at offset under the
// client's DEK. The result has RoundedSize(count) bytes.
func (m *Manager) EncryptMessage(clientID string, buf []byte, offset, count int) ([]byte, error) {
	if offset < 0 || count < 0 || offset+count > len(buf) {
		return nil, ErrOutOfRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	dek, err := m.dek(clientID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []byte{}, nil
	}
	return m.config.Cipher.Encrypt(dek, buf[offset:offset+count])
}

// DecryptMessage decrypts count bytes of buf starting at offset under the
// client's DEK. count must be a multiple of the block size; the zero
// padding is returned as part of the plaintext.
func (m *Manager) DecryptMessage(clientID string, buf []byte, offset, count int) ([]byte, error) {
	if offset < 0 || count < 0 || offset+count > len(buf) {
		return nil, ErrOutOfRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	dek, err := m.dek(clientID)
	if err != nil {
		return nil, err
	}
	return m.config.Cipher.Decrypt(dek, buf[offset:offset+count])
}

func (m *Manager) dek(clientID string) ([]byte, error) {
	r, err := m.get(clientID)
	if err != nil {
		return nil, err
	}
	if r.dek == nil {
		return nil, ErrInvalidKey
	}
	return r.dek, nil
}

// Sealer encrypts field blobs for one client under its DEK. It satisfies
// iso8583.Sealer.
type Sealer struct {
	m        *Manager
	clientID string
}

// Sealer returns a Sealer for clientID.
func (m *Manager) Sealer(clientID string) *Sealer {
	return &Sealer{m: m, clientID: clientID}
}

// Seal encrypts plain under the client's DEK.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	return s.m.EncryptMessage(s.clientID, plain, 0, len(plain))
}

// Open decrypts sealed under the client's DEK.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	return s.m.DecryptMessage(s.clientID, sealed, 0, len(sealed))
}
