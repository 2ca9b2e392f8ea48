package session

import (
	"encoding/binary"
	"time"

	"github.com/backkem/isogate/pkg/crypto"
)

// DefaultAdminWindow is how far an admin secret timestamp may lie from the
// receiver's clock.
const DefaultAdminWindow = 100000000 * time.Millisecond

// adminSecretSize is the plaintext size: an 8-byte millisecond timestamp
// followed by 8 random bytes.
const adminSecretSize = 16

var adminKeySalt = []byte("isogate admin secret")

// AdminKey derives the admin secret key for alg from a passphrase with
// PBKDF2-SHA256.
func AdminKey(passphrase string, alg crypto.Algorithm) []byte {
	return crypto.PBKDF2SHA256([]byte(passphrase), adminKeySalt, crypto.PBKDF2Iterations, alg.DefaultKeySize())
}

// AdminSecret returns a fresh admin secret stamped with at.
func (c *Codec) AdminSecret(at time.Time) ([]byte, error) {
	if len(c.config.AdminKey) == 0 {
		return nil, Errorf(KindWrongConfiguration, "no admin key configured")
	}
	nonce, err := crypto.RandomBytes(adminSecretSize - 8)
	if err != nil {
		return nil, err
	}
	plain := binary.BigEndian.AppendUint64(make([]byte, 0, adminSecretSize), uint64(at.UnixMilli()))
	plain = append(plain, nonce...)
	return c.keys.Cipher().Encrypt(c.config.AdminKey, plain)
}

// checkAdminSecret decrypts secret and returns its timestamp in unix
// milliseconds. Timestamps further than the admin window from now are
// rejected as WrongSignature.
func (c *Codec) checkAdminSecret(secret []byte) (int64, error) {
	if len(c.config.AdminKey) == 0 {
		return 0, Errorf(KindWrongConfiguration, "no admin key configured")
	}
	plain, err := c.keys.Cipher().Decrypt(c.config.AdminKey, secret)
	if err != nil {
		return 0, Wrap(KindWrongSignature, err, "admin secret")
	}
	if len(plain) < adminSecretSize {
		return 0, Errorf(KindWrongSignature, "admin secret of %d bytes", len(plain))
	}
	ts := int64(binary.BigEndian.Uint64(plain))
	age := c.config.Now().UnixMilli() - ts
	window := c.config.AdminWindow.Milliseconds()
	if age > window || -age > window {
		return ts, Errorf(KindWrongSignature, "admin secret is %d ms from now", age)
	}
	return ts, nil
}
