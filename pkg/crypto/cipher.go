package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"
	"strings"
)

// Algorithm is a block cipher.
type Algorithm byte

const (
	// AlgorithmDES is single DES with 8-byte keys.
	AlgorithmDES Algorithm = iota + 1
	// AlgorithmTripleDES is DES-EDE with 16-byte (K1K2K1) or 24-byte keys.
	AlgorithmTripleDES
	// AlgorithmAES accepts 16, 24 or 32-byte keys.
	AlgorithmAES
)

// String returns the configuration name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmDES:
		return "des"
	case AlgorithmTripleDES:
		return "3des"
	case AlgorithmAES:
		return "aes"
	default:
		return "unknown"
	}
}

// IsValid returns true if the algorithm is a defined value.
func (a Algorithm) IsValid() bool {
	return a >= AlgorithmDES && a <= AlgorithmAES
}

// BlockSize returns the cipher block size in bytes.
func (a Algorithm) BlockSize() int {
	if a == AlgorithmAES {
		return aes.BlockSize
	}
	return des.BlockSize
}

// DefaultKeySize returns the key length used for generated keys.
func (a Algorithm) DefaultKeySize() int {
	switch a {
	case AlgorithmDES:
		return 8
	case AlgorithmTripleDES:
		return 16
	default:
		return 32
	}
}

// ValidKeySize reports whether n is an accepted key length.
func (a Algorithm) ValidKeySize(n int) bool {
	switch a {
	case AlgorithmDES:
		return n == 8
	case AlgorithmTripleDES:
		return n == 16 || n == 24
	case AlgorithmAES:
		return n == 16 || n == 24 || n == 32
	}
	return false
}

// ParseAlgorithm parses an algorithm configuration name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "des":
		return AlgorithmDES, nil
	case "3des", "tdes", "tripledes", "des3":
		return AlgorithmTripleDES, nil
	case "aes", "":
		return AlgorithmAES, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// Mode is a block cipher mode of operation.
type Mode byte

const (
	// ModeECB encrypts each block independently.
	ModeECB Mode = iota + 1
	// ModeCBC chains blocks starting from an IV.
	ModeCBC
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeECB:
		return "ecb"
	case ModeCBC:
		return "cbc"
	default:
		return "unknown"
	}
}

// IsValid returns true if the mode is a defined value.
func (m Mode) IsValid() bool {
	return m == ModeECB || m == ModeCBC
}

// ParseMode parses a mode configuration name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "ecb":
		return ModeECB, nil
	case "cbc", "":
		return ModeCBC, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// CipherConfig selects the block cipher for an installation. Key is the
// master key; per-client keys are passed to Encrypt and Decrypt.
type CipherConfig struct {
	Algorithm Algorithm
	Mode      Mode

	// Key is the master key that wraps client keys.
	Key []byte

	// IV is the CBC initialization vector. Default: all zero.
	IV []byte
}

// Validate checks the algorithm, mode, master key and IV lengths.
func (c CipherConfig) Validate() error {
	if !c.Algorithm.IsValid() {
		return ErrUnknownAlgorithm
	}
	if !c.Mode.IsValid() {
		return ErrUnknownMode
	}
	if !c.Algorithm.ValidKeySize(len(c.Key)) {
		return fmt.Errorf("%w: %d bytes for %s", ErrInvalidKeySize, len(c.Key), c.Algorithm)
	}
	if len(c.IV) != 0 && len(c.IV) != c.Algorithm.BlockSize() {
		return fmt.Errorf("%w: %d bytes", ErrInvalidIV, len(c.IV))
	}
	return nil
}

// BlockSize returns the block size of the configured algorithm.
func (c CipherConfig) BlockSize() int {
	return c.Algorithm.BlockSize()
}

// RoundedSize rounds n up to a multiple of the block size.
func (c CipherConfig) RoundedSize(n int) int {
	bs := c.BlockSize()
	return (n + bs - 1) / bs * bs
}

// Info returns the two-byte [algorithm][mode] descriptor carried in
// envelopes.
func (c CipherConfig) Info() []byte {
	return []byte{byte(c.Algorithm), byte(c.Mode)}
}

// Encrypt zero-pads plaintext to the block size and encrypts it under key
// with the configured mode and IV.
func (c CipherConfig) Encrypt(key, plaintext []byte) ([]byte, error) {
	return c.EncryptIV(key, c.iv(), plaintext)
}

// Decrypt decrypts ciphertext under key with the configured mode and IV.
// Padding is left in place.
func (c CipherConfig) Decrypt(key, ciphertext []byte) ([]byte, error) {
	return c.DecryptIV(key, c.iv(), ciphertext)
}

// EncryptIV is like Encrypt with an explicit CBC IV.
func (c CipherConfig) EncryptIV(key, iv, plaintext []byte) ([]byte, error) {
	block, err := c.block(key)
	if err != nil {
		return nil, err
	}
	out := ZeroPad(plaintext, block.BlockSize())
	if c.Mode == ModeCBC {
		if len(iv) != block.BlockSize() {
			return nil, ErrInvalidIV
		}
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, out)
		return out, nil
	}
	for i := 0; i < len(out); i += block.BlockSize() {
		block.Encrypt(out[i:], out[i:])
	}
	return out, nil
}

// DecryptIV is like Decrypt with an explicit CBC IV.
func (c CipherConfig) DecryptIV(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := c.block(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, ErrNotBlockAligned
	}
	out := make([]byte, len(ciphertext))
	if c.Mode == ModeCBC {
		if len(iv) != block.BlockSize() {
			return nil, ErrInvalidIV
		}
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
		return out, nil
	}
	for i := 0; i < len(out); i += block.BlockSize() {
		block.Decrypt(out[i:], ciphertext[i:])
	}
	return out, nil
}

func (c CipherConfig) iv() []byte {
	if len(c.IV) != 0 {
		return c.IV
	}
	return make([]byte, c.BlockSize())
}

func (c CipherConfig) block(key []byte) (cipher.Block, error) {
	if !c.Algorithm.ValidKeySize(len(key)) {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrInvalidKeySize, len(key), c.Algorithm)
	}
	switch c.Algorithm {
	case AlgorithmDES:
		return des.NewCipher(key)
	case AlgorithmTripleDES:
		if len(key) == 16 {
			k := make([]byte, 0, 24)
			k = append(k, key...)
			k = append(k, key[:8]...)
			key = k
		}
		return des.NewTripleDESCipher(key)
	case AlgorithmAES:
		return aes.NewCipher(key)
	}
	return nil, ErrUnknownAlgorithm
}

// ZeroPad returns a copy of b extended with zero bytes to a multiple of
// blockSize. Empty input yields one zero block.
func ZeroPad(b []byte, blockSize int) []byte {
	n := (len(b) + blockSize - 1) / blockSize * blockSize
	if n == 0 {
		n = blockSize
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
