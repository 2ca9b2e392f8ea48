package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownAnswers(t *testing.T) {
	tests := []struct {
		name   string
		config CipherConfig
		key    string
		plain  string
		cipher string
	}{
		{
			name:   "aes fips-197",
			config: CipherConfig{Algorithm: AlgorithmAES, Mode: ModeECB},
			key:    "000102030405060708090a0b0c0d0e0f",
			plain:  "00112233445566778899aabbccddeeff",
			cipher: "69c4e0d86a7b0430d8cdb78070b4c55a",
		},
		{
			name:   "des",
			config: CipherConfig{Algorithm: AlgorithmDES, Mode: ModeECB},
			key:    "133457799bbcdff1",
			plain:  "0123456789abcdef",
			cipher: "85e813540f0ab405",
		},
		{
			name:   "3des degenerate",
			config: CipherConfig{Algorithm: AlgorithmTripleDES, Mode: ModeECB},
			key:    "133457799bbcdff1133457799bbcdff1",
			plain:  "0123456789abcdef",
			cipher: "85e813540f0ab405",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.config.Encrypt(unhex(t, tt.key), unhex(t, tt.plain))
			require.NoError(t, err)
			assert.Equal(t, tt.cipher, hex.EncodeToString(out))

			back, err := tt.config.Decrypt(unhex(t, tt.key), out)
			require.NoError(t, err)
			assert.Equal(t, tt.plain, hex.EncodeToString(back))
		})
	}
}

func TestRoundTripModes(t *testing.T) {
	plain := []byte("0200 purchase of 15.00 at TERM0001")
	for _, alg := range []Algorithm{AlgorithmDES, AlgorithmTripleDES, AlgorithmAES} {
		for _, mode := range []Mode{ModeECB, ModeCBC} {
			t.Run(alg.String()+"/"+mode.String(), func(t *testing.T) {
				key, err := RandomKey(alg)
				require.NoError(t, err)
				c := CipherConfig{Algorithm: alg, Mode: mode, Key: key}
				require.NoError(t, c.Validate())

				out, err := c.Encrypt(key, plain)
				require.NoError(t, err)
				assert.Len(t, out, c.RoundedSize(len(plain)))

				back, err := c.Decrypt(key, out)
				require.NoError(t, err)
				assert.Equal(t, plain, back[:len(plain)])
				assert.Equal(t, make([]byte, len(back)-len(plain)), back[len(plain):])
			})
		}
	}
}

func TestCBCUsesIV(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	c := CipherConfig{Algorithm: AlgorithmAES, Mode: ModeCBC}
	plain := []byte("same plaintext")

	a, err := c.EncryptIV(key, bytes.Repeat([]byte{1}, 16), plain)
	require.NoError(t, err)
	b, err := c.EncryptIV(key, bytes.Repeat([]byte{2}, 16), plain)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = c.EncryptIV(key, []byte{1}, plain)
	assert.ErrorIs(t, err, ErrInvalidIV)
}

func TestCipherErrors(t *testing.T) {
	c := CipherConfig{Algorithm: AlgorithmAES, Mode: ModeECB}
	_, err := c.Encrypt([]byte("short"), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = c.Decrypt(bytes.Repeat([]byte{1}, 16), []byte("not aligned"))
	assert.ErrorIs(t, err, ErrNotBlockAligned)

	assert.ErrorIs(t, CipherConfig{Algorithm: AlgorithmAES, Mode: ModeCBC, Key: make([]byte, 16), IV: []byte{1}}.Validate(), ErrInvalidIV)
	assert.ErrorIs(t, CipherConfig{Algorithm: 9, Mode: ModeCBC}.Validate(), ErrUnknownAlgorithm)
}

func TestRoundedSize(t *testing.T) {
	des := CipherConfig{Algorithm: AlgorithmTripleDES}
	aes := CipherConfig{Algorithm: AlgorithmAES}
	assert.Equal(t, 0, des.RoundedSize(0))
	assert.Equal(t, 8, des.RoundedSize(1))
	assert.Equal(t, 8, des.RoundedSize(8))
	assert.Equal(t, 32, aes.RoundedSize(17))
	assert.Len(t, ZeroPad(nil, 8), 8)
}

func TestParseNames(t *testing.T) {
	for _, a := range []Algorithm{AlgorithmDES, AlgorithmTripleDES, AlgorithmAES} {
		got, err := ParseAlgorithm(strings.ToUpper(a.String()))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	for _, m := range []Mode{ModeECB, ModeCBC} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	for _, d := range []Digest{DigestSHA256, DigestSHA1, DigestSHA512} {
		got, err := ParseDigest(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	_, err := ParseAlgorithm("rc4")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
	assert.Equal(t, 64, DigestSHA512.Size())
	assert.True(t, Equal([]byte{1, 2}, []byte{1, 2}))
}
