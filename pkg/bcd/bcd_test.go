package bcd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStringRoundTrip(t *testing.T) {
	tests := []string{"", "00", "1234", "000000000100", "9876543210123456"}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			b, err := FromString(s, 0)
			require.NoError(t, err)
			assert.Len(t, b, len(s)/2)
			assert.Equal(t, s, ToString(b))
		})
	}
}

func TestPackOddLength(t *testing.T) {
	t.Run("left pad", func(t *testing.T) {
		b, err := Pack("123", 0, PadLeft)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x23}, b)
		assert.Equal(t, "123", Digits(b, 3, PadLeft))
	})

	t.Run("right pad", func(t *testing.T) {
		b, err := Pack("4761739001010010", 0, PadRight)
		require.NoError(t, err)
		assert.Len(t, b, 8)

		b, err = Pack("476173900101001", 0, PadRight)
		require.NoError(t, err)
		assert.Equal(t, byte(0x1F), b[7])
		assert.Equal(t, "476173900101001", Digits(b, 15, PadRight))
	})

	t.Run("fixed width", func(t *testing.T) {
		b, err := FromString("1", 3)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x00, 0x01}, b)
	})

	t.Run("too long", func(t *testing.T) {
		_, err := FromString("12345", 2)
		assert.ErrorIs(t, err, ErrTooLong)
	})

	t.Run("invalid digit", func(t *testing.T) {
		_, err := FromString("12X4", 0)
		assert.ErrorIs(t, err, ErrInvalidDigit)
	})
}

func TestTrack2Separator(t *testing.T) {
	b, err := Pack("4761739001010010=2212", 0, PadRight)
	require.NoError(t, err)
	assert.Equal(t, "4761739001010010D2212", Digits(b, 21, PadRight))

	again, err := Pack(Digits(b, 21, PadRight), 0, PadRight)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("0123456789"))
	assert.True(t, Valid("4761=2212D"))
	assert.True(t, Valid(""))
	assert.False(t, Valid("12 4"))
	assert.False(t, Valid("12X4"))
}

func TestASCII(t *testing.T) {
	assert.Equal(t, "AB.C", ASCIIToString([]byte{'A', 'B', 0, 'C'}))
	assert.Equal(t, []byte("ab  "), StringToASCII("ab", 4))
	assert.Equal(t, []byte("abc"), StringToASCII("abc", 2))
}

func TestLengthPrefix(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		digits int
		ascii  bool
		want   []byte
	}{
		{"var2 bcd", 19, 2, false, []byte{0x19}},
		{"var3 bcd", 999, 3, false, []byte{0x09, 0x99}},
		{"var2 ascii", 7, 2, true, []byte("07")},
		{"var3 ascii", 120, 3, true, []byte("120")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeLength(tt.n, tt.digits, tt.ascii)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			n, used, err := DecodeLength(got, tt.digits, tt.ascii)
			require.NoError(t, err)
			assert.Equal(t, tt.n, n)
			assert.Equal(t, len(got), used)
		})
	}

	t.Run("overflow", func(t *testing.T) {
		_, err := EncodeLength(100, 2, false)
		assert.ErrorIs(t, err, ErrLengthOverflow)
		_, err = EncodeLength(1000, 3, true)
		assert.ErrorIs(t, err, ErrLengthOverflow)
	})

	t.Run("short input", func(t *testing.T) {
		_, _, err := DecodeLength([]byte{0x01}, 3, false)
		assert.ErrorIs(t, err, ErrInvalidLength)
	})
}
