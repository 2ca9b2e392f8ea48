package tlv

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetEncodesInTagOrder(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.PutUint16(TagLengthOfMessage, 300))
	require.NoError(t, s.PutString(TagClientID, "T1"))
	require.NoError(t, s.PutByte(TagMessageType, 3))

	data, err := s.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x01, 0x00, 0x01, 0x03,
		0x02, 0x00, 0x02, 'T', '1',
		0x09, 0x00, 0x02, 0x01, 0x2C,
	}, data)
	assert.Equal(t, len(data), s.Size())

	got := NewSet()
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, []Tag{TagMessageType, TagClientID, TagLengthOfMessage}, got.Tags())

	mt, err := got.Byte(TagMessageType)
	require.NoError(t, err)
	assert.Equal(t, byte(3), mt)
	id, err := got.String(TagClientID)
	require.NoError(t, err)
	assert.Equal(t, "T1", id)
	n, err := got.Uint16(TagLengthOfMessage)
	require.NoError(t, err)
	assert.Equal(t, uint16(300), n)
}

func TestSetGetters(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.PutString(TagClientID, "T1"))

	_, err := s.Byte(TagMessageType)
	assert.ErrorIs(t, err, ErrTagNotFound)
	_, err = s.Uint16(TagClientID)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	assert.ErrorIs(t, s.Put(TagIV, nil), ErrEmptyValue)
	assert.ErrorIs(t, s.Put(TagIV, make([]byte, MaxValueSize+1)), ErrValueTooLarge)

	s.Delete(TagClientID)
	assert.False(t, s.Has(TagClientID))
	assert.Equal(t, 0, s.Len())
}

func TestReaderRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"out of order", []byte{0x02, 0x00, 0x01, 'a', 0x01, 0x00, 0x01, 0x03}, ErrOutOfOrder},
		{"duplicate", []byte{0x01, 0x00, 0x01, 0x03, 0x01, 0x00, 0x01, 0x03}, ErrOutOfOrder},
		{"empty", []byte{0x01, 0x00, 0x00}, ErrEmptyValue},
		{"short header", []byte{0x01, 0x00}, ErrUnexpectedEOF},
		{"short value", []byte{0x01, 0x00, 0x04, 0x03}, ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, NewSet().UnmarshalBinary(tt.data), tt.err)
		})
	}
}

func TestReaderWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Put(TagMessageType, []byte{1}))
	require.NoError(t, w.Put(TagIV, []byte{1, 2}))
	assert.ErrorIs(t, w.Put(TagClientID, []byte{1}), ErrOutOfOrder)

	r := NewReader(&buf)
	tag, v, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TagMessageType, tag)
	assert.Equal(t, []byte{1}, v)
	tag, _, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, TagIV, tag)
	_, _, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestTagNames(t *testing.T) {
	for tag := TagMessageType; tag <= TagIV; tag++ {
		assert.True(t, tag.IsValid())
		assert.NotEqual(t, "Unknown", tag.String())
	}
	assert.False(t, Tag(0x11).IsValid())
	assert.Contains(t, func() string {
		s := NewSet()
		_ = s.PutByte(TagMessageType, 9)
		return s.Dump()
	}(), "MessageType=09")
}
