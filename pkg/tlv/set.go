package tlv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Set is an unordered collection of envelope elements that always encodes
// in ascending tag order.
type Set struct {
	values map[Tag][]byte
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{values: make(map[Tag][]byte)}
}

// Put stores value under tag, replacing any previous value.
func (s *Set) Put(tag Tag, value []byte) error {
	if len(value) == 0 {
		return ErrEmptyValue
	}
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}
	s.values[tag] = append([]byte(nil), value...)
	return nil
}

// PutByte stores a one-byte value.
func (s *Set) PutByte(tag Tag, v byte) error {
	return s.Put(tag, []byte{v})
}

// PutUint16 stores a two-byte big-endian value.
func (s *Set) PutUint16(tag Tag, v uint16) error {
	return s.Put(tag, binary.BigEndian.AppendUint16(nil, v))
}

// PutString stores a string value.
func (s *Set) PutString(tag Tag, v string) error {
	return s.Put(tag, []byte(v))
}

// Get returns the value stored under tag.
func (s *Set) Get(tag Tag) ([]byte, bool) {
	v, ok := s.values[tag]
	return v, ok
}

// Has reports whether tag is present.
func (s *Set) Has(tag Tag) bool {
	_, ok := s.values[tag]
	return ok
}

// Bytes returns the value under tag or ErrTagNotFound.
func (s *Set) Bytes(tag Tag) ([]byte, error) {
	v, ok := s.values[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTagNotFound, tag)
	}
	return v, nil
}

// Byte returns a one-byte value.
func (s *Set) Byte(tag Tag) (byte, error) {
	v, err := s.Bytes(tag)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("%w: %s", ErrTypeMismatch, tag)
	}
	return v[0], nil
}

// Uint16 returns a two-byte big-endian value.
func (s *Set) Uint16(tag Tag) (uint16, error) {
	v, err := s.Bytes(tag)
	if err != nil {
		return 0, err
	}
	if len(v) != 2 {
		return 0, fmt.Errorf("%w: %s", ErrTypeMismatch, tag)
	}
	return binary.BigEndian.Uint16(v), nil
}

// String returns a string value.
func (s *Set) String(tag Tag) (string, error) {
	v, err := s.Bytes(tag)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Delete removes tag.
func (s *Set) Delete(tag Tag) {
	delete(s.values, tag)
}

// Len returns the number of elements.
func (s *Set) Len() int {
	return len(s.values)
}

// Tags returns the present tags in ascending order.
func (s *Set) Tags() []Tag {
	out := make([]Tag, 0, len(s.values))
	for t := range s.values {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Size returns the encoded size of the set.
func (s *Set) Size() int {
	n := 0
	for _, v := range s.values {
		n += HeaderSize + len(v)
	}
	return n
}

// MarshalBinary encodes the set in ascending tag order.
func (s *Set) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(s.Size())
	w := NewWriter(&buf)
	for _, t := range s.Tags() {
		if err := w.Put(t, s.values[t]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the contents of s with the elements in data.
func (s *Set) UnmarshalBinary(data []byte) error {
	values := make(map[Tag][]byte)
	r := NewReader(bytes.NewReader(data))
	for {
		tag, value, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		values[tag] = value
	}
	s.values = values
	return nil
}

// Dump renders the set as "Tag=HEX" pairs for logs.
func (s *Set) Dump() string {
	parts := make([]string, 0, len(s.values))
	for _, t := range s.Tags() {
		parts = append(parts, fmt.Sprintf("%s=%X", t, s.values[t]))
	}
	return strings.Join(parts, " ")
}
