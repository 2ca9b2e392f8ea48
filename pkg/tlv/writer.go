package tlv

import (
	"encoding/binary"
	"io"
)

// Writer encodes elements to an io.Writer.
type Writer struct {
	w       io.Writer
	last    Tag
	started bool
}

// NewWriter creates a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Put writes one element. Tags must be written in ascending order.
func (w *Writer) Put(tag Tag, value []byte) error {
	if w.started && tag <= w.last {
		return ErrOutOfOrder
	}
	if len(value) == 0 {
		return ErrEmptyValue
	}
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}

	var head [HeaderSize]byte
	head[0] = byte(tag)
	binary.BigEndian.PutUint16(head[1:], uint16(len(value)))
	if _, err := w.w.Write(head[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(value); err != nil {
		return err
	}
	w.last, w.started = tag, true
	return nil
}
