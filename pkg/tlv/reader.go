package tlv

import (
	"encoding/binary"
	"errors"
	"io"
)

// Reader decodes elements from an io.Reader.
type Reader struct {
	r       io.Reader
	last    Tag
	started bool
}

// NewReader creates a Reader that reads from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads the next element. It returns io.EOF when the input ends on an
// element boundary.
func (r *Reader) Next() (Tag, []byte, error) {
	var head [HeaderSize]byte
	n, err := io.ReadFull(r.r, head[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return 0, nil, io.EOF
		}
		return 0, nil, ErrUnexpectedEOF
	}

	tag := Tag(head[0])
	if r.started && tag <= r.last {
		return 0, nil, ErrOutOfOrder
	}
	size := int(binary.BigEndian.Uint16(head[1:]))
	if size == 0 {
		return 0, nil, ErrEmptyValue
	}

	value := make([]byte, size)
	if _, err := io.ReadFull(r.r, value); err != nil {
		return 0, nil, ErrUnexpectedEOF
	}
	r.last, r.started = tag, true
	return tag, value, nil
}
