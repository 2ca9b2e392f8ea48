package iso8583

import (
	"fmt"
	"strconv"

	"github.com/backkem/isogate/pkg/bcd"
)

const (
	// TPDUSize is the size of the transport header.
	TPDUSize = 5

	// DefaultTPDUID is the conventional transport header identifier.
	DefaultTPDUID = 0x60

	// MaxNII is the largest network identifier a header can carry.
	MaxNII = 9999
)

// TPDU is the 5-byte routing header: identifier, 2 BCD bytes of destination
// address and 2 BCD bytes of origin address.
type TPDU [TPDUSize]byte

// NewTPDU builds a header from an identifier and two network identifiers.
func NewTPDU(id byte, destination, origin int) (TPDU, error) {
	t := TPDU{0: id}
	if err := t.SetDestination(destination); err != nil {
		return TPDU{}, err
	}
	if err := t.SetOrigin(origin); err != nil {
		return TPDU{}, err
	}
	return t, nil
}

// ParseTPDU reads a header from the front of b.
func ParseTPDU(b []byte) (TPDU, error) {
	var t TPDU
	if len(b) < TPDUSize {
		return t, ErrInvalidTPDU
	}
	copy(t[:], b[:TPDUSize])
	return t, nil
}

// ID returns the identifier byte.
func (t TPDU) ID() byte { return t[0] }

// Destination returns the destination network identifier, or -1 when the
// address bytes are not decimal.
func (t TPDU) Destination() int { return nii(t[1:3]) }

// Origin returns the origin network identifier, or -1 when the address bytes
// are not decimal.
func (t TPDU) Origin() int { return nii(t[3:5]) }

// SetDestination sets the destination network identifier.
func (t *TPDU) SetDestination(n int) error {
	return setNII(t[1:3], n)
}

// SetOrigin sets the origin network identifier.
func (t *TPDU) SetOrigin(n int) error {
	return setNII(t[3:5], n)
}

// SwapNII exchanges the destination and origin addresses.
func (t *TPDU) SwapNII() {
	t[1], t[2], t[3], t[4] = t[3], t[4], t[1], t[2]
}

// Swapped returns a copy with destination and origin exchanged.
func (t TPDU) Swapped() TPDU {
	t.SwapNII()
	return t
}

// Bytes returns the header as a new slice.
func (t TPDU) Bytes() []byte {
	out := make([]byte, TPDUSize)
	copy(out, t[:])
	return out
}

// String renders the header as "ID DEST ORIG" in hex digits.
func (t TPDU) String() string {
	return fmt.Sprintf("%02X %s %s", t[0], bcd.ToString(t[1:3]), bcd.ToString(t[3:5]))
}

func nii(b []byte) int {
	n, err := strconv.Atoi(bcd.ToString(b))
	if err != nil {
		return -1
	}
	return n
}

func setNII(dst []byte, n int) error {
	if n < 0 || n > MaxNII {
		return fmt.Errorf("%w: network identifier %d out of range", ErrInvalidTPDU, n)
	}
	b, err := bcd.FromString(fmt.Sprintf("%04d", n), 2)
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}
