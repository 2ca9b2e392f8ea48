package iso8583

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Sealer encrypts and decrypts the blob an Obscurer stores in its carrier
// field. Open may return trailing padding after the sealed plaintext.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Obscurer moves selected fields of a message into an encrypted carrier
// field and restores them on the other side.
type Obscurer interface {
	// Obscure removes the present fields among fields from m and stores them,
	// sealed, in the carrier field. Absent fields are skipped.
	Obscure(m *Message, fields []int, s Sealer) error

	// Reveal restores the fields held by the carrier and removes the carrier.
	// A message without a carrier is left unchanged.
	Reveal(m *Message, s Sealer) error
}

// ReplacedByEncryptedData stores each obscured field as a self-describing
// entry [field:1][len:2][wire bytes] inside the carrier.
type ReplacedByEncryptedData struct {
	Carrier int
}

// ReplacedByEncryptedDataSimple stores a 16-byte bitmap of the obscured
// fields followed by their wire encodings in ascending field order.
type ReplacedByEncryptedDataSimple struct {
	Carrier int
}

// Obscure implements Obscurer.
func (o ReplacedByEncryptedData) Obscure(m *Message, fields []int, s Sealer) error {
	selected, err := selectFields(m, o.Carrier, fields)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}

	var blob []byte
	for _, n := range selected {
		wire, err := m.fields[n].appendWire(nil)
		if err != nil {
			return fieldErr(n, err)
		}
		blob = append(blob, byte(n))
		blob = binary.BigEndian.AppendUint16(blob, uint16(len(wire)))
		blob = append(blob, wire...)
	}
	return seal(m, o.Carrier, selected, blob, s)
}

// Reveal implements Obscurer.
func (o ReplacedByEncryptedData) Reveal(m *Message, s Sealer) error {
	blob, ok, err := open(m, o.Carrier, s)
	if err != nil || !ok {
		return err
	}

	for pos := 0; pos < len(blob); {
		if len(blob)-pos < 3 {
			return ErrInsufficientData
		}
		n := int(blob[pos])
		size := int(binary.BigEndian.Uint16(blob[pos+1:]))
		pos += 3
		if len(blob)-pos < size {
			return fieldErr(n, ErrInsufficientData)
		}
		f, err := m.settable(n)
		if err != nil {
			return err
		}
		c, err := f.decode(blob[pos : pos+size])
		if err != nil {
			return fieldErr(n, err)
		}
		if c != size {
			return fieldErr(n, ErrTrailingData)
		}
		pos += size
	}
	m.Unset(o.Carrier)
	return nil
}

// Obscure implements Obscurer.
func (o ReplacedByEncryptedDataSimple) Obscure(m *Message, fields []int, s Sealer) error {
	selected, err := selectFields(m, o.Carrier, fields)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}

	var b Bitmap
	for _, n := range selected {
		b.Set(n)
	}
	blob := append([]byte(nil), b[:]...)
	for _, n := range selected {
		if blob, err = m.fields[n].appendWire(blob); err != nil {
			return fieldErr(n, err)
		}
	}
	return seal(m, o.Carrier, selected, blob, s)
}

// Reveal implements Obscurer.
func (o ReplacedByEncryptedDataSimple) Reveal(m *Message, s Sealer) error {
	blob, ok, err := open(m, o.Carrier, s)
	if err != nil || !ok {
		return err
	}
	if len(blob) < len(Bitmap{}) {
		return ErrInsufficientData
	}

	var b Bitmap
	copy(b[:], blob)
	pos := len(b)
	for _, n := range b.Fields() {
		f, err := m.settable(n)
		if err != nil {
			return err
		}
		c, err := f.decode(blob[pos:])
		if err != nil {
			return fieldErr(n, err)
		}
		pos += c
	}
	if pos != len(blob) {
		return ErrTrailingData
	}
	m.Unset(o.Carrier)
	return nil
}

func checkCarrier(m *Message, carrier int) error {
	f := m.Field(carrier)
	if f == nil || carrier == 1 {
		return fmt.Errorf("%w: field %d not defined", ErrInvalidCarrier, carrier)
	}
	if f.spec.Type != TypeBinary || f.spec.Length == LengthFixed {
		return fmt.Errorf("%w: field %d must be variable-length binary", ErrInvalidCarrier, carrier)
	}
	return nil
}

func selectFields(m *Message, carrier int, fields []int) ([]int, error) {
	if err := checkCarrier(m, carrier); err != nil {
		return nil, err
	}
	if m.Has(carrier) {
		return nil, fmt.Errorf("%w: field %d already in use", ErrInvalidCarrier, carrier)
	}
	seen := make(map[int]bool, len(fields))
	var out []int
	for _, n := range fields {
		if n == carrier || n < 2 || n > MaxField || seen[n] {
			continue
		}
		seen[n] = true
		if m.fields[n].present {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

// seal prefixes blob with its length, seals it into the carrier and removes
// the obscured fields.
func seal(m *Message, carrier int, selected []int, blob []byte, s Sealer) error {
	if len(blob) > 0xFFFF {
		return fieldErr(carrier, ErrFieldLengthExceeded)
	}
	plain := binary.BigEndian.AppendUint16(make([]byte, 0, len(blob)+2), uint16(len(blob)))
	plain = append(plain, blob...)

	sealed, err := s.Seal(plain)
	if err != nil {
		return err
	}
	if err := m.SetBytes(carrier, sealed); err != nil {
		return err
	}
	for _, n := range selected {
		m.Unset(n)
	}
	return nil
}

// open returns the unsealed blob from the carrier, or false when the carrier
// is absent.
func open(m *Message, carrier int, s Sealer) ([]byte, bool, error) {
	if err := checkCarrier(m, carrier); err != nil {
		return nil, false, err
	}
	if !m.Has(carrier) {
		return nil, false, nil
	}
	plain, err := s.Open(m.fields[carrier].data)
	if err != nil {
		return nil, false, err
	}
	if len(plain) < 2 {
		return nil, false, fieldErr(carrier, ErrInsufficientData)
	}
	size := int(binary.BigEndian.Uint16(plain))
	if len(plain)-2 < size {
		return nil, false, fieldErr(carrier, ErrInsufficientData)
	}
	return plain[2 : 2+size], true, nil
}
