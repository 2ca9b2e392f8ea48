package iso8583

import (
	"github.com/backkem/isogate/pkg/bcd"
	"github.com/backkem/isogate/pkg/frame"
)

// Message is one ISO 8583 message built from a shared Template.
//
// A Message is not safe for concurrent use.
type Message struct {
	template  *Template
	header    TPDU
	mti       string
	fields    [MaxField + 1]Field
	lastField int
}

// NewMessage creates an empty message for t.
func NewMessage(t *Template) *Message {
	m := &Message{template: t}
	m.fields[1] = Field{spec: secondaryBitmapSpec, template: t}
	for n := 2; n <= MaxField; n++ {
		m.fields[n] = Field{spec: t.fields[n], template: t}
	}
	return m
}

// Template returns the message template.
func (m *Message) Template() *Template { return m.template }

// MTI returns the message type indicator.
func (m *Message) MTI() string { return m.mti }

// SetMTI sets the message type indicator. It must be four decimal digits.
func (m *Message) SetMTI(mti string) error {
	if !validMTI(mti) {
		return ErrInvalidMTI
	}
	m.mti = mti
	return nil
}

// Header returns the transport header.
func (m *Message) Header() TPDU { return m.header }

// SetHeader sets the transport header. It is only written when the template
// has a header.
func (m *Message) SetHeader(t TPDU) { m.header = t }

// LastField returns the last field number processed by Pack or Unpack,
// which on failure is the field that failed.
func (m *Message) LastField() int { return m.lastField }

// Field returns field n, or nil for numbers the template does not define.
func (m *Message) Field(n int) *Field {
	if n < 1 || n > MaxField {
		return nil
	}
	f := &m.fields[n]
	if !f.spec.defined() {
		return nil
	}
	return f
}

// Has reports whether field n is present.
func (m *Message) Has(n int) bool {
	if n < 1 || n > MaxField {
		return false
	}
	if n == 1 {
		return m.hasSecondary()
	}
	return m.fields[n].present
}

func (m *Message) settable(n int) (*Field, error) {
	if n == 1 {
		return nil, fieldErr(n, ErrReservedField)
	}
	if n < 1 || n > MaxField {
		return nil, fieldErr(n, ErrInvalidField)
	}
	f := &m.fields[n]
	if !f.spec.defined() {
		return nil, fieldErr(n, ErrFieldNotDefined)
	}
	return f, nil
}

// SetString sets field n from its string form: characters for alphanumeric
// fields, digits for BCD fields and hex for binary fields.
func (m *Message) SetString(n int, s string) error {
	f, err := m.settable(n)
	if err != nil {
		return err
	}
	if err := f.setString(s); err != nil {
		return fieldErr(n, err)
	}
	m.syncSecondary()
	return nil
}

// SetBytes sets field n from raw bytes: bytes for binary fields, packed
// digits for BCD fields and characters for alphanumeric fields.
func (m *Message) SetBytes(n int, b []byte) error {
	f, err := m.settable(n)
	if err != nil {
		return err
	}
	if err := f.setBytes(b); err != nil {
		return fieldErr(n, err)
	}
	m.syncSecondary()
	return nil
}

// GetString returns the string form of field n.
func (m *Message) GetString(n int) (string, error) {
	if !m.Has(n) {
		return "", fieldErr(n, ErrFieldNotPresent)
	}
	return m.fields[n].String(), nil
}

// GetBytes returns a copy of the encoded bytes of field n.
func (m *Message) GetBytes(n int) ([]byte, error) {
	if !m.Has(n) {
		return nil, fieldErr(n, ErrFieldNotPresent)
	}
	return m.fields[n].Bytes(), nil
}

// Unset removes field n.
func (m *Message) Unset(n int) {
	if n < 2 || n > MaxField {
		return
	}
	m.fields[n].reset()
	m.syncSecondary()
}

// Present returns the present field numbers in ascending order, excluding
// field 1.
func (m *Message) Present() []int {
	var out []int
	for n := 2; n <= MaxField; n++ {
		if m.fields[n].present {
			out = append(out, n)
		}
	}
	return out
}

// Reset clears the message type, header and every field.
func (m *Message) Reset() {
	m.mti = ""
	m.header = TPDU{}
	m.lastField = 0
	for n := 1; n <= MaxField; n++ {
		m.fields[n].reset()
	}
}

func (m *Message) hasSecondary() bool {
	for n := 65; n <= MaxField; n++ {
		if m.fields[n].present {
			return true
		}
	}
	return false
}

func (m *Message) bitmap() Bitmap {
	var b Bitmap
	for n := 2; n <= MaxField; n++ {
		if m.fields[n].present {
			b.Set(n)
		}
	}
	if b.HasSecondary() {
		b.Set(1)
	}
	return b
}

// syncSecondary keeps field 1 consistent with the presence of fields
// 65-128.
func (m *Message) syncSecondary() {
	b := m.bitmap()
	if !b.Has(1) {
		m.fields[1].reset()
		return
	}
	data := make([]byte, BitmapSize)
	copy(data, b[BitmapSize:])
	m.fields[1].present = true
	m.fields[1].length = BitmapSize
	m.fields[1].data = data
}

// CreateBitmap returns the 8-byte primary bitmap. Field 1 is present with
// the secondary bitmap as its value exactly when a field in 65-128 is set.
func (m *Message) CreateBitmap() []byte {
	m.syncSecondary()
	b := m.bitmap()
	out := make([]byte, BitmapSize)
	copy(out, b[:BitmapSize])
	return out
}

// Bitmap returns the full presence bitmap.
func (m *Message) Bitmap() Bitmap {
	return m.bitmap()
}

// Pack serializes the message preceded by the given length prefix.
func (m *Message) Pack(prefix frame.Prefix) ([]byte, error) {
	body, err := m.pack()
	if err != nil {
		return nil, err
	}
	return prefix.Encode(body)
}

func (m *Message) pack() ([]byte, error) {
	m.lastField = 0
	if !validMTI(m.mti) {
		return nil, ErrInvalidMTI
	}

	out := make([]byte, 0, 256)
	if m.template.hasHeader {
		out = append(out, m.header[:]...)
	}

	if m.template.mtiASCII {
		out = append(out, m.mti...)
	} else {
		mti, err := bcd.FromString(m.mti, 2)
		if err != nil {
			return nil, ErrInvalidMTI
		}
		out = append(out, mti...)
	}

	m.syncSecondary()
	out = append(out, m.bitmap().Encode(m.template.bitmapASCII)...)

	for n := 2; n <= MaxField; n++ {
		f := &m.fields[n]
		if !f.present {
			continue
		}
		m.lastField = n
		var err error
		if out, err = f.appendWire(out); err != nil {
			return nil, fieldErr(n, err)
		}
	}
	return out, nil
}

// Unpack parses length bytes of data starting at offset. The input must not
// include an outer length prefix. On failure LastField names the field being
// decoded.
func (m *Message) Unpack(data []byte, offset, length int) error {
	m.Reset()
	if offset < 0 || length < 0 || offset+length > len(data) {
		return ErrInsufficientData
	}
	b := data[offset : offset+length]
	pos := 0

	if m.template.hasHeader {
		h, err := ParseTPDU(b)
		if err != nil {
			return err
		}
		m.header = h
		pos += TPDUSize
	}

	if m.template.mtiASCII {
		if len(b)-pos < 4 {
			return ErrInsufficientData
		}
		mti := string(b[pos : pos+4])
		if !validMTI(mti) {
			return ErrInvalidMTI
		}
		m.mti = mti
		pos += 4
	} else {
		if len(b)-pos < 2 {
			return ErrInsufficientData
		}
		mti := bcd.ToString(b[pos : pos+2])
		if !validMTI(mti) {
			return ErrInvalidMTI
		}
		m.mti = mti
		pos += 2
	}

	bitmap, n, err := DecodeBitmap(b[pos:], m.template.bitmapASCII)
	if err != nil {
		return err
	}
	pos += n

	last := 64
	if bitmap.Has(1) {
		last = MaxField
	}
	for i := 2; i <= last; i++ {
		if !bitmap.Has(i) {
			continue
		}
		m.lastField = i
		f := &m.fields[i]
		if !f.spec.defined() {
			return fieldErr(i, ErrFieldNotDefined)
		}
		c, err := f.decode(b[pos:])
		if err != nil {
			return fieldErr(i, err)
		}
		pos += c
	}
	m.syncSecondary()

	if pos != len(b) {
		return ErrTrailingData
	}
	return nil
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := &Message{
		template:  m.template,
		header:    m.header,
		mti:       m.mti,
		lastField: m.lastField,
	}
	for n := 1; n <= MaxField; n++ {
		c.fields[n] = m.fields[n]
		c.fields[n].data = m.fields[n].Bytes()
		if !m.fields[n].present {
			c.fields[n].data = nil
		}
	}
	return c
}
