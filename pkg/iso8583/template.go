package iso8583

import (
	"fmt"
	"sort"

	"github.com/backkem/isogate/pkg/bcd"
)

// DefaultOddPadThreshold is the BCD length at which odd-length values switch
// from a leading pad nibble to a trailing one.
const DefaultOddPadThreshold = 6

// FieldSpec describes one field of a template.
//
// MaxLength counts digits for BCD fields, characters for alphanumeric
// fields and bytes for binary fields.
type FieldSpec struct {
	Number    int
	Length    LengthType
	Type      FieldType
	MaxLength int
	Display   Display
}

// defined reports whether the spec describes a field.
func (s FieldSpec) defined() bool {
	return s.Number != 0
}

// TemplateConfig is used to build a Template.
type TemplateConfig struct {
	// Name identifies the template in logs.
	Name string

	// Fields lists the field specs. Field numbers must be unique and in
	// 2-128; field 1 is implied by the bitmap.
	Fields []FieldSpec

	// BitmapASCII encodes bitmaps as hex characters instead of raw bytes.
	BitmapASCII bool

	// LengthASCII encodes variable length prefixes as decimal characters
	// instead of BCD.
	LengthASCII bool

	// MTIASCII encodes the message type as 4 characters instead of 2 BCD bytes.
	MTIASCII bool

	// HasHeader prepends a 5-byte TPDU to every message.
	HasHeader bool

	// OddPadThreshold selects the pad side for odd-length BCD values: values
	// shorter than the threshold are left padded, longer ones right padded.
	// Default: DefaultOddPadThreshold.
	OddPadThreshold int
}

// Template is an immutable table of field specs shared by many messages.
type Template struct {
	name            string
	fields          [MaxField + 1]FieldSpec
	bitmapASCII     bool
	lengthASCII     bool
	mtiASCII        bool
	hasHeader       bool
	oddPadThreshold int
}

// NewTemplate validates config and builds a Template.
func NewTemplate(config TemplateConfig) (*Template, error) {
	t := &Template{
		name:            config.Name,
		bitmapASCII:     config.BitmapASCII,
		lengthASCII:     config.LengthASCII,
		mtiASCII:        config.MTIASCII,
		hasHeader:       config.HasHeader,
		oddPadThreshold: config.OddPadThreshold,
	}
	if t.oddPadThreshold <= 0 {
		t.oddPadThreshold = DefaultOddPadThreshold
	}

	for _, f := range config.Fields {
		if f.Number < 2 || f.Number > MaxField {
			return nil, fmt.Errorf("%w: field number %d out of range", ErrInvalidTemplate, f.Number)
		}
		if t.fields[f.Number].defined() {
			return nil, fmt.Errorf("%w: field %d defined twice", ErrInvalidTemplate, f.Number)
		}
		if !f.Length.IsValid() || !f.Type.IsValid() {
			return nil, fmt.Errorf("%w: field %d has invalid length or type", ErrInvalidTemplate, f.Number)
		}
		if f.MaxLength <= 0 {
			return nil, fmt.Errorf("%w: field %d has no maximum length", ErrInvalidTemplate, f.Number)
		}
		if limit := f.Length.Limit(); limit > 0 && f.MaxLength > limit {
			return nil, fmt.Errorf("%w: field %d maximum %d exceeds %s limit %d",
				ErrInvalidTemplate, f.Number, f.MaxLength, f.Length, limit)
		}
		t.fields[f.Number] = f
	}

	return t, nil
}

// MustTemplate is like NewTemplate but panics on error. It is meant for
// package-level template literals.
func MustTemplate(config TemplateConfig) *Template {
	t, err := NewTemplate(config)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// BitmapASCII reports whether bitmaps are hex-encoded.
func (t *Template) BitmapASCII() bool { return t.bitmapASCII }

// LengthASCII reports whether length prefixes are decimal characters.
func (t *Template) LengthASCII() bool { return t.lengthASCII }

// MTIASCII reports whether the message type is 4 characters.
func (t *Template) MTIASCII() bool { return t.mtiASCII }

// HasHeader reports whether messages carry a TPDU.
func (t *Template) HasHeader() bool { return t.hasHeader }

// Spec returns the spec for field n and whether it is defined.
func (t *Template) Spec(n int) (FieldSpec, bool) {
	if n < 1 || n > MaxField {
		return FieldSpec{}, false
	}
	s := t.fields[n]
	return s, s.defined()
}

// Fields returns the defined specs in ascending field order.
func (t *Template) Fields() []FieldSpec {
	out := make([]FieldSpec, 0, MaxField)
	for n := 2; n <= MaxField; n++ {
		if t.fields[n].defined() {
			out = append(out, t.fields[n])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// oddPad returns the pad side used for a BCD value of n digits.
func (t *Template) oddPad(n int) bcd.Pad {
	if n < t.oddPadThreshold {
		return bcd.PadLeft
	}
	return bcd.PadRight
}

// catalogue is the ISO 8583:1987 field list shared by the built-in templates.
// numeric fields are BCD in the standard template and characters in the
// ASCII template.
var catalogue = []FieldSpec{
	{2, LengthVar2, TypeBCD, 19, DisplayMaskTrack2},
	{3, LengthFixed, TypeBCD, 6, DisplayNone},
	{4, LengthFixed, TypeBCD, 12, DisplayNone},
	{5, LengthFixed, TypeBCD, 12, DisplayNone},
	{6, LengthFixed, TypeBCD, 12, DisplayNone},
	{7, LengthFixed, TypeBCD, 10, DisplayNone},
	{8, LengthFixed, TypeBCD, 8, DisplayNone},
	{9, LengthFixed, TypeBCD, 8, DisplayNone},
	{10, LengthFixed, TypeBCD, 8, DisplayNone},
	{11, LengthFixed, TypeBCD, 6, DisplayNone},
	{12, LengthFixed, TypeBCD, 6, DisplayNone},
	{13, LengthFixed, TypeBCD, 4, DisplayNone},
	{14, LengthFixed, TypeBCD, 4, DisplayHideAll},
	{15, LengthFixed, TypeBCD, 4, DisplayNone},
	{16, LengthFixed, TypeBCD, 4, DisplayNone},
	{17, LengthFixed, TypeBCD, 4, DisplayNone},
	{18, LengthFixed, TypeBCD, 4, DisplayNone},
	{19, LengthFixed, TypeBCD, 3, DisplayNone},
	{20, LengthFixed, TypeBCD, 3, DisplayNone},
	{21, LengthFixed, TypeBCD, 3, DisplayNone},
	{22, LengthFixed, TypeBCD, 3, DisplayNone},
	{23, LengthFixed, TypeBCD, 3, DisplayNone},
	{24, LengthFixed, TypeBCD, 3, DisplayNone},
	{25, LengthFixed, TypeBCD, 2, DisplayNone},
	{26, LengthFixed, TypeBCD, 2, DisplayNone},
	{27, LengthFixed, TypeBCD, 1, DisplayNone},
	{28, LengthFixed, TypeAlphanumeric, 9, DisplayNone},
	{29, LengthFixed, TypeAlphanumeric, 9, DisplayNone},
	{30, LengthFixed, TypeAlphanumeric, 9, DisplayNone},
	{31, LengthFixed, TypeAlphanumeric, 9, DisplayNone},
	{32, LengthVar2, TypeBCD, 11, DisplayNone},
	{33, LengthVar2, TypeBCD, 11, DisplayNone},
	{34, LengthVar2, TypeAlphanumeric, 28, DisplayNone},
	{35, LengthVar2, TypeBCD, 37, DisplayMaskTrack2},
	{36, LengthVar3, TypeAlphanumeric, 104, DisplayHideAll},
	{37, LengthFixed, TypeAlphanumeric, 12, DisplayNone},
	{38, LengthFixed, TypeAlphanumeric, 6, DisplayNone},
	{39, LengthFixed, TypeAlphanumeric, 2, DisplayNone},
	{40, LengthFixed, TypeAlphanumeric, 3, DisplayNone},
	{41, LengthFixed, TypeAlphanumeric, 8, DisplayNone},
	{42, LengthFixed, TypeAlphanumeric, 15, DisplayNone},
	{43, LengthFixed, TypeAlphanumeric, 40, DisplayNone},
	{44, LengthVar2, TypeAlphanumeric, 25, DisplayNone},
	{45, LengthVar2, TypeAlphanumeric, 76, DisplayHideAll},
	{46, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{47, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{48, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{49, LengthFixed, TypeAlphanumeric, 3, DisplayNone},
	{50, LengthFixed, TypeAlphanumeric, 3, DisplayNone},
	{51, LengthFixed, TypeAlphanumeric, 3, DisplayNone},
	{52, LengthFixed, TypeBinary, 8, DisplayHideAll},
	{53, LengthFixed, TypeBCD, 16, DisplayNone},
	{54, LengthVar3, TypeAlphanumeric, 120, DisplayNone},
	{55, LengthVar3, TypeBinary, 999, DisplayNone},
	{56, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{57, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{58, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{59, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{60, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{61, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{62, LengthVar3, TypeBinary, 999, DisplayNone},
	{63, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{64, LengthFixed, TypeBinary, 8, DisplayNone},
	{65, LengthFixed, TypeBinary, 8, DisplayNone},
	{66, LengthFixed, TypeBCD, 1, DisplayNone},
	{67, LengthFixed, TypeBCD, 2, DisplayNone},
	{68, LengthFixed, TypeBCD, 3, DisplayNone},
	{69, LengthFixed, TypeBCD, 3, DisplayNone},
	{70, LengthFixed, TypeBCD, 3, DisplayNone},
	{71, LengthFixed, TypeBCD, 4, DisplayNone},
	{72, LengthFixed, TypeBCD, 4, DisplayNone},
	{73, LengthFixed, TypeBCD, 6, DisplayNone},
	{74, LengthFixed, TypeBCD, 10, DisplayNone},
	{75, LengthFixed, TypeBCD, 10, DisplayNone},
	{76, LengthFixed, TypeBCD, 10, DisplayNone},
	{77, LengthFixed, TypeBCD, 10, DisplayNone},
	{78, LengthFixed, TypeBCD, 10, DisplayNone},
	{79, LengthFixed, TypeBCD, 10, DisplayNone},
	{80, LengthFixed, TypeBCD, 10, DisplayNone},
	{81, LengthFixed, TypeBCD, 10, DisplayNone},
	{82, LengthFixed, TypeBCD, 12, DisplayNone},
	{83, LengthFixed, TypeBCD, 12, DisplayNone},
	{84, LengthFixed, TypeBCD, 12, DisplayNone},
	{85, LengthFixed, TypeBCD, 12, DisplayNone},
	{86, LengthFixed, TypeBCD, 16, DisplayNone},
	{87, LengthFixed, TypeBCD, 16, DisplayNone},
	{88, LengthFixed, TypeBCD, 16, DisplayNone},
	{89, LengthFixed, TypeBCD, 16, DisplayNone},
	{90, LengthFixed, TypeBCD, 42, DisplayNone},
	{91, LengthFixed, TypeAlphanumeric, 1, DisplayNone},
	{92, LengthFixed, TypeAlphanumeric, 2, DisplayNone},
	{93, LengthFixed, TypeAlphanumeric, 5, DisplayNone},
	{94, LengthFixed, TypeAlphanumeric, 7, DisplayNone},
	{95, LengthFixed, TypeAlphanumeric, 42, DisplayNone},
	{96, LengthFixed, TypeBinary, 8, DisplayNone},
	{97, LengthFixed, TypeAlphanumeric, 17, DisplayNone},
	{98, LengthFixed, TypeAlphanumeric, 25, DisplayNone},
	{99, LengthVar2, TypeBCD, 11, DisplayNone},
	{100, LengthVar2, TypeBCD, 11, DisplayNone},
	{101, LengthVar2, TypeAlphanumeric, 17, DisplayNone},
	{102, LengthVar2, TypeAlphanumeric, 28, DisplayNone},
	{103, LengthVar2, TypeAlphanumeric, 28, DisplayNone},
	{104, LengthVar3, TypeAlphanumeric, 100, DisplayNone},
	{105, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{106, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{107, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{108, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{109, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{110, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{111, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{112, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{113, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{114, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{115, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{116, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{117, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{118, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{119, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{120, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{121, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{122, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{123, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{124, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{125, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{126, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{127, LengthVar3, TypeAlphanumeric, 999, DisplayNone},
	{128, LengthFixed, TypeBinary, 8, DisplayNone},
}

var (
	standardTemplate = MustTemplate(TemplateConfig{
		Name:      "standard",
		Fields:    catalogue,
		HasHeader: true,
	})

	asciiTemplate = MustTemplate(TemplateConfig{
		Name:        "ascii",
		Fields:      asciiFields(),
		BitmapASCII: true,
		LengthASCII: true,
		MTIASCII:    true,
	})
)

// StandardTemplate returns the BCD-oriented built-in template: TPDU header,
// BCD message type, binary bitmaps, BCD length prefixes and BCD numeric
// fields.
func StandardTemplate() *Template {
	return standardTemplate
}

// ASCIITemplate returns the character-oriented built-in template: no
// header, 4-character message type, hex bitmaps, decimal character length
// prefixes and numeric fields carried as characters.
func ASCIITemplate() *Template {
	return asciiTemplate
}

func asciiFields() []FieldSpec {
	out := make([]FieldSpec, len(catalogue))
	for i, f := range catalogue {
		if f.Type == TypeBCD {
			f.Type = TypeNumeric
		}
		out[i] = f
	}
	return out
}
