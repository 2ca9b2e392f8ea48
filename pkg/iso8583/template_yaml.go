package iso8583

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// templateFile is the YAML form of a TemplateConfig:
//
//	name: acquirer
//	base: standard
//	header: true
//	fields:
//	  2: {length: var2, type: bcd, max: 19, display: mask-track2}
//	  48: {length: var3, type: alphanumeric, max: 120}
type templateFile struct {
	Name            string                    `yaml:"name"`
	Base            string                    `yaml:"base"`
	BitmapASCII     *bool                     `yaml:"bitmap_ascii"`
	LengthASCII     *bool                     `yaml:"length_ascii"`
	MTIASCII        *bool                     `yaml:"mti_ascii"`
	Header          *bool                     `yaml:"header"`
	OddPadThreshold int                       `yaml:"odd_pad_threshold"`
	Fields          map[int]templateFileField `yaml:"fields"`
}

type templateFileField struct {
	Length  string `yaml:"length"`
	Type    string `yaml:"type"`
	Max     int    `yaml:"max"`
	Display string `yaml:"display"`
}

// ParseTemplateYAML builds a Template from YAML. When base names a built-in
// template its fields and flags are the starting point and the file
// overrides them.
func ParseTemplateYAML(data []byte) (*Template, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	config := TemplateConfig{Name: file.Name}
	var base *Template
	switch file.Base {
	case "":
	case "standard":
		base = StandardTemplate()
	case "ascii":
		base = ASCIITemplate()
	default:
		return nil, fmt.Errorf("%w: unknown base %q", ErrInvalidTemplate, file.Base)
	}

	specs := make(map[int]FieldSpec)
	if base != nil {
		for _, f := range base.Fields() {
			specs[f.Number] = f
		}
		config.BitmapASCII = base.bitmapASCII
		config.LengthASCII = base.lengthASCII
		config.MTIASCII = base.mtiASCII
		config.HasHeader = base.hasHeader
		config.OddPadThreshold = base.oddPadThreshold
		if config.Name == "" {
			config.Name = base.name
		}
	}

	setFlag := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setFlag(&config.BitmapASCII, file.BitmapASCII)
	setFlag(&config.LengthASCII, file.LengthASCII)
	setFlag(&config.MTIASCII, file.MTIASCII)
	setFlag(&config.HasHeader, file.Header)
	if file.OddPadThreshold > 0 {
		config.OddPadThreshold = file.OddPadThreshold
	}

	for n, f := range file.Fields {
		length, err := ParseLengthType(f.Length)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrInvalidTemplate, n, err)
		}
		typ, err := ParseFieldType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrInvalidTemplate, n, err)
		}
		display, err := ParseDisplay(f.Display)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrInvalidTemplate, n, err)
		}
		specs[n] = FieldSpec{Number: n, Length: length, Type: typ, MaxLength: f.Max, Display: display}
	}

	for _, s := range specs {
		config.Fields = append(config.Fields, s)
	}
	return NewTemplate(config)
}

// LoadTemplateYAML reads a YAML template file.
func LoadTemplateYAML(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTemplateYAML(data)
}

// LookupTemplate returns the built-in template called name, or loads name as
// a YAML file path.
func LookupTemplate(name string) (*Template, error) {
	switch name {
	case "", "standard":
		return StandardTemplate(), nil
	case "ascii":
		return ASCIITemplate(), nil
	}
	return LoadTemplateYAML(name)
}
