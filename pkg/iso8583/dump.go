package iso8583

import (
	"fmt"
	"strings"
)

// Dump renders the message for logs: header, MTI, bitmap and each present
// field with its display option applied.
func (m *Message) Dump() string {
	var sb strings.Builder
	if m.template.hasHeader {
		fmt.Fprintf(&sb, "TPDU   : %s\n", m.header)
	}
	fmt.Fprintf(&sb, "MTI    : %s\n", m.mti)
	fmt.Fprintf(&sb, "Bitmap : %s\n", m.bitmap().Encode(true))
	for n := 2; n <= MaxField; n++ {
		f := &m.fields[n]
		if !f.present {
			continue
		}
		fmt.Fprintf(&sb, "[%03d]  : %s\n", n, f.Display())
	}
	return sb.String()
}
