package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TXT record keys.
const (
	TXTKeyRole      = "role"
	TXTKeyNIIs      = "nii"
	TXTKeyVersion   = "ver"
	TXTKeyAlgorithm = "alg"
	TXTKeyTLS       = "tls"
)

// MaxNII is the largest network international identifier.
const MaxNII = 9999

// GatewayTXT holds the TXT records of a _iso8583._tcp service.
type GatewayTXT struct {
	// Role of the relays behind the listener (required).
	Role Role

	// NIIs the gateway holds permanent connections for (optional).
	NIIs []int

	// Version of the gateway software (optional).
	Version string

	// Algorithm of the envelope cipher, e.g. "3des" (optional).
	Algorithm string

	// TLS is set when the listener requires TLS.
	TLS bool
}

// Encode converts the TXT record to DNS-SD format strings.
func (g *GatewayTXT) Encode() []string {
	txt := []string{TXTKeyRole + "=" + g.Role.String()}

	if len(g.NIIs) > 0 {
		niis := append([]int(nil), g.NIIs...)
		sort.Ints(niis)
		parts := make([]string, len(niis))
		for i, n := range niis {
			parts[i] = strconv.Itoa(n)
		}
		txt = append(txt, TXTKeyNIIs+"="+strings.Join(parts, ","))
	}
	if g.Version != "" {
		txt = append(txt, TXTKeyVersion+"="+g.Version)
	}
	if g.Algorithm != "" {
		txt = append(txt, TXTKeyAlgorithm+"="+g.Algorithm)
	}
	if g.TLS {
		txt = append(txt, TXTKeyTLS+"=1")
	}
	return txt
}

// Validate checks the TXT record values.
func (g *GatewayTXT) Validate() error {
	if !g.Role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, g.Role)
	}
	for _, n := range g.NIIs {
		if n < 0 || n > MaxNII {
			return fmt.Errorf("%w: %d", ErrInvalidNII, n)
		}
	}
	return nil
}

// ParseTXT splits "key=value" records into a map. Records without '=' map
// to an empty value.
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// DecodeGatewayTXT parses TXT records into a GatewayTXT.
func DecodeGatewayTXT(records []string) (GatewayTXT, error) {
	m := ParseTXT(records)
	g := GatewayTXT{
		Role:      Role(m[TXTKeyRole]),
		Version:   m[TXTKeyVersion],
		Algorithm: m[TXTKeyAlgorithm],
		TLS:       m[TXTKeyTLS] == "1",
	}
	if s := m[TXTKeyNIIs]; s != "" {
		for _, p := range strings.Split(s, ",") {
			n, err := strconv.Atoi(p)
			if err != nil {
				return GatewayTXT{}, fmt.Errorf("%w: nii %q", ErrInvalidTXTRecord, p)
			}
			g.NIIs = append(g.NIIs, n)
		}
	}
	if err := g.Validate(); err != nil {
		return GatewayTXT{}, err
	}
	return g, nil
}
