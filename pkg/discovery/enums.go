// Package discovery advertises and finds ISO 8583 gateways with DNS-SD
// (mDNS).
//
// A gateway publishes a _iso8583._tcp service whose TXT records carry its
// relay role, the NIIs it has pools for and its software version. Clients
// browse for the service to find a gateway without static configuration.
package discovery

// DNS-SD service type strings.
const (
	// ServiceGateway is the DNS-SD service type of a gateway listener.
	ServiceGateway = "_iso8583._tcp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."
)

// Role is the relay role advertised by a gateway.
type Role string

// Role constants.
const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// String returns the TXT value of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid returns true if the role is known.
func (r Role) IsValid() bool {
	return r == RoleServer || r == RoleClient
}

// Subtype returns the DNS-SD subtype used to browse for a role only.
func (r Role) Subtype() string {
	return "_" + string(r)
}
