// Package tlv implements the tag-length-value set carried in session
// envelopes.
//
// Each element is encoded as [tag:1][length:2 big-endian][value]. Elements
// appear in ascending tag order, at most once each, and values are never
// empty.
package tlv

// Tag identifies an envelope element.
type Tag byte

// Envelope tags.
const (
	TagMessageType     Tag = 0x01
	TagClientID        Tag = 0x02
	TagMerchantID      Tag = 0x03
	TagCipherInfo      Tag = 0x04
	TagEncryptedCSK    Tag = 0x05
	TagEncryptedMAC    Tag = 0x06
	TagEncryptedDEK    Tag = 0x07
	TagEncryptedMPK    Tag = 0x08
	TagLengthOfMessage Tag = 0x09
	TagErrorCode       Tag = 0x0A
	TagAdminCommand    Tag = 0x0B
	TagAdminContent    Tag = 0x0C
	TagAdminSecret     Tag = 0x0D
	TagClientVersion   Tag = 0x0E
	TagEncryptedKEK    Tag = 0x0F
	TagIV              Tag = 0x10
)

// HeaderSize is the size of an element's tag and length.
const HeaderSize = 3

// MaxValueSize is the largest value an element can carry.
const MaxValueSize = 0xFFFF

// String returns the name of the tag.
func (t Tag) String() string {
	switch t {
	case TagMessageType:
		return "MessageType"
	case TagClientID:
		return "ClientID"
	case TagMerchantID:
		return "MerchantID"
	case TagCipherInfo:
		return "CipherInfo"
	case TagEncryptedCSK:
		return "EncryptedCSK"
	case TagEncryptedMAC:
		return "EncryptedMAC"
	case TagEncryptedDEK:
		return "EncryptedDEK"
	case TagEncryptedMPK:
		return "EncryptedMPK"
	case TagLengthOfMessage:
		return "LengthOfMessage"
	case TagErrorCode:
		return "ErrorCode"
	case TagAdminCommand:
		return "AdminCommand"
	case TagAdminContent:
		return "AdminContent"
	case TagAdminSecret:
		return "AdminSecret"
	case TagClientVersion:
		return "ClientVersion"
	case TagEncryptedKEK:
		return "EncryptedKEK"
	case TagIV:
		return "IV"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the tag is a defined envelope tag.
func (t Tag) IsValid() bool {
	return t >= TagMessageType && t <= TagIV
}
