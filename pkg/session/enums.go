// Package session implements the envelope protocol wrapped around financial
// messages between a client and the gateway.
//
// An envelope is laid out as
//
//	[TPDU:5][tags length:2][tags][ciphertext]
//
// where tags is a tlv.Set naming the message type, the client and the key
// material needed to authenticate and decrypt the trailing ciphertext. A
// Codec packs and unpacks envelopes against a shared keys.Manager.
package session

// MessageType identifies the kind of envelope.
type MessageType byte

const (
	// MessageTypeLogonRequest asks the gateway to create session keys.
	MessageTypeLogonRequest MessageType = iota + 1
	// MessageTypeLogonResponse carries the new keys wrapped under the KEK.
	MessageTypeLogonResponse
	// MessageTypeNormalRequest carries an encrypted financial message.
	MessageTypeNormalRequest
	// MessageTypeNormalResponse carries the encrypted host response.
	MessageTypeNormalResponse
	// MessageTypeAdminRequest carries an administrative command.
	MessageTypeAdminRequest
	// MessageTypeAdminResponse carries the command result.
	MessageTypeAdminResponse
	// MessageTypeGetKEKRequest asks for the client's key-encryption key.
	MessageTypeGetKEKRequest
	// MessageTypeGetKEKResponse carries the KEK encrypted under the CSK.
	MessageTypeGetKEKResponse
	// MessageTypeErrorResponse reports a failure to the client.
	MessageTypeErrorResponse
)

// String returns a human-readable name for the message type.
func (t MessageType) String() string {
	switch t {
	case MessageTypeLogonRequest:
		return "LogonRequest"
	case MessageTypeLogonResponse:
		return "LogonResponse"
	case MessageTypeNormalRequest:
		return "NormalRequest"
	case MessageTypeNormalResponse:
		return "NormalResponse"
	case MessageTypeAdminRequest:
		return "AdminRequest"
	case MessageTypeAdminResponse:
		return "AdminResponse"
	case MessageTypeGetKEKRequest:
		return "GetKEKRequest"
	case MessageTypeGetKEKResponse:
		return "GetKEKResponse"
	case MessageTypeErrorResponse:
		return "ErrorResponse"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the message type is a defined value.
func (t MessageType) IsValid() bool {
	return t >= MessageTypeLogonRequest && t <= MessageTypeErrorResponse
}

// IsRequest reports whether the type is sent by clients.
func (t MessageType) IsRequest() bool {
	switch t {
	case MessageTypeLogonRequest, MessageTypeNormalRequest,
		MessageTypeAdminRequest, MessageTypeGetKEKRequest:
		return true
	}
	return false
}

// Response returns the response type for a request type, or
// MessageTypeErrorResponse for anything else.
func (t MessageType) Response() MessageType {
	switch t {
	case MessageTypeLogonRequest:
		return MessageTypeLogonResponse
	case MessageTypeNormalRequest:
		return MessageTypeNormalResponse
	case MessageTypeAdminRequest:
		return MessageTypeAdminResponse
	case MessageTypeGetKEKRequest:
		return MessageTypeGetKEKResponse
	}
	return MessageTypeErrorResponse
}
