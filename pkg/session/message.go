package session

import (
	"fmt"

	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/backkem/isogate/pkg/tlv"
)

// Message is one envelope.
type Message struct {
	// Header routes the envelope.
	Header iso8583.TPDU

	// Body holds the type-specific fields.
	Body Body

	// Payload is the plaintext inner message. Pack encrypts it; after
	// Unpack it stays empty until Decrypt.
	Payload []byte

	ciphertext []byte
	tags       *tlv.Set
}

// NewMessage creates a message with the given header and body.
func NewMessage(header iso8583.TPDU, body Body) *Message {
	return &Message{Header: header, Body: body}
}

// Type returns the message type, or zero when there is no body.
func (m *Message) Type() MessageType {
	if m.Body == nil {
		return 0
	}
	return m.Body.Type()
}

// ClientID returns the client id of the body.
func (m *Message) ClientID() string {
	if m.Body == nil {
		return ""
	}
	return m.Body.Client()
}

// Tags returns the tag set of the last Pack or Unpack, or nil.
func (m *Message) Tags() *tlv.Set {
	return m.tags
}

// Reply returns a message carrying body with the header swapped back to
// the sender.
func (m *Message) Reply(body Body) *Message {
	return &Message{Header: m.Header.Swapped(), Body: body}
}

// ErrorReply returns an ERROR_RESPONSE for m reporting kind.
func (m *Message) ErrorReply(kind Kind) *Message {
	return m.Reply(&ErrorResponse{ClientID: m.ClientID(), Kind: kind})
}

func (m *Message) String() string {
	return fmt.Sprintf("%s client=%q header=%s payload=%d", m.Type(), m.ClientID(), m.Header, len(m.Payload))
}

// decodeBody builds the body named by the MessageType tag.
func decodeBody(tags *tlv.Set) (Body, error) {
	mt, err := tags.Byte(tlv.TagMessageType)
	if err != nil {
		return nil, Wrap(KindPackDataError, err, "message type")
	}
	t := MessageType(mt)
	if !t.IsValid() {
		return nil, Errorf(KindPackDataError, "message type %d", mt)
	}

	d := tagDecoder{tags: tags}
	id := d.str(tlv.TagClientID, t != MessageTypeErrorResponse)

	var body Body
	switch t {
	case MessageTypeLogonRequest:
		body = &LogonRequest{
			ClientID:      id,
			MerchantID:    d.str(tlv.TagMerchantID, false),
			ClientVersion: d.str(tlv.TagClientVersion, false),
			EncryptedCSK:  d.bytes(tlv.TagEncryptedCSK, true),
		}
	case MessageTypeLogonResponse:
		body = &LogonResponse{
			ClientID:     id,
			EncryptedDEK: d.bytes(tlv.TagEncryptedDEK, true),
			EncryptedMPK: d.bytes(tlv.TagEncryptedMPK, true),
		}
	case MessageTypeNormalRequest:
		body = &NormalRequest{
			ClientID:     id,
			MerchantID:   d.str(tlv.TagMerchantID, false),
			EncryptedCSK: d.bytes(tlv.TagEncryptedCSK, true),
			MAC:          d.bytes(tlv.TagEncryptedMAC, true),
			Length:       d.length(),
		}
	case MessageTypeNormalResponse:
		body = &NormalResponse{
			ClientID:     id,
			EncryptedDEK: d.bytes(tlv.TagEncryptedDEK, false),
			EncryptedMPK: d.bytes(tlv.TagEncryptedMPK, false),
			MAC:          d.bytes(tlv.TagEncryptedMAC, true),
			Length:       d.length(),
		}
	case MessageTypeAdminRequest:
		body = &AdminRequest{
			ClientID: id,
			Command:  d.str(tlv.TagAdminCommand, true),
			Content:  d.str(tlv.TagAdminContent, false),
			Secret:   d.bytes(tlv.TagAdminSecret, true),
		}
	case MessageTypeAdminResponse:
		body = &AdminResponse{
			ClientID: id,
			Command:  d.str(tlv.TagAdminCommand, false),
			Content:  d.str(tlv.TagAdminContent, false),
		}
	case MessageTypeGetKEKRequest:
		body = &GetKEKRequest{
			ClientID:      id,
			ClientVersion: d.str(tlv.TagClientVersion, false),
			EncryptedCSK:  d.bytes(tlv.TagEncryptedCSK, true),
		}
	case MessageTypeGetKEKResponse:
		body = &GetKEKResponse{
			ClientID:     id,
			IV:           d.bytes(tlv.TagIV, true),
			EncryptedKEK: d.bytes(tlv.TagEncryptedKEK, true),
		}
	case MessageTypeErrorResponse:
		var kind Kind
		if code := d.bytes(tlv.TagErrorCode, false); len(code) > 0 {
			kind = Kind(code[0])
		}
		body = &ErrorResponse{ClientID: id, Kind: kind, Length: d.length()}
	}
	if d.err != nil {
		return body, Wrap(KindPackDataError, d.err, t.String())
	}
	return body, nil
}

// bodyLength returns the declared payload length of body.
func bodyLength(body Body) int {
	switch b := body.(type) {
	case *NormalRequest:
		return b.Length
	case *NormalResponse:
		return b.Length
	case *ErrorResponse:
		return b.Length
	}
	return 0
}

// tagDecoder reads tags and keeps the first missing or malformed one.
type tagDecoder struct {
	tags *tlv.Set
	err  error
}

func (d *tagDecoder) bytes(tag tlv.Tag, required bool) []byte {
	v, ok := d.tags.Get(tag)
	if !ok && required && d.err == nil {
		d.err = fmt.Errorf("%w: %s", tlv.ErrTagNotFound, tag)
	}
	return v
}

func (d *tagDecoder) str(tag tlv.Tag, required bool) string {
	return string(d.bytes(tag, required))
}

func (d *tagDecoder) length() int {
	if !d.tags.Has(tlv.TagLengthOfMessage) {
		return 0
	}
	n, err := d.tags.Uint16(tlv.TagLengthOfMessage)
	if err != nil && d.err == nil {
		d.err = err
	}
	return int(n)
}
