package session

// Body is the type-specific part of an envelope. It is implemented only by
// the body types of this package.
type Body interface {
	// Type returns the envelope message type.
	Type() MessageType
	// Client returns the client id the envelope belongs to.
	Client() string

	isBody()
}

// LogonRequest asks the gateway to create session keys for ClientID.
type LogonRequest struct {
	ClientID      string
	MerchantID    string
	ClientVersion string

	// EncryptedCSK is the signature key under the KEK. Filled in by Pack.
	EncryptedCSK []byte
}

// LogonResponse carries the session keys wrapped under the KEK.
type LogonResponse struct {
	ClientID string

	EncryptedDEK []byte
	EncryptedMPK []byte
}

// NormalRequest carries an encrypted financial message.
type NormalRequest struct {
	ClientID   string
	MerchantID string

	EncryptedCSK []byte
	MAC          []byte
	// Length is the plaintext length of the payload.
	Length int
}

// NormalResponse carries the encrypted host response and the keys that
// encrypted it.
type NormalResponse struct {
	ClientID string

	EncryptedDEK []byte
	EncryptedMPK []byte
	MAC          []byte
	Length       int
}

// AdminRequest carries an administrative command.
type AdminRequest struct {
	ClientID string
	Command  string
	Content  string

	// Secret is the encrypted admin secret. Filled in by Pack.
	Secret []byte
	// Timestamp is the time recovered from Secret by Unpack.
	Timestamp int64
}

// AdminResponse carries the result of an administrative command.
type AdminResponse struct {
	ClientID string
	Command  string
	Content  string
}

// GetKEKRequest asks for the client's key-encryption key.
type GetKEKRequest struct {
	ClientID      string
	ClientVersion string

	// EncryptedCSK is the signature key under the master key.
	EncryptedCSK []byte
}

// GetKEKResponse carries the KEK encrypted under the signature key.
type GetKEKResponse struct {
	ClientID string

	IV           []byte
	EncryptedKEK []byte
}

// ErrorResponse reports a failure. It may carry an encrypted payload, such
// as an ISO 8583 response with a declining response code.
type ErrorResponse struct {
	ClientID string
	Kind     Kind
	Length   int
}

func (*LogonRequest) Type() MessageType   { return MessageTypeLogonRequest }
func (*LogonResponse) Type() MessageType  { return MessageTypeLogonResponse }
func (*NormalRequest) Type() MessageType  { return MessageTypeNormalRequest }
func (*NormalResponse) Type() MessageType { return MessageTypeNormalResponse }
func (*AdminRequest) Type() MessageType   { return MessageTypeAdminRequest }
func (*AdminResponse) Type() MessageType  { return MessageTypeAdminResponse }
func (*GetKEKRequest) Type() MessageType  { return MessageTypeGetKEKRequest }
func (*GetKEKResponse) Type() MessageType { return MessageTypeGetKEKResponse }
func (*ErrorResponse) Type() MessageType  { return MessageTypeErrorResponse }

func (b *LogonRequest) Client() string   { return b.ClientID }
func (b *LogonResponse) Client() string  { return b.ClientID }
func (b *NormalRequest) Client() string  { return b.ClientID }
func (b *NormalResponse) Client() string { return b.ClientID }
func (b *AdminRequest) Client() string   { return b.ClientID }
func (b *AdminResponse) Client() string  { return b.ClientID }
func (b *GetKEKRequest) Client() string  { return b.ClientID }
func (b *GetKEKResponse) Client() string { return b.ClientID }
func (b *ErrorResponse) Client() string  { return b.ClientID }

func (*LogonRequest) isBody()   {}
func (*LogonResponse) isBody()  {}
func (*NormalRequest) isBody()  {}
func (*NormalResponse) isBody() {}
func (*AdminRequest) isBody()   {}
func (*AdminResponse) isBody()  {}
func (*GetKEKRequest) isBody()  {}
func (*GetKEKResponse) isBody() {}
func (*ErrorResponse) isBody()  {}

// ResponseBody returns an empty response body addressed to the same client
// as req. Requests without a dedicated response get an ErrorResponse.
func ResponseBody(req Body) Body {
	id := req.Client()
	switch b := req.(type) {
	case *LogonRequest:
		return &LogonResponse{ClientID: id}
	case *NormalRequest:
		return &NormalResponse{ClientID: id}
	case *AdminRequest:
		return &AdminResponse{ClientID: id, Command: b.Command}
	case *GetKEKRequest:
		return &GetKEKResponse{ClientID: id}
	}
	return &ErrorResponse{ClientID: id}
}
