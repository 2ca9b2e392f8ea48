package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/backkem/isogate/pkg/keys"
	"github.com/backkem/isogate/pkg/tlv"
	"github.com/pion/logging"
)

// envelopeHeaderSize is the TPDU plus the tag set length.
const envelopeHeaderSize = iso8583.TPDUSize + 2

// MaxPayloadSize is the largest payload an envelope can declare.
const MaxPayloadSize = 0xFFFF

// CodecConfig configures a Codec.
type CodecConfig struct {
	// Keys is the shared key manager. Required.
	Keys *keys.Manager

	// AdminKey encrypts admin secrets. Admin envelopes are refused when it
	// is empty.
	AdminKey []byte

	// AdminWindow bounds the age of admin secrets.
	// Default: DefaultAdminWindow.
	AdminWindow time.Duration

	// ClientVersion is sent in logon and GET_KEK requests that do not set
	// their own.
	ClientVersion string

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Codec packs and unpacks envelopes. It keeps no per-message state and may
// be shared by many relays.
type Codec struct {
	config CodecConfig
	keys   *keys.Manager
	log    logging.LeveledLogger
}

// NewCodec creates a Codec.
func NewCodec(config CodecConfig) (*Codec, error) {
	if config.Keys == nil {
		return nil, ErrNoKeys
	}
	if config.AdminWindow <= 0 {
		config.AdminWindow = DefaultAdminWindow
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	c := &Codec{
		config: config,
		keys:   config.Keys,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("session")
	}
	return c, nil
}

// Keys returns the key manager.
func (c *Codec) Keys() *keys.Manager {
	return c.keys
}

// Unpack parses an envelope and runs the key actions its type calls for:
// a logon request creates client keys, responses install the keys they
// carry, requests have their signature checked.
//
// On failure the returned message holds whatever was parsed, so that the
// caller can still address an error response.
func (c *Codec) Unpack(data []byte) (*Message, error) {
	if len(data) < envelopeHeaderSize {
		return nil, Errorf(KindPackDataError, "envelope of %d bytes", len(data))
	}
	header, err := iso8583.ParseTPDU(data[:iso8583.TPDUSize])
	if err != nil {
		return nil, Wrap(KindPackDataError, err, "header")
	}
	m := &Message{Header: header}

	tagsLen := int(binary.BigEndian.Uint16(data[iso8583.TPDUSize:]))
	rest := data[envelopeHeaderSize:]
	if tagsLen > len(rest) {
		return m, Errorf(KindPackDataError, "tag set of %d bytes in %d", tagsLen, len(rest))
	}
	m.tags = tlv.NewSet()
	if err := m.tags.UnmarshalBinary(rest[:tagsLen]); err != nil {
		return m, Wrap(KindPackDataError, err, "tags")
	}
	m.ciphertext = append([]byte(nil), rest[tagsLen:]...)

	if m.Body, err = decodeBody(m.tags); err != nil {
		return m, err
	}
	if c.log != nil {
		c.log.Tracef("unpacked %s for %q: %s", m.Type(), m.ClientID(), m.tags.Dump())
	}

	if info, ok := m.tags.Get(tlv.TagCipherInfo); ok && !bytes.Equal(info, c.keys.Cipher().Info()) {
		return m, Errorf(KindWrongConfiguration, "cipher %X, expected %X", info, c.keys.Cipher().Info())
	}
	n := bodyLength(m.Body)
	if len(m.ciphertext) != c.keys.RoundedSize(n) {
		return m, Errorf(KindPackDataError, "%d encrypted bytes for a length of %d", len(m.ciphertext), n)
	}
	if err := c.absorb(m.Body); err != nil {
		return m, err
	}
	return m, nil
}

// absorb runs the key actions for an unpacked body.
func (c *Codec) absorb(body Body) error {
	id := body.Client()
	switch b := body.(type) {
	case *LogonRequest:
		return c.verifySignature(id, b.EncryptedCSK, keys.WrapKEK, true)

	case *LogonResponse:
		return c.installKeys(id, b.EncryptedDEK, b.EncryptedMPK)

	case *NormalRequest:
		if !c.keys.LoggedOn(id) {
			return Errorf(KindNotLoggedOnBefore, "client %q", id)
		}
		return c.verifySignature(id, b.EncryptedCSK, keys.WrapDEK, false)

	case *NormalResponse:
		return c.installKeys(id, b.EncryptedDEK, b.EncryptedMPK)

	case *AdminRequest:
		ts, err := c.checkAdminSecret(b.Secret)
		b.Timestamp = ts
		return err

	case *GetKEKRequest:
		return c.verifySignature(id, b.EncryptedCSK, keys.WrapMaster, false)

	case *GetKEKResponse:
		if err := c.keys.SetKEK(id, b.IV, b.EncryptedKEK); err != nil {
			return keyError(err, "install KEK")
		}
	}
	return nil
}

// verifySignature checks an encrypted CSK. A record created only for the
// check is dropped again when it fails. With logon set the client gets
// session keys once the check passes.
func (c *Codec) verifySignature(id string, csk []byte, w keys.Wrapping, logon bool) error {
	existed := c.keys.Has(id)
	if err := c.keys.AddClient(id); err != nil {
		return keyError(err, "add client")
	}
	ok, err := c.keys.VerifyCSK(id, csk, w)
	if err == nil && !ok {
		err = Errorf(KindWrongSignature, "client %q signature under %s", id, w)
	}
	if err != nil {
		if !existed {
			_ = c.keys.Remove(id)
		}
		return keyError(err, "verify signature")
	}
	if logon {
		if err := c.keys.NewClientKeys(id); err != nil {
			return keyError(err, "create keys")
		}
	}
	return nil
}

func (c *Codec) installKeys(id string, dek, mpk []byte) error {
	if err := c.keys.SetEncryptedKeys(id, dek, mpk); err != nil {
		return keyError(err, "install keys")
	}
	return nil
}

// Decrypt decrypts the payload of an unpacked message into m.Payload. It
// does nothing when the declared length is zero.
func (c *Codec) Decrypt(m *Message) error {
	n := bodyLength(m.Body)
	if n == 0 {
		m.Payload = nil
		return nil
	}
	plain, err := c.keys.DecryptMessage(m.ClientID(), m.ciphertext, 0, len(m.ciphertext))
	if err != nil {
		return keyError(err, "decrypt payload")
	}
	m.Payload = plain[:n]
	return nil
}

// Open decrypts the payload of an unpacked message and verifies its MAC.
// Normal requests have their signature checked and normal responses are
// opened with the keys they carry, each against one consistent view of the
// key table. Other types are only decrypted.
func (c *Codec) Open(m *Message) error {
	var (
		plain []byte
		err   error
	)
	n := bodyLength(m.Body)
	switch b := m.Body.(type) {
	case *NormalRequest:
		plain, err = c.keys.OpenRequest(b.ClientID, &keys.Sealed{
			Ciphertext:   m.ciphertext,
			MAC:          b.MAC,
			EncryptedCSK: b.EncryptedCSK,
		}, n)
	case *NormalResponse:
		plain, err = c.keys.OpenResponse(b.ClientID, &keys.Sealed{
			Ciphertext:   m.ciphertext,
			MAC:          b.MAC,
			EncryptedDEK: b.EncryptedDEK,
			EncryptedMPK: b.EncryptedMPK,
		}, n)
	default:
		return c.Decrypt(m)
	}
	if err != nil {
		return keyError(err, "open "+m.Type().String())
	}
	m.Payload = plain
	return nil
}

// Pack builds the envelope for m. Key material is taken from the key
// manager and recorded in m.Body; the payload is MACed and encrypted where
// the type calls for it. A NORMAL_RESPONSE counts one use of the client's
// keys first, so that a rotation is delivered with the response it
// encrypts. Normal messages are sealed in one key manager call.
func (c *Codec) Pack(m *Message) ([]byte, error) {
	if m.Body == nil {
		return nil, ErrNoBody
	}
	if len(m.Payload) > MaxPayloadSize {
		return nil, Errorf(KindMessageLengthError, "payload of %d bytes", len(m.Payload))
	}
	id := m.ClientID()
	t := &tagBuilder{set: tlv.NewSet()}
	t.putByte(tlv.TagMessageType, byte(m.Type()))
	t.putString(tlv.TagClientID, id)
	t.put(tlv.TagCipherInfo, c.keys.Cipher().Info())

	var (
		withPayload bool
		sealed      *keys.Sealed
		err         error
	)
	switch b := m.Body.(type) {
	case *LogonRequest:
		if err = c.keys.AddClient(id); err != nil {
			break
		}
		if b.EncryptedCSK, err = c.keys.EncryptedCSK(id, keys.WrapKEK); err != nil {
			break
		}
		t.putString(tlv.TagMerchantID, b.MerchantID)
		t.put(tlv.TagEncryptedCSK, b.EncryptedCSK)
		t.putString(tlv.TagClientVersion, c.version(b.ClientVersion))

	case *LogonResponse:
		if b.EncryptedDEK, b.EncryptedMPK, err = c.keys.EncryptedKeys(id); err != nil {
			break
		}
		t.put(tlv.TagEncryptedDEK, b.EncryptedDEK)
		t.put(tlv.TagEncryptedMPK, b.EncryptedMPK)

	case *NormalRequest:
		if sealed, err = c.keys.SealRequest(id, m.Payload); err != nil {
			break
		}
		b.EncryptedCSK, b.MAC = sealed.EncryptedCSK, sealed.MAC
		b.Length = len(m.Payload)
		t.putString(tlv.TagMerchantID, b.MerchantID)
		t.put(tlv.TagEncryptedCSK, b.EncryptedCSK)
		t.put(tlv.TagEncryptedMAC, b.MAC)

	case *NormalResponse:
		if sealed, err = c.keys.SealResponse(id, m.Payload); err != nil {
			break
		}
		b.EncryptedDEK, b.EncryptedMPK, b.MAC = sealed.EncryptedDEK, sealed.EncryptedMPK, sealed.MAC
		b.Length = len(m.Payload)
		t.put(tlv.TagEncryptedMAC, b.MAC)
		t.put(tlv.TagEncryptedDEK, b.EncryptedDEK)
		t.put(tlv.TagEncryptedMPK, b.EncryptedMPK)

	case *AdminRequest:
		if b.Secret, err = c.AdminSecret(c.config.Now()); err != nil {
			break
		}
		t.putString(tlv.TagAdminCommand, b.Command)
		t.putString(tlv.TagAdminContent, b.Content)
		t.put(tlv.TagAdminSecret, b.Secret)

	case *AdminResponse:
		t.putString(tlv.TagAdminCommand, b.Command)
		t.putString(tlv.TagAdminContent, b.Content)

	case *GetKEKRequest:
		if err = c.keys.AddClient(id); err != nil {
			break
		}
		if b.EncryptedCSK, err = c.keys.EncryptedCSK(id, keys.WrapMaster); err != nil {
			break
		}
		t.put(tlv.TagEncryptedCSK, b.EncryptedCSK)
		t.putString(tlv.TagClientVersion, c.version(b.ClientVersion))

	case *GetKEKResponse:
		if b.IV, b.EncryptedKEK, err = c.keys.EncryptedKEK(id); err != nil {
			break
		}
		t.put(tlv.TagEncryptedKEK, b.EncryptedKEK)
		t.put(tlv.TagIV, b.IV)

	case *ErrorResponse:
		t.putByte(tlv.TagErrorCode, byte(b.Kind))
		b.Length, withPayload = len(m.Payload), len(m.Payload) > 0
	}
	if err != nil {
		return nil, keyError(err, "pack "+m.Type().String())
	}
	if !withPayload && sealed == nil && len(m.Payload) > 0 {
		return nil, Errorf(KindPackDataError, "%s carries no payload", m.Type())
	}

	var ciphertext []byte
	if sealed != nil || withPayload {
		if len(m.Payload) > 0 {
			t.putUint16(tlv.TagLengthOfMessage, uint16(len(m.Payload)))
		}
	}
	switch {
	case sealed != nil:
		ciphertext = sealed.Ciphertext
	case withPayload:
		if ciphertext, err = c.keys.EncryptMessage(id, m.Payload, 0, len(m.Payload)); err != nil {
			return nil, keyError(err, "encrypt payload")
		}
	}
	if t.err != nil {
		return nil, Wrap(KindPackDataError, t.err, "tags")
	}
	tags, err := t.set.MarshalBinary()
	if err != nil {
		return nil, Wrap(KindPackDataError, err, "tags")
	}
	if len(tags) > 0xFFFF {
		return nil, Errorf(KindMessageLengthError, "tag set of %d bytes", len(tags))
	}

	out := make([]byte, 0, envelopeHeaderSize+len(tags)+len(ciphertext))
	out = append(out, m.Header.Bytes()...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(tags)))
	out = append(out, tags...)
	out = append(out, ciphertext...)

	m.tags, m.ciphertext = t.set, ciphertext
	if c.log != nil {
		c.log.Tracef("packed %s for %q: %s", m.Type(), id, t.set.Dump())
	}
	return out, nil
}

func (c *Codec) version(v string) string {
	if v != "" {
		return v
	}
	return c.config.ClientVersion
}

// keyError classifies a key manager failure. Failures the taxonomy does not
// name are reported as PackDataError.
func keyError(err error, msg string) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = KindPackDataError
	}
	return Wrap(kind, err, msg)
}

// tagBuilder collects tags and keeps the first error.
type tagBuilder struct {
	set *tlv.Set
	err error
}

func (t *tagBuilder) put(tag tlv.Tag, v []byte) {
	if t.err == nil {
		t.err = t.set.Put(tag, v)
	}
}

func (t *tagBuilder) putByte(tag tlv.Tag, v byte) {
	t.put(tag, []byte{v})
}

func (t *tagBuilder) putUint16(tag tlv.Tag, v uint16) {
	t.put(tag, binary.BigEndian.AppendUint16(nil, v))
}

// putString stores v unless it is empty.
func (t *tagBuilder) putString(tag tlv.Tag, v string) {
	if v != "" {
		t.put(tag, []byte(v))
	}
}
