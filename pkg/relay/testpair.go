package relay

import (
	"bytes"
	"sync"

	"github.com/backkem/isogate/pkg/crypto"
	"github.com/backkem/isogate/pkg/frame"
	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/backkem/isogate/pkg/keys"
	"github.com/backkem/isogate/pkg/session"
	"github.com/backkem/isogate/pkg/transport"
)

// =============================================================================
// Exported Test Infrastructure for E2E Testing
// =============================================================================

// TestKeyPair holds a server and a client codec provisioned with the same
// master key, CSK and admin passphrase, so that the client can log on to
// the server.
//
// Usage:
//
//	pair, _ := relay.NewTestKeyPair(relay.TestKeyPairConfig{})
//	server, _ := relay.New(relay.Config{Codec: pair.Server, ...}, source)
//	client, _ := relay.New(relay.Config{Role: relay.RoleClient, Codec: pair.Client, ...}, pos)
type TestKeyPair struct {
	Server *session.Codec
	Client *session.Codec
}

// TestKeyPairConfig configures a TestKeyPair.
type TestKeyPairConfig struct {
	// Algorithm of the shared cipher. Default: TripleDES.
	Algorithm crypto.Algorithm

	// RotationCount of the server's key manager.
	RotationCount int

	// DerivedKEK gives the server per-client KEKs, which the client has to
	// fetch with GET_KEK before logging on.
	DerivedKEK bool

	// AdminPassphrase for admin secrets. Default: "admin".
	AdminPassphrase string
}

// TestMasterKey returns the master key used by test key pairs for alg.
func TestMasterKey(alg crypto.Algorithm) []byte {
	return bytes.Repeat([]byte{0x4B}, alg.DefaultKeySize())
}

// NewTestKeyPair creates the two codecs.
func NewTestKeyPair(config TestKeyPairConfig) (*TestKeyPair, error) {
	if config.Algorithm == 0 {
		config.Algorithm = crypto.AlgorithmTripleDES
	}
	if config.AdminPassphrase == "" {
		config.AdminPassphrase = "admin"
	}
	master := TestMasterKey(config.Algorithm)
	csk := bytes.Repeat([]byte{0x5C}, config.Algorithm.DefaultKeySize())
	adminKey := session.AdminKey(config.AdminPassphrase, config.Algorithm)
	cipher := crypto.CipherConfig{Algorithm: config.Algorithm, Mode: crypto.ModeCBC, Key: master}

	var lookup keys.KEKLookup
	if config.DerivedKEK {
		lookup = keys.DerivedKEKLookup(master)
	}
	serverKeys, err := keys.NewManager(keys.ManagerConfig{
		Cipher:        cipher,
		DefaultCSK:    csk,
		RotationCount: config.RotationCount,
		KEKLookup:     lookup,
	})
	if err != nil {
		return nil, err
	}
	clientKeys, err := keys.NewManager(keys.ManagerConfig{
		Cipher:     cipher,
		DefaultCSK: csk,
	})
	if err != nil {
		return nil, err
	}

	server, err := session.NewCodec(session.CodecConfig{Keys: serverKeys, AdminKey: adminKey})
	if err != nil {
		return nil, err
	}
	client, err := session.NewCodec(session.CodecConfig{Keys: clientKeys, AdminKey: adminKey, ClientVersion: "test"})
	if err != nil {
		return nil, err
	}
	return &TestKeyPair{Server: server, Client: client}, nil
}

// TestHost plays a destination host: it answers every raw request
// received on its stream with the result of Respond. A nil result sends
// nothing.
type TestHost struct {
	stream  transport.Stream
	respond func(req []byte) []byte

	mu       sync.Mutex
	requests [][]byte

	done chan struct{}
}

// NewTestHost starts answering requests on stream.
func NewTestHost(stream transport.Stream, respond func(req []byte) []byte) *TestHost {
	h := &TestHost{
		stream:  stream,
		respond: respond,
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *TestHost) run() {
	defer close(h.done)
	for {
		req, err := h.stream.Receive(0)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.requests = append(h.requests, req)
		h.mu.Unlock()

		if resp := h.respond(req); resp != nil {
			if err := h.stream.Send(resp); err != nil {
				return
			}
		}
	}
}

// Requests returns the raw requests received so far.
func (h *TestHost) Requests() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.requests))
	copy(out, h.requests)
	return out
}

// Close closes the stream and waits for the host to stop.
func (h *TestHost) Close() error {
	err := h.stream.Close()
	<-h.done
	return err
}

// ApproveWith returns a responder that answers each request decoded with t
// with its response MTI, the header swapped and field 39 set to code.
// Requests that do not decode are ignored.
func ApproveWith(t *iso8583.Template, code string) func([]byte) []byte {
	return func(req []byte) []byte {
		m := iso8583.NewMessage(t)
		if err := m.Unpack(req, 0, len(req)); err != nil {
			return nil
		}
		mti, err := iso8583.ResponseMTI(m.MTI())
		if err != nil {
			return nil
		}
		_ = m.SetMTI(mti)
		_ = m.SetString(39, code)
		if t.HasHeader() {
			m.SetHeader(m.Header().Swapped())
		}
		out, err := m.Pack(frame.PrefixNone)
		if err != nil {
			return nil
		}
		return out
	}
}
