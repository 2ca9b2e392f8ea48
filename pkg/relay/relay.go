package relay

import (
	"context"
	"errors"
	"time"

	"github.com/backkem/isogate/pkg/frame"
	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/backkem/isogate/pkg/session"
	"github.com/backkem/isogate/pkg/transport"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Default relay settings.
const (
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultResponseCode    = "96"
)

// Hook inspects or edits a decoded message on its way through the relay.
// It reports whether it modified the message, which is then repacked. An
// error declines the transaction.
type Hook func(dir Direction, m *iso8583.Message) (bool, error)

// AdminFunc executes an admin command and returns its textual result.
type AdminFunc func(command, content string) (string, error)

// Config configures a Relay.
type Config struct {
	// Role selects the side of the envelope protocol. Default: RoleServer.
	Role Role

	// Codec packs and unpacks envelopes. Required.
	Codec *session.Codec

	// Upstream reaches the destination. Required.
	Upstream Upstream

	// Template decodes the raw messages. Required by Hook, Obscurer and
	// ISO error responses.
	Template *iso8583.Template

	// Hook sees every decoded request and response.
	Hook Hook

	// Obscurer moves ObscureFields into an encrypted carrier on the client
	// leg and restores them on the server leg.
	Obscurer      iso8583.Obscurer
	ObscureFields []int

	// NIIMap rewrites the destination NII of forwarded requests. Responses
	// get their original addressing back.
	NIIMap map[int]int

	// Timeout bounds each read from the source. Zero waits forever.
	Timeout time.Duration

	// UpstreamTimeout bounds each destination exchange.
	// Default: DefaultUpstreamTimeout.
	UpstreamTimeout time.Duration

	// TerminateOnError closes the connection after any failed transaction.
	TerminateOnError bool

	// TolerateMalformed logs and drops transactions whose data cannot be
	// decoded instead of answering them with an error response.
	TolerateMalformed bool

	// ResponseCode is written into field 39 of synthesized ISO error
	// responses. Default: DefaultResponseCode.
	ResponseCode string

	// ClientID and MerchantID identify the client role to the server.
	ClientID   string
	MerchantID string

	// FetchKEK makes the client role request its KEK before logging on.
	FetchKEK bool

	// Admin executes admin commands in the server role. Admin requests are
	// refused when nil.
	Admin AdminFunc

	// Metrics receives gauges and counters. Default: private metrics.
	Metrics *Metrics

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Relay pairs one source stream with an Upstream and runs transactions
// between them, one at a time.
type Relay struct {
	config  Config
	source  transport.Stream
	id      uuid.UUID
	tracker *Tracker
	metrics *Metrics
	log     logging.LeveledLogger

	// loggedOn is owned by the Run goroutine.
	loggedOn bool
}

// transaction holds what is known about the request being processed, so
// that a failure at any step can still be answered.
type transaction struct {
	envelope *session.Message
	raw      []byte
}

// New creates a relay for source.
func New(config Config, source transport.Stream) (*Relay, error) {
	switch {
	case source == nil:
		return nil, ErrNoSource
	case config.Codec == nil:
		return nil, ErrNoCodec
	case config.Upstream == nil:
		return nil, ErrNoUpstream
	case !config.Role.IsValid():
		return nil, ErrInvalidRole
	case config.Role == RoleClient && config.ClientID == "":
		return nil, ErrNoClientID
	case (config.Hook != nil || config.Obscurer != nil) && config.Template == nil:
		return nil, ErrNoTemplate
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if config.ResponseCode == "" {
		config.ResponseCode = DefaultResponseCode
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics()
	}
	r := &Relay{
		config:  config,
		source:  source,
		id:      uuid.New(),
		tracker: NewTracker(config.Metrics),
		metrics: config.Metrics,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("relay")
	}
	return r, nil
}

// ID returns the connection id.
func (r *Relay) ID() uuid.UUID {
	return r.id
}

// Role returns the configured role.
func (r *Relay) Role() Role {
	return r.config.Role
}

// Status returns the status of the current or last transaction.
func (r *Relay) Status() Status {
	return r.tracker.Status()
}

// RemoteAddr returns the source peer address.
func (r *Relay) RemoteAddr() string {
	if a := r.source.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Run processes transactions until the source goes away, ctx is cancelled
// or a failure ends the connection. It returns nil for a clean end.
func (r *Relay) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.source.Close() })
	defer stop()
	defer r.source.Close()
	defer r.tracker.Reset()

	if r.log != nil {
		r.log.Debugf("relay %s: %s role for %s", r.id, r.config.Role, r.RemoteAddr())
	}
	for {
		err := r.transact()
		if err == nil {
			continue
		}
		if ctx.Err() != nil || errors.Is(err, session.ErrDisconnectedFromSource) {
			if r.log != nil {
				r.log.Debugf("relay %s: source closed", r.id)
			}
			return nil
		}
		return err
	}
}

// Close closes the source stream, which ends Run.
func (r *Relay) Close() error {
	return r.source.Close()
}

// transact reads one frame and processes it. A non-nil error ends the
// connection.
func (r *Relay) transact() error {
	data, err := r.source.Receive(r.config.Timeout)
	if err != nil {
		err = sourceError(err)
		if session.KindOf(err) == session.KindTimeout {
			return nil
		}
		if r.log != nil && !errors.Is(err, session.ErrDisconnectedFromSource) {
			r.log.Warnf("relay %s: %v", r.id, err)
		}
		return err
	}
	r.metrics.bytesFromSource.Add(uint64(len(data)))
	r.metrics.transactions.Add(1)
	r.tracker.Begin()

	tx := &transaction{}
	if r.config.Role == RoleServer {
		err = r.serve(tx, data)
	} else {
		err = r.initiate(tx, data)
	}
	if err == nil {
		return nil
	}
	return r.handleError(tx, err)
}

// serve handles one envelope from the source in the server role.
func (r *Relay) serve(tx *transaction, data []byte) error {
	m, err := r.config.Codec.Unpack(data)
	tx.envelope = m
	if m != nil && m.Body != nil {
		r.tracker.Set(StatusHeaderUnpacked)
	}
	if err != nil {
		return err
	}

	switch b := m.Body.(type) {
	case *session.NormalRequest:
		return r.forward(tx, m)
	case *session.LogonRequest:
		if r.log != nil {
			r.log.Infof("relay %s: client %q logged on (merchant %q, version %q)", r.id, b.ClientID, b.MerchantID, b.ClientVersion)
		}
		return r.answer(m.Reply(&session.LogonResponse{ClientID: b.ClientID}))
	case *session.GetKEKRequest:
		return r.answer(m.Reply(&session.GetKEKResponse{ClientID: b.ClientID}))
	case *session.AdminRequest:
		return r.admin(m, b)
	}
	return session.Errorf(session.KindPackDataError, "unexpected %s from source", m.Type())
}

// answer sends a locally produced response.
func (r *Relay) answer(reply *session.Message) error {
	r.tracker.Set(StatusAuthenticated)
	out, err := r.config.Codec.Pack(reply)
	if err != nil {
		return err
	}
	if err := r.send(out); err != nil {
		return err
	}
	r.tracker.AdvanceTo(StatusSuccessful)
	return nil
}

func (r *Relay) admin(m *session.Message, b *session.AdminRequest) error {
	if r.config.Admin == nil {
		return session.Errorf(session.KindWrongConfiguration, "admin commands disabled")
	}
	if r.log != nil {
		r.log.Infof("relay %s: admin %q from %q", r.id, b.Command, b.ClientID)
	}
	content, err := r.config.Admin(b.Command, b.Content)
	if err != nil {
		content = "error: " + err.Error()
	}
	return r.answer(m.Reply(&session.AdminResponse{
		ClientID: b.ClientID,
		Command:  b.Command,
		Content:  content,
	}))
}

// forward relays a normal request to the destination and its response
// back to the source.
func (r *Relay) forward(tx *transaction, m *session.Message) error {
	codec := r.config.Codec
	if err := codec.Open(m); err != nil {
		return err
	}
	r.tracker.Set(StatusAuthenticated)
	tx.raw = m.Payload
	id := m.ClientID()

	req, err := r.transform(DirectionRequest, m.Payload, id)
	if err != nil {
		return err
	}
	req, header, remapped := r.remap(req)

	resp, err := r.exchange(req)
	if err != nil {
		return err
	}
	if remapped {
		restore(resp, header)
	}
	if resp, err = r.transform(DirectionResponse, resp, id); err != nil {
		return err
	}

	reply := m.Reply(&session.NormalResponse{ClientID: id})
	reply.Payload = resp
	out, err := codec.Pack(reply)
	if err != nil {
		return err
	}
	if err := r.send(out); err != nil {
		return err
	}
	r.tracker.Set(StatusSuccessful)
	return nil
}

// initiate handles one raw message from the source in the client role.
func (r *Relay) initiate(tx *transaction, data []byte) error {
	tx.raw = data
	header, err := iso8583.ParseTPDU(data)
	if err != nil {
		return session.Wrap(session.KindPackDataError, err, "request header")
	}
	r.tracker.Set(StatusHeaderUnpacked)

	if err := r.logon(header); err != nil {
		return err
	}
	r.tracker.Set(StatusAuthenticated)

	id := r.config.ClientID
	req, err := r.transform(DirectionRequest, data, id)
	if err != nil {
		return err
	}
	req, orig, remapped := r.remap(req)
	if header, err = iso8583.ParseTPDU(req); err != nil {
		return session.Wrap(session.KindPackDataError, err, "request header")
	}

	env := session.NewMessage(header, &session.NormalRequest{ClientID: id, MerchantID: r.config.MerchantID})
	env.Payload = req
	out, err := r.config.Codec.Pack(env)
	if err != nil {
		return err
	}
	resp, err := r.exchange(out)
	if err != nil {
		return err
	}

	m, err := r.config.Codec.Unpack(resp)
	if err != nil {
		return err
	}
	switch b := m.Body.(type) {
	case *session.NormalResponse:
		if err := r.config.Codec.Open(m); err != nil {
			return err
		}
		payload := m.Payload
		if remapped {
			restore(payload, orig)
		}
		if payload, err = r.transform(DirectionResponse, payload, id); err != nil {
			return err
		}
		if err := r.send(payload); err != nil {
			return err
		}
		r.tracker.Set(StatusSuccessful)
		return nil
	case *session.ErrorResponse:
		return r.remoteError(m, b)
	}
	return session.Errorf(session.KindPackDataError, "unexpected %s from destination", m.Type())
}

// logon performs the key exchange before the first transaction and after
// the server forgot the client.
func (r *Relay) logon(header iso8583.TPDU) error {
	id := r.config.ClientID
	if r.loggedOn && r.config.Codec.Keys().LoggedOn(id) {
		return nil
	}
	if r.config.FetchKEK {
		m, err := r.request(session.NewMessage(header, &session.GetKEKRequest{ClientID: id}))
		if err != nil {
			return err
		}
		if _, ok := m.Body.(*session.GetKEKResponse); !ok {
			return session.Errorf(session.KindPackDataError, "unexpected %s to GET_KEK", m.Type())
		}
	}
	m, err := r.request(session.NewMessage(header, &session.LogonRequest{ClientID: id, MerchantID: r.config.MerchantID}))
	if err != nil {
		return err
	}
	if _, ok := m.Body.(*session.LogonResponse); !ok {
		return session.Errorf(session.KindPackDataError, "unexpected %s to logon", m.Type())
	}
	r.loggedOn = true
	if r.log != nil {
		r.log.Infof("relay %s: logged on as %q", r.id, id)
	}
	return nil
}

// request exchanges a key management envelope with the destination.
func (r *Relay) request(m *session.Message) (*session.Message, error) {
	out, err := r.config.Codec.Pack(m)
	if err != nil {
		return nil, err
	}
	resp, err := r.config.Upstream.Exchange(out, r.config.UpstreamTimeout)
	if err != nil {
		return nil, destinationError(err)
	}
	r.metrics.bytesFromDestination.Add(uint64(len(resp)))
	reply, err := r.config.Codec.Unpack(resp)
	if err != nil {
		return nil, err
	}
	if b, ok := reply.Body.(*session.ErrorResponse); ok {
		return nil, r.remoteError(reply, b)
	}
	return reply, nil
}

// remoteError turns an ERROR_RESPONSE from the server into a local
// failure. A carried ISO response is delivered to the source first.
func (r *Relay) remoteError(m *session.Message, b *session.ErrorResponse) error {
	if b.Kind == session.KindNotLoggedOnBefore {
		r.loggedOn = false
	}
	if b.Length > 0 {
		if err := r.config.Codec.Decrypt(m); err == nil {
			if err := r.send(m.Payload); err != nil {
				return err
			}
			return session.Errorf(session.KindExceptionHandled, "destination reported %s", b.Kind)
		}
	}
	kind := b.Kind
	if kind.IsConnectionLost() || kind == session.KindTimeout || kind == session.KindExceptionHandled {
		kind = session.KindDeclined
	}
	return session.Errorf(kind, "destination reported %s", b.Kind)
}

// exchange forwards req and counts the response.
func (r *Relay) exchange(req []byte) ([]byte, error) {
	r.tracker.Set(StatusSentToDestination)
	resp, err := r.config.Upstream.Exchange(req, r.config.UpstreamTimeout)
	if err != nil {
		return nil, destinationError(err)
	}
	r.metrics.bytesFromDestination.Add(uint64(len(resp)))
	r.tracker.Set(StatusReceivedResponse)
	return resp, nil
}

func (r *Relay) send(data []byte) error {
	if err := r.source.Send(data); err != nil {
		return sourceError(err)
	}
	return nil
}

// remap returns a copy of msg with its destination NII rewritten per
// NIIMap, and the original header.
func (r *Relay) remap(msg []byte) ([]byte, iso8583.TPDU, bool) {
	h, err := iso8583.ParseTPDU(msg)
	if err != nil || len(r.config.NIIMap) == 0 {
		return msg, h, false
	}
	to, ok := r.config.NIIMap[h.Destination()]
	if !ok {
		return msg, h, false
	}
	patched := h
	if err := patched.SetDestination(to); err != nil {
		return msg, h, false
	}
	out := append([]byte(nil), msg...)
	copy(out, patched.Bytes())
	if r.log != nil {
		r.log.Debugf("relay %s: NII %d -> %d", r.id, h.Destination(), to)
	}
	return out, h, true
}

// restore gives a response the swapped original request header.
func restore(resp []byte, orig iso8583.TPDU) {
	if len(resp) >= iso8583.TPDUSize {
		copy(resp, orig.Swapped().Bytes())
	}
}

// transform applies the field protection and the hook to a raw message.
func (r *Relay) transform(dir Direction, raw []byte, clientID string) ([]byte, error) {
	obscure := r.config.Obscurer != nil && dir == DirectionRequest
	if r.config.Template == nil || (r.config.Hook == nil && !obscure) {
		return raw, nil
	}
	msg := iso8583.NewMessage(r.config.Template)
	if err := msg.Unpack(raw, 0, len(raw)); err != nil {
		if r.config.TolerateMalformed {
			if r.log != nil {
				r.log.Warnf("relay %s: passing undecodable %s through: %v", r.id, dir, err)
			}
			return raw, nil
		}
		return nil, session.Wrap(session.KindPackDataError, err, "decode "+dir.String())
	}

	sealer := r.config.Codec.Keys().Sealer(clientID)
	changed := false
	if obscure && r.config.Role == RoleServer {
		if err := r.config.Obscurer.Reveal(msg, sealer); err != nil {
			return nil, codecError(err, "reveal fields")
		}
		changed = true
	}
	if r.config.Hook != nil {
		modified, err := r.config.Hook(dir, msg)
		if err != nil {
			var se *session.Error
			if errors.As(err, &se) {
				return nil, err
			}
			return nil, session.Wrap(session.KindDeclined, err, "hook")
		}
		changed = changed || modified
	}
	if obscure && r.config.Role == RoleClient {
		if err := r.config.Obscurer.Obscure(msg, r.config.ObscureFields, sealer); err != nil {
			return nil, codecError(err, "obscure fields")
		}
		changed = true
	}
	if !changed {
		return raw, nil
	}
	out, err := msg.Pack(frame.PrefixNone)
	if err != nil {
		return nil, session.Wrap(session.KindPackDataError, err, "repack "+dir.String())
	}
	return out, nil
}

// codecError classifies a failure of a field codec or of the key manager
// behind it.
func codecError(err error, msg string) error {
	kind := session.KindOf(err)
	if kind == session.KindUnknown {
		kind = session.KindPackDataError
	}
	return session.Wrap(kind, err, msg)
}

// handleError logs a failed transaction, answers it where possible and
// decides whether the connection survives.
func (r *Relay) handleError(tx *transaction, err error) error {
	kind := session.KindOf(err)
	if kind == session.KindExceptionHandled {
		if r.log != nil {
			r.log.Debugf("relay %s: %v", r.id, err)
		}
		return nil
	}
	r.metrics.failures.Add(1)
	if r.log != nil {
		r.log.Warnf("relay %s: transaction failed in %s: %v", r.id, r.tracker.Status(), err)
	}

	switch {
	case kind == session.KindDisconnectedFromSource:
		return err
	case kind == session.KindPackDataError && r.config.TolerateMalformed:
		return nil
	}
	if kind != session.KindTimeout {
		if rerr := r.respondError(tx, kind); rerr != nil {
			if r.log != nil {
				r.log.Warnf("relay %s: error response not sent: %v", r.id, rerr)
			}
			if errors.Is(rerr, session.ErrDisconnectedFromSource) {
				return rerr
			}
		}
	}
	if kind.IsConnectionLost() || r.config.TerminateOnError {
		return err
	}
	return nil
}

// respondError sends the source a well-formed answer to a failed request:
// an ERROR_RESPONSE envelope in the server role, an ISO response carrying
// ResponseCode in the client role.
func (r *Relay) respondError(tx *transaction, kind session.Kind) error {
	if r.config.Role == RoleClient {
		if r.config.Template == nil || tx.raw == nil {
			return nil
		}
		out, err := r.isoErrorResponse(tx.raw)
		if err != nil {
			return err
		}
		return r.send(out)
	}

	if tx.envelope == nil {
		return nil
	}
	reply := tx.envelope.ErrorReply(kind)
	if r.config.Template != nil && tx.raw != nil && r.config.Codec.Keys().LoggedOn(tx.envelope.ClientID()) {
		if payload, err := r.isoErrorResponse(tx.raw); err == nil {
			reply.Payload = payload
		}
	}
	out, err := r.config.Codec.Pack(reply)
	if err != nil && reply.Payload != nil {
		reply.Payload = nil
		out, err = r.config.Codec.Pack(reply)
	}
	if err != nil {
		return err
	}
	return r.send(out)
}

// isoErrorResponse builds the response to raw with field 39 set to the
// configured response code.
func (r *Relay) isoErrorResponse(raw []byte) ([]byte, error) {
	msg := iso8583.NewMessage(r.config.Template)
	if err := msg.Unpack(raw, 0, len(raw)); err != nil {
		return nil, err
	}
	mti, err := iso8583.ResponseMTI(msg.MTI())
	if err != nil {
		return nil, err
	}
	if err := msg.SetMTI(mti); err != nil {
		return nil, err
	}
	if err := msg.SetString(39, r.config.ResponseCode); err != nil {
		return nil, err
	}
	if r.config.Template.HasHeader() {
		msg.SetHeader(msg.Header().Swapped())
	}
	return msg.Pack(frame.PrefixNone)
}
