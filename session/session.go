package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/voicebank/logging"
	"github.com/room4-2/voicebank/messages"
)

const (
	writeTimeout    = 10 * time.Second
	closeGrace      = time.Second
	clientReadLimit = 16 * 1024 * 1024
	frameBacklog    = 64
)

var (
	// ErrNotConfigured is returned when no realtime key is available for the upstream
	ErrNotConfigured = errors.New("realtime api key not configured")
	// ErrNegotiationTimeout is returned when the upstream handshake does not finish in time
	ErrNegotiationTimeout = errors.New("upstream handshake timed out")
	// ErrUpstream wraps upstream dial, write and read failures
	ErrUpstream = errors.New("upstream connection failed")
	// ErrMaxSessions is returned when the manager is at capacity
	ErrMaxSessions = errors.New("maximum sessions reached")
)

// State is the lifecycle of a relay pair
type State int32

const (
	StateAwaitingUpstream State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingUpstream:
		return "awaiting_upstream"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Dialer opens the upstream websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// PairConfig describes the upstream side of a pair
type PairConfig struct {
	UpstreamURL      string
	APIKey           string
	HandshakeTimeout time.Duration
	MaxPendingBytes  int
}

// Pair relays frames between one client socket and one upstream socket.
// Client frames that arrive before the upstream handshake completes are queued
// and flushed in arrival order before any later frame.
type Pair struct {
	ID         string
	ClientConn *websocket.Conn
	CreatedAt  time.Time

	upstream *websocket.Conn
	dialer   Dialer
	cfg      PairConfig
	pending  *FrameQueue
	logger   *zap.Logger

	mu           sync.RWMutex
	state        State
	lastActivity time.Time
	err          error

	readerDone chan struct{}
	CloseChan  chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

type dialResult struct {
	conn *websocket.Conn
	err  error
}

// NewPair creates a pair in AwaitingUpstream. Nothing is dialed until Start.
func NewPair(id string, clientConn *websocket.Conn, dialer Dialer, cfg PairConfig, logger *zap.Logger) (*Pair, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(clientReadLimit)

	now := time.Now()
	return &Pair{
		ID:           id,
		ClientConn:   clientConn,
		CreatedAt:    now,
		dialer:       dialer,
		cfg:          cfg,
		pending:      NewFrameQueue(cfg.MaxPendingBytes),
		logger:       logger.With(zap.String("pair", logging.ShortID(id))),
		state:        StateAwaitingUpstream,
		lastActivity: now,
		readerDone:   make(chan struct{}),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start reads from the client and dials the upstream concurrently
func (p *Pair) Start() {
	frames := make(chan Frame, frameBacklog)
	ready := make(chan dialResult)

	go p.readClient(frames)
	go p.dialUpstream(ready)
	go p.run(frames, ready)
}

// run owns the state machine and every upstream data write
func (p *Pair) run(frames <-chan Frame, ready <-chan dialResult) {
	defer p.Close()

	for {
		select {
		case <-p.ctx.Done():
			return

		case res := <-ready:
			ready = nil
			if res.err != nil {
				p.fail(res.err)
				return
			}
			if err := p.open(res.conn); err != nil {
				p.fail(err)
				return
			}

		case f, ok := <-frames:
			if !ok {
				// client went away
				return
			}
			p.touch()

			if p.State() == StateAwaitingUpstream {
				if err := p.pending.Append(f); err != nil {
					p.fail(err)
					return
				}
				continue
			}

			if err := p.writeUpstream(f); err != nil {
				p.fail(fmt.Errorf("%w: %v", ErrUpstream, err))
				return
			}
		}
	}
}

func (p *Pair) dialUpstream(ready chan<- dialResult) {
	ctx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.cfg.HandshakeTimeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.cfg.HandshakeTimeout)
	}
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := p.dialer.DialContext(ctx, p.cfg.UpstreamURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		switch {
		case handshakeExpired(ctx, err):
			err = ErrNegotiationTimeout
		case resp != nil:
			err = fmt.Errorf("%w: handshake status %d", ErrUpstream, resp.StatusCode)
		default:
			err = fmt.Errorf("%w: %v", ErrUpstream, err)
		}
	}

	select {
	case ready <- dialResult{conn: conn, err: err}:
	case <-p.ctx.Done():
		if conn != nil {
			conn.Close()
		}
	}
}

func handshakeExpired(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}

// open flushes the pending queue to the new upstream, then switches to direct relaying
func (p *Pair) open(conn *websocket.Conn) error {
	p.mu.Lock()
	p.upstream = conn
	p.mu.Unlock()

	flushed := 0
	for _, f := range p.pending.Drain() {
		if err := p.writeUpstream(f); err != nil {
			return fmt.Errorf("%w: flush: %v", ErrUpstream, err)
		}
		flushed++
	}

	p.setState(StateOpen)
	p.logger.Info("Upstream ready", zap.Int("flushed_frames", flushed))

	go p.forwardUpstream(conn)
	return nil
}

func (p *Pair) readClient(frames chan<- Frame) {
	defer close(p.readerDone)
	defer close(frames)

	for {
		mt, data, err := p.ClientConn.ReadMessage()
		if err != nil {
			if !p.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Warn("Client read error", zap.Error(err))
			}
			return
		}

		select {
		case frames <- Frame{Type: mt, Data: data}:
		case <-p.ctx.Done():
			// keep reading until the close handshake completes
		}
	}
}

func (p *Pair) forwardUpstream(conn *websocket.Conn) {
	defer p.Close()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if p.IsClosed() {
				return
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason := propagatedCloseCode(ce)
				p.logger.Info("Upstream closed", zap.Int("code", ce.Code), zap.String("reason", ce.Text))
				p.closeClient(code, reason)
				return
			}
			p.fail(fmt.Errorf("%w: %v", ErrUpstream, err))
			return
		}

		p.touch()
		p.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := p.ClientConn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

func (p *Pair) writeUpstream(f Frame) error {
	p.upstream.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.upstream.WriteMessage(f.Type, f.Data)
}

// fail records the first error and closes the client with the matching code
func (p *Pair) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()

	code, reason := CloseCodeFor(err)
	p.logger.Warn("Relay failed", zap.Error(err), zap.Int("close_code", code))
	p.closeClient(code, reason)
}

func (p *Pair) closeClient(code int, reason string) {
	_ = p.ClientConn.WriteControl(websocket.CloseMessage, messages.CloseMessage(code, reason), time.Now().Add(writeTimeout))
}

// CloseCodeFor maps a relay error to the close code and reason sent to the client
func CloseCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return messages.CloseMissingKey, messages.ReasonMissingKey
	case errors.Is(err, ErrBackpressureExceeded):
		return messages.CloseBackpressure, messages.ReasonBackpressure
	case errors.Is(err, ErrNegotiationTimeout):
		return messages.CloseUpstreamError, messages.ReasonHandshakeTimeout
	case errors.Is(err, ErrMaxSessions):
		return messages.CloseSessionLimit, messages.ReasonSessionLimit
	default:
		return messages.CloseUpstreamError, messages.ReasonUpstreamError
	}
}

// propagatedCloseCode turns an upstream close into one that may be sent on the wire
func propagatedCloseCode(ce *websocket.CloseError) (int, string) {
	switch ce.Code {
	case websocket.CloseNoStatusReceived:
		return websocket.CloseNormalClosure, ""
	case websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return messages.CloseUpstreamError, messages.ReasonUpstreamError
	default:
		return ce.Code, ce.Text
	}
}

func (p *Pair) touch() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

func (p *Pair) setState(s State) {
	p.mu.Lock()
	if p.state != StateClosed {
		p.state = s
	}
	p.mu.Unlock()
}

// State returns the current lifecycle state
func (p *Pair) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastActivity returns when a frame last moved in either direction
func (p *Pair) LastActivity() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastActivity
}

// Err returns the failure that closed the pair, or nil for a clean close
func (p *Pair) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Pending returns the number of queued client frames
func (p *Pair) Pending() int {
	return p.pending.Len()
}

// IsClosed reports whether Close has run
func (p *Pair) IsClosed() bool {
	return p.State() == StateClosed
}

// Close terminates both sockets. Safe to call more than once.
func (p *Pair) Close() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = StateClosed
	upstream := p.upstream
	p.mu.Unlock()

	p.cancel()
	close(p.CloseChan)
	p.pending.Clear()

	if upstream != nil {
		_ = upstream.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		upstream.Close()
	}

	// Let the client acknowledge the close frame before dropping the socket
	p.closeClient(websocket.CloseNormalClosure, "")
	select {
	case <-p.readerDone:
	case <-time.After(closeGrace):
	}
	p.ClientConn.Close()

	return nil
}
