package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/room4-2/voicebank/conversation"
	"github.com/room4-2/voicebank/credential"
	"github.com/room4-2/voicebank/messages"
	"github.com/room4-2/voicebank/realtime"
)

const (
	defaultNegotiationTimeout = 15 * time.Second
	maxAnswerBytes            = 1 << 20
	preloadPrefix             = "DEMO_ACCOUNTS_JSON: "
)

var (
	ErrNotConnected       = errors.New("not connected to voice service")
	ErrAlreadyConnected   = errors.New("peer session already active")
	ErrCredential         = errors.New("failed to obtain realtime credential")
	ErrMediaAccessDenied  = errors.New("microphone access denied")
	ErrNegotiationFailed  = errors.New("failed to connect to realtime api")
	ErrNegotiationTimeout = errors.New("realtime negotiation timed out")
)

// State of a peer session
type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	default:
		return "idle"
	}
}

// Preloader returns demo reference data pushed into the conversation on open
type Preloader func(ctx context.Context) ([]byte, error)

// Config describes the provider side of a peer session
type Config struct {
	BaseURL            string
	DefaultModel       string
	Instructions       string
	Voice              string
	NegotiationTimeout time.Duration
	HTTPClient         *http.Client
	NewLink            LinkFactory
	Preload            Preloader
	Player             realtime.Player
}

// Client negotiates a direct peer session with the realtime provider
type Client struct {
	cfg    Config
	creds  credential.Source
	mic    Microphone
	logger *zap.Logger

	// mu guards state and serializes every control channel send
	mu         sync.Mutex
	state      State
	link       Link
	generation uint64
	sinks      realtime.Sinks
	interp     *realtime.Interpreter

	// recvMu serializes inbound dispatch
	recvMu sync.Mutex
}

// NewClient creates an idle peer client
func NewClient(cfg Config, creds credential.Source, mic Microphone, logger *zap.Logger) *Client {
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = defaultNegotiationTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Instructions == "" {
		cfg.Instructions = conversation.AssistantInstructions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NewLink == nil {
		cfg.NewLink = NewPionLinkFactory(nil, logger)
	}
	return &Client{
		cfg:    cfg,
		creds:  creds,
		mic:    mic,
		logger: logger,
	}
}

// Connect negotiates the session and returns once the session is configured.
// Any failure leaves the client idle and reports false to the connection sink.
func (c *Client) Connect(ctx context.Context, sinks realtime.Sinks) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateNegotiating
	c.generation++
	gen := c.generation
	c.sinks = sinks
	c.interp = realtime.NewInterpreter(sinks, c.cfg.Player, c.logger)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.NegotiationTimeout)
	defer cancel()

	cred, err := c.creds.Request(ctx)
	if err != nil {
		return c.abort(gen, nil, c.negotiationError(ctx, ErrCredential, err))
	}

	link, err := c.cfg.NewLink()
	if err != nil {
		return c.abort(gen, nil, fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
	}
	if !c.attach(gen, link) {
		link.Close()
		return ErrNotConnected
	}

	track, err := c.mic.Open(ctx)
	if err != nil {
		return c.abort(gen, link, fmt.Errorf("%w: %v", ErrMediaAccessDenied, err))
	}
	if err := link.AddTrack(track); err != nil {
		return c.abort(gen, link, fmt.Errorf("%w: add track: %v", ErrNegotiationFailed, err))
	}

	opened := make(chan struct{})
	var openOnce sync.Once
	link.OnOpen(func() { openOnce.Do(func() { close(opened) }) })
	link.OnMessage(func(data []byte) { c.receive(gen, data) })
	link.OnAudio(func(pcm []byte) { c.receiveAudio(gen, pcm) })

	offer, err := link.CreateOffer(ctx)
	if err != nil {
		return c.abort(gen, link, c.negotiationError(ctx, ErrNegotiationFailed, err))
	}

	model := cred.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	answer, err := c.exchange(ctx, cred.Secret, model, offer)
	if err != nil {
		return c.abort(gen, link, c.negotiationError(ctx, ErrNegotiationFailed, err))
	}
	if err := link.SetAnswer(answer); err != nil {
		return c.abort(gen, link, fmt.Errorf("%w: set answer: %v", ErrNegotiationFailed, err))
	}

	select {
	case <-opened:
	case <-ctx.Done():
		return c.abort(gen, link, c.negotiationError(ctx, ErrNegotiationFailed, ctx.Err()))
	}

	preload := c.preloadEvent(ctx)

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if preload != nil {
		if err := c.sendLocked(preload); err != nil {
			c.logger.Debug("Preload not sent", zap.Error(err))
		}
	}
	if err := c.sendLocked(messages.NewSessionUpdate(c.cfg.Instructions, c.cfg.Voice, nil)); err != nil {
		c.mu.Unlock()
		return c.abort(gen, link, fmt.Errorf("%w: session.update: %v", ErrNegotiationFailed, err))
	}
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("Peer session connected", zap.String("model", model))
	if sinks.OnConnectionChange != nil {
		sinks.OnConnectionChange(true)
	}
	return nil
}

// attach records the link unless the negotiation was cancelled
func (c *Client) attach(gen uint64, link Link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.link = link
	return true
}

func (c *Client) negotiationError(ctx context.Context, kind, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrNegotiationTimeout, err)
	}
	return fmt.Errorf("%w: %v", kind, err)
}

// abort tears down a failed negotiation. A concurrent Disconnect already
// reported the state change, so the sinks only fire for the current attempt.
func (c *Client) abort(gen uint64, link Link, err error) error {
	c.mu.Lock()
	current := c.generation == gen
	if current {
		c.generation++
		c.state = StateIdle
		c.link = nil
	}
	sinks := c.sinks
	c.mu.Unlock()

	if link != nil {
		link.Close()
	}
	c.mic.Close()

	c.logger.Warn("Peer negotiation failed", zap.Error(err))
	if current {
		if sinks.OnError != nil {
			sinks.OnError(err.Error())
		}
		if sinks.OnConnectionChange != nil {
			sinks.OnConnectionChange(false)
		}
	}
	return err
}

// exchange posts the offer and returns the provider's answer SDP
func (c *Client) exchange(ctx context.Context, secret, model, offer string) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/realtime?model=" + url.QueryEscape(model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("OpenAI-Beta", "realtime=v1")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > 0 {
			return "", fmt.Errorf("status %d - %s", resp.StatusCode, body)
		}
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	return string(body), nil
}

// preloadEvent builds the demo context message. Any failure skips it.
func (c *Client) preloadEvent(ctx context.Context) *messages.ConversationItemCreate {
	if c.cfg.Preload == nil {
		return nil
	}
	data, err := c.cfg.Preload(ctx)
	if err != nil {
		c.logger.Debug("Preload unavailable", zap.Error(err))
		return nil
	}
	var doc any
	if err := sonic.Unmarshal(data, &doc); err != nil {
		c.logger.Debug("Preload is not JSON", zap.Error(err))
		return nil
	}
	compact, err := sonic.Marshal(doc)
	if err != nil {
		return nil
	}
	return messages.NewSystemText(preloadPrefix + string(compact))
}

func (c *Client) receive(gen uint64, data []byte) {
	c.mu.Lock()
	live := c.generation == gen
	interp := c.interp
	c.mu.Unlock()
	if !live || interp == nil {
		return
	}

	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	interp.Handle(data)
}

// receiveAudio plays remote speech, falling back to the audio sink without a working player
func (c *Client) receiveAudio(gen uint64, pcm []byte) {
	c.mu.Lock()
	live := c.generation == gen
	sinks := c.sinks
	c.mu.Unlock()
	if !live {
		return
	}

	if c.cfg.Player != nil {
		err := c.cfg.Player.Enqueue(pcm)
		if err == nil {
			return
		}
		c.logger.Warn("Playback enqueue failed, falling back to audio sink", zap.Error(err))
	}
	if sinks.OnAudio != nil {
		sinks.OnAudio(pcm)
	}
}

func (c *Client) sendLocked(event any) error {
	if c.link == nil {
		return ErrNotConnected
	}
	data, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", event, err)
	}
	return c.link.Send(data)
}

// StartRecording checks the session is live. The microphone track streams
// continuously from connect time.
func (c *Client) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ErrNotConnected
	}
	c.logger.Debug("Recording started")
	return nil
}

// StopRecording asks the provider to respond now. It is a no-op when idle.
func (c *Client) StopRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return
	}
	if err := c.sendLocked(messages.NewResponseCreate(conversation.ResponseInstructions)); err != nil {
		c.logger.Warn("Failed to request response", zap.Error(err))
	}
}

// SendTextMessage appends a user turn and requests a response, as one unit
func (c *Client) SendTextMessage(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ErrNotConnected
	}
	if err := c.sendLocked(messages.NewUserText(text)); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if err := c.sendLocked(messages.NewResponseCreate(conversation.ResponseInstructions)); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Disconnect cancels any pending response and closes the session.
// Safe to call more than once; the connection sink hears false once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateConnected {
		_ = c.sendLocked(messages.NewResponseCancel())
	}
	link := c.link
	sinks := c.sinks
	c.generation++
	c.state = StateIdle
	c.link = nil
	c.mu.Unlock()

	if link != nil {
		if err := link.CloseChannel(); err != nil {
			c.logger.Debug("Control channel close", zap.Error(err))
		}
		link.Close()
	}
	c.mic.Close()

	c.logger.Info("Peer session disconnected")
	if sinks.OnConnectionChange != nil {
		sinks.OnConnectionChange(false)
	}
	return nil
}

// State returns the current session state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the provider session id once announced
func (c *Client) SessionID() string {
	c.mu.Lock()
	interp := c.interp
	c.mu.Unlock()
	if interp == nil {
		return ""
	}
	return interp.SessionID()
}

// HTTPPreload fetches demo data from a URL, typically the server's /mock/accounts.json
func HTTPPreload(client *http.Client, target string) Preloader {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("preload status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	}
}
