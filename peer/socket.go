package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/voicebank/conversation"
	"github.com/room4-2/voicebank/messages"
	"github.com/room4-2/voicebank/realtime"
)

const socketWriteTimeout = 10 * time.Second

// SocketClient streams text turns through the relay's /realtime endpoint.
// It is the fallback when a peer session cannot be negotiated.
type SocketClient struct {
	url          string
	instructions string
	dialer       *websocket.Dialer
	logger       *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	sinks  realtime.Sinks
	interp *realtime.Interpreter
	done   chan struct{}
}

// NewSocketClient creates a client for a relay URL such as ws://localhost:8787/realtime
func NewSocketClient(relayURL, instructions string, logger *zap.Logger) *SocketClient {
	if instructions == "" {
		instructions = conversation.AssistantInstructions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SocketClient{
		url:          relayURL,
		instructions: instructions,
		dialer:       websocket.DefaultDialer,
		logger:       logger,
	}
}

// Connect dials the relay and configures a text-only session.
// Frames sent before the relay reaches the provider are queued by the relay.
func (s *SocketClient) Connect(ctx context.Context, sinks realtime.Sinks, player realtime.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return ErrAlreadyConnected
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	s.conn = conn
	s.sinks = sinks
	s.interp = realtime.NewInterpreter(sinks, player, s.logger)
	s.done = make(chan struct{})

	if err := s.sendLocked(messages.NewSessionUpdate(s.instructions, "", []string{"text"})); err != nil {
		conn.Close()
		s.conn = nil
		return fmt.Errorf("%w: session.update: %v", ErrNegotiationFailed, err)
	}

	go s.readLoop(conn, s.interp, sinks, s.done)

	if sinks.OnConnectionChange != nil {
		sinks.OnConnectionChange(true)
	}
	return nil
}

func (s *SocketClient) readLoop(conn *websocket.Conn, interp *realtime.Interpreter, sinks realtime.Sinks, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseNormalClosure {
				s.logger.Warn("Relay closed", zap.Int("code", ce.Code), zap.String("reason", ce.Text))
				if sinks.OnError != nil {
					sinks.OnError(fmt.Sprintf("relay closed (%d): %s", ce.Code, ce.Text))
				}
			}
			s.drop(conn)
			return
		}
		interp.Handle(data)
	}
}

// drop forgets conn if it is still current and reports the disconnect
func (s *SocketClient) drop(conn *websocket.Conn) {
	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
	}
	sinks := s.sinks
	s.mu.Unlock()

	conn.Close()
	if current && sinks.OnConnectionChange != nil {
		sinks.OnConnectionChange(false)
	}
}

func (s *SocketClient) sendLocked(event any) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	data, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", event, err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// SendTextMessage appends a user turn and requests a text response
func (s *SocketClient) SendTextMessage(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.sendLocked(messages.NewUserText(text)); err != nil {
		return err
	}
	return s.sendLocked(messages.NewResponseCreate(conversation.ResponseInstructions, "text"))
}

// Disconnect closes the relay socket. Safe to call more than once.
func (s *SocketClient) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	done := s.done
	if conn == nil {
		s.mu.Unlock()
		return nil
	}
	_ = s.sendLocked(messages.NewResponseCancel())
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.drop(conn)
	}
	return nil
}

// Connected reports whether the relay socket is open
func (s *SocketClient) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// SendAudio streams PCM16 through the input buffer in chunks, then commits it
// and requests a response
func (s *SocketClient) SendAudio(pcm []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = len(pcm)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}

	for i := 0; i < len(pcm); i += chunkSize {
		end := min(i+chunkSize, len(pcm))
		if err := s.sendLocked(messages.NewInputAudioAppend(pcm[i:end])); err != nil {
			return err
		}
	}
	if err := s.sendLocked(messages.NewInputAudioCommit()); err != nil {
		return err
	}
	return s.sendLocked(messages.NewResponseCreate(conversation.ResponseInstructions, "text"))
}
