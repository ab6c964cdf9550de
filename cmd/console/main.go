package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/room4-2/voicebank/audio"
	"github.com/room4-2/voicebank/conversation"
	"github.com/room4-2/voicebank/credential"
	"github.com/room4-2/voicebank/logging"
	"github.com/room4-2/voicebank/peer"
	"github.com/room4-2/voicebank/realtime"
)

const audioChunkBytes = 4800 // 100ms of 24kHz PCM16

// turnSender is the part of the realtime clients the prompt loop uses
type turnSender interface {
	SendTextMessage(text string) error
	Disconnect() error
}

func main() {
	// Flags
	serverURL := flag.String("server", "http://localhost:8787", "voicebank server base URL")
	providerURL := flag.String("provider", "https://api.openai.com", "realtime provider base URL for peer mode")
	model := flag.String("model", "gpt-4o-realtime-preview-2024-10-01", "realtime model when the credential names none")
	mode := flag.String("mode", "socket", "transport: peer, socket, chat or agent")
	ffplay := flag.String("ffplay", "", "path to ffplay for audio playback (empty disables playback)")
	audioFile := flag.String("file", "", "PCM16 24kHz mono or WAV file to send as the first turn (socket mode)")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := logging.NewConsole(*logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	thread := conversation.NewThread()
	base := strings.TrimRight(*serverURL, "/")

	var player *audio.Scheduler
	if *ffplay != "" {
		player, err = audio.NewScheduler(audio.DefaultSampleRate, audio.FFPlayFactory(ctx, *ffplay))
		if err != nil {
			log.Fatalf("Failed to start playback: %v", err)
		}
		defer player.Close()
	}

	sinks := realtime.Sinks{
		OnMessage: func(text string) {
			thread.AppendToLastAssistant(text)
			fmt.Print(text)
		},
		OnAudio: func(pcm []byte) {
			logger.Debug("Unplayed audio", zap.Int("bytes", len(pcm)))
		},
		OnError: func(message string) {
			fmt.Printf("\n❌ %s\n", message)
		},
		OnConnectionChange: func(connected bool) {
			if connected {
				log.Println("✅ Connected!")
			} else {
				log.Println("🔌 Disconnected")
			}
		},
	}

	var sender turnSender
	switch *mode {
	case "peer":
		client := peer.NewClient(peer.Config{
			BaseURL:      *providerURL,
			DefaultModel: *model,
			Preload:      peer.HTTPPreload(nil, base+"/mock/accounts.json"),
			Player:       playerOrNil(player),
		}, credential.NewClient(base+"/api/realtime/client_secret", nil), peer.NewSampleMicrophone(nil), logger)
		if err := client.Connect(ctx, sinks); err != nil {
			log.Fatalf("Failed to connect: %v", err)
		}
		sender = client

	case "socket":
		relayURL := "ws" + strings.TrimPrefix(base, "http") + "/realtime"
		log.Printf("🔌 Connecting to %s...", relayURL)
		client := peer.NewSocketClient(relayURL, "", logger)
		if err := client.Connect(ctx, sinks, playerOrNil(player)); err != nil {
			log.Fatalf("Failed to connect: %v", err)
		}
		if *audioFile != "" {
			pcm, err := loadAudioFile(*audioFile)
			if err != nil {
				log.Fatalf("Failed to load audio: %v", err)
			}
			thread.AddMessage(conversation.RoleUser, "[audio] "+*audioFile, nil)
			thread.AddMessage(conversation.RoleAssistant, "", nil)
			if err := client.SendAudio(pcm, audioChunkBytes); err != nil {
				log.Fatalf("Failed to send audio: %v", err)
			}
		}
		sender = client

	case "chat", "agent":
		sender = &httpSender{base: base, agent: *mode == "agent", thread: thread}

	default:
		log.Fatalf("Unknown mode: %s", *mode)
	}
	defer sender.Disconnect()

	prompt(ctx, sender, thread)
}

// prompt reads one user turn per line until EOF or interrupt
func prompt(ctx context.Context, sender turnSender, thread *conversation.Thread) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println("Type a question, /history to show the thread, /confirm to accept the last action card.")
	for {
		select {
		case <-ctx.Done():
			log.Println("👋 Interrupted, closing...")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/history":
				printHistory(thread)
			case line == "/confirm":
				confirm(thread)
			default:
				thread.AddMessage(conversation.RoleUser, line, nil)
				thread.AddMessage(conversation.RoleAssistant, "", nil)
				if err := sender.SendTextMessage(line); err != nil {
					fmt.Printf("❌ %v\n", err)
				}
				fmt.Println()
			}
		}
	}
}

func printHistory(thread *conversation.Thread) {
	for _, m := range thread.Messages() {
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format(time.Kitchen), m.Role, m.Content)
	}
	for _, ev := range thread.AuditLog() {
		fmt.Printf("  audit %s %s %v\n", ev.At.Format(time.Kitchen), ev.Type, ev.Slots)
	}
}

func confirm(thread *conversation.Thread) {
	msgs := thread.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if card := msgs[i].ActionCard; card != nil {
			thread.Audit(card.OnConfirmIntent, card.Slots, "USER_CONFIRMED")
			fmt.Printf("✅ %s\n", card.Title)
			return
		}
	}
	fmt.Println("No action card to confirm")
}

func playerOrNil(s *audio.Scheduler) realtime.Player {
	if s == nil {
		return nil
	}
	return s
}

// httpSender answers turns through the request/response proxy endpoints
type httpSender struct {
	base   string
	agent  bool
	thread *conversation.Thread
}

func (h *httpSender) SendTextMessage(text string) error {
	var (
		content string
		err     error
	)
	if h.agent {
		content, err = h.post("/api/agent", map[string]any{"input": text}, "final_output")
	} else {
		content, err = h.post("/api/openai-chat", map[string]any{
			"messages": []map[string]string{
				{"role": "system", "content": conversation.ChatSystemPrompt},
				{"role": "user", "content": text},
			},
		}, "choices", 0, "message", "content")
	}
	if err != nil {
		content = conversation.FallbackReply
	}

	reply := conversation.ParseReply(content)
	h.thread.AppendToLastAssistant(reply.Say)
	fmt.Print(reply.Say)
	if reply.Card != nil {
		h.thread.AttachCard(reply.Card)
		fmt.Printf("\n📋 %s: %s [%s]", reply.Card.Title, reply.Card.Details, reply.Card.ConfirmLabel)
	}
	return err
}

func (h *httpSender) post(path string, body any, field ...any) (string, error) {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return "", err
	}
	resp, err := http.Post(h.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, data)
	}
	node, err := sonic.Get(data, field...)
	if err != nil {
		return "", err
	}
	return node.String()
}

func (h *httpSender) Disconnect() error { return nil }

// loadAudioFile loads PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Check if it's a WAV file (starts with "RIFF")
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		// Skip WAV header (44 bytes for standard WAV)
		return data[44:], nil
	}
	return data, nil
}
