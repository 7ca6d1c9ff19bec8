package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// reconnectDelay spaces out redials after a dropped socket.
const reconnectDelay = 3 * time.Second

// MessageEvent is one user message accepted off the socket, with the Slack
// user id already mapped to a household member name.
type MessageEvent struct {
	User        string
	SlackUserID string
	Channel     string
	Text        string
	Timestamp   string
}

// Handler consumes accepted message events. It runs on the read loop's
// goroutine, so long work should be dispatched by the handler itself.
type Handler func(ctx context.Context, ev MessageEvent)

type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, url string) (wsConn, error)

// SocketMode listens for message events over a Slack Socket Mode
// connection, filters them down to household traffic, and hands the rest to
// a Handler.
type SocketMode struct {
	appToken   string
	channelID  string
	users      map[string]string
	apiBase    string
	httpClient doer
	dial       dialFunc
	logger     *slog.Logger
}

func NewSocketMode(appToken, channelID string, users map[string]string, httpClient doer, logger *slog.Logger) *SocketMode {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketMode{
		appToken:   appToken,
		channelID:  channelID,
		users:      users,
		apiBase:    defaultAPIBase,
		httpClient: httpClient,
		dial: func(ctx context.Context, url string) (wsConn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
		logger: logger,
	}
}

// Run connects and processes envelopes until the context is canceled,
// redialing when Slack rotates or drops the connection.
func (s *SocketMode) Run(ctx context.Context, handle Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		url, err := s.connectionURL(ctx)
		if err != nil {
			s.logger.Error("slack: apps.connections.open failed", "error", err)
			if !sleepCtx(ctx, reconnectDelay) {
				return nil
			}
			continue
		}

		conn, err := s.dial(ctx, url)
		if err != nil {
			s.logger.Error("slack: websocket dial failed", "error", err)
			if !sleepCtx(ctx, reconnectDelay) {
				return nil
			}
			continue
		}

		s.logger.Info("slack: socket connected")
		err = s.readLoop(ctx, conn, handle)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logger.Warn("slack: socket closed, reconnecting", "error", err)
		} else {
			s.logger.Info("slack: disconnect requested, reconnecting")
		}
		if !sleepCtx(ctx, reconnectDelay) {
			return nil
		}
	}
}

// readLoop processes envelopes until Slack asks for a reconnect (nil error)
// or the connection fails.
func (s *SocketMode) readLoop(ctx context.Context, conn wsConn, handle Handler) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Warn("slack: unreadable envelope", "error", err)
			continue
		}

		// Acks must go out before the payload is processed; Slack redelivers
		// unacked envelopes.
		if env.EnvelopeID != "" {
			ack, _ := json.Marshal(map[string]string{"envelope_id": env.EnvelopeID})
			if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
				return err
			}
		}

		switch env.Type {
		case "hello":
			s.logger.Info("slack: hello received")

		case "disconnect":
			return nil

		case "events_api":
			ev, ok := s.eventFor(env.Payload.Event)
			if !ok {
				continue
			}
			handle(ctx, ev)

		default:
			s.logger.Debug("slack: ignoring envelope", "type", env.Type)
		}
	}
}

// eventFor filters a raw event down to a household message: channel
// messages only, from a known member, with text, and not from a bot.
func (s *SocketMode) eventFor(raw eventPayload) (MessageEvent, bool) {
	if raw.Type != "message" {
		return MessageEvent{}, false
	}
	if raw.BotID != "" || raw.Subtype != "" {
		return MessageEvent{}, false
	}
	if raw.Channel != s.channelID {
		return MessageEvent{}, false
	}
	name, known := s.users[raw.User]
	if !known {
		s.logger.Warn("slack: message from unmapped user dropped", "user", raw.User)
		return MessageEvent{}, false
	}
	if raw.Text == "" {
		return MessageEvent{}, false
	}
	return MessageEvent{
		User:        name,
		SlackUserID: raw.User,
		Channel:     raw.Channel,
		Text:        raw.Text,
		Timestamp:   raw.TS,
	}, true
}

// connectionURL obtains a fresh Socket Mode websocket URL.
func (s *SocketMode) connectionURL(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/apps.connections.open", bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.appToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("apps.connections.open: %s", resp.Status)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding apps.connections.open response: %w", err)
	}
	if !body.OK {
		return "", fmt.Errorf("apps.connections.open: %s", body.Error)
	}
	return body.URL, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

type envelope struct {
	Type       string `json:"type"`
	EnvelopeID string `json:"envelope_id"`
	Payload    struct {
		Event eventPayload `json:"event"`
	} `json:"payload"`
}

type eventPayload struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	BotID   string `json:"bot_id"`
	User    string `json:"user"`
	Text    string `json:"text"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}
