package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hay-kot/dockhand/internal/core/session"
)

// Subprotocol is the WebSocket subprotocol spoken by Subscriber.
const Subprotocol = "graphql-transport-ws"

const maxFrameBytes = 1 << 20

// Message types of the graphql-transport-ws protocol.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// Message is one graphql-transport-ws frame.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// errStreamClosed marks an end of stream the server asked for, which is not
// retried.
var errStreamClosed = errors.New("subscription closed by server")

// TokenSource returns a valid access token for the handshake.
type TokenSource func(ctx context.Context) (string, error)

// SubscriberOptions configures a Subscriber.
type SubscriberOptions struct {
	Endpoint string
	// ReconnectAttempts is the number of consecutive reconnects tried after
	// the connection drops. Zero disables reconnecting.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	// HandshakeTimeout bounds dial plus connection_ack. Defaults to 10s.
	HandshakeTimeout time.Duration
}

// Subscriber opens GraphQL subscriptions over WebSocket. It implements
// events.Subscriber.
type Subscriber struct {
	opts  SubscriberOptions
	token TokenSource
	log   zerolog.Logger
}

// NewSubscriber creates a Subscriber. token may be nil for anonymous
// subscriptions.
func NewSubscriber(opts SubscriberOptions, token TokenSource, log zerolog.Logger) *Subscriber {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Subscriber{
		opts:  opts,
		token: token,
		log:   log.With().Str("component", "subscriber").Logger(),
	}
}

// Subscribe opens a subscription to channel and streams its payloads. The
// first connection is made before returning so handshake errors surface to
// the caller. Later connection drops are retried per SubscriberOptions; the
// returned channel is closed once ctx is done, the server completes the
// subscription, or reconnecting gives up.
func (s *Subscriber) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	conn, id, err := s.connect(ctx, channel)
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go s.run(ctx, channel, conn, id, out)
	return out, nil
}

func (s *Subscriber) run(ctx context.Context, channel string, conn *websocket.Conn, id string, out chan<- string) {
	defer close(out)
	log := s.log.With().Str("channel", channel).Logger()

	for {
		err := s.stream(ctx, conn, channel, id, out)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		switch {
		case ctx.Err() != nil:
			return
		case err == nil, errors.Is(err, errStreamClosed):
			log.Debug().Err(err).Msg("subscription ended")
			return
		}

		log.Warn().Err(err).Msg("subscription connection lost")

		conn, id, err = s.reconnect(ctx, channel)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("subscription reconnect failed")
			}
			return
		}
	}
}

func (s *Subscriber) reconnect(ctx context.Context, channel string) (*websocket.Conn, string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.ReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(s.opts.ReconnectDelay):
		}

		conn, id, err := s.connect(ctx, channel)
		if err == nil {
			s.log.Info().Str("channel", channel).Int("attempt", attempt).Msg("subscription reconnected")
			return conn, id, nil
		}
		if errors.Is(err, session.ErrSessionLost) {
			return nil, "", err
		}

		lastErr = err
		s.log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
	}

	if lastErr == nil {
		return nil, "", errors.New("reconnect disabled")
	}
	return nil, "", fmt.Errorf("giving up after %d attempts: %w", s.opts.ReconnectAttempts, lastErr)
}

// connect dials, completes the connection_init handshake and sends the
// subscribe frame.
func (s *Subscriber) connect(ctx context.Context, channel string) (*websocket.Conn, string, error) {
	header := http.Header{}
	if s.token != nil {
		token, err := s.token(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("subscription token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	hsCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(hsCtx, s.opts.Endpoint, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, "", fmt.Errorf("dial %s: %w", s.opts.Endpoint, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	fail := func(err error) (*websocket.Conn, string, error) {
		_ = conn.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, "", err
	}

	initPayload, err := json.Marshal(map[string]string{"Authorization": header.Get("Authorization")})
	if err != nil {
		return fail(fmt.Errorf("encode connection_init: %w", err))
	}
	if err := wsjson.Write(hsCtx, conn, Message{Type: msgConnectionInit, Payload: initPayload}); err != nil {
		return fail(fmt.Errorf("send connection_init: %w", err))
	}

	for {
		var msg Message
		if err := wsjson.Read(hsCtx, conn, &msg); err != nil {
			return fail(fmt.Errorf("await connection_ack: %w", err))
		}
		if msg.Type == msgConnectionAck {
			break
		}
		if msg.Type == msgPing {
			if err := wsjson.Write(hsCtx, conn, Message{Type: msgPong}); err != nil {
				return fail(fmt.Errorf("send pong: %w", err))
			}
			continue
		}
		return fail(fmt.Errorf("await connection_ack: unexpected %q", msg.Type))
	}

	id := uuid.NewString()
	subPayload, err := json.Marshal(map[string]string{"query": "subscription { " + channel + " }"})
	if err != nil {
		return fail(fmt.Errorf("encode subscribe: %w", err))
	}
	if err := wsjson.Write(hsCtx, conn, Message{ID: id, Type: msgSubscribe, Payload: subPayload}); err != nil {
		return fail(fmt.Errorf("send subscribe: %w", err))
	}

	return conn, id, nil
}

// stream forwards next payloads until the subscription ends. A nil error
// means the server completed the subscription.
func (s *Subscriber) stream(ctx context.Context, conn *websocket.Conn, channel, id string, out chan<- string) error {
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		switch msg.Type {
		case msgPing:
			if err := wsjson.Write(ctx, conn, Message{Type: msgPong}); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
		case msgNext:
			if msg.ID != id {
				continue
			}
			payload, err := decodeNext(msg.Payload, channel)
			if err != nil {
				s.log.Warn().Err(err).Str("channel", channel).Msg("dropping undecodable event")
				continue
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return ctx.Err()
			}
		case msgError:
			if msg.ID != id {
				continue
			}
			return fmt.Errorf("%w: %s", errStreamClosed, string(msg.Payload))
		case msgComplete:
			if msg.ID == id {
				return nil
			}
		}
	}
}

// decodeNext extracts the channel field of a next payload. String values are
// returned unquoted; anything else is returned as raw JSON.
func decodeNext(raw json.RawMessage, channel string) (string, error) {
	var payload struct {
		Data   map[string]json.RawMessage `json:"data"`
		Errors []errorEntry               `json:"errors"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode next payload: %w", err)
	}
	if len(payload.Errors) > 0 {
		return "", newError(0, payload.Errors)
	}

	field, ok := payload.Data[channel]
	if !ok {
		return "", fmt.Errorf("next payload has no %q field", channel)
	}

	var str string
	if err := json.Unmarshal(field, &str); err == nil {
		return str, nil
	}
	return string(field), nil
}
