package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ErrNotConnected is returned when sending on a closed connection.
var ErrNotConnected = errors.New("client: not connected")

// Handlers receive server messages. Either may be nil.
type Handlers struct {
	OnText  func(text string)
	OnAudio func(c Clip)
}

type serverMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Audio string `json:"audio"`
}

type clearCommand struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Conn is the client side of a relay websocket.
type Conn struct {
	ws       *websocket.Conn
	handlers Handlers
	logger   *log.Logger

	mu     sync.Mutex
	closed bool
}

// Dial connects to a relay websocket URL such as
// ws://localhost:8080/websocket?session=abc.
func Dial(ctx context.Context, url string, h Handlers, logger *log.Logger) (*Conn, error) {
	if logger == nil {
		logger = log.Default()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: ws, handlers: h, logger: logger}, nil
}

// IsOpen reports whether the connection can still send.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// SendAudio sends one WAV segment as a binary frame.
func (c *Conn) SendAudio(audio []byte) error {
	return c.write(websocket.BinaryMessage, audio)
}

// SendClear asks the relay to forget the conversation so far.
func (c *Conn) SendClear() error {
	b, err := json.Marshal(clearCommand{Type: "cmd", Data: "clear"})
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, b)
}

func (c *Conn) write(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Run reads server messages until the connection fails or ctx is done.
// The connection is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer c.Close()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Printf("client: bad message: %v", err)
			continue
		}
		switch msg.Type {
		case "text":
			if c.handlers.OnText != nil {
				c.handlers.OnText(msg.Text)
			}
		case "audio":
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				c.logger.Printf("client: audio for %q is not base64: %v", msg.Text, err)
				continue
			}
			if c.handlers.OnAudio != nil {
				c.handlers.OnAudio(Clip{Text: msg.Text, Audio: audio})
			}
		default:
			c.logger.Printf("client: ignoring %q message", msg.Type)
		}
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close()
}
