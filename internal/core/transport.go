package core

import (
	"fmt"
	"sync"

	"github.com/SimplyPrint/card-bridge/internal/logging"
)

// Connection is an exclusive session with the card in one reader.
// It is owned by a single bridge operation and must be disconnected on every path.
type Connection struct {
	reader string
	card   SmartCard
	atr    []byte

	mu     sync.Mutex
	closed bool
}

// Connect opens an exclusive session with the card in reader.
func Connect(ctx SmartCardContext, reader string) (*Connection, error) {
	card, err := ctx.Connect(reader, shareExclusive, protocolAny)
	if err != nil {
		return nil, &Error{
			Kind: KindConnect,
			Op:   "connect",
			Msg:  fmt.Sprintf("failed to connect to card in %q", reader),
			Err:  err,
		}
	}

	conn := &Connection{reader: reader, card: card}

	// The ATR is informational only; a reader that cannot report it still gets a session.
	if status, err := card.Status(); err == nil {
		conn.atr = status.Atr
	} else {
		logging.Debug(logging.CatCard, "Failed to read card status", map[string]any{
			"reader": reader,
			"error":  err.Error(),
		})
	}

	return conn, nil
}

// Reader returns the name of the reader this session is bound to.
func (c *Connection) Reader() string { return c.reader }

// ATR returns the card's Answer To Reset, or nil if the reader did not report it.
func (c *Connection) ATR() []byte { return c.atr }

// Transmit sends one command and parses the response. A non-success status
// word is not an error here; callers inspect Response.Status.
func (c *Connection) Transmit(cmd []byte) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &Error{Kind: KindTransport, Op: "transmit", Err: ErrConnectionClosed}
	}

	raw, err := c.card.Transmit(cmd)
	if err != nil {
		logging.Warn(logging.CatCard, "Transmit failed", map[string]any{
			"reader":  c.reader,
			"command": commandHeader(cmd),
			"error":   err.Error(),
		})
		return nil, &Error{
			Kind: KindTransport,
			Op:   "transmit",
			Msg:  "card exchange failed",
			Err:  err,
		}
	}

	resp, err := ParseResponse(raw)
	if err != nil {
		return nil, &Error{
			Kind: KindTransport,
			Op:   "transmit",
			Msg:  "invalid card response",
			Err:  err,
		}
	}

	logging.Debug(logging.CatCard, "APDU exchanged", map[string]any{
		"command":  commandHeader(cmd),
		"length":   len(cmd),
		"status":   resp.Status.String(),
		"dataSize": len(resp.Data),
	})

	return resp, nil
}

// Disconnect ends the session. It is idempotent and never fails: by the time
// it runs the outcome of the operation is already decided.
func (c *Connection) Disconnect() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if err := c.card.Disconnect(leaveCard); err != nil {
		logging.Debug(logging.CatCard, "Disconnect failed (ignored)", map[string]any{
			"reader": c.reader,
			"error":  err.Error(),
		})
	}
}
