package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.

	// Per-event handling budget. Keeps a slow database from wedging the
	// read pump forever.
	dispatchTimeout = 10 * time.Second
)

// Client is a middleman between one websocket connection and the engine.
type Client struct {
	UserID      int
	Username    string
	ConnectedAt time.Time

	engine *Engine
	conn   *websocket.Conn

	// Buffered channel of outbound frames. Never closed: enqueue runs
	// concurrently from other connections' handlers, so teardown goes
	// through conn.Close and the pumps exit on its errors.
	send chan []byte
}

func newClient(engine *Engine, conn *websocket.Conn, userID int, username string) *Client {
	return &Client{
		UserID:      userID,
		Username:    username,
		ConnectedAt: time.Now(),
		engine:      engine,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
	}
}

const sendBuffer = 256

// enqueue hands a frame to the write pump without blocking. A full buffer
// means the peer is not draining; the frame is dropped and counted rather
// than stalling the caller or killing the connection.
func (c *Client) enqueue(frame []byte) bool {
	if frame == nil {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		droppedFrames.Inc()
		return false
	}
}

// closeReplaced shoves a going-away frame at a connection that just got
// superseded by a newer one for the same user, then tears it down. The
// dying read pump's disconnect is a no-op because the registry entry
// already points at the replacement.
func (c *Client) closeReplaced() {
	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "connected elsewhere"), deadline)
	c.conn.Close()
}

// ReadPump pumps frames from the websocket connection into the engine.
func (c *Client) ReadPump() {
	defer func() {
		// Cleanup: if the connection dies, run the full disconnect path.
		c.engine.HandleDisconnect(c)
		c.conn.Close()
	}()

	// Config limits to prevent abuse
	c.conn.SetReadLimit(c.engine.maxMessageBytes)

	// Heartbeat logic (Keep-Alive)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "user_id", c.UserID, "error", err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.enqueue(encodeEvent(EventMessageError, ErrorPayload{Error: validationError("malformed frame")}))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		c.engine.Dispatch(ctx, c, env)
		cancel()
	}
}

// WritePump pumps frames from the send channel to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			// Set a write deadline so we don't hang forever
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			// Optimization: if there are queued frames, write them all in
			// one go. This reduces system calls (syscalls are expensive).
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			// Heartbeat: send a ping to keep the connection alive.
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
