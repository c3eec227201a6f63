package peerlink

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames; input messages are tiny and a
	// larger frame means a broken or hostile peer.
	maxMessageSize = 512
)

// WSLink carries the peer channel over a websocket connection. A background
// reader feeds an inbox so Recv never blocks; writes hold a mutex and a write
// deadline in the usual gorilla discipline.
type WSLink struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	inboxMu sync.Mutex
	inbox   [][]byte

	closeOnce sync.Once
	closed    chan struct{}
	readErr   error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Dial connects to a listening peer at url (ws://host:port/path).
func Dial(url string) (*WSLink, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("peerlink: dial %s: %w", url, err)
	}
	return newWSLink(conn), nil
}

// Upgrade accepts an inbound peer connection on an HTTP handler.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSLink, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("peerlink: upgrade: %w", err)
	}
	return newWSLink(conn), nil
}

func newWSLink(conn *websocket.Conn) *WSLink {
	l := &WSLink{
		conn:   conn,
		closed: make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go l.readLoop()
	go l.pingLoop()
	return l
}

func (l *WSLink) readLoop() {
	for {
		kind, payload, err := l.conn.ReadMessage()
		if err != nil {
			l.inboxMu.Lock()
			l.readErr = err
			l.inboxMu.Unlock()
			l.Close()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		l.inboxMu.Lock()
		l.inbox = append(l.inbox, payload)
		l.inboxMu.Unlock()
	}
}

func (l *WSLink) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			l.writeMu.Lock()
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := l.conn.WriteMessage(websocket.PingMessage, nil)
			l.writeMu.Unlock()
			if err != nil {
				l.Close()
				return
			}
		}
	}
}

// Send writes one binary message to the peer.
func (l *WSLink) Send(payload []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("peerlink: send: %w", err)
	}
	return nil
}

// Recv drains the inbox. Once the link is closed and the inbox empty, the
// terminal read error (if any) surfaces wrapped in ErrClosed.
func (l *WSLink) Recv() ([][]byte, error) {
	l.inboxMu.Lock()
	out := l.inbox
	l.inbox = nil
	err := l.readErr
	l.inboxMu.Unlock()

	if len(out) == 0 && err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return out, nil
}

// Close tears the connection down.
func (l *WSLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.writeMu.Lock()
		l.conn.SetWriteDeadline(time.Now().Add(writeWait))
		l.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.writeMu.Unlock()
		l.conn.Close()
	})
	return nil
}
