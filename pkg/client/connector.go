// Package client implements the linechat client networking: the connection
// lifecycle with automatic reconnect, the login handshake, and dispatch of
// incoming server lines to callbacks.
package client

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mkurth/linechat/pkg/protocol"
)

// State represents the connector's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected // TCP established, not yet logged in
	StateLoggedIn
)

// DefaultReconnectDelay is the fixed pause between reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

// defaultLoginAttempts mirrors the server's attempt budget so the client
// can refuse a doomed LOGIN locally instead of burning the connection.
const defaultLoginAttempts = 5

// Connector manages the TCP connection to a chat server.
type Connector struct {
	mu sync.Mutex

	addr  string
	state State
	conn  net.Conn

	userID            int64
	username          string
	displayName       string
	attemptsRemaining int

	reconnectDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Dial function (allows in-memory transports in tests)
	dialFn func(ctx context.Context, addr string) (net.Conn, error)

	// Callbacks for frontend updates. All are invoked from the read loop
	// goroutine; nil callbacks are skipped.
	OnStateChange func(state State)
	OnConnected   func()
	OnDisconnect  func(reason string)
	OnLoginResult func(success bool, attemptsRemaining int)
	OnIdentity    func(userID int64, displayName string)
	OnHistory     func(lines []string)
	OnChatMessage func(displayName, body string)
	OnPresence    func(text string)
	OnServerError func(reason string)
	OnInvite      func(invite *protocol.InviteFrame)
}

// New creates a connector for the given server address. Run starts it.
func New(addr string) *Connector {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connector{
		addr:              addr,
		state:             StateDisconnected,
		attemptsRemaining: defaultLoginAttempts,
		reconnectDelay:    DefaultReconnectDelay,
		ctx:               ctx,
		cancel:            cancel,
	}
	c.dialFn = func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	return c
}

// Run starts the connect/read/reconnect loop in the background. The loop
// redials with a fixed delay until Close is called.
func (c *Connector) Run() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop()
	}()
}

// Close stops the connector and closes any live connection. It blocks
// until the background loop has exited; no callbacks fire afterwards.
func (c *Connector) Close() error {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the server-assigned user id and display name, valid
// once logged in.
func (c *Connector) Identity() (int64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.displayName
}

// Login sends a LOGIN frame. It refuses locally when the mirrored attempt
// budget is exhausted, since the server would just drop the connection.
func (c *Connector) Login(username, password string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return fmt.Errorf("client: not connected")
	}
	if c.attemptsRemaining <= 0 {
		c.mu.Unlock()
		return fmt.Errorf("client: login attempts exhausted, reconnect first")
	}
	c.username = username
	c.mu.Unlock()

	return c.send(protocol.EncodeLogin(username, password))
}

// SendMessage sends one chat message to the global room.
func (c *Connector) SendMessage(body string) error {
	return c.SendRoomMessage(0, body)
}

// SendRoomMessage sends one chat message tagged with a room id.
func (c *Connector) SendRoomMessage(roomID int64, body string) error {
	c.mu.Lock()
	if c.state != StateLoggedIn {
		c.mu.Unlock()
		return fmt.Errorf("client: not logged in")
	}
	name := c.displayName
	c.mu.Unlock()

	return c.send(protocol.EncodeMessage(name, roomID, body))
}

// SendInvite sends an invite control frame.
func (c *Connector) SendInvite(tag string, firstID, secondID int64) error {
	c.mu.Lock()
	if c.state != StateLoggedIn {
		c.mu.Unlock()
		return fmt.Errorf("client: not logged in")
	}
	c.mu.Unlock()

	return c.send(protocol.EncodeInvite(tag, firstID, secondID))
}

// send writes one line to the live connection.
func (c *Connector) send(line string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("client: not connected")
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// loop dials, reads until the connection drops, then waits the fixed
// reconnect delay and tries again.
func (c *Connector) loop() {
	for {
		c.setState(StateConnecting)
		conn, err := c.dialFn(c.ctx, c.addr)
		if err != nil {
			c.setState(StateDisconnected)
			slog.Debug("dial failed", "addr", c.addr, "err", err)
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			if c.OnDisconnect != nil {
				c.OnDisconnect("connect failed: " + err.Error())
			}
			if !c.sleep() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attemptsRemaining = defaultLoginAttempts
		c.mu.Unlock()
		c.setState(StateConnected)
		if c.OnConnected != nil {
			c.OnConnected()
		}

		reason := c.readLoop(conn)
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.setState(StateDisconnected)

		select {
		case <-c.ctx.Done():
			return
		default:
		}
		if c.OnDisconnect != nil {
			c.OnDisconnect(reason)
		}
		if !c.sleep() {
			return
		}
	}
}

// sleep pauses for the reconnect delay. Returns false when the connector
// was closed during the pause.
func (c *Connector) sleep() bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(c.reconnectDelay):
		return true
	}
}

// readLoop reads server lines until the connection drops and returns the
// disconnect reason.
func (c *Connector) readLoop(conn net.Conn) string {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		c.dispatch(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err.Error()
	}
	return "connection closed by server"
}

// dispatch classifies one server line and invokes the matching callback.
func (c *Connector) dispatch(line string) {
	event := protocol.ParseServerLine(line)
	switch event.Kind {
	case protocol.EventWelcome:
		c.mu.Lock()
		c.state = StateLoggedIn
		c.attemptsRemaining = defaultLoginAttempts
		attempts := c.attemptsRemaining
		c.mu.Unlock()
		c.notifyState(StateLoggedIn)
		if c.OnLoginResult != nil {
			c.OnLoginResult(true, attempts)
		}

	case protocol.EventUserID:
		c.mu.Lock()
		c.userID = event.UserID
		c.mu.Unlock()

	case protocol.EventDisplayName:
		c.mu.Lock()
		c.displayName = event.DisplayName
		userID := c.userID
		c.mu.Unlock()
		if c.OnIdentity != nil {
			c.OnIdentity(userID, event.DisplayName)
		}

	case protocol.EventHistory:
		if c.OnHistory != nil {
			c.OnHistory(event.History)
		}

	case protocol.EventError:
		if event.Reason == protocol.ReasonBadCredentials {
			c.mu.Lock()
			c.attemptsRemaining--
			attempts := c.attemptsRemaining
			c.mu.Unlock()
			if c.OnLoginResult != nil {
				c.OnLoginResult(false, attempts)
			}
			return
		}
		if c.OnServerError != nil {
			c.OnServerError(event.Reason)
		}

	case protocol.EventPresence:
		if c.OnPresence != nil {
			c.OnPresence(event.Text)
		}

	case protocol.EventChat:
		if c.OnChatMessage != nil {
			c.OnChatMessage(event.DisplayName, event.Body)
		}

	case protocol.EventUnknown:
		// Invite control frames come back verbatim and parse as client
		// frames, not server lines.
		if frame, err := protocol.ParseClientFrame(line); err == nil && frame.Invite != nil {
			if c.OnInvite != nil {
				c.OnInvite(frame.Invite)
			}
			return
		}
		slog.Debug("unrecognized server line", "line", line)
	}
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.notifyState(s)
}

func (c *Connector) notifyState(s State) {
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}
