package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mkurth/linechat/pkg/crypto"
	"github.com/mkurth/linechat/pkg/model"
	"github.com/mkurth/linechat/pkg/protocol"
)

// outboundBuffer is the per-session outbound queue depth. Broadcasts never
// block on a session; a session this far behind is treated as dead.
const outboundBuffer = 64

var errInvalidCredentials = errors.New("server: invalid username or password")

// Start begins accepting connections. It returns once the listener is
// bound; the accept loop runs in its own goroutine until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	slog.Info("chat server listening", "addr", s.cfg.ListenAddr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			go s.handleConn(conn)
		}
	}()

	return nil
}

// handleConn drives one session from accept to close: the login state
// machine, the authenticated dispatch loop, and cleanup.
func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	remoteAddr := conn.RemoteAddr().String()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)
	slog.Debug("new connection", "remote", remoteAddr)

	out := make(chan string, outboundBuffer)
	writerDone := make(chan struct{})
	go func() {
		s.writeLoop(conn, out)
		close(writerDone)
	}()

	// send queues one reply for the writer. Once the writer has died it
	// fails instead of blocking, so a dead peer with lines still buffered
	// in the scanner cannot wedge the session past cleanup.
	send := func(line string) bool {
		select {
		case out <- line:
			return true
		case <-writerDone:
			return false
		}
	}

	sc := bufio.NewScanner(conn)

	user, ok := s.awaitLogin(sc, send)
	if !ok {
		// Budget exhausted or peer gone before authenticating. Closing the
		// conn is the whole reaction; no ERROR frame follows a lockout.
		// Wait for the writer to drain so earlier ERROR replies are not
		// cut off by the close.
		close(out)
		<-writerDone
		s.metrics.TotalDisconnects.Add(1)
		slog.Debug("connection closed before login", "remote", remoteAddr)
		return
	}

	// Side effects of a successful login, in protocol order. The history
	// replay is queued before the session is registered, so it always
	// precedes any live broadcast on this connection.
	handshake := []string{
		protocol.EncodeWelcome(user.Username),
		protocol.EncodeUserID(user.ID),
		protocol.EncodeDisplayName(user.DisplayName),
		protocol.EncodeHistory(s.historyLines()),
	}
	for _, line := range handshake {
		if send(line) {
			continue
		}
		// Writer died mid-handshake, before the session registered
		// anywhere. Undo the presence flag and stop.
		close(out)
		if err := s.store.NonTx().SetUserActive(user.ID, false); err != nil {
			slog.Error("presence update failed", "user", user.Username, "err", err)
		}
		s.metrics.TotalDisconnects.Add(1)
		return
	}
	s.metrics.HistoryReplays.Add(1)

	sess := s.sessions.Create(user.ID, user.Username, user.DisplayName)
	s.registry.Register(sess.ID, out)
	s.registry.Broadcast(protocol.EncodeJoined(user.DisplayName), sess.ID)
	s.metrics.SuccessfulLogins.Add(1)
	slog.Info("client authenticated", "user", user.Username, "session", sess.ID)

	defer func() {
		// Cleanup on disconnect. Deregister before closing the outbound
		// channel: once the session is out of the registry no broadcast
		// can touch the channel again.
		s.registry.Deregister(sess.ID)
		close(out)
		<-writerDone
		s.sessions.Remove(sess.ID)
		if err := s.store.NonTx().SetUserActive(user.ID, false); err != nil {
			slog.Error("presence update failed", "user", user.Username, "err", err)
		}
		s.registry.Broadcast(protocol.EncodeLeft(user.DisplayName), 0)
		s.metrics.TotalDisconnects.Add(1)
		slog.Info("client disconnected", "user", user.Username, "session", sess.ID)
	}()

	for sc.Scan() {
		if !s.dispatch(sess, sc.Text(), send) {
			break // writer died, remaining buffered lines are moot
		}
	}
	if err := sc.Err(); err != nil {
		slog.Debug("read error", "user", user.Username, "err", err)
	}
}

// writeLoop serializes all outbound sends for one connection. It exits when
// the outbound channel is closed or a write fails; a failed write closes
// the conn so the read side unblocks too.
func (s *Server) writeLoop(conn net.Conn, out <-chan string) {
	w := bufio.NewWriter(conn)
	for line := range out {
		if _, err := w.WriteString(line + "\n"); err != nil {
			_ = conn.Close()
			return
		}
		if len(out) == 0 {
			if err := w.Flush(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
	_ = w.Flush()
}

// awaitLogin loops in the AwaitingCredentials state until a valid LOGIN
// frame arrives, the attempt budget runs out, or the peer goes away.
func (s *Server) awaitLogin(sc *bufio.Scanner, send func(string) bool) (*model.User, bool) {
	attemptsRemaining := s.cfg.MaxLoginAttempts
	for sc.Scan() {
		frame, err := protocol.ParseClientFrame(sc.Text())
		if err != nil || frame.Login == nil {
			// Anything but LOGIN is rejected here without touching the
			// attempt budget.
			if !send(protocol.EncodeError("please log in first")) {
				return nil, false
			}
			continue
		}

		user, err := s.authenticate(frame.Login)
		if err == nil {
			return user, true
		}
		if !errors.Is(err, errInvalidCredentials) {
			slog.Error("credential check failed", "user", frame.Login.Username, "err", err)
		}

		s.metrics.FailedLogins.Add(1)
		attemptsRemaining--
		if attemptsRemaining <= 0 {
			s.metrics.LoginLockouts.Add(1)
			slog.Info("login attempts exhausted", "user", frame.Login.Username)
			return nil, false
		}
		if !send(protocol.EncodeError(protocol.ReasonBadCredentials)) {
			return nil, false
		}
	}
	return nil, false
}

// authenticate validates a credential pair against the directory and, on
// success, marks the user active and stamps last_login in one transaction.
func (s *Server) authenticate(login *protocol.LoginFrame) (*model.User, error) {
	user, err := s.store.NonTx().GetUserByUsername(login.Username)
	if err != nil {
		return nil, fmt.Errorf("server: lookup user: %w", err)
	}
	if user == nil {
		return nil, errInvalidCredentials
	}

	ok, err := crypto.VerifyPassword(login.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("server: verify password: %w", err)
	}
	if !ok {
		return nil, errInvalidCredentials
	}

	tx, err := s.store.Tx(context.Background())
	if err != nil {
		return nil, fmt.Errorf("server: begin login tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := tx.SetUserActive(user.ID, true); err != nil {
		return nil, fmt.Errorf("server: mark active: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("server: commit login tx: %w", err)
	}

	return user, nil
}

// historyLines fetches the replay for a fresh login. A store failure is
// logged and yields an empty replay; login proceeds regardless.
func (s *Server) historyLines() []string {
	history, err := s.store.NonTx().ListHistory(s.cfg.HistoryLimit)
	if err != nil {
		slog.Error("history fetch failed", "err", err)
		s.metrics.PersistFailures.Add(1)
		return nil
	}
	lines := make([]string, len(history))
	for i, h := range history {
		lines[i] = h.String()
	}
	return lines
}

// dispatch handles one line from an authenticated session. Returns false
// when the writer has died and the session should stop reading.
func (s *Server) dispatch(sess *model.Session, line string, send func(string) bool) bool {
	frame, err := protocol.ParseClientFrame(line)
	if err != nil {
		return send(protocol.EncodeError("message format is incorrect. Use: MESSAGE:<displayName>:<chatRoomId>:<content>"))
	}

	switch {
	case frame.Login != nil:
		return send(protocol.EncodeError("already logged in"))

	case frame.Message != nil:
		s.handleChatMessage(sess, frame.Message)

	case frame.Invite != nil:
		return s.handleInvite(sess, frame.Invite, send)
	}
	return true
}

// handleChatMessage persists and fans out one chat message. The broadcast
// uses the session's server-resolved display name, not the frame field.
// Persistence failure is logged and the broadcast proceeds anyway:
// availability over durability.
func (s *Server) handleChatMessage(sess *model.Session, mf *protocol.MessageFrame) {
	body := sanitizeText(strings.TrimSpace(mf.Body))
	if body == "" || utf8.RuneCountInString(body) > model.MessageMaxBodyLength {
		return // empty or too long, silently drop
	}

	msg := &model.Message{
		UserID: sess.UserID,
		RoomID: mf.RoomID,
		Body:   body,
	}
	if err := s.store.NonTx().CreateMessage(msg); err != nil {
		slog.Error("message persist failed, broadcasting anyway", "user", sess.Username, "err", err)
		s.metrics.PersistFailures.Add(1)
	} else {
		s.metrics.MessagesPersisted.Add(1)
	}

	s.registry.Broadcast(protocol.EncodeChat(sess.DisplayName, body), sess.ID)
	s.metrics.MessagesBroadcast.Add(1)
}

// handleInvite forwards an invite control frame verbatim to the target
// user's session, or reports that the target is unreachable.
func (s *Server) handleInvite(sess *model.Session, inv *protocol.InviteFrame, send func(string) bool) bool {
	target := s.sessions.GetByUserID(inv.RouteToID)
	if target == nil || !s.registry.Send(target.ID, inv.Raw) {
		return send(protocol.EncodeError("target user not reachable"))
	}
	s.metrics.InvitesForwarded.Add(1)
	slog.Debug("invite forwarded", "tag", inv.Tag, "from", sess.Username, "to_user", inv.RouteToID)
	return true
}

// sanitizeText strips control characters from user-supplied text to prevent
// frame injection and terminal escape sequences reaching other clients.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' ' // collapse newlines to spaces
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
