package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mkurth/linechat/pkg/protocol"
)

func waitEvent(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func expectEvent(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	if got := waitEvent(t, ch); got != want {
		t.Fatalf("got event %q want %q", got, want)
	}
}

// pipeDialer hands the connector one end of an in-memory pipe and the test
// the other.
func pipeDialer(serverEnds chan<- net.Conn) func(context.Context, string) (net.Conn, error) {
	return func(_ context.Context, _ string) (net.Conn, error) {
		clientEnd, serverEnd := net.Pipe()
		serverEnds <- serverEnd
		return clientEnd, nil
	}
}

func writeLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func TestReconnectWithFixedDelay(t *testing.T) {
	var attempts atomic.Int64
	c := New("127.0.0.1:0")
	c.reconnectDelay = 10 * time.Millisecond
	c.dialFn = func(_ context.Context, _ string) (net.Conn, error) {
		attempts.Add(1)
		return nil, fmt.Errorf("connection refused")
	}

	c.Run()
	time.Sleep(100 * time.Millisecond)
	if got := attempts.Load(); got < 3 {
		t.Fatalf("attempts = %d, want at least 3", got)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	after := attempts.Load()
	time.Sleep(50 * time.Millisecond)
	if got := attempts.Load(); got != after {
		t.Fatalf("dial attempts continued after Close: %d -> %d", after, got)
	}
}

func TestDialFailureNotifiesDisconnect(t *testing.T) {
	events := make(chan string, 32)

	c := New("127.0.0.1:0")
	c.reconnectDelay = 10 * time.Millisecond
	c.dialFn = func(_ context.Context, _ string) (net.Conn, error) {
		return nil, fmt.Errorf("connection refused")
	}
	c.OnDisconnect = func(reason string) { events <- reason }

	c.Run()
	got := waitEvent(t, events)
	if !strings.Contains(got, "connection refused") {
		t.Fatalf("disconnect reason %q does not carry the dial error", got)
	}
	// Each failed attempt notifies again.
	got = waitEvent(t, events)
	if !strings.Contains(got, "connection refused") {
		t.Fatalf("second disconnect reason %q does not carry the dial error", got)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDispatchCallbacks(t *testing.T) {
	events := make(chan string, 32)
	serverEnds := make(chan net.Conn, 1)

	c := New("test")
	c.dialFn = pipeDialer(serverEnds)
	c.OnConnected = func() { events <- "connected" }
	c.OnLoginResult = func(ok bool, attempts int) { events <- fmt.Sprintf("login ok=%t attempts=%d", ok, attempts) }
	c.OnIdentity = func(id int64, name string) { events <- fmt.Sprintf("identity %d %s", id, name) }
	c.OnHistory = func(lines []string) { events <- fmt.Sprintf("history %v", lines) }
	c.OnChatMessage = func(name, body string) { events <- fmt.Sprintf("chat %s %s", name, body) }
	c.OnPresence = func(text string) { events <- "presence " + text }
	c.OnServerError = func(reason string) { events <- "error " + reason }
	c.OnInvite = func(inv *protocol.InviteFrame) { events <- "invite " + inv.Raw }
	defer func() { _ = c.Close() }()

	c.Run()
	server := <-serverEnds
	expectEvent(t, events, "connected")

	writeLine(t, server, "Welcome alice!")
	expectEvent(t, events, "login ok=true attempts=5")

	writeLine(t, server, "USER_ID:7")
	writeLine(t, server, "DISPLAY_NAME:Alice")
	expectEvent(t, events, "identity 7 Alice")

	writeLine(t, server, `MESSAGES:Bobby: hi\nAlice: yo`)
	expectEvent(t, events, "history [Bobby: hi Alice: yo]")

	writeLine(t, server, "Bobby has joined the chat.")
	expectEvent(t, events, "presence Bobby has joined the chat.")

	writeLine(t, server, "Bobby: how goes it")
	expectEvent(t, events, "chat Bobby how goes it")

	writeLine(t, server, "ERROR: target user not reachable")
	expectEvent(t, events, "error target user not reachable")

	writeLine(t, server, "ADD_USER_INVITE:7:3")
	expectEvent(t, events, "invite ADD_USER_INVITE:7:3")

	if id, name := c.Identity(); id != 7 || name != "Alice" {
		t.Fatalf("Identity() = %d, %q", id, name)
	}
	if c.State() != StateLoggedIn {
		t.Fatalf("State() = %d want StateLoggedIn", c.State())
	}
}

func TestLoginMirrorsAttemptBudget(t *testing.T) {
	events := make(chan string, 32)
	serverEnds := make(chan net.Conn, 1)

	c := New("test")
	c.dialFn = pipeDialer(serverEnds)
	c.OnConnected = func() { events <- "connected" }
	c.OnLoginResult = func(ok bool, attempts int) { events <- fmt.Sprintf("login ok=%t attempts=%d", ok, attempts) }
	defer func() { _ = c.Close() }()

	c.Run()
	server := <-serverEnds
	expectEvent(t, events, "connected")

	// net.Pipe writes are synchronous: drain the client->server direction so
	// Login's write does not block.
	go func() { _, _ = io.Copy(io.Discard, server) }()

	for want := 4; want >= 0; want-- {
		if err := c.Login("alice", "wrong"); err != nil {
			t.Fatalf("Login within budget refused: %v", err)
		}
		writeLine(t, server, "ERROR: "+protocol.ReasonBadCredentials)
		expectEvent(t, events, fmt.Sprintf("login ok=false attempts=%d", want))
	}

	// Budget mirror at zero: refuse locally, nothing hits the wire.
	if err := c.Login("alice", "wrong"); err == nil {
		t.Fatal("Login after exhausted budget succeeded")
	}
}

func TestSendRequiresLogin(t *testing.T) {
	c := New("test")
	if err := c.Login("alice", "secret"); err == nil {
		t.Fatal("Login while disconnected succeeded")
	}
	if err := c.SendMessage("hi"); err == nil {
		t.Fatal("SendMessage while disconnected succeeded")
	}

	serverEnds := make(chan net.Conn, 1)
	connected := make(chan struct{})
	c.dialFn = pipeDialer(serverEnds)
	c.OnConnected = func() { close(connected) }
	defer func() { _ = c.Close() }()

	c.Run()
	<-serverEnds
	<-connected

	// Connected but not logged in: chat and invites are still refused.
	if err := c.SendMessage("hi"); err == nil {
		t.Fatal("SendMessage before login succeeded")
	}
	if err := c.SendInvite(protocol.TagAddUserInvite, 1, 2); err == nil {
		t.Fatal("SendInvite before login succeeded")
	}
}
