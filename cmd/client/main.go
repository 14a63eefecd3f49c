package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mkurth/linechat/pkg/client"
	"github.com/mkurth/linechat/pkg/logging"
	"github.com/mkurth/linechat/pkg/protocol"
	"github.com/mkurth/linechat/pkg/version"
)

func main() {
	addr := flag.String("server", "127.0.0.1:12345", "chat server address")
	username := flag.String("user", "", "username to log in with")
	password := flag.String("pass", "", "password (prompted when empty)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Default to "info"; override with LINECHAT_LOG_LEVEL env var (debug, info, warn, error).
	level := "info"
	if v := os.Getenv("LINECHAT_LOG_LEVEL"); v != "" {
		level = v
	}
	format := "text"
	if v := os.Getenv("LINECHAT_LOG_FORMAT"); v != "" {
		format = v
	}
	_ = logging.Setup(logging.Options{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	})

	stdin := bufio.NewScanner(os.Stdin)
	if *username == "" {
		fmt.Print("username: ")
		if !stdin.Scan() {
			return
		}
		*username = strings.TrimSpace(stdin.Text())
	}
	if *password == "" {
		fmt.Print("password: ")
		if !stdin.Scan() {
			return
		}
		*password = stdin.Text()
	}

	c := client.New(*addr)
	c.OnConnected = func() {
		fmt.Println("* connected to", *addr)
		if err := c.Login(*username, *password); err != nil {
			fmt.Println("* login refused:", err)
		}
	}
	c.OnDisconnect = func(reason string) {
		fmt.Println("* disconnected:", reason, "(retrying)")
	}
	c.OnLoginResult = func(ok bool, attemptsRemaining int) {
		if ok {
			fmt.Printf("* logged in as %s\n", *username)
			return
		}
		fmt.Printf("* login failed, %d attempts remaining\n", attemptsRemaining)
	}
	c.OnIdentity = func(userID int64, displayName string) {
		fmt.Printf("* you are %s (user %d)\n", displayName, userID)
	}
	c.OnHistory = func(lines []string) {
		for _, line := range lines {
			fmt.Println(line)
		}
	}
	c.OnChatMessage = func(displayName, body string) {
		fmt.Printf("%s: %s\n", displayName, body)
	}
	c.OnPresence = func(text string) {
		fmt.Println("*", text)
	}
	c.OnServerError = func(reason string) {
		fmt.Println("! server error:", reason)
	}
	c.OnInvite = func(inv *protocol.InviteFrame) {
		switch inv.Tag {
		case protocol.TagAddUserInvite:
			fmt.Printf("* user %d invited you (/accept %d or /reject %d)\n", inv.ActorID, inv.ActorID, inv.ActorID)
		case protocol.TagInviteAccepted:
			fmt.Printf("* user %d accepted your invite\n", inv.ActorID)
		case protocol.TagInviteRejected:
			fmt.Printf("* user %d rejected your invite\n", inv.ActorID)
		}
	}

	c.Run()
	defer func() { _ = c.Close() }()

	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if !handleCommand(c, line) {
				return
			}
			continue
		}
		if err := c.SendMessage(line); err != nil {
			fmt.Println("! not sent:", err)
			continue
		}
		// The server never echoes a message back to its sender.
		_, displayName := c.Identity()
		fmt.Printf("%s: %s\n", displayName, line)
	}
}

// handleCommand runs one slash command. Returns false when the client
// should exit.
func handleCommand(c *client.Connector, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return false

	case "/invite", "/accept", "/reject":
		if len(fields) != 2 {
			fmt.Println("! usage:", fields[0], "<userId>")
			return true
		}
		target, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Println("! bad user id:", fields[1])
			return true
		}
		self, _ := c.Identity()
		var sendErr error
		switch fields[0] {
		case "/invite":
			sendErr = c.SendInvite(protocol.TagAddUserInvite, target, self)
		case "/accept":
			sendErr = c.SendInvite(protocol.TagInviteAccepted, self, target)
		case "/reject":
			sendErr = c.SendInvite(protocol.TagInviteRejected, self, target)
		}
		if sendErr != nil {
			fmt.Println("! not sent:", sendErr)
		}

	default:
		fmt.Println("! commands: /invite <userId>, /accept <userId>, /reject <userId>, /quit")
	}
	return true
}
