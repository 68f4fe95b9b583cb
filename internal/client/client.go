// Package client implements the relay's collaborator surface for
// presentation layers: it owns the socket, the handshake and the receive
// loop, and reports everything upward through callbacks. It shares no
// mutable state with its consumer.
package client

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"parlor/internal/protocol"
)

// MessageListener receives everything the relay pushes to this client.
// Callbacks are invoked from the client's receive goroutine.
type MessageListener interface {
	OnMessageReceived(msg protocol.Message)
	OnConnectionStatusChanged(connected bool, status string)
	OnUserListUpdated(users []string)
}

type Client struct {
	listener MessageListener
	log      *logrus.Entry

	mu        sync.Mutex
	conn      net.Conn
	writer    *bufio.Writer
	username  string
	connected bool
}

func New(listener MessageListener) *Client {
	return &Client{
		listener: listener,
		log:      logrus.WithField("component", "client"),
	}
}

// Connect dials the relay, runs the username handshake and starts the
// receive loop. The success status callback fires before the first received
// message can.
func (c *Client) Connect(host string, port int, username string) error {
	if !protocol.ValidUsername(username) {
		err := fmt.Errorf("invalid username %q", username)
		c.listener.OnConnectionStatusChanged(false, "Invalid username format. Use 2-20 alphanumeric characters.")
		return err
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		c.listener.OnConnectionStatusChanged(false, "Connection failed: "+err.Error())
		return err
	}

	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 64*1024), 8<<20)
	writer := bufio.NewWriter(conn)

	if err := c.handshake(reader, writer, username); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.writer = writer
	c.username = username
	c.connected = true
	c.mu.Unlock()

	c.listener.OnConnectionStatusChanged(true, "Connected to server as "+username)

	go c.receiveLoop(reader)

	return nil
}

func (c *Client) handshake(reader *bufio.Scanner, writer *bufio.Writer, username string) error {
	if !reader.Scan() {
		c.listener.OnConnectionStatusChanged(false, "Server disconnected")
		return fmt.Errorf("handshake: %w", scanErr(reader))
	}
	if reader.Text() != protocol.PromptUsername {
		c.listener.OnConnectionStatusChanged(false, "Unexpected server response")
		return fmt.Errorf("handshake: unexpected prompt %q", reader.Text())
	}

	if _, err := writer.WriteString(username + "\n"); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if !reader.Scan() {
		c.listener.OnConnectionStatusChanged(false, "Server disconnected")
		return fmt.Errorf("handshake: %w", scanErr(reader))
	}
	reply := reader.Text()

	switch {
	case protocol.IsSuccessLine(reply):
		return nil
	case protocol.IsErrorLine(reply):
		reason := protocol.ErrorReason(reply)
		c.listener.OnConnectionStatusChanged(false, reason)
		return fmt.Errorf("handshake rejected: %s", reason)
	default:
		c.listener.OnConnectionStatusChanged(false, "Authentication protocol error")
		return fmt.Errorf("handshake: unexpected reply %q", reply)
	}
}

func (c *Client) receiveLoop(reader *bufio.Scanner) {
	for reader.Scan() {
		line := reader.Text()
		if line == "" {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			c.log.WithError(err).Warn("dropping malformed message")
			continue
		}

		if msg.Kind == protocol.KindUserList {
			c.listener.OnUserListUpdated(protocol.SplitUserList(msg.Content))
			continue
		}
		c.listener.OnMessageReceived(msg)
	}

	if c.Connected() {
		status := "Connection lost"
		if err := reader.Err(); err != nil {
			status += ": " + err.Error()
		}
		c.teardown(false)
		c.listener.OnConnectionStatusChanged(false, status)
	}
}

// Connected reports whether the client currently holds a live session.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Username returns the name this client authenticated as.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Disconnect announces the departure with a Leave message and closes the
// socket. Calling it when not connected is a no-op.
func (c *Client) Disconnect() {
	if !c.teardown(true) {
		return
	}
	c.listener.OnConnectionStatusChanged(false, "Disconnected from server")
}

// teardown closes the connection, optionally preceded by a Leave message.
// It returns false when there was nothing to tear down.
func (c *Client) teardown(sendLeave bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return false
	}
	c.connected = false

	if sendLeave {
		leave := protocol.New(protocol.KindLeave, c.username, "Leaving")
		_, _ = c.writer.WriteString(protocol.Encode(leave) + "\n")
		_ = c.writer.Flush()
	}
	_ = c.conn.Close()
	return true
}

// SendNormal sends a broadcast text message. A "/msg user text" command is
// redirected to SendPrivate; a malformed command is surfaced locally as a
// System message instead of hitting the wire.
func (c *Client) SendNormal(text string) {
	if protocol.IsPrivateCommand(text) {
		recipient, content, ok := protocol.ParsePrivateCommand(text)
		if !ok {
			c.listener.OnMessageReceived(protocol.New(protocol.KindSystem, protocol.SystemSender,
				"Invalid private message format. Use: /msg username message"))
			return
		}
		c.SendPrivate(recipient, content)
		return
	}
	c.sendMessage(protocol.New(protocol.KindNormal, c.Username(), text))
}

// SendPrivate sends a point-to-point text message.
func (c *Client) SendPrivate(recipient, text string) {
	msg := protocol.New(protocol.KindPrivate, c.Username(), text)
	msg.Recipient = recipient
	c.sendMessage(msg)
}

// SendImage sends a base64-encoded image. With a recipient it travels as a
// private message carrying the attachment name; without one it is broadcast.
func (c *Client) SendImage(imageData, fileName, recipient string) {
	kind := protocol.KindImage
	if recipient != "" {
		kind = protocol.KindPrivate
	}
	msg := protocol.New(kind, c.Username(), imageData)
	msg.AttachmentName = fileName
	msg.Recipient = recipient
	c.sendMessage(msg)
}

// SendFile sends a base64-encoded file, directly routed when recipient is
// set and broadcast otherwise.
func (c *Client) SendFile(fileData, fileName, recipient string) {
	msg := protocol.New(protocol.KindFile, c.Username(), fileData)
	msg.AttachmentName = fileName
	msg.Recipient = recipient
	c.sendMessage(msg)
}

// SendVoice sends a base64-encoded audio clip; the attachment field carries
// its duration annotation.
func (c *Client) SendVoice(audioData, duration, recipient string) {
	msg := protocol.New(protocol.KindVoice, c.Username(), audioData)
	msg.AttachmentName = duration
	msg.Recipient = recipient
	c.sendMessage(msg)
}

// sendMessage is fire and forget, matching the relay's delivery model.
func (c *Client) sendMessage(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	if _, err := c.writer.WriteString(protocol.Encode(msg) + "\n"); err != nil {
		c.log.WithError(err).Debug("send failed")
		return
	}
	if err := c.writer.Flush(); err != nil {
		c.log.WithError(err).Debug("flush failed")
	}
}

func scanErr(sc *bufio.Scanner) error {
	if err := sc.Err(); err != nil {
		return err
	}
	return fmt.Errorf("connection closed")
}
