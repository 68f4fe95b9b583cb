package server

import (
	"bufio"
	"io"
	"net"
	"strings"
)

// lineConn is the transport a session runs over: one text line in, one text
// line out. Both the TCP listener and the WebSocket bridge satisfy it, and
// tests substitute their own.
type lineConn interface {
	// ReadLine blocks for the next line, without its terminator.
	ReadLine() (string, error)
	// WriteLine writes one line and flushes it to the peer.
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

type tcpLineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writer  *bufio.Writer
}

func newTCPLineConn(conn net.Conn, maxLineBytes int) *tcpLineConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &tcpLineConn{
		conn:    conn,
		scanner: scanner,
		writer:  bufio.NewWriter(conn),
	}
}

func (c *tcpLineConn) ReadLine() (string, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(c.scanner.Text(), "\r"), nil
}

func (c *tcpLineConn) WriteLine(line string) error {
	if _, err := c.writer.WriteString(line + "\n"); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *tcpLineConn) Close() error {
	return c.conn.Close()
}

func (c *tcpLineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
