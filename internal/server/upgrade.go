package server

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// MaxHeaderBytes caps the HTTP request read before an upgrade.
const MaxHeaderBytes = 4096 * 4

// DefaultUpgradeTimeout bounds reading the HTTP request.
const DefaultUpgradeTimeout = 60 * time.Second

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	errHeaderTooLarge = errors.New("request header too large")
	errNoUpgrade      = errors.New("request has no Upgrade header")
)

// bufferedConn is a net.Conn whose reads drain r first.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// acceptUpgrade lets SSH run behind HTTP proxies and CDNs. A connection
// that starts with an SSH identification string is returned as is. Anything
// else must be an HTTP request carrying an Upgrade header; it is answered
// with 101 Switching Protocols and the SSH session continues on the same
// connection.
func acceptUpgrade(conn net.Conn, timeout time.Duration, logger *slog.Logger) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultUpgradeTimeout
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	br := bufio.NewReaderSize(conn, MaxHeaderBytes)
	prefix, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read preamble: %w", err)
	}
	if string(prefix) == "SSH-" {
		return &bufferedConn{Conn: conn, r: br}, nil
	}

	var lines []string
	size := 0
	for {
		// ReadSlice never buffers more than MaxHeaderBytes for one line.
		raw, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			size = MaxHeaderBytes + 1
		} else if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		} else {
			size += len(raw)
		}
		if size > MaxHeaderBytes {
			conn.Write([]byte("HTTP/1.1 431 Request Header Fields Too Large\r\n\r\n"))
			return nil, errHeaderTooLarge
		}
		line := strings.TrimRight(string(raw), "\r\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, errNoUpgrade
	}

	headers := lines[1:]
	logger.Debug("upgrade request", "request", lines[0],
		"host", headerValue(headers, "Host"),
		"cf_connecting_ip", headerValue(headers, "CF-Connecting-IP"))

	if headerValue(headers, "Upgrade") == "" {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n"))
		return nil, errNoUpgrade
	}
	if _, err := conn.Write([]byte(upgradeResponse(headerValue(headers, "Sec-WebSocket-Key")))); err != nil {
		return nil, fmt.Errorf("write upgrade response: %w", err)
	}
	return &bufferedConn{Conn: conn, r: br}, nil
}

// upgradeResponse builds the 101 reply. The accept token is included when
// the client sent a WebSocket key.
func upgradeResponse(key string) string {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	if key != "" {
		b.WriteString("Sec-WebSocket-Accept: " + websocketAccept(key) + "\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

func websocketAccept(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// headerValue returns the value of the named header, matched
// case-insensitively, or "".
func headerValue(headers []string, name string) string {
	for _, line := range headers {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
