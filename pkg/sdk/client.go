// Package sdk provides the client-side library for reaching a prefsd daemon.
// It supports both remote connections via TCP/TLS and local embedded mode.
package sdk

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-prefs/pkg/engine"
)

// Client is a remote backend served by prefsd.
// It implements engine.Backend, so a prefs.Prefs can run on top of it.
// Keys and values travel exactly as the facade stores them, already obfuscated.
type Client struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects concurrent access to the connection
}

var _ engine.Backend = (*Client)(nil)

// Connect establishes a TLS-encrypted connection to a remote prefsd daemon.
// If PREFS_DISABLE_TLS is set to "true", it falls back to plain TCP.
func Connect(addr string) (*Client, error) {
	c := &Client{addr: addr}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	var conn net.Conn
	var err error

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	if os.Getenv("PREFS_DISABLE_TLS") == "true" {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // prefsd uses a self-signed certificate
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}

	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// call sends one command with JSON encoded arguments and returns the payload of
// the OK response, if any.
func (c *Client) call(cmd string, args ...string) (string, error) {
	if args == nil {
		args = []string{}
	}
	enc, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	resp, err := c.sendAndReceive(cmd + " " + string(enc))
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.TrimPrefix(resp, "OK"), " "), nil
}

// Internal helper for TCP communication
func (c *Client) sendAndReceive(line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	var resp string

	// Try up to 3 times with backoff
	for i := 0; i < 3; i++ {
		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				time.Sleep(time.Duration(i*100) * time.Millisecond)
				continue
			}
		}

		c.conn.SetDeadline(time.Now().Add(30 * time.Second))

		_, err = fmt.Fprint(c.conn, line+"\n")
		if err == nil {
			resp, err = c.reader.ReadString('\n')
			if err == nil {
				resp = strings.TrimSpace(resp)
				if msg, ok := strings.CutPrefix(resp, "ERR"); ok {
					return "", wireError(strings.TrimSpace(msg))
				}
				return resp, nil
			}
		}

		fmt.Fprintf(os.Stderr, "[Prefs SDK] Attempt %d failed: %v. Reconnecting...\n", i+1, err)

		// Force a reconnect on the next iteration
		if closeErr := c.reconnect(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "[Prefs SDK] Reconnect attempt failed: %v\n", closeErr)
		}

		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return "", fmt.Errorf("failed after 3 attempts. last error: %v", err)
}

// wireError turns an ERR message back into the engine sentinel it came from.
func wireError(msg string) error {
	switch msg {
	case engine.ErrKeyNotFound.Error():
		return engine.ErrKeyNotFound
	case engine.ErrFileNotFound.Error():
		return engine.ErrFileNotFound
	}
	return errors.New(msg)
}

// Ping checks that the daemon answers.
func (c *Client) Ping() error {
	resp, err := c.sendAndReceive("PING")
	if err != nil {
		return err
	}
	if resp != "PONG" {
		return fmt.Errorf("unexpected ping response %q", resp)
	}
	return nil
}

// Open registers the file with the daemon and returns a handle on it.
func (c *Client) Open(name string, mode engine.Mode) (engine.Store, error) {
	if _, err := c.call("OPEN", name, mode.String()); err != nil {
		return nil, err
	}
	return &remoteFile{client: c, name: name}, nil
}

// Files lists the files known to the daemon.
func (c *Client) Files() ([]string, error) {
	resp, err := c.call("FILES")
	if err != nil {
		return nil, err
	}
	var list []string
	err = json.Unmarshal([]byte(resp), &list)
	return list, err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}

// remoteFile is a Store pinned to one file on the daemon.
type remoteFile struct {
	client *Client
	name   string
}

func (f *remoteFile) Get(key string) (string, error) {
	resp, err := f.client.call("GET", f.name, key)
	if err != nil {
		return "", err
	}
	var val string
	err = json.Unmarshal([]byte(resp), &val)
	return val, err
}

func (f *remoteFile) All() (map[string]string, error) {
	resp, err := f.client.call("DUMP", f.name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	err = json.Unmarshal([]byte(resp), &out)
	return out, err
}

func (f *remoteFile) Put(key, value string) error {
	_, err := f.client.call("SET", f.name, key, value)
	return err
}

func (f *remoteFile) Remove(key string) error {
	_, err := f.client.call("DEL", f.name, key)
	return err
}

func (f *remoteFile) Clear() error {
	_, err := f.client.call("CLEAR", f.name)
	return err
}
