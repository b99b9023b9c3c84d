// Package server exposes an engine.Backend over a line-based TCP protocol.
//
// Each request is one line: a command name, a space, and a JSON array of string
// arguments (omitted for PING and QUIT). Responses are "OK", "OK <json>", "PONG"
// or "ERR <message>".
//
//	OPEN  ["file","private"]    create or open a file with a mode
//	GET   ["file","key"]        OK "<value>"
//	SET   ["file","key","value"]
//	DEL   ["file","key"]
//	CLEAR ["file"]
//	DUMP  ["file"]              OK {"key":"value",...}
//	FILES []                    OK ["file",...]
package server

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-prefs/pkg/engine"
)

const maxConnections = 100

// arity is the minimum argument count of each file command.
var arity = map[string]int{
	"OPEN": 1, "GET": 2, "SET": 3, "DEL": 2, "CLEAR": 1, "DUMP": 1, "FILES": 0,
}

type Router struct {
	backend engine.Backend
	cert    *tls.Certificate

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

func NewRouter(b engine.Backend) *Router {
	return &Router{backend: b}
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Listen starts the TCP server and blocks until Stop is called.
func (r *Router) Listen(port string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}}
		listener, err = tls.Listen("tcp", ":"+port, config)
	} else {
		listener, err = net.Listen("tcp", ":"+port)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()
	defer listener.Close()

	semaphore := make(chan struct{}, maxConnections)

	for {
		conn, err := listener.Accept()
		if err != nil {
			r.mu.Lock()
			stopped := r.stopped
			r.mu.Unlock()
			if stopped || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("Accept error: %v", err)
			continue
		}

		// Set aggressive timeouts for light traffic to prevent resource exhaustion
		conn.SetDeadline(time.Now().Add(5 * time.Minute))

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
			}()
			r.HandleConnection(c)
		}(conn)
	}
}

// Stop closes the listener. Connections already accepted run until they end.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.listener != nil {
		r.listener.Close()
	}
}

// HandleConnection serves commands from conn until QUIT, EOF or a read timeout.
func (r *Router) HandleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		// Set a deadline for the next command
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		line, err := reader.ReadString('\n')
		if err != nil {
			return // Connection closed or timeout
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name, rest, _ := strings.Cut(line, " ")
		command := strings.ToUpper(name)

		switch command {
		case "PING":
			fmt.Fprintln(conn, "PONG")
			continue
		case "QUIT":
			return
		}

		var args []string
		if rest = strings.TrimSpace(rest); rest != "" {
			if err := json.Unmarshal([]byte(rest), &args); err != nil {
				fmt.Fprintln(conn, "ERR invalid arguments")
				continue
			}
		}
		r.dispatch(conn, command, args)
	}
}

func (r *Router) dispatch(w io.Writer, command string, args []string) {
	n, ok := arity[command]
	if !ok {
		fmt.Fprintln(w, "ERR unknown command", command)
		return
	}
	if len(args) < n {
		fmt.Fprintf(w, "ERR %s needs %d arguments\n", command, n)
		return
	}

	switch command {
	case "OPEN":
		mode := engine.ModePrivate
		if len(args) > 1 {
			m, err := engine.ParseMode(args[1])
			if err != nil {
				fmt.Fprintln(w, "ERR", err)
				return
			}
			mode = m
		}
		if _, err := r.backend.Open(args[0], mode); err != nil {
			fmt.Fprintln(w, "ERR", err)
			return
		}
		fmt.Fprintln(w, "OK")

	case "GET":
		st, err := r.open(args[0])
		if err != nil {
			fmt.Fprintln(w, "ERR", err)
			return
		}
		val, err := st.Get(args[1])
		if err != nil {
			fmt.Fprintln(w, "ERR", err)
			return
		}
		writeJSON(w, val)

	case "SET":
		r.apply(w, args[0], func(st engine.Store) error { return st.Put(args[1], args[2]) })

	case "DEL":
		r.apply(w, args[0], func(st engine.Store) error { return st.Remove(args[1]) })

	case "CLEAR":
		r.apply(w, args[0], func(st engine.Store) error { return st.Clear() })

	case "DUMP":
		st, err := r.open(args[0])
		if err != nil {
			fmt.Fprintln(w, "ERR", err)
			return
		}
		data, err := st.All()
		if err != nil {
			fmt.Fprintln(w, "ERR", err)
			return
		}
		writeJSON(w, data)

	case "FILES":
		list, err := r.backend.Files()
		if err != nil {
			fmt.Fprintln(w, "ERR", err)
			return
		}
		if list == nil {
			list = []string{}
		}
		writeJSON(w, list)
	}
}

// open returns a handle on a file. Files not yet OPENed get the private mode.
func (r *Router) open(name string) (engine.Store, error) {
	return r.backend.Open(name, engine.ModePrivate)
}

func (r *Router) apply(w io.Writer, name string, fn func(engine.Store) error) {
	st, err := r.open(name)
	if err == nil {
		err = fn(st)
	}
	if err != nil {
		fmt.Fprintln(w, "ERR", err)
		return
	}
	fmt.Fprintln(w, "OK")
}

func writeJSON(w io.Writer, v any) {
	res, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(w, "ERR internal error")
		return
	}
	fmt.Fprintln(w, "OK", string(res))
}
