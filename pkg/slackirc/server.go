package slackirc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// Server accepts IRC clients and attaches at most one of them to a
// Slack session at a time.
type Server struct {
	Name      string
	LocalAddr net.Addr
	Settings  ClientSettings

	// Listener is set once Start is listening.
	Listener net.Listener

	mu     sync.Mutex
	busy   bool
	active *Context
}

// Start runs the IRC listener. It returns only on a fatal error
// (auth or unrecoverable Slack failure); a plain client disconnect
// puts the bridge back into the dormant state and keeps listening.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.LocalAddr.String())
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", s.LocalAddr, err)
	}
	s.Listener = listener
	defer listener.Close()
	log.Infof("Listening on %v", listener.Addr())
	fatal := make(chan error, 1)
	conns := make(chan net.Conn)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				fatal <- fmt.Errorf("error accepting: %w", err)
				return
			}
			conns <- conn
		}
	}()
	for {
		select {
		case err := <-fatal:
			return err
		case conn := <-conns:
			// only one IRC client may be attached; the session must
			// be claimed here, before the handler goroutine runs, so
			// a concurrent second connection is refused and not
			// silently queued behind the first
			s.mu.Lock()
			busy := s.busy
			if !busy {
				s.busy = true
			}
			s.mu.Unlock()
			if busy {
				log.Warningf("Refusing second IRC connection from %v", conn.RemoteAddr())
				_, _ = conn.Write([]byte("ERROR :Another client is already attached\r\n"))
				conn.Close()
				continue
			}
			go func() {
				if err := s.handleClient(conn); err != nil {
					fatal <- err
				}
			}()
		}
	}
}

// Shutdown persists and tears down the active session, if any. Used
// on process termination so the status file is written.
func (s *Server) Shutdown() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		active.Shutdown()
	}
}

// handleClient runs one IRC session to completion and releases the
// single-client slot. The returned error is nil for a normal
// disconnect and non-nil for the fatal kinds.
func (s *Server) handleClient(conn net.Conn) error {
	log.Infof("Client %v connected", conn.RemoteAddr())
	ctx := NewContext(conn, s.Name, s.Settings)
	s.mu.Lock()
	s.active = ctx
	s.mu.Unlock()

	lines := make(chan string)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(conn)
		for {
			// CRLF-delimited, tolerant of bare LF
			line, err := reader.ReadString('\n')
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					log.Warningf("Error reading from %v: %v", conn.RemoteAddr(), err)
				}
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	err := ctx.Run(lines)

	log.Infof("Client %v disconnected, bridge going dormant", conn.RemoteAddr())
	ctx.Shutdown()
	conn.Close()
	s.mu.Lock()
	s.active = nil
	s.busy = false
	s.mu.Unlock()
	return err
}
