// Package daemontest provides an in-process fake daemon for tests.
package daemontest

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jwulff/dictapad/internal/daemon"
)

// Server accepts connections on a temporary Unix socket. Commands are
// answered from Responses (default {"ok":true}); subscribed connections
// receive every event passed to Emit.
type Server struct {
	Path string

	mu        sync.Mutex
	responses map[string]daemon.Response
	delays    map[string]time.Duration
	commands  []daemon.Command
	subs      []net.Conn
	subscribe chan struct{}

	ln net.Listener
}

// New starts a fake daemon that is shut down when the test ends.
func New(t *testing.T) *Server {
	t.Helper()

	path := filepath.Join(t.TempDir(), "daemon.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Path:      path,
		responses: make(map[string]daemon.Response),
		delays:    make(map[string]time.Duration),
		subscribe: make(chan struct{}, 16),
		ln:        ln,
	}
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Respond sets the response for a command name.
func (s *Server) Respond(cmd string, resp daemon.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[cmd] = resp
}

// DelayOnce holds back the next response to cmd by d.
func (s *Server) DelayOnce(cmd string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[cmd] = d
}

// Commands returns the commands received so far.
func (s *Server) Commands() []daemon.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]daemon.Command(nil), s.commands...)
}

// Subscribed is signalled each time a connection subscribes.
func (s *Server) Subscribed() <-chan struct{} {
	return s.subscribe
}

// Emit writes ev to every subscribed connection.
func (s *Server) Emit(ev daemon.Event) {
	data, _ := json.Marshal(ev)
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.subs {
		c.Write(data)
	}
}

// Close stops accepting and drops every connection.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.subs {
		c.Close()
	}
	s.subs = nil
}

func (s *Server) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var cmd daemon.Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			conn.Close()
			return
		}

		s.mu.Lock()
		delay := s.delays[cmd.Cmd]
		delete(s.delays, cmd.Cmd)
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}

		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		resp, ok := s.responses[cmd.Cmd]
		if !ok {
			resp = daemon.Response{OK: true}
		}
		data, _ := json.Marshal(resp)
		conn.Write(append(data, '\n'))
		if cmd.Cmd == daemon.CmdSubscribe && resp.OK {
			s.subs = append(s.subs, conn)
		}
		s.mu.Unlock()

		if cmd.Cmd == daemon.CmdSubscribe && resp.OK {
			s.subscribe <- struct{}{}
		}
	}
	conn.Close()
}
