// Package modbustest provides an in-process Modbus TCP register server for
// tests of register based controllers.
package modbustest

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
)

// Request is one decoded request as the server received it.
type Request struct {
	Conn     int
	Unit     byte
	Function byte
	Address  uint16
	Quantity uint16
	Values   []uint16
	PDU      []byte
}

// Server keeps a sparse bank of holding registers. Input registers read the
// same bank.
type Server struct {
	// Fault, when set, is consulted before a request is applied. A non-zero
	// result is returned to the client as the exception code.
	Fault func(req Request) byte
	// OnWrite is called after a write has been applied, with the lock held.
	OnWrite func(s *Server, req Request)

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	regs     map[uint16]uint16
	requests []Request
	conns    int
	open     map[int]net.Conn
	closed   bool
}

// NewServer starts a server on a loopback port. It is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{ln: ln, regs: make(map[uint16]uint16), open: make(map[int]net.Conn)}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops accepting connections, drops open ones and waits for their
// handlers to return.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	s.closed = true
	for _, conn := range s.open {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Set stores values starting at address.
func (s *Server) Set(address uint16, values ...uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(address, values)
}

// SetLocked is Set for use inside OnWrite, where the lock is already held.
func (s *Server) SetLocked(address uint16, values ...uint16) {
	s.set(address, values)
}

func (s *Server) set(address uint16, values []uint16) {
	for i, v := range values {
		s.regs[address+uint16(i)] = v
	}
}

// Get returns n registers starting at address. Unset registers read 0.
func (s *Server) Get(address uint16, n int) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, n)
	for i := range out {
		out[i] = s.regs[address+uint16(i)]
	}
	return out
}

// Requests returns a copy of every request received so far, in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Writes returns the write requests that targeted address.
func (s *Server) Writes(address uint16) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if (r.Function == 6 || r.Function == 16) && r.Address == address {
			out = append(out, r)
		}
	}
	return out
}

// Reset forgets the recorded requests.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns++
		id := s.conns
		s.open[id] = conn
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(id, conn)
			conn.Close()
			s.mu.Lock()
			delete(s.open, id)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) handle(id int, conn net.Conn) {
	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := int(binary.BigEndian.Uint16(header[4:]))
		if length < 2 {
			return
		}
		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}
		resp := s.apply(id, header[6], pdu)
		out := make([]byte, 7+len(resp))
		copy(out, header[:4])
		binary.BigEndian.PutUint16(out[4:], uint16(len(resp)+1))
		out[6] = header[6]
		copy(out[7:], resp)
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (s *Server) apply(id int, unit byte, pdu []byte) []byte {
	req := Request{Conn: id, Unit: unit, Function: pdu[0], PDU: append([]byte(nil), pdu...)}
	if len(pdu) >= 5 {
		req.Address = binary.BigEndian.Uint16(pdu[1:])
		req.Quantity = binary.BigEndian.Uint16(pdu[3:])
	}
	switch req.Function {
	case 6:
		req.Values = []uint16{req.Quantity}
		req.Quantity = 1
	case 16:
		for i := 6; i+1 < len(pdu); i += 2 {
			req.Values = append(req.Values, binary.BigEndian.Uint16(pdu[i:]))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	exception := func(code byte) []byte {
		return []byte{req.Function | 0x80, code}
	}
	if s.Fault != nil {
		if code := s.Fault(req); code != 0 {
			return exception(code)
		}
	}
	switch req.Function {
	case 3, 4:
		out := []byte{req.Function, byte(req.Quantity * 2)}
		for i := uint16(0); i < req.Quantity; i++ {
			out = binary.BigEndian.AppendUint16(out, s.regs[req.Address+i])
		}
		return out
	case 6, 16:
		s.set(req.Address, req.Values)
		if s.OnWrite != nil {
			s.OnWrite(s, req)
		}
		return append([]byte(nil), pdu[:5]...)
	}
	return exception(1)
}
