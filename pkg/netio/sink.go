package netio

import (
	"net"
	"strconv"
	"sync"

	"github.com/flowmeshio/flowmesh/pkg/block"
	"github.com/flowmeshio/flowmesh/pkg/log"
	"github.com/flowmeshio/flowmesh/pkg/message"
	"github.com/flowmeshio/flowmesh/pkg/registry"
	"github.com/rs/zerolog"
)

// Sink is the network-sink half of a net-iogress pair: it binds a TCP
// listener, accepts the one connection the paired Source dials, and drains
// its single input port onto the wire. Committed as an ordinary block with
// one input port whose element type/size matches the upstream flow it
// replaces.
type Sink struct {
	table  *registry.Table
	logger zerolog.Logger

	mu       sync.Mutex
	ln       net.Listener
	conn     net.Conn
	connCh   chan struct{} // closed once conn is accepted
	streamIx uint64
}

// NewSink binds bindURI ("tcp://host[:port]", port 0 auto-assigns) and
// starts accepting the paired Source's connection in the background. table
// supplies the opaque-object registry used to serialize labels/messages;
// nil falls back to plain JSON encoding.
func NewSink(bindURI string, table *registry.Table) (*Sink, error) {
	host, port, err := parseTCPURI(bindURI)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	s := &Sink{
		table:  table,
		logger: log.WithComponent("netio.sink"),
		ln:     ln,
		connCh: make(chan struct{}),
	}
	go s.acceptLoop()
	return s, nil
}

func (s *Sink) acceptLoop() {
	conn, err := s.ln.Accept()
	if err != nil {
		s.logger.Error().Err(err).Msg("accept failed")
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	close(s.connCh)
}

// GetActualPort returns the bound listener's port, resolved after bind even
// when the caller requested auto-assignment with port 0.
func (s *Sink) GetActualPort() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// BindURI returns the URI the paired Source should dial, substituting the
// actual bound port.
func (s *Sink) BindURI(host string) string {
	return formatTCPURI(host, strconv.Itoa(s.GetActualPort()))
}

// Activate is a no-op: binding already happened in NewSink so the actual
// port is known before the paired Source is constructed.
func (s *Sink) Activate(ctx *block.Context) error { return nil }

// Deactivate closes the listener and any accepted connection.
func (s *Sink) Deactivate(ctx *block.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return s.ln.Close()
}

// Work drains the input port and writes its contents as frames to the
// connected socket. Returns nil without consuming if the peer hasn't
// connected yet; the scheduler will simply retry on the next pass.
func (s *Sink) Work(ctx *block.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	in := ctx.Input(0)
	if n := in.Elements(); n > 0 {
		buf := in.Buffer()
		if err := WriteFrame(conn, Frame{Type: FrameBuffer, StreamIndex: s.nextStreamIndex(), Payload: buf.Bytes()}); err != nil {
			return err
		}
		in.Consume(n)
	}
	for _, l := range in.Labels() {
		payload, err := message.Serialize(s.table, l.Value)
		if err != nil {
			return err
		}
		frame := encodeLabel(l.ID, l.Index, l.Width, l.Value.TypeTag(), payload)
		if err := WriteFrame(conn, Frame{Type: FrameLabel, StreamIndex: s.nextStreamIndex(), Payload: frame}); err != nil {
			return err
		}
		in.RemoveLabel(l.ID)
	}
	for in.HasMessage() {
		env, ok := in.PopMessage()
		if !ok {
			break
		}
		payload, err := message.Serialize(s.table, env.Payload)
		if err != nil {
			return err
		}
		frame := encodeMessage(env.Payload.TypeTag(), payload)
		if err := WriteFrame(conn, Frame{Type: FrameMessage, StreamIndex: s.nextStreamIndex(), Payload: frame}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) nextStreamIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamIx++
	return s.streamIx
}
