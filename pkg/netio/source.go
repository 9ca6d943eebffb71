package netio

import (
	"io"
	"net"
	"sync"

	"github.com/flowmeshio/flowmesh/pkg/actor"
	"github.com/flowmeshio/flowmesh/pkg/block"
	"github.com/flowmeshio/flowmesh/pkg/buffer"
	"github.com/flowmeshio/flowmesh/pkg/log"
	"github.com/flowmeshio/flowmesh/pkg/message"
	"github.com/flowmeshio/flowmesh/pkg/registry"
	"github.com/rs/zerolog"
)

// Source is the network-source half of a net-iogress pair: it dials the
// paired Sink's bound address and republishes the frames it reads as
// buffers/labels/messages on its single output port.
type Source struct {
	table  *registry.Table
	logger zerolog.Logger

	conn net.Conn

	mu      sync.Mutex
	pending []Frame
	closed  bool
	act     *actor.Actor // set on Activate, used to wake the scheduler on arrival
}

// NewSource dials connectURI ("tcp://host:port", the Sink's bound address)
// and starts a background goroutine reading frames into an internal queue.
func NewSource(connectURI string, table *registry.Table) (*Source, error) {
	host, port, err := parseTCPURI(connectURI)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	s := &Source{
		table:  table,
		logger: log.WithComponent("netio.source"),
		conn:   conn,
	}
	go s.readLoop()
	return s, nil
}

func (s *Source) readLoop() {
	for {
		f, err := ReadFrame(s.conn)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed && err != io.EOF {
				s.logger.Error().Err(err).Msg("frame read failed")
			}
			return
		}
		s.mu.Lock()
		s.pending = append(s.pending, f)
		act := s.act
		s.mu.Unlock()
		if act != nil {
			act.FlagChange()
		}
	}
}

// Activate records the owning actor so arriving frames can wake it.
func (s *Source) Activate(ctx *block.Context) error {
	s.mu.Lock()
	s.act = ctx.Actor
	s.mu.Unlock()
	return nil
}

// Deactivate closes the connection, ending the read loop.
func (s *Source) Deactivate(ctx *block.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

// Work drains every frame queued since the last pass onto output port 0.
func (s *Source) Work(ctx *block.Context) error {
	s.mu.Lock()
	frames := s.pending
	s.pending = nil
	s.mu.Unlock()

	out := ctx.Output(0)
	for _, f := range frames {
		switch f.Type {
		case FrameBuffer:
			shared, err := buffer.Make(len(f.Payload), -1)
			if err != nil {
				return err
			}
			copy(shared.Bytes(), f.Payload)
			out.PostBuffer(buffer.NewBufferChunk(shared, out.ElemSize, out.ElemType))
		case FrameLabel:
			dl, err := decodeLabel(f.Payload)
			if err != nil {
				return err
			}
			val, err := message.Deserialize(s.table, dl.TypeTag, dl.Value)
			if err != nil {
				return err
			}
			out.PostLabel(dl.ID, dl.Index/max(out.ElemSize, 1), val, dl.Width)
		case FrameMessage:
			val, err := decodeMessage(s.table, f.Payload)
			if err != nil {
				return err
			}
			out.PostMessage(val)
		}
	}
	return nil
}
