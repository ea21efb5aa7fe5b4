package network

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/tileverse/internal/logging"
	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
)

// frameConn транспорт, сохраняющий границы кадров
type frameConn interface {
	WriteFrame(data []byte) error
	ReadFrame() ([]byte, error)
	Close() error
	RemoteAddr() string
}

// packetSocket общая часть PacketSocket поверх любого frameConn:
// кодек, очереди и два потока ввода-вывода.
type packetSocket struct {
	conn   frameConn
	kind   ChannelType
	config *ChannelConfig
	codec  *protocol.Codec
	logger *logging.Logger

	rules atomic.Uint32

	out       *SPSCQueue[[]byte]
	in        *SPSCQueue[protocol.Packet]
	pending   atomic.Int64 // кадры, ещё не записанные в транспорт
	outSignal chan struct{}
	inSignal  chan struct{}
	drained   chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	lastActivity    atomic.Int64

	wg sync.WaitGroup
}

var (
	codecOnce sync.Once
	codecs    [2]*protocol.Codec
	codecErr  error
)

// codecFor общий кодек процесса; zstd-кодеры безопасны для параллельного использования
func codecFor(compress bool) (*protocol.Codec, error) {
	codecOnce.Do(func() {
		if codecs[0], codecErr = protocol.NewCodec(false); codecErr != nil {
			return
		}
		codecs[1], codecErr = protocol.NewCodec(true)
	})
	if codecErr != nil {
		return nil, codecErr
	}
	if compress {
		return codecs[1], nil
	}
	return codecs[0], nil
}

func newPacketSocket(conn frameConn, config *ChannelConfig) (*packetSocket, error) {
	codec, err := codecFor(config.Compression)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s := &packetSocket{
		conn:      conn,
		kind:      config.Type,
		config:    config,
		codec:     codec,
		logger:    logging.GetNetworkLogger(),
		out:       NewSPSCQueue[[]byte](config.QueueSize),
		in:        NewSPSCQueue[protocol.Packet](config.QueueSize),
		outSignal: make(chan struct{}, 1),
		inSignal:  make(chan struct{}, 1),
		drained:   make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
	s.rules.Store(netelement.CurrentVersion)
	s.touch()

	s.wg.Add(2)
	go s.writeLoop()
	go s.readLoop()
	return s, nil
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *packetSocket) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

func (s *packetSocket) SendPackets(packets []protocol.Packet) error {
	if !s.IsOpen() {
		if err := s.Err(); err != nil {
			return err
		}
		return ErrSocketClosed
	}
	if len(packets) == 0 {
		return nil
	}
	data, err := s.codec.Encode(packets, s.Rules())
	if err != nil {
		return err
	}
	if len(data) > s.config.MaxFrameSize {
		return ErrFrameTooBig
	}
	s.pending.Add(1)
	if !s.out.Push(data) {
		s.pending.Add(-1)
		s.fail(ErrQueueFull)
		return ErrQueueFull
	}
	s.packetsSent.Add(uint64(len(packets)))
	notify(s.outSignal)
	return nil
}

func (s *packetSocket) ReceivePackets() []protocol.Packet {
	var packets []protocol.Packet
	for {
		p, ok := s.in.Pop()
		if !ok {
			return packets
		}
		packets = append(packets, p)
	}
}

func (s *packetSocket) Incoming() <-chan struct{} { return s.inSignal }

func (s *packetSocket) SetRules(rules netelement.CompatibilityRules) {
	s.rules.Store(rules.Version)
}

func (s *packetSocket) Rules() netelement.CompatibilityRules {
	return netelement.CompatibilityRules{Version: s.rules.Load()}
}

func (s *packetSocket) IsOpen() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

func (s *packetSocket) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *packetSocket) Flush(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for s.pending.Load() > 0 {
		select {
		case <-s.drained:
		case <-s.closed:
			return false
		case <-timer.C:
			return false
		}
	}
	return true
}

func (s *packetSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
		notify(s.inSignal)
		notify(s.drained)
	})
	return nil
}

func (s *packetSocket) Type() ChannelType  { return s.kind }
func (s *packetSocket) RemoteAddr() string { return s.conn.RemoteAddr() }

func (s *packetSocket) Stats() ConnectionStats {
	return ConnectionStats{
		PacketsSent:     s.packetsSent.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		BytesSent:       s.bytesSent.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		LastActivity:    time.Unix(0, s.lastActivity.Load()),
		Connected:       s.IsOpen(),
		RemoteAddr:      s.conn.RemoteAddr(),
	}
}

// fail закрывает сокет, запоминая первую причину
func (s *packetSocket) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	if s.IsOpen() {
		if isDisconnect(err) {
			s.logger.Debug("👋 Соединение %s закрыто удалённой стороной", s.conn.RemoteAddr())
		} else {
			s.logger.Warn("⚠️ Соединение %s закрыто: %v", s.conn.RemoteAddr(), err)
		}
	}
	s.Close()
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrSocketClosed)
}

func (s *packetSocket) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closed:
			return
		case <-s.outSignal:
		}
		for {
			data, ok := s.out.Pop()
			if !ok {
				break
			}
			err := s.conn.WriteFrame(data)
			s.pending.Add(-1)
			if err != nil {
				s.fail(err)
				return
			}
			s.bytesSent.Add(uint64(len(data)))
		}
		notify(s.drained)
	}
}

func (s *packetSocket) readLoop() {
	defer s.wg.Done()
	for {
		data, err := s.conn.ReadFrame()
		if err != nil {
			s.fail(err)
			return
		}
		s.bytesReceived.Add(uint64(len(data)))
		s.touch()

		packets, err := s.codec.Decode(data, s.Rules())
		if err != nil {
			logging.LogProtocolError(s.logger, s.conn.RemoteAddr(), err, data)
			s.fail(err)
			return
		}
		for _, p := range packets {
			if !s.in.Push(p) {
				s.fail(ErrQueueFull)
				return
			}
		}
		s.packetsReceived.Add(uint64(len(packets)))
		notify(s.inSignal)
	}
}
