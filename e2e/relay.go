package e2e

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/glizzus/srs-radio/internal/config"
	"github.com/glizzus/srs-radio/internal/srs"
)

// FakeRelay is an in-process SRS server: a TCP control port that
// acknowledges syncs and a UDP voice port that records packets.
type FakeRelay struct {
	ControlAddr string
	VoiceAddr   string

	layout   srs.Layout
	listener net.Listener
	voice    net.PacketConn

	mu          sync.Mutex
	rejections  int
	connections int
	current     net.Conn
	messages    []srs.Message
	packets     []srs.VoicePacket
	pings       int
	changed     chan struct{}
}

type RelayOptions struct {
	// Reject answers this many syncs with a version mismatch.
	Reject int
	Layout srs.Layout
}

func StartFakeRelay(t *testing.T, opts RelayOptions) *FakeRelay {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen for control: %v", err)
	}
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		ln.Close()
		t.Fatalf("failed to listen for voice: %v", err)
	}

	r := &FakeRelay{
		ControlAddr: ln.Addr().String(),
		VoiceAddr:   pc.LocalAddr().String(),
		layout:      opts.Layout,
		listener:    ln,
		voice:       pc,
		rejections:  opts.Reject,
		changed:     make(chan struct{}),
	}
	go r.acceptControl()
	go r.readVoice()

	t.Cleanup(func() {
		ln.Close()
		pc.Close()
		r.DropControl()
	})
	return r
}

// RelayConfig points a broadcaster at the relay with timings short enough
// for tests.
func (r *FakeRelay) RelayConfig() config.RelayConfig {
	return config.RelayConfig{
		Addr:              r.ControlAddr,
		VoiceAddr:         r.VoiceAddr,
		ClientVersion:     "1.6.0.0",
		PacketLayout:      r.layout.String(),
		HeartbeatInterval: 50 * time.Millisecond,
		AckTimeout:        time.Second,
		BackoffInitial:    10 * time.Millisecond,
		BackoffMax:        50 * time.Millisecond,
		MaxRejections:     3,
		MaxSendErrors:     50,
	}
}

func (r *FakeRelay) acceptControl() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			return
		}
		go r.serveControl(conn)
	}
}

func (r *FakeRelay) serveControl(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	hello, err := readMessage(reader)
	if err != nil || hello.MsgType != srs.MsgSync {
		return
	}

	r.mu.Lock()
	r.connections++
	r.messages = append(r.messages, hello)
	reject := r.rejections > 0
	if reject {
		r.rejections--
	} else {
		r.current = conn
	}
	r.notify()
	r.mu.Unlock()

	if reject {
		writeLine(conn, `{"MsgType":6,"Version":"2.1.0.10"}`)
		return
	}
	writeLine(conn, `{"ServerSettings":{"COALITION_AUDIO_SECURITY":"False"},"MsgType":4,"Version":"2.1.0.10"}`)

	for {
		m, err := readMessage(reader)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.messages = append(r.messages, m)
		r.notify()
		r.mu.Unlock()
	}
}

func (r *FakeRelay) readVoice() {
	buf := make([]byte, 65536)
	for {
		n, _, err := r.voice.ReadFrom(buf)
		if err != nil {
			return
		}

		r.mu.Lock()
		if n == srs.GUIDLength {
			r.pings++
		} else if p, err := srs.ParseVoicePacket(buf[:n], r.layout); err == nil {
			r.packets = append(r.packets, p)
		}
		r.notify()
		r.mu.Unlock()
	}
}

// notify wakes waiters. Callers hold r.mu.
func (r *FakeRelay) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// DropControl closes the live control connection, as a relay restart would.
func (r *FakeRelay) DropControl() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Close()
		r.current = nil
	}
}

func (r *FakeRelay) Packets() []srs.VoicePacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]srs.VoicePacket(nil), r.packets...)
}

func (r *FakeRelay) Messages() []srs.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]srs.Message(nil), r.messages...)
}

// Connections counts control connections that sent a sync.
func (r *FakeRelay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections
}

func (r *FakeRelay) Pings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pings
}

var ErrWaitTimeout = errors.New("timed out waiting for relay")

// WaitFor blocks until cond holds for the relay or timeout passes.
func (r *FakeRelay) WaitFor(timeout time.Duration, cond func(r *FakeRelay) bool) error {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		changed := r.changed
		r.mu.Unlock()

		if cond(r) {
			return nil
		}
		select {
		case <-changed:
		case <-deadline:
			return ErrWaitTimeout
		}
	}
}

func readMessage(r *bufio.Reader) (srs.Message, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return srs.Message{}, err
	}
	return srs.ParseMessage(line)
}

func writeLine(conn net.Conn, line string) {
	conn.Write([]byte(line + "\n"))
}
