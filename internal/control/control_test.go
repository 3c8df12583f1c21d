package control_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glizzus/srs-radio/internal/control"
	"github.com/glizzus/srs-radio/internal/srs"
)

var identity = srs.RadioIdentity{
	GUID:       "AAECAwQFBgcICQoLDA0ODw",
	Name:       "Senaki",
	Frequency:  132_000_000,
	Modulation: srs.AM,
	Coalition:  srs.Blue,
}

// fakeRelay accepts a single control connection and hands it to serve.
func fakeRelay(t *testing.T, serve func(conn net.Conn, r *bufio.Reader)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn, bufio.NewReader(conn))
	}()
	return ln.Addr().String()
}

func readMessage(r *bufio.Reader) (srs.Message, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return srs.Message{}, err
	}
	return srs.ParseMessage(line)
}

func reply(conn net.Conn, line string) {
	conn.Write([]byte(line + "\n"))
}

func newClient(addr string) *control.Client {
	return control.NewClient(identity, control.Options{
		Addr:              addr,
		Version:           "1.6.0.0",
		AckTimeout:        200 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	})
}

func TestConnectOutcomes(t *testing.T) {
	tc := []struct {
		name  string
		serve func(conn net.Conn, r *bufio.Reader)
		kind  control.Kind
		ok    bool
		is    error
	}{
		{
			name: "server settings ack",
			serve: func(conn net.Conn, r *bufio.Reader) {
				readMessage(r)
				reply(conn, `{"ServerSettings":{"SERVER_PORT":"5002"},"MsgType":4,"Version":"2.1.0.10"}`)
				time.Sleep(100 * time.Millisecond)
			},
			ok: true,
		},
		{
			name: "sync ack after noise",
			serve: func(conn net.Conn, r *bufio.Reader) {
				readMessage(r)
				reply(conn, `garbage`)
				reply(conn, `{"MsgType":0,"Version":"2.1.0.10"}`)
				reply(conn, `{"Clients":[],"MsgType":2,"Version":"2.1.0.10"}`)
				time.Sleep(100 * time.Millisecond)
			},
			ok: true,
		},
		{
			name: "version mismatch",
			serve: func(conn net.Conn, r *bufio.Reader) {
				readMessage(r)
				reply(conn, `{"MsgType":6,"Version":"2.1.0.10"}`)
			},
			kind: control.Rejected,
			is:   control.ErrVersionMismatch,
		},
		{
			name: "closed before ack",
			serve: func(conn net.Conn, r *bufio.Reader) {
				readMessage(r)
			},
			kind: control.Rejected,
			is:   control.ErrClosedBeforeAck,
		},
		{
			name: "silent relay",
			serve: func(conn net.Conn, r *bufio.Reader) {
				readMessage(r)
				time.Sleep(time.Second)
			},
			kind: control.Unreachable,
			is:   control.ErrAckTimeout,
		},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			addr := fakeRelay(t, test.serve)

			conn, err := newClient(addr).Connect(context.Background())
			if test.ok {
				if err != nil {
					t.Fatalf("Connect returned error: %v", err)
				}
				conn.Close()
				return
			}

			var connectErr *control.ConnectError
			if !errors.As(err, &connectErr) {
				t.Fatalf("error = %v; want *ConnectError", err)
			}
			if connectErr.Kind != test.kind {
				t.Errorf("kind = %s; want %s", connectErr.Kind, test.kind)
			}
			if !errors.Is(err, test.is) {
				t.Errorf("error %v does not wrap %v", err, test.is)
			}
			if control.IsRejected(err) != (test.kind == control.Rejected) {
				t.Errorf("IsRejected = %v", control.IsRejected(err))
			}
		})
	}
}

func TestDialUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = newClient(addr).Dial(context.Background())
	var connectErr *control.ConnectError
	if !errors.As(err, &connectErr) || connectErr.Kind != control.Unreachable {
		t.Fatalf("error = %v; want unreachable *ConnectError", err)
	}
}

func TestSyncMessage(t *testing.T) {
	got := make(chan srs.Message, 1)
	addr := fakeRelay(t, func(conn net.Conn, r *bufio.Reader) {
		m, _ := readMessage(r)
		got <- m
		reply(conn, `{"MsgType":2,"Version":"2.1.0.10"}`)
		time.Sleep(100 * time.Millisecond)
	})

	conn, err := newClient(addr).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer conn.Close()

	m := <-got
	if m.MsgType != srs.MsgSync || m.Version != "1.6.0.0" {
		t.Errorf("unexpected envelope %s %s", m.MsgType, m.Version)
	}
	if m.Client == nil || m.Client.RadioInfo == nil || len(m.Client.RadioInfo.Radios) != 1 {
		t.Fatalf("sync does not describe exactly one radio: %+v", m.Client)
	}
	if radio := m.Client.RadioInfo.Radios[0]; radio.Freq != 132e6 {
		t.Errorf("frequency = %v; want 132e6", radio.Freq)
	}
}

func TestSyncCancelled(t *testing.T) {
	addr := fakeRelay(t, func(conn net.Conn, r *bufio.Reader) {
		readMessage(r)
		time.Sleep(time.Second)
	})

	client := control.NewClient(identity, control.Options{
		Addr:              addr,
		AckTimeout:        time.Minute,
		HeartbeatInterval: time.Second,
	})
	conn, err := client.Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := conn.Sync(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v; want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Sync took %s to notice cancellation", elapsed)
	}
}

func TestRunHeartbeats(t *testing.T) {
	pings := make(chan srs.Message, 16)
	addr := fakeRelay(t, func(conn net.Conn, r *bufio.Reader) {
		readMessage(r)
		reply(conn, `{"MsgType":2,"Version":"2.1.0.10"}`)
		for {
			m, err := readMessage(r)
			if err != nil {
				return
			}
			select {
			case pings <- m:
			default:
			}
		}
	})

	conn, err := newClient(addr).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer conn.Close()

	var beats atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx, func() { beats.Add(1) }) }()

	for range 3 {
		select {
		case m := <-pings:
			if m.MsgType != srs.MsgPing || m.Client.ClientGUID != identity.GUID {
				t.Errorf("unexpected heartbeat %+v", m)
			}
			if m.Client.RadioInfo != nil {
				t.Errorf("heartbeat carries radio info")
			}
		case <-time.After(time.Second):
			t.Fatal("no heartbeat received")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel; want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if beats.Load() < 3 {
		t.Errorf("onBeat ran %d times; want at least 3", beats.Load())
	}
}

func TestRunDetectsLostRelay(t *testing.T) {
	addr := fakeRelay(t, func(conn net.Conn, r *bufio.Reader) {
		readMessage(r)
		reply(conn, `{"MsgType":2,"Version":"2.1.0.10"}`)
		time.Sleep(50 * time.Millisecond)
	})

	conn, err := newClient(addr).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- conn.Run(context.Background(), nil) }()

	select {
	case err := <-done:
		var hbErr *control.HeartbeatError
		if !errors.As(err, &hbErr) {
			t.Errorf("error = %v; want *HeartbeatError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not notice the relay closing")
	}
}

func TestDisconnectSendsFarewell(t *testing.T) {
	got := make(chan srs.Message, 1)
	addr := fakeRelay(t, func(conn net.Conn, r *bufio.Reader) {
		readMessage(r)
		reply(conn, `{"MsgType":2,"Version":"2.1.0.10"}`)
		m, err := readMessage(r)
		if err == nil {
			got <- m
		}
	})

	conn, err := newClient(addr).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	conn.Disconnect()
	// a second disconnect on a closed connection must be harmless
	conn.Disconnect()

	select {
	case m := <-got:
		if m.MsgType != srs.MsgClientDisconnect {
			t.Errorf("farewell type = %s; want %s", m.MsgType, srs.MsgClientDisconnect)
		}
	case <-time.After(time.Second):
		t.Fatal("relay did not receive a disconnect message")
	}
}
