package controlbus_test

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"go.shisen.dev/unten/controlbus"
)

func pipeDialer(conn net.Conn) controlbus.Dialer {
	used := false
	return func() (io.ReadWriteCloser, error) {
		if used {
			panic("pipeDialer: dial called more than once in this test")
		}
		used = true
		return conn, nil
	}
}

func TestAdapterExecuteWritesFrame(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	a := controlbus.NewAdapter(pipeDialer(client), nil)
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Disconnect()

	go func() {
		if err := a.Execute(controlbus.SetSpeed(42, 30)); err != nil {
			t.Errorf("Execute: %v", err)
		}
	}()

	buf := make([]byte, 13)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if n != 13 {
		t.Fatalf("expected 13-byte frame, got %d bytes", n)
	}
	addr := binary.BigEndian.Uint32(buf[1:5])
	speed := binary.BigEndian.Uint32(buf[5:9])
	if addr != 42 || speed != 30 {
		t.Fatalf("unexpected frame contents: addr=%d speed=%d", addr, speed)
	}
}

func TestAdapterRegisterDeliversEvent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	a := controlbus.NewAdapter(pipeDialer(client), nil)
	eventCh := make(chan controlbus.Event, 1)
	a.Register(func(ev controlbus.Event) { eventCh <- ev })
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Disconnect()

	frame := make([]byte, 13)
	binary.BigEndian.PutUint32(frame[1:5], 7)
	binary.BigEndian.PutUint32(frame[5:9], 3)
	frame[9] = 1
	go func() {
		server.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if _, err := server.Write(frame); err != nil {
			t.Errorf("server write: %v", err)
		}
	}()

	select {
	case ev := <-eventCh:
		if ev.FeedbackDeviceID != "7" || ev.FeedbackContact != "3" || !ev.Detected {
			t.Fatalf("unexpected event: %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for decoded event")
	}
}
