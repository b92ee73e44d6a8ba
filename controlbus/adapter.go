package controlbus

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// frame is the fixed 13-byte wire format: 1 byte opcode, 4 bytes
// addr/arg0, 4 bytes arg1, 4 bytes arg2. Unused trailing fields are
// zero. This generalizes the teacher's newline-delimited ASCII
// protocol (conn/main.go's ReqLine/ReqSwitch 7-byte ASCII frames) into
// a fixed binary frame, since the expanded command set (turnout
// addresses, speed, direction, function index) no longer fits a single
// 7-character line cleanly.
const frameSize = 13

type opcode byte

const (
	opGo opcode = iota + 1
	opStop
	opTurnoutSetState
	opLocoSetSpeed
	opLocoSetDirection
	opLocoFunction
	opQueryLocomotives
	opQueryDirection
)

func encodeFrame(cmd Command) ([frameSize]byte, error) {
	var f [frameSize]byte
	switch cmd.Kind {
	case CmdGo:
		f[0] = byte(opGo)
	case CmdStop:
		f[0] = byte(opStop)
	case CmdTurnoutSetState:
		f[0] = byte(opTurnoutSetState)
		if len(cmd.TurnoutAddresses) == 0 {
			return f, fmt.Errorf("controlbus: turnout-set-state requires at least one address")
		}
		binary.BigEndian.PutUint32(f[1:5], uint32(cmd.TurnoutAddresses[0]))
		binary.BigEndian.PutUint32(f[5:9], uint32(cmd.TurnoutState))
	case CmdLocoSetSpeed:
		f[0] = byte(opLocoSetSpeed)
		binary.BigEndian.PutUint32(f[1:5], uint32(cmd.LocomotiveAddress))
		binary.BigEndian.PutUint32(f[5:9], uint32(cmd.SpeedKPH))
	case CmdLocoSetDirection:
		f[0] = byte(opLocoSetDirection)
		binary.BigEndian.PutUint32(f[1:5], uint32(cmd.LocomotiveAddress))
		if cmd.DirectionBack {
			f[5] = 1
		}
	case CmdLocoFunction:
		f[0] = byte(opLocoFunction)
		binary.BigEndian.PutUint32(f[1:5], uint32(cmd.LocomotiveAddress))
		binary.BigEndian.PutUint32(f[5:9], uint32(cmd.FunctionIndex))
		if cmd.FunctionOn {
			f[9] = 1
		}
	case CmdQueryLocomotives:
		f[0] = byte(opQueryLocomotives)
	case CmdQueryDirection:
		f[0] = byte(opQueryDirection)
		binary.BigEndian.PutUint32(f[1:5], uint32(cmd.LocomotiveAddress))
	default:
		return f, fmt.Errorf("controlbus: unknown command kind %d", cmd.Kind)
	}
	return f, nil
}

// Dialer opens the underlying transport (serial port, TCP socket,
// pipe to a simulator process). Mirrors the teacher's conn/find.go
// connect() but returns a plain io.ReadWriteCloser instead of spawning
// a serial-proxy subprocess, so tests can pass an in-memory pipe.
type Dialer func() (io.ReadWriteCloser, error)

// Adapter is a CommandInterface backed by a 13-byte-frame connection.
// Connect retries the initial dial with exponential backoff (promoted
// from the teacher's indirect gopkg.in/cenkalti/backoff.v1 dependency,
// since the teacher's own conn/find.go hand-rolls a glob-and-retry
// loop with no backoff at all). A connection that fails after Connect
// returns is not redialled: the read loop logs the error and exits.
type Adapter struct {
	dial Dialer
	log  *zap.SugaredLogger

	mu       sync.Mutex
	conn     io.ReadWriteCloser
	handlers []func(Event)
	stopCh   chan struct{}
}

func NewAdapter(dial Dialer, log *zap.SugaredLogger) *Adapter {
	return &Adapter{dial: dial, log: log}
}

func (a *Adapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return nil
	}
	conn, err := a.dialWithBackoff()
	if err != nil {
		return err
	}
	a.conn = conn
	a.stopCh = make(chan struct{})
	go a.readLoop(conn, a.stopCh)
	return nil
}

func (a *Adapter) dialWithBackoff() (io.ReadWriteCloser, error) {
	var conn io.ReadWriteCloser
	op := func() error {
		c, err := a.dial()
		if err != nil {
			if a.log != nil {
				a.log.Warnw("controlbus: dial failed, retrying", "err", err)
			}
			return err
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("controlbus: dial: %w", err)
	}
	return conn, nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	close(a.stopCh)
	err := a.conn.Close()
	a.conn = nil
	return err
}

func (a *Adapter) Execute(cmd Command) error {
	frame, err := encodeFrame(cmd)
	if err != nil {
		return err
	}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("controlbus: not connected")
	}
	if _, err := conn.Write(frame[:]); err != nil {
		return fmt.Errorf("controlbus: write %s: %w", cmd, err)
	}
	if a.log != nil {
		a.log.Debugw("controlbus: executed", "command", cmd.String())
	}
	return nil
}

func (a *Adapter) Register(handler func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
}

func (a *Adapter) readLoop(conn io.ReadWriteCloser, stop chan struct{}) {
	r := bufio.NewReaderSize(conn, frameSize*4)
	buf := make([]byte, frameSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			if a.log != nil {
				a.log.Warnw("controlbus: read failed", "err", err)
			}
			return
		}
		ev := decodeFrame(buf)
		a.mu.Lock()
		handlers := append([]func(Event){}, a.handlers...)
		a.mu.Unlock()
		for _, h := range handlers {
			h(ev)
		}
	}
}

// decodeFrame interprets an inbound frame as a feedback event: byte 0
// is ignored (reserved for future event kinds), bytes 1-4 the device
// id and bytes 5-8 the contact id (each a big-endian uint32), byte 9
// the detected flag.
func decodeFrame(buf []byte) Event {
	deviceID := binary.BigEndian.Uint32(buf[1:5])
	contactID := binary.BigEndian.Uint32(buf[5:9])
	return Event{
		FeedbackDeviceID: fmt.Sprintf("%d", deviceID),
		FeedbackContact:  fmt.Sprintf("%d", contactID),
		Detected:         buf[9] != 0,
	}
}
