// Package controlbus defines the command-execution contract between
// the layout runtime and whatever drives the physical (or simulated)
// hardware, plus a concrete fixed-13-byte-binary-frame adapter in the
// teacher's conn/ style.
package controlbus

import (
	"fmt"

	"go.shisen.dev/unten/topology"
)

// CommandKind enumerates the command surface a bus adapter must
// support.
type CommandKind int

const (
	CmdGo CommandKind = iota
	CmdStop
	CmdTurnoutSetState
	CmdLocoSetSpeed
	CmdLocoSetDirection
	CmdLocoFunction
	CmdQueryLocomotives
	CmdQueryDirection
)

// Command is one request to the bus. Fields irrelevant to Kind are
// zero.
type Command struct {
	Kind CommandKind

	TurnoutAddresses []int
	TurnoutState     topology.TurnoutState

	LocomotiveAddress int
	SpeedKPH          int
	DirectionBack     bool
	FunctionIndex     int
	FunctionOn        bool
}

func (c Command) String() string {
	switch c.Kind {
	case CmdGo:
		return "go"
	case CmdStop:
		return "stop"
	case CmdTurnoutSetState:
		return fmt.Sprintf("turnout-set-state(%v -> %d)", c.TurnoutAddresses, c.TurnoutState)
	case CmdLocoSetSpeed:
		return fmt.Sprintf("loco-set-speed(%d -> %d kph)", c.LocomotiveAddress, c.SpeedKPH)
	case CmdLocoSetDirection:
		return fmt.Sprintf("loco-set-direction(%d -> back=%v)", c.LocomotiveAddress, c.DirectionBack)
	case CmdLocoFunction:
		return fmt.Sprintf("loco-function(%d, f%d=%v)", c.LocomotiveAddress, c.FunctionIndex, c.FunctionOn)
	case CmdQueryLocomotives:
		return "query-locomotives"
	case CmdQueryDirection:
		return fmt.Sprintf("query-direction(%d)", c.LocomotiveAddress)
	default:
		return fmt.Sprintf("command(kind=%d)", c.Kind)
	}
}

func SetTurnoutState(addresses []int, state topology.TurnoutState) Command {
	return Command{Kind: CmdTurnoutSetState, TurnoutAddresses: addresses, TurnoutState: state}
}

func SetSpeed(locoAddr, speedKPH int) Command {
	return Command{Kind: CmdLocoSetSpeed, LocomotiveAddress: locoAddr, SpeedKPH: speedKPH}
}

func SetDirection(locoAddr int, back bool) Command {
	return Command{Kind: CmdLocoSetDirection, LocomotiveAddress: locoAddr, DirectionBack: back}
}

// Event is an asynchronous notification arriving from the bus, such as
// a feedback sensor triggering.
type Event struct {
	FeedbackDeviceID string
	FeedbackContact  string
	Detected         bool
}

// CommandInterface is what package reservation, traincontrol, and
// layoutctl depend on; a concrete adapter (Adapter here, or a
// simulator) satisfies it without those packages knowing which.
type CommandInterface interface {
	Execute(cmd Command) error
	Register(handler func(Event))
	Connect() error
	Disconnect() error
}
