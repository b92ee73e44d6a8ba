// Package console implements the termui-based operator console: a
// live view of block occupancy/reservation plus trains, and a handful
// of keybindings to start/stop/finish the selected train. Grounded on
// sakayukari/ui/main.go's actor-driven termui loop (uiEvents +
// latestKey: one goroutine ranging over termui.PollEvents, widgets
// re-rendered on every update) and sakayukari/tal/ui.go's Guide.View
// (a termui widget fed by a Guide's own snapshot stream rather than by
// the generic actor graph).
package console

import (
	"fmt"
	"sort"

	"github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/google/uuid"

	"go.shisen.dev/unten/layoutctl"
	"go.shisen.dev/unten/topology"
)

var trainStateNames = map[topology.TrainState]string{
	topology.TrainStopped:  "stopped",
	topology.TrainRunning:  "running",
	topology.TrainBraking:  "braking",
	topology.TrainStopping: "stopping",
}

var schedulingNames = map[topology.SchedulingMode]string{
	topology.SchedulingManual:             "manual",
	topology.SchedulingAutomaticRunning:   "auto-running",
	topology.SchedulingAutomaticFinishing: "auto-finishing",
	topology.SchedulingStopped:            "stopped",
}

// Console owns the termui screen for as long as Run is active.
type Console struct {
	ctl *layoutctl.Controller

	blockTable *widgets.Table
	trainList  *widgets.List
	status     *widgets.Paragraph

	trainIDs []uuid.UUID
	selected int
}

func New(ctl *layoutctl.Controller) *Console {
	c := &Console{ctl: ctl}

	c.blockTable = widgets.NewTable()
	c.blockTable.Title = "blocks"
	c.blockTable.SetRect(0, 0, 60, 20)

	c.trainList = widgets.NewList()
	c.trainList.Title = "trains (↑/↓ select, s start, x stop, f finish, q quit)"
	c.trainList.SetRect(60, 0, 120, 20)

	c.status = widgets.NewParagraph()
	c.status.Title = "status"
	c.status.SetRect(0, 20, 120, 23)

	return c
}

// Run initializes the terminal, renders until a quit keypress or until
// quit is closed, and restores the terminal on the way out.
func (c *Console) Run(quit <-chan struct{}) error {
	if err := termui.Init(); err != nil {
		return fmt.Errorf("console: termui init: %w", err)
	}
	defer termui.Close()

	changes := make(chan layoutctl.Snapshot, 8)
	c.ctl.Changes.Subscribe("console", changes)
	defer c.ctl.Changes.Unsubscribe(changes)

	c.render()
	events := termui.PollEvents()
	for {
		select {
		case <-quit:
			return nil
		case <-changes:
			c.render()
		case e := <-events:
			if c.handleKey(e) {
				return nil
			}
		}
	}
}

func (c *Console) handleKey(e termui.Event) bool {
	switch e.ID {
	case "q", "<C-c>":
		return true
	case "<Down>", "j":
		if c.selected < len(c.trainIDs)-1 {
			c.selected++
		}
		c.render()
	case "<Up>", "k":
		if c.selected > 0 {
			c.selected--
		}
		c.render()
	case "s":
		c.command(c.ctl.Start)
	case "x":
		c.command(c.ctl.Stop)
	case "f":
		c.command(c.ctl.Finish)
	}
	return false
}

func (c *Console) command(action func(uuid.UUID) error) {
	if c.selected < 0 || c.selected >= len(c.trainIDs) {
		return
	}
	id := c.trainIDs[c.selected]
	if err := action(id); err != nil {
		c.status.Text = fmt.Sprintf("error: %s", err)
		termui.Render(c.status)
	}
}

func (c *Console) render() {
	c.blockTable.Rows = [][]string{{"block", "occupant", "reserved"}}
	for _, b := range c.ctl.Layout.Blocks {
		occ, res := "", ""
		if b.Occupant != nil {
			occ = shortID(b.Occupant.TrainID)
		}
		if b.Reservation != nil {
			res = shortID(b.Reservation.TrainID)
		}
		c.blockTable.Rows = append(c.blockTable.Rows, []string{b.Name, occ, res})
	}

	c.trainIDs = c.trainIDs[:0]
	for id := range c.ctl.Trains {
		c.trainIDs = append(c.trainIDs, id)
	}
	sort.Slice(c.trainIDs, func(i, j int) bool { return c.ctl.Trains[c.trainIDs[i]].Name < c.ctl.Trains[c.trainIDs[j]].Name })
	if c.selected >= len(c.trainIDs) {
		c.selected = len(c.trainIDs) - 1
	}

	c.trainList.Rows = c.trainList.Rows[:0]
	for i, id := range c.trainIDs {
		t := c.ctl.Trains[id]
		row := fmt.Sprintf("%s  block=%s  %s/%s  %dkm/h", t.Name, blockName(c.ctl, t.BlockID), trainStateNames[t.State], schedulingNames[t.Scheduling], t.SpeedCurrentKPH)
		if i == c.selected {
			row = "> " + row
		} else {
			row = "  " + row
		}
		c.trainList.Rows = append(c.trainList.Rows, row)
	}

	termui.Render(c.blockTable, c.trainList, c.status)
}

func blockName(ctl *layoutctl.Controller, id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	if b, ok := ctl.Layout.Block(*id); ok {
		return b.Name
	}
	return "?"
}

func shortID(id uuid.UUID) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
