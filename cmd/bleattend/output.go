package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/bleattend/internal/attendance"
	"github.com/srg/bleattend/internal/device"
	"golang.org/x/term"
)

// output renders session state for a terminal. Safe for concurrent use.
type output struct {
	mu       sync.Mutex
	w        io.Writer
	terminal bool

	good *color.Color
	warn *color.Color
	note *color.Color
	bold *color.Color
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newOutput(w io.Writer) *output {
	o := &output{
		w:        w,
		terminal: isTerminal(w),
		good:     color.New(color.FgGreen),
		warn:     color.New(color.FgYellow),
		note:     color.New(color.FgCyan),
		bold:     color.New(color.Bold),
	}
	if !o.terminal {
		for _, c := range []*color.Color{o.good, o.warn, o.note, o.bold} {
			c.DisableColor()
		}
	}
	return o
}

func (o *output) printf(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, format, args...)
}

func (o *output) notice(n *attendance.Notice) {
	if n == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	c := o.good
	switch {
	case n.Condition == attendance.ConditionAttendeeEntered:
		c = o.note
	case n.Condition.IsWarning():
		c = o.warn
	}

	if n.Title != "" {
		_, _ = c.Fprintf(o.w, "%s ", n.Title)
	}
	fmt.Fprintln(o.w, n.Message)
}

func (o *output) peripherals(ps []device.Peripheral, format string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if format == "json" {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		if ps == nil {
			ps = []device.Peripheral{}
		}
		return enc.Encode(ps)
	}

	if len(ps) == 0 {
		fmt.Fprintln(o.w, "No peripherals discovered")
		return nil
	}

	w := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tNAME")
	for i, p := range ps {
		name := p.Name
		if name == "" {
			name = "(unnamed)"
		} else if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, p.ID, name)
	}
	return w.Flush()
}

func (o *output) roster(records []attendance.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(records) == 0 {
		fmt.Fprintln(o.w, "No attendees yet")
		return nil
	}

	_, _ = o.bold.Fprintf(o.w, "Attendees (%d)\n", len(records))
	w := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENTERED\tID")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.FullName, r.TimeEntered, r.ID)
	}
	return w.Flush()
}

func (o *output) status(st attendance.State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	conn := st.Connection.Status.String()
	if st.Connection.PeripheralID != "" {
		conn += " (" + st.Connection.PeripheralID + ")"
	}
	fmt.Fprintf(o.w, "connection: %s\n", conn)
	fmt.Fprintf(o.w, "scanning:   %t\n", st.IsScanning)
	fmt.Fprintf(o.w, "attended:   %t\n", st.HasAttended)
	if st.UserID != "" {
		fmt.Fprintf(o.w, "user id:    %s\n", st.UserID)
	}
	fmt.Fprintf(o.w, "peripherals: %d, attendees: %d\n", len(st.Peripherals), len(st.Roster))
}

func (o *output) rosterStatus(channel string, subscribed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state := "connecting"
	if subscribed {
		state = "subscribed"
	}
	fmt.Fprintf(o.w, "roster:     %s (%s)\n", channel, state)
}
