package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/bleattend/internal/attendance"
	"github.com/srg/bleattend/internal/device"
	"github.com/srg/bleattend/internal/groutine"
)

const sessionHelp = `Commands:
  scan                 scan for peripherals
  peripherals          list the last scan result
  connect <id|#>       connect to a peripheral by ID or list number
  attend <full name>   write your identity to the connected peripheral
  disconnect           close the connection
  roster               print the attendee roster
  status               print the session state
  help                 show this help
  quit                 leave the session`

func newSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Run an interactive attendance session",
		Long: `Start an interactive session reading commands from stdin.

When a realtime app key is configured the roster is followed in the background
and arrivals are announced as they happen.`,
		Args: cobra.NoArgs,
		RunE: runSession,
	}
}

func runSession(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	s := a.newSession()
	defer s.close()

	if stopped, err := a.startRoster(); err != nil {
		if !errors.Is(err, ErrRealtimeDisabled) {
			return err
		}
		a.logger.Debug("Realtime roster disabled")
	} else {
		groutine.Go(a.ctx, "session-realtime", func(context.Context) {
			if err := <-stopped; err != nil {
				a.out.printf("%s\n", FormatUserError(err))
			}
		})
		announcements, unsubscribe := a.manager.Subscribe()
		defer unsubscribe()
		groutine.Go(a.ctx, "session-announcer", func(context.Context) {
			for u := range announcements {
				if hasCondition(u, attendance.ConditionAttendeeEntered) {
					a.out.notice(u.Notice)
				}
			}
		})
	}

	lines := a.readLines(cmd.InOrStdin())

	a.out.printf("Type 'help' for commands.\n")
	for {
		a.out.printf("> ")
		var line string
		select {
		case <-a.ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		quit, err := a.exec(s, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			// radio unusable
			if device.IsEnvironmentError(err) {
				return err
			}
			a.out.printf("%s\n", FormatUserError(err))
		}
		if quit {
			return nil
		}
	}
}

func (a *app) readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	groutine.Go(a.ctx, "session-input", func(ctx context.Context) {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		defer func() {
			if err := scanner.Err(); err != nil {
				a.logger.WithError(err).Debugf("%s: input failed", groutine.Name(ctx))
			}
		}()
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	})
	return lines
}

// exec runs one session command line. It reports true when the session should end.
func (a *app) exec(s *session, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	command, args := strings.ToLower(fields[0]), fields[1:]

	switch command {
	case "quit", "exit":
		return true, nil

	case "help", "?":
		a.out.printf("%s\n", sessionHelp)

	case "scan":
		u, err := s.scan(a.ctx)
		if err != nil {
			return false, err
		}
		if hasCondition(u, attendance.ConditionNothingFound) {
			a.out.notice(u.Notice)
			return false, nil
		}
		return false, a.out.peripherals(u.State.Peripherals, "table")

	case "peripherals", "ls":
		return false, a.out.peripherals(a.manager.State().Peripherals, "table")

	case "connect":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: connect <id|#>")
		}
		u, err := s.connect(a.ctx, a.resolvePeripheral(args[0]))
		if err != nil {
			return false, err
		}
		a.out.notice(u.Notice)

	case "attend":
		u, err := s.attend(a.ctx, strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		a.out.notice(u.Notice)
		a.out.printf("Attendee ID: %s\n", u.State.UserID)

	case "disconnect":
		u, err := s.disconnect(a.ctx)
		if err != nil {
			return false, err
		}
		a.out.notice(u.Notice)

	case "roster":
		return false, a.out.roster(a.manager.State().Roster)

	case "status":
		a.out.status(a.manager.State())
		if a.roster != nil {
			a.out.rosterStatus(a.roster.Name(), a.roster.Subscribed())
		}

	default:
		return false, fmt.Errorf("unknown command %q, type 'help' for commands", command)
	}
	return false, nil
}

// resolvePeripheral maps a 1-based list number from the last scan to its ID.
func (a *app) resolvePeripheral(ref string) string {
	if n, err := strconv.Atoi(ref); err == nil {
		ps := a.manager.State().Peripherals
		if n >= 1 && n <= len(ps) {
			return ps[n-1].ID
		}
	}
	return ref
}
