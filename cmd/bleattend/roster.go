package main

import (
	"slices"

	"github.com/spf13/cobra"
	"github.com/srg/bleattend/internal/attendance"
)

func newRosterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Follow the live attendee roster",
		Long: `Subscribe to the attendance channel and print the roster.

The full roster is printed whenever a snapshot arrives and each new attendee is
announced as they enter. Runs until Ctrl+C unless --once is given.`,
		Args: cobra.NoArgs,
		RunE: runRoster,
	}
	cmd.Flags().Bool("once", false, "Exit after the first roster snapshot")
	return cmd
}

func runRoster(cmd *cobra.Command, _ []string) error {
	once, _ := cmd.Flags().GetBool("once")

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	// subscribe before the client starts so the first snapshot is not missed
	s := a.newSession()
	defer s.close()
	s.drain()

	stopped, err := a.startRoster()
	if err != nil {
		return err
	}
	a.out.printf("Following %s/%s (Ctrl+C to stop)\n", a.roster.Name(), a.cfg.Realtime.Event)

	var last []attendance.Record
	for {
		select {
		case <-a.ctx.Done():
			return nil
		case err := <-stopped:
			return err
		case u, ok := <-s.updates:
			if !ok {
				return nil
			}
			if hasCondition(u, attendance.ConditionAttendeeEntered) {
				a.out.notice(u.Notice)
				last = u.State.Roster
				continue
			}
			if u.Notice != nil || sameRoster(last, u.State.Roster) {
				continue
			}
			last = u.State.Roster
			if err := a.out.roster(last); err != nil {
				return err
			}
			if once {
				return nil
			}
		}
	}
}

func sameRoster(a, b []attendance.Record) bool {
	if a == nil {
		return false
	}
	return slices.EqualFunc(a, b, func(x, y attendance.Record) bool {
		return x.ID == y.ID && x.FullName == y.FullName
	})
}
