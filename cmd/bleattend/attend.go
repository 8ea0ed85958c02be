package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/bleattend/internal/device"
)

func newAttendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attend <peripheral-id> <full name...>",
		Short: "Mark attendance on a peripheral",
		Long: `Scan, connect to the peripheral and write your identity to it.

The peripheral disconnects once the write is acknowledged. A fresh attendee ID
is generated for every attendance and printed on success.`,
		Example: `  bleattend attend aa:bb:cc:dd:ee:ff Jane Doe
  bleattend attend --skip-scan 6E4F2C1A-0000-0000-0000-000000000000 "Jane Doe"`,
		Args: cobra.MinimumNArgs(2),
		RunE: runAttend,
	}
	cmd.Flags().Bool("skip-scan", false, "Connect without scanning first")
	cmd.Flags().DurationP("duration", "d", 0, "Scan duration (default from config, 2s)")
	return cmd
}

func runAttend(cmd *cobra.Command, args []string) error {
	peripheralID := args[0]
	fullName := strings.Join(args[1:], " ")
	skipScan, _ := cmd.Flags().GetBool("skip-scan")

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	s := a.newSession()
	defer s.close()

	if !skipScan {
		u, err := s.scan(a.ctx)
		if err != nil {
			return err
		}
		found := false
		for _, p := range u.State.Peripherals {
			if device.EqualUUID(p.ID, peripheralID) {
				peripheralID = p.ID
				found = true
				a.out.printf("Connecting to %s...\n", p.DisplayName())
				break
			}
		}
		if !found {
			return &device.NotFoundError{Resource: "peripheral", UUIDs: []string{peripheralID}}
		}
	}

	u, err := s.connect(a.ctx, peripheralID)
	if err != nil {
		return err
	}
	a.out.notice(u.Notice)

	u, err = s.attend(a.ctx, fullName)
	if err != nil {
		return err
	}
	a.out.notice(u.Notice)
	a.out.printf("Attendee ID: %s\n", u.State.UserID)
	return nil
}
