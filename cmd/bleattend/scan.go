package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bleattend/internal/attendance"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for attendance peripherals",
		Long: `Scan for nearby Bluetooth Low Energy peripherals and list them.

Each peripheral is listed once, with the name from its first advertisement.
Use the ID column with the attend command.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().DurationP("duration", "d", 0, "Scan duration (default from config, 2s)")
	cmd.Flags().StringP("format", "f", "", "Output format (table, json)")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "" && format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if format == "" {
		format = a.cfg.OutputFormat
	}

	s := a.newSession()
	defer s.close()

	var progress *ProgressPrinter
	if format == "table" && a.out.terminal {
		progress = NewCountdownProgressPrinter(cmd.OutOrStdout(), "Scanning for peripherals", a.cfg.ScanDuration)
		progress.Start()
	}

	u, err := s.scan(a.ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	if format == "table" && hasCondition(u, attendance.ConditionNothingFound) {
		a.out.notice(u.Notice)
		return nil
	}
	return a.out.peripherals(u.State.Peripherals, format)
}
