package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	topoOut    string
	captureOut string
	reportOut  string
	globalCapt bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build a scenario and run it to its stop time",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&topoOut, "topo-out", "", "write the built topology description to this file")
	runCmd.Flags().StringVar(&captureOut, "capture-out", "", "write captured packet events to this file")
	runCmd.Flags().BoolVar(&globalCapt, "capture-global-order", false, "merge captured events into one time-ordered list")
	runCmd.Flags().StringVar(&reportOut, "report-out", "", "write the run report to this file")
}

func runRun(cmd *cobra.Command, args []string) error {
	scn, err := buildScenario()
	if err != nil {
		return err
	}
	if err := writeOrPrint(topoOut, scn.Describe().WriteToFile, "topology"); err != nil {
		return err
	}

	report, err := scn.Run()
	if err != nil {
		return err
	}

	fmt.Printf("run %s of %s finished at %gs\n", report.RunID, report.Name, report.StopTime)
	fmt.Printf("  server %s received %d probes\n", report.Server, report.Received)
	for _, cr := range report.Clients {
		fmt.Printf("  client %-12s %-22s sent %d, replies %d\n", cr.Node, cr.Local, cr.Sent, cr.Replies)
	}
	fmt.Printf("  probes %d, replies %d, dropped %d\n", report.ProbesSent, report.Replies, report.DroppedTotal())

	if err := writeOrPrint(captureOut, func(fn string) error { return scn.Capture.WriteToFile(fn, globalCapt) },
		"capture"); err != nil {
		return err
	}
	return writeOrPrint(reportOut, report.WriteToFile, "report")
}
