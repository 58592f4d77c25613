package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"npud/internal/capability"
)

type detectReport struct {
	Generation          string   `json:"generation"`
	Source              string   `json:"source"`
	MaxMemoryMB         uint64   `json:"max_memory_mb"`
	MaxConcurrentModels uint32   `json:"max_concurrent_models"`
	ComputeUnits        uint32   `json:"compute_units"`
	Precisions          []string `json:"precisions"`
	Available           bool     `json:"available"`
	OSVersion           string   `json:"os_version,omitempty"`
}

func newDetectCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Probe the host accelerator and print its limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log)
			probe := capability.NewExecProbe()
			snap := capability.Detect(cmd.Context(), probe, log)
			avail := capability.CheckAvailability(cmd.Context(), probe)
			rep := detectReport{
				Generation:          snap.Generation,
				Source:              snap.Source,
				MaxMemoryMB:         snap.MaxMemoryMB,
				MaxConcurrentModels: snap.MaxConcurrentModels,
				ComputeUnits:        snap.ComputeUnits,
				Precisions:          snap.PrecisionStrings(),
				Available:           avail.Available,
				OSVersion:           avail.OSVersion,
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printDetect(out, rep, avail)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printDetect(w io.Writer, rep detectReport, avail capability.Availability) {
	status := color.RedString("unavailable")
	if rep.Available {
		status = color.GreenString("available")
	}
	renderTable(w, []string{"Property", "Value"}, [][]string{
		{"accelerator", status},
		{"generation", rep.Generation},
		{"source", rep.Source},
		{"max memory", strconv.FormatUint(rep.MaxMemoryMB, 10) + " MB"},
		{"max concurrent", strconv.FormatUint(uint64(rep.MaxConcurrentModels), 10)},
		{"compute units", strconv.FormatUint(uint64(rep.ComputeUnits), 10)},
		{"precisions", strings.Join(rep.Precisions, ", ")},
	})
	if !rep.Available {
		fmt.Fprintln(w)
		renderTable(w, []string{"Check", "Passed"}, [][]string{
			{"os supported", yesNo(avail.OSSupported)},
			{"apple cpu", yesNo(avail.AppleCPU)},
			{"driver loaded", yesNo(avail.DriverLoaded)},
			{"in registry", yesNo(avail.InRegistry)},
			{"in hardware summary", yesNo(avail.InSummary)},
			{"telemetry responds", yesNo(avail.TelemetryResponds)},
		})
	}
}
