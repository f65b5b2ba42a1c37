package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/camrec/internal/probe"
)

var probeCmd = &cobra.Command{
	Use:   "probe FILE...",
	Short: "Inspect recorded files",
	Long: `Probe parses recordings and reports the container layout, the H.264
track parameters, sample and key frame counts and the media duration.
MP4 and MPEG-TS are detected from the file content.`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{skipConfig: "true"},
	RunE:        runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().Bool("json", false, "output reports as JSON")
}

func runProbe(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	var (
		reports []*probe.Report
		errs    []error
	)
	for _, path := range args {
		report, err := probe.File(cmd.Context(), path)
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			continue
		}
		reports = append(reports, report)
		if !asJSON {
			printReport(out, report)
		}
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return fmt.Errorf("encoding reports: %w", err)
		}
	}
	return errors.Join(errs...)
}

func printReport(w io.Writer, r *probe.Report) {
	fmt.Fprintf(w, "%s (%s)\n", r.Path, humanize.IBytes(uint64(r.Size)))
	fmt.Fprintf(w, "  %s\n", r)
	if r.Brand != "" {
		fmt.Fprintf(w, "  brand %s, %d tracks\n", r.Brand, r.Tracks)
	}
	if len(r.PIDs) > 0 {
		fmt.Fprintf(w, "  pids %v\n", r.PIDs)
	}
}
