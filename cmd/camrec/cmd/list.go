package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/camrec/internal/catalog"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List catalogued recordings",
	Example: `  camrec list --limit 10
  camrec list --state failed --json
  camrec list --schedule nightly`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().String("state", "", "only recordings in this state (stopped, failed)")
	listCmd.Flags().String("schedule", "", "only recordings started by this schedule entry")
	listCmd.Flags().Duration("since", 0, "only recordings started within this window")
	listCmd.Flags().Int("limit", 20, "maximum number of recordings")
	listCmd.Flags().Bool("json", false, "output as JSON")
}

func runList(cmd *cobra.Command, _ []string) error {
	log := logger()
	flags := cmd.Flags()

	var filter catalog.Filter
	filter.State, _ = flags.GetString("state")
	filter.Schedule, _ = flags.GetString("schedule")
	filter.Limit, _ = flags.GetInt("limit")
	if since, _ := flags.GetDuration("since"); since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	db, cat, err := openCatalog(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("closing database", slog.String("error", err.Error()))
		}
	}()

	recordings, err := cat.List(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := flags.GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recordings)
	}

	if len(recordings) == 0 {
		fmt.Fprintln(out, "no recordings")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATE\tREASON\tDURATION\tSIZE\tSAMPLES\tLABEL\tPATH")
	for _, r := range recordings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(r.StartedAt),
			r.State,
			r.StopReason,
			r.MediaDuration().Round(time.Second),
			humanize.IBytes(uint64(max(r.FileSize, 0))),
			humanize.Comma(r.SamplesWritten),
			r.Label,
			r.Path,
		)
	}
	return tw.Flush()
}
