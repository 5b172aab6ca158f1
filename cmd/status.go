package main

import (
	"fmt"
	"io"
	"time"

	"drive2youtube/internal/checkpoint"
	"drive2youtube/internal/config"
	"drive2youtube/internal/logger"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statusCmd = &cobra.Command{
	Use:          "status",
	Short:        "Show saved progress and recorded failures",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadLocal(cmd.Context(), configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, "")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	state, err := readState(cfg, log)
	if err != nil {
		return err
	}

	printStatus(cmd.OutOrStdout(), cfg.Migration.ProgressFile, state, time.Now())
	return nil
}

// readState reads progress without taking the run lock, so status works while a migration runs
func readState(cfg *config.Config, log *zap.Logger) (checkpoint.State, error) {
	if cfg.Migration.ProgressBackend == config.BackendSQLite {
		state, err := checkpoint.ReadSQLite(cfg.Migration.ProgressFile)
		if err != nil {
			return checkpoint.State{}, fmt.Errorf("failed to read progress database: %w", err)
		}
		return state, nil
	}
	return checkpoint.Load(cfg.Migration.ProgressFile, log), nil
}

func printStatus(out io.Writer, source string, state checkpoint.State, now time.Time) {
	distinct := map[string]struct{}{}
	for _, f := range state.FailedUploads {
		distinct[f.UniqueID] = struct{}{}
	}

	fmt.Fprintln(out, renderTable(
		[]string{"Progress", source},
		[][]string{
			{"Completed", humanize.Comma(int64(len(state.ProcessedIDs)))},
			{"Next row", humanize.Comma(int64(max(1, state.LastProcessedRow)))},
			{"Failure records", humanize.Comma(int64(len(state.FailedUploads)))},
			{"Failed ids", humanize.Comma(int64(len(distinct)))},
		},
		[]columnAlignment{alignLeft, alignRight},
	))

	if len(state.FailedUploads) == 0 {
		fmt.Fprintln(out, "No recorded failures")
		return
	}

	rows := make([][]string, 0, len(state.FailedUploads))
	for _, f := range state.FailedUploads {
		rows = append(rows, []string{f.UniqueID, f.Error, failedAgo(f.Timestamp, now)})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Error", "When"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
}

func failedAgo(timestamp string, now time.Time) string {
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return timestamp
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			WidthMax:    60,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
