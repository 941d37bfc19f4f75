package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/tidwall/pretty"

	"picksim/internal/simulator"
)

// WriteTable renders rows as a console table. Failed rows show their error
// in place of the trigger.
func WriteTable(w io.Writer, rows []Row) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Date", "Ticker", "Buy", "Buy Time", "Sell", "Sell Time", "Return", "Day", "Trigger"}),
	)

	for _, r := range rows {
		if !r.OK() {
			msg := r.Error
			if len(msg) > 45 {
				msg = msg[:45] + "..."
			}
			table.Append([]string{r.Date, r.Ticker, "-", "-", "-", "-", "-", "-", msg})
			continue
		}
		table.Append([]string{
			r.Date,
			r.Ticker,
			r.BuyPrice.StringFixed(2),
			r.BuyTime,
			r.SellPrice.StringFixed(2),
			r.SellTime,
			r.ReturnPct.StringFixed(2) + "%",
			fmt.Sprintf("%d", r.DaySeq),
			r.Trigger,
		})
	}

	return table.Render()
}

// WriteSummary renders s as a two-column table
func WriteSummary(w io.Writer, s Summary) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Metric", "Value"}),
	)

	table.Append([]string{"Simulated", fmt.Sprintf("%d / %d", s.Succeeded, s.Total)})
	table.Append([]string{"Failed", fmt.Sprintf("%d", s.Failed)})

	triggers := make([]string, 0, len(s.ByTrigger))
	for t := range s.ByTrigger {
		triggers = append(triggers, string(t))
	}
	sort.Strings(triggers)
	for _, t := range triggers {
		table.Append([]string{t, fmt.Sprintf("%d", s.ByTrigger[simulator.Trigger(t)])})
	}

	if s.Succeeded > 0 {
		table.Append([]string{"Win Rate", fmt.Sprintf("%.1f%% (%d/%d)", s.WinRate, s.Wins, s.Succeeded)})
		table.Append([]string{"Avg Return", fmt.Sprintf("%+.2f%%", s.AvgReturn)})
		table.Append([]string{"Avg Win / Loss", fmt.Sprintf("+%.2f%% / -%.2f%%", s.AvgWin, s.AvgLoss)})
		table.Append([]string{"Profit Factor", fmt.Sprintf("%.2f", s.ProfitFactor)})
		table.Append([]string{"Expectancy", fmt.Sprintf("%+.2f%%", s.Expectancy)})
		table.Append([]string{"Best", fmt.Sprintf("%s %+.2f%%", s.BestSymbol, s.Best)})
		table.Append([]string{"Worst", fmt.Sprintf("%s %+.2f%%", s.WorstSymbol, s.Worst)})
		table.Append([]string{"Avg Holding Days", fmt.Sprintf("%.1f", s.AvgHoldingDays)})
		table.Append([]string{"Streaks (W/L)", fmt.Sprintf("%d / %d", s.MaxWinStreak, s.MaxLoseStreak)})
	}

	return table.Render()
}

// WriteCSV writes rows in Columns order, with a header when header is set
func WriteCSV(w io.Writer, rows []Row, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(Columns()); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := cw.Write(r.Values()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = w.Write(pretty.Pretty(data))
	return err
}

// Matrix returns rows as string slices, as appended to a sheet
func Matrix(rows []Row) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.Values()
	}
	return out
}
