package executor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// TableFormatter renders join results as markdown tables.
type TableFormatter struct {
	// MaxRows is the number of rows shown; 0 shows every row.
	MaxRows int
	// NA is printed for missing values.
	NA string
}

// NewTableFormatter creates a new table formatter with default settings
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		MaxRows: 20,
		NA:      "NA",
	}
}

// FormatFrame reads the first rows of a result frame and formats them.
func (tf *TableFormatter) FormatFrame(ctx context.Context, f *ResultFrame) (string, error) {
	if f == nil || f.NumRows == 0 {
		return "_Empty result_", nil
	}
	rows, err := f.Rows(ctx, tf.MaxRows)
	if err != nil {
		return "", err
	}
	s := tf.FormatRows(f.Columns, rows)
	if int64(len(rows)) < f.NumRows {
		s += fmt.Sprintf("_showing %d of %d rows_\n", len(rows), f.NumRows)
	}
	return s, nil
}

// FormatRows formats column-named rows as a markdown table
func (tf *TableFormatter) FormatRows(columns []string, rows [][]float64) string {
	if len(rows) == 0 {
		return fmt.Sprintf("_Columns: %v_\n\n_No rows_", columns)
	}

	tableString := &strings.Builder{}

	alignment := make([]tw.Align, len(columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(columns)

	for _, row := range rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = tf.formatValue(v)
		}
		table.Append(cells)
	}

	table.Render()

	tableString.WriteString(fmt.Sprintf("\n_%d rows_\n", len(rows)))

	return tableString.String()
}

func (tf *TableFormatter) formatValue(v float64) string {
	if math.IsNaN(v) {
		return tf.NA
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
