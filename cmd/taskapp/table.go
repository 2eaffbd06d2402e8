package main

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderTable writes rows under headers. Columns listed in numeric are right
// aligned.
func renderTable(out io.Writer, headers []string, rows [][]string, numeric ...int) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, name := range headers {
		header[i] = name
	}

	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}

		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(numeric))
	for _, column := range numeric {
		configs = append(configs, table.ColumnConfig{
			Number:      column + 1,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}

	tw.SetColumnConfigs(configs)
	tw.Render()
}
