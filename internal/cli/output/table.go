// Package output renders chunkctl command results for the terminal.
package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableData holds headers and rows for a columnar listing.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData creates a table with the given column headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers}
}

// AddRow appends one data row.
func (t *TableData) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// PrintTable writes the table to w in a borderless, left-aligned layout.
func PrintTable(w io.Writer, data *TableData) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader(data.headers)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range data.rows {
		table.Append(row)
	}
	table.Render()
	return nil
}

// SimpleTable prints key-value pairs in two colon-separated columns.
func SimpleTable(w io.Writer, pairs [][2]string) error {
	table := tablewriter.NewWriter(w)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(":")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, pair := range pairs {
		table.Append([]string{pair[0], pair[1]})
	}
	table.Render()
	return nil
}
