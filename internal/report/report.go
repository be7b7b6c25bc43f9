// Package report renders image usage for the terminal.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/maxdollinger/spiffsgen/pkg/spiffs"
	"github.com/olekukonko/tablewriter"
)

var blockHeaders = []string{"Block", "Objects", "Index", "Data", "Free", "Used"}

// PrintBlocks writes one row per block plus a total row.
func PrintBlocks(w io.Writer, blocks []spiffs.BlockStats) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(blockHeaders)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	var total spiffs.BlockStats
	for _, b := range blocks {
		table.Append(row(strconv.Itoa(b.Index), b))

		total.IndexPages += b.IndexPages
		total.DataPages += b.DataPages
		total.FreePages += b.FreePages
		total.UsablePages += b.UsablePages
	}
	if len(blocks) > 1 {
		// objects may span blocks, so they are not summed
		totalRow := row("total", total)
		totalRow[1] = "-"
		table.Append(totalRow)
	}

	table.Render()
}

func row(label string, b spiffs.BlockStats) []string {
	return []string{
		label,
		strconv.Itoa(b.Objects),
		strconv.Itoa(b.IndexPages),
		strconv.Itoa(b.DataPages),
		strconv.Itoa(b.FreePages),
		usage(b),
	}
}

func usage(b spiffs.BlockStats) string {
	if b.UsablePages == 0 {
		return "0.0%"
	}
	used := b.UsablePages - b.FreePages
	return fmt.Sprintf("%.1f%%", 100*float64(used)/float64(b.UsablePages))
}
