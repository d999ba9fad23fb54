package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderTable writes one row per tenant with a column per metric, followed
// by a totals footer.
func RenderTable(w io.Writer, r Report) {
	names := r.MetricNames()

	header := table.Row{"Tenant"}
	for _, name := range names {
		header = append(header, name)
	}
	header = append(header, "Est. Cost")

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("Usage %s - %s", r.Start.Format("2006-01-02 15:04:05"), r.Stop.Format("2006-01-02 15:04:05")))
	tw.AppendHeader(header)

	for _, tenant := range r.Tenants {
		row := table.Row{text.FgBlue.Sprintf("%s", tenant.TenantID)}
		for _, name := range names {
			row = append(row, formatValue(tenant.Metrics[name]))
		}
		row = append(row, formatValue(tenant.EstimatedCost))
		tw.AppendRow(row)
	}

	footer := table.Row{fmt.Sprintf("Total (%d)", r.Totals.Tenants)}
	for _, name := range names {
		footer = append(footer, formatValue(r.Totals.Metrics[name]))
	}
	footer = append(footer, formatValue(r.Totals.EstimatedCost))
	tw.AppendFooter(footer)

	configs := make([]table.ColumnConfig, 0, len(names)+1)
	for i := range len(names) + 1 {
		configs = append(configs, table.ColumnConfig{Number: i + 2, Align: text.AlignRight, AlignFooter: text.AlignRight})
	}
	tw.SetColumnConfigs(configs)
	tw.SetStyle(table.StyleRounded)
	// Metric names are identifiers; keep their case.
	tw.Style().Format.Header = text.FormatDefault
	tw.Style().Format.Footer = text.FormatDefault
	tw.Render()
}

// RenderResources writes the per-resource detail lines of a detailed report.
func RenderResources(w io.Writer, r Report) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Tenant", "Kind", "ID", "Name", "State", "Hours"})
	for _, tenant := range r.Tenants {
		for _, ru := range tenant.ResourceUsages {
			tw.AppendRow(table.Row{tenant.TenantID, ru.Kind, ru.ID, ru.Name, ru.State, formatValue(ru.Hours)})
		}
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 6, Align: text.AlignRight}})
	tw.SetStyle(table.StyleRounded)
	tw.Render()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
