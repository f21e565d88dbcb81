package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// printer writes either aligned tables or JSON to a command's output.
type printer struct {
	out  io.Writer
	json bool
}

func newPrinter(cmd *cobra.Command) *printer {
	return &printer{out: cmd.OutOrStdout(), json: outputFlag == "json"}
}

// emit prints v as JSON in json mode, or calls table otherwise.
func (p *printer) emit(v any, table func(w *tabwriter.Writer)) error {
	if p.json {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func row(w io.Writer, cols ...any) {
	strs := make([]string, len(cols))
	for i, c := range cols {
		strs[i] = fmt.Sprint(c)
	}
	fmt.Fprintln(w, strings.Join(strs, "\t"))
}

func joinInt32s(is []int32) string {
	strs := make([]string, len(is))
	for i, v := range is {
		strs[i] = fmt.Sprint(v)
	}
	return strings.Join(strs, ",")
}
