package production

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/comalice/teax"
)

// TraceVisualizer renders a recorded snapshot sequence. Every Initial
// snapshot opens a new generation cluster; Regular snapshots are linked to
// their predecessor by an edge labelled with the message.
type TraceVisualizer[M, S any, C comparable] struct{}

// ExportDOT generates Graphviz DOT source for the trace.
func (v *TraceVisualizer[M, S, C]) ExportDOT(snaps []teax.Snapshot[M, S, C]) string {
	var buf bytes.Buffer
	buf.WriteString(`digraph Trace {
  rankdir=LR;
  node [shape=box, fontsize=10, style=rounded];
  edge [fontsize=9];
`)

	var edges []Edge
	open := false
	generation := 0
	for i, snap := range snaps {
		id := fmt.Sprintf("s%d", i)
		if snap.IsInitial() {
			if open {
				buf.WriteString("  }\n")
			}
			buf.WriteString(fmt.Sprintf("  subgraph cluster_g%d {\n", generation))
			buf.WriteString(fmt.Sprintf("    label=\"generation %d\";\n", generation))
			generation++
			open = true
		} else if i > 0 {
			edges = append(edges, Edge{From: fmt.Sprintf("s%d", i-1), To: id, Label: fmt.Sprint(snap.Message)})
		}

		style := ""
		switch {
		case i == len(snaps)-1:
			style = ` style=filled fillcolor=lightgreen`
		case snap.IsInitial():
			style = ` shape=ellipse`
		}
		indent := "  "
		if open {
			indent = "    "
		}
		buf.WriteString(fmt.Sprintf("%s%q [label=%q%s];\n", indent, id, nodeLabel(snap), style))
	}
	if open {
		buf.WriteString("  }\n")
	}

	for _, edge := range edges {
		buf.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", edge.From, edge.To, edge.Label))
	}

	buf.WriteString("}\n")
	return buf.String()
}

// ExportJSON serializes the trace to JSON.
func (v *TraceVisualizer[M, S, C]) ExportJSON(snaps []teax.Snapshot[M, S, C]) ([]byte, error) {
	return json.MarshalIndent(snaps, "", "  ")
}

// Edge represents one applied message.
type Edge struct {
	From  string
	To    string
	Label string
}

func nodeLabel[M, S any, C comparable](snap teax.Snapshot[M, S, C]) string {
	label := fmt.Sprint(snap.State)
	if len(snap.Commands) == 0 {
		return label
	}
	cmds := make([]string, len(snap.Commands))
	for i, c := range snap.Commands {
		cmds[i] = fmt.Sprint(c)
	}
	return label + "\n[" + strings.Join(cmds, ", ") + "]"
}
