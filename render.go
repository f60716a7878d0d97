package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/harrisonrobin/obs-sync/pkg/sync"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	styleCreate = lipgloss.NewStyle().Foreground(lipgloss.Color("green"))
	styleUpdate = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow"))
	styleDelete = lipgloss.NewStyle().Foreground(lipgloss.Color("red"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("red")).Bold(true)
)

// renderReport formats a run's outcome. Dry-run and apply reports share
// this renderer so their output stays line-for-line comparable.
func renderReport(r *sync.Report, verbose bool) string {
	var b strings.Builder

	mode := "dry-run"
	if !r.DryRun {
		mode = "apply"
	}
	b.WriteString(styleHeader.Render(fmt.Sprintf("sync %s (%s)", r.VaultID, mode)))
	b.WriteString("\n")

	updates, createsObs, createsRem, deletes := r.Plan.Counts()
	fmt.Fprintf(&b, "  updates: %d  creates obs: %d  creates rem: %d  deletes: %d  new links: %d  dup clusters: %d\n",
		updates, createsObs, createsRem, deletes, r.NewLinks, len(r.Plan.DedupClusters))

	if verbose || r.DryRun {
		for _, op := range r.Plan.Ops {
			b.WriteString("  " + renderOp(op) + "\n")
		}
	}

	for _, c := range r.Plan.DedupClusters {
		fmt.Fprintf(&b, "  duplicate %q (%d members)\n", c.Description, len(c.Members))
		if verbose {
			for _, m := range c.Members {
				loc := m.Location
				if m.Position != "" {
					loc += ", " + m.Position
				}
				b.WriteString(styleDim.Render(fmt.Sprintf("    %s (%s)", m.UUID, loc)) + "\n")
			}
		}
	}

	if failures := r.Failures(); len(failures) > 0 {
		b.WriteString(styleFailed.Render("  failures:") + "\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "    %s: %v\n", opLabel(f.Op), f.Err)
		}
	}

	if len(r.Diagnostics) > 0 {
		b.WriteString(styleDim.Render("  diagnostics:") + "\n")
		for _, d := range r.Diagnostics {
			b.WriteString(styleDim.Render("    "+d) + "\n")
		}
	}

	if r.Plan.IsEmpty() && len(r.Plan.DedupClusters) == 0 {
		b.WriteString(styleDim.Render("  nothing to do") + "\n")
	}
	return b.String()
}

func renderOp(op sync.PlanOp) string {
	label := opLabel(op)
	switch op.Kind {
	case sync.OpCreateObs, sync.OpCreateRem:
		return styleCreate.Render(label)
	case sync.OpUpdateObs, sync.OpUpdateRem:
		return styleUpdate.Render(label)
	default:
		return styleDelete.Render(label)
	}
}

func opLabel(op sync.PlanOp) string {
	switch op.Kind {
	case sync.OpCreateRem:
		return fmt.Sprintf("create rem %q -> list %s", op.Obs.Description, op.ListID)
	case sync.OpCreateObs:
		target := op.TargetFile
		if op.Heading != "" {
			target += " under " + op.Heading
		}
		return fmt.Sprintf("create obs %q -> %s", op.Rem.Title, target)
	case sync.OpUpdateObs:
		return fmt.Sprintf("update obs %s (%s)", op.ID, fieldList(op))
	case sync.OpUpdateRem:
		return fmt.Sprintf("update rem %s (%s)", op.ID, fieldList(op))
	case sync.OpDeleteObs:
		return fmt.Sprintf("delete obs %s", op.ID)
	default:
		return fmt.Sprintf("delete rem %s", op.ID)
	}
}

// fieldList renders the op's resolved field names sorted, since Fields
// is a map and iteration order would otherwise leak into the output.
func fieldList(op sync.PlanOp) string {
	var fields []string
	for f := range op.Fields {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)
	return strings.Join(fields, ", ")
}
