/**
 * @description
 * Renders an analysis report as a self-contained interactive HTML page. The network
 * graph is drawn as inline SVG: familiar edges in green, unfamiliar edges in red,
 * nodes coloured by kind. Hovering an edge shows the reset subscriber and creditor
 * names and numbers; clicking an edge or node highlights it with its linked elements.
 *
 * @dependencies
 * - html/template: Contextual escaping of subscriber-supplied names.
 */

package render

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/transfa/analytics-service/internal/domain"
)

//go:embed report.html.tmpl
var reportTemplate string

var tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"amount": FormatAmount,
	"ratio":  func(r float64) string { return strconv.FormatFloat(r*100, 'f', 0, 64) + "%" },
	"when":   func(a domain.Assessment) string { return a.ResetAt.Format("2006-01-02 15:04") },
	"join":   strings.Join,
}).Parse(reportTemplate))

// Palette matches the colours analysts know from the earlier network plots.
var (
	NodeColors = map[domain.NodeKind]string{
		domain.NodeBusiness:        "#808080",
		domain.NodeResetSubscriber: "#B22222",
		domain.NodeCounterparty:    "#FFA07A",
	}
	FamiliarEdgeColor   = "mediumseagreen"
	UnfamiliarEdgeColor = "firebrick"
)

// HTMLOptions controls the canvas.
type HTMLOptions struct {
	Width  int
	Height int
	// Extent is the half-width of the visible data range; node positions lie in [-1, 1].
	Extent float64
}

// DefaultHTMLOptions returns an 800x800 canvas over [-1.1, 1.1].
func DefaultHTMLOptions() HTMLOptions {
	return HTMLOptions{Width: 800, Height: 800, Extent: 1.1}
}

type nodeView struct {
	ID     string
	Label  string
	Kind   string
	Color  string
	X, Y   float64
	Radius float64
}

type edgeView struct {
	Index          int
	Source, Target string
	X1, Y1, X2, Y2 float64
	Color          string
	ResetNo        string
	ResetName      string
	CreditNo       string
	CreditName     string
	Familiarity    string
	BeforeCount    int
	AfterCount     int
	Amount         string
}

type pageView struct {
	Report *domain.Report
	Width  int
	Height int
	Nodes  []nodeView
	Edges  []edgeView
	Legend []legendEntry
}

type legendEntry struct {
	Label string
	Color string
	Edge  bool
}

// HTML writes the report page to w.
func HTML(w io.Writer, report *domain.Report, opts HTMLOptions) error {
	if report == nil {
		return fmt.Errorf("render html: nil report")
	}
	if opts.Width <= 0 || opts.Height <= 0 || opts.Extent <= 0 {
		opts = DefaultHTMLOptions()
	}

	view := pageView{
		Report: report,
		Width:  opts.Width,
		Height: opts.Height,
		Legend: []legendEntry{
			{Label: "Business shortcode", Color: NodeColors[domain.NodeBusiness]},
			{Label: "Reset subscriber", Color: NodeColors[domain.NodeResetSubscriber]},
			{Label: "Counterparty", Color: NodeColors[domain.NodeCounterparty]},
			{Label: "Familiar", Color: FamiliarEdgeColor, Edge: true},
			{Label: "Unfamiliar", Color: UnfamiliarEdgeColor, Edge: true},
		},
	}

	project := func(x, y float64) (float64, float64) {
		px := (x + opts.Extent) / (2 * opts.Extent) * float64(opts.Width)
		py := (opts.Extent - y) / (2 * opts.Extent) * float64(opts.Height)
		return px, py
	}

	if g := report.Graph; g != nil {
		positions := make(map[string][2]float64, len(g.Nodes))
		for _, n := range g.Nodes {
			px, py := project(n.X, n.Y)
			positions[n.ID] = [2]float64{px, py}
			view.Nodes = append(view.Nodes, nodeView{
				ID:     n.ID,
				Label:  n.Label,
				Kind:   string(n.Kind),
				Color:  NodeColors[n.Kind],
				X:      px,
				Y:      py,
				Radius: 3.5,
			})
		}
		for i, e := range g.Edges {
			from, to := positions[e.Source], positions[e.Target]
			color := FamiliarEdgeColor
			if e.Unfamiliar() {
				color = UnfamiliarEdgeColor
			}
			view.Edges = append(view.Edges, edgeView{
				Index:       i,
				Source:      e.Source,
				Target:      e.Target,
				X1:          from[0],
				Y1:          from[1],
				X2:          to[0],
				Y2:          to[1],
				Color:       color,
				ResetNo:     e.Source,
				ResetName:   e.SourceName,
				CreditNo:    e.Target,
				CreditName:  e.TargetName,
				Familiarity: string(e.Familiarity),
				BeforeCount: e.BeforeCount,
				AfterCount:  e.AfterCount,
				Amount:      FormatAmount(e.Amount),
			})
		}
	}

	return tmpl.Execute(w, view)
}

// FormatAmount renders minor units as a grouped decimal, e.g. 150050 -> "1,500.50".
func FormatAmount(minor int64) string {
	sign := ""
	abs := uint64(minor)
	if minor < 0 {
		sign = "-"
		abs = -abs
	}
	whole := strconv.FormatUint(abs/100, 10)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s%s.%02d", sign, b.String(), abs%100)
}
