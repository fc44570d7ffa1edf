package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/template"
)

// chart geometry, in SVG user units
const (
	chartWidth   = 1600
	chartHeight  = 640
	marginLeft   = 90
	marginRight  = 30
	marginTop    = 70
	marginBottom = 60
	groupFill    = 0.75 // share of operation slot taken by bars
)

// chart is the data of svgTemplate
type chart struct {
	Title      string
	YLabel     string
	Width      int
	Height     int
	Left       float64
	Right      float64
	Top        float64
	Bottom     float64
	Ticks      []tick
	Groups     []group
	Legend     []legendItem
	LegendLeft float64
}

type tick struct {
	Y     float64
	Label string
}

type group struct {
	Label  string
	LabelX float64
	Bars   []bar
}

type bar struct {
	X, Y, W, H     float64
	Color          string
	Value          string
	ValueX, ValueY float64
	Clipped        bool // value above y limit
	Inside         bool // value label drawn inside the bar
}

type legendItem struct {
	Label string
	Color string
	Y     float64
}

var svgTemplate = template.Must(template.New("chart").Funcs(template.FuncMap{"f": fmtCoord, "half": half}).Parse(
	`<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}" font-family="Arial, sans-serif">
<rect width="100%" height="100%" fill="white"/>
<text x="{{half .Width}}" y="40" font-size="26" text-anchor="middle">{{.Title | html}}</text>
<text x="0" y="0" font-size="18" text-anchor="middle" transform="translate(24 {{half .Height}}) rotate(-90)">{{.YLabel | html}}</text>
{{- range .Ticks}}
<line x1="{{f $.Left}}" y1="{{f .Y}}" x2="{{f $.Right}}" y2="{{f .Y}}" stroke="#dddddd"/>
<text x="{{f $.Left}}" y="{{f .Y}}" dx="-8" dy="5" font-size="14" text-anchor="end">{{.Label}}</text>
{{- end}}
<line x1="{{f .Left}}" y1="{{f .Bottom}}" x2="{{f .Right}}" y2="{{f .Bottom}}" stroke="black"/>
<line x1="{{f .Left}}" y1="{{f .Top}}" x2="{{f .Left}}" y2="{{f .Bottom}}" stroke="black"/>
{{- range .Groups}}
<g>
{{- range .Bars}}
<rect x="{{f .X}}" y="{{f .Y}}" width="{{f .W}}" height="{{f .H}}" fill="{{.Color | html}}"/>
<text x="{{f .ValueX}}" y="{{f .ValueY}}" font-size="16" fill="{{if .Inside}}white{{else}}black{{end}}" text-anchor="middle">{{.Value}}{{if .Clipped}}+{{end}}</text>
{{- end}}
<text x="{{f .LabelX}}" y="{{f $.Bottom}}" dy="28" font-size="18" text-anchor="middle">{{.Label | html}}</text>
</g>
{{- end}}
{{- range .Legend}}
<rect x="{{f $.LegendLeft}}" y="{{f .Y}}" width="18" height="18" fill="{{.Color | html}}"/>
<text x="{{f $.LegendLeft}}" y="{{f .Y}}" dx="26" dy="15" font-size="16">{{.Label | html}}</text>
{{- end}}
</svg>
`))

// renderChart writes grouped bar chart for one thread type. Bars in each group are sorted by value,
// longest first. Values above yMax are clipped to the top of the plot and marked with "+".
func renderChart(w io.Writer, title string, yMax float64, tbl table, thread string) error {
	c := chart{
		Title:  title,
		YLabel: "Time (milliseconds per operation)",
		Width:  chartWidth,
		Height: chartHeight,
		Left:   marginLeft,
		Right:  chartWidth - marginRight,
		Top:    marginTop,
		Bottom: chartHeight - marginBottom,
	}
	plotH := c.Bottom - c.Top
	yOf := func(v float64) float64 { return c.Bottom - math.Min(v, yMax)/yMax*plotH }

	step := tickStep(yMax)
	for v := 0.0; v <= yMax+step/1000; v += step {
		c.Ticks = append(c.Ticks, tick{Y: yOf(v), Label: trimFloat(v, 2)})
	}

	slot := (c.Right - c.Left) / float64(len(tbl.operations))
	barW := slot * groupFill / float64(len(tbl.series))
	for i, op := range tbl.operations {
		g := group{Label: op, LabelX: c.Left + slot*(float64(i)+0.5)}
		type entry struct {
			value float64
			color string
		}
		var entries []entry
		for j, s := range tbl.series {
			if v, ok := tbl.value(j, op, thread); ok {
				entries = append(entries, entry{value: v, color: s.Color})
			}
		}
		sort.SliceStable(entries, func(a, b int) bool { return entries[a].value > entries[b].value })

		x := g.LabelX - barW*float64(len(entries))/2
		for _, e := range entries {
			y := yOf(e.value)
			b := bar{X: x, Y: y, W: barW, H: c.Bottom - y, Color: e.color, ValueX: x + barW/2,
				Value: fmt.Sprintf("%.2f", e.value), Clipped: e.value > yMax, Inside: true}
			b.ValueY = y + 22
			if b.H < 26 { // no room inside the bar
				b.ValueY, b.Inside = y-6, false
			}
			g.Bars = append(g.Bars, b)
			x += barW
		}
		c.Groups = append(c.Groups, g)
	}

	c.LegendLeft = c.Left + 16
	for i, s := range tbl.series {
		c.Legend = append(c.Legend, legendItem{Label: s.Name + " " + threadTitle(thread), Color: s.Color,
			Y: c.Top + 10 + float64(i)*26})
	}

	if err := svgTemplate.Execute(w, c); err != nil {
		return fmt.Errorf("failed to render %s chart: %w", thread, err)
	}
	return nil
}

// tickStep picks a round step giving 5 to 10 ticks
func tickStep(yMax float64) float64 {
	raw := yMax / 6
	pow := math.Pow(10, math.Floor(math.Log10(raw)))
	for _, m := range []float64{1, 2, 2.5, 5, 10} {
		if m*pow >= raw {
			return m * pow
		}
	}
	return 10 * pow
}

// threadTitle makes "Single Threaded" from "single_threaded"
func threadTitle(thread string) string {
	words := strings.Split(thread, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func half(v int) int { return v / 2 }

func fmtCoord(v float64) string { return trimFloat(v, 1) }

// trimFloat formats v with prec decimals and drops trailing zeros
func trimFloat(v float64, prec int) string {
	s := strconv.FormatFloat(v, 'f', prec, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}
