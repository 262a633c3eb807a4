// Package routeplot renders routes and heatmaps to static images with
// gonum/plot, for reports and offline inspection.
package routeplot

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/trajectory.report/internal/activity"
	"github.com/banshee-data/trajectory.report/internal/analytics"
	"github.com/banshee-data/trajectory.report/internal/route"
)

// Default image size.
const (
	Width  = 8 * vg.Inch
	Height = 8 * vg.Inch
)

var activityColors = map[activity.Type]color.Color{
	activity.TypeStationary: color.RGBA{R: 128, G: 128, B: 128, A: 255},
	activity.TypeWalking:    color.RGBA{R: 31, G: 158, B: 137, A: 255},
	activity.TypeRunning:    color.RGBA{R: 253, G: 174, B: 97, A: 255},
	activity.TypeCycling:    color.RGBA{R: 94, G: 60, B: 153, A: 255},
	activity.TypeDriving:    color.RGBA{R: 215, G: 48, B: 39, A: 255},
	activity.TypeUnknown:    color.RGBA{R: 0, G: 0, B: 0, A: 255},
}

func pointType(p route.Point) activity.Type {
	if p.Activity == nil {
		return activity.TypeUnknown
	}
	return p.Activity.Type
}

// segment is a run of consecutive points sharing one activity. Adjacent
// segments share their boundary point so the drawn path is continuous.
type segment struct {
	typ activity.Type
	xys plotter.XYs
}

func segments(points []route.Point) []segment {
	var out []segment
	for i, p := range points {
		xy := plotter.XY{X: p.Longitude, Y: p.Latitude}
		t := pointType(p)
		if len(out) == 0 || out[len(out)-1].typ != t {
			seg := segment{typ: t}
			if i > 0 {
				prev := points[i-1]
				seg.xys = append(seg.xys, plotter.XY{X: prev.Longitude, Y: prev.Latitude})
			}
			out = append(out, seg)
		}
		out[len(out)-1].xys = append(out[len(out)-1].xys, xy)
	}
	return out
}

// RoutePlot draws r as a path coloured by activity, with start and end
// markers.
func RoutePlot(r route.Route) (*plot.Plot, error) {
	if len(r.Points) == 0 {
		return nil, fmt.Errorf("route %s has no points", r.ID)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s  %.2f km  %s", routeTitle(r), r.TotalDistanceM/1000, r.EndTime.Sub(r.StartTime))
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	p.Add(plotter.NewGrid())

	legend := make(map[activity.Type]bool)
	for _, seg := range segments(r.Points) {
		if len(seg.xys) < 2 {
			continue
		}
		line, err := plotter.NewLine(seg.xys)
		if err != nil {
			return nil, err
		}
		line.Color = activityColors[seg.typ]
		line.Width = vg.Points(2)
		p.Add(line)
		if !legend[seg.typ] {
			legend[seg.typ] = true
			p.Legend.Add(string(seg.typ), line)
		}
	}

	first, last := r.Points[0], r.Points[len(r.Points)-1]
	ends, err := plotter.NewScatter(plotter.XYs{
		{X: first.Longitude, Y: first.Latitude},
		{X: last.Longitude, Y: last.Latitude},
	})
	if err != nil {
		return nil, err
	}
	ends.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		c := color.RGBA{G: 160, A: 255}
		if i == 1 {
			c = color.RGBA{R: 200, A: 255}
		}
		return draw.GlyphStyle{Color: c, Radius: vg.Points(4), Shape: draw.CircleGlyph{}}
	}
	p.Add(ends)
	equalAspect(p)
	return p, nil
}

func routeTitle(r route.Route) string {
	if r.Name != "" {
		return r.Name
	}
	return r.DeviceID
}

// equalAspect widens the narrower axis so a degree of longitude and of
// latitude cover the same length at the plot's mean latitude.
func equalAspect(p *plot.Plot) {
	lngScale := math.Cos((p.Y.Min + p.Y.Max) / 2 * math.Pi / 180)
	if lngScale <= 0 {
		return
	}
	w := (p.X.Max - p.X.Min) * lngScale
	h := p.Y.Max - p.Y.Min
	switch {
	case w > h:
		pad := (w - h) / 2
		p.Y.Min, p.Y.Max = p.Y.Min-pad, p.Y.Max+pad
	case h > w:
		pad := (h - w) / 2 / lngScale
		p.X.Min, p.X.Max = p.X.Min-pad, p.X.Max+pad
	}
}

// HeatmapPlot draws heatmap cells as squares shaded by weight.
func HeatmapPlot(title string, cells []analytics.Cell, gridDeg float64) (*plot.Plot, error) {
	if len(cells) == 0 {
		return nil, fmt.Errorf("no heatmap cells")
	}
	xys := make(plotter.XYs, len(cells))
	maxW := 0.0
	for i, c := range cells {
		xys[i] = plotter.XY{X: c.Lng + gridDeg/2, Y: c.Lat + gridDeg/2}
		maxW = math.Max(maxW, c.Weight)
	}
	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, err
	}
	sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		f := 1.0
		if maxW > 0 {
			f = cells[i].Weight / maxW
		}
		return draw.GlyphStyle{Color: ramp(f), Radius: vg.Points(4), Shape: draw.BoxGlyph{}}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	p.Add(sc)
	equalAspect(p)
	return p, nil
}

// ramp maps f in [0, 1] from pale yellow to dark red.
func ramp(f float64) color.Color {
	f = math.Max(0, math.Min(1, f))
	return color.RGBA{
		R: uint8(255 - 100*f),
		G: uint8(237 - 237*f),
		B: uint8(160 - 160*f),
		A: 255,
	}
}

// WritePNG renders p as a PNG of the given size to w.
func WritePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
