package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/units"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// heatmapChart renders the device's position density as a coloured scatter.
// Query params: device (required), from, to, grid.
func (s *Server) heatmapChart(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device")
	if deviceID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'device' parameter")
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	grid, err := gridParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	cells, err := s.svc.Heatmap(r.Context(), deviceID, from, to, grid)
	if err != nil {
		s.writeError(w, err)
		return
	}

	data := make([]opts.ScatterData, 0, len(cells))
	maxSeen := 1
	minLat, maxLat, minLng, maxLng := math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)
	for _, c := range cells {
		if c.Intensity > maxSeen {
			maxSeen = c.Intensity
		}
		minLat, maxLat = math.Min(minLat, c.Lat), math.Max(maxLat, c.Lat)
		minLng, maxLng = math.Min(minLng, c.Lng), math.Max(maxLng, c.Lng)
		data = append(data, opts.ScatterData{Value: []interface{}{c.Lng, c.Lat, c.Intensity}})
	}

	if len(cells) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no samples in range")
		return
	}
	pad := math.Max(maxLat-minLat, maxLng-minLng)*0.05 + 1e-4

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Device Heatmap", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Position Heatmap", Subtitle: fmt.Sprintf("device=%s cells=%d", deviceID, len(cells))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: minLng - pad, Max: maxLng + pad, Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: minLat - pad, Max: maxLat + pad, Name: "Latitude", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxSeen),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("cells", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// speedChart renders the speed profile between consecutive samples and the
// time spent in each speed zone, in the server's display units.
func (s *Server) speedChart(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device")
	if deviceID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'device' parameter")
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	samples, err := s.svc.Samples(r.Context(), deviceID, from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	zones, err := s.svc.SpeedZones(r.Context(), deviceID, from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}

	x := make([]string, 0, len(samples))
	y := make([]opts.LineData, 0, len(samples))
	for i := 1; i < len(samples); i++ {
		a, b := samples[i-1], samples[i]
		dt := float64(b.TimestampMs-a.TimestampMs) / 1000
		if dt <= 0 {
			continue
		}
		kmh := geo.SpeedKmh(geo.HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude), dt)
		x = append(x, b.Time().Format(time.TimeOnly))
		y = append(y, opts.LineData{Value: units.ConvertSpeed(units.KmhToMps(kmh), s.units)})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Speed", Subtitle: fmt.Sprintf("device=%s units=%s", deviceID, s.units)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetXAxis(x).AddSeries("speed", y)

	zx := make([]string, 0, len(zones))
	zy := make([]opts.BarData, 0, len(zones))
	for _, z := range zones {
		zx = append(zx, z.Name)
		zy = append(zy, opts.BarData{Value: z.DurationS})
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Time in Speed Zone (s)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(zx).
		AddSeries("zones", zy,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
