// Command route-export writes a route as GeoJSON and a PNG map. The route is
// either loaded from the database by id or built from a device's stored
// samples over a time range.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/plot"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/db"
	"github.com/banshee-data/trajectory.report/internal/fsutil"
	"github.com/banshee-data/trajectory.report/internal/route"
	"github.com/banshee-data/trajectory.report/internal/routeplot"
	"github.com/banshee-data/trajectory.report/internal/tracking"
)

// Config holds the export settings.
type Config struct {
	DBPath      string
	ConfigPath  string
	RouteID     string
	DeviceID    string
	Name        string
	FromMs      int64
	ToMs        int64
	OutputDir   string
	Save        bool
	HeatmapGrid float64
}

// Result lists the files written.
type Result struct {
	Route       route.Route
	GeoJSONPath string
	PNGPath     string
	HeatmapPath string
}

func main() {
	var cfg Config
	var from, to string
	flag.StringVar(&cfg.DBPath, "db", "trajectory.db", "Path to the sqlite database")
	flag.StringVar(&cfg.ConfigPath, "config", "", "Tuning config file (defaults to built-in tuning)")
	flag.StringVar(&cfg.RouteID, "route", "", "Export a stored route by id")
	flag.StringVar(&cfg.DeviceID, "device", "", "Build a route from this device's samples")
	flag.StringVar(&cfg.Name, "name", "", "Name for a built route")
	flag.StringVar(&from, "from", "", "Range start, RFC 3339 or unix milliseconds (default: all samples)")
	flag.StringVar(&to, "to", "", "Range end, RFC 3339 or unix milliseconds (default: now)")
	flag.StringVar(&cfg.OutputDir, "out", ".", "Output directory")
	flag.BoolVar(&cfg.Save, "save", false, "Store a built route in the database")
	flag.Float64Var(&cfg.HeatmapGrid, "heatmap-grid", 0, "Also render a visit heatmap with this cell size in degrees")
	flag.Parse()

	var err error
	if cfg.FromMs, err = parseTime(from, 0); err != nil {
		log.Fatalf("invalid -from: %v", err)
	}
	if cfg.ToMs, err = parseTime(to, time.Now().UnixMilli()); err != nil {
		log.Fatalf("invalid -to: %v", err)
	}

	res, err := export(context.Background(), cfg, fsutil.OSFileSystem{})
	if err != nil {
		log.Fatalf("route-export: %v", err)
	}
	r := res.Route
	fmt.Printf("Route %s (%s): %d points, %.0f m over %.0f s\n",
		r.ID, r.DeviceID, len(r.Points), r.TotalDistanceM, r.TotalDurationS)
	fmt.Printf("  %s\n  %s\n", res.GeoJSONPath, res.PNGPath)
	if res.HeatmapPath != "" {
		fmt.Printf("  %s\n", res.HeatmapPath)
	}
}

// parseTime accepts RFC 3339 or unix milliseconds. An empty value yields def.
func parseTime(v string, def int64) (int64, error) {
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, fmt.Errorf("%q is neither RFC 3339 nor unix milliseconds", v)
	}
	return t.UnixMilli(), nil
}

// export writes <base>.geojson and <base>.png, plus <base>-heatmap.png when
// a heatmap grid is set. base is the route id, prefixed with the sanitized
// route name when it has one.
func export(ctx context.Context, cfg Config, fsys fsutil.FileSystem) (Result, error) {
	if (cfg.RouteID == "") == (cfg.DeviceID == "") {
		return Result{}, errors.New("exactly one of -route or -device is required")
	}

	tuning := config.EmptyTuningConfig()
	if cfg.ConfigPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(cfg.ConfigPath); err != nil {
			return Result{}, err
		}
	}

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	opts := tracking.Options{Tuning: tuning, Store: database}
	if cfg.Save {
		opts.Routes = database
	}
	svc, err := tracking.NewService(opts)
	if err != nil {
		return Result{}, err
	}

	var r route.Route
	if cfg.RouteID != "" {
		r, err = database.GetRoute(ctx, cfg.RouteID)
	} else {
		r, err = svc.BuildRoute(ctx, cfg.DeviceID, cfg.Name, cfg.FromMs, cfg.ToMs)
	}
	if err != nil {
		return Result{}, err
	}

	if err := fsys.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return Result{}, err
	}
	base := r.ID
	if r.Name != "" {
		base = fsutil.SanitizeFilename(r.Name) + "-" + r.ID
	}
	res := Result{
		Route:       r,
		GeoJSONPath: filepath.Join(cfg.OutputDir, base+".geojson"),
		PNGPath:     filepath.Join(cfg.OutputDir, base+".png"),
	}

	gj, err := r.GeoJSON()
	if err != nil {
		return Result{}, err
	}
	if err := fsys.WriteFile(res.GeoJSONPath, gj, 0o644); err != nil {
		return Result{}, err
	}

	p, err := routeplot.RoutePlot(r)
	if err != nil {
		return Result{}, err
	}
	if err := writePlot(fsys, res.PNGPath, p); err != nil {
		return Result{}, err
	}

	if cfg.HeatmapGrid > 0 {
		start, end := r.StartTime.UnixMilli(), r.EndTime.UnixMilli()
		cells, err := svc.Heatmap(ctx, r.DeviceID, start, end, cfg.HeatmapGrid)
		if err != nil {
			return Result{}, err
		}
		hp, err := routeplot.HeatmapPlot(fmt.Sprintf("%s visits", r.DeviceID), cells, cfg.HeatmapGrid)
		if err != nil {
			return Result{}, err
		}
		res.HeatmapPath = filepath.Join(cfg.OutputDir, base+"-heatmap.png")
		if err := writePlot(fsys, res.HeatmapPath, hp); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func writePlot(fsys fsutil.FileSystem, path string, p *plot.Plot) error {
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if err := routeplot.WritePNG(f, p, routeplot.Width, routeplot.Height); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}
