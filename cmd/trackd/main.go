// Command trackd runs the trajectory tracking server: HTTP and gRPC ingest,
// the background sample flusher and membership janitor, and optional serial,
// UDP and pcap sample feeds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/trajectory.report/internal/api"
	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/db"
	"github.com/banshee-data/trajectory.report/internal/feed"
	"github.com/banshee-data/trajectory.report/internal/rpc"
	"github.com/banshee-data/trajectory.report/internal/tracking"
	"github.com/banshee-data/trajectory.report/internal/units"
	"github.com/banshee-data/trajectory.report/internal/version"
)

var (
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen   = flag.String("grpc-listen", ":50051", "gRPC listen address (empty disables gRPC)")
	dbPath       = flag.String("db", "trajectory.db", "Path to the sqlite database")
	configPath   = flag.String("config", config.DefaultConfigPath, "Tuning config file (.json, .yaml or .yml)")
	speedUnits   = flag.String("units", units.KMPH, "Speed units for chart pages: mps, mph, kmph or kph")
	serialPort   = flag.String("serial", "", "Serial port of an NMEA GPS receiver (empty disables)")
	serialBaud   = flag.Int("serial-baud", 4800, "Serial baud rate")
	serialDevice = flag.String("serial-device", "gps", "Device id for fixes from the serial receiver")
	udpListen    = flag.String("udp-listen", "", "UDP address for JSON or NMEA sample datagrams (empty disables)")
	udpDevice    = flag.String("udp-device", "gps", "Device id for NMEA fixes received over UDP")
	replayPCAP   = flag.String("replay-pcap", "", "Replay UDP sample datagrams from a pcap capture at startup")
	replayPort   = flag.Int("replay-port", 0, "UDP destination port to replay (0 replays every UDP packet)")
	replaySpeed  = flag.Float64("replay-speed", 0, "Replay pacing relative to capture time (0 is as fast as possible)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// options is everything run needs, separated from the flag globals so tests
// can drive it.
type options struct {
	Listen       string
	GRPCListen   string
	DBPath       string
	Tuning       *config.TuningConfig
	Units        string
	SerialPort   string
	SerialBaud   int
	SerialDevice string
	UDPListen    string
	UDPDevice    string
	ReplayPCAP   string
	ReplayPort   int
	ReplaySpeed  float64

	// ready is called once the listeners are bound.
	ready func(httpAddr, grpcAddr net.Addr)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("trackd %s\n", version.String())
		return
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(os.Stdout, flag.Args()[1:], *dbPath); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		case "version":
			fmt.Printf("trackd %s\n", version.String())
			return
		case "help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", flag.Arg(0))
			printUsage()
			os.Exit(1)
		}
	}

	tuning, err := loadTuning(*configPath, isFlagSet("config"))
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("trackd %s", version.String())
	err = run(ctx, options{
		Listen:       *listen,
		GRPCListen:   *grpcListen,
		DBPath:       *dbPath,
		Tuning:       tuning,
		Units:        *speedUnits,
		SerialPort:   *serialPort,
		SerialBaud:   *serialBaud,
		SerialDevice: *serialDevice,
		UDPListen:    *udpListen,
		UDPDevice:    *udpDevice,
		ReplayPCAP:   *replayPCAP,
		ReplayPort:   *replayPort,
		ReplaySpeed:  *replaySpeed,
	})
	if err != nil {
		log.Fatalf("trackd: %v", err)
	}
	log.Print("trackd stopped")
}

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), `trackd - trajectory tracking server

Usage:
  trackd [flags]                 run the server
  trackd [flags] migrate <cmd>   manage database migrations (see 'trackd migrate help')
  trackd version                 print version

Flags:
`)
	flag.PrintDefaults()
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// loadTuning loads path. A missing default file falls back to built-in
// defaults; a missing explicitly requested file is an error.
func loadTuning(path string, explicit bool) (*config.TuningConfig, error) {
	cfg, err := config.LoadTuningConfig(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		log.Printf("No tuning config at %s, using built-in defaults", path)
		return config.EmptyTuningConfig(), nil
	}
	return nil, err
}

func run(ctx context.Context, opts options) error {
	database, err := db.NewDB(opts.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	svc, err := tracking.NewService(tracking.Options{
		Tuning:    opts.Tuning,
		Store:     database,
		Geofences: database,
		Events:    database,
		Routes:    database,
	})
	if err != nil {
		return err
	}

	saved, err := database.LoadMemberships(ctx)
	if err != nil {
		return fmt.Errorf("failed to load geofence memberships: %w", err)
	}
	for k, m := range saved {
		svc.Memberships().Set(k, m)
	}
	log.Printf("Restored %d geofence memberships", len(saved))

	mux := api.NewServer(svc, database, opts.Units).ServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return fmt.Errorf("failed to attach admin routes: %w", err)
	}
	httpLis, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.Listen, err)
	}
	server := &http.Server{Handler: api.LoggingMiddleware(mux), ReadHeaderTimeout: 10 * time.Second}

	var grpcLis net.Listener
	if opts.GRPCListen != "" {
		grpcLis, err = net.Listen("tcp", opts.GRPCListen)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", opts.GRPCListen, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return svc.Run(gctx) })

	g.Go(func() error {
		log.Printf("HTTP server listening on %s", httpLis.Addr())
		if err := server.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server forced to shutdown: %v", err)
		}
		return nil
	})

	if grpcLis != nil {
		g.Go(func() error { return rpc.NewServer(svc, nil).Serve(gctx, grpcLis) })
	}

	// Feeds log their failures rather than stopping the server.
	if opts.SerialPort != "" {
		src := feed.NewSerialSource(opts.SerialPort, opts.SerialDevice, feed.PortOptions{BaudRate: opts.SerialBaud})
		g.Go(func() error {
			if err := src.Run(gctx, svc); err != nil {
				log.Printf("serial feed %s stopped: %v", opts.SerialPort, err)
			}
			return nil
		})
	}
	if opts.UDPListen != "" {
		l := feed.NewUDPListener(opts.UDPListen, opts.UDPDevice, "")
		g.Go(func() error {
			if err := l.Run(gctx, svc); err != nil {
				log.Printf("UDP feed %s stopped: %v", opts.UDPListen, err)
			}
			return nil
		})
	}
	if opts.ReplayPCAP != "" {
		g.Go(func() error {
			stats, err := feed.ReplayPCAP(gctx, opts.ReplayPCAP, svc, feed.ReplayOptions{
				Port:     opts.ReplayPort,
				DeviceID: opts.UDPDevice,
				Speed:    opts.ReplaySpeed,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("pcap replay %s failed: %v", opts.ReplayPCAP, err)
			}
			log.Printf("pcap replay %s: %d samples, %d accepted, %d errors",
				opts.ReplayPCAP, stats.Samples, stats.Accepted, stats.Errors)
			return nil
		})
	}

	if opts.ready != nil {
		var grpcAddr net.Addr
		if grpcLis != nil {
			grpcAddr = grpcLis.Addr()
		}
		opts.ready(httpLis.Addr(), grpcAddr)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	snapshot := svc.Memberships().Snapshot()
	if serr := database.SaveMemberships(context.Background(), snapshot); serr != nil {
		log.Printf("failed to save geofence memberships: %v", serr)
	} else {
		log.Printf("Saved %d geofence memberships", len(snapshot))
	}
	return err
}
