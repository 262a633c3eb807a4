package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/trajectory.report/internal/monitoring"
)

// PortOptions describes how to open a GPS receiver's serial port.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills in NMEA 0183 defaults
// (4800 8N1 is the standard; most modern receivers also accept 9600).
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 4800
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch parity := strings.TrimSpace(strings.ToUpper(opts.Parity)); parity {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	} else {
		mode.StopBits = serial.OneStopBit
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// PortOpener opens a serial port. OpenPort is the real implementation;
// tests substitute their own.
type PortOpener func(path string, opts PortOptions) (io.ReadCloser, error)

// OpenPort opens path with go.bug.st/serial.
func OpenPort(path string, opts PortOptions) (io.ReadCloser, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}

// SerialSource reads NMEA sentences from a receiver and ingests each fix.
type SerialSource struct {
	Path    string
	Options PortOptions
	Open    PortOpener
	Logger  *log.Logger

	decoder *Decoder
	stats   counters
	mu      sync.Mutex
	port    io.ReadCloser
}

// NewSerialSource returns a source for the receiver at path whose fixes are
// attributed to deviceID.
func NewSerialSource(path, deviceID string, opts PortOptions) *SerialSource {
	return &SerialSource{
		Path:    path,
		Options: opts,
		Open:    OpenPort,
		Logger:  monitoring.ComponentLogger("feed/serial"),
		decoder: NewDecoder(deviceID, ""),
	}
}

// Run opens the port and ingests fixes until ctx is cancelled or the port
// reaches EOF. The port is closed on return.
func (s *SerialSource) Run(ctx context.Context, ing Ingester) error {
	port, err := s.Open(s.Path, s.Options)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	defer s.Close()

	s.Logger.Printf("reading NMEA from %s device=%s", s.Path, s.decoder.DeviceID)
	err = readLines(ctx, port, func(line string) {
		s.stats.lines.Add(1)
		pump(ctx, ing, s.decoder, []byte(line), &s.stats, s.Logger)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes the port if it is open. It unblocks a pending read.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *SerialSource) Stats() Stats { return s.stats.snapshot() }
