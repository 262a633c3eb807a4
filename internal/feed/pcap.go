package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/trajectory.report/internal/monitoring"
)

// ReplayOptions configures ReplayPCAP.
type ReplayOptions struct {
	// Port selects datagrams by UDP destination port. Zero accepts all.
	Port     int
	DeviceID string
	Plan     string
	// Speed paces replay relative to capture time. Zero or less replays as
	// fast as possible.
	Speed  float64
	Logger *log.Logger
}

// ReplayPCAP reads a classic pcap capture and ingests the UDP payloads it
// contains, as UDPListener would have on the wire.
func ReplayPCAP(ctx context.Context, path string, ing Ingester, opts ReplayOptions) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return ReplayPCAPReader(ctx, f, ing, opts)
}

// ReplayPCAPReader is ReplayPCAP over an open capture stream.
func ReplayPCAPReader(ctx context.Context, r io.Reader, ing Ingester, opts ReplayOptions) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = monitoring.ComponentLogger("feed/pcap")
	}
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return Stats{}, fmt.Errorf("read pcap header: %w", err)
	}

	dec := NewDecoder(opts.DeviceID, opts.Plan)
	var c counters
	src := gopacket.NewPacketSource(pr, pr.LinkType())
	var first, started time.Time
	packets := 0
	for {
		if err := ctx.Err(); err != nil {
			return c.snapshot(), err
		}
		packet, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			logger.Printf("PCAP replay complete: %d packets, %d samples, %d accepted",
				packets, c.samples.Load(), c.accepted.Load())
			return c.snapshot(), nil
		}
		if err != nil {
			return c.snapshot(), fmt.Errorf("read packet %d: %w", packets+1, err)
		}
		packets++

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if opts.Port != 0 && int(udp.DstPort) != opts.Port {
			continue
		}

		if opts.Speed > 0 {
			ts := packet.Metadata().Timestamp
			if first.IsZero() {
				first, started = ts, time.Now()
			} else if err := waitUntil(ctx, started.Add(time.Duration(float64(ts.Sub(first))/opts.Speed))); err != nil {
				return c.snapshot(), err
			}
		}
		c.lines.Add(1)
		pump(ctx, ing, dec, udp.Payload, &c, logger)
	}
}

func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
