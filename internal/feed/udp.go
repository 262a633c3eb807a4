package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/trajectory.report/internal/monitoring"
)

const maxDatagram = 64 * 1024

// UDPListener ingests samples sent as UDP datagrams. Each datagram holds
// either JSON requests or NMEA sentences; NMEA fixes are attributed to
// DeviceID.
type UDPListener struct {
	Address string
	Logger  *log.Logger

	decoder *Decoder
	stats   counters
	mu      sync.Mutex
	addr    net.Addr
	ready   chan struct{}
}

func NewUDPListener(address, deviceID, plan string) *UDPListener {
	return &UDPListener{
		Address: address,
		Logger:  monitoring.ComponentLogger("feed/udp"),
		decoder: NewDecoder(deviceID, plan),
		ready:   make(chan struct{}),
	}
}

// Run listens until ctx is cancelled. It returns nil on cancellation.
func (l *UDPListener) Run(ctx context.Context, ing Ingester) error {
	addr, err := net.ResolveUDPAddr("udp", l.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	l.mu.Lock()
	l.addr = conn.LocalAddr()
	l.mu.Unlock()
	close(l.ready)
	l.Logger.Printf("UDP listener started on %s", conn.LocalAddr())

	buffer := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return nil
		}
		// Short deadline so cancellation is noticed between datagrams.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			l.Logger.Printf("UDP read error: %v", err)
			continue
		}
		if n == 0 {
			l.Logger.Printf("empty datagram from %v", from)
			continue
		}
		l.stats.lines.Add(1)
		pump(ctx, ing, l.decoder, buffer[:n], &l.stats, l.Logger)
	}
}

// Addr blocks until the listener is bound and returns its local address.
func (l *UDPListener) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-l.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr, nil
}

func (l *UDPListener) Stats() Stats { return l.stats.snapshot() }
