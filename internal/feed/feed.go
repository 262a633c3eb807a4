// Package feed connects external sample sources to the tracking service:
// NMEA receivers on a serial port, JSON or NMEA datagrams on UDP, and pcap
// captures of the latter for offline replay.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/banshee-data/trajectory.report/internal/tracking"
)

// Ingester is the part of tracking.Service a feed needs.
type Ingester interface {
	Ingest(ctx context.Context, req tracking.Request) (tracking.Result, error)
}

// Stats counts what a feed has seen.
type Stats struct {
	Lines    uint64 `json:"lines"`
	Samples  uint64 `json:"samples"`
	Accepted uint64 `json:"accepted"`
	Errors   uint64 `json:"errors"`
}

type counters struct {
	lines, samples, accepted, errors atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Lines:    c.lines.Load(),
		Samples:  c.samples.Load(),
		Accepted: c.accepted.Load(),
		Errors:   c.errors.Load(),
	}
}

// Decoder turns raw feed payloads into ingest requests. A payload starting
// with '$' is read as NMEA sentences for DeviceID; anything else as one or
// more concatenated JSON tracking.Request objects.
type Decoder struct {
	DeviceID string
	Plan     string
	nmea     *NMEAParser
}

func NewDecoder(deviceID, plan string) *Decoder {
	return &Decoder{DeviceID: deviceID, Plan: plan, nmea: NewNMEAParser(deviceID)}
}

// Decode returns the requests in payload. Decoding stops at the first JSON
// error; NMEA errors are collected per sentence and joined.
func (d *Decoder) Decode(payload []byte) ([]tracking.Request, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}
	if payload[0] == '$' {
		return d.decodeNMEA(payload)
	}

	var out []tracking.Request
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	for {
		var req tracking.Request
		err := dec.Decode(&req)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode request: %w", err)
		}
		if req.Plan == "" {
			req.Plan = d.Plan
		}
		out = append(out, req)
	}
}

func (d *Decoder) decodeNMEA(payload []byte) ([]tracking.Request, error) {
	var out []tracking.Request
	var errs []error
	for _, line := range bytes.Split(payload, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		s, err := d.nmea.Parse(string(line))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if s != nil {
			out = append(out, tracking.Request{Sample: *s, Plan: d.Plan})
		}
	}
	return out, errors.Join(errs...)
}

// pump ingests everything decoded from payload and updates c.
func pump(ctx context.Context, ing Ingester, dec *Decoder, payload []byte, c *counters, logger *log.Logger) {
	reqs, err := dec.Decode(payload)
	if err != nil {
		c.errors.Add(1)
		logger.Printf("decode: %v", err)
	}
	for _, req := range reqs {
		c.samples.Add(1)
		res, err := ing.Ingest(ctx, req)
		if err != nil {
			c.errors.Add(1)
			logger.Printf("ingest device=%s: %v", req.Sample.DeviceID, err)
			continue
		}
		if res.Decision.Accept {
			c.accepted.Add(1)
		}
	}
}

// readLines scans r line by line, calling fn for each, until r is exhausted
// or ctx is cancelled. Scanning runs in its own goroutine so that a blocked
// read does not delay cancellation.
func readLines(ctx context.Context, r io.Reader, fn func(string)) error {
	scan := bufio.NewScanner(r)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErrChan:
			return err
		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			fn(line)
		}
	}
}
