package feed

import (
	"errors"
	"fmt"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/banshee-data/trajectory.report/internal/trajectory"
	"github.com/banshee-data/trajectory.report/internal/units"
)

var (
	ErrChecksum  = errors.New("nmea: bad checksum")
	ErrMalformed = errors.New("nmea: malformed sentence")
	ErrNoFix     = errors.New("nmea: receiver has no fix")
)

// hdopUERE converts HDOP to an approximate horizontal accuracy in metres.
const hdopUERE = 5.0

// RMC field positions, address excluded.
const (
	rmcStatusField = 1
	rmcSpeedField  = 6
	rmcCourseField = 7
)

type ggaFix struct {
	clock     nmea.Time
	altitudeM float64
	hdop      float64
}

// NMEAParser turns RMC sentences into samples for one device. GGA sentences
// carrying the same time of day contribute altitude and an accuracy
// estimate to the following RMC. Other sentence types are ignored.
type NMEAParser struct {
	DeviceID string
	gga      *ggaFix
}

func NewNMEAParser(deviceID string) *NMEAParser {
	return &NMEAParser{DeviceID: deviceID}
}

// Parse parses one sentence. It returns a nil sample and nil error for
// sentences that do not produce a fix on their own.
func (p *NMEAParser) Parse(line string) (*trajectory.Sample, error) {
	line = strings.TrimSpace(line)
	sentence, err := nmea.Parse(line)
	if err != nil {
		return nil, classifyNMEAError(line, err)
	}
	switch m := sentence.(type) {
	case nmea.RMC:
		return p.fromRMC(m)
	case nmea.GGA:
		p.gga = nil
		if m.FixQuality != "" && m.FixQuality != nmea.Invalid {
			p.gga = &ggaFix{clock: m.Time, altitudeM: m.Altitude, hdop: m.HDOP}
		}
	}
	return nil, nil
}

// classifyNMEAError maps go-nmea errors onto this package's sentinels.
// Sentence types the library does not know are not errors here.
func classifyNMEAError(line string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "checksum mismatch"):
		return fmt.Errorf("%w: %v", ErrChecksum, err)
	case strings.Contains(msg, "not supported"):
		return nil
	case voidRMC(line):
		// Receivers without a fix leave the position fields empty.
		return ErrNoFix
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func voidRMC(line string) bool {
	fields := strings.Split(line, ",")
	return len(fields) > rmcStatusField+1 &&
		strings.HasSuffix(fields[0], "RMC") &&
		fields[rmcStatusField+1] == nmea.InvalidRMC
}

func (p *NMEAParser) fromRMC(m nmea.RMC) (*trajectory.Sample, error) {
	gga := p.gga
	p.gga = nil
	if m.Validity != nmea.ValidRMC {
		return nil, ErrNoFix
	}
	ts, err := fixTime(m.Date, m.Time)
	if err != nil {
		return nil, err
	}

	s := &trajectory.Sample{
		DeviceID:    p.DeviceID,
		TimestampMs: ts.UnixMilli(),
		Latitude:    m.Latitude,
		Longitude:   m.Longitude,
	}
	// Empty speed and course fields decode as zero; keep them unset instead.
	if fieldSet(m.Fields, rmcSpeedField) {
		s.SpeedMps = trajectory.Float(units.KnotsToMps(m.Speed))
	}
	if fieldSet(m.Fields, rmcCourseField) {
		s.HeadingDeg = trajectory.Float(m.Course)
	}
	if gga != nil && gga.clock == m.Time {
		s.AltitudeM = trajectory.Float(gga.altitudeM)
		if gga.hdop > 0 {
			s.AccuracyM = trajectory.Float(gga.hdop * hdopUERE)
		}
	}
	return s, nil
}

func fieldSet(fields []string, i int) bool {
	return i < len(fields) && fields[i] != ""
}

// fixTime combines an RMC date and time of day into a UTC time. Two digit
// years 69 through 99 are 19xx, the rest 20xx.
func fixTime(d nmea.Date, t nmea.Time) (time.Time, error) {
	if !d.Valid || !t.Valid {
		return time.Time{}, fmt.Errorf("%w: missing date or time", ErrMalformed)
	}
	year := 2000 + d.YY
	if d.YY >= 69 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second,
		t.Millisecond*int(time.Millisecond), time.UTC), nil
}
