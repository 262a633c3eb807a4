// Package units provides speed unit constants and conversions shared by the
// pipeline and its API surface.
package units

const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
	KNOT = "knot"
)

const (
	mpsPerKnot = 0.514444
	mphPerMps  = 2.2369362920544
)

// ValidUnits contains all valid unit values.
var ValidUnits = []string{MPS, MPH, KMPH, KPH, KNOT}

// IsValid reports whether unit is one of ValidUnits.
func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// KmhToMps converts km/h to m/s.
func KmhToMps(kmh float64) float64 { return kmh / 3.6 }

// MpsToKmh converts m/s to km/h.
func MpsToKmh(mps float64) float64 { return mps * 3.6 }

// KnotsToMps converts knots (NMEA speed over ground) to m/s.
func KnotsToMps(knots float64) float64 { return knots * mpsPerKnot }

// ConvertSpeed converts a speed in m/s to the target units. Unknown units
// return the input unchanged.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * mphPerMps
	case KMPH, KPH:
		return MpsToKmh(speedMPS)
	case KNOT:
		return speedMPS / mpsPerKnot
	default:
		return speedMPS
	}
}
