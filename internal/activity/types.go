// Package activity labels what a device's user is doing from its recent
// accepted samples, using speed, acceleration statistics and optional step
// cadence. Rules are heuristic thresholds only.
package activity

// Type is the activity label.
type Type string

const (
	TypeStationary Type = "stationary"
	TypeWalking    Type = "walking"
	TypeRunning    Type = "running"
	TypeCycling    Type = "cycling"
	TypeDriving    Type = "driving"
	TypeUnknown    Type = "unknown"
)

// Types lists every label, in the order used for reporting.
var Types = []Type{TypeStationary, TypeWalking, TypeRunning, TypeCycling, TypeDriving, TypeUnknown}

// Variant refines a Type where the rules can tell sub-cases apart.
type Variant string

const (
	VariantNone       Variant = ""
	VariantHome       Variant = "home"       // stationary, poor fix quality over a long stay
	VariantBrisk      Variant = "brisk"      // walking at running speed without running cadence
	VariantCar        Variant = "car"        // driving with smooth speed changes
	VariantMotorcycle Variant = "motorcycle" // driving with elevated acceleration variance
)

// Confidence levels.
const (
	HighConfidence   = 0.90
	MediumConfidence = 0.75
	LowConfidence    = 0.50
)

// Classification is a derived label for one sample. It is never persisted on
// its own; routes embed it per point.
type Classification struct {
	Type       Type      `json:"type"`
	Variant    Variant   `json:"variant,omitempty"`
	Confidence float64   `json:"confidence"`
	SpeedKmh   float64   `json:"speed_kmh"`
	Model      string    `json:"model"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

// Metadata carries the features a classification was derived from.
type Metadata struct {
	Features Features `json:"features"`
	Cadence  *Cadence `json:"cadence,omitempty"`
}

func clampConfidence(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
