package admission

import "fmt"

// Reason explains an admission decision.
type Reason uint8

const (
	ReasonFirstFix Reason = iota
	ReasonValidUpdate
	ReasonStaleOrDuplicate
	ReasonStationaryNoChange
	ReasonInsufficientChange
	ReasonExcessiveSpeed
	ReasonJumpDetected
	ReasonExcessiveAcceleration
)

var reasonNames = [...]string{
	ReasonFirstFix:              "first_fix",
	ReasonValidUpdate:           "valid_update",
	ReasonStaleOrDuplicate:      "stale_or_duplicate",
	ReasonStationaryNoChange:    "stationary_no_change",
	ReasonInsufficientChange:    "insufficient_change",
	ReasonExcessiveSpeed:        "excessive_speed",
	ReasonJumpDetected:          "jump_detected",
	ReasonExcessiveAcceleration: "excessive_acceleration",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// MarshalText encodes the reason code by name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a reason name.
func (r *Reason) UnmarshalText(text []byte) error {
	for i, name := range reasonNames {
		if name == string(text) {
			*r = Reason(i)
			return nil
		}
	}
	return fmt.Errorf("unknown admission reason %q", text)
}

// Accepted reports whether r is an accepting reason.
func (r Reason) Accepted() bool {
	return r == ReasonFirstFix || r == ReasonValidUpdate
}

// IsAnomaly reports whether r flags a physically implausible fix that
// callers may treat as possible spoofing rather than sensor noise.
func (r Reason) IsAnomaly() bool {
	switch r {
	case ReasonExcessiveSpeed, ReasonJumpDetected, ReasonExcessiveAcceleration:
		return true
	}
	return false
}
