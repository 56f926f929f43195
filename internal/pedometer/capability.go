package pedometer

// Capability names a boolean capability query of the method surface.
type Capability string

const (
	CapabilityStepCounting  Capability = "isStepCountingAvailable"
	CapabilityDistance      Capability = "isDistanceAvailable"
	CapabilityFloorCounting Capability = "isFloorCountingAvailable"
	CapabilityPace          Capability = "isPaceAvailable"
	CapabilityCadence       Capability = "isCadenceAvailable"
	CapabilityEventTracking Capability = "isPedometerEventTrackingAvailable"
)

// AllCapabilities lists every capability query.
var AllCapabilities = []Capability{
	CapabilityStepCounting,
	CapabilityDistance,
	CapabilityFloorCounting,
	CapabilityPace,
	CapabilityCadence,
	CapabilityEventTracking,
}

// CapabilityAdapter forwards capability queries to the platform flags.
type CapabilityAdapter struct {
	caps Capabilities
}

func NewCapabilityAdapter(caps Capabilities) *CapabilityAdapter {
	return &CapabilityAdapter{caps: caps}
}

// Lookup answers the query named by method. ok is false for names that are
// not capability queries.
func (a *CapabilityAdapter) Lookup(method string) (available, ok bool) {
	switch Capability(method) {
	case CapabilityStepCounting:
		return a.caps.StepCounting(), true
	case CapabilityDistance:
		return a.caps.Distance(), true
	case CapabilityFloorCounting:
		return a.caps.FloorCounting(), true
	case CapabilityPace:
		return a.caps.Pace(), true
	case CapabilityCadence:
		return a.caps.Cadence(), true
	case CapabilityEventTracking:
		return a.caps.EventTracking(), true
	default:
		return false, false
	}
}
