package tracker

// feetPerMile converts miles to feet for the manual step calculation.
const feetPerMile = 5280

// ConversionMethod tags how a step count was derived.
type ConversionMethod string

const (
	// ConversionManual derives steps from distance and stride length.
	ConversionManual ConversionMethod = "manual"
	// ConversionAPI is reserved for a step count taken from the remote
	// service's created-activity response. No converter produces it yet.
	ConversionAPI ConversionMethod = "api"
)

// StepConverter turns a workout distance into a step count. It is the
// extension point for replacing the manual calculation with a count supplied
// by the remote service.
type StepConverter interface {
	DistanceToSteps(distanceMiles, strideFeet float64) (steps int, method ConversionMethod)
}

// ManualSteps computes floor(distance_in_feet / stride_length).
type ManualSteps struct{}

func (ManualSteps) DistanceToSteps(distanceMiles, strideFeet float64) (int, ConversionMethod) {
	if strideFeet <= 0 {
		return 0, ConversionManual
	}
	// Quotients that are exact in real arithmetic can land a hair below the
	// integer in floats (2.5 mi at a 2.2 ft stride is 5999.999...); nudge
	// before truncating.
	return int(distanceMiles*feetPerMile/strideFeet + 1e-9), ConversionManual
}
