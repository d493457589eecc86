package domain

// CollabType is the closed classification of a collaboration by the
// portfolio/affiliate status of the two matched companies (§3).
type CollabType string

const (
	CollabTypeA CollabType = "A" // Portfolio x Affiliate
	CollabTypeB CollabType = "B" // NonPortfolio x Affiliate
	CollabTypeC CollabType = "C" // Portfolio x Portfolio
	CollabTypeD CollabType = "D" // Other
)

// Intensity is the closed classification of collaboration depth.
type Intensity string

const (
	IntensityAwareness   Intensity = "Awareness"
	IntensityCooperation Intensity = "Cooperation"
	IntensityInvestment  Intensity = "Investment"
	IntensityAcquisition Intensity = "Acquisition"
)

// ValidIntensities is the closed vocabulary an LLM intensity response must
// land in; anything else falls back to Cooperation at reduced confidence.
var ValidIntensities = map[Intensity]bool{
	IntensityAwareness:   true,
	IntensityCooperation: true,
	IntensityInvestment:  true,
	IntensityAcquisition: true,
}

// Classification is the deterministic collab-type plus the LLM-derived
// intensity, each with its own confidence.
type Classification struct {
	CollabType          CollabType
	Intensity           Intensity
	TypeConfidence      float64
	IntensityConfidence float64
}

// Summary is the 1-4 sentence, 50-400 character collaboration summary, in
// the same language as the source email.
type Summary struct {
	Text string
}

const (
	SummaryMinChars = 50
	SummaryMaxChars = 400
)
