package models

// IntelligenceDomain is one of the six academic domains used for learning
// profiles.
type IntelligenceDomain string

const (
	DomainLinguistic          IntelligenceDomain = "LINGUISTIC"
	DomainLogicalMathematical IntelligenceDomain = "LOGICAL_MATHEMATICAL"
	DomainScientific          IntelligenceDomain = "SCIENTIFIC"
	DomainCreative            IntelligenceDomain = "CREATIVE"
	DomainSocial              IntelligenceDomain = "SOCIAL"
	DomainKinesthetic         IntelligenceDomain = "KINESTHETIC"
)

// IntelligenceDomains lists the taxonomy in its canonical order.
var IntelligenceDomains = []IntelligenceDomain{
	DomainLinguistic,
	DomainLogicalMathematical,
	DomainScientific,
	DomainCreative,
	DomainSocial,
	DomainKinesthetic,
}

// Valid reports whether d belongs to the taxonomy.
func (d IntelligenceDomain) Valid() bool {
	for _, known := range IntelligenceDomains {
		if d == known {
			return true
		}
	}
	return false
}

// IntelligenceScore is the averaged result for one domain.
type IntelligenceScore struct {
	Domain IntelligenceDomain `json:"domain"`
	Score  int                `json:"score"`
	Count  int                `json:"count"`
}
