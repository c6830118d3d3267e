package types

// MarketCategory selects the receiving endpoint of the intake service
type MarketCategory string

const (
	MarketCategoryPostmarket MarketCategory = "postmarket"
	MarketCategoryPremarket  MarketCategory = "premarket"
)

// IsValid checks if the market category is valid
func (m MarketCategory) IsValid() bool {
	switch m {
	case MarketCategoryPostmarket, MarketCategoryPremarket:
		return true
	default:
		return false
	}
}

// Normalize treats empty as MarketCategoryPostmarket
func (m MarketCategory) Normalize() MarketCategory {
	if m == "" {
		return MarketCategoryPostmarket
	}
	return m
}

func (m MarketCategory) String() string {
	return string(m)
}
