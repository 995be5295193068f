package pricing

import (
	"math"

	"mailsized/domain"
)

const (
	BytesMB = 1024 * 1024

	// Size tier ceilings; a size equal to a ceiling belongs to the lower tier.
	T1Max = 500 * BytesMB
	T2Max = 1024 * BytesMB

	TaxRate       = 0.10
	PriorityFee   = 0.75
	TranscriptFee = 1.50
)

// priceMatrix holds the base price per provider for tiers 1..3.
var priceMatrix = map[domain.Provider][3]float64{
	domain.ProviderGmail:   {1.99, 2.99, 4.49},
	domain.ProviderOutlook: {2.19, 3.29, 4.99},
	domain.ProviderOther:   {2.49, 3.99, 5.49},
}

// Tier maps a size to 1, 2 or 3. Before a job is registered the size is not
// authoritative, so the tier stays pinned to 1.
func Tier(sizeBytes int64, hasJobID bool) int {
	if !hasJobID {
		return 1
	}
	switch {
	case sizeBytes <= T1Max:
		return 1
	case sizeBytes <= T2Max:
		return 2
	default:
		return 3
	}
}

// ComputePrice is the single pricing function. Same inputs, same output.
// An empty provider prices as gmail, an unknown one as other.
func ComputePrice(provider domain.Provider, sizeBytes int64, hasJobID bool, addOns domain.AddOns) domain.PriceBreakdown {
	provider = normalizeProvider(provider)
	tier := Tier(sizeBytes, hasJobID)
	base := priceMatrix[provider][tier-1]

	var pri, tra float64
	if addOns.Priority {
		pri = PriorityFee
	}
	if addOns.Transcript {
		tra = TranscriptFee
	}

	subtotal := Round2(base + pri + tra)
	tax := Round2(subtotal * TaxRate)
	total := Round2(subtotal + tax)

	return domain.PriceBreakdown{
		Provider:        provider,
		Tier:            tier,
		Base:            base,
		PriorityFee:     pri,
		TranscriptFee:   tra,
		Subtotal:        subtotal,
		Tax:             tax,
		Total:           total,
		TotalMinorUnits: MinorUnits(total),
	}
}

// CompareProviders prices the same inputs for every provider.
func CompareProviders(sizeBytes int64, hasJobID bool, addOns domain.AddOns) []domain.PriceBreakdown {
	out := make([]domain.PriceBreakdown, 0, len(domain.Providers))
	for _, p := range domain.Providers {
		out = append(out, ComputePrice(p, sizeBytes, hasJobID, addOns))
	}
	return out
}

// Round2 rounds half away from zero to 2 decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// MinorUnits converts a currency amount to integer cents.
func MinorUnits(v float64) int64 {
	return int64(math.Round(v * 100))
}

func normalizeProvider(p domain.Provider) domain.Provider {
	if p == "" {
		return domain.ProviderGmail
	}
	if _, ok := priceMatrix[p]; !ok {
		return domain.ProviderOther
	}
	return p
}
