package report

import "strings"

// RateCard resolves unit prices for prefixed metrics such as
// "nova-total_vcpus_usage".
type RateCard struct {
	rates map[string]float64
}

// NewRateCard builds a lookup map with normalized keys. Negative prices are dropped.
func NewRateCard(rates map[string]float64) *RateCard {
	rc := &RateCard{rates: map[string]float64{}}
	for k, v := range rates {
		if k == "" || v < 0 {
			continue
		}
		rc.rates[strings.ToLower(k)] = v
	}
	return rc
}

// Rate returns the unit price of the metric and whether one is configured.
func (rc *RateCard) Rate(metric string) (float64, bool) {
	if rc == nil {
		return 0, false
	}
	price, ok := rc.rates[strings.ToLower(metric)]
	return price, ok
}

// Estimate prices every metric that has a rate.
func (rc *RateCard) Estimate(metrics map[string]float64) float64 {
	if rc == nil {
		return 0
	}
	var total float64
	for name, value := range metrics {
		if price, ok := rc.Rate(name); ok {
			total += price * value
		}
	}
	return total
}

func (rc *RateCard) Len() int {
	if rc == nil {
		return 0
	}
	return len(rc.rates)
}
