package service

import (
	"github.com/shopspring/decimal"

	"github.com/sle-predictor-server/internal/domain"
)

var (
	moderateThreshold = decimal.NewFromFloat(domain.ModerateRiskThreshold)
	highThreshold     = decimal.NewFromFloat(domain.HighRiskThreshold)
	sleThreshold      = decimal.NewFromFloat(domain.SLEDiagnosisThreshold)
	flareThreshold    = decimal.NewFromFloat(domain.FlareRiskThreshold)
)

// Classify maps a probability to its risk tier. The comparison is done on the
// shortest decimal form of p, so 0.4 and 0.7 land on Moderate and High exactly.
func Classify(p float64) domain.RiskTier {
	d := decimal.NewFromFloat(p)
	switch {
	case d.GreaterThanOrEqual(highThreshold):
		return domain.RiskHigh
	case d.GreaterThanOrEqual(moderateThreshold):
		return domain.RiskModerate
	default:
		return domain.RiskLow
	}
}

// DiagnosisCall returns 1 when the SLE probability is strictly above 0.5.
func DiagnosisCall(p float64) int {
	if decimal.NewFromFloat(p).GreaterThan(sleThreshold) {
		return 1
	}
	return 0
}

// FlareCall returns 1 when the flare probability is strictly above 0.4.
func FlareCall(p float64) int {
	if decimal.NewFromFloat(p).GreaterThan(flareThreshold) {
		return 1
	}
	return 0
}

var treatmentPlans = map[domain.RiskTier]domain.TreatmentPlan{
	domain.RiskHigh: {
		Level:   "High Risk - Immediate Intervention Required",
		Tier:    domain.RiskHigh,
		Urgency: domain.UrgencyHigh,
		Steps: []string{
			"Corticosteroids (Prednisone 10-40mg daily)",
			"Immunosuppressive therapy (Methotrexate/Azathioprine)",
			"Antimalarial drugs (Hydroxychloroquine 200-400mg daily)",
			"Regular specialist monitoring (monthly visits)",
			"Lifestyle modifications and stress management",
		},
	},
	domain.RiskModerate: {
		Level:   "Moderate Risk - Active Monitoring Protocol",
		Tier:    domain.RiskModerate,
		Urgency: domain.UrgencyMedium,
		Steps: []string{
			"Antimalarial drugs (Hydroxychloroquine 200mg daily)",
			"Low-dose corticosteroids if symptoms worsen",
			"NSAIDs for joint symptoms (as needed)",
			"Regular monitoring (bi-monthly specialist visits)",
			"Lifestyle counseling and sun protection measures",
		},
	},
	domain.RiskLow: {
		Level:   "Low Risk - Preventive Care Approach",
		Tier:    domain.RiskLow,
		Urgency: domain.UrgencyLow,
		Steps: []string{
			"Regular health checkups (quarterly visits)",
			"Lifestyle modifications and regular exercise",
			"Sun protection and stress management techniques",
			"Monitoring for early symptom development",
			"Patient education and support group referrals",
		},
	},
}

// RecommendTreatment selects the protocol for the larger of the two probabilities.
// The returned plan owns its Steps slice.
func RecommendTreatment(sle, flare float64) domain.TreatmentPlan {
	overall := sle
	if flare > overall {
		overall = flare
	}
	plan := treatmentPlans[Classify(overall)]
	plan.Steps = append([]string(nil), plan.Steps...)
	return plan
}

// ClinicalConsiderations lists the considerations attached to every report.
func ClinicalConsiderations() []string {
	return []string{
		"Correlation with clinical findings and additional laboratory tests is essential",
		"Consider rheumatologist consultation for definitive diagnosis confirmation",
		"Monitor for drug interactions and adverse effects during treatment",
		"Regular assessment of disease activity using validated scoring systems",
		"Coordinate care with other specialists as needed (nephrology, cardiology)",
	}
}
