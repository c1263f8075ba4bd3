package service

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sle-predictor-server/internal/domain"
	"github.com/sle-predictor-server/pkg/fields"
)

// Model metadata reported on results and health checks.
const (
	DefaultModelVersion = "1.0.0"
	FeatureCount        = 196
)

// symptomFields are the binary symptom indicators counted by the heuristic.
var symptomFields = []string{"Fatigue", "Malar_Rash", "Arthritis", "Renal_Disorder", "Fever"}

// Model turns a validated record into the two risk probabilities. A trained model
// can replace HeuristicModel without touching validation, classification or reports.
type Model interface {
	Load(ctx context.Context) error
	Predict(ctx context.Context, rec *fields.ValidatedRecord) (domain.RiskScores, error)
	Version() string
}

// NoiseSource supplies the random terms of the heuristic.
type NoiseSource interface {
	// Perturbation returns a value in [-0.1, 0.1].
	Perturbation() float64
	// Jitter returns a value in [0, 0.3).
	Jitter() float64
}

// ZeroNoise is a NoiseSource that always returns zero.
type ZeroNoise struct{}

func (ZeroNoise) Perturbation() float64 { return 0 }
func (ZeroNoise) Jitter() float64       { return 0 }

// RandomNoise draws uniform noise from a seeded PCG generator. Safe for concurrent use.
type RandomNoise struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomNoise creates a RandomNoise. A zero seed selects a time-based seed.
func NewRandomNoise(seed uint64) *RandomNoise {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomNoise{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (n *RandomNoise) Perturbation() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return (n.rng.Float64() - 0.5) * 0.2
}

func (n *RandomNoise) Jitter() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rng.Float64() * 0.3
}

// HeuristicModel is the placeholder scoring model. Its output depends on the
// symptom count, ANA status, creatinine and age plus injected noise.
type HeuristicModel struct {
	noise     NoiseSource
	version   string
	loadDelay time.Duration
}

// NewHeuristicModel creates the placeholder model. A nil noise source means no noise.
func NewHeuristicModel(noise NoiseSource, version string, loadDelay time.Duration) *HeuristicModel {
	if noise == nil {
		noise = ZeroNoise{}
	}
	if version == "" {
		version = DefaultModelVersion
	}
	return &HeuristicModel{noise: noise, version: version, loadDelay: loadDelay}
}

// Load simulates fetching model weights.
func (m *HeuristicModel) Load(ctx context.Context) error {
	return sleep(ctx, m.loadDelay)
}

// Predict applies the heuristic. Inputs are assumed validated.
func (m *HeuristicModel) Predict(_ context.Context, rec *fields.ValidatedRecord) (domain.RiskScores, error) {
	base := BaseScore(rec.Values)
	perturbation := m.noise.Perturbation()

	return domain.RiskScores{
		SLEProbability:   clamp01(base + perturbation),
		FlareProbability: clamp01(0.7*base + m.noise.Jitter() + perturbation),
	}, nil
}

// Version returns the model version.
func (m *HeuristicModel) Version() string {
	return m.version
}

// BaseScore is the noise-free heuristic score, which may exceed 1.
func BaseScore(values map[string]float64) float64 {
	score := 0.1 + 0.15*float64(SymptomCount(values))
	if values["ANA_Positive"] == 1 {
		score += 0.3
	}
	if values["Creatinine"] > 1.5 {
		score += 0.2
	}
	if values["Age"] > 40 {
		score += 0.1
	}
	return score
}

// SymptomCount counts the symptom indicators set to 1.
func SymptomCount(values map[string]float64) int {
	n := 0
	for _, name := range symptomFields {
		if values[name] == 1 {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
