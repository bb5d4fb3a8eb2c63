package recommend

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
)

//go:embed procedo-parameters.json
var parametersJSON []byte

// MandatoryProvision can only be monitored and flagged, never optimized.
type MandatoryProvision struct {
	Ref           string `json:"ref"`
	Name          string `json:"name"`
	Requirement   string `json:"requirement"`
	AnnulmentRisk bool   `json:"annulment_risk"`
	Monitoring    string `json:"monitoring"`
}

// OptimizableProvision is a provision the model may suggest improvements for.
type OptimizableProvision struct {
	Ref                string   `json:"ref"`
	Name               string   `json:"name"`
	DefaultApproach    string   `json:"default_approach"`
	OptimizationLevers []string `json:"optimization_levers"`
	AIRole             string   `json:"ai_role"`
}

type ScoringLevel struct {
	Level       string `json:"level"`
	MinScore    int    `json:"min_score"`
	Description string `json:"description"`
}

type ComplianceScoring struct {
	Levels []ScoringLevel `json:"levels"`
	Method string         `json:"method"`
}

// Parameters is the institutional parameter set used by with_parameters analysis.
type Parameters struct {
	Version               string                 `json:"version"`
	Institution           string                 `json:"institution"`
	MandatoryProvisions   []MandatoryProvision   `json:"mandatory_provisions"`
	OptimizableProvisions []OptimizableProvision `json:"optimizable_provisions"`
	ComplianceScoring     ComplianceScoring      `json:"compliance_scoring"`
}

// LevelFor returns the highest scoring level whose threshold the score reaches.
func (p *Parameters) LevelFor(score float64) string {
	best := ""
	bestMin := -1
	for _, l := range p.ComplianceScoring.Levels {
		if score >= float64(l.MinScore) && l.MinScore > bestMin {
			best, bestMin = l.Level, l.MinScore
		}
	}
	return best
}

var (
	defaultParams     *Parameters
	defaultParamsErr  error
	defaultParamsOnce sync.Once
)

// DefaultParameters returns the embedded parameter set.
func DefaultParameters() (*Parameters, error) {
	defaultParamsOnce.Do(func() {
		defaultParams, defaultParamsErr = ParseParameters(parametersJSON)
	})
	return defaultParams, defaultParamsErr
}

// ParseParameters decodes a parameter set and checks it is usable.
func ParseParameters(data []byte) (*Parameters, error) {
	var p Parameters
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse parameters: %w", err)
	}
	if len(p.MandatoryProvisions) == 0 || len(p.ComplianceScoring.Levels) == 0 {
		return nil, fmt.Errorf("parse parameters: missing provisions or scoring levels")
	}
	return &p, nil
}
