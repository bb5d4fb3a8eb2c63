package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/procedo/constants"
)

// Case is an uploaded case document and the state of its analysis.
type Case struct {
	ID                           uuid.UUID       `json:"id"`
	OrgID                        string          `json:"org_id"`
	UserID                       string          `json:"user_id"`
	CaseTitle                    string          `json:"case_title"`
	FileName                     string          `json:"file_name"`
	FileSize                     int64           `json:"file_size"`
	FileURL                      string          `json:"file_url"`
	Status                       string          `json:"status"`
	AnalysisMode                 string          `json:"analysis_mode"`
	AnalysisProgress             int             `json:"analysis_progress"`
	CurrentStep                  string          `json:"current_step"`
	DefaultRecommendations       json.RawMessage `json:"default_recommendations"`
	ParameterizedRecommendations json.RawMessage `json:"parameterized_recommendations"`
	ErrorMessage                 *string         `json:"error_message"`
	CreatedAt                    time.Time       `json:"created_at"`
	UpdatedAt                    time.Time       `json:"updated_at"`
	AnalyzedAt                   *time.Time      `json:"analyzed_at"`
	ParameterizedAnalyzedAt      *time.Time      `json:"parameterized_analyzed_at"`
}

// CaseStatus is the projection served to pollers.
type CaseStatus struct {
	ID                           uuid.UUID       `json:"id"`
	Status                       string          `json:"status"`
	AnalysisProgress             int             `json:"analysisProgress"`
	CurrentStep                  string          `json:"currentStep"`
	DefaultRecommendations       json.RawMessage `json:"defaultRecommendations"`
	ParameterizedRecommendations json.RawMessage `json:"parameterizedRecommendations"`
	ErrorMessage                 *string         `json:"errorMessage"`
	AnalyzedAt                   *time.Time      `json:"analyzedAt"`
	ParameterizedAnalyzedAt      *time.Time      `json:"parameterizedAnalyzedAt"`
	// Done tells pollers to stop.
	Done bool `json:"done"`
}

// StatusView projects a case onto the poll response.
func (c *Case) StatusView() CaseStatus {
	return CaseStatus{
		ID:                           c.ID,
		Status:                       c.Status,
		AnalysisProgress:             c.AnalysisProgress,
		CurrentStep:                  c.CurrentStep,
		DefaultRecommendations:       nullIfEmpty(c.DefaultRecommendations),
		ParameterizedRecommendations: nullIfEmpty(c.ParameterizedRecommendations),
		ErrorMessage:                 c.ErrorMessage,
		AnalyzedAt:                   c.AnalyzedAt,
		ParameterizedAnalyzedAt:      c.ParameterizedAnalyzedAt,
		Done:                         constants.CaseStatus(c.Status).IsTerminal(),
	}
}

func nullIfEmpty(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return b
}
