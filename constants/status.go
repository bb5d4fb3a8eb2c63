package constants

// CaseStatus is the canonical status for rows in cases.
type CaseStatus string

// Stable values (store these exact strings in DB).
const (
	CaseStatusPending    CaseStatus = "pending"    // queued for analysis
	CaseStatusProcessing CaseStatus = "processing" // worker picked it up
	CaseStatusAnalyzed   CaseStatus = "analyzed"   // recommendations stored
	CaseStatusError      CaseStatus = "error"      // terminal failure, see error_message
)

// IsTerminal reports whether pollers can stop polling.
func (s CaseStatus) IsTerminal() bool {
	return s == CaseStatusAnalyzed || s == CaseStatusError
}

// AnalysisMode selects the prompt and the column the report is written to.
type AnalysisMode string

const (
	ModeDefault        AnalysisMode = "default"
	ModeWithParameters AnalysisMode = "with_parameters"
)

// ParseMode maps user input to a mode; empty input means ModeDefault.
func ParseMode(s string) (AnalysisMode, bool) {
	switch AnalysisMode(s) {
	case "", ModeDefault:
		return ModeDefault, true
	case ModeWithParameters:
		return ModeWithParameters, true
	}
	return "", false
}

// Analysis steps as shown to pollers, with the progress reached when the step starts.
const (
	StepQueued     = "Queued"
	StepExtracting = "Extracting text"
	StepContext    = "Loading organization context"
	StepGenerating = "Generating recommendations"
	StepSaving     = "Saving results"
	StepComplete   = "Complete"
	StepFailed     = "Failed"

	ProgressExtracting    = 10
	ProgressContext       = 25
	ProgressGenerating    = 35
	ProgressGeneratingMax = 90
	ProgressSaving        = 95
	ProgressComplete      = 100
)
