package llm

// Report is the input of the submit_analysis_report tool.
type Report struct {
	CaseSummary  string `json:"case_summary"`
	DocumentType string `json:"document_type"`
	Warning      string `json:"warning,omitempty"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`

	ProcedoRecommends *ProcedoRecommends `json:"procedo_recommends,omitempty"`
	Recommendations   *Recommendations   `json:"recommendations,omitempty"`

	ComplianceScore           *ComplianceScore          `json:"compliance_score,omitempty"`
	MandatoryCompliance       []MandatoryCompliance     `json:"mandatory_compliance,omitempty"`
	OptimizationOpportunities []OptimizationOpportunity `json:"optimization_opportunities,omitempty"`
	CriticalFlags             []Flag                    `json:"critical_flags,omitempty"`
}

type ProcedoRecommends struct {
	PrimaryRecommendations []PrimaryRecommendation `json:"primary_recommendations,omitempty"`
	ProceduralChecklist    []ChecklistItem         `json:"procedural_checklist,omitempty"`
}

type PrimaryRecommendation struct {
	Title          string `json:"title,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	Rationale      string `json:"rationale,omitempty"`
	Priority       string `json:"priority,omitempty"`
	RuleReference  string `json:"rule_reference,omitempty"`
}

type ChecklistItem struct {
	Item             string `json:"item,omitempty"`
	Status           string `json:"status,omitempty"`
	DeadlineGuidance string `json:"deadline_guidance,omitempty"`
}

type Recommendations struct {
	Language              *LanguageRecommendation      `json:"language,omitempty"`
	Timeline              *TimelineRecommendation      `json:"timeline,omitempty"`
	Bifurcation           *BifurcationRecommendation   `json:"bifurcation,omitempty"`
	HearingFormat         *HearingFormatRecommendation `json:"hearing_format,omitempty"`
	EfficiencySuggestions []EfficiencySuggestion       `json:"efficiency_suggestions,omitempty"`
	MandatoryFlags        []Flag                       `json:"mandatory_flags,omitempty"`
}

type LanguageRecommendation struct {
	Recommendation string `json:"recommendation,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
	RuleRef        string `json:"rule_ref,omitempty"`
	Confidence     string `json:"confidence,omitempty"`
}

type TimelineRecommendation struct {
	Phases  []TimelinePhase `json:"phases,omitempty"`
	RuleRef string          `json:"rule_ref,omitempty"`
}

type TimelinePhase struct {
	Name          string  `json:"name,omitempty"`
	SuggestedDays float64 `json:"suggested_days,omitempty"`
	Reasoning     string  `json:"reasoning,omitempty"`
	Benchmark     string  `json:"benchmark,omitempty"`
}

type BifurcationRecommendation struct {
	Recommendation    string `json:"recommendation,omitempty"`
	Reasoning         string `json:"reasoning,omitempty"`
	HistoricalContext string `json:"historical_context,omitempty"`
	RuleRef           string `json:"rule_ref,omitempty"`
	Discretionary     bool   `json:"discretionary,omitempty"`
}

type HearingFormatRecommendation struct {
	Recommendation string `json:"recommendation,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
	RuleRef        string `json:"rule_ref,omitempty"`
}

type EfficiencySuggestion struct {
	Type             string `json:"type,omitempty"`
	Suggestion       string `json:"suggestion,omitempty"`
	Rationale        string `json:"rationale,omitempty"`
	PotentialImpact  string `json:"potential_impact,omitempty"`
	EstimatedSavings string `json:"estimated_savings,omitempty"`
}

// Flag is a mandatory or critical compliance issue.
type Flag struct {
	Issue           string `json:"issue,omitempty"`
	Severity        string `json:"severity,omitempty"`
	RuleRef         string `json:"rule_ref,omitempty"`
	AnnulmentRisk   bool   `json:"annulment_risk,omitempty"`
	ImmediateAction string `json:"immediate_action,omitempty"`
}

type ComplianceScore struct {
	Overall         string  `json:"overall,omitempty"`
	ScorePercentage float64 `json:"score_percentage,omitempty"`
	Summary         string  `json:"summary,omitempty"`
}

type MandatoryCompliance struct {
	ProvisionRef   string `json:"provision_ref,omitempty"`
	ProvisionName  string `json:"provision_name,omitempty"`
	Status         string `json:"status,omitempty"`
	Finding        string `json:"finding,omitempty"`
	ActionRequired string `json:"action_required,omitempty"`
	AnnulmentRisk  bool   `json:"annulment_risk,omitempty"`
}

type OptimizationOpportunity struct {
	ProvisionRef          string `json:"provision_ref,omitempty"`
	ProvisionName         string `json:"provision_name,omitempty"`
	CurrentApproach       string `json:"current_approach,omitempty"`
	SuggestedOptimization string `json:"suggested_optimization,omitempty"`
	PotentialImpact       string `json:"potential_impact,omitempty"`
	EstimatedSavings      string `json:"estimated_savings,omitempty"`
	AIRole                string `json:"ai_role,omitempty"`
}
