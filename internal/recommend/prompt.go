package recommend

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/entity"
	"github.com/joseph-ayodele/procedo/internal/llm"
)

// Prompt sizing.
const (
	MaxCaseTextChars         = 50000
	DefaultRuleLimit         = 10
	DefaultPrecedentGroups   = 5
	ParameterizedGroups      = 10
	DecisionsPerPrecedent    = 3
	caseDocumentMessageLabel = "CASE DOCUMENT:\n\n"
)

const outputFormatSection = `CRITICAL: OUTPUT FORMAT REQUIREMENTS
- You must use the "` + llm.AnalysisToolName + `" tool to submit your findings.
- Do not output plain text or markdown. Use the tool.

DOCUMENT VALIDATION:
1. If the document is not a valid arbitration/legal document, respond ONLY with:
{
  "error": "invalid_document",
  "message": "This does not appear to be a valid case document. Please upload an arbitration-related document."
}

2. NON-ICSID WARNING:
If the document is an arbitration document but NOT related to ICSID (International Centre for Settlement of Investment Disputes) or investment treaty arbitration (e.g. UNCITRAL investment cases), respond ONLY with:
{
  "warning": "non_icsid_document",
  "message": "This document appears to be from a non-ICSID proceeding. Procedo compliance checks are calibrated specifically for ICSID rules and may not apply here."
}
`

const outputSchemaSection = `OUTPUT SCHEMA:
The output structure is defined by the "` + llm.AnalysisToolName + `" tool. Use this tool to return your analysis.
`

// PrecedentSummary is how a precedent group is shown to the model.
type PrecedentSummary struct {
	Type      string    `json:"type"`
	Count     int       `json:"count"`
	Decisions []*string `json:"decisions"`
}

// SummarizePrecedents keeps the first limit groups and their first decisions.
func SummarizePrecedents(groups []PrecedentGroup, limit int) []PrecedentSummary {
	if len(groups) > limit {
		groups = groups[:limit]
	}
	out := make([]PrecedentSummary, 0, len(groups))
	for _, g := range groups {
		events := g.Events
		if len(events) > DecisionsPerPrecedent {
			events = events[:DecisionsPerPrecedent]
		}
		decisions := make([]*string, 0, len(events))
		for _, e := range events {
			decisions = append(decisions, e.Event.DecisionValue)
		}
		out = append(out, PrecedentSummary{Type: g.Type, Count: len(g.Events), Decisions: decisions})
	}
	return out
}

// BuildRecommendationPrompt is the default-mode prompt.
func BuildRecommendationPrompt(caseText string, c *Context) llm.Prompt {
	rules := c.Rules
	if len(rules) > DefaultRuleLimit {
		rules = rules[:DefaultRuleLimit]
	}

	var sb strings.Builder
	sb.WriteString("You are Procedo, an expert ICSID procedural advisor AI. Your role is to analyze case documents and provide ACTIONABLE PROCEDURAL RECOMMENDATIONS that arbitrators and parties can immediately use.\n\n")
	sb.WriteString(outputFormatSection)
	sb.WriteString(`
YOUR CORE MISSION:
As Procedo, you must provide CLEAR, ACTIONABLE recommendations that help:
1. Arbitrators make procedural decisions efficiently
2. Parties understand procedural requirements
3. Ensure ICSID Convention compliance
4. Optimize time and cost

`)
	section(&sb, "APPLICABLE RULES:", nonNilRules(rules))
	section(&sb, "HISTORICAL PRECEDENTS:", SummarizePrecedents(c.Precedents, DefaultPrecedentGroups))
	section(&sb, "TIMELINE BENCHMARKS:", c.Timelines)
	sb.WriteString(outputSchemaSection)

	return llm.Prompt{System: sb.String(), User: userMessage(caseText)}
}

// BuildParameterizedPrompt is the with_parameters prompt, scored against params.
func BuildParameterizedPrompt(caseText string, c *Context, params *Parameters) llm.Prompt {
	var sb strings.Builder
	sb.WriteString("You are an expert ICSID procedural advisor with access to Procedo's institutional parameters. Analyze the case document against these specific compliance requirements.\n\n")
	sb.WriteString(outputFormatSection)
	sb.WriteString(`
PROCEDO ANALYSIS FRAMEWORK:
You must analyze using TWO distinct categories of provisions:

`)
	section(&sb, "=== MANDATORY PROVISIONS (Compliance Check Only) ===\nFor these provisions, Procedo can ONLY monitor, flag, and verify compliance. Cannot suggest alternatives.", params.MandatoryProvisions)
	section(&sb, "=== OPTIMIZABLE PROVISIONS (AI Can Suggest Improvements) ===\nFor these provisions, Procedo can actively suggest optimizations and improvements.", params.OptimizableProvisions)
	section(&sb, "APPLICABLE INSTITUTIONAL RULES (ALL):", nonNilRules(c.Rules))
	section(&sb, "HISTORICAL PRECEDENTS:", SummarizePrecedents(c.Precedents, ParameterizedGroups))
	section(&sb, "TIMELINE BENCHMARKS:", c.Timelines)
	section(&sb, "COMPLIANCE SCORING:\nScore the document using these levels:", params.ComplianceScoring)
	sb.WriteString(outputSchemaSection)

	return llm.Prompt{System: sb.String(), User: userMessage(caseText)}
}

// BuildPrompt picks the prompt for mode.
func BuildPrompt(mode constants.AnalysisMode, caseText string, c *Context, params *Parameters) llm.Prompt {
	if mode == constants.ModeWithParameters {
		return BuildParameterizedPrompt(caseText, c, params)
	}
	return BuildRecommendationPrompt(caseText, c)
}

func userMessage(caseText string) string {
	return caseDocumentMessageLabel + llm.TruncateRunes(caseText, MaxCaseTextChars)
}

func section(sb *strings.Builder, heading string, v any) {
	sb.WriteString(heading)
	sb.WriteByte('\n')
	sb.WriteString(indentJSON(v))
	sb.WriteString("\n\n")
}

// indentJSON renders v with two-space indentation and without HTML escaping.
func indentJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return strings.TrimRight(buf.String(), "\n")
}

func nonNilRules(rules []*entity.InstitutionRule) []*entity.InstitutionRule {
	if rules == nil {
		return []*entity.InstitutionRule{}
	}
	return rules
}
