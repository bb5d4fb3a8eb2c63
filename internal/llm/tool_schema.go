package llm

// AnalysisToolName is the tool the model is forced to call with its report.
const (
	AnalysisToolName        = "submit_analysis_report"
	AnalysisToolDescription = "Submit the final procedural analysis report for the case document."
)

// Document validation codes the model may return instead of a full report.
const (
	ErrorInvalidDocument    = "invalid_document"
	WarningNonICSIDDocument = "non_icsid_document"
)

// AnalysisToolRequired lists the fields every report must carry.
var AnalysisToolRequired = []string{"case_summary", "document_type"}

// AnalysisToolProperties returns the JSON-Schema properties of the report tool.
func AnalysisToolProperties() map[string]any {
	return map[string]any{
		"case_summary":  str("Brief 2-3 sentence summary of the case"),
		"document_type": str("Procedural Order | Memorial | Submission | Award | Other"),
		"warning":       enumStr("Warning code if applicable", WarningNonICSIDDocument),
		"error":         enumStr("Error code if applicable", ErrorInvalidDocument),
		"message":       str("Error or warning message"),

		"procedo_recommends": object(map[string]any{
			"primary_recommendations": arrayOf(object(map[string]any{
				"title":          str(""),
				"recommendation": str(""),
				"rationale":      str(""),
				"priority":       enumStr("", "high", "medium", "low"),
				"rule_reference": str(""),
			})),
			"procedural_checklist": arrayOf(object(map[string]any{
				"item":              str(""),
				"status":            str(""),
				"deadline_guidance": str(""),
			})),
		}),

		"recommendations": object(map[string]any{
			"language": object(map[string]any{
				"recommendation": str(""),
				"reasoning":      str(""),
				"rule_ref":       str(""),
				"confidence":     str(""),
			}),
			"timeline": object(map[string]any{
				"phases": arrayOf(object(map[string]any{
					"name":           str(""),
					"suggested_days": num(),
					"reasoning":      str(""),
					"benchmark":      str(""),
				})),
				"rule_ref": str(""),
			}),
			"bifurcation": object(map[string]any{
				"recommendation":     str(""),
				"reasoning":          str(""),
				"historical_context": str(""),
				"rule_ref":           str(""),
				"discretionary":      boolean(),
			}),
			"hearing_format": object(map[string]any{
				"recommendation": str(""),
				"reasoning":      str(""),
				"rule_ref":       str(""),
			}),
			"efficiency_suggestions": arrayOf(object(map[string]any{
				"type":              str(""),
				"suggestion":        str(""),
				"rationale":         str(""),
				"potential_impact":  str(""),
				"estimated_savings": str(""),
			})),
			"mandatory_flags": arrayOf(flagSchema()),
		}),

		"compliance_score": object(map[string]any{
			"overall":          str(""),
			"score_percentage": num(),
			"summary":          str(""),
		}),
		"mandatory_compliance": arrayOf(object(map[string]any{
			"provision_ref":   str(""),
			"provision_name":  str(""),
			"status":          str(""),
			"finding":         str(""),
			"action_required": str(""),
			"annulment_risk":  boolean(),
		})),
		"optimization_opportunities": arrayOf(object(map[string]any{
			"provision_ref":          str(""),
			"provision_name":         str(""),
			"current_approach":       str(""),
			"suggested_optimization": str(""),
			"potential_impact":       str(""),
			"estimated_savings":      str(""),
			"ai_role":                str(""),
		})),
		"critical_flags": arrayOf(flagSchema()),
	}
}

// AnalysisToolSchema returns the complete input schema of the report tool.
func AnalysisToolSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": AnalysisToolProperties(),
		"required":   AnalysisToolRequired,
	}
}

// reportEnvelopeSchema checks only the top-level scalars. Nested sections are free-form
// enough that a strict check would reject otherwise usable reports.
func reportEnvelopeSchema() map[string]any {
	all := AnalysisToolProperties()
	props := map[string]any{}
	for _, k := range []string{"case_summary", "document_type", "warning", "error", "message"} {
		props[k] = all[k]
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   AnalysisToolRequired,
	}
}

func flagSchema() map[string]any {
	return object(map[string]any{
		"issue":            str(""),
		"severity":         str(""),
		"rule_ref":         str(""),
		"annulment_risk":   boolean(),
		"immediate_action": str(""),
	})
}

func str(desc string) map[string]any {
	m := map[string]any{"type": "string"}
	if desc != "" {
		m["description"] = desc
	}
	return m
}

func enumStr(desc string, values ...string) map[string]any {
	m := str(desc)
	m["enum"] = values
	return m
}

func num() map[string]any     { return map[string]any{"type": "number"} }
func boolean() map[string]any { return map[string]any{"type": "boolean"} }

func object(props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props}
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}
