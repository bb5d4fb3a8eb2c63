package constants

import (
	"strings"
)

type EventType string

const (
	Bifurcation        EventType = "Bifurcation"
	SecurityForCosts   EventType = "Security for Costs"
	DocumentProduction EventType = "Document Production"
	ProvisionalMeasure EventType = "Provisional Measures"
	ProceduralCalendar EventType = "Procedural Calendar"
	HearingFormat      EventType = "Hearing Format"
	LanguageOfProc     EventType = "Language of Proceeding"
	Confidentiality    EventType = "Confidentiality"
	NonDisputingParty  EventType = "Non-Disputing Party Submission"
	Costs              EventType = "Costs"
	OtherEvent         EventType = "Other"
)

var allEventTypes = []EventType{
	Bifurcation,
	SecurityForCosts,
	DocumentProduction,
	ProvisionalMeasure,
	ProceduralCalendar,
	HearingFormat,
	LanguageOfProc,
	Confidentiality,
	NonDisputingParty,
	Costs,
	OtherEvent,
}

func EventTypes() []string {
	result := make([]string, len(allEventTypes))
	for i, t := range allEventTypes {
		result[i] = string(t)
	}
	return result
}

// CanonicalizeEvent maps a model-produced event label onto a known type.
// Unknown labels are returned trimmed with ok=false so they still group by their own name.
func CanonicalizeEvent(input string) (string, bool) {
	label := strings.TrimSpace(input)
	if label == "" {
		return string(OtherEvent), false
	}

	normalized := strings.ToLower(label)

	synonyms := map[string]EventType{
		"bifurcation request":     Bifurcation,
		"request for bifurcation": Bifurcation,
		"security for cost":       SecurityForCosts,
		"document disclosure":     DocumentProduction,
		"redfern schedule":        DocumentProduction,
		"production of documents": DocumentProduction,
		"interim measures":        ProvisionalMeasure,
		"provisional measure":     ProvisionalMeasure,
		"procedural timetable":    ProceduralCalendar,
		"timetable":               ProceduralCalendar,
		"schedule":                ProceduralCalendar,
		"hearing":                 HearingFormat,
		"virtual hearing":         HearingFormat,
		"language":                LanguageOfProc,
		"procedural language":     LanguageOfProc,
		"transparency":            Confidentiality,
		"amicus curiae":           NonDisputingParty,
		"amicus submission":       NonDisputingParty,
		"non-disputing party":     NonDisputingParty,
		"allocation of costs":     Costs,
		"advance on costs":        Costs,
	}
	if t, ok := synonyms[normalized]; ok {
		return string(t), true
	}

	for _, t := range allEventTypes {
		if normalized == strings.ToLower(string(t)) {
			return string(t), true
		}
	}

	return label, false
}
