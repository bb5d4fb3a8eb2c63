package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/joseph-ayodele/procedo/constants"
)

// MaxOrderTextChars is how much of a historical order is sent to the model.
const MaxOrderTextChars = 100000

const orderExtractionSystemPrompt = `You are an expert legal assistant specializing in International Arbitration procedural orders.
Your task is to extract structured data from a Procedural Order (PO) text.

Output strictly valid JSON obeying the following schema mapping:

{
  "order_meta": {
    "number": "string (e.g., 'Procedural Order No. 1')",
    "date": "YYYY-MM-DD",
    "rules_context": ["string (e.g., 'ICSID Arbitration Rules 2022')"]
  },
  "events": [
    {
      "type": "string (e.g., 'Bifurcation', 'Security for Costs', 'Document Production')",
      "decision": "string (e.g., 'Granted', 'Denied', 'Deferred', 'Rules Established')",
      "discretionary": boolean,
      "rule_ref": "string (e.g., 'Rule 42(1)')"
    }
  ],
  "timelines": [
    {
      "phase": "string (e.g., 'Memorial on the Merits')",
      "party": "string (e.g., 'Claimant', 'Respondent', 'Tribunal')",
      "days": number (total days allowed or relative offset),
      "relative_to": "string (e.g., 'First Session', 'Counter-Memorial')"
    }
  ]
}

If you cannot find specific data, omit the field or use null. Do not hallucinate.`

// BuildOrderExtractionPrompt builds the prompt for one historical procedural order.
func BuildOrderExtractionPrompt(text string) Prompt {
	return Prompt{
		System: orderExtractionSystemPrompt,
		User:   "Here is the text of a Procedural Order. Extract the data as JSON:\n\n" + TruncateRunes(text, MaxOrderTextChars),
	}
}

// ExtractedOrder is the normalized extraction of a historical procedural order.
type ExtractedOrder struct {
	OrderMeta OrderMeta           `json:"order_meta"`
	Events    []ExtractedEvent    `json:"events" validate:"dive"`
	Timelines []ExtractedTimeline `json:"timelines" validate:"dive"`
	// Raw is the repaired model output, stored with the order.
	Raw json.RawMessage `json:"-"`
	// Dropped counts events and timelines discarded during normalization.
	Dropped int `json:"-"`
}

type OrderMeta struct {
	Number       string     `json:"number" validate:"max=500"`
	Date         *time.Time `json:"date"`
	RulesContext []string   `json:"rules_context" validate:"dive,max=500"`
}

type ExtractedEvent struct {
	Type          string          `json:"type" validate:"required,max=200"`
	Decision      *string         `json:"decision"`
	Discretionary bool            `json:"discretionary"`
	RuleRef       *string         `json:"rule_ref"`
	Raw           json.RawMessage `json:"-"`
}

type ExtractedTimeline struct {
	Phase      string  `json:"phase" validate:"required,max=200"`
	Party      *string `json:"party"`
	Days       int     `json:"days" validate:"gte=-36500,lte=36500"`
	RelativeTo *string `json:"relative_to"`
}

var orderValidate = validator.New()

// ParseExtractedOrder repairs the model output, normalizes it leniently and validates it.
func ParseExtractedOrder(raw string) (*ExtractedOrder, error) {
	fixed, _, err := RepairJSON(raw)
	if err != nil {
		return nil, err
	}

	var doc struct {
		OrderMeta map[string]any   `json:"order_meta"`
		Events    []map[string]any `json:"events"`
		Timelines []map[string]any `json:"timelines"`
	}
	if err := json.Unmarshal([]byte(fixed), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrepairable, err)
	}

	out := &ExtractedOrder{Raw: json.RawMessage(fixed)}
	out.OrderMeta.Number = text(doc.OrderMeta["number"])
	out.OrderMeta.Date = parseDate(text(doc.OrderMeta["date"]))
	out.OrderMeta.RulesContext = stringList(doc.OrderMeta["rules_context"])

	for _, e := range doc.Events {
		typ := text(e["type"])
		if typ == "" {
			out.Dropped++
			continue
		}
		if canon, ok := constants.CanonicalizeEvent(typ); ok {
			typ = canon
		}
		rawEvent, _ := json.Marshal(e)
		out.Events = append(out.Events, ExtractedEvent{
			Type:          typ,
			Decision:      optText(e["decision"]),
			Discretionary: e["discretionary"] == true,
			RuleRef:       optText(e["rule_ref"]),
			Raw:           rawEvent,
		})
	}

	for _, t := range doc.Timelines {
		phase := text(t["phase"])
		if phase == "" {
			out.Dropped++
			continue
		}
		out.Timelines = append(out.Timelines, ExtractedTimeline{
			Phase:      phase,
			Party:      optText(t["party"]),
			Days:       days(t["days"]),
			RelativeTo: optText(t["relative_to"]),
		})
	}

	if err := orderValidate.Struct(out); err != nil {
		return nil, fmt.Errorf("extracted order failed validation: %w", err)
	}
	return out, nil
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func optText(v any) *string {
	s := text(v)
	if s == "" {
		return nil
	}
	return &s
}

func stringList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := text(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// days keeps numbers (rounded) and numeric strings; anything else counts as zero.
func days(v any) int {
	switch t := v.(type) {
	case float64:
		return int(math.Round(t))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return int(math.Round(f))
		}
	}
	return 0
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2 January 2006", "January 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
