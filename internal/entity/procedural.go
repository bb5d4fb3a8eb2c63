package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProceduralOrder is a historical order ingested for an org.
type ProceduralOrder struct {
	ID                       uuid.UUID       `json:"id"`
	OrgID                    string          `json:"org_id"`
	Institution              string          `json:"institution"`
	AdministeringInstitution *string         `json:"administering_institution,omitempty"`
	CaseType                 *string         `json:"case_type,omitempty"`
	ProceduralOrderNumber    string          `json:"procedural_order_number"`
	RulesContext             []string        `json:"rules_context"`
	OrderDate                *time.Time      `json:"order_date,omitempty"`
	SourcePDFPath            *string         `json:"source_pdf_path,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	ExtractedJSON            json.RawMessage `json:"extracted_json"`
	ProceduralOrderIndex     *int            `json:"procedural_order_index,omitempty"`
}

// ProceduralEvent is a decision recorded in a historical order.
type ProceduralEvent struct {
	ID                uuid.UUID       `json:"id"`
	ProceduralOrderID uuid.UUID       `json:"procedural_order_id"`
	EventType         string          `json:"event_type"`
	DecisionValue     *string         `json:"decision_value"`
	Discretionary     bool            `json:"discretionary"`
	SourceRuleRef     *string         `json:"source_rule_ref,omitempty"`
	ExtraData         json.RawMessage `json:"extra_data,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ProceduralTimeline is a phase duration recorded in a historical order.
type ProceduralTimeline struct {
	ID                uuid.UUID `json:"id"`
	ProceduralOrderID uuid.UUID `json:"procedural_order_id"`
	Phase             string    `json:"phase"`
	Party             *string   `json:"party,omitempty"`
	Days              int       `json:"days"`
	RelativeTo        *string   `json:"relative_to,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// EventWithOrder pairs an event with its parent order, as used for precedent lookup.
type EventWithOrder struct {
	Event ProceduralEvent `json:"event"`
	Order ProceduralOrder `json:"order"`
}

// TimelineWithOrder pairs a timeline with its parent order.
type TimelineWithOrder struct {
	Timeline ProceduralTimeline `json:"timeline"`
	Order    ProceduralOrder    `json:"order"`
}
