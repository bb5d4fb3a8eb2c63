package entity

import (
	"encoding/json"

	"github.com/google/uuid"
)

// InstitutionRule is one provision of an institution's rules as configured for an org.
type InstitutionRule struct {
	ID              uuid.UUID       `json:"id" yaml:"-"`
	OrgID           string          `json:"org_id" yaml:"-"`
	Institution     string          `json:"institution" yaml:"institution" validate:"required"`
	Version         string          `json:"version" yaml:"version" validate:"required"`
	DocumentType    string          `json:"document_type" yaml:"document_type" validate:"required"`
	Ref             string          `json:"ref" yaml:"ref" validate:"required"`
	Title           *string         `json:"title,omitempty" yaml:"title"`
	Summary         *string         `json:"summary,omitempty" yaml:"summary"`
	Mandatory       bool            `json:"mandatory" yaml:"mandatory"`
	ParameterTag    *string         `json:"parameter_tag,omitempty" yaml:"parameter_tag"`
	ExtraData       json.RawMessage `json:"extra_data,omitempty" yaml:"-"`
	NonDerogable    bool            `json:"non_derogable" yaml:"non_derogable"`
	AnnulmentLinked bool            `json:"annulment_linked" yaml:"annulment_linked"`
	HierarchyLevel  int             `json:"hierarchy_level" yaml:"hierarchy_level" validate:"gte=0"`
	AIUsage         *string         `json:"ai_usage,omitempty" yaml:"ai_usage"`
}
