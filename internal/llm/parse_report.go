package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/procedo/internal/common"
)

// ErrInvalidDocument is returned when the model rejects the upload as not a case document.
var ErrInvalidDocument = errors.New("invalid document")

const defaultInvalidDocumentMessage = "This does not appear to be a valid case document. Please upload an arbitration-related document."

// ParsedReport is a repaired and validated report.
type ParsedReport struct {
	// Raw is the repaired JSON exactly as stored.
	Raw      json.RawMessage
	Report   Report
	Repaired bool
	// Partial is set when nested sections could not be decoded into Report; Raw is still complete.
	Partial bool
}

// HasWarning reports whether the model flagged the document as non-ICSID.
func (p *ParsedReport) HasWarning() bool {
	return p.Report.Warning != ""
}

var (
	envelopeOnce   sync.Once
	envelopeSchema *jsonschema.Schema
	envelopeErr    error
)

func compiledEnvelope() (*jsonschema.Schema, error) {
	envelopeOnce.Do(func() {
		envelopeSchema, envelopeErr = CompileSchema("report.json", reportEnvelopeSchema())
	})
	return envelopeSchema, envelopeErr
}

// ParseReport repairs raw model output and validates it as an analysis report.
func ParseReport(raw string) (*ParsedReport, error) {
	fixed, repaired, err := RepairJSON(raw)
	if err != nil {
		return nil, err
	}

	var head map[string]any
	if err := json.Unmarshal([]byte(fixed), &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrepairable, err)
	}
	if code := asString(head["error"]); code != "" {
		msg := asString(head["message"])
		if msg == "" {
			msg = defaultInvalidDocumentMessage
		}
		return nil, common.NewAppError("INVALID_DOCUMENT", msg, ErrInvalidDocument)
	}

	// a bare warning carries no summary, so required fields only apply to full reports
	if asString(head["warning"]) == "" {
		schema, err := compiledEnvelope()
		if err != nil {
			return nil, err
		}
		if err := validateWith(schema, []byte(fixed)); err != nil {
			return nil, common.NewAppError("INVALID_REPORT", "model output is not a valid analysis report", fmt.Errorf("%w: %v", common.ErrValidation, err))
		}
	}

	out := &ParsedReport{Raw: json.RawMessage(fixed), Repaired: repaired}
	if err := json.Unmarshal([]byte(fixed), &out.Report); err != nil {
		out.Partial = true
		out.Report = Report{}
		var env struct {
			CaseSummary  string `json:"case_summary"`
			DocumentType string `json:"document_type"`
			Warning      string `json:"warning"`
			Message      string `json:"message"`
		}
		_ = json.Unmarshal([]byte(fixed), &env)
		out.Report.CaseSummary = env.CaseSummary
		out.Report.DocumentType = env.DocumentType
		out.Report.Warning = env.Warning
		out.Report.Message = env.Message
	}
	return out, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
