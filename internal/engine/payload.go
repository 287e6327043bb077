package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aura/underwriting/internal/core"
)

// FormatPayloadList projects an underwriting snapshot into execution
// payloads for one processor. The return contract carries meaning:
//
//	nil:       the processor declares no triggers; skip it entirely
//	empty:     triggers matched but there is nothing to run now; the
//	           processor still participates in consolidation
//	non-empty: one execution payload per element
//
// Payloads contain only trigger-relevant data, which is what makes the
// content hash a correct dedup key.
func FormatPayloadList(kind core.ProcessorKind, triggers core.Triggers, uw *core.Underwriting) ([]map[string]interface{}, error) {
	switch kind {
	case core.KindApplication:
		return formatApplicationPayload(triggers, uw)
	case core.KindStipulation:
		return formatStipulationPayload(triggers, uw), nil
	case core.KindDocument:
		return formatDocumentPayload(triggers, uw), nil
	default:
		return nil, fmt.Errorf("unknown processor kind %q", kind)
	}
}

// formatApplicationPayload emits a single payload holding the requested
// merchant fields (dot notation, non-null only) plus the owners list.
func formatApplicationPayload(triggers core.Triggers, uw *core.Underwriting) ([]map[string]interface{}, error) {
	if len(triggers.ApplicationForm) == 0 {
		return nil, nil
	}

	form := map[string]interface{}{}
	for _, field := range triggers.ApplicationForm {
		if v, ok := merchantField(uw.Merchant, field); ok {
			form[field] = v
		}
	}

	// Triggers declared but every requested field is null.
	if len(form) == 0 {
		return []map[string]interface{}{}, nil
	}

	owners, err := toGenericList(uw.Owners)
	if err != nil {
		return nil, fmt.Errorf("format application payload: %w", err)
	}

	return []map[string]interface{}{{
		"application_form": form,
		"owners_list":      owners,
	}}, nil
}

// formatStipulationPayload groups all documents of the first declared
// stipulation type into one payload of revision ids.
func formatStipulationPayload(triggers core.Triggers, uw *core.Underwriting) []map[string]interface{} {
	if len(triggers.DocumentsList) == 0 {
		return nil
	}

	stipulationType := triggers.DocumentsList[0]
	revisionIDs := make([]string, 0)
	for _, doc := range uw.Documents {
		if doc.StipulationType == stipulationType && doc.CurrentRevisionID != "" {
			revisionIDs = append(revisionIDs, doc.CurrentRevisionID)
		}
	}
	if len(revisionIDs) == 0 {
		return []map[string]interface{}{}
	}
	sort.Strings(revisionIDs)

	return []map[string]interface{}{{
		"stipulation_type": stipulationType,
		"revision_ids":     revisionIDs,
		"document_count":   len(revisionIDs),
	}}
}

// formatDocumentPayload emits one payload per document whose stipulation
// type is declared in the triggers.
func formatDocumentPayload(triggers core.Triggers, uw *core.Underwriting) []map[string]interface{} {
	if len(triggers.DocumentsList) == 0 {
		return nil
	}

	declared := make(map[string]bool, len(triggers.DocumentsList))
	for _, t := range triggers.DocumentsList {
		declared[t] = true
	}

	payloads := make([]map[string]interface{}, 0)
	for _, doc := range uw.Documents {
		if !declared[doc.StipulationType] || doc.CurrentRevisionID == "" {
			continue
		}
		payloads = append(payloads, map[string]interface{}{
			"stipulation_type": doc.StipulationType,
			"revision_id":      doc.CurrentRevisionID,
			"document_id":      doc.ID,
			"filename":         doc.Filename,
			"mime_type":        doc.MimeType,
		})
	}
	return payloads
}

// merchantField resolves a dot-notation application form field against
// the merchant snapshot. Empty values count as null.
func merchantField(m core.Merchant, dotKey string) (interface{}, bool) {
	var v string
	switch dotKey {
	case "merchant.name":
		v = m.Name
	case "merchant.dba_name":
		v = m.DBAName
	case "merchant.ein":
		v = m.EIN
	case "merchant.industry":
		v = m.Industry
	case "merchant.email":
		v = m.Email
	case "merchant.phone":
		v = m.Phone
	case "merchant.website":
		v = m.Website
	case "merchant.entity_type":
		v = m.EntityType
	case "merchant.incorporation_date":
		v = m.IncorporationDate
	case "merchant.state_of_incorporation":
		v = m.StateOfIncorporation
	default:
		return nil, false
	}
	if v == "" {
		return nil, false
	}
	return v, true
}

// toGenericList converts typed rows into the generic JSON shape payloads
// are stored and hashed in.
func toGenericList(v interface{}) ([]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []interface{}{}
	}
	return out, nil
}
