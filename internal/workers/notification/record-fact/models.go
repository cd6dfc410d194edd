package recordfact

import "placement-mailer/internal/models"

type Input struct {
	Type        string        `json:"type"`
	Subtype     string        `json:"subtype"`
	ShortlistID *string       `json:"shortlistId,omitempty"`
	CompanyID   *string       `json:"companyId,omitempty"`
	Domain      *string       `json:"domain,omitempty"`
	Links       []models.Link `json:"links,omitempty"`
}

type Output struct {
	FactID      int64  `json:"factId"`
	FactType    string `json:"factType"`
	FactSubtype string `json:"factSubtype"`
	RecordedAt  string `json:"recordedAt"` // RFC 3339
}

// inputSchema is the shape of the job variables. Semantic rules (known
// type, allowed subtype, at least one reference) are enforced by the sink.
const inputSchema = `{
	"type": "object",
	"required": ["type", "subtype"],
	"properties": {
		"type":        {"type": "string", "minLength": 1},
		"subtype":     {"type": "string", "minLength": 1},
		"shortlistId": {"type": ["string", "null"]},
		"companyId":   {"type": ["string", "null"]},
		"domain":      {"type": ["string", "null"]},
		"links": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["link", "link_name"],
				"properties": {
					"link":      {"type": "string", "minLength": 1},
					"link_name": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`
