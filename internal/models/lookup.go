package models

// ===== Scanner-facing shapes =====

// LookupFields is the projection the scanner asks for.
var LookupFields = []string{"id", "name", "state", "category", "location", "custodian", "barcode"}

type LookupQuery struct {
	Code   string   `json:"code"`
	Fields []string `json:"fields,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// RecordSummary is the small slice of an equipment record shown after a scan.
type RecordSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Category  string `json:"category,omitempty"`
	Location  string `json:"location,omitempty"`
	Custodian string `json:"custodian,omitempty"`
	Code      string `json:"code"`
}

type LookupResult struct {
	Found  bool           `json:"found"`
	Record *RecordSummary `json:"record,omitempty"`
}

func Summarize(e *Equipment) *RecordSummary {
	return &RecordSummary{
		ID:        e.ID,
		Name:      e.Name,
		Status:    string(e.State),
		Category:  e.Category,
		Location:  e.Location,
		Custodian: e.Custodian,
		Code:      e.Barcode,
	}
}

type ActionType string

const (
	ActionOpenRecord ActionType = "open_record"
	ActionClose      ActionType = "close"
)

// Action is a navigation instruction returned by borrow/return.
type Action struct {
	Type  ActionType `json:"type"`
	Model string     `json:"model,omitempty"`
	ID    string     `json:"id,omitempty"`
}
