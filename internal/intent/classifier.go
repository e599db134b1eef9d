package intent

import "strings"

// Label is the coarse purpose of a caller turn.
// The set is closed: every input resolves to exactly one of the constants below,
// with LabelOther as the exhaustive fallback.
type Label string

const (
	LabelInfoRequest Label = "info_request"
	LabelAppointment Label = "appointment"
	LabelTransfer    Label = "transfer"
	LabelEmployment  Label = "employment"
	LabelVendor      Label = "vendor"
	LabelVisitor     Label = "visitor"
	LabelComplaint   Label = "complaint"
	LabelOther       Label = "other"
)

// Labels returns every label in rule order, LabelOther last.
func Labels() []Label {
	return []Label{
		LabelInfoRequest,
		LabelAppointment,
		LabelTransfer,
		LabelEmployment,
		LabelVendor,
		LabelVisitor,
		LabelComplaint,
		LabelOther,
	}
}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	for _, known := range Labels() {
		if l == known {
			return true
		}
	}
	return false
}

// Concrete reports whether l names an actual purpose (anything but "other").
func (l Label) Concrete() bool { return l.Valid() && l != LabelOther }

func (l Label) String() string { return string(l) }

// Parse maps a stored string back to a Label. Unknown values become LabelOther.
func Parse(s string) Label {
	l := Label(strings.TrimSpace(strings.ToLower(s)))
	if l.Valid() {
		return l
	}
	return LabelOther
}

// Classifier labels a dialogue turn.
//
// The reply is part of the contract so a model-based classifier can be swapped in
// behind it; the keyword classifier only looks at the caller's utterance.
type Classifier interface {
	Classify(utterance, reply string) Label
}

type rule struct {
	label    Label
	keywords []string
}

// rules are evaluated top to bottom; the first rule with a matching keyword wins.
var rules = []rule{
	{label: LabelInfoRequest, keywords: []string{"hour", "open", "close", "location", "address"}},
	{label: LabelAppointment, keywords: []string{"appointment", "meeting", "schedule", "visit"}},
	{label: LabelTransfer, keywords: []string{"transfer", "speak to", "talk to", "connect me"}},
	{label: LabelEmployment, keywords: []string{"job", "career", "hiring", "apply"}},
	{label: LabelVendor, keywords: []string{"vendor", "supplier", "delivery"}},
	{label: LabelVisitor, keywords: []string{"visitor", "guest", "check in"}},
	{label: LabelComplaint, keywords: []string{"complaint", "problem", "issue"}},
}

// Classify applies the ordered keyword table to utterance (case-insensitive substring match).
// It never fails; unmatched input is LabelOther.
func Classify(utterance string) Label {
	s := strings.ToLower(utterance)
	if strings.TrimSpace(s) == "" {
		return LabelOther
	}
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(s, kw) {
				return r.label
			}
		}
	}
	return LabelOther
}

// KeywordClassifier is the default Classifier backed by Classify.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(utterance, _ string) Label { return Classify(utterance) }
