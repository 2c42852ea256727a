package ledger

import "fmt"

// SourceKind names the subsystem a transaction originated from.
type SourceKind string

const (
	SourceManual        SourceKind = "manual"
	SourceInvestment    SourceKind = "investment"
	SourceSharedExpense SourceKind = "shared_expense"
	SourceRecurring     SourceKind = "recurring"
)

// Source is the provenance of a transaction. Every kind except Manual
// carries the ID of the originating record.
type Source struct {
	kind SourceKind
	id   string
}

// Manual is the provenance of a transaction entered by hand.
func Manual() Source { return Source{kind: SourceManual} }

// FromInvestment marks a transaction generated by an investment record.
func FromInvestment(id string) Source { return Source{kind: SourceInvestment, id: id} }

// FromSharedExpense marks a transaction generated by a shared expense.
func FromSharedExpense(id string) Source { return Source{kind: SourceSharedExpense, id: id} }

// FromRecurring marks a transaction generated by a recurring schedule.
func FromRecurring(id string) Source { return Source{kind: SourceRecurring, id: id} }

// ParseSource rebuilds a Source from its stored kind and ID. An empty kind
// is manual.
func ParseSource(kind, id string) (Source, error) {
	switch SourceKind(kind) {
	case "", SourceManual:
		return Manual(), nil
	case SourceInvestment, SourceSharedExpense, SourceRecurring:
		if id == "" {
			return Source{}, fmt.Errorf("%w: source %s requires an id", ErrValidation, kind)
		}
		return Source{kind: SourceKind(kind), id: id}, nil
	default:
		return Source{}, fmt.Errorf("%w: unknown source type %q", ErrValidation, kind)
	}
}

// Kind returns the source kind. The zero Source is manual.
func (s Source) Kind() SourceKind {
	if s.kind == "" {
		return SourceManual
	}
	return s.kind
}

// ID returns the originating record ID, or "" for manual entries.
func (s Source) ID() string { return s.id }

// Target returns the navigation path of the originating record, or "" for
// manual entries.
func (s Source) Target() string {
	switch s.Kind() {
	case SourceManual:
		return ""
	case SourceInvestment:
		return "/investments/" + s.id
	case SourceSharedExpense:
		return "/shared-expenses/" + s.id
	case SourceRecurring:
		return "/recurring/" + s.id
	default:
		panic(fmt.Sprintf("ledger: unknown source kind %q", s.kind))
	}
}
