package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/audit"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
)

// summaryDays is the default length of the activity summary.
const summaryDays = 30

// AuditHandler handles audit trail endpoints. It only reads.
type AuditHandler struct {
	recorder *audit.Recorder
	clock    clock.Clock
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(r *audit.Recorder, c clock.Clock) *AuditHandler {
	return &AuditHandler{recorder: r, clock: c}
}

// EntryWithChanges is an audit entry plus its per-field diff.
type EntryWithChanges struct {
	audit.Entry
	Changes map[string]audit.Change `json:"changes"`
}

// List handles GET /audit.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     audit.Action(q.Get("action")),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Search:     q.Get("search"),
	}
	if filter.Action != "" && !filter.Action.Valid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid action")
		return
	}

	from, ok := parseDateParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := parseDateParam(w, r, "to")
	if !ok {
		return
	}
	if to != nil {
		end := to.AddDate(0, 0, 1)
		to = &end
	}
	filter.From, filter.To = from, to

	var err error
	if filter.Page, filter.Limit, err = pagination(r); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	page, err := h.recorder.Query(r.Context(), ownerFrom(r), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// Entity handles GET /audit/{entityType}/{entityId}, returning one page of
// the entity's history with diffs, newest first.
func (h *AuditHandler) Entity(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		EntityType: chi.URLParam(r, "entityType"),
		EntityID:   chi.URLParam(r, "entityId"),
	}
	var err error
	if filter.Page, filter.Limit, err = pagination(r); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	page, err := h.recorder.Query(r.Context(), ownerFrom(r), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	entries := make([]EntryWithChanges, 0, len(page.Entries))
	for _, e := range page.Entries {
		changes, err := e.Changes()
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		entries = append(entries, EntryWithChanges{Entry: e, Changes: changes})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   page.Total,
		"page":    page.Page,
		"limit":   page.Limit,
	})
}

// Summary handles GET /audit/summary?start=YYYY-MM-DD&end=YYYY-MM-DD, both
// days inclusive. The default range is the last summaryDays days.
func (h *AuditHandler) Summary(w http.ResponseWriter, r *http.Request) {
	start, ok := parseDateParam(w, r, "start")
	if !ok {
		return
	}
	end, ok := parseDateParam(w, r, "end")
	if !ok {
		return
	}

	from, to := clock.LastDays(h.clock, summaryDays)
	if end != nil {
		to = end.AddDate(0, 0, 1)
		from = to.AddDate(0, 0, -summaryDays)
	}
	if start != nil {
		from = *start
	}

	summary, err := h.recorder.ActivitySummary(r.Context(), ownerFrom(r), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func parseDateParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(db.DateLayout, v)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid "+name+", expected YYYY-MM-DD")
		return nil, false
	}
	return &t, true
}
