package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/ledger"
)

// TransactionsHandler handles transaction endpoints.
type TransactionsHandler struct {
	engine *ledger.Engine
}

// NewTransactionsHandler creates a new TransactionsHandler.
func NewTransactionsHandler(e *ledger.Engine) *TransactionsHandler {
	return &TransactionsHandler{engine: e}
}

type createTransactionRequest struct {
	AccountID   string                 `json:"accountId"`
	ToAccountID string                 `json:"toAccountId"`
	CategoryID  string                 `json:"categoryId"`
	Amount      decimal.Decimal        `json:"amount"`
	Type        ledger.Type            `json:"type"`
	Date        string                 `json:"date"`
	Description string                 `json:"description"`
	Notes       string                 `json:"notes"`
	Tags        []string               `json:"tags"`
	LineItems   []ledger.LineItemInput `json:"lineItems"`
	IsVerified  bool                   `json:"isVerified"`
	SourceType  string                 `json:"sourceType"`
	SourceID    string                 `json:"sourceId"`
}

type updateTransactionRequest struct {
	AccountID   *string                 `json:"accountId"`
	ToAccountID *string                 `json:"toAccountId"`
	CategoryID  *string                 `json:"categoryId"`
	Amount      *decimal.Decimal        `json:"amount"`
	Type        *ledger.Type            `json:"type"`
	Date        *string                 `json:"date"`
	Description *string                 `json:"description"`
	Notes       *string                 `json:"notes"`
	Tags        *[]string               `json:"tags"`
	LineItems   *[]ledger.LineItemInput `json:"lineItems"`
	IsVerified  *bool                   `json:"isVerified"`
}

type mergeRequest struct {
	DuplicateIDs []string `json:"duplicateIds"`
}

type notDuplicateRequest struct {
	ComparedWithID string `json:"comparedWithId"`
}

// List handles GET /transactions.
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.ListFilter{
		AccountID: q.Get("account_id"),
		Type:      ledger.Type(q.Get("type")),
		From:      q.Get("from"),
		To:        q.Get("to"),
	}

	var err error
	if v := q.Get("include_merged"); v != "" {
		if filter.IncludeMerged, err = strconv.ParseBool(v); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid include_merged")
			return
		}
	}
	if filter.Page, filter.Limit, err = pagination(r); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	result, err := h.engine.List(r.Context(), ownerFrom(r), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Create handles POST /transactions.
func (h *TransactionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	source, err := ledger.ParseSource(req.SourceType, req.SourceID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	tx, err := h.engine.Create(r.Context(), ownerFrom(r), ledger.CreateInput{
		AccountID:   req.AccountID,
		ToAccountID: req.ToAccountID,
		CategoryID:  req.CategoryID,
		Amount:      req.Amount,
		Type:        req.Type,
		Date:        req.Date,
		Description: req.Description,
		Notes:       req.Notes,
		Tags:        req.Tags,
		LineItems:   req.LineItems,
		IsVerified:  req.IsVerified,
		Source:      source,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"transaction": tx})
}

// Get handles GET /transactions/{id}.
func (h *TransactionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.engine.Get(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

// Update handles PUT /transactions/{id}.
func (h *TransactionsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.engine.Update(r.Context(), ownerFrom(r), chi.URLParam(r, "id"), ledger.Patch{
		AccountID:   req.AccountID,
		ToAccountID: req.ToAccountID,
		CategoryID:  req.CategoryID,
		Amount:      req.Amount,
		Type:        req.Type,
		Date:        req.Date,
		Description: req.Description,
		Notes:       req.Notes,
		Tags:        req.Tags,
		LineItems:   req.LineItems,
		IsVerified:  req.IsVerified,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

// Delete handles DELETE /transactions/{id}.
func (h *TransactionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tx, err := h.engine.Remove(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

// Merge handles POST /transactions/{id}/merge, {id} being the primary.
func (h *TransactionsHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.engine.Merge(r.Context(), ownerFrom(r), chi.URLParam(r, "id"), req.DuplicateIDs)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Unmerge handles POST /transactions/{id}/unmerge.
func (h *TransactionsHandler) Unmerge(w http.ResponseWriter, r *http.Request) {
	tx, err := h.engine.UnmergeTransaction(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

// NotDuplicate handles POST /transactions/{id}/not-duplicate.
func (h *TransactionsHandler) NotDuplicate(w http.ResponseWriter, r *http.Request) {
	var req notDuplicateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.engine.MarkAsNotDuplicate(r.Context(), ownerFrom(r), chi.URLParam(r, "id"), req.ComparedWithID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Merged handles GET /transactions/{id}/merged.
func (h *TransactionsHandler) Merged(w http.ResponseWriter, r *http.Request) {
	merged, err := h.engine.GetMergedTransactions(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": merged})
}

// Duplicates handles GET /transactions/{id}/duplicates.
func (h *TransactionsHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.engine.FindDuplicates(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": candidates})
}

// Usage handles GET /usage.
func (h *TransactionsHandler) Usage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.engine.MonthlyUsage(r.Context(), ownerFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, usage)
}

// pagination reads page and limit query parameters; zero means default.
func pagination(r *http.Request) (page, limit int, err error) {
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, errInvalidParam("page")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, errInvalidParam("limit")
		}
	}
	return page, limit, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return "Invalid " + string(e) }
