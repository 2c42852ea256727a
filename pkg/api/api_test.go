package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/account"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/audit"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/category"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/ledger"
)

type server struct {
	handler    http.Handler
	dispatcher *audit.Dispatcher
}

func newServer(t *testing.T) *server {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := clock.NewFixed(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	accounts := account.NewStore(conn, c)
	recorder := audit.NewRecorder(conn, c)
	outbox := audit.NewOutbox(conn, c)
	dispatcher := audit.NewDispatcher(conn, outbox, recorder, c, audit.DispatcherConfig{}, nil)
	engine := ledger.NewEngine(conn, ledger.Config{
		Accounts:   accounts,
		Categories: category.NewStore(conn, c),
		Audit:      outbox,
		Notifier:   dispatcher,
		Clock:      c,
	})

	return &server{
		handler:    NewRouter(Dependencies{Accounts: accounts, Engine: engine, Audit: recorder, Clock: c}),
		dispatcher: dispatcher,
	}
}

func (s *server) do(t *testing.T, owner, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func (s *server) createAccount(t *testing.T, owner string) string {
	t.Helper()
	rec, body := s.do(t, owner, http.MethodPost, "/accounts", map[string]any{"name": "Checking", "currency": "usd"})
	require.Equal(t, http.StatusCreated, rec.Code)
	return body["account"].(map[string]any)["id"].(string)
}

func (s *server) balance(t *testing.T, owner, id string) string {
	t.Helper()
	rec, body := s.do(t, owner, http.MethodGet, "/accounts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return body["account"].(map[string]any)["balance"].(string)
}

func (s *server) createTransaction(t *testing.T, owner, accountID, amount string) string {
	t.Helper()
	rec, body := s.do(t, owner, http.MethodPost, "/transactions", map[string]any{
		"accountId": accountID, "amount": amount, "type": "expense", "date": "2026-10-15", "description": "lunch",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["transaction"].(map[string]any)["id"].(string)
}

func TestHealthAndOwnerHeader(t *testing.T) {
	s := newServer(t)

	rec, _ := s.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := s.do(t, "", http.MethodGet, "/transactions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestTransactionLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	accountID := s.createAccount(t, "alice")

	id := s.createTransaction(t, "alice", accountID, "100")
	assert.Equal(t, "-100", s.balance(t, "alice", accountID))

	rec, body := s.do(t, "alice", http.MethodPut, "/transactions/"+id, map[string]any{"amount": "60"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "60.00", body["transaction"].(map[string]any)["amount"])
	assert.Equal(t, "-60", s.balance(t, "alice", accountID))

	rec, body = s.do(t, "alice", http.MethodGet, "/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])

	rec, _ = s.do(t, "alice", http.MethodDelete, "/transactions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", s.balance(t, "alice", accountID))

	rec, body = s.do(t, "alice", http.MethodGet, "/transactions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestForeignOwnerSeesNotFound(t *testing.T) {
	s := newServer(t)
	accountID := s.createAccount(t, "alice")
	id := s.createTransaction(t, "alice", accountID, "10")

	rec, _ := s.do(t, "bob", http.MethodGet, "/transactions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, "bob", http.MethodGet, "/accounts/"+accountID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, "bob", http.MethodPost, "/transactions", map[string]any{
		"accountId": accountID, "amount": "5", "type": "expense", "description": "sneaky",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMergeEndpoints(t *testing.T) {
	s := newServer(t)
	accountID := s.createAccount(t, "alice")
	primary := s.createTransaction(t, "alice", accountID, "20")
	dup := s.createTransaction(t, "alice", accountID, "20")

	rec, body := s.do(t, "alice", http.MethodGet, "/transactions/"+primary+"/duplicates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["transactions"], 1)

	rec, body = s.do(t, "alice", http.MethodPost, "/transactions/"+primary+"/merge", map[string]any{"duplicateIds": []string{dup}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, body["mergedCount"])
	assert.Equal(t, "-20", s.balance(t, "alice", accountID))

	rec, body = s.do(t, "alice", http.MethodPost, "/transactions/"+primary+"/merge", map[string]any{"duplicateIds": []string{dup}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_operation", body["error"])

	rec, body = s.do(t, "alice", http.MethodGet, "/transactions/"+primary+"/merged", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["transactions"], 1)
	assert.Equal(t, true, body["transactions"].([]any)[0].(map[string]any)["isMerged"])

	rec, _ = s.do(t, "alice", http.MethodPost, "/transactions/"+dup+"/unmerge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "-40", s.balance(t, "alice", accountID))

	rec, _ = s.do(t, "alice", http.MethodPost, "/transactions/"+dup+"/not-duplicate", map[string]any{"comparedWithId": primary})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = s.do(t, "alice", http.MethodGet, "/transactions/"+primary+"/duplicates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["transactions"])
}

func TestBadRequests(t *testing.T) {
	s := newServer(t)
	accountID := s.createAccount(t, "alice")

	rec, body := s.do(t, "alice", http.MethodPost, "/transactions", map[string]any{
		"accountId": accountID, "amount": "-1", "type": "expense", "description": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_parameter", body["error"])

	rec, body = s.do(t, "alice", http.MethodPost, "/transactions", map[string]any{"bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", body["error"])

	rec, _ = s.do(t, "alice", http.MethodGet, "/transactions?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, "alice", http.MethodGet, "/audit?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditEndpoints(t *testing.T) {
	s := newServer(t)
	accountID := s.createAccount(t, "alice")
	id := s.createTransaction(t, "alice", accountID, "100")
	rec, _ := s.do(t, "alice", http.MethodPut, "/transactions/"+id, map[string]any{"notes": "split with bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := s.dispatcher.DrainOnce(context.Background())
	require.NoError(t, err)

	rec, body := s.do(t, "alice", http.MethodGet, "/audit/transaction/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])

	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	actions := []string{}
	var updateChanges map[string]any
	for _, e := range entries {
		entry := e.(map[string]any)
		actions = append(actions, entry["action"].(string))
		if entry["action"] == "update" {
			updateChanges = entry["changes"].(map[string]any)
		}
	}
	assert.ElementsMatch(t, []string{"create", "update"}, actions)
	require.NotNil(t, updateChanges)
	assert.Equal(t, map[string]any{"before": "", "after": "split with bob"}, updateChanges["notes"])

	rec, body = s.do(t, "alice", http.MethodGet, "/audit/summary?start=2026-10-16&end=2026-10-16", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])

	rec, body = s.do(t, "alice", http.MethodGet, "/audit/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"], "default range ends on the clock's today")

	rec, body = s.do(t, "alice", http.MethodGet, "/audit/summary?end=2026-10-15", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["total"])

	rec, body = s.do(t, "alice", http.MethodGet, "/audit?action=create", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])

	rec, body = s.do(t, "bob", http.MethodGet, "/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["total"])
}

func TestUsageEndpoint(t *testing.T) {
	s := newServer(t)
	accountID := s.createAccount(t, "alice")
	s.createTransaction(t, "alice", accountID, "1")

	rec, body := s.do(t, "alice", http.MethodGet, "/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-10", body["period"])
	assert.EqualValues(t, 1, body["transactions"])
}

func TestAuditEntityHistoryPaginates(t *testing.T) {
	s := newServer(t)
	accountID := s.createAccount(t, "alice")
	id := s.createTransaction(t, "alice", accountID, "100")
	for _, notes := range []string{"a", "b", "c"} {
		rec, _ := s.do(t, "alice", http.MethodPut, "/transactions/"+id, map[string]any{"notes": notes})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	_, err := s.dispatcher.DrainOnce(context.Background())
	require.NoError(t, err)

	rec, body := s.do(t, "alice", http.MethodGet, "/audit/transaction/"+id+"?limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, body["total"])
	assert.Len(t, body["entries"], 3)

	rec, body = s.do(t, "alice", http.MethodGet, "/audit/transaction/"+id+"?limit=3&page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["page"])
	assert.Len(t, body["entries"], 1)

	rec, _ = s.do(t, "alice", http.MethodGet, "/audit/transaction/"+id+"?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
