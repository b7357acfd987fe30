package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techno-hippies/heavengate/internal/api/models"
)

func TestGetRules_EmptyByDefault(t *testing.T) {
	h, db := createTestHandler(t)
	r := setupTestRouter(h)

	userID, err := db.GetOrCreateUserByWallet(testContext(t), "0xabc")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/"+userID+"/rules", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.RulesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Domains)
}

func TestPutRules_PersistsAndUpdatesCache(t *testing.T) {
	h, db := createTestHandler(t)
	r := setupTestRouter(h)

	userID, err := db.GetOrCreateUserByWallet(testContext(t), "0xabc")
	require.NoError(t, err)

	body := `{"domains":["ads.example.com","tracker.example.com"]}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/"+userID+"/rules", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	domains, err := db.ListRules(testContext(t), userID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ads.example.com", "tracker.example.com"}, domains)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/"+userID+"/rules", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp models.RulesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"ads.example.com", "tracker.example.com"}, resp.Domains)
}
