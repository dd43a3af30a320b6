package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/rssfetcher/internal/database"
	"reddot-watch/rssfetcher/internal/models"
	"reddot-watch/rssfetcher/internal/server/api"
	"reddot-watch/rssfetcher/internal/server/storage"
)

func seededRepository(t *testing.T, n int) storage.ItemRepository {
	t.Helper()
	ctx := context.Background()

	writer, err := database.NewDB(database.NewConfig("sqlite", filepath.Join(t.TempDir(), "rss.sqlite3")))
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })

	records := make([]models.ItemRecord, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprint(i)
		records = append(records, models.ItemRecord{FeedID: "feed", ItemID: id, Title: models.StringPtr("Item " + id), Raw: "<item>" + id + "</item>"})
	}
	batch, err := writer.Begin(ctx)
	require.NoError(t, err)
	_, err = batch.Upsert(ctx, records)
	require.NoError(t, err)
	require.NoError(t, batch.Commit())

	reader, err := database.OpenSwitch(writer.Config().ReadOnlyCopy())
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })
	return storage.NewRepository(reader)
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeItems(t *testing.T, rec *httptest.ResponseRecorder) api.ItemsResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp api.ItemsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func rowIDs(rows []models.StoredRow) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.RowID)
	}
	return ids
}

func TestItemsPagination(t *testing.T) {
	h := NewRouter(seededRepository(t, 5), zerolog.Nop(), "")

	resp := decodeItems(t, do(t, h, http.MethodGet, "/items?start_rowid=0&limit=3", nil))
	assert.False(t, resp.End)
	assert.Equal(t, []int64{1, 2, 3}, rowIDs(resp.Items))
	assert.Equal(t, "feed", resp.Items[0].FeedID)
	assert.Equal(t, "1", resp.Items[0].ItemID)
	assert.Equal(t, "<item>1</item>", resp.Items[0].Raw)

	resp = decodeItems(t, do(t, h, http.MethodGet, "/items?start_rowid=3&limit=3", nil))
	assert.True(t, resp.End)
	assert.Equal(t, []int64{4, 5}, rowIDs(resp.Items))

	resp = decodeItems(t, do(t, h, http.MethodGet, "/items/", nil))
	assert.True(t, resp.End)
	assert.Len(t, resp.Items, 5)

	resp = decodeItems(t, do(t, h, http.MethodGet, "/items?start_rowid=5", nil))
	assert.True(t, resp.End)
	assert.NotNil(t, resp.Items)
	assert.Empty(t, resp.Items)
}

func TestItemsWireFormat(t *testing.T) {
	h := NewRouter(seededRepository(t, 1), zerolog.Nop(), "")
	rec := do(t, h, http.MethodGet, "/items", nil)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"end":true,"items":[{"rowid":1,"feed_id":"feed","rss_id":"1","title":"Item 1","raw":"<item>1</item>"}]}`, rec.Body.String())
}

func TestItemsRejectsInvalidParams(t *testing.T) {
	h := NewRouter(seededRepository(t, 1), zerolog.Nop(), "")
	for _, target := range []string{"/items?start_rowid=x", "/items?start_rowid=-1", "/items?limit=many"} {
		rec := do(t, h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), `"detail"`)
	}
}

func TestStatus(t *testing.T) {
	h := NewRouter(seededRepository(t, 3), zerolog.Nop(), "")
	rec := do(t, h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":3,"min_id":1,"max_id":3}`, rec.Body.String())

	rec = do(t, h, http.MethodHead, "/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestStatusEmptyStore(t *testing.T) {
	h := NewRouter(seededRepository(t, 0), zerolog.Nop(), "")
	rec := do(t, h, http.MethodGet, "/status", nil)
	assert.JSONEq(t, `{"count":0,"min_id":null,"max_id":null}`, rec.Body.String())
}

func TestAPIKey(t *testing.T) {
	h := NewRouter(seededRepository(t, 1), zerolog.Nop(), "s3cret")

	tests := []struct {
		name   string
		target string
		header http.Header
		status int
		detail string
	}{
		{"Missing", "/items", nil, http.StatusForbidden, "Not authenticated"},
		{"WrongHeader", "/items", http.Header{"X-Key": {"nope"}}, http.StatusForbidden, "Invalid API key"},
		{"WrongQuery", "/status?api_key=nope", nil, http.StatusForbidden, "Invalid API key"},
		{"Header", "/items", http.Header{"X-Key": {"s3cret"}}, http.StatusOK, ""},
		{"Query", "/status?api_key=s3cret", nil, http.StatusOK, ""},
		{"EitherMatches", "/items?api_key=s3cret", http.Header{"X-Key": {"nope"}}, http.StatusOK, ""},
		{"PingIsOpen", "/ping", nil, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, tt.header)
			assert.Equal(t, tt.status, rec.Code)
			if tt.detail != "" {
				assert.JSONEq(t, fmt.Sprintf(`{"detail":%q}`, tt.detail), rec.Body.String())
			}
		})
	}
}

type failingRepository struct{}

func (failingRepository) ReadItems(context.Context, int64, int) ([]models.StoredRow, error) {
	return nil, errors.New("database is locked")
}

func (failingRepository) Status(context.Context) (models.Status, error) {
	return models.Status{}, errors.New("database is locked")
}

func TestRepositoryErrors(t *testing.T) {
	h := NewRouter(failingRepository{}, zerolog.Nop(), "")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/items", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/status", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodHead, "/ping", nil).Code)
}
