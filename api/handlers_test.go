package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pricing-engine/api"
	"github.com/warp/pricing-engine/pricing"
	"github.com/warp/pricing-engine/pricing/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mem := store.NewTxMemory()
	h := api.NewHandler(
		pricing.NewBatchService(mem, nil, nil),
		pricing.NewQueryService(mem, nil),
		nil,
	)
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func uploadCSV(t *testing.T, srv *httptest.Server, batchID, csv string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "prices.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(
		srv.URL+"/api/batches/"+batchID+"/upload",
		mw.FormDataContentType(),
		&buf,
	)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// =============================================================================
// BATCH LIFECYCLE
// =============================================================================

func TestStartBatch(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, "/api/batches/batch-1/start", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "batch-1", body["batch_id"])
	assert.Equal(t, "STARTED", body["status"])
}

func TestStartBatch_DuplicateIs409(t *testing.T) {
	srv := newTestServer(t)

	post(t, srv, "/api/batches/batch-1/start", nil)
	resp := post(t, srv, "/api/batches/batch-1/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[api.ErrorResponse](t, resp)
	assert.NotEmpty(t, body.Error)
}

func TestUploadPrices_FullLifecycle(t *testing.T) {
	// GIVEN: A CSV upload into a fresh batch id (implicit start)
	// WHEN: The batch is completed
	// THEN: The uploaded prices become queryable

	srv := newTestServer(t)

	csv := strings.Join([]string{
		`META,2026-03-01T12:00:00Z,{"price":"182.56"}`,
		`MSFT,2026-03-01T12:00:00Z,{"price":"310.00"}`,
	}, "\n")

	resp := uploadCSV(t, srv, "batch-1", csv)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	accepted := decode[api.UploadAcceptedDTO](t, resp)
	assert.Equal(t, "batch-1", accepted.BatchID)
	assert.Equal(t, 2, accepted.Rows)
	assert.NotEmpty(t, accepted.UploadID)

	// Not visible before completion.
	resp = post(t, srv, "/api/prices/last", api.LastPriceRequest{InstrumentIDs: []string{"META"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]api.LastPriceDTO](t, resp))

	resp = post(t, srv, "/api/batches/batch-1/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, srv, "/api/prices/last", api.LastPriceRequest{InstrumentIDs: []string{"META", "MSFT"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	prices := decode[[]api.LastPriceDTO](t, resp)
	require.Len(t, prices, 2)
	assert.Equal(t, "META", prices[0].InstrumentID)
	assert.Equal(t, `{"price":"182.56"}`, prices[0].PayloadJSON)
	assert.Equal(t, "MSFT", prices[1].InstrumentID)
}

func TestUploadPrices_MissingFileIs400(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/api/batches/batch-1/upload", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadPrices_MalformedCSVIs400(t *testing.T) {
	srv := newTestServer(t)
	resp := uploadCSV(t, srv, "batch-1", "this is not a price line")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadPrices_IntoCompletedBatchIs422(t *testing.T) {
	srv := newTestServer(t)

	post(t, srv, "/api/batches/batch-1/start", nil)
	post(t, srv, "/api/batches/batch-1/complete", nil)

	resp := uploadCSV(t, srv, "batch-1", `META,2026-03-01T12:00:00Z,{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCompleteBatch_Twice(t *testing.T) {
	srv := newTestServer(t)

	post(t, srv, "/api/batches/batch-1/start", nil)
	resp := post(t, srv, "/api/batches/batch-1/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, srv, "/api/batches/batch-1/complete", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCompleteBatch_UnknownIs404(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/api/batches/ghost/complete", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelBatch_RetractsPrices(t *testing.T) {
	// GIVEN: An uploaded but uncompleted batch
	// WHEN: It is cancelled
	// THEN: The batch reports CANCELLED with zero rows

	srv := newTestServer(t)

	uploadCSV(t, srv, "batch-1", `AMZN,2026-03-01T12:00:00Z,{"price":"135"}`)

	resp := post(t, srv, "/api/batches/batch-1/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv, "/api/batches/batch-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	batch := decode[api.BatchDTO](t, resp)
	assert.Equal(t, "CANCELLED", batch.Status)
	assert.Equal(t, int64(0), batch.RowCount)
}

func TestCancelBatch_CompletedIs422(t *testing.T) {
	srv := newTestServer(t)

	post(t, srv, "/api/batches/batch-1/start", nil)
	post(t, srv, "/api/batches/batch-1/complete", nil)

	resp := post(t, srv, "/api/batches/batch-1/cancel", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetBatch(t *testing.T) {
	srv := newTestServer(t)

	uploadCSV(t, srv, "batch-1", `META,2026-03-01T12:00:00Z,{}`)

	resp := get(t, srv, "/api/batches/batch-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	batch := decode[api.BatchDTO](t, resp)
	assert.Equal(t, "batch-1", batch.ID)
	assert.Equal(t, "STARTED", batch.Status)
	assert.Equal(t, int64(1), batch.RowCount)
	assert.NotEmpty(t, batch.CreatedAt)
	assert.Empty(t, batch.CompletedAt)
}

func TestGetBatch_UnknownIs404(t *testing.T) {
	srv := newTestServer(t)
	resp := get(t, srv, "/api/batches/ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// LAST PRICES
// =============================================================================

func TestLastPrices_EmptyInstrumentSetIs400(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/api/prices/last", api.LastPriceRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLastPrices_InvalidBodyIs400(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/prices/last", "application/json",
		strings.NewReader("{broken"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLastPrices_PicksNewestAcrossBatches(t *testing.T) {
	srv := newTestServer(t)

	for i, line := range []string{
		`TSLA,2026-03-01T12:00:00Z,{"price":"250"}`,
		`TSLA,2026-03-02T12:00:00Z,{"price":"260"}`,
	} {
		batchID := fmt.Sprintf("batch-%d", i)
		uploadCSV(t, srv, batchID, line)
		post(t, srv, "/api/batches/"+batchID+"/complete", nil)
	}

	resp := post(t, srv, "/api/prices/last", api.LastPriceRequest{InstrumentIDs: []string{"TSLA"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	prices := decode[[]api.LastPriceDTO](t, resp)
	require.Len(t, prices, 1)
	assert.Equal(t, `{"price":"260"}`, prices[0].PayloadJSON)
	assert.Equal(t, "2026-03-02T12:00:00Z", prices[0].AsOf)
}
