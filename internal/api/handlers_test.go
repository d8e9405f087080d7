package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/harrylevesque/equipscan/internal/auth"
	"github.com/harrylevesque/equipscan/internal/config"
	"github.com/harrylevesque/equipscan/internal/inventory"
	"github.com/harrylevesque/equipscan/internal/metrics"
	"github.com/harrylevesque/equipscan/internal/models"
)

const testToken = "s3cret-token"

type testEnv struct {
	srv *httptest.Server
	inv *inventory.Service
	cfg *config.Config
}

func newTestEnv(t *testing.T, withAuth bool) *testEnv {
	t.Helper()
	db, err := inventory.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inventory.Close(db) })

	inv := inventory.NewService(db, inventory.Options{DefaultBorrowDays: 7})
	_, err = inv.Seed(context.Background())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Scanner.NavigateDelay = time.Hour
	cfg.Scanner.Cooldown = time.Hour
	cfg.Scanner.CameraOpenTimeout = 5 * time.Second

	var tokens []config.APIToken
	if withAuth {
		hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
		require.NoError(t, err)
		tokens = []config.APIToken{{Name: "alice", Hash: string(hash)}}
	}

	reg := prometheus.NewRegistry()
	s := NewServer(Deps{
		Config:    cfg,
		Inventory: inv,
		Auth:      auth.New(tokens),
		Metrics:   metrics.New(reg),
		Gatherer:  reg,
		Station:   "test-station",
	})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, inv: inv, cfg: cfg}
}

func (e *testEnv) idOf(t *testing.T, barcode string) string {
	t.Helper()
	res, err := e.inv.Lookup(context.Background(), models.LookupQuery{Code: barcode})
	require.NoError(t, err)
	require.True(t, res.Found)
	return res.Record.ID
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
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

func TestHealthAndTime(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, "GET", "/health", "", nil)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK\n", string(body))

	resp = env.do(t, "GET", "/time", "", nil)
	got := decode[map[string]string](t, resp)
	_, err := time.Parse(time.RFC3339, got["time"])
	assert.NoError(t, err)

	resp = env.do(t, "GET", "/api/station", "", nil)
	station := decode[map[string]any](t, resp)
	assert.Equal(t, "test-station", station["station"])
	assert.Contains(t, station, "device_fingerprints")
	assert.IsType(t, []any{}, station["device_fingerprints"])
}

func TestLookupHandler(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, "GET", "/api/equipment/lookup?barcode=EQ-1003&fields=name,state&limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[models.LookupResult](t, resp)
	require.True(t, res.Found)
	assert.Equal(t, "Canon EOS R6", res.Record.Name)
	assert.Equal(t, "available", res.Record.Status)

	resp = env.do(t, "GET", "/api/equipment/lookup?barcode=NOPE", "", nil)
	assert.False(t, decode[models.LookupResult](t, resp).Found)

	resp = env.do(t, "GET", "/api/equipment/lookup", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "GET", "/api/equipment/lookup?barcode=EQ-1003&fields=password", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unknown field: password", decode[map[string]string](t, resp)["error"])
}

func TestEquipmentCRUD(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, "GET", "/api/equipment", "", nil)
	assert.Len(t, decode[[]models.Equipment](t, resp), 5)

	resp = env.do(t, "POST", "/api/equipment", "", map[string]string{"name": "Tripod", "category": "Cameras"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Equipment](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.True(t, strings.HasPrefix(created.Barcode, "EQ-"))

	resp = env.do(t, "POST", "/api/equipment", "", map[string]string{"name": "Dup", "barcode": "EQ-1001"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, "GET", "/api/equipment/"+created.ID, "", nil)
	assert.Equal(t, "Tripod", decode[models.Equipment](t, resp).Name)

	resp = env.do(t, "GET", "/api/equipment/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBorrowReturnHandlers(t *testing.T) {
	env := newTestEnv(t, false)
	id := env.idOf(t, "EQ-1002")

	resp := env.do(t, "POST", "/api/equipment/"+id+"/borrow", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	action := decode[models.Action](t, resp)
	assert.Equal(t, models.ActionOpenRecord, action.Type)
	assert.Equal(t, "loan", action.Model)

	resp = env.do(t, "POST", "/api/equipment/"+id+"/borrow", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, "GET", "/api/equipment/"+id+"/loans", "", nil)
	loans := decode[[]models.Loan](t, resp)
	require.Len(t, loans, 1)
	assert.Equal(t, auth.AnonymousOperator, loans[0].Borrower)

	resp = env.do(t, "POST", "/api/equipment/"+id+"/return", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "equipment", decode[models.Action](t, resp).Model)
}

func TestConcurrentBorrowHandlers(t *testing.T) {
	env := newTestEnv(t, false)
	var ids []string
	for i := 0; i < 8; i++ {
		e := &models.Equipment{Name: fmt.Sprintf("Headset %d", i)}
		require.NoError(t, env.inv.Create(context.Background(), e))
		ids = append(ids, e.ID)
	}

	codes := make([]int, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(env.srv.URL+"/api/equipment/"+id+"/borrow", "application/json", nil)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}()
	}
	wg.Wait()
	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, "borrow %d", i)
	}
}

func TestLifecycleHandlers(t *testing.T) {
	env := newTestEnv(t, false)
	id := env.idOf(t, "EQ-1002")

	resp := env.do(t, "POST", "/api/equipment/"+id+"/assign", "", map[string]string{"holder_type": "employee", "holder": "frank"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	e := decode[models.Equipment](t, resp)
	assert.Equal(t, models.StateAssigned, e.State)
	assert.Equal(t, "frank", e.Holder)

	resp = env.do(t, "POST", "/api/equipment/"+id+"/assign", "", map[string]string{"holder_type": "bogus", "holder": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "POST", "/api/equipment/"+id+"/borrow", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	steps := []struct {
		route string
		want  models.EquipmentState
	}{
		{"unassign", models.StateAvailable},
		{"maintenance/start", models.StateMaintenance},
		{"maintenance/complete", models.StateAvailable},
		{"lost", models.StateLost},
		{"found", models.StateAvailable},
		{"retire", models.StateRetired},
	}
	for _, step := range steps {
		resp = env.do(t, "POST", "/api/equipment/"+id+"/"+step.route, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, step.route)
		assert.Equal(t, step.want, decode[models.Equipment](t, resp).State, step.route)
	}

	resp = env.do(t, "POST", "/api/equipment/"+id+"/found", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, "GET", "/api/equipment/lookup?barcode=EQ-1002", "", nil)
	assert.Equal(t, "retired", decode[models.LookupResult](t, resp).Record.Status)
}

func TestCreateRejectsUnknownHolderType(t *testing.T) {
	env := newTestEnv(t, false)
	resp := env.do(t, "POST", "/api/equipment", "", map[string]string{"name": "Phone", "holder_type": "bogus", "holder": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "POST", "/api/equipment", "", map[string]string{"name": "Phone", "holder_type": "employee", "holder": "gina"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, models.StateAssigned, decode[models.Equipment](t, resp).State)
}

func TestMutationsRequireToken(t *testing.T) {
	env := newTestEnv(t, true)
	id := env.idOf(t, "EQ-1001")

	resp := env.do(t, "POST", "/api/equipment/"+id+"/borrow", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, "POST", "/api/equipment/"+id+"/borrow", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, "GET", "/api/equipment/lookup?barcode=EQ-1001", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, "POST", "/api/equipment/"+id+"/borrow", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	loans, err := env.inv.Loans(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "alice", loans[0].Borrower)
}

func TestLabelHandler(t *testing.T) {
	env := newTestEnv(t, false)
	id := env.idOf(t, "EQ-1004")

	resp := env.do(t, "GET", "/api/equipment/"+id+"/label.png?size=200", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())

	resp = env.do(t, "GET", "/api/equipment/"+id+"/label.png?format=pdf417", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "GET", "/api/equipment/"+id+"/label.png?size=5", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScannerPageAndMetrics(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, "GET", "/", "", nil)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/static/scanner.js")

	resp = env.do(t, "GET", "/static/scanner.js", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	id := env.idOf(t, "EQ-1001")
	env.do(t, "POST", "/api/equipment/"+id+"/borrow", "", nil)
	resp = env.do(t, "GET", "/metrics", "", nil)
	body, _ = io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `equipscan_actions_total{action="borrow",result="ok"} 1`)
}
