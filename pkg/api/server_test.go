package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/fleetmon/fleetmon/pkg/aggregate"
	"github.com/fleetmon/fleetmon/pkg/db"
	"github.com/fleetmon/fleetmon/pkg/hierarchy"
	"github.com/fleetmon/fleetmon/pkg/ingest"
	"github.com/fleetmon/fleetmon/pkg/status"
)

func newTestServer(t *testing.T, limiter *rate.Limiter) (*Server, db.Service) {
	t.Helper()

	svc, err := db.New(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = svc.Close() })

	log := zerolog.New(io.Discard)

	queue := ingest.NewQueue(svc, ingest.QueueConfig{}, log)
	intake := ingest.NewIntake(queue, log)
	resolver := hierarchy.New(svc, time.Minute)
	publisher := aggregate.NewPublisher(svc, resolver, 20*time.Millisecond, log)

	return NewServer(svc, intake, publisher, resolver, limiter, log), svc
}

func seedGroup(t *testing.T, svc db.Service, id int64, name string, parentID int64) {
	t.Helper()

	var parent interface{}
	if parentID != 0 {
		parent = parentID
	}

	_, err := svc.Exec("INSERT INTO groups (id, name, parent_id) VALUES (?, ?, ?)", id, name, parent)
	require.NoError(t, err)
}

func seedDevice(t *testing.T, svc db.Service, serial string, st status.Status, groupID int64) {
	t.Helper()

	var group interface{}
	if groupID != 0 {
		group = groupID
	}

	_, err := svc.Exec(
		"INSERT INTO pcs (serial_number, name, status, group_id) VALUES (?, ?, ?, ?)",
		serial, serial, string(st), group)
	require.NoError(t, err)
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	return w
}

func TestPutReportAccepted(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	seedDevice(t, svc, "SN-1", status.Unset, 0)

	w := doJSON(t, srv.Router(), http.MethodPut, "/api/report",
		`{"SN": "SN-1", "status": {"BOARD": "OK", "PC": "OK"}, "ip": "10.0.0.8"}`)

	require.Equal(t, http.StatusAccepted, w.Code)

	var result ingest.Result

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Accepted)
	assert.Equal(t, 1, result.QueueSize)
}

func TestPutReportRejectsMissingSerial(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := doJSON(t, srv.Router(), http.MethodPut, "/api/report",
		`{"status": {"BOARD": "OK", "PC": "OK"}}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutReportRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := doJSON(t, srv.Router(), http.MethodPut, "/api/report", `{not json`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportRateLimited(t *testing.T) {
	srv, svc := newTestServer(t, rate.NewLimiter(rate.Limit(1), 1))

	seedDevice(t, svc, "SN-1", status.Unset, 0)

	body := `{"SN": "SN-1", "status": {"BOARD": "OK", "PC": "OK"}}`

	w := doJSON(t, srv.Router(), http.MethodPut, "/api/report", body)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, srv.Router(), http.MethodPut, "/api/report", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestGetStatus(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	seedDevice(t, svc, "SN-1", status.Normal, 0)
	seedDevice(t, svc, "SN-2", status.Shutdown, 0)

	w := doJSON(t, srv.Router(), http.MethodGet, "/api/status", "")

	require.Equal(t, http.StatusOK, w.Code)

	var snap aggregate.FleetSnapshot

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Normal)
	assert.Equal(t, 1, snap.Shutdown)
}

func TestGetDevicesPagination(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	for _, serial := range []string{"SN-1", "SN-2", "SN-3"} {
		seedDevice(t, svc, serial, status.Normal, 0)
	}

	w := doJSON(t, srv.Router(), http.MethodGet, "/api/devices?page=2&limit=2", "")

	require.Equal(t, http.StatusOK, w.Code)

	var page devicesPage

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Devices, 1)
	assert.Equal(t, "SN-3", page.Devices[0].SerialNumber)
}

func TestGetDevice(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	seedDevice(t, svc, "SN-1", status.Warning, 0)

	w := doJSON(t, srv.Router(), http.MethodGet, "/api/devices/SN-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var device db.Device

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &device))
	assert.Equal(t, status.Warning, device.Status)

	w = doJSON(t, srv.Router(), http.MethodGet, "/api/devices/SN-404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetGroupCounts(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	seedGroup(t, svc, 1, "hq", 0)
	seedGroup(t, svc, 2, "floor-1", 1)
	seedDevice(t, svc, "SN-1", status.Normal, 2)

	w := doJSON(t, srv.Router(), http.MethodGet, "/api/groups/counts", "")

	require.Equal(t, http.StatusOK, w.Code)

	var counts []aggregate.GroupCount

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counts))
	require.Len(t, counts, 2)

	byID := map[int64]int{}
	for _, c := range counts {
		byID[c.GroupID] = c.Devices
	}

	assert.Equal(t, 1, byID[1])
	assert.Equal(t, 1, byID[2])
}

func TestGetLogsFilters(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	seedGroup(t, svc, 1, "hq", 0)
	seedDevice(t, svc, "SN-1", status.Shutdown, 1)
	seedDevice(t, svc, "SN-2", status.Normal, 0)

	ts := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, svc.InsertTransition(1, status.Shutdown, ts))
	require.NoError(t, svc.InsertTransition(2, status.Normal, ts))

	w := doJSON(t, srv.Router(), http.MethodGet, "/api/logs?group=1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var logs []db.Transition

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, int64(1), logs[0].PCID)

	w = doJSON(t, srv.Router(), http.MethodGet, "/api/logs?status=NOT+Normal", "")
	require.Equal(t, http.StatusOK, w.Code)

	logs = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, status.Shutdown, logs[0].Status)

	w = doJSON(t, srv.Router(), http.MethodGet, "/api/logs?start=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTimeOverRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := doJSON(t, srv.Router(), http.MethodGet, "/api/config/timeover", "")
	require.Equal(t, http.StatusOK, w.Code)

	var payload timeOverPayload

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, db.DefaultTimeOverSeconds, payload.Seconds)

	w = doJSON(t, srv.Router(), http.MethodPut, "/api/config/timeover", `{"seconds": 120}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv.Router(), http.MethodGet, "/api/config/timeover", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, 120, payload.Seconds)

	w = doJSON(t, srv.Router(), http.MethodPut, "/api/config/timeover", `{"seconds": 0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFleetStreamPushesSnapshots(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	seedDevice(t, svc, "SN-1", status.Normal, 0)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/status/stream"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	defer func() {
		_ = conn.Close()
		_ = resp.Body.Close()
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first, second aggregate.FleetSnapshot

	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 1, first.Total)

	require.NoError(t, conn.ReadJSON(&second))
	assert.False(t, second.Timestamp.Before(first.Timestamp))
}

func TestGroupStreamPushesSnapshots(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	seedGroup(t, svc, 1, "hq", 0)
	seedGroup(t, svc, 2, "floor-1", 1)
	seedDevice(t, svc, "SN-1", status.Shutdown, 2)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/groups/1/status/stream"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	defer func() {
		_ = conn.Close()
		_ = resp.Body.Close()
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var snap aggregate.GroupSnapshot

	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, int64(1), snap.GroupID)
	require.Len(t, snap.Shutdown, 1)
	assert.Equal(t, "SN-1", snap.Shutdown[0].SerialNumber)
}

func TestGroupStreamRejectsBadID(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := doJSON(t, srv.Router(), http.MethodGet, "/api/groups/bogus/status/stream", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
