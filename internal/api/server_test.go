package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/printer-bridge/internal/driver/drivertest"
	"github.com/thereceipt/printer-bridge/internal/ports"
	"github.com/thereceipt/printer-bridge/internal/printer"
	"github.com/thereceipt/printer-bridge/internal/service"
)

type stubLister struct {
	ports []ports.Descriptor
	err   error
}

func (l stubLister) ListPorts() ([]ports.Descriptor, error) {
	return l.ports, l.err
}

type testEnv struct {
	fake   *drivertest.Fake
	server *Server
	hub    *Hub
}

func newTestEnv(t *testing.T, fake *drivertest.Fake, lister ports.Lister) *testEnv {
	t.Helper()

	manager := printer.NewManager(fake)
	hub := NewHub(nil)
	svc := service.New(manager, service.Config{
		Port:      "/dev/ttyUSB0",
		Baud:      9600,
		ModelID:   5,
		CutFeed:   3,
		QueueSize: 4,
	}, service.WithObserver(hub.Notify))
	t.Cleanup(svc.Stop)

	return &testEnv{
		fake:   fake,
		server: NewServer(svc, manager, lister, hub, nil),
		hub:    hub,
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const orderBody = `{"orderNumber":1234,"items":[{"nome":"Tapioca de Carne de Sol","quantidade":1,"preco":32.00}],"total":32.00}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{})

	rec := env.do("GET", "/health", "")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestPrint_Success(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{})

	rec := env.do("POST", "/print", orderBody)
	require.Equal(t, 200, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(0), body["native_code"])
	assert.NotEmpty(t, body["job_id"])
	assert.NotContains(t, body, "error")

	calls := env.fake.Calls()
	assert.Equal(t, "PEDIDO #1234", calls[1].Text)
	assert.Equal(t, 1, env.fake.Count(drivertest.CallCutPaper))
}

func TestPrint_NoCut(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{})

	body := strings.TrimSuffix(orderBody, "}") + `,"semCorte":true}`
	rec := env.do("POST", "/print", body)
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Equal(t, 0, env.fake.Count(drivertest.CallCutPaper))
}

func TestPrint_OpenFailure(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{OpenCodes: []int{-1}}, stubLister{})

	rec := env.do("POST", "/print", orderBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, float64(-1), body["native_code"])
	assert.NotEmpty(t, body["error"])
}

func TestPrint_BadRequest(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{})

	rec := env.do("POST", "/print", `{"orderNumber":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do("POST", "/print", `{"orderNumber":1,"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestPrintText(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{})

	rec := env.do("POST", "/print/text", `{"text":"Mesa 4"}`)
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Equal(t, "Mesa 4", env.fake.Calls()[1].Text)

	rec = env.do("POST", "/print/text", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPorts(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{ports: []ports.Descriptor{
		{Path: "/dev/ttyUSB0", Manufacturer: "Elgin"},
	}})

	rec := env.do("GET", "/ports", "")
	require.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"ports":[{"path":"/dev/ttyUSB0","manufacturer":"Elgin"}]}`, rec.Body.String())
}

func TestGetPorts_Empty(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{ports: []ports.Descriptor{}})

	rec := env.do("GET", "/ports", "")
	require.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"ports":[]}`, rec.Body.String())
}

func TestGetPorts_Failure(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{err: &ports.DiscoveryError{Err: errors.New("boom")}})

	rec := env.do("GET", "/ports", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "boom")
}

func TestGetPrinter(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{})
	env.do("POST", "/print", orderBody)

	rec := env.do("GET", "/printer", "")
	require.Equal(t, 200, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "closed", body["state"])
	assert.Equal(t, "/dev/ttyUSB0", body["port"])
	assert.Equal(t, float64(9600), body["baud"])
	assert.Equal(t, float64(5), body["model_id"])
	assert.Equal(t, float64(0), body["last_code"])
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{})

	rec := env.do("OPTIONS", "/print", "")
	assert.Equal(t, 204, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocket_PrintResult(t *testing.T) {
	env := newTestEnv(t, &drivertest.Fake{}, stubLister{})
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, time.Second, time.Millisecond)

	resp, err := http.Post(ts.URL+"/print", "application/json", bytes.NewBufferString(orderBody))
	require.NoError(t, err)
	var printed service.PrintResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&printed))
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event string              `json:"event"`
		Data  service.PrintResult `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, EventPrintResult, msg.Event)
	assert.Equal(t, printed.JobID, msg.Data.JobID)
	assert.True(t, msg.Data.Success)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(nil)
	client := &wsClient{send: make(chan WSMessage, 1), hub: hub}
	require.True(t, hub.add(client))

	hub.Close()

	_, open := <-client.send
	assert.False(t, open)
	assert.False(t, hub.add(&wsClient{send: make(chan WSMessage, 1), hub: hub}))
	assert.Equal(t, 0, hub.Count())
}

func TestHub_PortEvents(t *testing.T) {
	hub := NewHub(nil)
	client := &wsClient{send: make(chan WSMessage, 2), hub: hub}
	require.True(t, hub.add(client))

	hub.PortAdded(ports.Descriptor{Path: "/dev/ttyUSB0"})
	hub.PortRemoved(ports.Descriptor{Path: "/dev/ttyUSB0"})

	msg := <-client.send
	assert.Equal(t, EventPortAdded, msg.Event)
	assert.Equal(t, ports.Descriptor{Path: "/dev/ttyUSB0"}, msg.Data)
	msg = <-client.send
	assert.Equal(t, EventPortRemoved, msg.Event)
}
