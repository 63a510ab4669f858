package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

func TestMain(m *testing.M) {
	os.Setenv("TERRAIN_LOG_FILELESS", "1")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testEnv struct {
	server  *RestServer
	service *terrain.Service
	bus     eventbus.EventBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bus := eventbus.NewMemoryBus(256)
	t.Cleanup(func() { bus.Close() })

	svc, err := terrain.New(terrain.Options{
		SectorsPerLine: 2,
		SectorWidth:    16,
		Voxel:          voxel.DefaultConfig(),
		Bus:            bus,
		Registerer:     prometheus.NewRegistry(),
		NodeID:         "api-test",
	})
	require.NoError(t, err)
	stone := voxel.NewMaterial(1)
	stone.Name = "stone"
	require.NoError(t, svc.InsertMaterial(context.Background(), stone))

	return &testEnv{
		server:  NewRestServer(Config{Service: svc, Registry: prometheus.NewRegistry()}),
		service: svc,
		bus:     bus,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var resp GenericResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

// data перекладывает поле data ответа в v
func data(t *testing.T, resp GenericResponse, v interface{}) {
	t.Helper()
	b, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestVoxelEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodPut, "/api/voxel", VoxelRequest{X: 3, Y: 4, Z: 5, Type: 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = env.do(t, http.MethodGet, "/api/voxel?x=3&y=4&z=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v VoxelResponse
	data(t, resp, &v)
	assert.Equal(t, uint8(1), v.Type)
	assert.Equal(t, 4, v.Tile.Y)

	w, resp = env.do(t, http.MethodPut, "/api/voxel", VoxelRequest{X: 32, Type: 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, resp.Success)

	w, _ = env.do(t, http.MethodGet, "/api/voxel?x=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPut, "/api/voxel", strings.NewReader("x=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRegionEndpoints(t *testing.T) {
	env := newTestEnv(t)

	types := make([]int, 8)
	for i := range types {
		types[i] = 1
	}
	region := RegionRequest{Size: vec.New3(2, 2, 2), Origin: vec.New3(14, 0, 0), Types: types}
	w, _ := env.do(t, http.MethodPut, "/api/region", region)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := env.do(t, http.MethodGet, "/api/region?x=13&y=0&z=0&sx=4&sy=1&sz=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got RegionRequest
	data(t, resp, &got)
	assert.Equal(t, []int{0, 1, 1, 0}, got.Types)

	w, _ = env.do(t, http.MethodGet, "/api/region?sx=0&sy=1&sz=1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	region.Types = region.Types[:3]
	w, _ = env.do(t, http.MethodPut, "/api/region", region)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBlockMesh(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/api/voxel", VoxelRequest{X: 1, Y: 1, Z: 1, Type: 1})

	w, resp := env.do(t, http.MethodGet, "/api/block/mesh?sx=0&sy=0&sz=0&bx=0&by=0&bz=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Triangles int `json:"triangles"`
	}
	data(t, resp, &got)
	assert.Greater(t, got.Triangles, 0)

	w, _ = env.do(t, http.MethodGet, "/api/block/mesh?sx=2&bx=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/block/mesh?sx=258", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFindRayCollide(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/api/voxel", VoxelRequest{X: 2, Y: 0, Z: 2, Type: 1})

	w, resp := env.do(t, http.MethodGet, "/api/find?x=2.5&y=2&z=2.5&radius=3&mode=full", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v VoxelResponse
	data(t, resp, &v)
	assert.Equal(t, vec.New3(2, 0, 2), v.Tile)

	w, _ = env.do(t, http.MethodGet, "/api/find?mode=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = env.do(t, http.MethodPost, "/api/ray", RayRequest{
		Start: [3]float32{2.5, 5, 2.5}, End: [3]float32{2.5, -1, 2.5},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var ray RayResponse
	data(t, resp, &ray)
	assert.True(t, ray.Hit)
	assert.Equal(t, vec.New3(2, 0, 2), ray.Tile)

	w, resp = env.do(t, http.MethodPost, "/api/collide", CollideRequest{
		Min: [3]float32{2.1, 0.5, 2.1}, Max: [3]float32{2.9, 1.5, 2.9},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Contacts []json.RawMessage `json:"contacts"`
	}
	data(t, resp, &res)
	assert.Len(t, res.Contacts, 1)

	w, _ = env.do(t, http.MethodPost, "/api/collide", CollideRequest{
		Min: [3]float32{1, 1, 1}, Max: [3]float32{0, 0, 0},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryLimits(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"find radius", http.MethodGet, "/api/find?x=1&y=1&z=1&radius=33", nil},
		{"ray length", http.MethodPost, "/api/ray", RayRequest{End: [3]float32{300, 0, 0}}},
		{"collide volume", http.MethodPost, "/api/collide", CollideRequest{Max: [3]float32{100, 100, 100}}},
		{"collide huge", http.MethodPost, "/api/collide", CollideRequest{
			Min: [3]float32{-1e7, -1e7, -1e7}, Max: [3]float32{1e7, 1e7, 1e7},
		}},
		{"refresh radius", http.MethodPost, "/api/refresh", RefreshRequest{Radius: 1e6}},
		{"refresh negative", http.MethodPost, "/api/refresh", RefreshRequest{Radius: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, resp.Success)
		})
	}
	assert.Equal(t, 0, env.service.Stats(context.Background()).Sectors, "rejected requests load nothing")

	// На пределе запросы проходят
	w, _ := env.do(t, http.MethodGet, "/api/find?x=1&y=1&z=1&radius=32&mode=empty", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodPost, "/api/ray", RayRequest{End: [3]float32{256, 0, 0}})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodPost, "/api/collide", CollideRequest{Max: [3]float32{31.5, 31.5, 31.5}})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodPost, "/api/refresh", RefreshRequest{Radius: 32})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMaterialsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPut, "/api/materials", map[string]interface{}{
		"id": 2, "name": "water", "class": "liquid", "texture_scale": 2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := env.do(t, http.MethodGet, "/api/materials", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Materials []*voxel.Material `json:"materials"`
		Total     int               `json:"total"`
	}
	data(t, resp, &got)
	require.Equal(t, 2, got.Total)
	assert.Equal(t, "water", got.Materials[1].Name)
	assert.Equal(t, float32(2), got.Materials[1].TextureScale)

	w, _ = env.do(t, http.MethodPut, "/api/materials", map[string]interface{}{"id": 3, "class": "jelly"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodPut, "/api/materials", map[string]interface{}{"id": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodDelete, "/api/materials/2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, env.service.Materials(context.Background()), 1)

	w, _ = env.do(t, http.MethodDelete, "/api/materials/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsTickAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/api/voxel", VoxelRequest{X: 1, Y: 1, Z: 1, Type: 1})

	w, resp := env.do(t, http.MethodPost, "/api/tick", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tick terrain.TickStats
	data(t, resp, &tick)
	assert.Equal(t, 1, tick.Built)

	w, resp = env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Terrain terrain.Stats  `json:"terrain"`
		Server  map[string]any `json:"server"`
	}
	data(t, resp, &stats)
	assert.Equal(t, 1, stats.Terrain.Sectors)
	assert.Equal(t, "api-test", stats.Server["node_id"])

	w, resp = env.do(t, http.MethodPost, "/api/refresh", RefreshRequest{Point: [3]float32{16, 16, 16}, Radius: 1})
	require.Equal(t, http.StatusOK, w.Code)
	var refreshed terrain.Stats
	data(t, resp, &refreshed)
	assert.Equal(t, 8, refreshed.Sectors)

	w, _ = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "terrain_api_http_request_duration_seconds")
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?types=" + eventbus.EventBlockLoad
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	env.service.Edit(ctx, vec.New3(1, 1, 1), voxel.Voxel{Type: 1})
	env.service.Tick(ctx)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev eventbus.Envelope
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, eventbus.EventBlockLoad, ev.EventType)
	assert.Equal(t, "api-test", ev.Source)
	var addr voxel.BlockAddress
	require.NoError(t, ev.Decode(&addr))
	assert.Equal(t, [3]uint8{0, 0, 0}, addr.Block)
}
