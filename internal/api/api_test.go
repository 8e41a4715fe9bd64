package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/camera/cameratest"
	"github.com/tphakala/camerad/internal/logger"
	"github.com/tphakala/camerad/internal/observability/metrics"
)

const frontCamera = "Front <video0>"

type testAPI struct {
	e          *echo.Echo
	controller *Controller
	coord      *camera.Coordinator
	factory    *cameratest.Factory
	enumerator *cameratest.Enumerator
	metrics    *metrics.HTTPMetrics
	registry   *prometheus.Registry
	stop       func()
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func newTestAPI(t *testing.T, configure func(*Config)) *testAPI {
	t.Helper()

	root := t.TempDir()
	cfg := camera.DefaultConfig()
	cfg.Paths = camera.CapturePaths{
		PicturesDir: filepath.Join(root, "pictures"),
		VideosDir:   filepath.Join(root, "videos"),
	}

	a := &testAPI{
		factory: cameratest.NewFactory(),
		enumerator: &cameratest.Enumerator{List: []camera.DeviceInfo{
			{DisplayName: "Front", DeviceID: "video0"},
			{DisplayName: "Back", DeviceID: "video2"},
		}},
	}
	a.coord = camera.NewCoordinator(a.factory, cfg,
		camera.WithLogger(quietLogger()),
		camera.WithDeviceEnumerator(a.enumerator))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = a.coord.Run(ctx) }()
	var once sync.Once
	a.stop = func() {
		once.Do(func() {
			cancel()
			select {
			case <-a.coord.Done():
			case <-time.After(5 * time.Second):
				t.Error("coordinator did not stop")
			}
		})
	}
	t.Cleanup(a.stop)

	a.registry = prometheus.NewRegistry()
	m, err := metrics.NewHTTPMetrics(a.registry)
	require.NoError(t, err)
	a.metrics = m

	config := DefaultConfig()
	config.RequestTimeout = 2 * time.Second
	config.Stream.MaxFPS = 0
	if configure != nil {
		configure(config)
	}

	a.e = echo.New()
	a.controller = NewController(a.e, a.coord, config,
		WithLogger(quietLogger()),
		WithHTTPMetrics(m))
	a.controller.memory = func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 8 << 30, Used: 2 << 30, UsedPercent: 25}, nil
	}
	return a
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) create(t *testing.T, name string) int64 {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/cameras", CreateCameraRequest{CameraName: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp CameraResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.CameraID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestListAvailableCamerasIsCached(t *testing.T) {
	a := newTestAPI(t, nil)

	var body struct {
		Cameras []string `json:"cameras"`
		Cached  bool     `json:"cached"`
	}
	rec := a.do(t, http.MethodGet, "/api/v1/cameras", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"Front <video0>", "Back <video2>"}, body.Cameras)
	assert.False(t, body.Cached)

	a.enumerator.List = a.enumerator.List[:1]

	rec = a.do(t, http.MethodGet, "/api/v1/cameras", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Cached)
	assert.Len(t, body.Cameras, 2)

	rec = a.do(t, http.MethodGet, "/api/v1/cameras?refresh=true", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Cached)
	assert.Equal(t, []string{"Front <video0>"}, body.Cameras)
}

func TestCameraLifecycle(t *testing.T) {
	a := newTestAPI(t, nil)
	id := a.create(t, frontCamera)

	rec := a.do(t, http.MethodPost, "/api/v1/cameras/1/initialize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp CameraResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.CameraID)
	require.NotNil(t, resp.PreviewSize)
	assert.Equal(t, cameratest.DefaultPreviewSize, *resp.PreviewSize)

	rec = a.do(t, http.MethodPost, "/api/v1/cameras/1/preview/pause", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = a.do(t, http.MethodPost, "/api/v1/cameras/1/preview/resume", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/v1/cameras/1/picture", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = CameraResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasSuffix(resp.Path, ".jpeg"), resp.Path)

	rec = a.do(t, http.MethodPost, "/api/v1/cameras/1/recording/start", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = a.do(t, http.MethodPost, "/api/v1/cameras/1/recording/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = CameraResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasSuffix(resp.Path, ".mp4"), resp.Path)

	rec = a.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions struct {
		Sessions []camera.SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, id, sessions.Sessions[0].CameraID)

	rec = a.do(t, http.MethodDelete, "/api/v1/cameras/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Disposing twice still succeeds.
	rec = a.do(t, http.MethodDelete, "/api/v1/cameras/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestErrorResponses(t *testing.T) {
	a := newTestAPI(t, nil)
	a.create(t, frontCamera)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
		kind   string
	}{
		{"unknown camera", http.MethodPost, "/api/v1/cameras/99/initialize", nil, http.StatusNotFound, string(camera.KindSessionNotFound)},
		{"duplicate device", http.MethodPost, "/api/v1/cameras", CreateCameraRequest{CameraName: "Other <video0>"}, http.StatusConflict, string(camera.KindDuplicateDevice)},
		{"malformed name", http.MethodPost, "/api/v1/cameras", CreateCameraRequest{CameraName: "video0"}, http.StatusBadRequest, string(camera.KindInvalidArgument)},
		{"non-numeric id", http.MethodPost, "/api/v1/cameras/abc/picture", nil, http.StatusBadRequest, string(camera.KindInvalidArgument)},
		{"pause before preview", http.MethodPost, "/api/v1/cameras/1/preview/pause", nil, http.StatusConflict, string(camera.KindInvalidState)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			resp := decodeError(t, rec)
			assert.Equal(t, tt.kind, resp.Error)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.CorrelationID)
		})
	}

	count, err := testutil.GatherAndCount(a.registry, "camera_http_request_errors_total")
	require.NoError(t, err)
	assert.Equal(t, len(tests), count)
}

func TestRequestTimeout(t *testing.T) {
	a := newTestAPI(t, func(c *Config) { c.RequestTimeout = 50 * time.Millisecond })
	a.create(t, frontCamera)
	a.factory.SetManual(true)

	rec := a.do(t, http.MethodPost, "/api/v1/cameras/1/initialize", nil)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
	assert.Equal(t, kindTimeout, decodeError(t, rec).Error)

	// The initialize request is still pending in the coordinator.
	rec = a.do(t, http.MethodPost, "/api/v1/cameras/1/initialize", nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, string(camera.KindRequestAlreadyPending), decodeError(t, rec).Error)
}

func TestHealthCheck(t *testing.T) {
	a := newTestAPI(t, nil)
	a.create(t, frontCamera)

	rec := a.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "running", body["coordinator"])
	assert.InDelta(t, 1, body["sessions"], 0)
	assert.Contains(t, body, "bridge")
	memory, ok := body["memory"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 8192, memory["total_mb"], 0)

	a.stop()

	rec = a.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, kindUnavailable, decodeError(t, rec).Error)
}

func TestStreamFrames(t *testing.T) {
	a := newTestAPI(t, nil)
	id := a.create(t, frontCamera)
	rec := a.do(t, http.MethodPost, "/api/v1/cameras/1/initialize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	srv := httptest.NewServer(a.e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	type message struct {
		kind int
		data []byte
	}
	messages := make(chan message, 16)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case messages <- message{kind, data}:
			default:
			}
		}
	}()

	rec = a.do(t, http.MethodPost, "/api/v1/cameras/1/stream/start", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	frame := testJPEG(t, 8, 4)
	ctrl := a.factory.Controller("video0")
	require.NotNil(t, ctrl)

	// The sink attaches after the upgrade completes, so frames sent before
	// that are dropped.
	var first message
	deadline := time.After(5 * time.Second)
	for first.data == nil {
		ctrl.EmitFrame(frame)
		select {
		case first = <-messages:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no frame received")
		}
	}

	require.Equal(t, websocket.TextMessage, first.kind)
	var header FrameHeader
	require.NoError(t, json.Unmarshal(first.data, &header))
	assert.Equal(t, id, header.CameraID)
	assert.Equal(t, 8, header.Width)
	assert.Equal(t, 4, header.Height)
	assert.Equal(t, len(frame), header.Bytes)

	select {
	case m := <-messages:
		assert.Equal(t, websocket.BinaryMessage, m.kind)
		assert.Equal(t, frame, m.data)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame payload received")
	}

	require.NoError(t, conn.Close())
	<-readerDone

	assert.Eventually(t, func() bool {
		return a.metrics.GetActiveWSConnections() == 0
	}, 5*time.Second, 10*time.Millisecond)

	// The subscriber was detached when the client went away.
	list, err := a.coord.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].StreamHolder)
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readClose reads until the server closes the stream and returns the close
// frame.
func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		return closeErr
	}
}

func TestStreamCloseReasons(t *testing.T) {
	t.Run("replaced", func(t *testing.T) {
		a := newTestAPI(t, nil)
		srv := httptest.NewServer(a.e)
		t.Cleanup(srv.Close)

		first := dialStream(t, srv)
		require.Eventually(t, func() bool { return a.metrics.GetActiveWSConnections() == 1 },
			5*time.Second, 10*time.Millisecond)
		dialStream(t, srv)

		closeErr := readClose(t, first)
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
		assert.Equal(t, "replaced by another subscriber", closeErr.Text)
	})

	t.Run("coordinator stopped", func(t *testing.T) {
		a := newTestAPI(t, nil)
		srv := httptest.NewServer(a.e)
		t.Cleanup(srv.Close)

		conn := dialStream(t, srv)
		require.Eventually(t, func() bool { return a.metrics.GetActiveWSConnections() == 1 },
			5*time.Second, 10*time.Millisecond)
		a.stop()

		closeErr := readClose(t, conn)
		assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
		assert.Equal(t, "camera service stopping", closeErr.Text)

		const want = `
# HELP camera_ws_connections_total Image stream websocket connections by close reason
# TYPE camera_ws_connections_total counter
camera_ws_connections_total{reason="shutdown"} 1
`
		assert.Eventually(t, func() bool {
			return testutil.GatherAndCompare(a.registry, strings.NewReader(want), "camera_ws_connections_total") == nil
		}, 5*time.Second, 10*time.Millisecond)
	})
}
