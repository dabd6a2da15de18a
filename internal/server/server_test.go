package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"camstream/internal/camera"
	"camstream/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8080
	cfg.Camera.Backend = camera.BackendMock
	cfg.Camera.DefaultWidth = 32
	cfg.Camera.DefaultHeight = 24
	cfg.Camera.IdleWait = 20 * time.Millisecond
	cfg.Camera.PollInterval = time.Millisecond
	return cfg
}

type testEnv struct {
	srv     *Server
	opener  *camera.MockOpener
	manager *camera.Manager
	ts      *httptest.Server
}

// newTestEnv はモックバックエンドで2台のカメラを持つサーバーを作成する
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opener := camera.NewMockOpener()
	devices := camera.StaticEnumerator{
		{Name: "Logitech", Path: "/dev/video0"},
		{Name: "HD Webcam", Path: "/dev/video2"},
	}
	manager := camera.NewManager(context.Background(), devices, opener, cfg.Camera.Options(logger)...)

	srv := New(cfg, manager, logger)
	ts := httptest.NewServer(srv.Handler())

	// 後に登録したものから実行される。セッションを終わらせてからサーバーを閉じる
	t.Cleanup(ts.Close)
	t.Cleanup(manager.Close)

	return &testEnv{srv: srv, opener: opener, manager: manager, ts: ts}
}

// do はハンドラーを直接呼び出す
func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) availableCameras(t *testing.T) []string {
	t.Helper()
	rec := e.do(http.MethodGet, "/stream/available_cameras")
	if rec.Code != http.StatusOK {
		t.Fatalf("available_cameras: unexpected status %d", rec.Code)
	}
	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil {
		t.Fatalf("available_cameras: invalid JSON %q: %v", rec.Body.String(), err)
	}
	return names
}

func (e *testEnv) camera(t *testing.T, name string) *camera.Camera {
	t.Helper()
	cam, err := e.manager.GetCamera(name)
	if err != nil {
		t.Fatalf("GetCamera(%s) failed: %v", name, err)
	}
	return cam
}

// waitFor は条件が満たされるまで最大1秒待つ
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestStreamScenario は一覧取得からストリームの開始・終了までを通して確認する
func TestStreamScenario(t *testing.T) {
	env := newTestEnv(t)

	if got := env.availableCameras(t); !reflect.DeepEqual(got, []string{"Logitech", "HD Webcam"}) {
		t.Fatalf("Expected both cameras available, got %v", got)
	}

	resp, err := http.Get(env.ts.URL + "/stream/start/Logitech")
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("Unexpected Content-Type: %s", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Unexpected Cache-Control: %s", got)
	}
	if resp.Header.Get(sessionHeader) == "" {
		t.Error("Expected session header")
	}

	mr := multipart.NewReader(resp.Body, "frame")
	for i := 0; i < 2; i++ {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("NextPart #%d failed: %v", i, err)
		}
		if got := part.Header.Get("Content-Type"); got != "image/jpeg" {
			t.Errorf("Unexpected part Content-Type: %s", got)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("ReadAll #%d failed: %v", i, err)
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Part #%d is not a JPEG: %v", i, err)
		}
		if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
			t.Errorf("Unexpected frame size %v", img.Bounds())
		}
	}

	if got := env.availableCameras(t); !reflect.DeepEqual(got, []string{"HD Webcam"}) {
		t.Errorf("Expected only HD Webcam available while streaming, got %v", got)
	}

	// 同じカメラの2つ目のストリームは拒否される
	if rec := env.do(http.MethodGet, "/stream/start/Logitech"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for second stream, got %d", rec.Code)
	}

	rec := env.do(http.MethodPost, "/stream/end/Logitech")
	if rec.Code != http.StatusOK {
		t.Fatalf("end: unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != "true" {
		t.Errorf("end: expected true, got %s", rec.Body.String())
	}

	// セッション終了でレスポンスボディが閉じられる
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stream body did not end after /stream/end")
	}

	if got := env.availableCameras(t); !reflect.DeepEqual(got, []string{"Logitech", "HD Webcam"}) {
		t.Errorf("Expected both cameras available after end, got %v", got)
	}
	if env.opener.OpenCount() != env.opener.CloseCount() {
		t.Errorf("Expected every handle released, opens=%d closes=%d", env.opener.OpenCount(), env.opener.CloseCount())
	}
}

func TestStreamClientDisconnect(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/stream/start/Logitech")
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	if _, err := multipart.NewReader(resp.Body, "frame").NextPart(); err != nil {
		t.Fatalf("NextPart failed: %v", err)
	}
	resp.Body.Close()

	cam := env.camera(t, "Logitech")
	waitFor(t, "camera release after disconnect", func() bool {
		return !cam.IsStreaming() && !cam.IsCapturing()
	})
}

func TestErrorResponses(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name           string
		method         string
		target         string
		expectedStatus int
		expectedError  string
	}{
		{"未知のカメラでストリーム開始", http.MethodGet, "/stream/start/Unknown", http.StatusNotFound, "camera_not_found"},
		{"未知のカメラでストリーム終了", http.MethodPost, "/stream/end/Unknown", http.StatusNotFound, "camera_not_found"},
		{"未知のカメラのFPS取得", http.MethodGet, "/stream/fps/Unknown", http.StatusNotFound, "camera_not_found"},
		{"未知のカメラの解像度取得", http.MethodGet, "/stream/resolution/Unknown", http.StatusNotFound, "camera_not_found"},
		{"未知のカメラの画質取得", http.MethodGet, "/stream/image_quality/Unknown", http.StatusNotFound, "camera_not_found"},
		{"未知のカメラの解像度設定", http.MethodPost, "/stream/resolution/Unknown?vertical=480&horizontal=640", http.StatusNotFound, "camera_not_found"},
		{"ストリーミングしていないカメラの終了", http.MethodPost, "/stream/end/Logitech", http.StatusBadRequest, "not_streaming"},
		{"未開始カメラのFPS設定", http.MethodPost, "/stream/fps/Logitech?fps=10", http.StatusBadRequest, "camera_not_started"},
		{"未開始カメラの解像度設定", http.MethodPost, "/stream/resolution/Logitech?vertical=480&horizontal=640", http.StatusBadRequest, "camera_not_started"},
		{"未開始カメラの画質設定", http.MethodPost, "/stream/image_quality/Logitech?quality=50", http.StatusBadRequest, "camera_not_started"},
		{"FPSなし", http.MethodPost, "/stream/fps/Logitech", http.StatusUnprocessableEntity, "validation_error"},
		{"FPSが整数でない", http.MethodPost, "/stream/fps/Logitech?fps=abc", http.StatusUnprocessableEntity, "validation_error"},
		{"FPSが0", http.MethodPost, "/stream/fps/Logitech?fps=0", http.StatusUnprocessableEntity, "invalid_parameter"},
		{"解像度の片方なし", http.MethodPost, "/stream/resolution/Logitech?vertical=480", http.StatusUnprocessableEntity, "validation_error"},
		{"画質が範囲外", http.MethodPost, "/stream/image_quality/Logitech?quality=150", http.StatusUnprocessableEntity, "invalid_parameter"},
		{"画質が負", http.MethodPost, "/stream/image_quality/Logitech?quality=-1", http.StatusUnprocessableEntity, "invalid_parameter"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(tc.method, tc.target)
			if rec.Code != tc.expectedStatus {
				t.Fatalf("予期しないステータスコード: got %d, want %d (%s)", rec.Code, tc.expectedStatus, rec.Body.String())
			}

			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid error body %q: %v", rec.Body.String(), err)
			}
			if body.Error != tc.expectedError {
				t.Errorf("Expected error %s, got %s", tc.expectedError, body.Error)
			}
			if body.Message == "" || body.Timestamp.IsZero() {
				t.Errorf("Expected message and timestamp, got %+v", body)
			}
		})
	}

	if rec := env.do(http.MethodGet, "/stream/end/Logitech"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET /stream/end, got %d", rec.Code)
	}
}

func TestParameterEndpoints(t *testing.T) {
	env := newTestEnv(t)

	// 初期値
	getters := []struct {
		target string
		want   string
	}{
		{"/stream/fps/Logitech", "30"},
		{"/stream/resolution/Logitech", "32x24"},
		{"/stream/image_quality/Logitech", "90"},
	}
	for _, g := range getters {
		rec := env.do(http.MethodGet, g.target)
		if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != g.want {
			t.Errorf("GET %s: got %d %q, want %q", g.target, rec.Code, rec.Body.String(), g.want)
		}
	}

	cam := env.camera(t, "Logitech")
	stream, err := cam.StartStream()
	if err != nil {
		t.Fatalf("StartStream failed: %v", err)
	}
	defer stream.Close()

	setters := []struct {
		target string
		getter string
		want   string
	}{
		{"/stream/fps/Logitech?fps=15", "/stream/fps/Logitech", "15"},
		{"/stream/resolution/Logitech?vertical=48&horizontal=64", "/stream/resolution/Logitech", "64x48"},
		{"/stream/image_quality/Logitech?quality=0", "/stream/image_quality/Logitech", "0"},
		{"/stream/image_quality/Logitech?quality=100", "/stream/image_quality/Logitech", "100"},
	}
	for _, s := range setters {
		rec := env.do(http.MethodPost, s.target)
		if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "true" {
			t.Fatalf("POST %s: got %d %q", s.target, rec.Code, rec.Body.String())
		}
		rec = env.do(http.MethodGet, s.getter)
		if strings.TrimSpace(rec.Body.String()) != s.want {
			t.Errorf("GET %s: got %q, want %q", s.getter, rec.Body.String(), s.want)
		}
	}

	if !cam.IsCapturing() {
		t.Error("Expected camera to be capturing after resolution change")
	}
	if got := env.opener.LastSettings().Resolution.String(); got != "64x48" {
		t.Errorf("Expected device reopened at 64x48, got %s", got)
	}

	// 他のカメラには影響しない
	if rec := env.do(http.MethodGet, "/stream/fps/HD%20Webcam"); strings.TrimSpace(rec.Body.String()) != "30" {
		t.Errorf("Expected HD Webcam fps unchanged, got %q", rec.Body.String())
	}
}

func TestDeviceUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.opener.SetShouldFailOpen(true)

	rec := env.do(http.MethodGet, "/stream/start/Logitech")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if got := env.availableCameras(t); len(got) != 2 {
		t.Errorf("Expected camera to stay available after failed start, got %v", got)
	}
}

func TestResolutionResetFailure(t *testing.T) {
	env := newTestEnv(t)

	cam := env.camera(t, "Logitech")
	stream, err := cam.StartStream()
	if err != nil {
		t.Fatalf("StartStream failed: %v", err)
	}
	defer stream.Close()

	env.opener.SetShouldFailOpen(true)
	rec := env.do(http.MethodPost, "/stream/resolution/Logitech?vertical=48&horizontal=64")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 when reset fails, got %d: %s", rec.Code, rec.Body.String())
	}
	if cam.IsCapturing() {
		t.Error("Expected camera to be stopped after failed reset")
	}
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/stream/ws/Logitech"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if resp.Header.Get(sessionHeader) == "" {
		t.Error("Expected session header on upgrade response")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("Expected binary message, got %d", msgType)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("Message is not a JPEG: %v", err)
	}

	// 同じカメラはHTTPでもWebSocketでも開始できない
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Error("Expected second WebSocket stream to be rejected")
	} else if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for second stream, got %v", resp)
	}

	conn.Close()

	cam := env.camera(t, "Logitech")
	waitFor(t, "camera release after WebSocket close", func() bool {
		return !cam.IsStreaming() && !cam.IsCapturing()
	})
}

func TestWebSocketEndStream(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/stream/ws/Logitech"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	if rec := env.do(http.MethodPost, "/stream/end/Logitech"); rec.Code != http.StatusOK {
		t.Fatalf("end: unexpected status %d", rec.Code)
	}

	// 残りのフレームを読み捨てると正常終了のクローズが届く
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("Expected normal closure, got %v", err)
			}
			break
		}
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/stream/fps/Logitech", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Unexpected Allow-Origin: %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
		t.Errorf("Unexpected Allow-Methods: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/stream/available_cameras", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no Allow-Origin for unknown origin, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("Expected request itself to succeed, got %d", rec.Code)
	}
}

// TestServerEndpoints はサーバーのエンドポイントをテストする
func TestServerEndpoints(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
	}{
		{"ルートエンドポイント", "/", http.StatusOK},
		{"ヘルスチェックエンドポイント", "/health", http.StatusOK},
		{"ステータスエンドポイント", "/api/status", http.StatusOK},
		{"カメラ一覧エンドポイント", "/stream/cameras", http.StatusOK},
		{"存在しないエンドポイント", "/nothing", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(env.ts.URL + tc.endpoint)
			if err != nil {
				t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d",
					resp.StatusCode, tc.expectedStatus)
			}
		})
	}

	var status StatusResponse
	rec := env.do(http.MethodGet, "/api/status")
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if status.Cameras != 2 || status.Streaming != 0 || status.Backend != camera.BackendMock {
		t.Errorf("Unexpected status: %+v", status)
	}

	var cameras struct {
		Cameras []struct {
			Name       string `json:"name"`
			Path       string `json:"path"`
			Resolution string `json:"resolution"`
			Quality    int    `json:"image_quality"`
		} `json:"cameras"`
	}
	rec = env.do(http.MethodGet, "/stream/cameras")
	if err := json.Unmarshal(rec.Body.Bytes(), &cameras); err != nil {
		t.Fatalf("invalid cameras JSON: %v", err)
	}
	if len(cameras.Cameras) != 2 || cameras.Cameras[1].Path != "/dev/video2" || cameras.Cameras[0].Resolution != "32x24" {
		t.Errorf("Unexpected cameras: %+v", cameras.Cameras)
	}

	rec = env.do(http.MethodGet, "/")
	if !strings.Contains(rec.Body.String(), "/stream/start/HD%20Webcam") {
		t.Errorf("Expected index to link cameras, got %s", rec.Body.String())
	}
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	cfg.Server.Port = 0 // ランダムポートを使用
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Camera.Devices = []camera.DeviceEntry{{Name: "テストカメラ", Path: "/dev/video0"}}

	srv, err := NewFromConfig(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("サーバーの作成に失敗しました: %v", err)
	}

	// ストリーミング中でもシャットダウンできること
	cam, err := srv.Manager().GetCamera("テストカメラ")
	if err != nil {
		t.Fatalf("GetCamera failed: %v", err)
	}
	if _, err := cam.StartStream(); err != nil {
		t.Fatalf("StartStream failed: %v", err)
	}

	// テスト用のコンテキスト（タイムアウト付き）
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// サーバーを別ゴルーチンで起動
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	// エラーチャンネルから結果を受信
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}

	if cam.IsStreaming() || cam.IsCapturing() {
		t.Error("Expected shutdown to release every camera")
	}
}

func TestNewFromConfigUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Camera.Backend = "dshow"

	if _, err := NewFromConfig(context.Background(), cfg, nil); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
