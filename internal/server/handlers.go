package server

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"camstream/internal/camera"
	"camstream/internal/config"
)

// wsWriteWait はWebSocketへのフレーム書き込みの期限
const wsWriteWait = 5 * time.Second

// Handler はHTTPエンドポイントの実装
type Handler struct {
	config   *config.Config
	manager  *camera.Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler は新しいHandlerを作成する
func NewHandler(cfg *config.Config, manager *camera.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		config:  cfg,
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// register はルートを登録する
func (h *Handler) register(r gin.IRouter) {
	r.GET("/", h.Index)
	r.GET("/health", h.HealthCheck)
	r.GET("/api/status", h.GetStatus)

	stream := r.Group("/stream")
	stream.GET("/available_cameras", h.AvailableCameras)
	stream.GET("/cameras", h.GetCameras)
	stream.GET("/start/:name", h.StartStream)
	stream.POST("/end/:name", h.EndStream)
	stream.GET("/ws/:name", h.StreamWebSocket)

	stream.POST("/fps/:name", h.SetFPS)
	stream.GET("/fps/:name", h.GetFPS)
	stream.POST("/resolution/:name", h.SetResolution)
	stream.GET("/resolution/:name", h.GetResolution)
	stream.POST("/image_quality/:name", h.SetImageQuality)
	stream.GET("/image_quality/:name", h.GetImageQuality)
}

// lookup はパスパラメータのカメラを取得する。見つからなければ404を返す
func (h *Handler) lookup(c *gin.Context) (*camera.Camera, bool) {
	cam, err := h.manager.GetCamera(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return cam, true
}

// Index は簡単な確認用ページ
func (h *Handler) Index(c *gin.Context) {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>camstream</title>
</head>
<body>
    <h1>camstream</h1>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
    <ul>
`)
	for _, name := range h.manager.Names() {
		fmt.Fprintf(&b, "        <li><a href=\"/stream/start/%s\">%s</a></li>\n",
			html.EscapeString(url.PathEscape(name)), html.EscapeString(name))
	}
	b.WriteString(`    </ul>
</body>
</html>`)

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(b.String()))
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Backend:   h.config.Camera.Backend,
		Cameras:   len(h.manager.Names()),
		Streaming: h.manager.StreamingCount(),
		Timestamp: time.Now(),
	})
}

// AvailableCameras はストリーミングしていないカメラ名の一覧を返す
func (h *Handler) AvailableCameras(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.AvailableCameras())
}

// GetCameras は全カメラの状態を返す
func (h *Handler) GetCameras(c *gin.Context) {
	c.JSON(http.StatusOK, CamerasResponse{Cameras: h.manager.Snapshot()})
}

// StartStream はMJPEGストリーミングを配信する
// クライアントの切断かEndStreamでセッションが終わるまで返らない
func (h *Handler) StartStream(c *gin.Context) {
	cam, ok := h.lookup(c)
	if !ok {
		return
	}

	stream, err := cam.StartStream()
	if err != nil {
		respondError(c, err)
		return
	}
	defer stream.Close()

	logger := h.logger.With("camera", cam.Name(), "session", stream.ID())
	logger.Info("ストリームを開始しました", "transport", "mjpeg")

	// レスポンスヘッダーを設定
	c.Header("Content-Type", mjpegContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header(sessionHeader, stream.ID())
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	frames := 0
	for {
		frame, err := stream.Next(ctx)
		if err != nil {
			break
		}

		if err := writePart(c.Writer, frame); err != nil {
			logger.Debug("フレームの書き込みに失敗", "error", err)
			break
		}
		// バッファをフラッシュ
		c.Writer.Flush()
		frames++
	}

	logger.Info("ストリームを終了しました", "frames", frames)
}

// StreamWebSocket はフレームをWebSocketのバイナリメッセージとして配信する
// セッションの扱いは StartStream と同じ
func (h *Handler) StreamWebSocket(c *gin.Context) {
	cam, ok := h.lookup(c)
	if !ok {
		return
	}

	stream, err := cam.StartStream()
	if err != nil {
		respondError(c, err)
		return
	}

	logger := h.logger.With("camera", cam.Name(), "session", stream.ID())

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, http.Header{sessionHeader: {stream.ID()}})
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		stream.Close()
		logger.Warn("WebSocketへのアップグレードに失敗", "error", err)
		return
	}
	defer conn.Close()
	defer stream.Close()

	logger.Info("ストリームを開始しました", "transport", "websocket")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// クライアントからのメッセージは読み捨て、切断を検知したら終了する
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frames := 0
	for {
		frame, err := stream.Next(ctx)
		if err != nil {
			break
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			logger.Debug("フレームの送信に失敗", "error", err)
			break
		}
		frames++
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	logger.Info("ストリームを終了しました", "frames", frames)
}

// EndStream はストリーミングセッションを終了する
func (h *Handler) EndStream(c *gin.Context) {
	cam, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := cam.EndStream(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, true)
}

// SetFPS はフレームレートを変更する
func (h *Handler) SetFPS(c *gin.Context) {
	var q fpsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondValidationError(c, err)
		return
	}

	cam, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := cam.SetFPS(*q.FPS); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, true)
}

// GetFPS はフレームレートを返す
func (h *Handler) GetFPS(c *gin.Context) {
	cam, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cam.FPS())
}

// SetResolution は解像度を変更する
// デバイスの開き直しに失敗した場合は503を返す
func (h *Handler) SetResolution(c *gin.Context) {
	var q resolutionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondValidationError(c, err)
		return
	}

	cam, ok := h.lookup(c)
	if !ok {
		return
	}

	res := camera.Resolution{Horizontal: *q.Horizontal, Vertical: *q.Vertical}
	if err := cam.SetResolution(res); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, true)
}

// GetResolution は解像度を "WxH" 形式で返す
func (h *Handler) GetResolution(c *gin.Context) {
	cam, ok := h.lookup(c)
	if !ok {
		return
	}
	c.String(http.StatusOK, cam.Resolution().String())
}

// SetImageQuality はJPEG品質を変更する
func (h *Handler) SetImageQuality(c *gin.Context) {
	var q qualityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondValidationError(c, err)
		return
	}

	cam, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := cam.SetImageQuality(*q.Quality); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, true)
}

// GetImageQuality はJPEG品質を返す
func (h *Handler) GetImageQuality(c *gin.Context) {
	cam, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cam.ImageQuality())
}
