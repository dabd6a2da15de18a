package server

import (
	"time"

	"camstream/internal/camera"
)

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はリッスン中のサーバー情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string     `json:"status"`
	Server    ServerInfo `json:"server"`
	Backend   string     `json:"backend"`
	Cameras   int        `json:"cameras"`
	Streaming int        `json:"streaming"`
	Timestamp time.Time  `json:"timestamp"`
}

// CamerasResponse はカメラ一覧のレスポンス
type CamerasResponse struct {
	Cameras []camera.Info `json:"cameras"`
}

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// クエリパラメータ
// 範囲の検証はcameraパッケージで行い、ここでは必須と整数であることのみ確認する

type fpsQuery struct {
	FPS *int `form:"fps" binding:"required"`
}

type resolutionQuery struct {
	Vertical   *int `form:"vertical" binding:"required"`
	Horizontal *int `form:"horizontal" binding:"required"`
}

type qualityQuery struct {
	Quality *int `form:"quality" binding:"required"`
}
