package camera

import (
	"context"
	"log/slog"
)

// Manager は起動時に列挙したカメラを名前で管理する
//
// メンバーは構築後に変化しないため、検索にロックは不要。
// 個々のCameraの状態はCamera側で保護される。
type Manager struct {
	cameras map[string]*Camera
	order   []string
	logger  *slog.Logger
}

// NewManager は列挙結果から一度だけカメラ一覧を構築する
//
// 列挙に失敗した場合や0件の場合は空のManagerとなる（エラーではない）。
// 重複した名前は最初のものを採用する。
func NewManager(ctx context.Context, enumerator Enumerator, opener Opener, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		cameras: make(map[string]*Camera),
		logger:  o.logger,
	}

	entries, err := enumerator.Enumerate(ctx)
	if err != nil {
		m.logger.Warn("カメラの列挙に失敗しました。カメラ無しで起動します", "error", err)
		return m
	}

	for _, entry := range entries {
		if _, exists := m.cameras[entry.Name]; exists {
			m.logger.Warn("重複したカメラ名を無視します", "camera", entry.Name, "path", entry.Path)
			continue
		}

		m.cameras[entry.Name] = newCamera(entry.Name, entry.Path, opener, o)
		m.order = append(m.order, entry.Name)
		m.logger.Info("カメラを登録しました", "camera", entry.Name, "path", entry.Path)
	}

	if len(m.order) == 0 {
		m.logger.Warn("利用可能なカメラが見つかりません")
	}

	return m
}

// GetCamera は指定された名前のカメラを取得する
func (m *Manager) GetCamera(name string) (*Camera, error) {
	cam, exists := m.cameras[name]
	if !exists {
		return nil, &NotFoundError{Name: name}
	}
	return cam, nil
}

// CameraPathFromName は指定された名前のカメラのデバイスパスを返す
func (m *Manager) CameraPathFromName(name string) (string, error) {
	cam, err := m.GetCamera(name)
	if err != nil {
		return "", err
	}
	return cam.Path(), nil
}

// AvailableCameras はストリーミングしていないカメラ名を登録順に返す
func (m *Manager) AvailableCameras() []string {
	available := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if !m.cameras[name].IsStreaming() {
			available = append(available, name)
		}
	}
	return available
}

// Names は全カメラ名を登録順に返す
func (m *Manager) Names() []string {
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Cameras は全カメラを登録順に返す
func (m *Manager) Cameras() []*Camera {
	cameras := make([]*Camera, 0, len(m.order))
	for _, name := range m.order {
		cameras = append(cameras, m.cameras[name])
	}
	return cameras
}

// Snapshot は全カメラの状態を登録順に返す
func (m *Manager) Snapshot() []Info {
	infos := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		infos = append(infos, m.cameras[name].Info())
	}
	return infos
}

// StreamingCount はストリーミング中のカメラ数を返す
func (m *Manager) StreamingCount() int {
	count := 0
	for _, cam := range m.cameras {
		if cam.IsStreaming() {
			count++
		}
	}
	return count
}

// Close は全セッションを終了し、全デバイスを解放する
func (m *Manager) Close() {
	for _, name := range m.order {
		m.cameras[name].Close()
	}
}
