package camera

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultIdleWait はデバイスが開いていない間のストリームの待機時間
	DefaultIdleWait = time.Second

	// DefaultPollInterval はペーシングループの再確認間隔
	DefaultPollInterval = 5 * time.Millisecond
)

// Option はCameraの設定を変更する関数
type Option func(o *options)

type options struct {
	settings     Settings
	encoder      Encoder
	logger       *slog.Logger
	idleWait     time.Duration
	pollInterval time.Duration
}

func defaultOptions() options {
	return options{
		settings:     DefaultSettings(),
		encoder:      NewJPEGEncoder(),
		logger:       slog.Default(),
		idleWait:     DefaultIdleWait,
		pollInterval: DefaultPollInterval,
	}
}

// WithSettings は初期のキャプチャ設定を指定する
func WithSettings(s Settings) Option {
	return func(o *options) {
		o.settings = s
	}
}

// WithEncoder はJPEGエンコーダーを指定する
func WithEncoder(e Encoder) Option {
	return func(o *options) {
		if e != nil {
			o.encoder = e
		}
	}
}

// WithLogger はロガーを指定する
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIdleWait はデバイス未オープン時のバックオフ時間を指定する
func WithIdleWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleWait = d
		}
	}
}

// WithPollInterval はペーシングの再確認間隔を指定する
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// session は1回のストリーミングセッション
type session struct {
	id   string
	done chan struct{}
}

// Camera は名前付きの単一キャプチャデバイス
//
// デバイスハンドルの開閉・パラメータ適用・フレーム読み込みは全てmuで直列化される。
type Camera struct {
	name   string
	path   string
	opener Opener

	encoder      Encoder
	logger       *slog.Logger
	idleWait     time.Duration
	pollInterval time.Duration

	mu         sync.Mutex
	fps        int
	resolution Resolution
	quality    int
	device     Device
	started    bool // 一度でも開始に成功したか
	session    *session
}

// NewCamera は新しいCameraを作成する
func NewCamera(name, path string, opener Opener, opts ...Option) *Camera {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newCamera(name, path, opener, o)
}

func newCamera(name, path string, opener Opener, o options) *Camera {
	return &Camera{
		name:         name,
		path:         path,
		opener:       opener,
		encoder:      o.encoder,
		logger:       o.logger.With("camera", name),
		idleWait:     o.idleWait,
		pollInterval: o.pollInterval,
		fps:          o.settings.FPS,
		resolution:   o.settings.Resolution,
		quality:      o.settings.Quality,
	}
}

// Name はカメラ名を返す
func (c *Camera) Name() string { return c.name }

// Path はデバイスパスを返す
func (c *Camera) Path() string { return c.path }

// FPS は現在のフレームレートを返す
func (c *Camera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// Resolution は現在の解像度を返す
func (c *Camera) Resolution() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolution
}

// ImageQuality は現在のJPEG品質を返す
func (c *Camera) ImageQuality() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// IsCapturing はデバイスハンドルが開いているかを返す
func (c *Camera) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device != nil
}

// IsStreaming はストリームセッションが動作中かを返す
func (c *Camera) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Info は現在の状態のスナップショットを返す
func (c *Camera) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{
		Name:       c.name,
		Path:       c.path,
		FPS:        c.fps,
		Resolution: c.resolution,
		Quality:    c.quality,
		Capturing:  c.device != nil,
		Streaming:  c.session != nil,
	}
	if c.session != nil {
		info.Session = c.session.id
	}
	return info
}

// Start は現在の設定でデバイスを開く
// 既に開いている場合は先に解放してから開き直す
func (c *Camera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

// Stop はデバイスを解放する。停止済みなら何もしない
func (c *Camera) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// SetFPS はフレームレートを変更する
// デバイスの再初期化は行わない
func (c *Camera) SetFPS(fps int) error {
	if err := validateFPS(fps); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return &NotStartedError{Action: "FPSの設定", Name: c.name}
	}

	// ペーシングはソフトウェア側で行うため、デバイスが拒否しても値は更新する
	if err := c.device.SetFPS(fps); err != nil {
		c.logger.Warn("デバイスへのFPS適用に失敗", "fps", fps, "error", err)
	}
	c.fps = fps
	return nil
}

// SetResolution は解像度を変更し、デバイスを開き直す
// 開き直しに失敗した場合、カメラは停止状態となりエラーを返す
func (c *Camera) SetResolution(res Resolution) error {
	if _, err := NewResolution(res.Horizontal, res.Vertical); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return &NotStartedError{Action: "解像度の設定", Name: c.name}
	}

	c.resolution = res

	// 停止中かつストリームも無い場合は次回の開始時に適用する
	if c.device == nil && c.session == nil {
		return nil
	}

	if err := c.resetLocked(); err != nil {
		c.logger.Error("解像度変更後のデバイス再起動に失敗", "resolution", res.String(), "error", err)
		return err
	}
	return nil
}

// SetImageQuality はJPEG品質を変更する
func (c *Camera) SetImageQuality(quality int) error {
	if err := validateQuality(quality); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return &NotStartedError{Action: "画質の設定", Name: c.name}
	}

	if err := c.device.SetQuality(quality); err != nil {
		c.logger.Warn("デバイスへの画質適用に失敗", "quality", quality, "error", err)
	}
	c.quality = quality
	return nil
}

// StartStream はデバイスを開き、新しいストリームセッションを開始する
// ストリーミング中の場合は ErrAlreadyStreaming を返し、既存セッションには触れない
func (c *Camera) StartStream() (*Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil, ErrAlreadyStreaming
	}

	if err := c.startLocked(); err != nil {
		return nil, err
	}

	sess := &session{
		id:   uuid.New().String(),
		done: make(chan struct{}),
	}
	c.session = sess

	return newStream(c, sess), nil
}

// EndStream はストリームセッションを終了させ、デバイスを解放する
// ペーシングループは次の確認時に終了を検知する
func (c *Camera) EndStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrNotStreaming
	}

	c.endSessionLocked()
	c.stopLocked()
	return nil
}

// Close はセッションを終了し、デバイスを解放する
func (c *Camera) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.endSessionLocked()
	}
	c.stopLocked()
}

// startLocked はデバイスを開く（ロック済み前提）
func (c *Camera) startLocked() error {
	if c.device != nil {
		c.stopLocked()
	}

	dev, err := c.opener.Open(c.path, c.settingsLocked())
	if err != nil {
		return &DeviceOpenError{Name: c.name, Path: c.path, Err: err}
	}

	c.device = dev
	c.started = true
	c.logger.Debug("デバイスを開きました", "path", c.path, "resolution", c.resolution.String(), "fps", c.fps)
	return nil
}

// stopLocked はデバイスを解放する（ロック済み前提）
func (c *Camera) stopLocked() {
	if c.device == nil {
		return
	}

	if err := c.device.Close(); err != nil {
		c.logger.Warn("デバイスの解放に失敗", "path", c.path, "error", err)
	}
	c.device = nil
	c.logger.Debug("デバイスを解放しました", "path", c.path)
}

// resetLocked はデバイスを閉じてから現在の設定で開き直す（ロック済み前提）
func (c *Camera) resetLocked() error {
	c.stopLocked()
	return c.startLocked()
}

// endSessionLocked はセッションを終了させる（ロック済み前提）
func (c *Camera) endSessionLocked() {
	close(c.session.done)
	c.session = nil
}

func (c *Camera) settingsLocked() Settings {
	return Settings{
		FPS:        c.fps,
		Resolution: c.resolution,
		Quality:    c.quality,
	}
}

// frameInterval は現在のfpsから算出したフレーム間隔を返す
func (c *Camera) frameInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Second / time.Duration(c.fps)
}

// readFrame はセッションが有効な間だけデバイスからフレームを読み込む
func (c *Camera) readFrame(sess *session) (rawFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != sess {
		return rawFrame{}, ErrStreamEnded
	}
	if c.device == nil {
		return rawFrame{}, errNotCapturing
	}

	img, err := c.device.ReadFrame()
	if err != nil {
		return rawFrame{}, err
	}
	return rawFrame{image: img, quality: c.quality}, nil
}

// finish はセッションがまだ有効な場合に終了させ、デバイスを解放する
func (c *Camera) finish(sess *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != sess {
		return
	}
	c.endSessionLocked()
	c.stopLocked()
}
