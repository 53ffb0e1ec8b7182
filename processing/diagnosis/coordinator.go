package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"plantdoctor/internal/logging"
	"plantdoctor/internal/models"
	"plantdoctor/processing/capture"
	"plantdoctor/processing/render"
	"plantdoctor/processing/report"
)

const (
	DefaultRefreshInterval = 30 * time.Millisecond
	DefaultMimeType        = "image/png"

	eventBuffer = 64
)

// Placeholder and status texts shown to the user.
const (
	StatusReady          = "Ready"
	StatusNoCameras      = "No cameras detected"
	StatusCameraError    = "Camera error"
	StatusNoFrame        = "No camera frame available to capture"
	StatusAnalyzing      = "Analyzing image..."
	StatusComplete       = "Analysis complete"
	StatusFailed         = "Analysis failed"
	StatusStopped        = "Stopped"
	LabelIdentifying     = "Identifying disease..."
	LabelFailed          = "Analysis failed"
	ReportPlaceholder    = "Analyzing image... Please wait..."
	statusRestarting     = "Restarting..."
	statusUploadFailedFm = "Failed to load image: %v"
)

var ErrAlreadyRunning = errors.New("diagnosis: coordinator already running")

// FrameSource is the camera side of the pipeline.
type FrameSource interface {
	ListDevices() []int
	Open(id int) error
	Switch(id int) error
	ReadFrame() (models.Frame, error)
	Release() error
	Active() (int, bool)
}

type Renderer interface {
	Fit(img image.Image, vpW, vpH int) (image.Image, bool)
}

type Analyzer interface {
	Analyze(ctx context.Context, req *models.AnalysisRequest) (string, error)
}

// Presenter is the presentation boundary. Calls come from the coordinator
// loop; implementations marshal onto their own UI thread. A nil bitmap
// clears the pane.
type Presenter interface {
	Render(pane models.Pane, bitmap image.Image)
	Publish(state models.AppState)
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

func WithRefreshInterval(d time.Duration) Option {
	return func(co *Coordinator) { co.interval = d }
}

// WithAnalysisTimeout bounds each remote call. Zero leaves calls unbounded.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(co *Coordinator) { co.timeout = d }
}

// WithPreferredDevice picks the camera opened at startup when present.
func WithPreferredDevice(id int) Option {
	return func(co *Coordinator) { co.preferred = id }
}

func WithMimeType(mime string) Option {
	return func(co *Coordinator) { co.mimeType = mime }
}

type viewport struct {
	w, h int
}

type completion struct {
	seq  uint64
	text string
	err  error
}

// Coordinator owns AppState and drives capture, dispatch and completion.
// Every state mutation happens on the goroutine running Run; background
// analysis units only send completions back to it.
type Coordinator struct {
	source    FrameSource
	renderer  Renderer
	analyzer  Analyzer
	presenter Presenter

	clock     clock.Clock
	logger    *zap.Logger
	interval  time.Duration
	timeout   time.Duration
	preferred int
	mimeType  string
	encode    func(image.Image, string) ([]byte, error)
	load      func(string) (models.Frame, error)

	events      chan func()
	completions chan completion
	quit        chan struct{}
	done        chan struct{}
	quitOnce    sync.Once
	started     atomic.Bool
	inflight    sync.WaitGroup

	bg     context.Context
	cancel context.CancelFunc

	// Loop-owned.
	state     models.AppState
	viewports [2]viewport
	paused    bool
}

func NewCoordinator(source FrameSource, renderer Renderer, analyzer Analyzer, presenter Presenter, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:      source,
		renderer:    renderer,
		analyzer:    analyzer,
		presenter:   presenter,
		clock:       clock.New(),
		interval:    DefaultRefreshInterval,
		mimeType:    DefaultMimeType,
		encode:      render.Encode,
		load:        capture.LoadImage,
		events:      make(chan func(), eventBuffer),
		completions: make(chan completion, eventBuffer),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		state:       models.AppState{Status: StatusReady, Phase: models.PhaseIdle},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = logging.OrNop(c.logger).Named("coordinator")
	if c.presenter == nil {
		c.presenter = nopPresenter{}
	}
	if c.interval <= 0 {
		c.interval = DefaultRefreshInterval
	}

	return c
}

// Run is the UI-affine timeline. It opens the camera, then serves events,
// completions and refresh ticks until Shutdown or ctx cancellation. The
// camera is released before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	c.bg, c.cancel = context.WithCancel(ctx)
	defer c.cancel()

	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()

	c.startCamera()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()

		case <-c.quit:
			c.shutdown()
			return nil

		case fn := <-c.events:
			fn()

		case msg := <-c.completions:
			c.complete(msg)

		case <-ticker.C:
			c.refresh()
		}
	}
}

// Shutdown stops the loop and releases the camera. Safe to call repeatedly
// and from any goroutine.
func (c *Coordinator) Shutdown() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until every background analysis unit has finished.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// Capture freezes the latest live frame and sends it for analysis.
func (c *Coordinator) Capture() {
	c.post(func() {
		if c.state.CurrentFrame == nil || c.state.CurrentFrame.IsZero() {
			c.state.Status = StatusNoFrame
			c.publish()
			return
		}
		c.freeze(*c.state.CurrentFrame)
	})
}

// Upload decodes path off the loop, then freezes it like a capture.
func (c *Coordinator) Upload(path string) {
	go func() {
		frame, err := c.load(path)

		c.post(func() {
			if err != nil {
				c.logger.Warn("image import failed", zap.String("path", path), zap.Error(err))
				c.state.Status = fmt.Sprintf(statusUploadFailedFm, err)
				c.publish()
				return
			}
			c.freeze(frame)
		})
	}()
}

// SwitchDevice closes the current camera and opens id.
func (c *Coordinator) SwitchDevice(id int) {
	c.post(func() {
		if cur, ok := c.source.Active(); ok && cur == id {
			return
		}
		c.openDevice(id)
	})
}

// ResizeViewport records a pane's size and redraws what it shows.
func (c *Coordinator) ResizeViewport(pane models.Pane, w, h int) {
	c.post(func() {
		if pane != models.PaneLive && pane != models.PaneCaptured {
			return
		}
		c.viewports[pane] = viewport{w: w, h: h}

		switch pane {
		case models.PaneLive:
			if c.state.CameraActive && c.state.CurrentFrame != nil {
				c.render(pane, *c.state.CurrentFrame)
			}
		case models.PaneCaptured:
			if c.state.CapturedImage != nil {
				c.render(pane, *c.state.CapturedImage)
			}
		}
	})
}

// Pause stops pulling frames without tearing the loop down.
func (c *Coordinator) Pause() {
	c.post(func() { c.paused = true })
}

func (c *Coordinator) Resume() {
	c.post(func() { c.paused = false })
}

// Restart releases the camera, forgets the captured image and result,
// re-probes devices and reopens one. In-flight analyses become stale.
func (c *Coordinator) Restart() {
	c.post(func() {
		if err := c.source.Release(); err != nil {
			c.logger.Warn("releasing camera on restart", zap.Error(err))
		}

		c.state = models.AppState{
			Seq:    c.state.Seq + 1,
			Status: statusRestarting,
			Phase:  models.PhaseIdle,
		}
		c.paused = false

		c.presenter.Render(models.PaneLive, nil)
		c.presenter.Render(models.PaneCaptured, nil)
		c.publish()

		c.startCamera()
	})
}

// State returns a snapshot of AppState served by the loop. It must not be
// called from inside a Presenter callback.
func (c *Coordinator) State() models.AppState {
	reply := make(chan models.AppState, 1)

	if c.post(func() { reply <- c.state.Clone() }) {
		select {
		case st := <-reply:
			return st
		case <-c.done:
		}
	}

	<-c.done
	return c.state.Clone()
}

func (c *Coordinator) post(fn func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}

	select {
	case c.events <- fn:
		return true
	case <-c.quit:
		return false
	case <-c.done:
		return false
	}
}

func (c *Coordinator) startCamera() {
	devices := c.source.ListDevices()
	c.state.Devices = devices

	if len(devices) == 0 {
		c.logger.Warn("no cameras detected; upload-based analysis remains available")
		c.state.CameraActive = false
		c.state.Status = StatusNoCameras
		c.publish()
		return
	}

	id := devices[0]
	if slices.Contains(devices, c.preferred) {
		id = c.preferred
	}

	c.openDevice(id)
}

func (c *Coordinator) openDevice(id int) {
	c.state.CameraActive = false

	if err := c.source.Switch(id); err != nil {
		c.logger.Warn("camera open failed", zap.Int("device", id), zap.Error(err))
		c.state.CurrentFrame = nil
		c.state.Status = fmt.Sprintf("Failed to open camera %d", id)
		c.presenter.Render(models.PaneLive, nil)
		c.publish()
		return
	}

	c.state.CameraActive = true
	c.state.ActiveDevice = id
	c.state.CurrentFrame = nil
	c.state.Status = fmt.Sprintf("Using Camera %d", id)
	c.publish()
}

func (c *Coordinator) refresh() {
	if c.paused || !c.state.CameraActive {
		return
	}

	frame, err := c.source.ReadFrame()
	if err != nil {
		c.logger.Warn("live feed stopped", zap.Error(err))
		c.state.CameraActive = false
		c.state.Status = StatusCameraError
		c.publish()
		return
	}

	c.state.CurrentFrame = &frame
	c.render(models.PaneLive, frame)
}

func (c *Coordinator) render(pane models.Pane, frame models.Frame) {
	vp := c.viewports[pane]

	bitmap, ok := c.renderer.Fit(frame.Image(), vp.w, vp.h)
	if !ok {
		return
	}

	c.presenter.Render(pane, bitmap)
}

// freeze moves the pipeline into Capturing for frame and dispatches it.
func (c *Coordinator) freeze(frame models.Frame) {
	c.state.Seq++
	seq := c.state.Seq

	c.state.CapturedImage = &frame
	c.state.Phase = models.PhaseCapturing
	c.state.DiseaseLabel = LabelIdentifying
	c.state.ReportText = ReportPlaceholder
	c.state.Status = StatusAnalyzing
	c.render(models.PaneCaptured, frame)

	c.dispatch(seq, frame)
	c.publish()
}

func (c *Coordinator) dispatch(seq uint64, frame models.Frame) {
	c.state.Phase = models.PhaseDispatched
	c.logger.Info("analysis dispatched", zap.Uint64("seq", seq), zap.String("source", frame.Source()))

	ctx := c.bg
	c.inflight.Add(1)

	go func() {
		defer c.inflight.Done()

		msg := completion{seq: seq}
		msg.text, msg.err = c.analyze(ctx, seq, frame)

		select {
		case c.completions <- msg:
		case <-c.done:
		}
	}()
}

// analyze runs on a background unit and touches no coordinator state.
func (c *Coordinator) analyze(ctx context.Context, seq uint64, frame models.Frame) (string, error) {
	payload, err := c.encode(frame.Image(), c.mimeType)
	if err != nil {
		return "", newFailure(models.FailureEncode, err)
	}

	req := &models.AnalysisRequest{
		Seq:      seq,
		Payload:  payload,
		MimeType: c.mimeType,
		Prompt:   Prompt,
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	return c.analyzer.Analyze(ctx, req)
}

func (c *Coordinator) complete(msg completion) {
	if msg.seq != c.state.Seq {
		c.logger.Debug("discarding stale analysis result",
			zap.Uint64("seq", msg.seq),
			zap.Uint64("current", c.state.Seq),
		)
		return
	}

	result := &models.AnalysisResult{Seq: msg.seq}

	if msg.err != nil {
		kind := Classify(msg.err)
		result.Failure = &models.Failure{Kind: kind, Reason: msg.err.Error()}

		c.state.ReportText = ""
		c.state.DiseaseLabel = LabelFailed
		c.state.Status = failureStatus(kind)
	} else {
		name := report.ExtractDiseaseName(msg.text)
		if _, err := report.Parse(msg.text); err != nil {
			c.logger.Warn("report does not follow the requested layout", zap.Uint64("seq", msg.seq), zap.Error(err))
		}
		result.Report = &models.Report{FullText: msg.text, DiseaseName: name}

		c.state.ReportText = msg.text
		c.state.DiseaseLabel = name
		c.state.Status = StatusComplete
	}

	c.state.LastResult = result
	c.state.Phase = models.PhaseCompleted
	c.publish()
}

func failureStatus(kind models.FailureKind) string {
	switch kind {
	case models.FailureNotConfigured:
		return StatusFailed + ": Gemini API not configured"
	case models.FailureAuth:
		return StatusFailed + ": API key rejected"
	case models.FailureRateLimit:
		return StatusFailed + ": rate limited, try again shortly"
	case models.FailureNetwork:
		return StatusFailed + ": network error"
	case models.FailureEncode:
		return StatusFailed + ": could not encode image"
	default:
		return StatusFailed
	}
}

func (c *Coordinator) shutdown() {
	c.cancel()

	if err := c.source.Release(); err != nil {
		c.logger.Warn("releasing camera on shutdown", zap.Error(err))
	}

	c.state.CameraActive = false
	c.state.Status = StatusStopped
	c.publish()

	c.logger.Info("coordinator stopped")
}

func (c *Coordinator) publish() {
	c.presenter.Publish(c.state.Clone())
}

type nopPresenter struct{}

func (nopPresenter) Render(models.Pane, image.Image) {}
func (nopPresenter) Publish(models.AppState)         {}
