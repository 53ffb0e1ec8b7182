package diagnosis

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/googleapi"

	"plantdoctor/internal/models"
	"plantdoctor/processing/capture"
	"plantdoctor/processing/render"
)

const (
	waitFor = 2 * time.Second
	pollFor = 5 * time.Millisecond

	staleMessage = "discarding stale analysis result"

	lateBlight = "1. Disease Identification\nLate Blight\n\n2. Key Symptoms\n- dark lesions\n" +
		"3. Immediate Treatment Recommendations\n- remove leaves\n" +
		"4. Prevention Methods\n- rotate crops\n5. Additional Notes\n- monitor humidity\n"
)

// camRig stands in for the OS camera layer.
type camRig struct {
	mu      sync.Mutex
	present map[int]bool
	broken  map[int]bool
	open    int
	maxOpen int
	closes  map[int]int
	reads   int
}

type camDevice struct {
	rig    *camRig
	id     int
	closed bool
}

func newCamRig(ids ...int) *camRig {
	r := &camRig{present: map[int]bool{}, broken: map[int]bool{}, closes: map[int]int{}}
	for _, id := range ids {
		r.present[id] = true
	}
	return r
}

func (r *camRig) Open(id int) (capture.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.present[id] {
		return nil, errors.New("no such device")
	}

	r.open++
	if r.open > r.maxOpen {
		r.maxOpen = r.open
	}

	return &camDevice{rig: r, id: id}, nil
}

func (r *camRig) breakDevice(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broken[id] = true
}

func (r *camRig) snapshot() (open, maxOpen, reads int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open, r.maxOpen, r.reads
}

func (r *camRig) closed(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes[id]
}

func (d *camDevice) Read() (image.Image, error) {
	d.rig.mu.Lock()
	defer d.rig.mu.Unlock()

	d.rig.reads++
	if d.closed {
		return nil, errors.New("read after close")
	}
	if d.rig.broken[d.id] {
		return nil, errors.New("device unplugged")
	}

	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}

func (d *camDevice) Close() error {
	d.rig.mu.Lock()
	defer d.rig.mu.Unlock()

	if !d.closed {
		d.closed = true
		d.rig.open--
		d.rig.closes[d.id]++
	}
	return nil
}

type analyzeReply struct {
	text string
	err  error
}

type pendingCall struct {
	req   *models.AnalysisRequest
	reply chan analyzeReply
}

func (p pendingCall) respond(text string, err error) {
	p.reply <- analyzeReply{text: text, err: err}
}

// gatedAnalyzer holds every call until the test answers it.
type gatedAnalyzer struct {
	calls chan pendingCall
}

func newGatedAnalyzer() *gatedAnalyzer {
	return &gatedAnalyzer{calls: make(chan pendingCall, 16)}
}

func (a *gatedAnalyzer) Analyze(ctx context.Context, req *models.AnalysisRequest) (string, error) {
	p := pendingCall{req: req, reply: make(chan analyzeReply, 1)}

	select {
	case a.calls <- p:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-p.reply:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *gatedAnalyzer) next(t *testing.T) pendingCall {
	t.Helper()

	select {
	case p := <-a.calls:
		return p
	case <-time.After(waitFor):
		t.Fatal("no analysis request dispatched")
		return pendingCall{}
	}
}

type analyzerFunc func(ctx context.Context, req *models.AnalysisRequest) (string, error)

func (f analyzerFunc) Analyze(ctx context.Context, req *models.AnalysisRequest) (string, error) {
	return f(ctx, req)
}

type recordingPresenter struct {
	mu      sync.Mutex
	states  []models.AppState
	renders map[models.Pane][]image.Image
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{renders: map[models.Pane][]image.Image{}}
}

func (p *recordingPresenter) Render(pane models.Pane, bitmap image.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renders[pane] = append(p.renders[pane], bitmap)
}

func (p *recordingPresenter) Publish(st models.AppState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, st)
}

func (p *recordingPresenter) published() []models.AppState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.AppState(nil), p.states...)
}

func (p *recordingPresenter) rendered(pane models.Pane) []image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]image.Image(nil), p.renders[pane]...)
}

type harness struct {
	t         *testing.T
	clock     *clock.Mock
	rig       *camRig
	presenter *recordingPresenter
	logs      *observer.ObservedLogs
	coord     *Coordinator
	errc      chan error
	cancel    context.CancelFunc
}

func startCoordinator(t *testing.T, cams []int, analyzer Analyzer, opts ...Option) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	h := &harness{
		t:         t,
		clock:     clock.NewMock(),
		rig:       newCamRig(cams...),
		presenter: newRecordingPresenter(),
		logs:      logs,
		errc:      make(chan error, 1),
	}

	src := capture.NewSource(h.rig, capture.WithProbeDelay(0), capture.WithLogger(logger))
	all := append([]Option{WithClock(h.clock), WithLogger(logger)}, opts...)
	h.coord = NewCoordinator(src, render.New(), analyzer, h.presenter, all...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() { h.errc <- h.coord.Run(ctx) }()

	t.Cleanup(func() {
		h.coord.Shutdown()
		select {
		case <-h.coord.Done():
		case <-time.After(waitFor):
			t.Error("coordinator did not stop")
		}
		cancel()
		h.coord.Wait()
	})

	// Startup has finished once the loop serves its first event.
	h.state()

	return h
}

func (h *harness) state() models.AppState {
	return h.coord.State()
}

func (h *harness) tick() {
	h.clock.Add(DefaultRefreshInterval)
}

// waitFrame ticks until the live frame comes from source.
func (h *harness) waitFrame(source string) models.AppState {
	h.t.Helper()

	var st models.AppState
	require.Eventually(h.t, func() bool {
		h.tick()
		st = h.state()
		return st.CurrentFrame != nil && st.CurrentFrame.Source() == source
	}, waitFor, pollFor)

	return st
}

func (h *harness) waitState(cond func(models.AppState) bool) models.AppState {
	h.t.Helper()

	var st models.AppState
	require.Eventually(h.t, func() bool {
		st = h.state()
		return cond(st)
	}, waitFor, pollFor)

	return st
}

func (h *harness) staleCount() int {
	return h.logs.FilterMessage(staleMessage).Len()
}

func writeLeaf(t *testing.T, w, h int) string {
	t.Helper()

	img := imaging.New(w, h, color.NRGBA{G: 160, A: 255})
	path := filepath.Join(t.TempDir(), "leaf.png")
	require.NoError(t, imaging.Save(img, path))

	return path
}

func TestStartupOpensPreferredDevice(t *testing.T) {
	h := startCoordinator(t, []int{0, 1}, newGatedAnalyzer(), WithPreferredDevice(1))

	st := h.state()
	assert.True(t, st.CameraActive)
	assert.Equal(t, 1, st.ActiveDevice)
	assert.Equal(t, []int{0, 1}, st.Devices)
	assert.Equal(t, "Using Camera 1", st.Status)
	assert.Equal(t, models.PhaseIdle, st.Phase)
}

func TestStartupFallsBackToFirstDevice(t *testing.T) {
	h := startCoordinator(t, []int{2, 3}, newGatedAnalyzer(), WithPreferredDevice(0))

	st := h.state()
	assert.True(t, st.CameraActive)
	assert.Equal(t, 2, st.ActiveDevice)
}

func TestNoCamerasStillAllowsUpload(t *testing.T) {
	analyzer := analyzerFunc(func(context.Context, *models.AnalysisRequest) (string, error) {
		return lateBlight, nil
	})
	h := startCoordinator(t, nil, analyzer)

	st := h.state()
	assert.False(t, st.CameraActive)
	assert.Equal(t, StatusNoCameras, st.Status)

	h.coord.Upload(writeLeaf(t, 40, 30))

	st = h.waitState(func(st models.AppState) bool { return st.Phase == models.PhaseCompleted })
	require.NotNil(t, st.LastResult)
	require.True(t, st.LastResult.Succeeded())
	assert.Equal(t, "Late Blight", st.DiseaseLabel)
	assert.Equal(t, "Late Blight", st.LastResult.Report.DiseaseName)
	assert.Equal(t, lateBlight, st.ReportText)
	assert.Equal(t, StatusComplete, st.Status)
	assert.Equal(t, "leaf.png", st.CapturedImage.Source())
}

func TestRefreshRendersLiveFrame(t *testing.T) {
	h := startCoordinator(t, []int{0}, newGatedAnalyzer())
	h.coord.ResizeViewport(models.PaneLive, 320, 300)

	h.waitFrame("camera-0")

	renders := h.presenter.rendered(models.PaneLive)
	require.NotEmpty(t, renders)
	assert.Equal(t, image.Rect(0, 0, 320, 240), renders[len(renders)-1].Bounds())
}

func TestNoRenderIntoCollapsedViewport(t *testing.T) {
	h := startCoordinator(t, []int{0}, newGatedAnalyzer())

	h.waitFrame("camera-0")

	assert.Empty(t, h.presenter.rendered(models.PaneLive))
}

func TestLatestCaptureWins(t *testing.T) {
	analyzer := newGatedAnalyzer()
	h := startCoordinator(t, []int{0}, analyzer)
	h.waitFrame("camera-0")

	for i := 0; i < 3; i++ {
		h.coord.Capture()
	}

	pending := map[uint64]pendingCall{}
	for i := 0; i < 3; i++ {
		p := analyzer.next(t)
		assert.Equal(t, "image/png", p.req.MimeType)
		assert.Equal(t, Prompt, p.req.Prompt)
		assert.NotEmpty(t, p.req.Payload)
		pending[p.req.Seq] = p
	}
	require.Len(t, pending, 3)

	st := h.state()
	assert.Equal(t, uint64(3), st.Seq)
	assert.Equal(t, models.PhaseDispatched, st.Phase)
	assert.Equal(t, LabelIdentifying, st.DiseaseLabel)
	assert.Equal(t, ReportPlaceholder, st.ReportText)

	pending[2].respond("Disease Identification\nPowdery Mildew\nKey Symptoms\n", nil)
	pending[3].respond(lateBlight, nil)
	pending[1].respond("", &googleapi.Error{Code: 500})

	require.Eventually(t, func() bool { return h.staleCount() == 2 }, waitFor, pollFor)

	st = h.waitState(func(st models.AppState) bool { return st.Phase == models.PhaseCompleted })
	require.NotNil(t, st.LastResult)
	assert.Equal(t, uint64(3), st.LastResult.Seq)
	assert.Equal(t, "Late Blight", st.DiseaseLabel)

	for _, pub := range h.presenter.published() {
		if pub.LastResult != nil {
			assert.Equal(t, uint64(3), pub.LastResult.Seq)
		}
	}
}

func TestSwitchDeviceWhileRefreshing(t *testing.T) {
	h := startCoordinator(t, []int{0, 1}, newGatedAnalyzer())
	h.waitFrame("camera-0")

	h.coord.SwitchDevice(1)
	st := h.state()
	assert.Equal(t, 1, st.ActiveDevice)
	assert.Equal(t, "Using Camera 1", st.Status)

	h.waitFrame("camera-1")

	open, maxOpen, _ := h.rig.snapshot()
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, maxOpen)
	assert.GreaterOrEqual(t, h.rig.closed(0), 2, "probe handle and live handle")
}

func TestSwitchToSameDeviceIsNoop(t *testing.T) {
	h := startCoordinator(t, []int{0}, newGatedAnalyzer())
	closedBefore := h.rig.closed(0)

	h.coord.SwitchDevice(0)
	st := h.state()

	assert.True(t, st.CameraActive)
	assert.Equal(t, closedBefore, h.rig.closed(0))
}

func TestSwitchToMissingDevice(t *testing.T) {
	h := startCoordinator(t, []int{0}, newGatedAnalyzer())
	h.waitFrame("camera-0")

	h.coord.SwitchDevice(5)
	st := h.state()

	assert.False(t, st.CameraActive)
	assert.Nil(t, st.CurrentFrame)
	assert.Equal(t, "Failed to open camera 5", st.Status)

	open, _, _ := h.rig.snapshot()
	assert.Zero(t, open)
}

func TestReadFailureStopsLiveFeed(t *testing.T) {
	h := startCoordinator(t, []int{0}, newGatedAnalyzer())
	h.waitFrame("camera-0")

	h.rig.breakDevice(0)
	require.Eventually(t, func() bool {
		h.tick()
		return !h.state().CameraActive
	}, waitFor, pollFor)

	st := h.state()
	assert.Equal(t, StatusCameraError, st.Status)

	open, _, reads := h.rig.snapshot()
	assert.Zero(t, open)

	assert.Never(t, func() bool {
		h.tick()
		_, _, now := h.rig.snapshot()
		return now != reads
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestPauseStopsPolling(t *testing.T) {
	h := startCoordinator(t, []int{0}, newGatedAnalyzer())
	h.waitFrame("camera-0")

	h.coord.Pause()
	h.state()
	_, _, reads := h.rig.snapshot()

	assert.Never(t, func() bool {
		h.tick()
		_, _, now := h.rig.snapshot()
		return now != reads
	}, 100*time.Millisecond, 10*time.Millisecond)

	h.coord.Resume()
	require.Eventually(t, func() bool {
		h.tick()
		_, _, now := h.rig.snapshot()
		return now > reads
	}, waitFor, pollFor)
}

func TestCaptureWithoutFrame(t *testing.T) {
	analyzer := newGatedAnalyzer()
	h := startCoordinator(t, []int{0}, analyzer)

	h.coord.Capture()
	st := h.state()

	assert.Equal(t, StatusNoFrame, st.Status)
	assert.Zero(t, st.Seq)
	assert.Nil(t, st.CapturedImage)
	assert.Empty(t, analyzer.calls)
}

func TestNotConfiguredClientFailsLocally(t *testing.T) {
	gen := &fakeGenerator{reply: func(genCall) (string, error) {
		return "", &googleapi.Error{Code: 401}
	}}
	client := NewClient(gen, nil)
	require.Error(t, client.Init(context.Background()))

	h := startCoordinator(t, []int{0}, client)
	h.waitFrame("camera-0")
	h.coord.Capture()

	st := h.waitState(func(st models.AppState) bool { return st.Phase == models.PhaseCompleted })
	require.NotNil(t, st.LastResult)
	require.NotNil(t, st.LastResult.Failure)
	assert.Equal(t, models.FailureNotConfigured, st.LastResult.Failure.Kind)
	assert.Empty(t, st.ReportText)
	assert.Equal(t, LabelFailed, st.DiseaseLabel)
	assert.Contains(t, st.Status, "not configured")
	assert.Equal(t, 1, gen.count())
}

func TestFailureReplacesEarlierReport(t *testing.T) {
	analyzer := newGatedAnalyzer()
	h := startCoordinator(t, []int{0}, analyzer)
	h.waitFrame("camera-0")

	h.coord.Capture()
	analyzer.next(t).respond(lateBlight, nil)
	st := h.waitState(func(st models.AppState) bool { return st.Phase == models.PhaseCompleted })
	require.True(t, st.LastResult.Succeeded())

	h.coord.Capture()
	analyzer.next(t).respond("", &googleapi.Error{Code: 429})
	st = h.waitState(func(st models.AppState) bool {
		return st.Phase == models.PhaseCompleted && st.Seq == 2
	})

	require.NotNil(t, st.LastResult.Failure)
	assert.Equal(t, models.FailureRateLimit, st.LastResult.Failure.Kind)
	assert.Empty(t, st.ReportText)
	assert.Equal(t, LabelFailed, st.DiseaseLabel)
}

func TestEncodeFailure(t *testing.T) {
	analyzer := newGatedAnalyzer()
	failEncode := func(c *Coordinator) {
		c.encode = func(image.Image, string) ([]byte, error) { return nil, errors.New("encoder exploded") }
	}
	h := startCoordinator(t, []int{0}, analyzer, failEncode)
	h.waitFrame("camera-0")

	h.coord.Capture()

	st := h.waitState(func(st models.AppState) bool { return st.Phase == models.PhaseCompleted })
	require.NotNil(t, st.LastResult.Failure)
	assert.Equal(t, models.FailureEncode, st.LastResult.Failure.Kind)
	assert.Empty(t, analyzer.calls)
}

func TestAnalysisTimeout(t *testing.T) {
	h := startCoordinator(t, []int{0}, newGatedAnalyzer(), WithAnalysisTimeout(20*time.Millisecond))
	h.waitFrame("camera-0")

	h.coord.Capture()

	st := h.waitState(func(st models.AppState) bool { return st.Phase == models.PhaseCompleted })
	require.NotNil(t, st.LastResult.Failure)
	assert.Equal(t, models.FailureNetwork, st.LastResult.Failure.Kind)
}

func TestUploadDecodeError(t *testing.T) {
	analyzer := newGatedAnalyzer()
	h := startCoordinator(t, []int{0}, analyzer)

	path := filepath.Join(t.TempDir(), "leaf.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	h.coord.Upload(path)

	st := h.waitState(func(st models.AppState) bool { return st.Status != "Using Camera 0" })
	assert.Contains(t, st.Status, "Failed to load image")
	assert.Zero(t, st.Seq)
	assert.Nil(t, st.CapturedImage)
	assert.Empty(t, analyzer.calls)
}

func TestResizeRerendersCapturedPane(t *testing.T) {
	analyzer := newGatedAnalyzer()
	h := startCoordinator(t, nil, analyzer)
	h.coord.ResizeViewport(models.PaneCaptured, 100, 100)

	h.coord.Upload(writeLeaf(t, 200, 100))
	analyzer.next(t)

	h.coord.ResizeViewport(models.PaneCaptured, 400, 400)
	h.state()

	renders := h.presenter.rendered(models.PaneCaptured)
	require.Len(t, renders, 2)
	assert.Equal(t, image.Rect(0, 0, 100, 50), renders[0].Bounds())
	assert.Equal(t, image.Rect(0, 0, 400, 200), renders[1].Bounds())
}

func TestRestartMakesInFlightStale(t *testing.T) {
	analyzer := newGatedAnalyzer()
	h := startCoordinator(t, []int{0}, analyzer)
	h.waitFrame("camera-0")

	h.coord.Capture()
	p := analyzer.next(t)

	h.coord.Restart()
	st := h.state()
	assert.Equal(t, uint64(2), st.Seq)
	assert.True(t, st.CameraActive)
	assert.Nil(t, st.CapturedImage)

	p.respond(lateBlight, nil)
	require.Eventually(t, func() bool { return h.staleCount() == 1 }, waitFor, pollFor)

	st = h.state()
	assert.Nil(t, st.LastResult)
	assert.Empty(t, st.DiseaseLabel)
	assert.Equal(t, models.PhaseIdle, st.Phase)
}

func TestShutdownIsIdempotent(t *testing.T) {
	h := startCoordinator(t, []int{0}, newGatedAnalyzer())
	h.waitFrame("camera-0")

	h.coord.Shutdown()
	h.coord.Shutdown()

	select {
	case err := <-h.errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("run did not return")
	}

	h.coord.Shutdown()

	open, _, _ := h.rig.snapshot()
	assert.Zero(t, open)
	assert.Equal(t, 2, h.rig.closed(0), "probe handle and live handle")

	st := h.state()
	assert.False(t, st.CameraActive)
	assert.Equal(t, StatusStopped, st.Status)

	assert.ErrorIs(t, h.coord.Run(context.Background()), ErrAlreadyRunning)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := startCoordinator(t, []int{0}, newGatedAnalyzer())

	h.cancel()

	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("run did not return")
	}

	open, _, _ := h.rig.snapshot()
	assert.Zero(t, open)
}
