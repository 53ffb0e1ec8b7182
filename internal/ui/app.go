package ui

import (
	"fmt"
	"image"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"plantdoctor/internal/config"
	"plantdoctor/internal/logging"
	"plantdoctor/internal/models"
	"plantdoctor/internal/ui/cwidget"
	"plantdoctor/processing/capture"
)

const (
	cameraPrefix = "Camera "
	noCameras    = "No cameras found"
)

// Controller is the part of the coordinator the window drives.
type Controller interface {
	Capture()
	Upload(path string)
	SwitchDevice(id int)
	ResizeViewport(pane models.Pane, w, h int)
	Restart()
	Shutdown()
}

// PlantApp is the fyne front end. It renders whatever the coordinator
// publishes and forwards user actions back to it.
type PlantApp struct {
	fyneApp fyne.App
	mainWin fyne.Window

	config *config.Config
	logger *zap.Logger
	ctrl   Controller

	liveView     *cwidget.Viewport
	capturedView *cwidget.Viewport
	deviceSelect *widget.Select
	diseaseLabel *widget.Label
	reportLabel  *widget.Label
	statusLabel  *widget.Label
	fpsLabel     *widget.Label

	// fyne thread only
	devices  []int
	listed   bool
	syncing  bool
	chosen   int
	choosing bool

	frames   atomic.Uint32
	stop     chan struct{}
	stopOnce sync.Once
}

func CreateApp(cfg *config.Config, logger *zap.Logger) *PlantApp {
	fa := app.NewWithID("io.plantdoctor")
	w := fa.NewWindow("Plant Doctor")

	w.Resize(fyne.NewSize(1200, 800))

	a := &PlantApp{
		fyneApp: fa,
		mainWin: w,
		config:  cfg,
		logger:  logging.OrNop(logger).Named("ui"),
		stop:    make(chan struct{}),
	}
	a.build()

	return a
}

// Render implements diagnosis.Presenter.
func (a *PlantApp) Render(pane models.Pane, bitmap image.Image) {
	if pane == models.PaneLive && bitmap != nil {
		a.frames.Add(1)
	}

	fyne.Do(func() {
		switch pane {
		case models.PaneLive:
			a.liveView.SetImage(bitmap)
		case models.PaneCaptured:
			a.capturedView.SetImage(bitmap)
		}
	})
}

// Publish implements diagnosis.Presenter.
func (a *PlantApp) Publish(st models.AppState) {
	fyne.Do(func() { a.apply(st) })
}

// Run shows the window and blocks until it is closed.
func (a *PlantApp) Run(ctrl Controller) {
	a.ctrl = ctrl

	go a.runStatLoop()

	a.mainWin.CenterOnScreen()
	a.mainWin.ShowAndRun()
}

func (a *PlantApp) build() {
	a.liveView = cwidget.NewViewport("No camera feed", func(w, h int) {
		a.resized(models.PaneLive, w, h)
	})
	a.capturedView = cwidget.NewViewport("No image captured", func(w, h int) {
		a.resized(models.PaneCaptured, w, h)
	})

	a.deviceSelect = widget.NewSelect([]string{"Detecting cameras..."}, a.onDeviceSelected)
	a.deviceSelect.Disable()

	a.diseaseLabel = widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	a.reportLabel = widget.NewLabel("")
	a.reportLabel.Wrapping = fyne.TextWrapWord
	a.statusLabel = widget.NewLabel("Starting...")
	a.fpsLabel = widget.NewLabel(formatFPS(0))

	toolbar := container.NewHBox(
		widget.NewLabel("Camera:"),
		a.deviceSelect,
		widget.NewSeparator(),
		widget.NewButtonWithIcon("Capture & Analyze", theme.MediaPhotoIcon(), func() { a.ctrl.Capture() }),
		widget.NewButtonWithIcon("Upload Image", theme.FolderOpenIcon(), a.showUpload),
		widget.NewButtonWithIcon("Restart", theme.ViewRefreshIcon(), a.restart),
		widget.NewButtonWithIcon("Exit", theme.LogoutIcon(), a.quit),
	)

	views := container.NewHSplit(
		widget.NewCard("Live Feed", "", a.liveView),
		widget.NewCard("Captured Image", "", a.capturedView),
	)

	reportPane := container.NewBorder(
		container.NewHBox(widget.NewLabel("Disease:"), a.diseaseLabel),
		nil, nil, nil,
		container.NewVScroll(a.reportLabel),
	)

	split := container.NewVSplit(views, widget.NewCard("Report", "", reportPane))
	split.SetOffset(0.6)

	statusBar := container.NewHBox(a.statusLabel, widget.NewSeparator(), a.fpsLabel)

	a.mainWin.SetContent(container.NewBorder(
		container.NewPadded(toolbar),
		container.NewPadded(statusBar),
		nil, nil,
		split,
	))

	a.mainWin.SetCloseIntercept(a.quit)
}

func (a *PlantApp) resized(pane models.Pane, w, h int) {
	if a.ctrl != nil {
		a.ctrl.ResizeViewport(pane, w, h)
	}
}

func (a *PlantApp) apply(st models.AppState) {
	a.statusLabel.SetText(st.Status)
	a.diseaseLabel.SetText(st.DiseaseLabel)
	a.reportLabel.SetText(st.ReportText)

	// Only a camera picked in the selector is remembered, once it is live.
	if a.choosing && st.CameraActive && st.ActiveDevice == a.chosen {
		a.choosing = false
		a.config.SetDeviceID(st.ActiveDevice)
	}

	a.syncDevices(st)
}

// syncDevices mirrors the probed device list into the selector without
// firing a switch back at the coordinator.
func (a *PlantApp) syncDevices(st models.AppState) {
	a.syncing = true
	defer func() { a.syncing = false }()

	if !a.listed || !slices.Equal(a.devices, st.Devices) {
		a.listed = true
		a.devices = slices.Clone(st.Devices)

		if len(a.devices) == 0 {
			a.deviceSelect.Options = []string{noCameras}
			a.deviceSelect.Disable()
		} else {
			opts := make([]string, len(a.devices))
			for i, id := range a.devices {
				opts[i] = cameraLabel(id)
			}
			a.deviceSelect.Options = opts
			a.deviceSelect.Enable()
		}
		a.deviceSelect.Refresh()
	}

	switch {
	case len(a.devices) == 0:
		a.deviceSelect.SetSelected(noCameras)
	case st.CameraActive:
		a.deviceSelect.SetSelected(cameraLabel(st.ActiveDevice))
	}
}

func (a *PlantApp) onDeviceSelected(s string) {
	if a.syncing || a.ctrl == nil {
		return
	}

	id, ok := parseCameraLabel(s)
	if !ok {
		return
	}

	a.logger.Info("camera selected", zap.Int("device", id))
	a.chosen, a.choosing = id, true
	a.ctrl.SwitchDevice(id)
}

func (a *PlantApp) showUpload() {
	d := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.mainWin)
			return
		}
		if reader == nil {
			return
		}

		path := reader.URI().Path()
		if cerr := reader.Close(); cerr != nil {
			a.logger.Debug("closing picked file", zap.Error(cerr))
		}

		a.ctrl.Upload(path)
	}, a.mainWin)

	d.SetFilter(storage.NewExtensionFileFilter(capture.SupportedExtensions[:]))
	d.Show()
}

func (a *PlantApp) restart() {
	a.liveView.SetImage(nil)
	a.capturedView.SetImage(nil)
	a.ctrl.Restart()
}

func (a *PlantApp) quit() {
	a.stopOnce.Do(func() {
		close(a.stop)
		a.ctrl.Shutdown()

		if err := a.config.SaveByDefault(); err != nil {
			a.logger.Warn("saving config", zap.Error(err))
		}

		a.fyneApp.Quit()
	})
}

func (a *PlantApp) runStatLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fps := a.frames.Swap(0)
			fyne.Do(func() {
				a.fpsLabel.SetText(formatFPS(fps))
			})
		case <-a.stop:
			return
		}
	}
}

func formatFPS(v uint32) string {
	return fmt.Sprintf("FPS: %d", v)
}

func cameraLabel(id int) string {
	return cameraPrefix + strconv.Itoa(id)
}

func parseCameraLabel(s string) (int, bool) {
	rest, ok := strings.CutPrefix(s, cameraPrefix)
	if !ok {
		return 0, false
	}

	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}

	return id, true
}
