package cwidget

import (
	"image"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// Viewport shows a pre-fitted bitmap and reports its pixel size whenever the
// layout changes it.
type Viewport struct {
	widget.BaseWidget

	imageCanvas *canvas.Image
	placeholder *widget.Label

	OnResized func(w, h int)

	lastW, lastH int
}

func NewViewport(placeholder string, onResized func(w, h int)) *Viewport {
	v := &Viewport{OnResized: onResized}

	v.imageCanvas = canvas.NewImageFromImage(nil)
	v.imageCanvas.FillMode = canvas.ImageFillContain
	v.imageCanvas.ScaleMode = canvas.ImageScaleSmooth

	v.placeholder = widget.NewLabelWithStyle(placeholder, fyne.TextAlignCenter, fyne.TextStyle{Italic: true})
	v.placeholder.Importance = widget.LowImportance

	v.ExtendBaseWidget(v)

	return v
}

func (v *Viewport) CreateRenderer() fyne.WidgetRenderer {
	c := container.NewStack(
		v.imageCanvas,
		container.NewCenter(v.placeholder),
	)

	return widget.NewSimpleRenderer(c)
}

func (v *Viewport) MinSize() fyne.Size {
	return fyne.NewSize(160, 120)
}

func (v *Viewport) Resize(size fyne.Size) {
	v.BaseWidget.Resize(size)

	w, h := v.pixelSize(size)
	if w == v.lastW && h == v.lastH {
		return
	}
	v.lastW, v.lastH = w, h

	if v.OnResized != nil {
		v.OnResized(w, h)
	}
}

// SetImage swaps the shown bitmap. nil brings the placeholder back. Must be
// called on the fyne thread.
func (v *Viewport) SetImage(img image.Image) {
	v.imageCanvas.Image = img
	v.imageCanvas.Refresh()

	if img == nil {
		v.placeholder.Show()
	} else {
		v.placeholder.Hide()
	}
}

func (v *Viewport) pixelSize(size fyne.Size) (int, int) {
	scale := float32(1)

	if a := fyne.CurrentApp(); a != nil {
		if c := a.Driver().CanvasForObject(v); c != nil {
			scale = c.Scale()
		}
	}

	return int(size.Width * scale), int(size.Height * scale)
}
