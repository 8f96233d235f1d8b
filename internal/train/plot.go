package train

import (
	"bytes"
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/jonGuti13/qonnx2mdc/internal/serialization"
)

// Plot size of the two-panel history figure.
const (
	PlotWidth  = 10 * vg.Inch
	PlotHeight = 4 * vg.Inch
)

// WriteSVG renders loss (left) and accuracy (right) curves per epoch.
func (h *History) WriteSVG(w io.Writer) error {
	if len(h.Records) == 0 {
		return fmt.Errorf("train: empty history")
	}
	loss, err := h.newPlot("Loss", "loss",
		func(r Record) float64 { return r.Loss },
		func(r Record) float64 { return r.ValLoss })
	if err != nil {
		return err
	}
	acc, err := h.newPlot("Accuracy", "accuracy",
		func(r Record) float64 { return r.Accuracy },
		func(r Record) float64 { return r.ValAccuracy })
	if err != nil {
		return err
	}

	plots := [][]*plot.Plot{{loss, acc}}
	img := vgsvg.New(PlotWidth, PlotHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter * 5, PadTop: vg.Millimeter * 2, PadBottom: vg.Millimeter * 2}
	canvases := plot.Align(plots, tiles, dc)
	for j, p := range plots[0] {
		p.Draw(canvases[0][j])
	}
	_, err = img.WriteTo(w)
	return err
}

// PlotSVG writes the history figure to path atomically.
func (h *History) PlotSVG(path string) error {
	var buf bytes.Buffer
	if err := h.WriteSVG(&buf); err != nil {
		return err
	}
	if err := serialization.AtomicWriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("train: write plot: %w", err)
	}
	return nil
}

func (h *History) newPlot(title, ylabel string, trainMetric, valMetric func(Record) float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = ylabel
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	type curve struct {
		name   string
		metric func(Record) float64
	}
	curves := []curve{{"train", trainMetric}}
	if h.Validated {
		curves = append(curves, curve{"validation", valMetric})
	}

	for i, s := range curves {
		pts := make(plotter.XYs, len(h.Records))
		for k, r := range h.Records {
			pts[k].X = float64(r.Epoch)
			pts[k].Y = s.metric(r)
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("train: plot %s: %w", s.name, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		points.Color = plotutil.Color(i)
		points.Shape = plotutil.Shape(i)
		p.Add(line, points)
		p.Legend.Add(s.name, line, points)
	}
	return p, nil
}
