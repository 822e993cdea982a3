package diag

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var palette = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
}

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 4 * vg.Inch
)

func spectrumPlot(title string, spectra []Spectrum) (*plot.Plot, error) {
	if err := checkSpectra(spectra); err != nil {
		return nil, err
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Velocity (m/s)"
	p.Y.Label.Text = "Power (dB rel. peak)"
	p.Y.Min = FloorDb
	p.Y.Max = 0
	p.Add(plotter.NewGrid())

	for i, db := range relativeDb(spectra) {
		pts := make(plotter.XYs, len(db))
		for k := range db {
			pts[k] = plotter.XY{X: spectra[i].VelocityMps[k], Y: db[k]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("spectrum %s: %w", spectra[i].Label, err)
		}
		line.Color = palette[i%len(palette)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(spectra[i].Label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteSpectraPNG plots spectra as PNG to w.
func WriteSpectraPNG(w io.Writer, title string, spectra []Spectrum) error {
	p, err := spectrumPlot(title, spectra)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
