package diag

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/sz864/internal/beam"
	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/units"
)

// missing is how ECharts marks a gap in a series.
const missing = "-"

// WriteSpectraHTML renders spectra as an interactive line chart.
func WriteSpectraHTML(w io.Writer, title string, spectra []Spectrum) error {
	if err := checkSpectra(spectra); err != nil {
		return err
	}
	x := make([]string, len(spectra[0].VelocityMps))
	for k, v := range spectra[0].VelocityMps {
		x[k] = fmt.Sprintf("%.2f", v)
	}

	subtitle := ""
	for _, s := range spectra {
		subtitle += fmt.Sprintf("%s peak %.2f m/s  ", s.Label, peakVelocity(s))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1000px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Velocity (m/s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Power (dB rel. peak)", Min: FloorDb, Max: 0}),
	)
	line.SetXAxis(x)
	for i, db := range relativeDb(spectra) {
		data := make([]opts.LineData, len(db))
		for k, v := range db {
			data[k] = opts.LineData{Value: v}
		}
		line.AddSeries(spectra[i].Label, data)
	}
	return line.Render(w)
}

// WriteBeamHTML renders each trip's velocity across the gates of a beam.
// Censored trips leave a gap.
func WriteBeamHTML(w io.Writer, title string, res *beam.Result, unit string) error {
	if res == nil || len(res.Gates) == 0 {
		return beam.ErrEmptyBeam
	}
	x := make([]string, len(res.Gates))
	trip1 := make([]opts.LineData, len(res.Gates))
	trip2 := make([]opts.LineData, len(res.Gates))
	for i, g := range res.Gates {
		x[i] = fmt.Sprint(i)
		trip1[i] = velocityPoint(g.Trip1.Velocity, g.Trip1.Usable(), unit)
		trip2[i] = velocityPoint(g.Trip2.Velocity, g.Trip2.Usable(), unit)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1000px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("gates=%d decoded=%d", res.Summary.Gates, res.Summary.Decoded),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Gate", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Velocity (" + units.SpeedLabel(unit) + ")"}),
	)
	line.SetXAxis(x).
		AddSeries("trip 1", trip1).
		AddSeries("trip 2", trip2)
	return line.Render(w)
}

func velocityPoint(v moments.Value, usable bool, unit string) opts.LineData {
	mps, ok := v.Get()
	if !ok || !usable {
		return opts.LineData{Value: missing}
	}
	return opts.LineData{Value: units.ConvertSpeed(mps, unit)}
}
