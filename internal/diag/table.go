package diag

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/banshee-data/sz864/internal/beam"
	"github.com/banshee-data/sz864/internal/sz"
	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/units"
)

// WriteBeamTable writes one row per gate with both trips' moments, velocity
// in unit, followed by the beam summary.
func WriteBeamTable(w io.Writer, res *beam.Result, unit string) error {
	if res == nil || len(res.Gates) == 0 {
		return beam.ErrEmptyBeam
	}
	label := units.SpeedLabel(unit)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "gate\tstrong\ttotal dBm\tv1 %s\tp1 dBm\tflags1\tv2 %s\tp2 dBm\tflags2\tratio dB\tquality\t\n", label, label)
	for i, g := range res.Gates {
		quality := moments.None()
		if i < len(res.WeakQuality) {
			quality = res.WeakQuality[i]
		}
		fmt.Fprintf(tw, "%d\t%d\t%v\t%s\t%v\t%v\t%s\t%v\t%v\t%v\t%v\t\n",
			i, g.StrongTrip, g.TotalPowerDbm,
			speed(g.Trip1, unit), g.Trip1.PowerDbm, g.Trip1.Flags,
			speed(g.Trip2, unit), g.Trip2.PowerDbm, g.Trip2.Flags,
			g.StrongToWeakDb, quality)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := res.Summary
	_, err := fmt.Fprintf(w, "gates=%d decoded=%d usable=%d/%d snr=%d/%d ratio=%d/%d replicas=%d/%d clutter=%d/%d in %v\n",
		s.Gates, s.Decoded,
		s.Trip1.Usable, s.Trip2.Usable,
		s.Trip1.CensoredSnr, s.Trip2.CensoredSnr,
		s.Trip1.CensoredRatio, s.Trip2.CensoredRatio,
		s.Trip1.CensoredReplica, s.Trip2.CensoredReplica,
		s.Trip1.ClutterFiltered, s.Trip2.ClutterFiltered,
		res.Duration)
	return err
}

func speed(e sz.TripEstimate, unit string) string {
	return e.Velocity.Map(func(v float64) float64 { return units.ConvertSpeed(v, unit) }).String()
}
