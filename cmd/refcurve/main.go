// Command refcurve builds a statistical reference curve from a WAV file
// and prints it as a band table, optionally writing the JSON curve file
// the engine loads at runtime.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/measure/reference"
)

var cli struct {
	Input       string  `arg:"" type:"existingfile" help:"Reference WAV file to analyze."`
	Output      string  `short:"o" placeholder:"FILE" help:"Write the curve as JSON to FILE."`
	Calibration float64 `default:"-60" help:"Level in dB the curve median is recentered to."`
	FFTSize     int     `name:"fft-size" default:"4096" help:"Analysis frame length in samples."`
	HopSize     int     `name:"hop-size" default:"2048" help:"Analysis hop in samples."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("refcurve"),
		kong.Description("Build a statistical reference curve from an audio file."),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	builder := reference.NewBuilder(eqbands.Standard(),
		reference.WithFFTSize(cli.FFTSize),
		reference.WithHopSize(cli.HopSize),
		reference.WithCalibration(cli.Calibration),
	)

	curve, err := builder.AnalyzeFile(ctx, cli.Input)
	kctx.FatalIfErrorf(err)

	if cli.Output != "" {
		kctx.FatalIfErrorf(reference.SaveJSON(cli.Output, curve))
		fmt.Fprintf(os.Stderr, "wrote %d bands to %s\n", len(curve), cli.Output)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "freq (Hz)\tp10 (dB)\tmedian (dB)\tp90 (dB)\t")
	for _, b := range curve {
		fmt.Fprintf(w, "%.0f\t%.1f\t%.1f\t%.1f\t\n", b.Freq, b.P10, b.Median, b.P90)
	}
	w.Flush()
}
