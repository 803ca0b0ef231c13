// Package flatness measures spectral flatness (Wiener entropy): the ratio of
// the geometric to the arithmetic mean of the power spectrum. White noise
// scores near 1, a pure tone near 0. The analyzer averages windowed,
// half-overlapped frames so short noisy signals still give stable readings.
package flatness

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/spectrum"
	"github.com/cwbudde/algo-dsp/dsp/window"
	algofft "github.com/MeKo-Christian/algo-fft"
)

const (
	defaultFFTSize      = 4096
	defaultRangeLowerHz = 20.0
	defaultRangeUpperHz = 20000.0
)

// Config holds flatness analysis parameters. Zero values pick sensible
// defaults: 4096-point FFT, Hann window, 20 Hz..20 kHz band.
type Config struct {
	SampleRate     float64
	FFTSize        int
	RangeLowerFreq float64
	RangeUpperFreq float64
	WindowType     window.Type
}

// Result holds a flatness measurement.
type Result struct {
	Flatness       float64
	FlatnessDB     float64
	GeometricMean  float64
	ArithmeticMean float64
	Frames         int
	Bins           int
}

// Analyzer computes averaged spectral flatness over a time-domain signal.
type Analyzer struct {
	cfg    Config
	plan   *algofft.Plan[complex128]
	coeffs []float64
}

// New builds an analyzer for the given configuration.
func New(cfg Config) (*Analyzer, error) {
	cfg = normalizeConfig(cfg)

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("flatness: sample rate must be > 0: %f", cfg.SampleRate)
	}

	plan, err := algofft.NewPlan64(cfg.FFTSize)
	if err != nil {
		return nil, fmt.Errorf("flatness: fft plan: %w", err)
	}

	return &Analyzer{
		cfg:    cfg,
		plan:   plan,
		coeffs: window.Generate(cfg.WindowType, cfg.FFTSize),
	}, nil
}

// AnalyzeSignal is a one-shot measurement of a time-domain signal.
func AnalyzeSignal(signal []float64, cfg Config) (Result, error) {
	a, err := New(cfg)
	if err != nil {
		return Result{}, err
	}

	return a.Analyze(signal)
}

// Analyze measures signal with half-overlapped frames and returns the
// flatness of the averaged power spectrum. The signal must cover at least one
// full FFT frame.
func (a *Analyzer) Analyze(signal []float64) (Result, error) {
	n := a.cfg.FFTSize
	if len(signal) < n {
		return Result{}, fmt.Errorf("flatness: signal too short: %d < %d", len(signal), n)
	}

	binCount := n/2 + 1
	avg := make([]float64, binCount)
	inData := make([]complex128, n)
	out := make([]complex128, n)

	frames := 0
	for start := 0; start+n <= len(signal); start += n / 2 {
		for i := 0; i < n; i++ {
			inData[i] = complex(signal[start+i]*a.coeffs[i], 0)
		}

		if err := a.plan.Forward(out, inData); err != nil {
			return Result{}, fmt.Errorf("flatness: fft: %w", err)
		}

		power := spectrum.Power(out[:binCount])
		for i, p := range power {
			avg[i] += p
		}

		frames++
	}

	inv := 1 / float64(frames)
	for i := range avg {
		avg[i] *= inv
	}

	return a.fromPower(avg, frames)
}

// fromPower evaluates flatness over the configured band of an averaged
// power spectrum covering bins [0..Nyquist].
func (a *Analyzer) fromPower(power []float64, frames int) (Result, error) {
	binHz := a.cfg.SampleRate / float64(a.cfg.FFTSize)
	maxBin := len(power) - 1

	lowerBin := clampInt(int(math.Round(a.cfg.RangeLowerFreq/binHz)), 1, maxBin)
	upperBin := clampInt(int(math.Round(a.cfg.RangeUpperFreq/binHz)), lowerBin, maxBin)

	bins := upperBin - lowerBin + 1
	if bins < 2 {
		return Result{}, fmt.Errorf("flatness: band %v..%v Hz covers %d bins",
			a.cfg.RangeLowerFreq, a.cfg.RangeUpperFreq, bins)
	}

	// Geometric mean in the log domain. Empty bins are floored so one
	// zeroed bin does not collapse the whole measurement.
	const floor = 1e-30

	logSum := 0.0
	linSum := 0.0

	for i := lowerBin; i <= upperBin; i++ {
		p := power[i]
		if p < floor {
			p = floor
		}

		logSum += math.Log(p)
		linSum += p
	}

	geo := math.Exp(logSum / float64(bins))
	arith := linSum / float64(bins)

	flat := 0.0
	if arith > 0 {
		flat = geo / arith
	}

	db := math.Inf(-1)
	if flat > 0 {
		db = 10 * math.Log10(flat)
	}

	return Result{
		Flatness:       flat,
		FlatnessDB:     db,
		GeometricMean:  geo,
		ArithmeticMean: arith,
		Frames:         frames,
		Bins:           bins,
	}, nil
}

func normalizeConfig(cfg Config) Config {
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = defaultFFTSize
	}

	if cfg.RangeLowerFreq <= 0 {
		cfg.RangeLowerFreq = defaultRangeLowerHz
	}

	if cfg.RangeUpperFreq <= 0 {
		cfg.RangeUpperFreq = defaultRangeUpperHz
	}

	if cfg.RangeUpperFreq < cfg.RangeLowerFreq {
		cfg.RangeUpperFreq = cfg.RangeLowerFreq
	}

	if cfg.WindowType == 0 {
		cfg.WindowType = window.TypeHann
	}

	return cfg
}

func clampInt(val, lo, hi int) int {
	if val < lo {
		return lo
	}

	if val > hi {
		return hi
	}

	return val
}
