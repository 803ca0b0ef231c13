// monument-render renders the reverb offline: it excites the engine with an
// impulse or a noise burst and writes the resulting tail to a WAV file.
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"

	"github.com/cwbudde/monument/dsp/graph"
	"github.com/cwbudde/monument/engine"
	"github.com/cwbudde/monument/preset"
)

func main() {
	presetPath := flag.String("preset", "", "Preset JSON file path (optional)")
	topology := flag.String("topology", "", "Topology name override (e.g. traditional-cathedral)")
	duration := flag.Float64("duration", 8.0, "Render duration in seconds")
	decayDBFS := flag.Float64("decay-dbfs", math.Inf(1), "Auto-stop when stereo block RMS falls below this dBFS (e.g. -60). Disabled by default")
	decayHoldBlocks := flag.Int("decay-hold-blocks", 6, "Consecutive below-threshold blocks required to stop in auto-decay mode")
	maxDuration := flag.Float64("max-duration", 60.0, "Maximum render duration in seconds when using -decay-dbfs")
	noiseSeconds := flag.Float64("noise", 0, "Excite with seeded noise for this many seconds instead of an impulse")
	seed := flag.Int64("seed", 1, "Seed for all stochastic elements")
	sampleRate := flag.Int("sample-rate", 48000, "Render sample rate in Hz")
	blockSize := flag.Int("block", 512, "Processing block size in frames")
	output := flag.String("output", "output.wav", "Output WAV file path")
	flag.Parse()

	const numChannels = 2

	e := engine.New(*seed)
	if err := e.Prepare(float64(*sampleRate), *blockSize, numChannels); err != nil {
		fail("prepare: %v", err)
	}

	if *presetPath != "" {
		st, err := preset.LoadJSON(*presetPath)
		if err != nil {
			fail("loading preset %q: %v", *presetPath, err)
		}

		if err := e.ApplyState(st); err != nil {
			fail("applying preset: %v", err)
		}
	}

	if *topology != "" {
		id, ok := graph.LookupPreset(*topology)
		if !ok {
			fail("unknown topology %q", *topology)
		}

		if err := e.LoadTopology(id); err != nil {
			fail("loading topology: %v", err)
		}
	}

	excitation := "impulse"
	if *noiseSeconds > 0 {
		excitation = fmt.Sprintf("%.2fs noise", *noiseSeconds)
	}

	fmt.Printf("Rendering %s through %s for up to %.2f seconds at %d Hz...\n",
		excitation, e.State().Topology, renderCap(*duration, *maxDuration, *decayDBFS), *sampleRate)

	controls := engine.DefaultControls()
	rng := rand.New(rand.NewSource(*seed))

	autoStop := !math.IsInf(*decayDBFS, 1)

	maxFrames := int(float64(*sampleRate) * (*duration))
	if autoStop {
		maxFrames = int(float64(*sampleRate) * (*maxDuration))
	}

	if maxFrames < *blockSize {
		maxFrames = *blockSize
	}

	noiseFrames := int(float64(*sampleRate) * (*noiseSeconds))
	thresholdLin := math.Pow(10, *decayDBFS/20)

	if *decayHoldBlocks < 1 {
		*decayHoldBlocks = 1
	}

	buf := make([][]float64, numChannels)
	for ch := range buf {
		buf[ch] = make([]float64, *blockSize)
	}

	samples := make([]float32, 0, maxFrames*numChannels)

	framesRendered := 0
	belowCount := 0

	for framesRendered < maxFrames {
		excite(buf, framesRendered, noiseFrames, rng)

		e.Process(buf, &controls, nil)

		for i := 0; i < *blockSize; i++ {
			samples = append(samples, float32(buf[0][i]), float32(buf[1][i]))
		}

		framesRendered += *blockSize

		if autoStop && framesRendered > noiseFrames+*blockSize {
			if blockRMS(buf) < thresholdLin {
				belowCount++
				if belowCount >= *decayHoldBlocks {
					break
				}
			} else {
				belowCount = 0
			}
		}
	}

	if autoStop {
		fmt.Printf("Auto-stop at %d frames (%.3fs), threshold %.1f dBFS\n",
			framesRendered, float64(framesRendered)/float64(*sampleRate), *decayDBFS)
	}

	if err := writeWAV(*output, samples, *sampleRate, numChannels); err != nil {
		fail("writing %s: %v", *output, err)
	}

	fmt.Printf("Successfully wrote %s (%d frames)\n", *output, framesRendered)
}

// excite fills buf with the chosen excitation: an impulse in the very first
// frame, or seeded noise until noiseFrames have elapsed, then silence.
func excite(buf [][]float64, framesRendered, noiseFrames int, rng *rand.Rand) {
	frames := len(buf[0])

	for ch := range buf {
		for i := range buf[ch] {
			buf[ch][i] = 0
		}
	}

	if noiseFrames > 0 {
		for i := 0; i < frames && framesRendered+i < noiseFrames; i++ {
			v := (rng.Float64()*2 - 1) * 0.5
			for ch := range buf {
				buf[ch][i] = v
			}
		}

		return
	}

	if framesRendered == 0 {
		for ch := range buf {
			buf[ch][0] = 1
		}
	}
}

func blockRMS(buf [][]float64) float64 {
	total := 0
	sum := 0.0

	for ch := range buf {
		for _, v := range buf[ch] {
			sum += v * v
		}

		total += len(buf[ch])
	}

	if total == 0 {
		return 0
	}

	return math.Sqrt(sum / float64(total))
}

func renderCap(duration, maxDuration, decayDBFS float64) float64 {
	if math.IsInf(decayDBFS, 1) {
		return duration
	}

	return maxDuration
}

func writeWAV(path string, samples []float32, sampleRate, numChannels int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := wav.NewEncoder(file, sampleRate, 16, numChannels, 1)
	defer encoder.Close()

	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: numChannels,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}

	return encoder.Write(buf)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
