package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
)

// Slide is one kept frame representing a visually distinct moment.
type Slide struct {
	Ordinal   int
	Timestamp float64
	Path      string
}

// SlideOptions tune the content-change detector.
type SlideOptions struct {
	SampleInterval float64 // seconds of source time between sampled frames
	MinDwell       float64 // seconds that must pass since the last kept frame
	DiffThreshold  float64 // fraction of changed pixels that triggers a keep
	MaxSlides      int
}

// DefaultSlideOptions matches presentation-style recordings: sample twice a
// second, keep a frame when >5% of pixels changed and at least 2s elapsed.
func DefaultSlideOptions() SlideOptions {
	return SlideOptions{
		SampleInterval: 0.5,
		MinDwell:       2.0,
		DiffThreshold:  0.05,
		MaxSlides:      1000,
	}
}

// Sampled frames are downscaled to this fixed size before diffing. The aspect
// distortion is irrelevant for change detection and keeps frame size known.
const (
	sampleWidth  = 128
	sampleHeight = 72
	frameBytes   = sampleWidth * sampleHeight
	// pixel delta below this counts as noise, not change
	pixelDelta = 25
	// fixed-interval fallback step in seconds
	fallbackInterval = 60.0
)

// DetectSlides extracts content-change slides from a video into outDir.
// Best-effort: any failure returns whatever was collected so far (possibly
// nothing) with a nil error only on the happy path; callers treat errors as
// a logged warning, never as a job failure.
func DetectSlides(ctx context.Context, videoPath, outDir string, opts SlideOptions) ([]Slide, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create slide dir: %w", err)
	}

	timestamps, err := sampleChangeTimestamps(ctx, videoPath, opts)
	if err != nil || len(timestamps) == 0 {
		if err != nil {
			log.Printf("[media] change detection failed for %s, falling back to fixed interval: %v", videoPath, err)
		}
		timestamps, err = fixedIntervalTimestamps(ctx, videoPath, opts.MaxSlides)
		if err != nil {
			return nil, err
		}
	}

	var slides []Slide
	for i, ts := range timestamps {
		framePath := filepath.Join(outDir, fmt.Sprintf("screenshot_%04d.jpg", i))
		if err := captureFrame(ctx, videoPath, ts, framePath); err != nil {
			log.Printf("[media] frame capture at %.1fs failed: %v", ts, err)
			continue
		}
		slides = append(slides, Slide{Ordinal: i, Timestamp: ts, Path: framePath})
	}
	return slides, nil
}

// sampleChangeTimestamps streams downscaled greyscale frames out of ffmpeg
// and returns the timestamps where the content visibly changed.
func sampleChangeTimestamps(ctx context.Context, videoPath string, opts SlideOptions) ([]float64, error) {
	fps := 1.0 / opts.SampleInterval
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%g,scale=%d:%d", fps, sampleWidth, sampleHeight),
		"-pix_fmt", "gray",
		"-f", "rawvideo",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start frame sampler: %w", err)
	}

	det := newChangeDetector(opts)
	reader := bufio.NewReaderSize(stdout, frameBytes*4)
	frame := make([]byte, frameBytes)
	var timestamps []float64
	index := 0

	for {
		if _, err := io.ReadFull(reader, frame); err != nil {
			break
		}
		ts := float64(index) * opts.SampleInterval
		if det.Sample(frame, ts) {
			timestamps = append(timestamps, ts)
			if len(timestamps) >= opts.MaxSlides {
				break
			}
		}
		index++
	}

	// The sampler may still be writing when we hit MaxSlides.
	cmd.Process.Kill()
	cmd.Wait()

	if index == 0 {
		return nil, fmt.Errorf("no frames decoded from %s", videoPath)
	}
	return timestamps, nil
}

// changeDetector keeps the last kept frame and decides, per sample, whether
// the picture changed enough to keep a new one.
type changeDetector struct {
	opts     SlideOptions
	lastKept []byte
	lastTime float64
	kept     bool
}

func newChangeDetector(opts SlideOptions) *changeDetector {
	return &changeDetector{opts: opts}
}

// Sample reports whether the frame at ts should be kept. The first frame is
// always kept. Comparison is against the last kept frame, not the previous
// sample, so slow fades accumulate until they cross the threshold.
func (d *changeDetector) Sample(frame []byte, ts float64) bool {
	blurred := boxBlur(frame, sampleWidth, sampleHeight)

	if !d.kept {
		d.keep(blurred, ts)
		return true
	}
	if ts-d.lastTime < d.opts.MinDwell {
		return false
	}
	if fracChanged(d.lastKept, blurred) < d.opts.DiffThreshold {
		return false
	}
	d.keep(blurred, ts)
	return true
}

func (d *changeDetector) keep(frame []byte, ts float64) {
	d.lastKept = frame
	d.lastTime = ts
	d.kept = true
}

// boxBlur applies a 3x3 mean filter to a greyscale frame to suppress
// compression noise before diffing.
func boxBlur(src []byte, w, h int) []byte {
	dst := make([]byte, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum, count int
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					sum += int(src[ny*w+nx])
					count++
				}
			}
			dst[y*w+x] = byte(sum / count)
		}
	}
	return dst
}

// fracChanged returns the fraction of pixels whose absolute difference
// exceeds the noise floor.
func fracChanged(a, b []byte) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	changed := 0
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		if d > pixelDelta {
			changed++
		}
	}
	return float64(changed) / float64(len(a))
}

// fixedIntervalTimestamps is the fallback when the sampler cannot run: one
// frame per minute of source time.
func fixedIntervalTimestamps(ctx context.Context, videoPath string, maxSlides int) ([]float64, error) {
	info, err := Probe(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("probe duration: %w", err)
	}
	var timestamps []float64
	for ts := 0.0; ts < info.Duration && len(timestamps) < maxSlides; ts += fallbackInterval {
		timestamps = append(timestamps, ts)
	}
	return timestamps, nil
}

// captureFrame extracts one full-resolution frame at ts as a JPEG.
func captureFrame(ctx context.Context, videoPath string, ts float64, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", ts),
		"-i", videoPath,
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w", truncate(string(output), 200), err)
	}
	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("empty frame at %.1fs", ts)
	}
	return nil
}
