// CLAUDE:SUMMARY Perceptual image comparison: decode, white compositing, size reconciliation, YIQ pixel diff, min over baselines.
// Package compare scores a rendered screenshot against one or more baseline
// images with a pixelmatch-compatible perceptual metric.
//
// Comparison is a pure function of its inputs: the same actual image,
// baselines, threshold and tolerance always produce the same verdict.
package compare

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"

	"github.com/orisano/pixelmatch"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	aaColor   = color.RGBA{R: 255, G: 255, A: 255}
	diffColor = color.RGBA{R: 255, A: 255}
)

// Verdict is the outcome of comparing one screenshot against its baselines.
type Verdict struct {
	Pass bool
	// Difference is the fraction of mismatched pixels for the closest
	// baseline, in [0, 1].
	Difference float64
	// Expected is the path of the closest baseline; empty when none exist.
	Expected string
	// Diff visualises the mismatch against the closest baseline.
	Diff *image.RGBA
	// Actual is the screenshot after normalisation.
	Actual *image.RGBA
}

// Comparator compares screenshots with baselines.
type Comparator struct {
	cropMismatched bool
	includeAA      bool
	diffAlpha      float64
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithCropMismatched reconciles differing sizes by cropping or padding the
// actual image to the baseline's size, counting every pixel outside the
// overlap as mismatched. Without it a size mismatch scores 1.
func WithCropMismatched() Option {
	return func(c *Comparator) { c.cropMismatched = true }
}

// WithIncludeAA counts anti-aliased pixels as mismatches.
func WithIncludeAA() Option {
	return func(c *Comparator) { c.includeAA = true }
}

// WithDiffAlpha sets the opacity of unchanged pixels in the diff image. Default: 0.1.
func WithDiffAlpha(a float64) Option {
	return func(c *Comparator) { c.diffAlpha = a }
}

// New creates a Comparator.
func New(opts ...Option) *Comparator {
	c := &Comparator{diffAlpha: 0.1}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compare decodes the PNG screenshot and scores it against every baseline
// file, keeping the smallest difference. No baselines is a failure with
// difference 1. The verdict passes iff the difference is <= allowed.
func (c *Comparator) Compare(actual []byte, expectedPaths []string, threshold, allowed float64) (*Verdict, error) {
	act, err := Decode(actual)
	if err != nil {
		return nil, fmt.Errorf("compare: decode actual: %w", err)
	}
	expected := make([]image.Image, 0, len(expectedPaths))
	for _, p := range expectedPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("compare: read expected: %w", err)
		}
		img, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("compare: decode %s: %w", p, err)
		}
		expected = append(expected, img)
	}

	v, best := c.compareImages(act, expected, threshold, allowed)
	if best >= 0 {
		v.Expected = expectedPaths[best]
	}
	return v, nil
}

// CompareImages is Compare on decoded images.
func (c *Comparator) CompareImages(actual image.Image, expected []image.Image, threshold, allowed float64) *Verdict {
	v, _ := c.compareImages(actual, expected, threshold, allowed)
	return v
}

func (c *Comparator) compareImages(actual image.Image, expected []image.Image, threshold, allowed float64) (*Verdict, int) {
	act := Flatten(actual)
	v := &Verdict{Difference: 1, Actual: act}
	best := -1
	for i, exp := range expected {
		d, diff := c.Difference(act, exp, threshold)
		if best < 0 || d < v.Difference {
			v.Difference, v.Diff, best = d, diff, i
		}
	}
	v.Pass = best >= 0 && v.Difference <= allowed
	return v, best
}

// Difference returns the mismatched-pixel ratio of actual against expected
// and the diff image, sized like expected.
func (c *Comparator) Difference(actual, expected image.Image, threshold float64) (float64, *image.RGBA) {
	exp := Flatten(expected)
	act := Flatten(actual)
	size := exp.Rect.Size()
	total := size.X * size.Y
	if total == 0 {
		return 1, exp
	}

	overlap := exp.Rect
	if act.Rect.Size() != size {
		if !c.cropMismatched {
			return 1, solid(exp.Rect, diffColor)
		}
		overlap = act.Rect.Intersect(exp.Rect)
		act = reframe(act, exp.Rect)
	}

	// Both frames start at the origin, so the overlap does too.
	diff := solid(exp.Rect, diffColor)
	outside := total - overlap.Dx()*overlap.Dy()
	if overlap.Empty() {
		return 1, diff
	}
	opts := []pixelmatch.MatchOption{
		pixelmatch.Threshold(threshold),
		pixelmatch.Alpha(c.diffAlpha),
		pixelmatch.DiffColor(diffColor),
		pixelmatch.AntiAliasedColor(aaColor),
	}
	if c.includeAA {
		opts = append(opts, pixelmatch.IncludeAntiAlias)
	}
	var out image.Image
	opts = append(opts, pixelmatch.WriteTo(&out))
	n, err := pixelmatch.MatchPixel(act.SubImage(overlap), exp.SubImage(overlap), opts...)
	if err != nil {
		return 1, diff
	}
	if out != nil {
		xdraw.Draw(diff, overlap, out, out.Bounds().Min, xdraw.Src)
	}
	return float64(n+outside) / float64(total), diff
}

// Decode reads a PNG or WebP image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// Flatten composites img onto opaque white into a fresh RGBA image whose
// bounds start at the origin. Fully opaque images keep their exact pixels,
// so transparency alone never reads as a difference.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Rect, image.White, image.Point{}, xdraw.Src)
	xdraw.Draw(dst, dst.Rect, img, b.Min, xdraw.Over)
	return dst
}

// reframe crops or pads img to r. Padding is white, matching Flatten.
func reframe(img *image.RGBA, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(r)
	xdraw.Draw(dst, r, image.White, image.Point{}, xdraw.Src)
	xdraw.Draw(dst, r.Intersect(img.Rect), img, image.Point{}, xdraw.Src)
	return dst
}

func solid(r image.Rectangle, c color.RGBA) *image.RGBA {
	dst := image.NewRGBA(r)
	xdraw.Draw(dst, r, image.NewUniform(c), image.Point{}, xdraw.Src)
	return dst
}
