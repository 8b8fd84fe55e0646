package jda

import (
	"context"
	"image"
	"math"

	"github.com/esimov/jda/imgproc"
	"github.com/esimov/jda/shape"
	"github.com/esimov/jda/utils"
)

// Detection is a face found by the detector.
type Detection struct {
	// Rect is the face region in image pixels.
	Rect  image.Rectangle
	Score float64
	// Shape holds the landmarks in image pixels.
	Shape shape.Shape
}

// Statistic counts the windows visited by one Detect call.
type Statistic struct {
	Patches  int
	Faces    int
	NonFaces int
	// UnitsRun is the sum of the units run per window, see Result.Units.
	UnitsRun float64
	// AverageUnits is UnitsRun divided by Patches, zero when no window was evaluated.
	AverageUnits float64
}

func (s *Statistic) add(r Result) {
	s.Patches++
	if r.Accepted {
		s.Faces++
	} else {
		s.NonFaces++
	}
	s.UnitsRun += float64(r.Units)
	s.update()
}

func (s *Statistic) merge(o Statistic) {
	s.Patches += o.Patches
	s.Faces += o.Faces
	s.NonFaces += o.NonFaces
	s.UnitsRun += o.UnitsRun
	s.update()
}

func (s *Statistic) update() {
	if s.Patches == 0 {
		s.AverageUnits = 0
		return
	}
	s.AverageUnits = s.UnitsRun / float64(s.Patches)
}

// Detect searches the image for faces with a sliding window over an image
// pyramid. Every face size between MinSize and MaxSize, growing by ScaleFactor,
// is searched on its own pyramid level with a stride of ShiftFactor windows. The
// windows the complete cascade accepts are grouped by non maximum suppression.
//
// The windows of one level are evaluated on a pool of workers. The output does
// not depend on the number of workers. A cancelled context stops the search
// between rows and levels and returns the context error.
func (m *Model) Detect(ctx context.Context, img *image.Gray, p DetectParams) ([]Detection, Statistic, error) {
	var stat Statistic
	if !m.Complete() {
		return nil, stat, ErrIncomplete
	}
	if err := p.Validate(); err != nil {
		return nil, stat, err
	}

	var (
		b       = img.Bounds()
		win     = p.WindowSize
		final   = m.Config.Final()
		found   []Detection
		minSize = p.MinSize
	)
	if minSize == 0 {
		minSize = win
	}
	step := utils.Max(1, int(math.Round(float64(win)*p.ShiftFactor)))

	for _, size := range imgproc.WindowSizes(b.Dx(), b.Dy(), minSize, p.MaxSize, p.ScaleFactor) {
		if err := ctx.Err(); err != nil {
			return nil, stat, err
		}
		level := imgproc.NewLevel(img, size, win)
		lb := level.Image.Bounds()
		if lb.Dx() < win || lb.Dy() < win {
			continue
		}

		rows := (lb.Dy()-win)/step + 1
		rowFound := make([][]Detection, rows)
		rowStat := make([]Statistic, rows)
		err := parallel(ctx, rows, p.Workers, func(r int) {
			y := r * step
			for x := 0; x+win <= lb.Dx(); x += step {
				res := m.Validate(level.Window(x, y, win), final)
				rowStat[r].add(res)
				if res.Accepted {
					rect := level.Rect(x, y, win)
					rowFound[r] = append(rowFound[r], Detection{
						Rect:  rect.Add(b.Min),
						Score: res.Score,
						Shape: res.Shape.ToRect(rect.Add(b.Min)),
					})
				}
			}
		})
		if err != nil {
			return nil, stat, err
		}
		for r := range rowFound {
			found = append(found, rowFound[r]...)
			stat.merge(rowStat[r])
		}
	}

	faces := suppress(found, p.Overlap, p.Merge)
	p.Metrics.ObserveDetection(stat.Patches, stat.Faces, stat.NonFaces, int(stat.UnitsRun), len(faces))
	return faces, stat, nil
}

// DetectImage converts img to grayscale and runs Detect on it.
func (m *Model) DetectImage(ctx context.Context, img image.Image, p DetectParams) ([]Detection, Statistic, error) {
	return m.Detect(ctx, imgproc.ToGray(img), p)
}
