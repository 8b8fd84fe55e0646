package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/esimov/jda"
	"github.com/esimov/jda/imop"
	"github.com/esimov/jda/metrics"
	"github.com/esimov/jda/utils"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"
)

const HelpBanner = `
   _    _
  (_)__| |__ _
  | / _' / _' |
 _/ \__,_\__,_|
|__/

Joint face detection and alignment.
    Version: %s

`

// pipeName is the file name that indicates stdin/stdout is being used.
const pipeName = "-"

// Version indicates the current build version.
var Version string

var (
	// Flags
	model    = flag.String("model", "", "Model file or checkpoint directory")
	inspect  = flag.Bool("inspect", false, "Print the model configuration and training cursor")
	source   = flag.String("in", pipeName, "Source image")
	dest     = flag.String("out", "", "Destination of the annotated image")
	params   = flag.String("params", "", "JSON file with detection parameters")
	window   = flag.Int("window", 80, "Window size the model was trained with")
	minSize  = flag.Int("min", 0, "Minimum face size in pixels")
	maxSize  = flag.Int("max", 0, "Maximum face size in pixels")
	scale    = flag.Float64("scale", 1.2, "Scale factor between two searched face sizes")
	shift    = flag.Float64("shift", 0.1, "Window stride relative to the window size")
	overlap  = flag.Float64("iou", 0.3, "Intersection over union above which detections are grouped")
	merge    = flag.String("merge", string(jda.MergeMax), "Grouping rule: max or average")
	workers  = flag.Int("conc", 0, "Number of detection workers, 0 for the number of CPUs")
	rectCol  = flag.String("color", "#ff0000", "Face rectangle color")
	markCol  = flag.String("mark", "#00ff00", "Landmark color")
	compOp   = flag.String("op", string(imop.SrcOver), "Composition operator of the markers")
	blendOp  = flag.String("blend", "", "Blend mode of the markers")
	lineSize = flag.Int("line", 2, "Rectangle line thickness")
	dotSize  = flag.Float64("dot", 2, "Landmark radius")
	stats    = flag.String("metrics", "", "File receiving the detection metrics in the Prometheus text format")
)

// flagParams maps the detection flags to their parameter names.
var flagParams = map[string]string{
	"window": "window_size",
	"min":    "min_size",
	"max":    "max_size",
	"scale":  "scale_factor",
	"shift":  "shift_factor",
	"iou":    "overlap",
	"merge":  "merge",
	"conc":   "workers",
}

// spinner used to instantiate and call the progress indicator.
var spinner *utils.Spinner

func main() {
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, HelpBanner, Version)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *model == "" {
		flag.Usage()
		log.Fatal(utils.DecorateText("\nPlease provide a model file or checkpoint directory!", utils.ErrorMessage))
	}
	m, cur, err := loadModel(*model)
	if err != nil {
		log.Fatalf(utils.DecorateText("Failed to load the model: %v", utils.ErrorMessage), err)
	}
	if *inspect {
		printModel(m, cur)
		return
	}
	if !m.Complete() {
		log.Fatalf(utils.DecorateText("The model is still in training, at cursor %v", utils.ErrorMessage), cur)
	}

	p, err := detectParams()
	if err != nil {
		log.Fatalf(utils.DecorateText("Invalid detection parameters: %v", utils.ErrorMessage), err)
	}
	p.Metrics = metrics.New()

	src, err := openSource(*source)
	if err != nil {
		log.Fatalf(utils.DecorateText("Failed to open the source image: %v", utils.ErrorMessage), err)
	}
	defer src.Close()
	img, err := decodeImg(src)
	if err != nil {
		log.Fatal(utils.DecorateText(err.Error(), utils.ErrorMessage))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spinner = utils.NewSpinner(fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ JDA", utils.StatusMessage),
		utils.DecorateText("is searching for faces...", utils.DefaultMessage)), time.Millisecond*200, true)
	spinner.StopMsg = fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ JDA", utils.StatusMessage),
		utils.DecorateText("is searching for faces... ✔", utils.DefaultMessage))

	now := time.Now()
	spinner.Start()
	faces, stat, err := m.DetectImage(ctx, img, p)
	spinner.Stop()
	if err != nil {
		spinner.RestoreCursor()
		log.Fatalf(utils.DecorateText("Detection failed: %v", utils.ErrorMessage), err)
	}
	// The annotated image takes stdout over when piped.
	out := io.Writer(os.Stdout)
	if *dest == pipeName {
		out = os.Stderr
	}
	printResult(out, faces, stat, time.Since(now))

	if *stats != "" {
		if err := prometheus.WriteToTextfile(*stats, p.Metrics.Registry()); err != nil {
			log.Fatalf(utils.DecorateText("Failed to write the metrics: %v", utils.ErrorMessage), err)
		}
	}

	if *dest != "" {
		if err := writeAnnotated(*dest, img, faces); err != nil {
			log.Fatalf(utils.DecorateText("Failed to write the annotated image: %v", utils.ErrorMessage), err)
		}
		if *dest != pipeName {
			fmt.Fprintf(os.Stderr, "\nThe annotated image has been saved as: %s\n",
				utils.DecorateText(*dest, utils.SuccessMessage))
		}
	}
}

// loadModel opens a model file, or the most advanced checkpoint of a directory.
func loadModel(path string) (*jda.Model, jda.Cursor, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, jda.Start, err
	}
	if fi.IsDir() {
		if path, err = jda.LatestCheckpoint(path); err != nil {
			return nil, jda.Start, err
		}
	}
	return jda.OpenCheckpoint(path)
}

// detectParams collects the detection parameters from the JSON parameter file
// and the explicitly set flags, the latter taking precedence.
func detectParams() (jda.DetectParams, error) {
	input := make(map[string]interface{})
	if *params != "" {
		data, err := os.ReadFile(*params)
		if err != nil {
			return jda.DetectParams{}, err
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return jda.DetectParams{}, fmt.Errorf("parsing %s: %w", *params, err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		if name, ok := flagParams[f.Name]; ok {
			input[name] = f.Value.String()
		}
	})
	return jda.DecodeDetectParams(input)
}

// openSource opens the source image file, or stdin for the pipe name.
func openSource(in string) (io.ReadCloser, error) {
	if in == pipeName {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, errors.New("`-` should be used with a pipe for stdin")
		}
		return os.Stdin, nil
	}
	return os.Open(in)
}

// writeAnnotated draws the detections over the image and encodes it to out.
func writeAnnotated(out string, img image.Image, faces []jda.Detection) error {
	rect, err := imop.ParseHex(*rectCol)
	if err != nil {
		return err
	}
	mark, err := imop.ParseHex(*markCol)
	if err != nil {
		return err
	}
	comp := imop.NewComposite()
	if err := comp.Set(imop.Op(*compOp)); err != nil {
		return err
	}
	if err := comp.SetBlend(imop.BlendMode(*blendOp)); err != nil {
		return err
	}
	res := annotate(img, faces, markerStyle{
		rect:      rect,
		landmark:  mark,
		thickness: *lineSize,
		radius:    *dotSize,
	}, comp)

	if out == pipeName {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("`-` should be used with a pipe for stdout")
		}
		return encodeImg(os.Stdout, res)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := encodeImg(f, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printModel(m *jda.Model, cur jda.Cursor) {
	cfg := m.Config
	fmt.Fprintf(os.Stderr, "%s\n", utils.DecorateText("Model", utils.StatusMessage))
	fmt.Fprintf(os.Stderr, "\tstages:    %d\n\tcarts:     %d\n\tlandmarks: %d\n\tdepth:     %d\n",
		cfg.Stages, cfg.Carts, cfg.Landmarks, cfg.Depth)
	state := utils.DecorateText("complete", utils.SuccessMessage)
	if !m.Complete() {
		state = utils.DecorateText("in training", utils.StatusMessage)
	}
	fmt.Fprintf(os.Stderr, "\tcursor:    %v (%s)\n", cur, state)
}

// printResult writes one line per face: the rectangle, the score and the landmarks.
func printResult(w io.Writer, faces []jda.Detection, stat jda.Statistic, elapsed time.Duration) {
	for _, f := range faces {
		fmt.Fprintf(w, "%d %d %d %d %.4f", f.Rect.Min.X, f.Rect.Min.Y, f.Rect.Dx(), f.Rect.Dy(), f.Score)
		for _, p := range f.Shape {
			fmt.Fprintf(w, " %.2f %.2f", p.X, p.Y)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(os.Stderr, "\nFaces: %s  windows: %d  accepted: %d  average units: %.2f\n",
		utils.DecorateText(fmt.Sprint(len(faces)), utils.SuccessMessage),
		stat.Patches, stat.Faces, stat.AverageUnits)
	fmt.Fprintf(os.Stderr, "Execution time: %s\n",
		utils.DecorateText(utils.FormatTime(elapsed), utils.SuccessMessage))
}
