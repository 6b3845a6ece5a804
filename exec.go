package liveness

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"

	"github.com/faceproof/liveness/utils"
)

// maxWorkers sets the maximum number of concurrently running workers.
const maxWorkers = 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Supported files
var validExtensions = []string{".jpg", ".png", ".jpeg", ".bmp", ".gif"}

// Ops describes a batch run over a file, a directory, a URL or stdin.
type Ops struct {
	// Src is an image path, a directory, an URL or PipeName for stdin.
	Src string
	// Dst receives the attention heatmaps: a file for a single image, a
	// directory when Src is a directory, or PipeName for stdout. Empty disables heatmaps.
	Dst      string
	PipeName string
	Workers  int
	// Heatmap defaults to DefaultHeatmapOptions when left zero.
	Heatmap HeatmapOptions
}

// Report is the JSON record written for every analyzed image.
type Report struct {
	Path string `json:"path"`
	Face *Face  `json:"face,omitempty"`
	*Result
	// ProcessingTime is expressed in milliseconds.
	ProcessingTime float64 `json:"processingTime"`
	Error          string  `json:"error,omitempty"`
}

// result holds the relevant information about the analysis of a single image.
type result struct {
	path     string
	analysis *Analysis
	err      error
}

// Runner analyzes images with a pipeline and reports every result as a JSON line.
type Runner struct {
	Pipeline *Pipeline
	Spinner  *utils.Spinner
	// Status receives the human readable progress lines, stderr when nil.
	Status io.Writer
}

// Execute analyzes the source described by op and writes one JSON report per image to out.
// It returns an error when the source cannot be read or when any image failed.
func (r *Runner) Execute(op *Ops, out io.Writer) error {
	if r.Status == nil {
		r.Status = os.Stderr
	}
	now := time.Now()

	// Check if source path is a local image or URL.
	if utils.IsValidUrl(op.Src) {
		src, err := utils.DownloadImage(op.Src)
		if err != nil {
			return fmt.Errorf("failed to load the source image: %w", err)
		}
		defer os.Remove(src.Name())
		defer src.Close()

		res := r.process(op, op.Src, src, op.Dst)
		return r.finish(out, now, 1, []result{res})
	}

	// Check if the source is a pipe name or a regular file.
	if op.Src == op.PipeName {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("`-` should be used with a pipe for stdin")
		}
		res := r.process(op, op.PipeName, os.Stdin, op.Dst)
		return r.finish(out, now, 1, []result{res})
	}

	fs, err := os.Stat(op.Src)
	if err != nil {
		return fmt.Errorf("failed to load the source image: %w", err)
	}

	switch mode := fs.Mode(); {
	case mode.IsDir():
		if op.Dst != "" && op.Dst != op.PipeName {
			if err := os.MkdirAll(op.Dst, 0755); err != nil {
				return fmt.Errorf("unable to create the destination directory: %w", err)
			}
		}

		// Limit the concurrently running workers to maxWorkers.
		workers := op.Workers
		if workers <= 0 || workers > maxWorkers {
			workers = runtime.NumCPU()
		}

		// Process recursively the image files from the specified directory concurrently.
		ch := make(chan result)
		done := make(chan interface{})
		defer close(done)

		paths, errc := walkDir(done, op.Src, validExtensions)

		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				r.consumer(op, ch, done, paths)
			}()
		}

		// Close the channel after the values are consumed.
		go func() {
			defer close(ch)
			wg.Wait()
		}()

		r.startSpinner()
		var results []result
		for res := range ch {
			results = append(results, res)
			if r.Spinner != nil {
				r.Spinner.SetMessage(r.progressMessage(len(results), filepath.Base(res.path)))
			}
		}
		r.stopSpinner()

		if err := <-errc; err != nil {
			return err
		}
		return r.finish(out, now, len(results), results)

	case mode.IsRegular():
		f, err := os.Open(op.Src)
		if err != nil {
			return fmt.Errorf("unable to open the source file: %w", err)
		}
		defer f.Close()

		r.startSpinner()
		res := r.process(op, op.Src, f, op.Dst)
		r.stopSpinner()
		return r.finish(out, now, 1, []result{res})
	}
	return fmt.Errorf("%s is neither a regular file nor a directory", op.Src)
}

// consumer reads the path names from the paths channel and analyzes every image.
func (r *Runner) consumer(
	op *Ops,
	res chan<- result,
	done <-chan interface{},
	paths <-chan string,
) {
	for src := range paths {
		var dst string
		if op.Dst != "" && op.Dst != op.PipeName {
			dst = filepath.Join(op.Dst, heatmapName(src))
		}

		var out result
		f, err := os.Open(src)
		if err != nil {
			out = result{path: src, err: fmt.Errorf("unable to open the source file: %w", err)}
		} else {
			out = r.process(op, src, f, dst)
			f.Close()
		}

		select {
		case <-done:
			return
		case res <- out:
		}
	}
}

// process decodes the image, runs the pipeline and writes the optional heatmap.
func (r *Runner) process(op *Ops, path string, src io.Reader, dst string) result {
	img, _, err := image.Decode(src)
	if err != nil {
		return result{path: path, err: fmt.Errorf("could not decode the image: %w", err)}
	}

	a, err := r.Pipeline.Analyze(img)
	if err != nil {
		return result{path: path, err: err}
	}

	if dst != "" {
		opts := op.Heatmap
		if opts == (HeatmapOptions{}) {
			opts = DefaultHeatmapOptions
		}
		if err := writeHeatmap(a, dst, op.PipeName, opts); err != nil {
			return result{path: path, analysis: a, err: err}
		}
	}
	return result{path: path, analysis: a}
}

func writeHeatmap(a *Analysis, dst, pipeName string, opts HeatmapOptions) error {
	heatmap, err := Heatmap(a.Crop, a.Result.Attention, opts)
	if err != nil {
		return err
	}

	// Check if the destination is a pipe name or a regular file.
	if dst == pipeName {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("`-` should be used with a pipe for stdout")
		}
		return EncodeImage(os.Stdout, heatmap)
	}

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("unable to create the destination file: %w", err)
	}
	if err := EncodeImage(f, heatmap); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}

// finish writes the reports and prints the summary of the run.
func (r *Runner) finish(out io.Writer, start time.Time, total int, results []result) error {
	enc := json.NewEncoder(out)
	var failed int
	for _, res := range results {
		report := Report{Path: res.path}
		if res.analysis != nil {
			report.Face = res.analysis.Face
			report.Result = res.analysis.Result
			report.ProcessingTime = float64(res.analysis.Elapsed) / float64(time.Millisecond)
		}
		if res.err != nil {
			failed++
			report.Error = res.err.Error()
		}
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("unable to write the report: %w", err)
		}
		r.printOpStatus(res)
	}

	fmt.Fprintf(r.Status, "\nAnalyzed %d image(s) in %s\n", total,
		utils.DecorateText(utils.FormatTime(time.Since(start)), utils.SuccessMessage),
	)
	if failed > 0 {
		return fmt.Errorf("%d of %d image(s) could not be analyzed", failed, total)
	}
	return nil
}

// printOpStatus displays the verdict or the failure reason of a single image.
func (r *Runner) printOpStatus(res result) {
	name := filepath.Base(res.path)
	if res.err != nil {
		fmt.Fprintf(r.Status, "%s %s\n\t%s\n",
			utils.DecorateText("✘", utils.ErrorMessage),
			utils.DecorateText(name, utils.DefaultMessage),
			utils.DecorateText(fmt.Sprintf("Reason: %v", res.err), utils.DefaultMessage),
		)
		return
	}
	fmt.Fprintf(r.Status, "%s %s %s\n",
		utils.DecorateText("✔", utils.SuccessMessage),
		utils.DecorateText(name, utils.DefaultMessage),
		utils.FormatVerdict(res.analysis.Result.IsReal, res.analysis.Result.Confidence),
	)
}

func (r *Runner) progressMessage(n int, name string) string {
	return fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ LIVENESS", utils.StatusMessage),
		utils.DecorateText(fmt.Sprintf("⇢ %d analyzed, last: %s", n, name), utils.DefaultMessage),
	)
}

func (r *Runner) startSpinner() {
	if r.Spinner != nil {
		r.Spinner.Start()
	}
}

func (r *Runner) stopSpinner() {
	if r.Spinner != nil {
		r.Spinner.Stop()
	}
}

// heatmapName derives the heatmap file name from the source image name.
func heatmapName(src string) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	if ext == ".gif" {
		ext = ".png"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_heatmap" + ext
}

// walkDir starts a new goroutine to walk the specified directory tree
// in recursive manner and sends the path of each regular file to a new channel.
// It finishes in case the done channel is getting closed.
func walkDir(
	done <-chan interface{},
	src string,
	srcExts []string,
) (<-chan string, <-chan error) {
	pathChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		// Close the paths channel after Walk returns.
		defer close(pathChan)

		errChan <- filepath.Walk(src, func(path string, f os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !f.Mode().IsRegular() {
				return nil
			}
			if !isValidExtension(strings.ToLower(filepath.Ext(f.Name())), srcExts) {
				return nil
			}

			select {
			case <-done:
				return errors.New("directory walk cancelled")
			case pathChan <- path:
			}
			return nil
		})
	}()
	return pathChan, errChan
}

// isValidExtension checks for the supported extensions.
func isValidExtension(ext string, extensions []string) bool {
	return utils.Contains(extensions, ext)
}
