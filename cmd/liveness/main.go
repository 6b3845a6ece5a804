package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/faceproof/liveness"
	"github.com/faceproof/liveness/logger"
	"github.com/faceproof/liveness/utils"
)

const HelpBanner = `
┬  ┬┬  ┬┌─┐┌┐┌┌─┐┌─┐┌─┐
│  │└┐┌┘├┤ │││├┤ └─┐└─┐
┴─┘┴ └┘ └─┘┘└┘└─┘└─┘└─┘

Single image face liveness detection.
    Version: %s

`

// pipeName is the file name that indicates stdin/stdout is being used.
const pipeName = "-"

// Version indicates the current build version.
var Version string

var (
	// Flags
	source      = flag.String("in", pipeName, "Source image, directory or URL")
	destination = flag.String("out", "", "Attention heatmap destination (file or directory)")
	report      = flag.String("report", pipeName, "JSON report destination")
	modelPath   = flag.String("model", "", "Classifier artifact (safetensors)")
	cascade     = flag.String("cc", "", "Pigo face cascade classifier")
	workers     = flag.Int("conc", runtime.NumCPU(), "Number of files to process concurrently")
	convWorkers = flag.Int("workers", 0, "Goroutines per convolution (0 means one per CPU)")
	parallel    = flag.Bool("parallel", false, "Run the classifier and the analyzers concurrently")
	logLevel    = flag.String("log", "", "Log level")
)

func main() {
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, HelpBanner, Version)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := liveness.ConfigFromEnv()
	if err != nil {
		log.Fatalf(utils.DecorateText("Failed to read the configuration: %v", utils.ErrorMessage), err)
	}
	// Flags take precedence over the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.ModelPath = *modelPath
		case "cc":
			cfg.CascadePath = *cascade
		case "workers":
			cfg.Workers = *convWorkers
		case "parallel":
			cfg.Parallel = *parallel
		case "log":
			cfg.LogLevel = *logLevel
		}
	})
	if cfg.ModelPath == "" {
		flag.Usage()
		log.Fatal(utils.DecorateText("\nPlease provide the classifier artifact with -model or "+liveness.EnvModelPath, utils.ErrorMessage))
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(utils.DecorateText(err.Error(), utils.ErrorMessage))
	}

	lg, err := logger.New(logger.Options{Level: cfg.LogLevel})
	if err != nil {
		log.Fatal(utils.DecorateText(err.Error(), utils.ErrorMessage))
	}

	spinnerText := fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ LIVENESS", utils.StatusMessage),
		utils.DecorateText("is analyzing the image...", utils.DefaultMessage))
	spinner := utils.NewSpinner(spinnerText, time.Millisecond*200, true)

	// Capture CTRL-C signal and restore the cursor visibility back.
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		spinner.RestoreCursor()
		os.Exit(1)
	}()

	spinner.SetMessage(fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ LIVENESS", utils.StatusMessage),
		utils.DecorateText("is loading the model...", utils.DefaultMessage)))
	spinner.Start()
	engine, err := liveness.NewEngine(cfg, liveness.WithLogger(lg))
	spinner.Stop()
	if err != nil {
		log.Fatal(utils.DecorateText(err.Error(), utils.ErrorMessage))
	}
	spinner.SetMessage(spinnerText)

	pipeline := &liveness.Pipeline{Engine: engine}
	if cfg.CascadePath != "" {
		pipeline.Detector, err = liveness.NewFaceDetector(cfg.CascadePath)
		if err != nil {
			log.Fatal(utils.DecorateText(err.Error(), utils.ErrorMessage))
		}
	} else {
		fmt.Fprintln(os.Stderr, utils.DecorateText("No face cascade given, every image is analyzed as an aligned face crop.", utils.WarningMessage))
	}

	var out io.Writer = os.Stdout
	if *report != pipeName {
		f, err := os.Create(*report)
		if err != nil {
			log.Fatalf(utils.DecorateText("Unable to create the report file: %v", utils.ErrorMessage), err)
		}
		defer f.Close()
		out = f
	} else if *destination == pipeName {
		// The heatmap owns stdout.
		out = os.Stderr
	}

	runner := &liveness.Runner{Pipeline: pipeline, Spinner: spinner}
	op := &liveness.Ops{
		Src:      *source,
		Dst:      *destination,
		PipeName: pipeName,
		Workers:  *workers,
		Heatmap:  liveness.DefaultHeatmapOptions,
	}
	if err := runner.Execute(op, out); err != nil {
		fmt.Fprintln(os.Stderr, utils.DecorateText(err.Error(), utils.ErrorMessage))
		os.Exit(1)
	}
}
