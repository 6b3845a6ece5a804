package liveness

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/faceproof/liveness/logger"
	"github.com/faceproof/liveness/model"
)

// highlightThreshold is the attention value a cell must exceed to be reported.
const highlightThreshold = 0.5

// Highlight is a feature-map cell the classifier attended to.
type Highlight struct {
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Intensity float64 `json:"intensity"`
}

// Result is the liveness decision for a single crop together with its explanation.
// Highlights lists the attention cells above 0.5 in row-major order.
type Result struct {
	IsReal        bool                `json:"isReal"`
	Confidence    float64             `json:"confidence"`
	Probabilities [2]float64          `json:"probabilities"`
	Highlights    []Highlight         `json:"attentionHighlights"`
	Texture       TextureReport       `json:"textureAnalysis"`
	Reflection    ReflectionReport    `json:"reflectionAnalysis"`
	Frequency     FrequencyReport     `json:"frequencyAnalysis"`
	Attention     *model.AttentionMap `json:"-"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine.
func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithClassifier replaces the classifier built from the model artifact.
// The artifact is not read when a classifier is supplied.
func WithClassifier(c *model.Classifier) Option {
	return func(e *Engine) {
		e.classifier = c
	}
}

// Engine fuses the learned classifier with the texture, reflection and frequency
// analyzers. It keeps no state between calls and is safe for concurrent use.
type Engine struct {
	classifier *model.Classifier
	texture    *TextureAnalyzer
	reflection *ReflectionAnalyzer
	frequency  *FrequencyAnalyzer
	parallel   bool
	log        *logrus.Logger
}

// NewEngine loads the classifier parameters and prepares the analyzers.
// Any failure to obtain a usable classifier is reported as *ModelNotReadyError.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		texture:    NewTextureAnalyzer(),
		reflection: NewReflectionAnalyzer(),
		frequency:  NewFrequencyAnalyzer(),
		parallel:   cfg.Parallel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Discard()
	}
	if e.classifier != nil {
		return e, nil
	}

	if cfg.ModelPath == "" {
		return nil, &ModelNotReadyError{Err: errMissingModelPath}
	}
	start := time.Now()
	weights, err := model.Load(cfg.ModelPath)
	if err != nil {
		e.log.WithError(err).WithField("path", cfg.ModelPath).Error("loading model artifact")
		return nil, &ModelNotReadyError{Path: cfg.ModelPath, Err: err}
	}
	e.classifier, err = model.New(weights, model.Options{Workers: cfg.workers()})
	if err != nil {
		e.log.WithError(err).WithField("path", cfg.ModelPath).Error("building classifier")
		return nil, &ModelNotReadyError{Path: cfg.ModelPath, Err: err}
	}

	e.log.WithFields(logger.Fields{
		"path":     cfg.ModelPath,
		"tensors":  len(weights.Tensors),
		"workers":  cfg.workers(),
		"parallel": cfg.Parallel,
		"elapsed":  time.Since(start).String(),
	}).Info("model loaded")
	return e, nil
}

// Infer runs the classifier and the three analyzers on an aligned 224×224 RGB crop.
// An invalid crop is rejected with *InvalidInputError before any work is done.
// Either every component succeeds or an error is returned.
func (e *Engine) Infer(c *Crop) (*Result, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	log := e.log.WithField("trace", uuid.NewString())

	var (
		pred       *model.Prediction
		texture    TextureReport
		reflection ReflectionReport
		frequency  FrequencyReport
	)
	classify := func() (err error) {
		pred, err = e.classifier.Classify(normalize(c))
		return err
	}
	analyze := []func() error{
		classify,
		func() error { texture = e.texture.Analyze(c); return nil },
		func() error { reflection = e.reflection.Analyze(c); return nil },
		func() error { frequency = e.frequency.Analyze(c); return nil },
	}

	if e.parallel {
		var g errgroup.Group
		for _, fn := range analyze {
			g.Go(fn)
		}
		if err := g.Wait(); err != nil {
			log.WithError(err).Error("inference failed")
			return nil, err
		}
	} else {
		for _, fn := range analyze {
			if err := fn(); err != nil {
				log.WithError(err).Error("inference failed")
				return nil, err
			}
		}
	}

	res := &Result{
		IsReal:        pred.IsReal,
		Confidence:    pred.Confidence,
		Probabilities: pred.Probabilities,
		Highlights:    highlights(pred.Attention),
		Texture:       texture,
		Reflection:    reflection,
		Frequency:     frequency,
		Attention:     pred.Attention,
	}

	log.WithFields(logger.Fields{
		"real":       res.IsReal,
		"confidence": res.Confidence,
		"highlights": len(res.Highlights),
		"elapsed":    time.Since(start).String(),
	}).Debug("inference done")
	return res, nil
}

// highlights returns every attention cell above the threshold, scanning rows top to bottom.
func highlights(a *model.AttentionMap) []Highlight {
	out := []Highlight{}
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			if v := a.At(x, y); v > highlightThreshold {
				out = append(out, Highlight{X: x, Y: y, Intensity: v})
			}
		}
	}
	return out
}
