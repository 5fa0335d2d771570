package inference

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-ssd/config"
	"github.com/nvr-ai/go-ssd/postprocess"
)

// Open loads the model described by cfg and wires it to decoder.
//
// The class count of the model output is the decoder's n_classes when set,
// otherwise the size of the configured label set.
//
// Returns:
//   - *Detector: The detector.
//   - *Session: The session backing the detector. Callers must Close it.
//   - error: An error if the labels are unknown or the session fails.
func Open(cfg config.ModelConfig, decoder *postprocess.Decoder, log *zap.Logger) (*Detector, *Session, error) {
	labels, err := Labels(cfg.Labels)
	if err != nil {
		return nil, nil, err
	}
	numClasses := decoder.Config().NumClasses
	if numClasses == 0 {
		numClasses = len(labels)
	}

	session, err := NewSession(SessionArgs{
		ModelPath:   cfg.Path,
		LibraryPath: cfg.LibraryPath,
		InputName:   cfg.InputName,
		OutputName:  cfg.OutputName,
		Width:       cfg.InputWidth,
		Height:      cfg.InputHeight,
		Layout:      Layout(cfg.Layout),
		PixelScale:  cfg.PixelScale,
		NumBoxes:    cfg.NumBoxes,
		NumClasses:  numClasses,
		Provider:    Provider(cfg.Provider),
		DeviceID:    cfg.DeviceID,
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open model %s", cfg.Path)
	}

	if log == nil {
		log = zap.NewNop()
	}
	log.Info("model loaded",
		zap.String("path", cfg.Path),
		zap.Int("n_boxes", cfg.NumBoxes),
		zap.Int("n_classes", numClasses),
		zap.String("layout", cfg.Layout),
		zap.String("provider", cfg.Provider),
	)
	return NewDetector(session, decoder, WithLabels(labels), WithLogger(log)), session, nil
}
