package inference

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Candidate names a backend constructor tried during selection.
type Candidate struct {
	Name      string
	Construct func() (Backend, error)
}

// Select tries each candidate in priority order and returns the first
// backend that loads. Per-candidate failures are collected; if every
// candidate fails, the combined failure is returned and the caller must
// treat it as a startup abort, since the system cannot operate without a
// backend. Which backend became active is logged, nothing else about
// selection is observable on the data path.
func Select(candidates []Candidate, logger golog.Logger) (Backend, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no backend candidates configured")
	}
	var loadErrs error
	for _, candidate := range candidates {
		backend, err := candidate.Construct()
		if err != nil {
			logger.Warnw("inference backend failed to load, trying next",
				"backend", candidate.Name, "error", err)
			var mle *ModelLoadError
			if !errors.As(err, &mle) {
				err = &ModelLoadError{candidate.Name, err}
			}
			loadErrs = multierr.Append(loadErrs, err)
			continue
		}
		logger.Infow("inference backend active", "backend", backend.Name(),
			"confidence_threshold", backend.Params().ConfidenceThreshold,
			"max_results", backend.Params().MaxResults)
		return backend, nil
	}
	return nil, errors.Wrap(loadErrs, "every inference backend failed to load")
}
