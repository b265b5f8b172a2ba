// Package sentiment defines the seam for the out-of-scope sentiment
// classifier INSIGHT's analyze_sentiment search-tool variant calls into
// (§1 OUT OF SCOPE, §9 supplemented). No real model is wired; the
// default implementation matches the disabled-mode fallback in
// original_source/InsightEngine/tools/sentiment_analyzer.py.
package sentiment

import "context"

// ErrDisabled is returned by DisabledClassifier for every call.
var ErrDisabled = disabledErr{}

type disabledErr struct{}

func (disabledErr) Error() string { return "sentiment classifier disabled: no model loaded" }

// Classifier labels a piece of text with a sentiment and confidence.
type Classifier interface {
	Classify(ctx context.Context, text string) (label string, confidence float64, err error)
}

// DisabledClassifier is the default Classifier when no real model is
// configured: it always reports neutral/zero-confidence plus ErrDisabled,
// so callers can distinguish "ran and found nothing" from "never ran".
type DisabledClassifier struct{}

func (DisabledClassifier) Classify(ctx context.Context, text string) (string, float64, error) {
	return "neutral", 0, ErrDisabled
}
