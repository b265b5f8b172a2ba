package sentiment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledClassifierReturnsNeutralAndErrDisabled(t *testing.T) {
	c := DisabledClassifier{}
	label, confidence, err := c.Classify(context.Background(), "great product")
	assert.Equal(t, "neutral", label)
	assert.Zero(t, confidence)
	assert.True(t, errors.Is(err, ErrDisabled))
}
