package shared

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScaleByPercent(t *testing.T) {
	t.Run("truncates toward zero", func(t *testing.T) {
		assert.Equal(t, Amount(1_600000), Amount(2_000000).ScaleByPercent(80))
		assert.Equal(t, Amount(0), Amount(99).ScaleByPercent(1))
		assert.Equal(t, Amount(33), Amount(100).ScaleByPercent(33))
	})

	t.Run("boundary percentages", func(t *testing.T) {
		assert.Equal(t, Amount(0), Amount(2_000000).ScaleByPercent(0))
		assert.Equal(t, Amount(2_000000), Amount(2_000000).ScaleByPercent(100))
	})

	t.Run("clamps above one hundred", func(t *testing.T) {
		assert.Equal(t, Amount(2_000000), Amount(2_000000).ScaleByPercent(255))
	})

	t.Run("survives amounts near the uint64 ceiling", func(t *testing.T) {
		huge := Amount(math.MaxUint64)
		got := huge.ScaleByPercent(50)
		assert.Equal(t, Amount(math.MaxUint64/100*50), got)
		assert.Less(t, uint64(got), uint64(huge))
		assert.Equal(t, huge, huge.ScaleByPercent(100))
	})
}

func TestProfileScoreValidate(t *testing.T) {
	assert.NoError(t, ProfileScore(0).Validate())
	assert.NoError(t, ProfileScore(100).Validate())
	assert.Error(t, ProfileScore(101).Validate())
}
