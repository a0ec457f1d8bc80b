package retrieval

import (
	"math"
	"time"

	"github.com/theapemachine/mnemo/pkg/memory"
)

/*
Decay describes how fast older memories lose weight. Rate is the fraction
lost per 30 days, Cap the most that can ever be lost.
*/
type Decay struct {
	Rate float64 `mapstructure:"decayRate"`
	Cap  float64 `mapstructure:"decayCap"`
}

var DefaultDecay = Decay{Rate: 0.1, Cap: 0.9}

/*
Factor is max(0, 1 - min(Cap, ageDays * Rate / 30)). Future timestamps count
as age zero.
*/
func (decay Decay) Factor(age time.Duration) float64 {
	ageDays := math.Max(0, age.Hours()/24)
	return math.Max(0, 1-math.Min(decay.Cap, ageDays*decay.Rate/30))
}

/*
CombinedScore weighs similarity by recency and importance.
*/
func CombinedScore(similarity float64, importance int, age time.Duration, decay Decay) float64 {
	return similarity * decay.Factor(age) * float64(importance) / 10
}

/*
Scorer adapts CombinedScore to the store's ranking hook, pinned to now.
*/
func Scorer(now time.Time, decay Decay) memory.Scorer {
	return func(record *memory.Record, similarity float64) float64 {
		return CombinedScore(similarity, record.Importance, now.Sub(record.CreatedAt), decay)
	}
}
