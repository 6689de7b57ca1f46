package streak

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestAdvance_FirstEvent(t *testing.T) {
	rec := Advance(nil, "u1", "g1", t0, 2*time.Minute)

	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, 1, rec.Best)
	assert.Equal(t, t0, rec.LastEventAt)
	assert.Equal(t, "u1", rec.SubjectID)
}

func TestAdvance_ContinuityAndReset(t *testing.T) {
	threshold := 120000 * time.Millisecond

	r1 := Advance(nil, "u1", "g1", t0, threshold)
	r2 := Advance(&r1, "u1", "g1", t0.Add(90*time.Second), threshold)
	assert.Equal(t, 2, r2.Count)
	assert.Equal(t, 2, r2.Best)

	r3 := Advance(&r2, "u1", "g1", t0.Add(90*time.Second+150*time.Second), threshold)
	assert.Equal(t, 1, r3.Count)
	assert.Equal(t, 2, r3.Best)
	assert.Equal(t, t0.Add(240*time.Second), r3.LastEventAt)
}

func TestAdvance_ExactlyThresholdContinues(t *testing.T) {
	r1 := Advance(nil, "u", "g", t0, time.Minute)
	r2 := Advance(&r1, "u", "g", t0.Add(time.Minute), time.Minute)
	assert.Equal(t, 2, r2.Count)
}

func TestBonus_Default(t *testing.T) {
	assert.Equal(t, int64(2), Bonus(1, DefaultPerStep, DefaultCapBonus))
	assert.Equal(t, int64(98), Bonus(49, DefaultPerStep, DefaultCapBonus))
	assert.Equal(t, int64(100), Bonus(50, DefaultPerStep, DefaultCapBonus))
	assert.Equal(t, int64(100), Bonus(1000, DefaultPerStep, DefaultCapBonus))
	assert.Equal(t, int64(0), Bonus(0, DefaultPerStep, DefaultCapBonus))
}

func TestProperty_BonusIsCappedLinear(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 1_000_000).Draw(rt, "count")
		want := int64(count) * 2
		if want > 100 {
			want = 100
		}
		if got := Bonus(count, DefaultPerStep, DefaultCapBonus); got != want {
			rt.Fatalf("bonus(%d) = %d, want %d", count, got, want)
		}
	})
}

func TestProperty_BestNeverBelowCount(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("best >= count after any sequence of events", prop.ForAll(
		func(gaps []int64) bool {
			var rec *Record
			now := t0
			for _, g := range gaps {
				now = now.Add(time.Duration(g) * time.Second)
				next := Advance(rec, "u", "g", now, 2*time.Minute)
				if next.Best < next.Count || next.Count < 1 {
					return false
				}
				if rec != nil && next.Best < rec.Best {
					return false
				}
				rec = &next
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 600)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestDaily_ClaimSequence(t *testing.T) {
	d0 := t0
	first, continued := AdvanceDaily(nil, "u", "g", d0)
	assert.False(t, continued)
	assert.Equal(t, 1, first.Count)

	last := first.LastEventAt
	assert.False(t, CanClaim(&last, d0.Add(23*time.Hour)), "23h is too early")
	assert.Equal(t, d0.Add(Day), NextClaimAt(&last, d0.Add(23*time.Hour)))

	assert.True(t, CanClaim(&last, d0.Add(25*time.Hour)))
	second, continued := AdvanceDaily(&first, "u", "g", d0.Add(25*time.Hour))
	assert.True(t, continued)
	assert.Equal(t, 2, second.Count)
	assert.Equal(t, 2, second.Best)

	reset, continued := AdvanceDaily(&first, "u", "g", d0.Add(50*time.Hour))
	assert.False(t, continued)
	assert.Equal(t, 1, reset.Count)
}

func TestDaily_ResetKeepsBest(t *testing.T) {
	prev := Record{SubjectID: "u", ScopeID: "g", Count: 4, Best: 6, LastEventAt: t0}
	next, _ := AdvanceDaily(&prev, "u", "g", t0.Add(72*time.Hour))

	assert.Equal(t, 1, next.Count)
	assert.Equal(t, 6, next.Best)
}

func TestCanClaim_NeverClaimed(t *testing.T) {
	assert.True(t, CanClaim(nil, t0))
	zero := time.Time{}
	assert.True(t, CanClaim(&zero, t0))
}
