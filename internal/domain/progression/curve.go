package progression

import (
	"math"
	"sync"

	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/shared"
)

// DefaultCurveBase is the base of the stock curve base * level².
const DefaultCurveBase = 100

// maxXPNeeded keeps curve values well inside int64 so xp sums cannot overflow.
const maxXPNeeded = math.MaxInt64 / 4

// LevelCurve maps a level to the XP required to leave it.
// A non-nil error is a non-fatal configuration error: the returned value
// is still usable and comes from the default curve.
type LevelCurve interface {
	XPNeeded(level int) (int64, error)
}

// DefaultXPNeeded is 100 * level², clamped to at least 1.
func DefaultXPNeeded(level int) int64 {
	if level < 1 {
		level = 1
	}
	v := int64(DefaultCurveBase) * int64(level) * int64(level)
	if v < 1 || v > maxXPNeeded {
		return maxXPNeeded
	}
	return v
}

// Curve evaluates a compiled guild formula and fails closed to the default.
// xpNeeded must be non-decreasing in level for carry-over to be meaningful;
// that is a contract on the configured formula and is not checked here.
type Curve struct {
	formula *Formula
}

// DefaultCurve returns the stock curve.
func DefaultCurve() Curve { return Curve{} }

// XPNeeded implements LevelCurve.
func (c Curve) XPNeeded(level int) (int64, error) {
	if level < 1 {
		level = 1
	}
	if c.formula == nil {
		return DefaultXPNeeded(level), nil
	}
	v, err := c.formula.Eval(float64(level))
	if err != nil {
		return DefaultXPNeeded(level), shared.WrapError("progression", "XPNeeded", shared.ErrConfiguration,
			"level formula failed, using default curve", err)
	}
	v = math.Floor(v)
	if v < 1 || v > float64(maxXPNeeded) {
		return DefaultXPNeeded(level), shared.NewDomainError("progression", "XPNeeded", shared.ErrConfiguration,
			"level formula produced an out-of-range value, using default curve")
	}
	return int64(v), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Level Curve Evaluator
// ═══════════════════════════════════════════════════════════════════════════

// MaxCachedFormulas bounds the evaluator cache. Formula text is guild
// supplied; when the cache is full it is dropped and refilled on demand.
const MaxCachedFormulas = 512

// Evaluator compiles guild formulas once and caches them by source text.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]compiled
}

type compiled struct {
	curve Curve
	err   error
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]compiled)}
}

// CurveFor returns the curve configured for a guild. A malformed formula
// yields the default curve together with a configuration error.
func (e *Evaluator) CurveFor(cfg guild.Config) (Curve, error) {
	expr := cfg.LevelFormula
	if expr == "" || expr == guild.DefaultLevelFormula {
		return DefaultCurve(), nil
	}

	e.mu.RLock()
	c, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return c.curve, c.err
	}

	f, err := CompileFormula(expr)
	if err != nil {
		c = compiled{
			curve: DefaultCurve(),
			err: shared.WrapError("progression", "CompileFormula", shared.ErrConfiguration,
				"invalid level formula, using default curve", err),
		}
	} else {
		c = compiled{curve: Curve{formula: f}}
	}

	e.mu.Lock()
	if len(e.cache) >= MaxCachedFormulas {
		e.cache = make(map[string]compiled)
	}
	e.cache[expr] = c
	e.mu.Unlock()
	return c.curve, c.err
}

// Cached reports how many formulas are compiled.
func (e *Evaluator) Cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// XPNeeded evaluates the guild's curve at level, failing closed.
func (e *Evaluator) XPNeeded(level int, cfg guild.Config) (int64, error) {
	curve, cfgErr := e.CurveFor(cfg)
	v, err := curve.XPNeeded(level)
	if err != nil {
		return v, err
	}
	return v, cfgErr
}
