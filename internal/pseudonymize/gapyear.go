package pseudonymize

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/slidevault/wsipseudo/internal/config"
)

// drawGapYear draws the per-invocation timestamp shift years ∈
// [cfg.GapYearMin, cfg.GapYearMax], once per Pseudonymize call, and reused
// for every timestamp pseudonym generated within that call.
func drawGapYear(cfg config.Config) (int, error) {
	span := cfg.GapYearMax - cfg.GapYearMin
	if span < 0 {
		span = 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return 0, err
	}
	return cfg.GapYearMin + int(n.Int64()), nil
}

// shiftBack applies gapYears to t, always strictly in the past: t' = t -
// gapYears years. Per the data model invariant, T' must differ from T and
// fall within [T-G, now].
func shiftBack(t time.Time, gapYears int) time.Time {
	return t.AddDate(-gapYears, 0, 0)
}
