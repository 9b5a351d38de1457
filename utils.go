package server

import (
	"math/rand"
	"time"

	"github.com/go-kit/kit/log"
)

// CheckWarn logs e at warning level via logger and reports whether an
// error was present, matching the teacher's call-site idiom of
// `if server.CheckWarn(err, logger) { return }`.
func CheckWarn(e error, logger log.Logger) bool {
	if e != nil {
		logger.Log("msg", "Warning", "error", e)
		return true
	}
	return false
}

type DebugLogFunc func(log.Logger, ...interface{})

// DebugLog is a no-op by default; builds that want verbose tracing
// swap it for a function that actually logs (kept as a var, not a
// build tag, so tests can flip it on selectively).
var DebugLog = DebugLogFunc(func(log.Logger, ...interface{}) {})

type EmptyStruct struct{}

var EmptyStructVal = EmptyStruct{}

func (es EmptyStruct) String() string { return "" }

// BinaryBackoffEngine produces jittered, exponentially growing delays.
// Used by the supervisor (spec.md §9 Open Question: explicit bounded
// exponential backoff).
type BinaryBackoffEngine struct {
	rng    *rand.Rand
	min    time.Duration
	max    time.Duration
	period time.Duration
	Cur    time.Duration
}

func NewBinaryBackoffEngine(rng *rand.Rand, min, max time.Duration) *BinaryBackoffEngine {
	if min <= 0 {
		return nil
	}
	return &BinaryBackoffEngine{
		rng:    rng,
		min:    min,
		max:    max,
		period: min,
		Cur:    0,
	}
}

func (bbe *BinaryBackoffEngine) Advance() time.Duration {
	oldCur := bbe.Cur
	bbe.period *= 2
	if bbe.period > bbe.max {
		bbe.period = bbe.max
	}
	bbe.Cur = time.Duration(bbe.rng.Int63n(int64(bbe.period)))
	return oldCur
}

func (bbe *BinaryBackoffEngine) After(fun func()) {
	if duration := bbe.Cur; duration == 0 {
		fun()
	} else {
		time.AfterFunc(duration, fun)
	}
}

func (bbe *BinaryBackoffEngine) Shrink(roundToZero time.Duration) {
	bbe.period /= 2
	if bbe.period < bbe.min {
		bbe.period = bbe.min
	}
	bbe.Cur = time.Duration(bbe.rng.Int63n(int64(bbe.period)))
	if bbe.Cur <= roundToZero {
		bbe.Cur = 0
	}
}
