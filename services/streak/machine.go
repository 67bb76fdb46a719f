package streak

import (
	"errors"
	"sort"
	"time"
)

var ErrCheckInNotAfterLast = errors.New("streak: check-in day is not after the last recorded check-in")

type Input struct {
	// Record is nil for a user's first check-in.
	Record     *Record
	Thresholds []int
	Policy     Policy
	Today      Day
	Location   *time.Location
}

type Result struct {
	Record   Record
	Previous Stage
	Stage    Stage
	// CrossedThreshold is the threshold matched by this check-in, 0 if none.
	CrossedThreshold int
	IsJustCompleted  bool
}

// Advance applies one check-in on Today to the record. It never mutates
// in.Record.
func Advance(in Input) (Result, error) {
	var next Record
	prev := Fresh()
	if in.Record != nil {
		next = *in.Record
		prev = Derive(next, in.Policy, in.Today)
	}

	if next.StartedOn == "" || next.LastCheckIn == "" {
		openWindow(&next, in)
		return increment(next, prev, in), nil
	}

	start, err := ParseDay(next.StartedOn)
	if err != nil {
		return Result{}, err
	}
	last, err := ParseDay(next.LastCheckIn)
	if err != nil {
		return Result{}, err
	}
	if DaysBetween(last, in.Today) < 1 {
		return Result{}, ErrCheckInNotAfterLast
	}

	// expiry is a lifetime ceiling and wins over the inactivity gap
	if DaysBetween(start, in.Today) > in.Policy.ExpiryDays {
		openWindow(&next, in)
		reset(&next, in.Today)
		return Result{Record: next, Previous: prev, Stage: Expired()}, nil
	}

	if DaysBetween(last, in.Today) > in.Policy.BreakDays {
		reset(&next, in.Today)
		return Result{Record: next, Previous: prev, Stage: Broken()}, nil
	}

	return increment(next, prev, in), nil
}

func openWindow(r *Record, in Input) {
	r.StartedOn = in.Today.String()
	r.ExpiresAt = in.Today.AddDays(in.Policy.ExpiryDays).Time(in.Location)
}

func reset(r *Record, today Day) {
	r.CurrentCount = 0
	r.IsCompleted = false
	r.LastCheckIn = today.String()
	r.Version++
}

func increment(next Record, prev Stage, in Input) Result {
	next.CurrentCount++
	if next.CurrentCount > next.MaxCount {
		next.MaxCount = next.CurrentCount
	}
	next.LastCheckIn = in.Today.String()
	next.Version++

	res := Result{Previous: prev}

	thresholds := SortedThresholds(in.Thresholds)
	for _, t := range thresholds {
		if t == next.CurrentCount {
			res.CrossedThreshold = t
			next.CompletedCount++
			if t == thresholds[len(thresholds)-1] {
				next.IsCompleted = true
				res.IsJustCompleted = true
			}
			break
		}
	}

	res.Record = next
	if next.IsCompleted {
		res.Stage = Completed(next.CurrentCount)
	} else {
		res.Stage = Active(next.CurrentCount)
	}
	return res
}

// Derive computes the stage shown at read time without mutating anything.
// A streak that would break or expire on the next check-in is reported as such.
func Derive(r Record, p Policy, today Day) Stage {
	if r.LastCheckIn == "" || r.StartedOn == "" {
		return Fresh()
	}
	start, err := ParseDay(r.StartedOn)
	if err != nil {
		return Fresh()
	}
	last, err := ParseDay(r.LastCheckIn)
	if err != nil {
		return Fresh()
	}

	switch {
	case DaysBetween(start, today) > p.ExpiryDays:
		return Expired()
	case DaysBetween(last, today) > p.BreakDays:
		return Broken()
	case r.CurrentCount == 0 && r.StartedOn == r.LastCheckIn:
		// reset by expiry on the day the new window opened
		return Expired()
	case r.CurrentCount == 0:
		return Broken()
	case r.IsCompleted:
		return Completed(r.CurrentCount)
	default:
		return Active(r.CurrentCount)
	}
}

// SortedThresholds returns the distinct positive thresholds in ascending order.
func SortedThresholds(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, t := range in {
		if t <= 0 {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// Replay folds a user's check-in days through Advance, starting from nothing.
// Days must be ascending and distinct.
func Replay(days []Day, thresholds []int, p Policy, loc *time.Location) (*Record, []Result, error) {
	var (
		current *Record
		results = make([]Result, 0, len(days))
	)
	for _, day := range days {
		res, err := Advance(Input{
			Record:     current,
			Thresholds: thresholds,
			Policy:     p,
			Today:      day,
			Location:   loc,
		})
		if err != nil {
			return nil, nil, err
		}
		rec := res.Record
		current = &rec
		results = append(results, res)
	}
	return current, results, nil
}
