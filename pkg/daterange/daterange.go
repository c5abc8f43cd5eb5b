// Package daterange selects the slice of a descending filing-date index that
// falls inside a requested closed date range.
package daterange

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// dateLayout is used when naming dates in error messages.
const dateLayout = "2006-01-02"

var (
	// ErrOutOfCoverage is returned when the requested range starts after the
	// newest indexed date or ends before the oldest one.
	ErrOutOfCoverage = errors.New("requested range is outside index coverage")

	// ErrEmptyIndex is returned when selecting from an index with no dates.
	ErrEmptyIndex = errors.New("date index is empty")

	// ErrInvalidRange is returned when the range start is after its end.
	ErrInvalidRange = errors.New("range start is after range end")
)

// CoverageError reports the interval an index can actually answer for.
// It wraps ErrOutOfCoverage.
type CoverageError struct {
	Oldest         time.Time
	Newest         time.Time
	RequestedStart time.Time
	RequestedEnd   time.Time
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("available time interval: %s to %s, requested: %s to %s",
		e.Oldest.Format(dateLayout),
		e.Newest.Format(dateLayout),
		e.RequestedStart.Format(dateLayout),
		e.RequestedEnd.Format(dateLayout))
}

func (e *CoverageError) Unwrap() error {
	return ErrOutOfCoverage
}

// Interval is an inclusive index interval [Start, End] into an Index.
// When no indexed date falls inside the requested range, Start is End+1.
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Empty reports whether the interval selects no entries.
func (iv Interval) Empty() bool {
	return iv.Start > iv.End
}

// Len returns the number of selected entries.
func (iv Interval) Len() int {
	if iv.Empty() {
		return 0
	}
	return iv.End - iv.Start + 1
}

// Index is a list of filing dates for one entity, most recent first.
type Index []time.Time

// IsDescending reports whether the index is sorted newest first.
// Equal neighbouring dates are allowed.
func (idx Index) IsDescending() bool {
	for position := 1; position < len(idx); position++ {
		if idx[position].After(idx[position-1]) {
			return false
		}
	}
	return true
}

// SortDescending orders the index newest first, keeping the relative order
// of equal dates.
func (idx Index) SortDescending() {
	sort.SliceStable(idx, func(left, right int) bool {
		return idx[left].After(idx[right])
	})
}

// Newest returns the first (most recent) date of the index.
func (idx Index) Newest() time.Time {
	return idx[0]
}

// Oldest returns the last (least recent) date of the index.
func (idx Index) Oldest() time.Time {
	return idx[len(idx)-1]
}

// Select returns the inclusive interval of entries whose date lies in the
// closed range [start, end]. Dates equal to either bound are included.
//
// Both bounds are found with a binary search over the descending order, so
// selection is O(log N). The index is assumed to be sorted newest first.
func (idx Index) Select(start, end time.Time) (Interval, error) {
	if len(idx) == 0 {
		return Interval{}, ErrEmptyIndex
	}
	if start.After(end) {
		return Interval{}, fmt.Errorf("%w: %s after %s", ErrInvalidRange,
			start.Format(dateLayout), end.Format(dateLayout))
	}

	newest, oldest := idx.Newest(), idx.Oldest()
	if start.After(newest) || end.Before(oldest) {
		return Interval{}, &CoverageError{
			Oldest:         oldest,
			Newest:         newest,
			RequestedStart: start,
			RequestedEnd:   end,
		}
	}

	// Last entry that is still on or after start.
	endIndex := len(idx) - 1
	if start.After(oldest) {
		endIndex, _ = idx.searchDescending(func(date time.Time) bool {
			return !date.Before(start)
		})
	}

	// First entry that is on or before end.
	startIndex := 0
	if end.Before(newest) {
		_, startIndex = idx.searchDescending(func(date time.Time) bool {
			return date.After(end)
		})
	}

	return Interval{Start: startIndex, End: endIndex}, nil
}

// searchDescending narrows [low, high) until high-low == 1, keeping the
// invariant that index[low] satisfies holds and index[high] (when in range)
// does not. holds must be true for index[0] and monotone over the index.
func (idx Index) searchDescending(holds func(time.Time) bool) (low int, high int) {
	low, high = 0, len(idx)
	for high-low > 1 {
		middle := (low + high) / 2
		if holds(idx[middle]) {
			low = middle
		} else {
			high = middle
		}
	}
	return low, high
}

// Select is a convenience wrapper for Index(dates).Select(start, end).
func Select(dates []time.Time, start, end time.Time) (Interval, error) {
	return Index(dates).Select(start, end)
}
