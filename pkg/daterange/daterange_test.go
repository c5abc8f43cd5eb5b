package daterange

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		t.Fatalf("failed to parse date %q: %v", value, err)
	}
	return parsed
}

func setupTestIndex(t *testing.T, values ...string) Index {
	t.Helper()
	index := make(Index, 0, len(values))
	for _, value := range values {
		index = append(index, mustDate(t, value))
	}
	return index
}

func TestSelectWholeIndex(t *testing.T) {
	index := setupTestIndex(t, "2019-02-27", "2018-02-28", "2017-02-24", "2016-02-26", "2015-02-27")

	interval, err := index.Select(mustDate(t, "2015-02-27"), mustDate(t, "2019-02-27"))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if interval.Start != 0 || interval.End != len(index)-1 {
		t.Errorf("Select() = %+v, want [0, %d]", interval, len(index)-1)
	}

	interval, err = index.Select(mustDate(t, "2000-01-01"), mustDate(t, "2030-01-01"))
	if err != nil {
		t.Fatalf("Select() over a wider range error = %v", err)
	}
	if interval.Start != 0 || interval.End != len(index)-1 {
		t.Errorf("Select() over a wider range = %+v, want [0, %d]", interval, len(index)-1)
	}
}

func TestSelectWiderThanIndexOnOneSide(t *testing.T) {
	index := setupTestIndex(t, "2019-02-27", "2018-02-28", "2017-02-24", "2016-02-26", "2015-02-27")

	tests := []struct {
		name      string
		start     string
		end       string
		wantStart int
		wantEnd   int
	}{
		{"start before oldest", "2006-01-01", "2017-06-30", 2, 4},
		{"end after newest", "2016-06-30", "2019-11-01", 0, 2},
		{"both bounds exact", "2016-02-26", "2018-02-28", 1, 3},
		{"single exact date", "2017-02-24", "2017-02-24", 2, 2},
		{"range inside a gap", "2017-03-01", "2017-12-31", 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interval, err := index.Select(mustDate(t, tt.start), mustDate(t, tt.end))
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if interval.Start != tt.wantStart || interval.End != tt.wantEnd {
				t.Errorf("Select() = [%d, %d], want [%d, %d]",
					interval.Start, interval.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestSelectOutOfCoverage(t *testing.T) {
	index := setupTestIndex(t, "2019-02-27", "2018-02-28", "2017-02-24")

	tests := []struct {
		name  string
		start string
		end   string
	}{
		{"start after newest", "2019-03-01", "2020-01-01"},
		{"end before oldest", "2010-01-01", "2017-02-23"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := index.Select(mustDate(t, tt.start), mustDate(t, tt.end))
			if !errors.Is(err, ErrOutOfCoverage) {
				t.Fatalf("Select() error = %v, want ErrOutOfCoverage", err)
			}
			var coverageError *CoverageError
			if !errors.As(err, &coverageError) {
				t.Fatalf("Select() error should be a *CoverageError, got %T", err)
			}
			if !strings.Contains(err.Error(), "2017-02-24 to 2019-02-27") {
				t.Errorf("error %q should name the available interval", err.Error())
			}
		})
	}
}

func TestSelectInvalidInput(t *testing.T) {
	empty := Index{}
	if _, err := empty.Select(time.Now(), time.Now()); !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("Select() on empty index error = %v, want ErrEmptyIndex", err)
	}

	index := setupTestIndex(t, "2019-02-27", "2018-02-28")
	_, err := index.Select(mustDate(t, "2019-01-01"), mustDate(t, "2018-06-01"))
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Select() with start after end error = %v, want ErrInvalidRange", err)
	}
}

func TestSelectDuplicateDates(t *testing.T) {
	index := setupTestIndex(t, "2019-05-01", "2019-05-01", "2019-02-01", "2019-02-01", "2018-11-01")

	interval, err := index.Select(mustDate(t, "2019-02-01"), mustDate(t, "2019-02-01"))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if interval.Start != 2 || interval.End != 3 {
		t.Errorf("Select() = %+v, want [2, 3]", interval)
	}
}

// TestSelectSoundAndComplete checks the selection against a linear scan over
// randomized descending indexes.
func TestSelectSoundAndComplete(t *testing.T) {
	random := rand.New(rand.NewSource(20061231))
	base := mustDate(t, "2006-01-01")

	for iteration := 0; iteration < 500; iteration++ {
		size := 1 + random.Intn(40)
		index := make(Index, size)
		for position := range index {
			index[position] = base.AddDate(0, 0, random.Intn(5000))
		}
		index.SortDescending()
		if !index.IsDescending() {
			t.Fatalf("SortDescending() left index unsorted: %v", index)
		}

		oldest, newest := index.Oldest(), index.Newest()
		span := int(newest.Sub(oldest).Hours()/24) + 1
		start := oldest.AddDate(0, 0, random.Intn(span+60)-60)
		end := start.AddDate(0, 0, random.Intn(span+60))
		if start.After(newest) || end.Before(oldest) {
			continue
		}

		interval, err := index.Select(start, end)
		if err != nil {
			t.Fatalf("Select(%v, %v) error = %v", start, end, err)
		}

		for position, date := range index {
			inRange := !date.Before(start) && !date.After(end)
			selected := position >= interval.Start && position <= interval.End
			if inRange != selected {
				t.Fatalf("iteration %d: position %d date %s inRange=%v selected=%v interval=%+v range=[%s, %s]",
					iteration, position, date.Format(dateLayout), inRange, selected, interval,
					start.Format(dateLayout), end.Format(dateLayout))
			}
		}
	}
}

func TestIntervalLen(t *testing.T) {
	if got := (Interval{Start: 2, End: 1}).Len(); got != 0 {
		t.Errorf("Len() of empty interval = %d, want 0", got)
	}
	if got := (Interval{Start: 1, End: 3}).Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}
