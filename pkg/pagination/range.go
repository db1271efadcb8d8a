// Package pagination splits calendar date ranges into bounded chunks
// and fetches them strictly sequentially. The upstream gateway limits
// how many days a single measured-values request may cover, so large
// ranges are issued as consecutive sub-range requests and reassembled
// in order.
package pagination

import (
	"errors"
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-openapi/strfmt"
)

var (
	// ErrInvalidRange is returned for missing or reversed date ranges.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrInvalidChunkSize is returned when a chunk size below one day
	// is requested.
	ErrInvalidChunkSize = errors.New("chunk size must be at least one day")
)

// Range is an inclusive calendar date range. Dates carry no time
// component.
type Range struct {
	From strfmt.Date
	To   strfmt.Date
}

// NewRange builds a validated range.
func NewRange(from, to strfmt.Date) (Range, error) {
	r := Range{From: from, To: to}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// ParseRange builds a range from date strings. Parsing is lenient
// about the input format; "2006-01-02" is the canonical form.
func ParseRange(from, to string) (Range, error) {
	f, err := dateparse.ParseAny(from)
	if err != nil {
		return Range{}, fmt.Errorf("%w: start date %q: %v", ErrInvalidRange, from, err)
	}
	t, err := dateparse.ParseAny(to)
	if err != nil {
		return Range{}, fmt.Errorf("%w: end date %q: %v", ErrInvalidRange, to, err)
	}
	return NewRange(toDate(f), toDate(t))
}

// LastYears returns the trailing n-year window ending today (UTC).
func LastYears(n int) Range {
	now := time.Now().UTC()
	return Range{
		From: toDate(now.AddDate(-n, 0, 0)),
		To:   toDate(now),
	}
}

// Validate checks that both dates are set and From does not follow To.
func (r Range) Validate() error {
	from, to := time.Time(r.From), time.Time(r.To)
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidRange)
	}
	if from.After(to) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

// Days returns the number of calendar days covered, inclusive.
func (r Range) Days() int {
	return int(time.Time(r.To).Sub(time.Time(r.From)).Hours()/24) + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%s..%s", r.From, r.To)
}

// Split divides r into consecutive, non-overlapping sub-ranges of at
// most chunkDays days each. The last chunk may be shorter; the
// concatenation of all chunks covers exactly r.
func Split(r Range, chunkDays int) ([]Range, error) {
	if chunkDays < 1 {
		return nil, ErrInvalidChunkSize
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var chunks []Range
	from := time.Time(r.From)
	end := time.Time(r.To)
	for !from.After(end) {
		to := from.AddDate(0, 0, chunkDays-1)
		if to.After(end) {
			to = end
		}
		chunks = append(chunks, Range{From: toDate(from), To: toDate(to)})
		from = to.AddDate(0, 0, 1)
	}
	return chunks, nil
}

// toDate truncates a timestamp to its calendar date in UTC.
func toDate(t time.Time) strfmt.Date {
	return strfmt.Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
}
