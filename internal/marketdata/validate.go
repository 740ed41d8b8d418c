package marketdata

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/util"
)

var (
	// ErrEmpty is returned when a series has no bars.
	ErrEmpty = errors.New("empty bar series")
	// ErrUnsorted is returned when bar timestamps go backwards.
	ErrUnsorted = errors.New("bars not sorted by timestamp")
	// ErrDuplicate is returned when two bars share a timestamp.
	ErrDuplicate = errors.New("duplicate bar timestamp")
)

// GapError reports missing bars in an otherwise valid series.
type GapError struct {
	Timeframe domain.Timeframe
	Gaps      []util.Gap
}

func (e *GapError) Error() string {
	missing := 0
	for _, g := range e.Gaps {
		missing += g.Missing
	}
	first := e.Gaps[0]
	return fmt.Sprintf("%d gap(s) in %s series, %d bar(s) missing, first after %s",
		len(e.Gaps), e.Timeframe, missing, first.After.UTC().Format("2006-01-02T15:04:05Z"))
}

// ValidateSeries checks that bars form a usable series for tf: non-empty,
// strictly ascending, and without gaps. The first problem found is returned;
// gaps come back as *GapError listing all of them.
func ValidateSeries(bars []domain.Bar, tf domain.Timeframe) error {
	if len(bars) == 0 {
		return ErrEmpty
	}
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Timestamp, bars[i].Timestamp
		switch {
		case cur.Equal(prev):
			return fmt.Errorf("%w: %s", ErrDuplicate, cur.UTC().Format("2006-01-02T15:04:05Z"))
		case cur.Before(prev):
			return fmt.Errorf("%w: %s follows %s", ErrUnsorted,
				cur.UTC().Format("2006-01-02T15:04:05Z"), prev.UTC().Format("2006-01-02T15:04:05Z"))
		}
	}
	if gaps := util.NewTradingCalendar(tf).Gaps(bars); len(gaps) > 0 {
		return &GapError{Timeframe: tf, Gaps: gaps}
	}
	return nil
}

// Normalize sorts bars ascending and drops later duplicates of a timestamp.
// Adapters use it on data assembled from several pages or sources.
func Normalize(bars []domain.Bar) []domain.Bar {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	out := bars[:0]
	for i, b := range bars {
		if i > 0 && b.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, b)
	}
	return out
}
