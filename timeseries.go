package walkerd

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// DataPoint is one timestamped sample across all channels of a device. Offset
// is measured from the starting time of the series that holds the point.
type DataPoint struct {
	Offset   time.Duration `json:"offset"`
	Channels []float64     `json:"channels"`
}

// TimeSeries is an append-only ordered sequence of timestamped data points.
// It is not safe for concurrent use; the owning collector serializes access.
type TimeSeries struct {
	startingTime time.Time
	points       []DataPoint
}

// NewTimeSeries returns an empty TimeSeries with starting time "now".
func NewTimeSeries() *TimeSeries {
	return &TimeSeries{startingTime: time.Now()}
}

// Len returns the number of points appended since the last Clear.
func (ts *TimeSeries) Len() int { return len(ts.points) }

// IsEmpty is true if no point has been appended since the last Clear.
func (ts *TimeSeries) IsEmpty() bool { return len(ts.points) == 0 }

// StartingTime returns the reference instant that point offsets are measured from.
func (ts *TimeSeries) StartingTime() time.Time { return ts.startingTime }

// SetStartingTime replaces the reference instant. Existing point offsets are
// left untouched: they remain relative to whatever instant the caller chooses.
func (ts *TimeSeries) SetStartingTime(t time.Time) { ts.startingTime = t }

// Append adds one point at the end of the series.
func (ts *TimeSeries) Append(p DataPoint) {
	ts.points = append(ts.points, p)
}

// Clear empties the series and resets its starting time to "now". The backing
// array is kept, since a cleared series is normally about to be refilled.
func (ts *TimeSeries) Clear() {
	ts.points = ts.points[:0]
	ts.startingTime = time.Now()
}

// Snapshot returns a copy of the points, so a reader can work without holding
// the owning collector's lock.
func (ts *TimeSeries) Snapshot() []DataPoint {
	out := make([]DataPoint, len(ts.points))
	copy(out, ts.points)
	return out
}

// TimeSeriesDump is the serializable snapshot of one TimeSeries, including
// per-channel summary statistics of the captured samples.
type TimeSeriesDump struct {
	StartingTime time.Time   `json:"startingTime"`
	NPoints      int         `json:"nPoints"`
	Points       []DataPoint `json:"points"`
	ChannelMean  []float64   `json:"channelMean"`
	ChannelStd   []float64   `json:"channelStd"`
}

// Serialize computes the dump for a series whose points carry nchan channels.
func (ts *TimeSeries) Serialize(nchan int) TimeSeriesDump {
	dump := TimeSeriesDump{
		StartingTime: ts.startingTime,
		NPoints:      len(ts.points),
		Points:       ts.Snapshot(),
		ChannelMean:  make([]float64, nchan),
		ChannelStd:   make([]float64, nchan),
	}
	if len(ts.points) == 0 {
		return dump
	}
	column := make([]float64, len(ts.points))
	for c := 0; c < nchan; c++ {
		for i, p := range ts.points {
			if c < len(p.Channels) {
				column[i] = p.Channels[c]
			}
		}
		mean, std := stat.MeanStdDev(column, nil)
		dump.ChannelMean[c] = mean
		dump.ChannelStd[c] = std
	}
	return dump
}
