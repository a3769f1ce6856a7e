package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
)

// Point is a single stored sample.
type Point struct {
	Time  time.Time
	Value int64
}

var (
	mu       sync.Mutex
	storage  tstorage.Storage
	counters = map[string]int64{}
)

// InitMetrics opens the metric store. An empty dir keeps samples in memory only.
func InitMetrics(dir string) error {
	mu.Lock()
	defer mu.Unlock()
	if storage != nil {
		return nil
	}
	opts := []tstorage.Option{
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithRetention(7 * 24 * time.Hour),
	}
	if dir != "" {
		opts = append(opts, tstorage.WithDataPath(dir))
	}
	st, err := tstorage.NewStorage(opts...)
	if err != nil {
		return err
	}
	storage = st
	counters = map[string]int64{}
	return nil
}

func insert(name string, v int64) {
	if storage == nil {
		return
	}
	_ = storage.InsertRows([]tstorage.Row{{
		Metric:    name,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: float64(v)},
	}})
}

// SetGauge records the current value of a gauge.
func SetGauge(name string, v int64) {
	mu.Lock()
	defer mu.Unlock()
	insert(name, v)
}

// Incr adds delta to a monotonically increasing counter and records the new total.
func Incr(name string, delta int64) {
	mu.Lock()
	defer mu.Unlock()
	counters[name] += delta
	insert(name, counters[name])
}

// Counter returns the in-process total of a counter.
func Counter(name string) int64 {
	mu.Lock()
	defer mu.Unlock()
	return counters[name]
}

// Query returns the samples of a metric within [start, end).
func Query(name string, start, end time.Time) ([]Point, error) {
	mu.Lock()
	st := storage
	mu.Unlock()
	if st == nil {
		return nil, nil
	}
	dps, err := st.Select(name, nil, start.Unix(), end.Unix())
	if errors.Is(err, tstorage.ErrNoDataPoints) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(dps))
	for _, dp := range dps {
		points = append(points, Point{Time: time.Unix(dp.Timestamp, 0), Value: int64(dp.Value)})
	}
	return points, nil
}

// Close flushes and closes the store.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}
