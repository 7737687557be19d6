package common

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

func MakeMeasure(name string, desc string, unit string) *stats.Int64Measure {
	return stats.Int64(name, desc, unit)
}

func MakeKey(name string) tag.Key {
	key, err := tag.NewKey(name)
	if err != nil {
		logrus.WithError(err).Fatalf("cannot create tag key %v", name)
	}
	return key
}

func CreateViewWithTags(measure stats.Measure, agg *view.Aggregation, tags []tag.Key) *view.View {
	return &view.View{
		Name:        measure.Name(),
		Description: measure.Description(),
		Measure:     measure,
		TagKeys:     tags,
		Aggregation: agg,
	}
}

// GenerateLogScaleHistogramBuckets returns count+1 buckets, each half the
// previous, ending at max, with a leading zero bucket.
func GenerateLogScaleHistogramBuckets(max float64, count int) []float64 {
	buckets := make([]float64, count+1)
	for i := count; i > 0; i-- {
		buckets[i] = max
		max /= 2
	}
	return buckets
}

// GenerateLogScaleHistogramBucketsWithRange halves max until it drops below
// min and returns the resulting buckets in ascending order.
func GenerateLogScaleHistogramBucketsWithRange(min, max float64) []float64 {
	if min <= 0 {
		return []float64{max}
	}
	var buckets []float64
	for {
		buckets = append([]float64{max}, buckets...)
		if max < min {
			break
		}
		max /= 2
	}
	return buckets
}

func GenerateLinearHistogramBuckets(min, max float64, count int) []float64 {
	buckets := make([]float64, count+1)
	step := (max - min) / float64(count)
	for i := 0; i <= count; i++ {
		buckets[i] = min + step*float64(i)
	}
	return buckets
}

// LogViews writes the current rows of the named views to the logger. It is
// meant for short-lived processes that exit before any exporter would fire.
func LogViews(ctx context.Context, names ...string) {
	log := Logger(ctx)
	for _, name := range names {
		rows, err := view.RetrieveData(name)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{"view": name}).Warn("cannot retrieve view data")
			continue
		}
		for _, row := range rows {
			fields := logrus.Fields{"view": name}
			for _, t := range row.Tags {
				fields[t.Key.Name()] = t.Value
			}
			log.WithFields(fields).Info(describeAggregation(row.Data))
		}
	}
}

func describeAggregation(data view.AggregationData) string {
	switch d := data.(type) {
	case *view.CountData:
		return "count=" + strconv.FormatInt(d.Value, 10)
	case *view.DistributionData:
		return strings.Join([]string{
			"count=" + strconv.FormatInt(d.Count, 10),
			"min=" + strconv.FormatFloat(d.Min, 'f', 2, 64),
			"mean=" + strconv.FormatFloat(d.Mean, 'f', 2, 64),
			"max=" + strconv.FormatFloat(d.Max, 'f', 2, 64),
		}, " ")
	case *view.LastValueData:
		return "last=" + strconv.FormatFloat(d.Value, 'f', 2, 64)
	case *view.SumData:
		return "sum=" + strconv.FormatFloat(d.Value, 'f', 2, 64)
	}
	return "unknown aggregation"
}
