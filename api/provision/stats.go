package provision

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slogdb/slogadm/api/common"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	pullResultKey = common.MakeKey("pull_result")

	pullLatencyMeasure  = common.MakeMeasure("image_pull_latency", "time to pull the image on a node, retries included", "ms")
	pullAttemptsMeasure = common.MakeMeasure("image_pull_attempts", "pull attempts made on a node", "")
)

// RegisterViews registers the pull latency and attempt distributions.
// Latency buckets double from 100ms up to 10 minutes.
func RegisterViews() {
	tags := []tag.Key{pullResultKey}
	err := view.Register(
		common.CreateViewWithTags(pullLatencyMeasure,
			view.Distribution(common.GenerateLogScaleHistogramBucketsWithRange(100, 600000)...), tags),
		common.CreateViewWithTags(pullAttemptsMeasure,
			view.Distribution(common.GenerateLinearHistogramBuckets(0, 10, 10)...), tags),
	)
	if err != nil {
		logrus.WithError(err).Fatal("cannot register view")
	}
}

// ViewNames lists the views RegisterViews registers.
func ViewNames() []string {
	return []string{pullLatencyMeasure.Name(), pullAttemptsMeasure.Name()}
}

func recordPull(ctx context.Context, start time.Time, attempts int, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	ctx, terr := tag.New(ctx, tag.Upsert(pullResultKey, result))
	if terr != nil {
		logrus.WithError(terr).Fatalf("cannot add tag %v=%v", pullResultKey, result)
	}
	stats.Record(ctx,
		pullLatencyMeasure.M(int64(time.Since(start)/time.Millisecond)),
		pullAttemptsMeasure.M(int64(attempts)),
	)
}
