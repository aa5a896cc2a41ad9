package history

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
)

const Measurement = "hostctl_transition"

// PointWriter is the subset of the influx blocking write api used here.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Recorder writes one point per committed transition. History is informational; a failed write is
// logged and dropped.
type Recorder struct {
	writer       PointWriter
	WriteTimeout time.Duration
}

func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{writer: w, WriteTimeout: 5 * time.Second}
}

// NewInfluxRecorder connects to the configured InfluxDB 2.x bucket. The returned func closes the client.
func NewInfluxRecorder(cfg *model.InfluxConfig) (*Recorder, func()) {
	client := influxdb2.NewClient(cfg.Url, cfg.Token)
	return NewRecorder(client.WriteAPIBlocking(cfg.Org, cfg.Bucket)), client.Close
}

func Point(t model.Transition) *write.Point {
	tags := map[string]string{
		"resource": t.ResourceId,
		"kind":     string(t.Kind),
		"cause":    string(t.Cause),
	}
	if t.Operation != "" {
		tags["operation"] = string(t.Operation)
	}
	fields := map[string]interface{}{
		"from": string(t.From),
		"to":   string(t.To),
	}
	if t.OperationId != "" {
		fields["operation_id"] = t.OperationId
	}
	return influxdb2.NewPoint(Measurement, tags, fields, t.At)
}

func (r *Recorder) Record(ctx context.Context, t model.Transition) error {
	ctx, cancel := context.WithTimeout(ctx, r.WriteTimeout)
	defer cancel()
	if err := r.writer.WritePoint(ctx, Point(t)); err != nil {
		return errors.Wrapf(err, "unable to record transition of [%s]", t.ResourceId)
	}
	return nil
}

// Run records transitions until ctx is done or the channel closes.
func (r *Recorder) Run(ctx context.Context, transitions <-chan model.Transition) error {
	log := pfxlog.Logger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-transitions:
			if !ok {
				return nil
			}
			if err := r.Record(ctx, t); err != nil {
				log.WithError(err).Warn("transition history write failed")
			}
		}
	}
}
