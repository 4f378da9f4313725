// Package reconcile gets every submission into the primary store and, as far
// as possible, into the spreadsheet sink.
//
// A submission is first written to the primary store, unsynced. If that
// works and a sink is configured, records that missed the sink earlier are
// pushed again, oldest first, then the new one is pushed with retries. A
// record is flagged synced only after a push went through; one that cannot
// be pushed stays unsynced and waits for the next submission's catch-up.
//
// When the primary write fails for any reason other than a missing store, the
// payload is pushed straight to the sink and nothing is left to reconcile.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mbolis/matrix-survey/log"
	"github.com/mbolis/matrix-survey/model"
	"github.com/mbolis/matrix-survey/records"
	"github.com/mbolis/matrix-survey/retry"
	"github.com/mbolis/matrix-survey/sink"
	pkgerrors "github.com/pkg/errors"
)

type Workflow struct {
	Records records.Store
	// NewSink returns the client pushing to endpoint.
	NewSink func(endpoint string) sink.Client

	// Policy bounds the push of the new submission.
	Policy retry.Policy
	// CatchUpPolicy bounds the push of each older record.
	CatchUpPolicy retry.Policy
	// NewTimer, if set, provides the timers of the retry pauses.
	NewTimer func() retry.Timer
}

func New(store records.Store) *Workflow {
	return &Workflow{
		Records: store,
		NewSink: func(endpoint string) sink.Client {
			return sink.NewHTTPClient(endpoint)
		},
		Policy:        retry.DefaultPolicy,
		CatchUpPolicy: retry.Once,
	}
}

type Outcome struct {
	// Record is nil in degraded mode.
	Record *model.Record `json:"record,omitempty"`
	// Degraded is set when the primary write failed and the payload went
	// to the sink only.
	Degraded bool `json:"degraded"`
	// Delivered is set when the sink accepted the payload.
	Delivered bool `json:"delivered"`
	// Mirrored is set when the record was flagged synced.
	Mirrored bool          `json:"mirrored"`
	Attempts int           `json:"attempts"`
	CatchUp  CatchUpReport `json:"catch_up"`
}

type CatchUpReport struct {
	Total  int `json:"total"`
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Run stores and mirrors a submission. The only error it returns is
// records.ErrNotConfigured; everything else is logged and absorbed.
func (w *Workflow) Run(ctx context.Context, p *model.Payload, questions []model.Question, endpoint string) (out Outcome, err error) {
	rec, err := w.Records.Insert(ctx, p, questions)
	switch {
	case errors.Is(err, records.ErrNotConfigured):
		log.WithError(err).Error("reconcile.insert")
		return out, err
	case err != nil:
		log.WithError(err).Warn("reconcile.insert: primary store unavailable, pushing to sink only")
		rec = nil
		out.Degraded = true
	default:
		out.Record = rec
		log.WithField("record", rec.ID).Info("reconcile.insert: record stored")
	}

	if endpoint == "" {
		log.Warn("reconcile: no sink endpoint configured")
		return out, nil
	}
	client := w.NewSink(endpoint)

	if rec != nil {
		out.CatchUp = w.catchUp(ctx, client, rec.ID)
	}

	out.Attempts, err = retry.Do(ctx, w.Policy, func(ctx context.Context) error {
		return client.Push(ctx, p)
	}, w.retryOptions(log.WithField("phase", "push"))...)
	if err != nil {
		entry := log.WithError(err).WithField("attempts", out.Attempts)
		if rec != nil {
			entry.WithField("record", rec.ID).Warn("reconcile.push: giving up, record left for catch-up")
		} else {
			entry.Error("reconcile.push: giving up, submission not stored anywhere")
		}
		return out, nil
	}
	out.Delivered = true

	if rec != nil {
		if err := w.Records.MarkSynced(ctx, rec.ID); err != nil {
			log.WithError(err).WithField("record", rec.ID).Warn("reconcile.mark_synced")
		} else {
			out.Mirrored = true
			rec.Synced = true
		}
	}
	return out, nil
}

// catchUp pushes the records that missed the sink before, skipping current.
// A record that fails does not stop the others.
func (w *Workflow) catchUp(ctx context.Context, client sink.Client, current string) (report CatchUpReport) {
	pending, err := w.Records.Unsynced(ctx)
	if err != nil {
		log.WithError(err).Warn("reconcile.catch_up: cannot list unsynced records")
		return
	}

	var errs *multierror.Error
	for _, rec := range pending {
		if rec.ID == current {
			continue
		}
		report.Total++

		if err := w.syncRecord(ctx, client, rec); err != nil {
			report.Failed++
			errs = multierror.Append(errs, pkgerrors.Wrapf(err, "record %s", rec.ID))
			continue
		}
		report.Synced++
	}

	if report.Total == 0 {
		log.Debug("reconcile.catch_up: nothing pending")
		return
	}
	entry := log.WithFields(log.Fields{"synced": report.Synced, "failed": report.Failed})
	if err := errs.ErrorOrNil(); err != nil {
		entry.WithError(err).Warn("reconcile.catch_up")
	} else {
		entry.Info("reconcile.catch_up")
	}
	return
}

func (w *Workflow) syncRecord(ctx context.Context, client sink.Client, rec model.Record) (err error) {
	// a panicking sink client only fails this record
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Errorf("panic: %v", r)
		}
	}()

	p := rec.Payload()
	_, err = retry.Do(ctx, w.CatchUpPolicy, func(ctx context.Context) error {
		return client.Push(ctx, p)
	}, w.retryOptions(log.WithField("record", rec.ID))...)
	if err != nil {
		return err
	}
	return w.Records.MarkSynced(ctx, rec.ID)
}

func (w *Workflow) retryOptions(entry *log.Entry) []retry.Option {
	opts := []retry.Option{
		retry.WithNotify(func(attempt int, err error, next time.Duration) {
			entry.WithError(err).Warnf("reconcile: attempt %d failed, retrying in %s", attempt, next)
		}),
	}
	if w.NewTimer != nil {
		opts = append(opts, retry.WithTimer(w.NewTimer()))
	}
	return opts
}
