package analyzer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ferret-scan/ferret/pkg/catalog"
	"github.com/ferret-scan/ferret/pkg/config"
	"github.com/ferret-scan/ferret/pkg/filter"
	"github.com/ferret-scan/ferret/pkg/models"
)

// Runner drives a batch: pull pending files from the catalog, filter and
// score them, then classify with a bounded worker pool.
type Runner struct {
	catalog    *catalog.Catalog
	classifier *Classifier
	filter     *filter.Filter
	cfg        config.AnalyzeConfig
	log        logrus.FieldLogger
}

// NewRunner wires a Runner over an opened catalog.
func NewRunner(cat *catalog.Catalog, classifier *Classifier, flt *filter.Filter, cfg config.AnalyzeConfig, log logrus.FieldLogger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{
		catalog:    cat,
		classifier: classifier,
		filter:     flt,
		cfg:        cfg,
		log:        log,
	}
}

// Run processes pending catalog entries until the batch is exhausted or
// ctx is cancelled. Per-file failures are recorded against the file and
// do not stop the batch; only cancellation aborts it.
func (r *Runner) Run(ctx context.Context) (*models.RunStats, error) {
	start := time.Now()
	stats := &models.RunStats{}

	limit := r.cfg.MaxFiles
	if limit <= 0 {
		limit = -1
	}
	pending, err := r.catalog.Pending(ctx, limit, 0)
	if err != nil {
		return nil, err
	}
	r.log.WithField("pending", len(pending)).Info("starting analysis batch")

	work := make([]models.FileRecord, 0, len(pending))
	for _, file := range pending {
		ok, reason := r.filter.ShouldProcess(file)
		if !ok {
			if err := r.catalog.UpdateStatus(ctx, file.ID, models.StatusExcluded, reason); err != nil {
				return nil, err
			}
			stats.Excluded++
			continue
		}

		score := r.filter.PriorityScore(file)
		flags := strings.Join(r.filter.SpecialFlags(file), ",")
		if err := r.catalog.SetPriority(ctx, file.ID, score, flags); err != nil {
			return nil, err
		}
		file.PriorityScore = score
		file.SpecialFlags = flags
		work = append(work, file)
	}

	sort.SliceStable(work, func(i, j int) bool {
		return work[i].PriorityScore > work[j].PriorityScore
	})
	if r.cfg.PriorityThreshold > 0 {
		cut := len(work)
		for i, file := range work {
			if file.PriorityScore < r.cfg.PriorityThreshold {
				cut = i
				break
			}
		}
		work = work[:cut]
	}

	var processed, hits, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan models.FileRecord)

	g.Go(func() error {
		defer close(jobs)
		for _, file := range work {
			select {
			case jobs <- file:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for file := range jobs {
				if err := r.processOne(gctx, file, &processed, &hits, &failed); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err = g.Wait()
	stats.Processed = int(processed.Load())
	stats.CacheHits = int(hits.Load())
	stats.Errors = int(failed.Load())
	stats.Duration = time.Since(start)

	r.log.WithFields(logrus.Fields{
		"processed":  stats.Processed,
		"cache_hits": stats.CacheHits,
		"excluded":   stats.Excluded,
		"errors":     stats.Errors,
		"duration":   stats.Duration.Round(time.Millisecond).String(),
	}).Info("analysis batch finished")
	return stats, err
}

func (r *Runner) processOne(ctx context.Context, file models.FileRecord, processed, hits, failed *atomic.Int64) error {
	outcome, err := r.classifier.Classify(ctx, file)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		failed.Add(1)
		r.log.WithField("path", file.Path).WithError(err).Error("classification failed")
		if uerr := r.catalog.UpdateStatus(ctx, file.ID, models.StatusError, err.Error()); uerr != nil {
			return uerr
		}
		return nil
	}

	if err := r.catalog.StoreResult(ctx, file.ID, outcome.Result, outcome.FromCache); err != nil {
		return err
	}
	processed.Add(1)
	if outcome.FromCache {
		hits.Add(1)
	}
	return nil
}
