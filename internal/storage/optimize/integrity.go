package optimize

import (
	"context"
	"errors"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
)

// validate verifies every entry, attempts a repair for each corrupted one
// and reports references whose canonical entry is gone. It never stops
// early on a bad entry.
func (r *run) validate(ctx context.Context) (*ValidationResult, error) {
	start := time.Now()
	res := &ValidationResult{}
	defer func() {
		res.Duration = time.Since(start)
		r.metrics.ObservePass(PassValidation, res.Duration)
		r.metrics.PassItemsAdd(PassValidation, "valid", res.Valid)
		r.metrics.PassItemsAdd(PassValidation, "repaired", len(res.Repaired))
		r.metrics.PassItemsAdd(PassValidation, "repair_failed", len(res.RepairFailed))
	}()

	entries := r.store.ListEntries(ctx)
	live := make(map[string]bool, len(entries))
	for _, info := range entries {
		live[info.Key] = true
	}

	for _, info := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.wait(ctx); err != nil {
			return res, err
		}

		v, err := r.store.VerifyEntry(ctx, info.Key)
		if err != nil {
			if errors.Is(err, domain.ErrEntryNotFound) {
				continue
			}
			return res, err
		}
		res.Checked++

		if info.Reference != "" && !live[info.Reference] {
			res.BrokenReferences = append(res.BrokenReferences, info.Key)
		}

		if v.OK() {
			res.Valid++
			continue
		}

		res.Corrupted = append(res.Corrupted, info.Key)
		if err := r.store.RepairEntry(ctx, info.Key); err != nil {
			res.RepairFailed = append(res.RepairFailed, info.Key)
			r.logger.Error("entry repair failed", "key", info.Key, "error", err)
			continue
		}
		res.Repaired = append(res.Repaired, info.Key)
	}

	level := r.logger.Info
	if !res.Healthy() {
		level = r.logger.Warn
	}
	level("integrity validation completed",
		"checked", res.Checked,
		"valid", res.Valid,
		"corrupted", len(res.Corrupted),
		"repaired", len(res.Repaired),
		"repair_failed", len(res.RepairFailed),
		"broken_references", len(res.BrokenReferences))
	return res, nil
}
