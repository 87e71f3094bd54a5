package admission

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/quantfold/quantfold/pkg/jobstore"
)

// Policy names are stable strings returned to submitters and asserted in
// tests; treat them as part of the contract.
const (
	PolicyDuplicateFingerprint = "duplicate_fingerprint"
	PolicyTimeframeEnum        = "timeframe_enum"
	PolicySeasonFormat         = "season_format"
	PolicyDatasetFingerprint   = "dataset_fingerprint_required"
)

// seasonPattern is the required shape of a season token, e.g. "2026Q1".
var seasonPattern = regexp.MustCompile(`^\d{4}Q[1-4]$`)

func pass() Result {
	return Result{Passed: true}
}

func fail(format string, args ...any) Result {
	return Result{Passed: false, Message: fmt.Sprintf(format, args...)}
}

// DuplicateFingerprint rejects a payload whose canonical hash matches any
// non-terminal job of the same type, or any job of the same type submitted
// within the window. Identical work never enters the queue twice.
func DuplicateFingerprint(window time.Duration) Policy {
	return Policy{
		Name: PolicyDuplicateFingerprint,
		Check: func(ctx context.Context, in Input) Result {
			dup, err := in.Store.FindDuplicate(ctx, in.JobType, in.ParamsHash, window)
			if err != nil {
				return fail("duplicate check failed: %v", err)
			}
			if dup != nil {
				return fail("duplicate of job %s (state=%s)", dup.JobID, dup.State)
			}
			return pass()
		},
	}
}

// TimeframeEnum rejects out-of-whitelist timeframe values. Payloads without
// a timeframe field pass vacuously: not every job type carries one.
func TimeframeEnum(allowed []string) Policy {
	whitelist := make(map[string]struct{}, len(allowed))
	for _, tf := range allowed {
		whitelist[strings.TrimSpace(tf)] = struct{}{}
	}

	return Policy{
		Name: PolicyTimeframeEnum,
		Check: func(_ context.Context, in Input) Result {
			raw, ok := in.Params["timeframe"]
			if !ok {
				return pass()
			}
			tf, ok := raw.(string)
			if !ok {
				return fail("timeframe must be a string, got %T", raw)
			}
			if _, ok := whitelist[tf]; !ok {
				return fail("timeframe %q is not in the allowed set %v", tf, allowed)
			}
			return pass()
		},
	}
}

// SeasonFormat checks the season token shape (YYYYQn). Payloads without a
// season field pass vacuously.
func SeasonFormat() Policy {
	return Policy{
		Name: PolicySeasonFormat,
		Check: func(_ context.Context, in Input) Result {
			raw, ok := in.Params["season"]
			if !ok {
				return pass()
			}
			season, ok := raw.(string)
			if !ok {
				return fail("season must be a string, got %T", raw)
			}
			if !seasonPattern.MatchString(season) {
				return fail("season %q does not match YYYYQn (e.g. 2026Q1)", season)
			}
			return pass()
		},
	}
}

// DatasetFingerprintRequired enforces reproducibility for dataset-backed
// jobs: the resolved dataset record must carry a non-empty content
// fingerprint. Unregistered or fingerprint-less datasets are a hard
// rejection — DIRTY jobs are forbidden from the governance chain.
// Payloads without a dataset field pass vacuously.
func DatasetFingerprintRequired() Policy {
	return Policy{
		Name: PolicyDatasetFingerprint,
		Check: func(ctx context.Context, in Input) Result {
			raw, ok := in.Params["dataset"]
			if !ok {
				return pass()
			}
			name, ok := raw.(string)
			if !ok || strings.TrimSpace(name) == "" {
				return fail("dataset must be a non-empty string")
			}

			ds, err := in.Store.GetDataset(ctx, name)
			if err != nil {
				if errors.Is(err, jobstore.ErrDatasetNotFound) {
					return fail("DIRTY jobs are forbidden: dataset %q is not registered", name)
				}
				return fail("dataset lookup failed: %v", err)
			}
			if strings.TrimSpace(ds.Fingerprint) == "" {
				return fail("DIRTY jobs are forbidden: dataset %q has no content fingerprint", name)
			}
			return pass()
		},
	}
}
