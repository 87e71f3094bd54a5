// Package admission is the pre-queue validation gate. Every job passes
// through an ordered list of named policies before it may be persisted as
// QUEUED; the bundle of per-policy results is returned to the submitter so
// a rejection always names the failing policy.
//
// Policies are pure functions over (job_type, payload, store reads): they
// never mutate state and each is unit-testable in isolation.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/quantfold/pkg/batch"
	"github.com/quantfold/quantfold/pkg/jobstore"
)

// Result is the outcome of one named policy.
type Result struct {
	Policy  string `json:"policy"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Bundle carries the ordered policy results for one submission attempt.
type Bundle struct {
	JobType    jobstore.JobType `json:"job_type"`
	ParamsHash string           `json:"params_hash"`
	Results    []Result         `json:"results"`
	Admissible bool             `json:"admissible"`
}

// FirstFailure returns the first failed result, or nil when admissible.
func (b *Bundle) FirstFailure() *Result {
	for i := range b.Results {
		if !b.Results[i].Passed {
			return &b.Results[i]
		}
	}
	return nil
}

// StoreReader is the read-only store surface policies are allowed to use.
type StoreReader interface {
	FindDuplicate(ctx context.Context, jobType jobstore.JobType, paramsHash string, window time.Duration) (*jobstore.Job, error)
	GetDataset(ctx context.Context, name string) (*jobstore.Dataset, error)
}

// Input is what each policy sees for one submission.
type Input struct {
	JobType    jobstore.JobType
	Params     map[string]any
	ParamsHash string
	Store      StoreReader
}

// Policy evaluates one named admission rule.
type Policy struct {
	Name  string
	Check func(ctx context.Context, in Input) Result
}

// Config tunes the built-in policies.
type Config struct {
	// DuplicateWindow is how long after terminal completion a payload
	// still counts as recently submitted for duplicate detection.
	DuplicateWindow time.Duration

	// Timeframes is the whitelist for the timeframe_enum policy.
	Timeframes []string
}

// DefaultConfig returns the default policy configuration.
func DefaultConfig() Config {
	return Config{
		DuplicateWindow: 24 * time.Hour,
		Timeframes:      []string{"1m", "5m", "15m", "1h", "4h", "1d"},
	}
}

// Controller runs the policy chain. It is stateless: all persistent reads
// go through the StoreReader.
type Controller struct {
	store    StoreReader
	policies []Policy
}

// NewController builds a controller with the built-in policy chain in its
// canonical order. Extra policies run after the built-ins.
func NewController(store StoreReader, cfg Config, extra ...Policy) *Controller {
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = DefaultConfig().DuplicateWindow
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = DefaultConfig().Timeframes
	}

	policies := []Policy{
		DuplicateFingerprint(cfg.DuplicateWindow),
		TimeframeEnum(cfg.Timeframes),
		SeasonFormat(),
		DatasetFingerprintRequired(),
	}
	policies = append(policies, extra...)

	return &Controller{store: store, policies: policies}
}

// Check evaluates every policy against the payload and returns the full
// bundle. Admissible is the AND of all results; evaluation never short
// circuits so the submitter sees every violation at once.
func (c *Controller) Check(ctx context.Context, jobType jobstore.JobType, params map[string]any) (*Bundle, error) {
	paramsHash, err := batch.HashParams(params)
	if err != nil {
		return nil, fmt.Errorf("hash params: %w", err)
	}

	in := Input{
		JobType:    jobType,
		Params:     params,
		ParamsHash: paramsHash,
		Store:      c.store,
	}

	bundle := &Bundle{
		JobType:    jobType,
		ParamsHash: paramsHash,
		Results:    make([]Result, 0, len(c.policies)),
		Admissible: true,
	}

	for _, p := range c.policies {
		res := p.Check(ctx, in)
		res.Policy = p.Name
		bundle.Results = append(bundle.Results, res)
		if !res.Passed {
			bundle.Admissible = false
		}
	}

	return bundle, nil
}
