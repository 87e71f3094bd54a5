package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/quantfold/pkg/jobstore"
)

func TestHashParamsKeyOrderInvariant(t *testing.T) {
	a := map[string]any{"strategy": "meanrev", "timeframe": "1h", "lookback": 20}
	b := map[string]any{"lookback": 20, "timeframe": "1h", "strategy": "meanrev"}

	ha, err := HashParams(a)
	require.NoError(t, err)
	hb, err := HashParams(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	c := map[string]any{"strategy": "meanrev", "timeframe": "4h", "lookback": 20}
	hc, err := HashParams(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestHashParamsNormalizesScalarTypes(t *testing.T) {
	// A YAML decoder yields int, a JSON decoder float64. Both must hash
	// the same.
	asInt := map[string]any{"lookback": 20}
	asFloat := map[string]any{"lookback": float64(20)}

	hi, err := HashParams(asInt)
	require.NoError(t, err)
	hf, err := HashParams(asFloat)
	require.NoError(t, err)
	assert.Equal(t, hi, hf)
}

func TestHashParamsNested(t *testing.T) {
	a := map[string]any{"risk": map[string]any{"max_dd": 0.2, "leverage": 2}}
	b := map[string]any{"risk": map[string]any{"leverage": 2, "max_dd": 0.2}}

	ha, err := HashParams(a)
	require.NoError(t, err)
	hb, err := HashParams(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestComputeBatchIDPermutationInvariant(t *testing.T) {
	specs := []jobstore.JobSpec{
		{JobType: jobstore.JobTypeBacktest, Params: map[string]any{"timeframe": "1h"}},
		{JobType: jobstore.JobTypeBacktest, Params: map[string]any{"timeframe": "4h"}},
		{JobType: jobstore.JobTypePortfolio, Params: map[string]any{"weights": "equal"}},
	}
	reversed := []jobstore.JobSpec{specs[2], specs[1], specs[0]}

	id1, err := ComputeBatchID(specs)
	require.NoError(t, err)
	id2, err := ComputeBatchID(reversed)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.True(t, len(id1) > 3)
	assert.Equal(t, "qb_", id1[:3])
}

func TestComputeBatchIDContentSensitive(t *testing.T) {
	base := []jobstore.JobSpec{
		{JobType: jobstore.JobTypeBacktest, Params: map[string]any{"timeframe": "1h"}},
	}
	changed := []jobstore.JobSpec{
		{JobType: jobstore.JobTypeBacktest, Params: map[string]any{"timeframe": "4h"}},
	}

	id1, err := ComputeBatchID(base)
	require.NoError(t, err)
	id2, err := ComputeBatchID(changed)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	_, err = ComputeBatchID(nil)
	assert.Error(t, err)
	_, err = ComputeBatchID([]jobstore.JobSpec{{Params: map[string]any{}}})
	assert.Error(t, err, "job_type is required per spec entry")
}

func TestAxisCardinality(t *testing.T) {
	tests := []struct {
		name string
		axis Axis
		want int
	}{
		{"scalar", Axis{Value: "1h"}, 1},
		{"list", Axis{Values: []any{"1h", "4h", "1d"}}, 3},
		{"range exact", Axis{Range: &AxisRange{From: 10, To: 50, Step: 10}}, 5},
		{"range truncated", Axis{Range: &AxisRange{From: 10, To: 55, Step: 10}}, 5},
		{"range single", Axis{Range: &AxisRange{From: 10, To: 10, Step: 1}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.axis.Cardinality()
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	_, err := Axis{Range: &AxisRange{From: 10, To: 50, Step: 0}}.Cardinality()
	assert.Error(t, err)
	_, err = Axis{Range: &AxisRange{From: 50, To: 10, Step: 10}}.Cardinality()
	assert.Error(t, err)
	_, err = Axis{Values: []any{}}.Cardinality()
	assert.Error(t, err)
}

func TestEstimateTotal(t *testing.T) {
	tpl := &Template{
		JobType: jobstore.JobTypeBacktest,
		Params: map[string]Axis{
			"timeframe": {Values: []any{"1h", "4h", "1d"}},
			"lookback":  {Range: &AxisRange{From: 10, To: 50, Step: 10}},
			"strategy":  {Value: "meanrev"},
		},
	}

	total, err := EstimateTotal(tpl)
	require.NoError(t, err)
	assert.Equal(t, 15, total)
}

func TestExpandTemplateDeterministicOrder(t *testing.T) {
	tpl := &Template{
		JobType: jobstore.JobTypeBacktest,
		Params: map[string]Axis{
			"timeframe": {Values: []any{"1h", "4h"}},
			"lookback":  {Range: &AxisRange{From: 10, To: 20, Step: 10}},
		},
	}

	specs, err := ExpandTemplate(tpl)
	require.NoError(t, err)
	require.Len(t, specs, 4)

	// Axis names iterate sorted (lookback before timeframe); the rightmost
	// axis varies fastest.
	assert.Equal(t, map[string]any{"lookback": 10, "timeframe": "1h"}, specs[0].Params)
	assert.Equal(t, map[string]any{"lookback": 10, "timeframe": "4h"}, specs[1].Params)
	assert.Equal(t, map[string]any{"lookback": 20, "timeframe": "1h"}, specs[2].Params)
	assert.Equal(t, map[string]any{"lookback": 20, "timeframe": "4h"}, specs[3].Params)

	for _, s := range specs {
		assert.Equal(t, jobstore.JobTypeBacktest, s.JobType)
	}

	// Repeated expansion is bit-for-bit identical.
	again, err := ExpandTemplate(tpl)
	require.NoError(t, err)
	assert.Equal(t, specs, again)
}

func TestExpandThenBatchIDStable(t *testing.T) {
	tpl := &Template{
		JobType: jobstore.JobTypeBacktest,
		Params: map[string]Axis{
			"timeframe": {Values: []any{"1h", "4h", "1d"}},
			"strategy":  {Values: []any{"meanrev", "momentum"}},
		},
	}

	specs1, err := ExpandTemplate(tpl)
	require.NoError(t, err)
	specs2, err := ExpandTemplate(tpl)
	require.NoError(t, err)

	id1, err := ComputeBatchID(specs1)
	require.NoError(t, err)
	id2, err := ComputeBatchID(specs2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestLoadTemplateYAML(t *testing.T) {
	content := `job_type: RUN_BACKTEST
season: 2026Q3
tags: [sweep, momentum]
params:
  strategy: momentum
  timeframe: [1h, 4h]
  lookback:
    from: 10
    to: 30
    step: 10
`
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tpl, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, jobstore.JobTypeBacktest, tpl.JobType)
	assert.Equal(t, "2026Q3", tpl.Season)
	assert.Equal(t, []string{"sweep", "momentum"}, tpl.Tags)

	total, err := EstimateTotal(tpl)
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	specs, err := ExpandTemplate(tpl)
	require.NoError(t, err)
	assert.Len(t, specs, 6)
	assert.Equal(t, "momentum", specs[0].Params["strategy"])
}

func TestLoadTemplateJSON(t *testing.T) {
	content := `{
  "job_type": "COMPILE_FEATURES",
  "params": {
    "dataset": "eurusd-m1",
    "window": {"from": 5, "to": 15, "step": 5}
  }
}`
	path := filepath.Join(t.TempDir(), "compile.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tpl, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, jobstore.JobTypeCompile, tpl.JobType)

	total, err := EstimateTotal(tpl)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestLoadTemplateRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadTemplate(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("EmptyFile", func(t *testing.T) {
		_, err := LoadTemplate(write("empty.yaml", "  \n"))
		assert.Error(t, err)
	})

	t.Run("MissingJobType", func(t *testing.T) {
		_, err := LoadTemplate(write("notype.yaml", "params:\n  timeframe: 1h\n"))
		assert.Error(t, err)
	})

	t.Run("MissingParams", func(t *testing.T) {
		_, err := LoadTemplate(write("noparams.yaml", "job_type: RUN_BACKTEST\n"))
		assert.Error(t, err)
	})

	t.Run("BadSeasonFormat", func(t *testing.T) {
		_, err := LoadTemplate(write("season.yaml",
			"job_type: RUN_BACKTEST\nseason: Q3-2026\nparams:\n  timeframe: 1h\n"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("ZeroRangeStep", func(t *testing.T) {
		_, err := LoadTemplate(write("step.yaml",
			"job_type: RUN_BACKTEST\nparams:\n  lookback: {from: 10, to: 50, step: 0}\n"))
		assert.Error(t, err)
	})
}
