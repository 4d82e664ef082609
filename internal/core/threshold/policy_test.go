package threshold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
)

func testPolicy() Policy {
	return Policy{
		Weekly:  Levels{decimal.NewFromInt(1000), decimal.NewFromInt(5000), decimal.NewFromInt(10000)},
		Monthly: Levels{decimal.NewFromInt(10000), decimal.NewFromInt(30000), decimal.NewFromInt(50000)},
	}
}

func TestEvaluate(t *testing.T) {
	policy := testPolicy()

	tests := []struct {
		name        string
		granularity string
		newTotal    int64
		agg         aggregate.Aggregate
		want        []int
	}{
		{
			name:        "below all levels",
			granularity: aggregate.GranularityWeekly,
			newTotal:    999,
			want:        nil,
		},
		{
			name:        "exactly level1",
			granularity: aggregate.GranularityWeekly,
			newTotal:    1000,
			want:        []int{1},
		},
		{
			name:        "single event jumps two levels",
			granularity: aggregate.GranularityWeekly,
			newTotal:    6000,
			want:        []int{1, 2},
		},
		{
			name:        "single event jumps all three levels",
			granularity: aggregate.GranularityWeekly,
			newTotal:    15000,
			want:        []int{1, 2, 3},
		},
		{
			name:        "already-notified levels are skipped",
			granularity: aggregate.GranularityWeekly,
			newTotal:    6000,
			agg:         aggregate.Aggregate{NotifiedLevel1: true},
			want:        []int{2},
		},
		{
			name:        "all flags set means nothing to announce",
			granularity: aggregate.GranularityWeekly,
			newTotal:    20000,
			agg:         aggregate.Aggregate{NotifiedLevel1: true, NotifiedLevel2: true, NotifiedLevel3: true},
			want:        nil,
		},
		{
			name:        "daily never alerts",
			granularity: aggregate.GranularityDaily,
			newTotal:    999999,
			want:        nil,
		},
		{
			name:        "monthly uses its own triple",
			granularity: aggregate.GranularityMonthly,
			newTotal:    12000,
			want:        []int{1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			agg := tc.agg
			got := policy.Evaluate(tc.granularity, decimal.NewFromInt(tc.newTotal), &agg)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateRefundDoesNotClearFlags(t *testing.T) {
	policy := testPolicy()
	agg := aggregate.Aggregate{NotifiedLevel1: true, NotifiedLevel2: true}

	// Total dropped back under level1 by refunds; flags stay authoritative.
	got := policy.Evaluate(aggregate.GranularityWeekly, decimal.NewFromInt(500), &agg)
	require.Nil(t, got)
	require.True(t, agg.NotifiedLevel1)
	require.True(t, agg.NotifiedLevel2)
}

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPolicy(t *testing.T) {
	path := writePolicyFile(t, `
weekly:
  level1: "1000"
  level2: "5000"
  level3: "10000"
monthly:
  level1: "10000"
  level2: "30000"
  level3: "50000"
`)

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	require.True(t, policy.Weekly.Amount(2).Equal(decimal.NewFromInt(5000)))
	require.True(t, policy.Monthly.Amount(3).Equal(decimal.NewFromInt(50000)))
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "non-ascending",
			content: `
weekly:
  level1: "5000"
  level2: "5000"
  level3: "10000"
monthly:
  level1: "10000"
  level2: "30000"
  level3: "50000"
`,
		},
		{
			name: "incomplete",
			content: `
weekly:
  level1: "1000"
  level3: "10000"
monthly:
  level1: "10000"
  level2: "30000"
  level3: "50000"
`,
		},
		{
			name: "non-numeric",
			content: `
weekly:
  level1: "a lot"
  level2: "5000"
  level3: "10000"
monthly:
  level1: "10000"
  level2: "30000"
  level3: "50000"
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadPolicy(writePolicyFile(t, tc.content))
			require.Error(t, err)
		})
	}
}
