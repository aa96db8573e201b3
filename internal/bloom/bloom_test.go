package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindoo/mindoo-core/internal/types"
)

func idSet(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%04d", i)
	}
	return ids
}

func TestBuildSoundness(t *testing.T) {
	ids := idSet(500)
	summary := Build(ids)

	for _, id := range ids {
		assert.True(t, MightContain(summary, id), "inserted id %q must test positive", id)
	}
}

func TestBuildFalsePositiveRateIsReasonable(t *testing.T) {
	ids := idSet(1000)
	summary := Build(ids)

	falsePositives := 0
	trials := 5000
	for i := 0; i < trials; i++ {
		probe := fmt.Sprintf("absent-%d", i)
		if MightContain(summary, probe) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	// fixed p=0.01 target; allow generous slack since this is a statistical test.
	assert.Less(t, rate, 0.05, "false positive rate %v far exceeds the 0.01 target", rate)
}

func TestSizingEnforcesMinimumBitCount(t *testing.T) {
	bitCount, hashCount := sizing(1)
	assert.GreaterOrEqual(t, bitCount, 64)
	assert.GreaterOrEqual(t, hashCount, 1)
}

func TestSerializationRoundTrip(t *testing.T) {
	ids := idSet(50)
	summary := Build(ids)

	require.Equal(t, Version, summary.Version)
	require.NotEmpty(t, summary.Bits)
	require.NotEmpty(t, summary.Salt)
	require.Equal(t, 50, summary.TotalIDs)

	for _, id := range ids {
		assert.True(t, MightContain(summary, id))
	}
}

func TestMightContainUnknownVersionFallsBackTrue(t *testing.T) {
	s := types.BloomSummary{Version: "bloom-v2-from-the-future"}
	assert.True(t, MightContain(s, "anything"))
}

func TestMightContainCorruptBitsFallsBackTrue(t *testing.T) {
	s := types.BloomSummary{Version: Version, Bits: "not-valid-base64!!!", BitCount: 64, HashCount: 2, Salt: "x"}
	assert.True(t, MightContain(s, "anything"))
}

func TestAddIncrementalMembership(t *testing.T) {
	summary := Build(idSet(10))
	updated, needsRebuild := Add(summary, "freshly-added-id")
	assert.False(t, needsRebuild)
	assert.True(t, MightContain(updated, "freshly-added-id"))
	assert.Equal(t, 11, updated.TotalIDs)
}

func TestAddSignalsRebuildPastDoubleCapacity(t *testing.T) {
	summary := Build(idSet(10))
	for i := 0; i < 30; i++ {
		var needsRebuild bool
		summary, needsRebuild = Add(summary, fmt.Sprintf("extra-%d", i))
		if needsRebuild {
			return
		}
	}
	t.Fatal("expected Add to signal a rebuild after exceeding 2x original capacity")
}
