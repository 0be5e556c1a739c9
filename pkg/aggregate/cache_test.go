package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quorumlabs/votegrid/pkg/power"
)

func TestCacheKey(t *testing.T) {
	k := cacheKey(0xabc, power.BalanceOf, "alice", 12)
	assert.Equal(t, k, cacheKey(0xabc, power.BalanceOf, "alice", 12))

	// Every key component must separate entries, the fingerprint above all:
	// it is what retires totals computed under superseded weights.
	assert.NotEqual(t, k, cacheKey(0xdef, power.BalanceOf, "alice", 12))
	assert.NotEqual(t, k, cacheKey(0xabc, power.TotalSupply, "alice", 12))
	assert.NotEqual(t, k, cacheKey(0xabc, power.BalanceOf, "bob", 12))
	assert.NotEqual(t, k, cacheKey(0xabc, power.BalanceOf, "alice", 13))
}
