package bloomfilter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	domains := []string{"mailinator.com", "guerrillamail.com", "10minutemail.com", "yopmail.com"}
	f := FromStrings(domains, 0.01)

	for _, d := range domains {
		assert.True(t, f.MayContain(d), "%s should be present", d)
	}
	assert.Equal(t, len(domains), f.Len())
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("disposable-%d.example", i))
	}

	fp := 0
	for i := 0; i < 10000; i++ {
		if f.MayContain(fmt.Sprintf("legit-%d.example", i)) {
			fp++
		}
	}
	rate := float64(fp) / 10000
	assert.Less(t, rate, 0.05, "false positive rate %.4f too high", rate)
}

func TestFilter_Empty(t *testing.T) {
	f := New(100, 0.01)
	assert.False(t, f.MayContain("anything"))
	assert.Equal(t, 0.0, f.Saturation())

	var nilFilter *Filter
	assert.False(t, nilFilter.MayContain("anything"))
}

func TestFilter_Saturation(t *testing.T) {
	f := New(100, 0.01)
	for i := 0; i < 50; i++ {
		f.Add(fmt.Sprintf("item%d", i))
	}
	s := f.Saturation()
	assert.Greater(t, s, 0.0)
	assert.Less(t, s, 1.0)
}

func TestNew_InvalidParameters(t *testing.T) {
	f := New(0, 2)
	f.Add("x")
	assert.True(t, f.MayContain("x"))
	assert.GreaterOrEqual(t, f.hashes, uint64(1))
}
