package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterminePerformanceCores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		brand string
		want  int
	}{
		{"12th Gen Intel(R) Core(TM) i9-12900K", 8},
		{"13th Gen Intel(R) Core(TM) i5-13600K", 6},
		{"Intel(R) Core(TM) i3-14100F", 4},
		{"Intel(R) Core(TM) Ultra 7 265K", 8},
		{"Intel(R) Core(TM) Ultra 5 Processor 225", 4},
		{"Apple M1", 4},
		{"Apple M2 Max", 12},
		{"Apple M4  Pro", 8},
		{"AMD Ryzen 9 7950X 16-Core Processor", 0},
		{"Intel(R) Core(TM) i7-10700K CPU @ 3.80GHz", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, determinePerformanceCores(tt.brand), tt.brand)
	}
}

func TestGetOptimalThreadCount(t *testing.T) {
	t.Parallel()

	n := runtime.NumCPU()
	assert.Equal(t, min(2, n), CPUSpec{PerformanceCores: 2, PhysicalCores: 16}.GetOptimalThreadCount())
	assert.Equal(t, min(3, n), CPUSpec{PhysicalCores: 3, LogicalCores: 6}.GetOptimalThreadCount())
	assert.Equal(t, min(5, n), CPUSpec{LogicalCores: 5}.GetOptimalThreadCount())
	assert.Equal(t, n, CPUSpec{}.GetOptimalThreadCount())
	assert.LessOrEqual(t, GetCPUSpec().GetOptimalThreadCount(), n)
}

func TestThreads(t *testing.T) {
	t.Parallel()

	n := runtime.NumCPU()
	assert.Equal(t, 1, Threads(1))
	assert.Equal(t, n, Threads(n+100))
	auto := Threads(0)
	assert.GreaterOrEqual(t, auto, 1)
	assert.LessOrEqual(t, auto, n)
}

func TestSplit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 8, Split(8, 1))
	assert.Equal(t, 4, Split(8, 2))
	assert.Equal(t, 2, Split(8, 3))
	assert.Equal(t, 1, Split(2, 5))
	assert.Equal(t, 1, Split(0, 0))
}

func TestFeatures(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"avx2", "asimd"}, CPUSpec{AVX2: true, ASIMD: true}.Features())
	assert.Empty(t, CPUSpec{}.Features())
}
