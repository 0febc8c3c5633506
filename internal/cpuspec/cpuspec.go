// Package cpuspec probes CPU topology to size inference thread pools.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	PhysicalCores    int
	LogicalCores     int
	PerformanceCores int // 0 when the brand is not a known hybrid design
	AVX2             bool
	AVX512           bool
	ASIMD            bool
}

var (
	intelCoreRegex = regexp.MustCompile(`intel.*(?:core.*i[3579]-(\d{5})|core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3}))`)
	appleRegex     = regexp.MustCompile(`apple\s+(m[1-4](?:\s*(?:pro|max|ultra))?)`)
)

// P-core counts of hybrid parts, keyed by model number prefix.
var intelPerformanceCores = map[string]int{
	"12900": 8, "12700": 8, "12600": 6, "12400": 6, "12100": 4,
	"13900": 8, "13700": 8, "13600": 6, "13500": 6, "13400": 6, "13100": 4,
	"14900": 8, "14700": 8, "14600": 6, "14400": 6, "14100": 4,
}

var intelUltraPerformanceCores = map[string]int{
	"9-285": 8, "7-265": 8, "7-255": 8, "5-235": 6, "5-225": 4,
}

var applePerformanceCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

// GetCPUSpec probes the running CPU.
func GetCPUSpec() CPUSpec {
	return CPUSpec{
		BrandName:        cpuid.CPU.BrandName,
		PhysicalCores:    cpuid.CPU.PhysicalCores,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PerformanceCores: determinePerformanceCores(cpuid.CPU.BrandName),
		AVX2:             cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:           cpuid.CPU.Supports(cpuid.AVX512F),
		ASIMD:            cpuid.CPU.Supports(cpuid.ASIMD),
	}
}

// GetOptimalThreadCount returns the recommended number of inference threads.
// Hybrid parts use their performance cores only; others use physical cores
// since convolution kernels gain little from SMT siblings.
func (c CPUSpec) GetOptimalThreadCount() int {
	availableCPUs := runtime.NumCPU()

	switch {
	case c.PerformanceCores > 0:
		return min(c.PerformanceCores, availableCPUs)
	case c.PhysicalCores > 0:
		return min(c.PhysicalCores, availableCPUs)
	case c.LogicalCores > 0:
		return min(c.LogicalCores, availableCPUs)
	default:
		return availableCPUs
	}
}

// Features lists the SIMD extensions relevant to the model runtimes.
func (c CPUSpec) Features() []string {
	var out []string
	if c.AVX2 {
		out = append(out, "avx2")
	}
	if c.AVX512 {
		out = append(out, "avx512f")
	}
	if c.ASIMD {
		out = append(out, "asimd")
	}
	return out
}

// Threads resolves a configured thread count. Zero derives the count from
// the CPU; values above the available CPUs are capped.
func Threads(configured int) int {
	available := runtime.NumCPU()
	if configured <= 0 {
		return max(1, min(GetCPUSpec().GetOptimalThreadCount(), available))
	}
	return min(configured, available)
}

// Split divides total threads among sessions that run concurrently, giving
// each at least one.
func Split(total, sessions int) int {
	if sessions <= 1 {
		return max(1, total)
	}
	return max(1, total/sessions)
}

func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if m := intelCoreRegex.FindStringSubmatch(brandName); len(m) > 1 {
		if m[1] != "" {
			return intelPerformanceCores[m[1]]
		}
		return intelUltraPerformanceCores[m[2]+"-"+m[3]]
	}

	if m := appleRegex.FindStringSubmatch(brandName); len(m) > 1 {
		chip := strings.Join(strings.Fields(m[1]), " ")
		return applePerformanceCores[chip]
	}

	return 0
}
