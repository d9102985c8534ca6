package j2kview

import (
	"runtime"
	"strings"
	"sync"

	"github.com/ajroetker/go-highway/hwy"
	"golang.org/x/sys/cpu"
)

// CPUExtLevel reports the vector capability used to pick a packer:
// 0 for none, 1 for 128-bit, 2 for 256-bit and 3 for 512-bit registers.
// Setting HWY_NO_SIMD forces 0. The result is computed once per process.
func CPUExtLevel() int {
	return cpuExtLevel()
}

var cpuExtLevel = sync.OnceValue(func() int {
	return extLevel(hwy.CurrentLevel(), hwy.CurrentWidth(), hwy.NoSimdEnv())
})

func extLevel(level hwy.DispatchLevel, width int, noSIMD bool) int {
	if noSIMD || level == hwy.DispatchScalar {
		return 0
	}
	switch {
	case width >= 64:
		return 3
	case width >= 32:
		return 2
	default:
		return 1
	}
}

// CPUFeatures describes the detected vector target and the relevant CPU
// feature flags, for diagnostics.
func CPUFeatures() string {
	return cpuFeatures()
}

var cpuFeatures = sync.OnceValue(func() string {
	var b strings.Builder
	b.WriteString(runtime.GOARCH)
	b.WriteString("/")
	b.WriteString(hwy.CurrentName())
	flag := func(name string, ok bool) {
		if ok {
			b.WriteString(" +")
			b.WriteString(name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		flag("sse2", cpu.X86.HasSSE2)
		flag("sse41", cpu.X86.HasSSE41)
		flag("avx2", cpu.X86.HasAVX2)
		flag("avx512f", cpu.X86.HasAVX512F)
		flag("avx512bw", cpu.X86.HasAVX512BW)
	case "arm64":
		flag("asimd", cpu.ARM64.HasASIMD)
		flag("sve", cpu.ARM64.HasSVE)
		flag("sve2", cpu.ARM64.HasSVE2)
	}
	if hwy.NoSimdEnv() {
		b.WriteString(" (HWY_NO_SIMD)")
	}
	return b.String()
})
