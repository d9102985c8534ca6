package j2kview

import "log/slog"

// Options configures a Session. The zero value is ready to use.
type Options struct {
	// Logger receives diagnostics for failures that the Session methods
	// report only as sentinel values. nil uses slog.Default().
	Logger *slog.Logger

	// Packer forces the packing implementation used by PullPackedBuffer8.
	// PackerAuto consults the CPU probe.
	Packer Packer

	// Workers limits how many tiles are decoded in parallel.
	// 0 uses GOMAXPROCS, 1 decodes tiles sequentially.
	Workers int

	// MaxLayers limits the number of quality layers to decode.
	// 0 decodes all layers.
	MaxLayers int

	// Resilient tolerates truncated or corrupt tile data, as if
	// EnableResilience had been called before Parse.
	Resilient bool
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
