// Package j2kview decodes JPEG2000 codestreams (.j2k/.j2c) for display.
//
// A Session wraps one decode. It reads the main header on Init, builds the
// decode structures on Parse and then delivers the reconstructed image
// either line by line in the native sample range or as a packed 8-bit RGBA
// buffer:
//
//	s := j2kview.NewSession(j2kview.Options{Logger: logger})
//	defer s.Release()
//
//	s.Init(data)
//	s.RestrictInputResolution(1, 1) // optional, half size
//	s.Parse()
//	w, h := s.Width(0), s.Height(0)
//	rgba := s.PullPackedBuffer8()
//
// Session methods do not return errors. Failures are logged through
// log/slog and surface as a -1 result from the geometry accessors or a nil
// line or buffer from the pulls. Use the State method to tell a finished
// image from a session that never became ready.
//
// Both the reversible 5/3 and the irreversible 9/7 wavelets are decoded,
// with the matching multi-component transform for three component images.
// Packing to 8 bits uses SIMD through go-highway when the CPU supports it;
// CPUExtLevel and CPUFeatures report what was detected.
package j2kview
