// Package derive computes hardware register values from logical pipeline
// and dynamic state.
//
// Every function here is pure: it takes plain values and returns register
// words or the intermediate quantities they are built from. The command
// buffer decides when a derivation must be redone and emits the result;
// keeping the arithmetic separate lets it be tested per generation without
// recording anything.
//
// Float arithmetic follows the hardware in single precision through
// github.com/chewxy/math32.
package derive
