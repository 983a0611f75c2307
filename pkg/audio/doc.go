// Package audio defines the types and interfaces shared by the playback
// engine, its decode backends, and its output devices.
//
// The primary abstractions are:
//
//   - [Track]: an immutable, probed description of a playable file.
//   - [Decoder] and [Session]: an opaque per-file decode backend that yields
//     successive [Chunk]s of float32 PCM.
//   - [Clock] and [Renderer]: the two halves of an output device: a settable
//     timeline with boundary/periodic observers, and a buffer queue fed with
//     timestamped [Buffer]s.
//
// Implementations live in sub-packages (audio/decode, audio/virtual,
// audio/speaker). This package lives under pkg/ because external code is
// expected to provide additional decoders and devices.
package audio
