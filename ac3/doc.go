// Package ac3 implements frame synchronization for raw AC-3 (A/52) and E-AC-3
// elementary streams. It recovers frame boundaries from an arbitrarily chunked
// byte stream, links E-AC-3 dependent substreams to their independent frame,
// and surfaces checksum failures as a validity flag rather than an error.
//
// The central type is [Parser]: feed it bytes with [Parser.Push], drain
// completed frames with [Parser.Pop], and call [Parser.Flush] at end of stream.
// [DecodeHeader] and [FrameHeader.Marshal] expose the header codec, and
// [Probe] detects whether a byte source carries AC-3 at all.
package ac3
