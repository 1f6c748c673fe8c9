// Package wire serializes demuxed track descriptions, packets and caption
// frames for an out-of-process packetizer.
//
// Each message is a QUIC variable-length integer message type followed by
// the message fields. Integers are varints, signed integers are zigzag
// encoded, and byte strings are prefixed with their varint length. Messages
// carry no outer length, so a stream must be decoded in order. Caption
// messages carry the styled regions in the ccx binary caption encoding.
package wire
