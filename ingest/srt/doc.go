// Package srt implements SRT (Secure Reliable Transport) ingest of raw
// elementary streams, in listener mode (Server) for incoming publish
// connections and caller mode (Caller) for pulling from remote sources.
//
// The stream ID names the publication as live/<key>. The payload is an
// AC-3/E-AC-3 stream unless the ID ends in #adts, which selects ADTS AAC.
package srt
