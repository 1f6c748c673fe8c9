// Package mp4 reads QuickTime and ISO base media (MP4) files. It walks the
// atom tree of a random-access [Source], collects each track's sample
// description and sample tables, and resolves them with [ExpandTables] into
// per-sample byte offsets and timestamps.
//
// [Open] parses the header atoms and returns a [File] with one [Track] per
// usable trak atom. Tracks that fail coherence checks are listed in
// [File.Dropped] instead of failing the whole file. A [Demuxer] then reads
// packets from all tracks in timestamp order.
package mp4
