package mp4

import (
	"fmt"
	"iter"
	"math"

	"github.com/zsiec/demuxkit/media"
)

// maxSamples bounds the tables ExpandTables materializes.
const maxSamples = 1 << 26

// Sample locates one sample (or, for constant-size audio, one chunk) in the
// file. Timestamps are in the track's time scale.
type Sample struct {
	Offset   uint64
	Size     uint32
	DTS      int64
	PTS      int64
	Duration int64
	Keyframe bool
}

// SampleTable is the resolved, immutable per-sample index of a track.
type SampleTable struct {
	samples  []Sample
	perChunk bool
}

// Len returns the number of entries.
func (st *SampleTable) Len() int { return len(st.samples) }

// At returns entry i.
func (st *SampleTable) At(i int) Sample { return st.samples[i] }

// PerChunk reports whether each entry covers a whole chunk of constant-size
// samples rather than a single sample.
func (st *SampleTable) PerChunk() bool { return st.perChunk }

// All iterates over the entries in sample order.
func (st *SampleTable) All() iter.Seq2[int, Sample] {
	return func(yield func(int, Sample) bool) {
		for i, s := range st.samples {
			if !yield(i, s) {
				return
			}
		}
	}
}

// ExpandTables resolves the run-length sample tables of td into absolute
// offsets and timestamps. The steps depend on each other and run in a fixed
// order: chunk map, chunk sample numbers, implicit sizes, timestamps,
// offsets, keyframes.
func ExpandTables(td *TrackDescriptor) (*SampleTable, error) {
	return expandTables(td, 0)
}

// expandTables is ExpandTables for a track stored in a source of srcSize
// bytes. Constant-size layouts implying more bytes than that are rejected
// before any per-sample table is built. A srcSize of 0 disables the check.
func expandTables(td *TrackDescriptor, srcSize int64) (*SampleTable, error) {
	numChunks := len(td.ChunkOffsets)

	// Chunk map entries only name their first chunk, so expand from the
	// last entry backwards.
	chunkSamples := make([]uint32, numChunks)
	last := numChunks
	for i := len(td.SampleToChunk) - 1; i >= 0; i-- {
		e := td.SampleToChunk[i]
		first := int(min(e.FirstChunk, uint32(numChunks)))
		for c := first; c < last; c++ {
			chunkSamples[c] = e.SamplesPerChunk
		}
		last = min(last, first)
	}

	chunkFirst := make([]int, numChunks)
	total := 0
	for c, n := range chunkSamples {
		chunkFirst[c] = total
		total += int(n)
		if total > maxSamples {
			return nil, fmt.Errorf("%w: more than %d samples", ErrInconsistentTables, maxSamples)
		}
	}

	if td.SampleSizes == nil {
		if td.SampleCount > 0 && uint64(total) != uint64(td.SampleCount) {
			return nil, fmt.Errorf("%w: %d samples in chunks, %d declared", ErrInconsistentTables, total, td.SampleCount)
		}
		if srcSize > 0 {
			implied := uint64(total) * uint64(td.SampleSize)
			if td.Kind == media.KindAudio {
				implied = chunkSize(td, uint64(total))
			}
			if implied > uint64(srcSize) {
				return nil, fmt.Errorf("%w: %d samples need %d bytes, source has %d",
					ErrInconsistentTables, total, implied, srcSize)
			}
		}
	}

	sizes := td.SampleSizes
	if sizes == nil && td.Kind != media.KindAudio {
		sizes = make([]uint32, total)
		for i := range sizes {
			sizes[i] = td.SampleSize
		}
	}
	if sizes == nil {
		return expandChunks(td, chunkSamples, chunkFirst)
	}

	samples := make([]Sample, total)
	expandTimestamps(td, samples)

	if total > len(sizes) {
		return nil, fmt.Errorf("%w: %d samples in chunks, %d sizes", ErrInconsistentTables, total, len(sizes))
	}
	for c, off := range td.ChunkOffsets {
		for s := chunkFirst[c]; s < chunkFirst[c]+int(chunkSamples[c]); s++ {
			samples[s].Offset = off
			samples[s].Size = sizes[s]
			off += uint64(sizes[s])
		}
	}

	if len(td.SyncSamples) == 0 {
		for i := range samples {
			samples[i].Keyframe = true
		}
	} else {
		for _, n := range td.SyncSamples {
			if n >= 1 && int(n) <= total {
				samples[n-1].Keyframe = true
			}
		}
	}
	return &SampleTable{samples: samples}, nil
}

// expandTimestamps fills DTS, PTS and Duration from the stts and ctts runs.
// Samples beyond the stts coverage continue with the last duration.
func expandTimestamps(td *TrackDescriptor, samples []Sample) {
	var dts int64
	var dur int64
	i := 0
	for _, e := range td.TimeToSample {
		dur = int64(e.Duration)
		for k := uint32(0); k < e.Count && i < len(samples); k++ {
			samples[i].DTS = dts
			samples[i].Duration = dur
			dts += dur
			i++
		}
	}
	for ; i < len(samples); i++ {
		samples[i].DTS = dts
		samples[i].Duration = dur
		dts += dur
	}

	i = 0
	for _, e := range td.CompositionOffsets {
		for k := uint32(0); k < e.Count && i < len(samples); k++ {
			samples[i].PTS = samples[i].DTS + int64(e.Offset)
			i++
		}
	}
	for ; i < len(samples); i++ {
		samples[i].PTS = samples[i].DTS
	}
}

// constantDuration reports whether the stts table describes a single sample
// duration, allowing a differing last sample.
func constantDuration(stts []TimeToSampleEntry) bool {
	return len(stts) == 1 || (len(stts) == 2 && stts[1].Count == 1)
}

// expandChunks handles constant-size audio: each chunk becomes one entry
// whose size follows from its sample count and the sound description. A
// chunk is a keyframe when its first sample is a sync sample, so stss still
// applies at chunk granularity.
func expandChunks(td *TrackDescriptor, chunkSamples []uint32, chunkFirst []int) (*SampleTable, error) {
	if !constantDuration(td.TimeToSample) {
		return nil, fmt.Errorf("%w: %d duration entries", ErrUnsupportedSampleLayout, len(td.TimeToSample))
	}
	dur := int64(td.TimeToSample[0].Duration)

	var sync map[uint32]bool
	if len(td.SyncSamples) > 0 {
		sync = make(map[uint32]bool, len(td.SyncSamples))
		for _, n := range td.SyncSamples {
			sync[n] = true
		}
	}

	samples := make([]Sample, 0, len(chunkSamples))
	for c, n := range chunkSamples {
		if n == 0 {
			continue
		}
		size := chunkSize(td, uint64(n))
		if size == 0 || size > math.MaxUint32 {
			return nil, fmt.Errorf("%w: chunk %d size %d", ErrInconsistentTables, c, size)
		}
		ts := int64(chunkFirst[c]) * dur
		samples = append(samples, Sample{
			Offset:   td.ChunkOffsets[c],
			Size:     uint32(size),
			DTS:      ts,
			PTS:      ts,
			Duration: int64(n) * dur,
			Keyframe: sync == nil || sync[uint32(chunkFirst[c]+1)],
		})
	}
	return &SampleTable{samples: samples, perChunk: true}, nil
}

// chunkSize returns the byte size of n constant-size audio samples. A sample
// size of 1 is the QuickTime convention for one PCM frame per sample.
func chunkSize(td *TrackDescriptor, n uint64) uint64 {
	if td.SampleSize != 1 {
		return n * uint64(td.SampleSize)
	}
	if td.SoundVersion >= 1 && td.SamplesPerPacket > 0 {
		return n * uint64(td.BytesPerFrame) / uint64(td.SamplesPerPacket)
	}
	return n * uint64(td.Channels) * uint64(td.BitDepth) / 8
}
