package mp4

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/demuxkit/media"
)

func TestExpandTablesProperties(t *testing.T) {
	t.Parallel()
	for seed := range uint64(50) {
		rng := rand.New(rand.NewPCG(seed, 1))

		numChunks := 1 + rng.IntN(40)
		offsets := make([]uint64, numChunks)
		next := uint64(1000)
		for c := range offsets {
			offsets[c] = next
			next += 10_000
		}

		// M <= C run-length entries with strictly increasing first chunks.
		m := 1 + rng.IntN(numChunks)
		firsts := rng.Perm(numChunks - 1)[:m-1]
		starts := map[int]bool{0: true}
		for _, f := range firsts {
			starts[f+1] = true
		}
		var stsc []SampleToChunkEntry
		total := 0
		var perChunk uint32
		for c := range numChunks {
			if starts[c] {
				perChunk = uint32(1 + rng.IntN(8))
				stsc = append(stsc, SampleToChunkEntry{FirstChunk: uint32(c), SamplesPerChunk: perChunk, DescriptionID: 1})
			}
			total += int(perChunk)
		}

		var stts []TimeToSampleEntry
		for left := total; left > 0; {
			n := 1 + rng.IntN(left)
			stts = append(stts, TimeToSampleEntry{Count: uint32(n), Duration: uint32(rng.IntN(3000))})
			left -= n
		}
		sizes := make([]uint32, total)
		for i := range sizes {
			sizes[i] = uint32(1 + rng.IntN(500))
		}

		st, err := ExpandTables(&TrackDescriptor{
			Kind:          media.KindVideo,
			ChunkOffsets:  offsets,
			SampleToChunk: stsc,
			TimeToSample:  stts,
			SampleSizes:   sizes,
		})
		require.NoError(t, err)
		require.Equal(t, total, st.Len(), "seed %d", seed)

		var prev Sample
		for i, s := range st.All() {
			require.Equal(t, sizes[i], s.Size)
			if i > 0 {
				require.GreaterOrEqual(t, s.DTS, prev.DTS, "seed %d sample %d", seed, i)
				if s.Offset/10_000 == prev.Offset/10_000 {
					require.Greater(t, s.Offset, prev.Offset, "seed %d sample %d", seed, i)
				}
			}
			require.True(t, s.Keyframe)
			prev = s
		}
	}
}

func TestExpandTablesReverseChunkMap(t *testing.T) {
	t.Parallel()
	st, err := ExpandTables(&TrackDescriptor{
		Kind:          media.KindVideo,
		ChunkOffsets:  []uint64{0, 100, 200, 300, 400},
		SampleToChunk: []SampleToChunkEntry{{FirstChunk: 0, SamplesPerChunk: 3}, {FirstChunk: 3, SamplesPerChunk: 1}},
		TimeToSample:  []TimeToSampleEntry{{Count: 11, Duration: 10}},
		SampleSize:    7,
	})
	require.NoError(t, err)
	require.Equal(t, 11, st.Len())
	require.False(t, st.PerChunk())

	var got []uint64
	for _, s := range st.All() {
		require.Equal(t, uint32(7), s.Size)
		got = append(got, s.Offset)
	}
	require.Equal(t, []uint64{0, 7, 14, 100, 107, 114, 200, 207, 214, 300, 400}, got)
	require.Equal(t, int64(100), st.At(10).DTS)
}

func TestExpandTablesTimestamps(t *testing.T) {
	t.Parallel()
	st, err := ExpandTables(&TrackDescriptor{
		Kind:               media.KindVideo,
		ChunkOffsets:       []uint64{0},
		SampleToChunk:      []SampleToChunkEntry{{SamplesPerChunk: 6}},
		TimeToSample:       []TimeToSampleEntry{{Count: 2, Duration: 10}, {Count: 2, Duration: 20}},
		CompositionOffsets: []CompositionOffsetEntry{{Count: 1, Offset: 20}, {Count: 1, Offset: -5}},
		SampleSizes:        []uint32{1, 1, 1, 1, 1, 1},
		SyncSamples:        []uint32{1, 5, 99},
	})
	require.NoError(t, err)

	var dts, pts []int64
	var keys []bool
	for _, s := range st.All() {
		dts = append(dts, s.DTS)
		pts = append(pts, s.PTS)
		keys = append(keys, s.Keyframe)
	}
	// Samples past the duration table continue with the last duration.
	require.Equal(t, []int64{0, 10, 20, 40, 60, 80}, dts)
	require.Equal(t, []int64{20, 5, 20, 40, 60, 80}, pts)
	require.Equal(t, []bool{true, false, false, false, true, false}, keys)
	require.Equal(t, int64(20), st.At(5).Duration)
}

func TestExpandTablesConstantSizeAudio(t *testing.T) {
	t.Parallel()
	base := TrackDescriptor{
		Kind:          media.KindAudio,
		ChunkOffsets:  []uint64{1000, 5000, 9000},
		SampleToChunk: []SampleToChunkEntry{{FirstChunk: 0, SamplesPerChunk: 1024}, {FirstChunk: 2, SamplesPerChunk: 512}},
		TimeToSample:  []TimeToSampleEntry{{Count: 2560, Duration: 1}},
		SampleSize:    1,
		Channels:      2,
		BitDepth:      16,
	}

	t.Run("pcm v0", func(t *testing.T) {
		t.Parallel()
		td := base
		st, err := ExpandTables(&td)
		require.NoError(t, err)
		require.True(t, st.PerChunk())
		require.Equal(t, 3, st.Len())
		require.Equal(t, Sample{Offset: 1000, Size: 4096, DTS: 0, PTS: 0, Duration: 1024, Keyframe: true}, st.At(0))
		require.Equal(t, Sample{Offset: 9000, Size: 2048, DTS: 2048, PTS: 2048, Duration: 512, Keyframe: true}, st.At(2))
	})

	t.Run("sound v1", func(t *testing.T) {
		t.Parallel()
		td := base
		td.SoundVersion = 1
		td.SamplesPerPacket = 64
		td.BytesPerFrame = 34 * 2
		st, err := ExpandTables(&td)
		require.NoError(t, err)
		require.Equal(t, uint32(1024/64*68), st.At(0).Size)
	})

	t.Run("explicit constant size", func(t *testing.T) {
		t.Parallel()
		td := base
		td.SampleSize = 3
		st, err := ExpandTables(&td)
		require.NoError(t, err)
		require.Equal(t, uint32(3072), st.At(0).Size)
	})

	t.Run("short last duration", func(t *testing.T) {
		t.Parallel()
		td := base
		td.TimeToSample = []TimeToSampleEntry{{Count: 2559, Duration: 1}, {Count: 1, Duration: 0}}
		_, err := ExpandTables(&td)
		require.NoError(t, err)
	})

	t.Run("sync samples by chunk", func(t *testing.T) {
		t.Parallel()
		td := base
		td.SyncSamples = []uint32{1, 2049}
		st, err := ExpandTables(&td)
		require.NoError(t, err)
		require.True(t, st.At(0).Keyframe)
		require.False(t, st.At(1).Keyframe)
		require.True(t, st.At(2).Keyframe)
	})

	t.Run("bounded by source size", func(t *testing.T) {
		t.Parallel()
		td := base
		_, err := expandTables(&td, 10_240)
		require.NoError(t, err)
		_, err = expandTables(&td, 10_239)
		require.ErrorIs(t, err, ErrInconsistentTables)
	})

	t.Run("variable duration", func(t *testing.T) {
		t.Parallel()
		td := base
		td.TimeToSample = []TimeToSampleEntry{{Count: 2000, Duration: 1}, {Count: 560, Duration: 2}}
		_, err := ExpandTables(&td)
		require.ErrorIs(t, err, ErrUnsupportedSampleLayout)
	})
}

func TestExpandTablesInconsistent(t *testing.T) {
	t.Parallel()
	_, err := ExpandTables(&TrackDescriptor{
		Kind:          media.KindVideo,
		ChunkOffsets:  []uint64{0, 10},
		SampleToChunk: []SampleToChunkEntry{{SamplesPerChunk: 4}},
		TimeToSample:  []TimeToSampleEntry{{Count: 8, Duration: 1}},
		SampleSizes:   []uint32{1, 1, 1},
	})
	require.ErrorIs(t, err, ErrInconsistentTables)
}

func TestExpandTablesDeclaredCount(t *testing.T) {
	t.Parallel()
	td := TrackDescriptor{
		Kind:          media.KindVideo,
		ChunkOffsets:  []uint64{0, 100},
		SampleToChunk: []SampleToChunkEntry{{SamplesPerChunk: 3}},
		TimeToSample:  []TimeToSampleEntry{{Count: 6, Duration: 1}},
		SampleSize:    7,
		SampleCount:   6,
	}
	st, err := ExpandTables(&td)
	require.NoError(t, err)
	require.Equal(t, 6, st.Len())

	td.SampleCount = 5
	_, err = ExpandTables(&td)
	require.ErrorIs(t, err, ErrInconsistentTables)
}

func TestExpandTablesConstantSizeBeyondSource(t *testing.T) {
	t.Parallel()
	td := &TrackDescriptor{
		Kind:          media.KindVideo,
		ChunkOffsets:  []uint64{64},
		SampleToChunk: []SampleToChunkEntry{{SamplesPerChunk: 1 << 26}},
		TimeToSample:  []TimeToSampleEntry{{Count: 1 << 26, Duration: 1}},
		SampleSize:    1,
	}
	_, err := expandTables(td, 591)
	require.ErrorIs(t, err, ErrInconsistentTables)
}

func TestExpandTablesDoesNotMutateDescriptor(t *testing.T) {
	t.Parallel()
	td := &TrackDescriptor{
		Kind:          media.KindVideo,
		ChunkOffsets:  []uint64{0},
		SampleToChunk: []SampleToChunkEntry{{SamplesPerChunk: 2}},
		TimeToSample:  []TimeToSampleEntry{{Count: 2, Duration: 1}},
		SampleSize:    9,
	}
	_, err := ExpandTables(td)
	require.NoError(t, err)
	require.Nil(t, td.SampleSizes)
	require.Equal(t, uint32(9), td.SampleSize)
}
