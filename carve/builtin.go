package carve

import "encoding/binary"

// builtinSignatures is the registry of formats known to appear in console
// builds of the game: Bink video, RIFF-container audio, DDS textures,
// Gamebryo models, script source text, archive index blocks, and the
// compressed frames the installer wraps loose assets in.
//
// Confidence reflects how the extent is derived: exact framing walks and
// checked length fields score high, heuristic extents score low so that a
// collision resolves in favor of the structural claim.
func builtinSignatures() []Signature {
	return []Signature{
		{
			Name:       "bink-video",
			Class:      ClassVideo,
			Magic:      []byte("BIK"),
			Confidence: 0.9,
			// Bink's size field excludes the 8-byte magic+size prefix.
			Extent: LengthFieldExtent(4, 4, binary.LittleEndian, 8, 1<<30),
		},
		{
			Name:       "bink2-video",
			Class:      ClassVideo,
			Magic:      []byte("KB2"),
			Confidence: 0.9,
			Extent:     LengthFieldExtent(4, 4, binary.LittleEndian, 8, 1<<30),
		},
		{
			Name:       "riff-audio",
			Class:      ClassAudio,
			Magic:      []byte("RIFF"),
			Confidence: 0.8,
			// RIFF chunk size excludes the magic and the size field.
			Extent: LengthFieldExtent(4, 4, binary.LittleEndian, 8, 1<<30),
		},
		{
			Name:       "dds-texture",
			Class:      ClassTexture,
			Magic:      []byte("DDS "),
			Confidence: 0.7,
			Extent:     ddsExtent,
		},
		{
			Name:       "gamebryo-model",
			Class:      ClassModel,
			Magic:      []byte("Gamebryo File Format"),
			Confidence: 0.4,
			Extent:     nifExtent,
		},
		{
			Name:       "script-source",
			Class:      ClassScript,
			Magic:      []byte("scn "),
			Confidence: 0.5,
			// Script source lives in memory as NUL-terminated text.
			Extent: TerminatorExtent(0x00, 64<<10),
		},
		{
			Name:       "bsa-archive-index",
			Class:      ClassArchive,
			Magic:      []byte{'B', 'S', 'A', 0x00},
			Confidence: 0.8,
			Extent:     bsaExtent,
		},
		{
			Name:       "zstd-frame",
			Class:      ClassCompressed,
			Magic:      []byte{0x28, 0xB5, 0x2F, 0xFD},
			Confidence: 0.85,
			Extent:     zstdExtent,
		},
		{
			Name:       "lz4-frame",
			Class:      ClassCompressed,
			Magic:      []byte{0x04, 0x22, 0x4D, 0x18},
			Confidence: 0.85,
			Extent:     lz4Extent,
		},
	}
}
