package psopack

import "github.com/gogpu/psopack/serde"

// Wire-format constants. The layout is little-endian throughout:
//
//	archive header
//	chunk table
//	chunk bodies (named-resource tables, debug info, shader segment index)
//	shared data segment (device-independent descriptor records)
//	per-device data segments, in DeviceType order
const (
	headerMagic   uint32 = 0xDE00000A
	headerVersion uint32 = 2

	// invalidOffset marks an absent block base or device slot.
	invalidOffset = ^uint32(0)

	// segmentAlign is the alignment of every chunk body and segment start.
	segmentAlign = 8

	headerSize      = 4 * (3 + deviceTypeCount)
	chunkHeaderSize = 12
	dataHeaderSize  = 4 + 8*deviceTypeCount
)

// ChunkType tags a top-level chunk. At most one chunk of each type may
// appear in an archive.
type ChunkType uint32

const (
	chunkUndefined ChunkType = iota
	ChunkDebugInfo
	ChunkResourceSignatures
	ChunkGraphicsPipelines
	ChunkComputePipelines
	ChunkRayTracingPipelines
	ChunkTilePipelines
	ChunkRenderPasses
	ChunkShaders

	chunkTypeCount
)

// String returns the chunk type name.
func (t ChunkType) String() string {
	switch t {
	case ChunkDebugInfo:
		return "debug_info"
	case ChunkResourceSignatures:
		return "resource_signatures"
	case ChunkGraphicsPipelines:
		return "graphics_pipelines"
	case ChunkComputePipelines:
		return "compute_pipelines"
	case ChunkRayTracingPipelines:
		return "ray_tracing_pipelines"
	case ChunkTilePipelines:
		return "tile_pipelines"
	case ChunkRenderPasses:
		return "render_passes"
	case ChunkShaders:
		return "shaders"
	default:
		return "undefined"
	}
}

// archiveHeader is the fixed-size file header.
type archiveHeader struct {
	Magic            uint32
	Version          uint32
	NumChunks        uint32
	BlockBaseOffsets [deviceTypeCount]uint32
}

func newArchiveHeader() archiveHeader {
	h := archiveHeader{Magic: headerMagic, Version: headerVersion}
	for i := range h.BlockBaseOffsets {
		h.BlockBaseOffsets[i] = invalidOffset
	}
	return h
}

func (h *archiveHeader) serialize(s *serde.Serializer) error {
	if err := s.Uint32(&h.Magic); err != nil {
		return err
	}
	if err := s.Uint32(&h.Version); err != nil {
		return err
	}
	if err := s.Uint32(&h.NumChunks); err != nil {
		return err
	}
	for i := range h.BlockBaseOffsets {
		if err := s.Uint32(&h.BlockBaseOffsets[i]); err != nil {
			return err
		}
	}
	return nil
}

// chunkHeader is one chunk table entry. Offset and Size locate the chunk
// body relative to the start of the file.
type chunkHeader struct {
	Type   ChunkType
	Size   uint32
	Offset uint32
}

func (c *chunkHeader) serialize(s *serde.Serializer) error {
	if err := serde.Enum(s, &c.Type); err != nil {
		return err
	}
	if err := s.Uint32(&c.Size); err != nil {
		return err
	}
	return s.Uint32(&c.Offset)
}

// dataHeader prefixes every shared-data descriptor record. The per-device
// arrays locate the record's device-specific data relative to that device's
// block base; absent slots hold size 0 and invalidOffset.
type dataHeader struct {
	Type   ChunkType
	Size   [deviceTypeCount]uint32
	Offset [deviceTypeCount]uint32
}

func newDataHeader(t ChunkType) dataHeader {
	h := dataHeader{Type: t}
	for i := range h.Offset {
		h.Offset[i] = invalidOffset
	}
	return h
}

// setDeviceData records the location of one device's data.
func (h *dataHeader) setDeviceData(dev DeviceType, offset, size uint32) {
	h.Size[dev] = size
	h.Offset[dev] = offset
}

// deviceData returns the location of one device's data and whether the
// slot is populated.
func (h *dataHeader) deviceData(dev DeviceType) (offset, size uint32, ok bool) {
	if h.Offset[dev] == invalidOffset || h.Size[dev] == 0 {
		return 0, 0, false
	}
	return h.Offset[dev], h.Size[dev], true
}

func (h *dataHeader) serialize(s *serde.Serializer) error {
	if err := serde.Enum(s, &h.Type); err != nil {
		return err
	}
	for i := range h.Size {
		if err := s.Uint32(&h.Size[i]); err != nil {
			return err
		}
	}
	for i := range h.Offset {
		if err := s.Uint32(&h.Offset[i]); err != nil {
			return err
		}
	}
	return nil
}

// offsetAndSize locates one shader record inside a device segment.
type offsetAndSize struct {
	Offset uint32
	Size   uint32
}

func (v *offsetAndSize) serialize(s *serde.Serializer) error {
	if err := s.Uint32(&v.Offset); err != nil {
		return err
	}
	return s.Uint32(&v.Size)
}

// alignUp rounds n up to the next multiple of a. a must be a power of two.
func alignUp(n, a uint32) uint32 { return (n + a - 1) &^ (a - 1) }
