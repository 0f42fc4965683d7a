package psopack

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gogpu/psopack/cache"
	"github.com/gogpu/psopack/serde"
)

// Source is random-access archive input.
type Source interface {
	io.ReaderAt
	Size() int64
}

type bytesSource struct{ p []byte }

// NewBytesSource wraps an in-memory archive.
func NewBytesSource(p []byte) Source { return &bytesSource{p: p} }

func (s *bytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.p)) {
		return 0, fmt.Errorf("%w: read at %d of %d", ErrCorrupt, off, len(s.p))
	}
	n := copy(p, s.p[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *bytesSource) Size() int64 { return int64(len(s.p)) }

type fileSource struct {
	f    *os.File
	size int64
}

// NewFileSource wraps an open archive file. The caller keeps ownership of
// the file and must not close it while the archive is in use.
func NewFileSource(f *os.File) (Source, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &fileSource{f: f, size: st.Size()}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *fileSource) Size() int64                             { return s.size }

// Device creates live engine objects from unpacked descriptors. It is the
// boundary between the archive and a rendering backend; psopack never
// touches the GPU itself.
type Device interface {
	CreateShader(ci *ShaderCreateInfo) (any, error)

	// CreateResourceSignature receives the signature's device-specific
	// blob as stored by the archiver's signature patcher; data is nil
	// when the archive carries none.
	CreateResourceSignature(desc *ResourceSignatureDesc, data []byte) (any, error)

	CreateRenderPass(desc *RenderPassDesc) (any, error)

	CreateGraphicsPipeline(ci *GraphicsPipelineCreateInfo, res *PipelineResources) (any, error)
	CreateComputePipeline(ci *ComputePipelineCreateInfo, res *PipelineResources) (any, error)
	CreateTilePipeline(ci *TilePipelineCreateInfo, res *PipelineResources) (any, error)
	CreateRayTracingPipeline(ci *RayTracingPipelineCreateInfo, res *PipelineResources) (any, error)
}

// PipelineResources hands a Device the live dependencies of a pipeline
// being created: its signatures in binding order, its render pass if it has
// one, and its shaders in the order the create info references them.
type PipelineResources struct {
	Signatures []*Signature
	RenderPass *RenderPass
	Shaders    []*Shader
}

// Signature is an unpacked resource signature. Object is whatever the
// Device returned for it.
type Signature struct {
	Name   string
	Desc   *ResourceSignatureDesc
	Object any
}

// RenderPass is an unpacked render pass.
type RenderPass struct {
	Name   string
	Desc   *RenderPassDesc
	Object any
}

// Pipeline is an unpacked pipeline state object.
type Pipeline struct {
	Name   string
	Type   PipelineType
	Object any
}

// Shader is an unpacked shader. Index is its position in the archive's
// device shader table.
type Shader struct {
	Index      uint32
	Stage      ShaderStage
	EntryPoint string
	Object     any
}

// namedEntry locates one shared-data record, absolute in the file.
type namedEntry struct {
	off  uint32
	size uint32
}

// resourceTable pairs the immutable name index of one chunk with the weak
// cache of objects unpacked from it.
type resourceTable[T any] struct {
	entries map[string]namedEntry
	cache   *cache.Weak[string, T]
}

func newResourceTable[T any]() resourceTable[T] {
	return resourceTable[T]{
		entries: make(map[string]namedEntry),
		cache:   cache.NewWeak[string, T](),
	}
}

// shaderTable is the strong by-index shader cache. Shaders are shared
// across many pipelines of one archive, so they stay alive until
// ClearShaderCache.
type shaderTable struct {
	mu   sync.Mutex
	locs []offsetAndSize // device-segment-relative
	objs []*Shader
}

// Archive reads one pipeline archive for one device type. All Unpack
// methods are safe for concurrent use; objects are cached weakly by name,
// so unpacking a name twice returns the same instance while the caller
// still holds it.
type Archive struct {
	src  Source
	dev  DeviceType
	base uint32 // this device's block base, invalidOffset when absent

	debug        DebugInfo
	signatures   resourceTable[Signature]
	renderPasses resourceTable[RenderPass]
	graphics     resourceTable[Pipeline]
	compute      resourceTable[Pipeline]
	rayTracing   resourceTable[Pipeline]
	tile         resourceTable[Pipeline]
	shaders      shaderTable
}

// Open parses the archive's header, chunk table and name indices. No
// descriptor or shader data is read until an Unpack call needs it.
func Open(src Source, dev DeviceType) (*Archive, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidArgument)
	}
	if !dev.IsValid() {
		return nil, fmt.Errorf("%w: device type %d", ErrInvalidArgument, dev)
	}

	a := &Archive{
		src:          src,
		dev:          dev,
		base:         invalidOffset,
		signatures:   newResourceTable[Signature](),
		renderPasses: newResourceTable[RenderPass](),
		graphics:     newResourceTable[Pipeline](),
		compute:      newResourceTable[Pipeline](),
		rayTracing:   newResourceTable[Pipeline](),
		tile:         newResourceTable[Pipeline](),
	}

	hdrBytes, err := a.readRange(0, headerSize)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	var hdr archiveHeader
	if err := hdr.serialize(serde.NewReader(hdrBytes)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if hdr.Magic != headerMagic {
		return nil, fmt.Errorf("%w: magic %#08x", ErrBadMagic, hdr.Magic)
	}
	if hdr.Version != headerVersion {
		return nil, fmt.Errorf("%w: version %d, reader supports %d", ErrUnsupportedVersion, hdr.Version, headerVersion)
	}
	a.base = hdr.BlockBaseOffsets[dev]
	if a.base != invalidOffset && int64(a.base) > src.Size() {
		return nil, fmt.Errorf("%w: device block base %d beyond end of file", ErrCorrupt, a.base)
	}

	tableBytes, err := a.readRange(headerSize, hdr.NumChunks*chunkHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated chunk table (%d chunks)", ErrCorrupt, hdr.NumChunks)
	}
	tr := serde.NewReader(tableBytes)
	var seen [chunkTypeCount]bool
	for i := uint32(0); i < hdr.NumChunks; i++ {
		var ch chunkHeader
		if err := ch.serialize(tr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if ch.Type == chunkUndefined || ch.Type >= chunkTypeCount {
			return nil, fmt.Errorf("%w: unknown chunk type %d", ErrCorrupt, ch.Type)
		}
		if seen[ch.Type] {
			return nil, fmt.Errorf("%w: duplicate %s chunk", ErrCorrupt, ch.Type)
		}
		seen[ch.Type] = true

		body, err := a.readRange(int64(ch.Offset), ch.Size)
		if err != nil {
			return nil, fmt.Errorf("%w: %s chunk out of bounds", ErrCorrupt, ch.Type)
		}
		if err := a.parseChunk(ch.Type, body); err != nil {
			return nil, err
		}
	}
	logger().Debug("opened archive", "device", dev.String(), "chunks", hdr.NumChunks)
	return a, nil
}

func (a *Archive) parseChunk(typ ChunkType, body []byte) error {
	switch typ {
	case ChunkDebugInfo:
		d, err := decodeDebugInfo(body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		a.debug = d
		return nil
	case ChunkResourceSignatures:
		return a.parseNamedTable(typ, body, a.signatures.entries)
	case ChunkGraphicsPipelines:
		return a.parseNamedTable(typ, body, a.graphics.entries)
	case ChunkComputePipelines:
		return a.parseNamedTable(typ, body, a.compute.entries)
	case ChunkRayTracingPipelines:
		return a.parseNamedTable(typ, body, a.rayTracing.entries)
	case ChunkTilePipelines:
		return a.parseNamedTable(typ, body, a.tile.entries)
	case ChunkRenderPasses:
		return a.parseNamedTable(typ, body, a.renderPasses.entries)
	case ChunkShaders:
		return a.parseShadersChunk(body)
	default:
		return fmt.Errorf("%w: unhandled chunk type %d", ErrCorrupt, typ)
	}
}

// parseNamedTable reads one named-resource chunk body: count, the parallel
// name-length / record-size / record-offset arrays, then the packed names.
func (a *Archive) parseNamedTable(typ ChunkType, body []byte, out map[string]namedEntry) error {
	r := serde.NewReader(body)
	var count uint32
	if err := r.Uint32(&count); err != nil {
		return fmt.Errorf("%w: %s table: %v", ErrCorrupt, typ, err)
	}
	// Each entry needs 12 bytes of arrays plus its name. Bound the count
	// before allocating anything from it.
	if int64(count) > (int64(len(body))-4)/12 {
		return fmt.Errorf("%w: %s table: count %d exceeds chunk size %d", ErrCorrupt, typ, count, len(body))
	}
	nameLens := make([]uint32, count)
	sizes := make([]uint32, count)
	offsets := make([]uint32, count)
	for _, arr := range [][]uint32{nameLens, sizes, offsets} {
		for i := range arr {
			if err := r.Uint32(&arr[i]); err != nil {
				return fmt.Errorf("%w: %s table: %v", ErrCorrupt, typ, err)
			}
		}
	}
	pos := uint32(4 + 12*count)
	for i := uint32(0); i < count; i++ {
		l := nameLens[i]
		if l == 0 || int64(pos)+int64(l) > int64(len(body)) {
			return fmt.Errorf("%w: %s table: name %d out of bounds", ErrCorrupt, typ, i)
		}
		raw := body[pos : pos+l]
		if raw[l-1] != 0 {
			return fmt.Errorf("%w: %s table: name %d not NUL-terminated", ErrCorrupt, typ, i)
		}
		name := string(raw[:l-1])
		pos += l
		if name == "" {
			return fmt.Errorf("%w: %s table: empty name", ErrCorrupt, typ)
		}
		if _, dup := out[name]; dup {
			return fmt.Errorf("%w: %s table: duplicate name %q", ErrCorrupt, typ, name)
		}
		if int64(offsets[i])+int64(sizes[i]) > a.src.Size() {
			return fmt.Errorf("%w: %s record %q out of bounds", ErrCorrupt, typ, name)
		}
		out[name] = namedEntry{off: offsets[i], size: sizes[i]}
	}
	return nil
}

// parseShadersChunk reads the shader chunk's data header and, if the
// archive carries shaders for this device, the index array from the device
// segment.
func (a *Archive) parseShadersChunk(body []byte) error {
	var hdr dataHeader
	if err := hdr.serialize(serde.NewReader(body)); err != nil {
		return fmt.Errorf("%w: shaders chunk: %v", ErrCorrupt, err)
	}
	if hdr.Type != ChunkShaders {
		return fmt.Errorf("%w: shaders chunk tagged %s", ErrCorrupt, hdr.Type)
	}
	off, size, ok := hdr.deviceData(a.dev)
	if !ok {
		return nil
	}
	if a.base == invalidOffset {
		return fmt.Errorf("%w: shader index without device block", ErrCorrupt)
	}
	if size%8 != 0 {
		return fmt.Errorf("%w: shader index size %d", ErrCorrupt, size)
	}
	idx, err := a.readRange(int64(a.base)+int64(off), size)
	if err != nil {
		return fmt.Errorf("%w: shader index out of bounds", ErrCorrupt)
	}
	r := serde.NewReader(idx)
	locs := make([]offsetAndSize, size/8)
	for i := range locs {
		if err := locs[i].serialize(r); err != nil {
			return fmt.Errorf("%w: shader index: %v", ErrCorrupt, err)
		}
		end := int64(a.base) + int64(locs[i].Offset) + int64(locs[i].Size)
		if end > a.src.Size() {
			return fmt.Errorf("%w: shader %d out of bounds", ErrCorrupt, i)
		}
	}
	a.shaders.locs = locs
	a.shaders.objs = make([]*Shader, len(locs))
	return nil
}

// readRange takes the offset as int64 so that block-relative sums computed
// by the callers cannot wrap around uint32 on corrupt input.
func (a *Archive) readRange(off int64, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if off+int64(size) > a.src.Size() {
		return nil, fmt.Errorf("%w: range %d+%d beyond end of file", ErrCorrupt, off, size)
	}
	p := make([]byte, size)
	if _, err := a.src.ReadAt(p, off); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return p, nil
}

// DebugInfo returns the archive's provenance record, if any.
func (a *Archive) DebugInfo() DebugInfo { return a.debug }

// DeviceType returns the device type the archive was opened for.
func (a *Archive) DeviceType() DeviceType { return a.dev }

// SignatureNames returns the names of all stored resource signatures.
func (a *Archive) SignatureNames() []string { return tableNames(a.signatures.entries) }

// RenderPassNames returns the names of all stored render passes.
func (a *Archive) RenderPassNames() []string { return tableNames(a.renderPasses.entries) }

// PipelineNames returns the names of all stored pipelines of one type.
// Mesh pipelines are listed under PipelineTypeGraphics.
func (a *Archive) PipelineNames(t PipelineType) []string {
	tab := a.pipelineTable(t)
	if tab == nil {
		return nil
	}
	return tableNames(tab.entries)
}

func tableNames(m map[string]namedEntry) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	return names
}

func (a *Archive) pipelineTable(t PipelineType) *resourceTable[Pipeline] {
	switch t {
	case PipelineTypeGraphics, PipelineTypeMesh:
		return &a.graphics
	case PipelineTypeCompute:
		return &a.compute
	case PipelineTypeRayTracing:
		return &a.rayTracing
	case PipelineTypeTile:
		return &a.tile
	default:
		return nil
	}
}

// loadRecord reads one shared-data record and returns its data header and
// descriptor bytes. Render pass records carry a bare type tag instead of a
// full header.
func (a *Archive) loadRecord(typ ChunkType, entries map[string]namedEntry, name string) (dataHeader, []byte, error) {
	entry, ok := entries[name]
	if !ok {
		return dataHeader{}, nil, fmt.Errorf("%w: %s %q", ErrNotFound, typ, name)
	}
	raw, err := a.readRange(int64(entry.off), entry.size)
	if err != nil {
		return dataHeader{}, nil, err
	}
	if typ == ChunkRenderPasses {
		if len(raw) < 4 {
			return dataHeader{}, nil, fmt.Errorf("%w: render pass %q record too small", ErrCorrupt, name)
		}
		hdr := newDataHeader(chunkUndefined)
		if err := serde.Enum(serde.NewReader(raw[:4]), &hdr.Type); err != nil {
			return dataHeader{}, nil, err
		}
		if hdr.Type != ChunkRenderPasses {
			return dataHeader{}, nil, fmt.Errorf("%w: render pass %q tagged %s", ErrCorrupt, name, hdr.Type)
		}
		return hdr, raw[4:], nil
	}
	if len(raw) < dataHeaderSize {
		return dataHeader{}, nil, fmt.Errorf("%w: %s %q record too small", ErrCorrupt, typ, name)
	}
	var hdr dataHeader
	if err := hdr.serialize(serde.NewReader(raw[:dataHeaderSize])); err != nil {
		return dataHeader{}, nil, err
	}
	if hdr.Type != typ {
		return dataHeader{}, nil, fmt.Errorf("%w: %s %q tagged %s", ErrCorrupt, typ, name, hdr.Type)
	}
	return hdr, raw[dataHeaderSize:], nil
}

// deviceBlob reads this device's data for one record. Offsets in the data
// header are relative to this device's own block, so no cross-device
// fallback is attempted here; the writer already stores the Metal-iOS
// signature blob into the Metal-macOS block when both are requested.
func (a *Archive) deviceBlob(hdr *dataHeader) ([]byte, bool, error) {
	off, size, ok := hdr.deviceData(a.dev)
	if !ok {
		return nil, false, nil
	}
	if a.base == invalidOffset {
		return nil, false, fmt.Errorf("%w: record has device data but archive has no %s block", ErrCorrupt, a.dev)
	}
	p, err := a.readRange(int64(a.base)+int64(off), size)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// UnpackResourceSignature recreates one resource signature through dev.
func (a *Archive) UnpackResourceSignature(name string, dev Device) (*Signature, error) {
	if sig, ok := a.signatures.cache.Get(name); ok {
		return sig, nil
	}
	hdr, body, err := a.loadRecord(ChunkResourceSignatures, a.signatures.entries, name)
	if err != nil {
		return nil, err
	}
	desc := &ResourceSignatureDesc{Name: name}
	r := serde.NewReader(body)
	if err := serializeSignatureDesc(r, desc); err != nil {
		return nil, fmt.Errorf("%w: signature %q: %v", ErrCorrupt, name, err)
	}
	data, _, err := a.deviceBlob(&hdr)
	if err != nil {
		return nil, err
	}
	obj, err := dev.CreateResourceSignature(desc, data)
	if err != nil {
		return nil, fmt.Errorf("psopack: create signature %q: %w", name, err)
	}
	return a.signatures.cache.Insert(name, &Signature{Name: name, Desc: desc, Object: obj}), nil
}

// UnpackRenderPass recreates one render pass through dev. A non-nil
// override with active flags is applied to the descriptor before creation;
// overridden objects bypass the cache.
func (a *Archive) UnpackRenderPass(name string, dev Device, ov *RenderPassOverrides) (*RenderPass, error) {
	cached := !ov.active()
	if cached {
		if rp, ok := a.renderPasses.cache.Get(name); ok {
			return rp, nil
		}
	}
	_, body, err := a.loadRecord(ChunkRenderPasses, a.renderPasses.entries, name)
	if err != nil {
		return nil, err
	}
	desc := &RenderPassDesc{Name: name}
	if err := serializeRenderPassDesc(serde.NewReader(body), desc); err != nil {
		return nil, fmt.Errorf("%w: render pass %q: %v", ErrCorrupt, name, err)
	}
	if err := ov.apply(desc); err != nil {
		return nil, err
	}
	obj, err := dev.CreateRenderPass(desc)
	if err != nil {
		return nil, fmt.Errorf("psopack: create render pass %q: %w", name, err)
	}
	rp := &RenderPass{Name: name, Desc: desc, Object: obj}
	if !cached {
		return rp, nil
	}
	return a.renderPasses.cache.Insert(name, rp), nil
}

// loadShader returns the shader at idx in the device shader table, creating
// it through dev on first use. The lock is never held across I/O or object
// creation, so two racing callers may both build the shader; the first
// store wins.
func (a *Archive) loadShader(idx uint32, dev Device) (*Shader, error) {
	t := &a.shaders
	t.mu.Lock()
	if int(idx) >= len(t.locs) {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: shader index %d of %d", ErrCorrupt, idx, len(t.locs))
	}
	if sh := t.objs[idx]; sh != nil {
		t.mu.Unlock()
		return sh, nil
	}
	loc := t.locs[idx]
	t.mu.Unlock()

	data, err := a.readRange(int64(a.base)+int64(loc.Offset), loc.Size)
	if err != nil {
		return nil, err
	}
	var cs CompiledShader
	if err := serializeCompiledShader(serde.NewReader(data), &cs); err != nil {
		return nil, fmt.Errorf("%w: shader %d: %v", ErrCorrupt, idx, err)
	}
	obj, err := dev.CreateShader(cs.createInfo())
	if err != nil {
		return nil, fmt.Errorf("psopack: create shader %d (%s): %w", idx, cs.Stage, err)
	}
	sh := &Shader{Index: idx, Stage: cs.Stage, EntryPoint: cs.EntryPoint, Object: obj}

	t.mu.Lock()
	if cur := t.objs[idx]; cur != nil {
		sh = cur
	} else {
		t.objs[idx] = sh
	}
	t.mu.Unlock()
	return sh, nil
}

func (a *Archive) loadShaderList(hdr *dataHeader, dev Device, name string) ([]*Shader, error) {
	blob, ok, err := a.deviceBlob(hdr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %q, device %s", ErrNoDeviceData, name, a.dev)
	}
	var indices []uint32
	if err := serializeShaderIndices(serde.NewReader(blob), &indices); err != nil {
		return nil, fmt.Errorf("%w: pipeline %q shader list: %v", ErrCorrupt, name, err)
	}
	shaders := make([]*Shader, len(indices))
	for i, idx := range indices {
		if shaders[i], err = a.loadShader(idx, dev); err != nil {
			return nil, err
		}
	}
	return shaders, nil
}

// ClearShaderCache drops the strong references to all shaders unpacked so
// far. Pipelines already created keep whatever references their Device
// gave them.
func (a *Archive) ClearShaderCache() {
	a.shaders.mu.Lock()
	a.shaders.objs = make([]*Shader, len(a.shaders.locs))
	a.shaders.mu.Unlock()
}

// unpackSignatures resolves a pipeline's signatures in stored order.
func (a *Archive) unpackSignatures(names []string, dev Device) ([]*Signature, []*ResourceSignatureDesc, error) {
	if len(names) == 0 {
		return nil, nil, nil
	}
	sigs := make([]*Signature, len(names))
	descs := make([]*ResourceSignatureDesc, len(names))
	for i, n := range names {
		sig, err := a.UnpackResourceSignature(n, dev)
		if err != nil {
			return nil, nil, err
		}
		sigs[i] = sig
		descs[i] = sig.Desc
	}
	return sigs, descs, nil
}

// UnpackGraphicsPipeline recreates one graphics or mesh pipeline through
// dev, resolving its signatures, render pass and shaders first. A non-nil
// override with active flags is applied to the create info before
// creation; overridden objects bypass the cache.
func (a *Archive) UnpackGraphicsPipeline(name string, dev Device, ov *GraphicsPipelineOverrides) (*Pipeline, error) {
	cached := !ov.active()
	if cached {
		if p, ok := a.graphics.cache.Get(name); ok {
			return p, nil
		}
	}
	hdr, body, err := a.loadRecord(ChunkGraphicsPipelines, a.graphics.entries, name)
	if err != nil {
		return nil, err
	}
	ci := &GraphicsPipelineCreateInfo{}
	ci.Name = name
	var pt PipelineType
	var prsNames []string
	var rpName string
	if err := serializeGraphicsPipeline(serde.NewReader(body), &pt, ci, &prsNames, &rpName); err != nil {
		return nil, fmt.Errorf("%w: pipeline %q: %v", ErrCorrupt, name, err)
	}
	if pt != PipelineTypeGraphics && pt != PipelineTypeMesh {
		return nil, fmt.Errorf("%w: pipeline %q stored as %s in graphics chunk", ErrCorrupt, name, pt)
	}

	res := &PipelineResources{}
	if res.Signatures, ci.Signatures, err = a.unpackSignatures(prsNames, dev); err != nil {
		return nil, err
	}
	if rpName != "" {
		rp, err := a.UnpackRenderPass(rpName, dev, nil)
		if err != nil {
			return nil, err
		}
		res.RenderPass = rp
		ci.GraphicsPipeline.RenderPass = rp.Desc
	}
	if res.Shaders, err = a.loadShaderList(&hdr, dev, name); err != nil {
		return nil, err
	}
	if err := ov.apply(ci); err != nil {
		return nil, err
	}

	obj, err := dev.CreateGraphicsPipeline(ci, res)
	if err != nil {
		return nil, fmt.Errorf("psopack: create pipeline %q: %w", name, err)
	}
	p := &Pipeline{Name: ci.Name, Type: pt, Object: obj}
	if !cached {
		return p, nil
	}
	return a.graphics.cache.Insert(name, p), nil
}

// UnpackComputePipeline recreates one compute pipeline through dev.
func (a *Archive) UnpackComputePipeline(name string, dev Device) (*Pipeline, error) {
	if p, ok := a.compute.cache.Get(name); ok {
		return p, nil
	}
	hdr, body, err := a.loadRecord(ChunkComputePipelines, a.compute.entries, name)
	if err != nil {
		return nil, err
	}
	ci := &ComputePipelineCreateInfo{}
	ci.Name = name
	var pt PipelineType
	var prsNames []string
	if err := serializeComputePipeline(serde.NewReader(body), &pt, ci, &prsNames); err != nil {
		return nil, fmt.Errorf("%w: pipeline %q: %v", ErrCorrupt, name, err)
	}
	if pt != PipelineTypeCompute {
		return nil, fmt.Errorf("%w: pipeline %q stored as %s in compute chunk", ErrCorrupt, name, pt)
	}
	res := &PipelineResources{}
	if res.Signatures, ci.Signatures, err = a.unpackSignatures(prsNames, dev); err != nil {
		return nil, err
	}
	if res.Shaders, err = a.loadShaderList(&hdr, dev, name); err != nil {
		return nil, err
	}
	obj, err := dev.CreateComputePipeline(ci, res)
	if err != nil {
		return nil, fmt.Errorf("psopack: create pipeline %q: %w", name, err)
	}
	return a.compute.cache.Insert(name, &Pipeline{Name: name, Type: pt, Object: obj}), nil
}

// UnpackTilePipeline recreates one tile pipeline through dev. A non-nil
// override with active flags is applied first; overridden objects bypass
// the cache.
func (a *Archive) UnpackTilePipeline(name string, dev Device, ov *TilePipelineOverrides) (*Pipeline, error) {
	cached := !ov.active()
	if cached {
		if p, ok := a.tile.cache.Get(name); ok {
			return p, nil
		}
	}
	hdr, body, err := a.loadRecord(ChunkTilePipelines, a.tile.entries, name)
	if err != nil {
		return nil, err
	}
	ci := &TilePipelineCreateInfo{}
	ci.Name = name
	var pt PipelineType
	var prsNames []string
	if err := serializeTilePipeline(serde.NewReader(body), &pt, ci, &prsNames); err != nil {
		return nil, fmt.Errorf("%w: pipeline %q: %v", ErrCorrupt, name, err)
	}
	if pt != PipelineTypeTile {
		return nil, fmt.Errorf("%w: pipeline %q stored as %s in tile chunk", ErrCorrupt, name, pt)
	}
	res := &PipelineResources{}
	if res.Signatures, ci.Signatures, err = a.unpackSignatures(prsNames, dev); err != nil {
		return nil, err
	}
	if res.Shaders, err = a.loadShaderList(&hdr, dev, name); err != nil {
		return nil, err
	}
	if err := ov.apply(ci); err != nil {
		return nil, err
	}
	obj, err := dev.CreateTilePipeline(ci, res)
	if err != nil {
		return nil, fmt.Errorf("psopack: create pipeline %q: %w", name, err)
	}
	p := &Pipeline{Name: ci.Name, Type: pt, Object: obj}
	if !cached {
		return p, nil
	}
	return a.tile.cache.Insert(name, p), nil
}

// UnpackRayTracingPipeline recreates one ray-tracing pipeline through dev.
// Shader group slots stored as indices are resolved to live shaders before
// the create info is handed to the device.
func (a *Archive) UnpackRayTracingPipeline(name string, dev Device) (*Pipeline, error) {
	if p, ok := a.rayTracing.cache.Get(name); ok {
		return p, nil
	}
	hdr, body, err := a.loadRecord(ChunkRayTracingPipelines, a.rayTracing.entries, name)
	if err != nil {
		return nil, err
	}
	ci := &RayTracingPipelineCreateInfo{}
	ci.Name = name
	var pt PipelineType
	var prsNames []string
	if err := serializeRayTracingPipeline(serde.NewReader(body), &pt, ci, &prsNames, nil); err != nil {
		return nil, fmt.Errorf("%w: pipeline %q: %v", ErrCorrupt, name, err)
	}
	if pt != PipelineTypeRayTracing {
		return nil, fmt.Errorf("%w: pipeline %q stored as %s in ray-tracing chunk", ErrCorrupt, name, pt)
	}
	res := &PipelineResources{}
	if res.Signatures, ci.Signatures, err = a.unpackSignatures(prsNames, dev); err != nil {
		return nil, err
	}
	if res.Shaders, err = a.loadShaderList(&hdr, dev, name); err != nil {
		return nil, err
	}
	// Resolve group slots: a stored slot indexes the pipeline's shader
	// list, which loadShaderList materialized in the same order.
	for _, ref := range ci.shaderRefs() {
		if ref.index == invalidShaderIndex {
			continue
		}
		if int(ref.index) >= len(res.Shaders) {
			return nil, fmt.Errorf("%w: pipeline %q: group shader index %d of %d",
				ErrCorrupt, name, ref.index, len(res.Shaders))
		}
		ref.Shader = res.Shaders[ref.index]
	}
	obj, err := dev.CreateRayTracingPipeline(ci, res)
	if err != nil {
		return nil, fmt.Errorf("psopack: create pipeline %q: %w", name, err)
	}
	return a.rayTracing.cache.Insert(name, &Pipeline{Name: name, Type: pt, Object: obj}), nil
}
