package psopack

import (
	"fmt"
	"io"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/gogpu/psopack/membuf"
	"github.com/gogpu/psopack/serde"
)

// SignaturePatcher produces the device-specific blob stored next to a
// resource signature's descriptor, e.g. a backend's serialized binding
// tables. A nil blob stores no device data for the signature.
type SignaturePatcher func(dev DeviceType, desc *ResourceSignatureDesc) ([]byte, error)

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithPatcher installs a shader patcher for one device type. Devices
// without a patcher store shader payloads as provided.
func WithPatcher(dev DeviceType, p Patcher) ArchiverOption {
	return func(a *Archiver) { a.patchers[dev] = p }
}

// WithSignaturePatcher installs a signature patcher for one device type.
func WithSignaturePatcher(dev DeviceType, p SignaturePatcher) ArchiverOption {
	return func(a *Archiver) { a.sigPatchers[dev] = p }
}

// WithDebugInfo sets the provenance record stored in the archive.
func WithDebugInfo(d DebugInfo) ArchiverOption {
	return func(a *Archiver) { a.debug = d }
}

type signatureRecord struct {
	desc      *ResourceSignatureDesc
	shared    []byte
	devices   DeviceFlags
	perDevice [deviceTypeCount][]byte
}

type renderPassRecord struct {
	desc   *RenderPassDesc
	shared []byte
}

type pipelineRecord struct {
	identity  any
	shared    []byte
	devices   DeviceFlags
	perDevice [deviceTypeCount][]byte // serialized shader index lists
}

// Archiver accumulates pipeline state objects and their dependencies and
// lays them out into a single archive. Adding the same object twice is a
// no-op; re-adding it with device flags the earlier calls did not cover
// stores the additional devices' data. Adding a different object under a
// taken name fails. Safe for concurrent use.
type Archiver struct {
	mu sync.Mutex

	supported   DeviceFlags
	patchers    map[DeviceType]Patcher
	sigPatchers map[DeviceType]SignaturePatcher
	debug       DebugInfo

	signatures   map[string]*signatureRecord
	renderPasses map[string]*renderPassRecord
	pipelines    map[ChunkType]map[string]*pipelineRecord
	shaders      [deviceTypeCount]dedupTable
}

// NewArchiver creates an archiver that accepts data for the device types in
// supported.
func NewArchiver(supported DeviceFlags, opts ...ArchiverOption) (*Archiver, error) {
	if supported == 0 || supported&^DeviceFlagsAll != 0 {
		return nil, fmt.Errorf("%w: device flags %#x", ErrInvalidArgument, uint32(supported))
	}
	a := &Archiver{
		supported:    supported,
		patchers:     make(map[DeviceType]Patcher),
		sigPatchers:  make(map[DeviceType]SignaturePatcher),
		signatures:   make(map[string]*signatureRecord),
		renderPasses: make(map[string]*renderPassRecord),
		pipelines:    make(map[ChunkType]map[string]*pipelineRecord),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Archiver) patcher(dev DeviceType) Patcher {
	if p, ok := a.patchers[dev]; ok {
		return p
	}
	return PassthroughPatcher
}

func (a *Archiver) checkFlags(flags DeviceFlags) error {
	if flags == 0 {
		return fmt.Errorf("%w: no device flags", ErrInvalidArgument)
	}
	if unsupported := flags &^ a.supported; unsupported != 0 {
		return fmt.Errorf("%w: device flags %#x not enabled for this archiver", ErrInvalidArgument, uint32(unsupported))
	}
	return nil
}

// buildSignatureRecord serializes desc and collects its per-device blobs.
// Metal-macOS never gets its own blob: the Metal-iOS blob is stored in the
// macOS slot, so both Metal targets always read identical signature data.
func (a *Archiver) buildSignatureRecord(desc *ResourceSignatureDesc, flags DeviceFlags) (*signatureRecord, error) {
	shared, err := measureAndWrite(func(s *serde.Serializer) error {
		return serializeSignatureDesc(s, desc)
	})
	if err != nil {
		return nil, fmt.Errorf("signature %q: %w", desc.Name, err)
	}
	rec := &signatureRecord{desc: desc, shared: shared, devices: flags}
	for dev := DeviceType(0); dev < deviceTypeCount; dev++ {
		if dev == DeviceMetalIOS || dev == DeviceMetalMacOS || !flags.Has(dev) {
			continue
		}
		p := a.sigPatchers[dev]
		if p == nil {
			continue
		}
		data, err := p(dev, desc)
		if err != nil {
			return nil, fmt.Errorf("signature %q: device %s: %w", desc.Name, dev, err)
		}
		rec.perDevice[dev] = data
	}
	if flags&(DeviceFlagMetalIOS|DeviceFlagMetalMacOS) != 0 {
		if p := a.sigPatchers[DeviceMetalIOS]; p != nil {
			data, err := p(DeviceMetalIOS, desc)
			if err != nil {
				return nil, fmt.Errorf("signature %q: device %s: %w", desc.Name, DeviceMetalIOS, err)
			}
			if flags.Has(DeviceMetalIOS) {
				rec.perDevice[DeviceMetalIOS] = data
			}
			if flags.Has(DeviceMetalMacOS) {
				rec.perDevice[DeviceMetalMacOS] = data
			}
		}
	}
	return rec, nil
}

// stageSignature validates desc against the stored and staged sets and
// stages the per-device data the commit step needs. For an identical
// signature only the devices without stored data are built; nothing left
// to build is not an error.
func (a *Archiver) stageSignature(desc *ResourceSignatureDesc, flags DeviceFlags, staged map[string]*signatureRecord) error {
	if desc == nil {
		return fmt.Errorf("%w: nil signature", ErrInvalidArgument)
	}
	if desc.Name == "" {
		return fmt.Errorf("%w: signature name is empty", ErrInvalidArgument)
	}
	if existing := a.signatures[desc.Name]; existing != nil {
		if !reflect.DeepEqual(existing.desc, desc) {
			return fmt.Errorf("%w: signature %q", ErrDuplicateName, desc.Name)
		}
		flags &^= existing.devices
	}
	st := staged[desc.Name]
	if st != nil {
		if !reflect.DeepEqual(st.desc, desc) {
			return fmt.Errorf("%w: signature %q", ErrDuplicateName, desc.Name)
		}
		flags &^= st.devices
	}
	if flags == 0 {
		return nil
	}
	rec, err := a.buildSignatureRecord(desc, flags)
	if err != nil {
		return err
	}
	if st == nil {
		staged[desc.Name] = rec
		return nil
	}
	for dev, data := range rec.perDevice {
		if data != nil {
			st.perDevice[dev] = data
		}
	}
	st.devices |= rec.devices
	return nil
}

// commitSignatures merges staged records into the stored set. New names
// are inserted whole; for known names only the freshly built per-device
// data moves over.
func (a *Archiver) commitSignatures(staged map[string]*signatureRecord) {
	for name, rec := range staged {
		cur := a.signatures[name]
		if cur == nil {
			a.signatures[name] = rec
			continue
		}
		for dev, data := range rec.perDevice {
			if data != nil {
				cur.perDevice[dev] = data
			}
		}
		cur.devices |= rec.devices
	}
}

// AddResourceSignature stores a standalone resource signature for the
// devices in flags. Re-adding an identical signature extends it to any
// devices it was not stored for yet.
func (a *Archiver) AddResourceSignature(desc *ResourceSignatureDesc, flags DeviceFlags) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkFlags(flags); err != nil {
		return err
	}
	staged := make(map[string]*signatureRecord)
	if err := a.stageSignature(desc, flags, staged); err != nil {
		return err
	}
	a.commitSignatures(staged)
	return nil
}

// AddRenderPass stores a render pass. Render passes carry no per-device
// data.
func (a *Archiver) AddRenderPass(desc *RenderPassDesc) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, err := a.stageRenderPass(desc)
	if err != nil || rec == nil {
		return err
	}
	a.renderPasses[desc.Name] = rec
	return nil
}

func (a *Archiver) stageRenderPass(desc *RenderPassDesc) (*renderPassRecord, error) {
	if desc == nil {
		return nil, fmt.Errorf("%w: nil render pass", ErrInvalidArgument)
	}
	if desc.Name == "" {
		return nil, fmt.Errorf("%w: render pass name is empty", ErrInvalidArgument)
	}
	if existing := a.renderPasses[desc.Name]; existing != nil {
		if !reflect.DeepEqual(existing.desc, desc) {
			return nil, fmt.Errorf("%w: render pass %q", ErrDuplicateName, desc.Name)
		}
		return nil, nil
	}
	shared, err := measureAndWrite(func(s *serde.Serializer) error {
		return serializeRenderPassDesc(s, desc)
	})
	if err != nil {
		return nil, fmt.Errorf("render pass %q: %w", desc.Name, err)
	}
	return &renderPassRecord{desc: desc, shared: shared}, nil
}

// defaultSignatureDesc derives the signature an implicit resource layout
// stands for. Resource types are not recoverable from a layout alone and
// are stored as unknown; the backend resolves them against shader
// reflection at creation time.
func defaultSignatureDesc(name string, layout *PipelineResourceLayoutDesc) *ResourceSignatureDesc {
	d := &ResourceSignatureDesc{Name: name}
	for _, v := range layout.Variables {
		d.Resources = append(d.Resources, PipelineResourceDesc{
			Name:         v.Name,
			Stages:       v.Stages,
			ArraySize:    1,
			Type:         ResourceTypeUnknown,
			VariableType: v.Type,
			Flags:        v.Flags,
		})
	}
	d.ImmutableSamplers = append([]ImmutableSamplerDesc(nil), layout.ImmutableSamplers...)
	return d
}

// defaultSignatureName returns a free name for a pipeline's implicit
// signature, suffixing a counter on collision with a non-identical
// signature.
func (a *Archiver) defaultSignatureName(psoName string, want *ResourceSignatureDesc) string {
	base := fmt.Sprintf("Default Signature of PSO '%s'", psoName)
	name := base
	for i := 1; ; i++ {
		existing := a.signatures[name]
		if existing == nil {
			return name
		}
		want.Name = name
		if reflect.DeepEqual(existing.desc, want) {
			return name
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
}

func (a *Archiver) pipelineMap(chunk ChunkType) map[string]*pipelineRecord {
	m := a.pipelines[chunk]
	if m == nil {
		m = make(map[string]*pipelineRecord)
		a.pipelines[chunk] = m
	}
	return m
}

// addPipeline runs the kind-independent store flow: validate, resolve
// signatures, patch shaders per device, serialize, then commit everything
// at once. Re-adding identical content narrows to the devices without
// stored data. A failing call leaves the archiver unchanged.
func (a *Archiver) addPipeline(
	chunk ChunkType,
	ci *PipelineStateCreateInfo,
	flags DeviceFlags,
	identity any,
	shaders []ShaderCreateInfo,
	rp *RenderPassDesc,
	buildShared func(prsNames []string) ([]byte, error),
) error {
	if ci.Name == "" {
		return fmt.Errorf("%w: pipeline name is empty", ErrInvalidArgument)
	}
	if err := a.checkFlags(flags); err != nil {
		return fmt.Errorf("pipeline %q: %w", ci.Name, err)
	}

	m := a.pipelineMap(chunk)
	existing := m[ci.Name]
	if existing != nil {
		if !reflect.DeepEqual(existing.identity, identity) {
			return fmt.Errorf("%w: %s pipeline %q", ErrDuplicateName, chunk, ci.Name)
		}
		flags &^= existing.devices
		if flags == 0 {
			return nil
		}
	}

	// Resolve the signature set. An empty set means the implicit layout,
	// for which a default signature is synthesized and stored.
	sigs := ci.Signatures
	if len(sigs) == 0 {
		d := defaultSignatureDesc("", &ci.ResourceLayout)
		d.Name = a.defaultSignatureName(ci.Name, d)
		sigs = []*ResourceSignatureDesc{d}
	}
	if len(sigs) > MaxResourceSignatures {
		return fmt.Errorf("%w: pipeline %q uses %d signatures, limit is %d",
			ErrInvalidArgument, ci.Name, len(sigs), MaxResourceSignatures)
	}
	stagedSigs := make(map[string]*signatureRecord)
	prsNames := make([]string, len(sigs))
	usedSlots := [MaxResourceSignatures]bool{}
	for i, sig := range sigs {
		if err := a.stageSignature(sig, flags, stagedSigs); err != nil {
			return fmt.Errorf("pipeline %q: %w", ci.Name, err)
		}
		if sig.BindingIndex >= MaxResourceSignatures {
			return fmt.Errorf("%w: pipeline %q: signature %q binding index %d out of range",
				ErrInvalidArgument, ci.Name, sig.Name, sig.BindingIndex)
		}
		if usedSlots[sig.BindingIndex] {
			return fmt.Errorf("%w: pipeline %q: duplicate signature binding index %d",
				ErrInvalidArgument, ci.Name, sig.BindingIndex)
		}
		usedSlots[sig.BindingIndex] = true
		prsNames[i] = sig.Name
	}

	var stagedRP *renderPassRecord
	if rp != nil {
		var err error
		if stagedRP, err = a.stageRenderPass(rp); err != nil {
			return fmt.Errorf("pipeline %q: %w", ci.Name, err)
		}
	}

	// Patch and serialize shaders for every requested device. Nothing is
	// committed yet: a failing patcher must not leave orphan records.
	var compiled [deviceTypeCount][][]byte
	for dev := DeviceType(0); dev < deviceTypeCount; dev++ {
		if !flags.Has(dev) {
			continue
		}
		recs, err := a.patcher(dev)(dev, shaders)
		if err != nil {
			return fmt.Errorf("pipeline %q: device %s: %w", ci.Name, dev, err)
		}
		if len(recs) != len(shaders) {
			return fmt.Errorf("%w: pipeline %q: device %s patcher returned %d records for %d shaders",
				ErrInvalidArgument, ci.Name, dev, len(recs), len(shaders))
		}
		blobs := make([][]byte, len(recs))
		for i := range recs {
			blob, err := measureAndWrite(func(s *serde.Serializer) error {
				return serializeCompiledShader(s, &recs[i])
			})
			if err != nil {
				return fmt.Errorf("pipeline %q: %w", ci.Name, err)
			}
			blobs[i] = blob
		}
		compiled[dev] = blobs
	}

	shared, err := buildShared(prsNames)
	if err != nil {
		return fmt.Errorf("pipeline %q: %w", ci.Name, err)
	}

	// Commit.
	a.commitSignatures(stagedSigs)
	if stagedRP != nil {
		a.renderPasses[rp.Name] = stagedRP
	}
	rec := existing
	if rec == nil {
		rec = &pipelineRecord{identity: identity, shared: shared}
	}
	for dev := DeviceType(0); dev < deviceTypeCount; dev++ {
		if compiled[dev] == nil {
			continue
		}
		indices := make([]uint32, len(compiled[dev]))
		for i, blob := range compiled[dev] {
			indices[i] = a.shaders[dev].addOrFind(blob)
		}
		idxBlob, err := measureAndWrite(func(s *serde.Serializer) error {
			return serializeShaderIndices(s, &indices)
		})
		if err != nil {
			return fmt.Errorf("pipeline %q: %w", ci.Name, err)
		}
		rec.perDevice[dev] = idxBlob
	}
	rec.devices |= flags
	if existing == nil {
		m[ci.Name] = rec
	}
	logger().Debug("archived pipeline", "kind", chunk.String(), "name", ci.Name, "shaders", len(shaders))
	return nil
}

// AddGraphicsPipeline stores a graphics or mesh pipeline for the devices in
// flags. The pipeline's render pass, signatures and shaders are stored with
// it.
func (a *Archiver) AddGraphicsPipeline(ci *GraphicsPipelineCreateInfo, flags DeviceFlags) error {
	if ci == nil {
		return fmt.Errorf("%w: nil create info", ErrInvalidArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if ci.VS == nil && ci.MS == nil {
		return fmt.Errorf("%w: graphics pipeline %q has neither vertex nor mesh shader", ErrInvalidArgument, ci.Name)
	}
	if ci.VS != nil && ci.MS != nil {
		return fmt.Errorf("%w: graphics pipeline %q mixes vertex and mesh shaders", ErrInvalidArgument, ci.Name)
	}
	if int(ci.GraphicsPipeline.NumRenderTargets) > MaxRenderTargets {
		return fmt.Errorf("%w: graphics pipeline %q declares %d render targets",
			ErrInvalidArgument, ci.Name, ci.GraphicsPipeline.NumRenderTargets)
	}
	rp := ci.GraphicsPipeline.RenderPass
	rpName := ""
	if rp != nil {
		rpName = rp.Name
	}
	pt := ci.pipelineType()
	snapshot := *ci
	return a.addPipeline(ChunkGraphicsPipelines, &ci.PipelineStateCreateInfo, flags, snapshot, ci.shaders(), rp,
		func(prsNames []string) ([]byte, error) {
			return measureAndWrite(func(s *serde.Serializer) error {
				return serializeGraphicsPipeline(s, &pt, ci, &prsNames, &rpName)
			})
		})
}

// AddComputePipeline stores a compute pipeline for the devices in flags.
func (a *Archiver) AddComputePipeline(ci *ComputePipelineCreateInfo, flags DeviceFlags) error {
	if ci == nil {
		return fmt.Errorf("%w: nil create info", ErrInvalidArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if ci.CS == nil {
		return fmt.Errorf("%w: compute pipeline %q has no compute shader", ErrInvalidArgument, ci.Name)
	}
	pt := PipelineTypeCompute
	snapshot := *ci
	return a.addPipeline(ChunkComputePipelines, &ci.PipelineStateCreateInfo, flags, snapshot,
		[]ShaderCreateInfo{*ci.CS}, nil,
		func(prsNames []string) ([]byte, error) {
			return measureAndWrite(func(s *serde.Serializer) error {
				return serializeComputePipeline(s, &pt, ci, &prsNames)
			})
		})
}

// AddTilePipeline stores a tile pipeline for the devices in flags.
func (a *Archiver) AddTilePipeline(ci *TilePipelineCreateInfo, flags DeviceFlags) error {
	if ci == nil {
		return fmt.Errorf("%w: nil create info", ErrInvalidArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if ci.TS == nil {
		return fmt.Errorf("%w: tile pipeline %q has no tile shader", ErrInvalidArgument, ci.Name)
	}
	if int(ci.TilePipeline.NumRenderTargets) > MaxRenderTargets {
		return fmt.Errorf("%w: tile pipeline %q declares %d render targets",
			ErrInvalidArgument, ci.Name, ci.TilePipeline.NumRenderTargets)
	}
	pt := PipelineTypeTile
	snapshot := *ci
	return a.addPipeline(ChunkTilePipelines, &ci.PipelineStateCreateInfo, flags, snapshot,
		[]ShaderCreateInfo{*ci.TS}, nil,
		func(prsNames []string) ([]byte, error) {
			return measureAndWrite(func(s *serde.Serializer) error {
				return serializeTilePipeline(s, &pt, ci, &prsNames)
			})
		})
}

// AddRayTracingPipeline stores a ray-tracing pipeline for the devices in
// flags. Each distinct shader referenced by the shader groups is stored
// once; group slots are stored as indices into that list.
func (a *Archiver) AddRayTracingPipeline(ci *RayTracingPipelineCreateInfo, flags DeviceFlags) error {
	if ci == nil {
		return fmt.Errorf("%w: nil create info", ErrInvalidArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := validateShaderGroups(ci); err != nil {
		return fmt.Errorf("ray-tracing pipeline %q: %w", ci.Name, err)
	}

	shaders := ci.shaders()
	local := make(map[*ShaderCreateInfo]uint32)
	next := uint32(0)
	for _, ref := range ci.shaderRefs() {
		if ref.CreateInfo == nil {
			continue
		}
		if _, ok := local[ref.CreateInfo]; !ok {
			local[ref.CreateInfo] = next
			next++
		}
	}
	remap := func(ref *ShaderRef) (uint32, error) {
		if ref.CreateInfo == nil {
			return invalidShaderIndex, nil
		}
		return local[ref.CreateInfo], nil
	}

	pt := PipelineTypeRayTracing
	snapshot := *ci
	return a.addPipeline(ChunkRayTracingPipelines, &ci.PipelineStateCreateInfo, flags, snapshot, shaders, nil,
		func(prsNames []string) ([]byte, error) {
			return measureAndWrite(func(s *serde.Serializer) error {
				return serializeRayTracingPipeline(s, &pt, ci, &prsNames, remap)
			})
		})
}

func validateShaderGroups(ci *RayTracingPipelineCreateInfo) error {
	total := len(ci.GeneralShaders) + len(ci.TriangleHitShaders) + len(ci.ProceduralHitShaders)
	if total == 0 {
		return fmt.Errorf("%w: no shader groups", ErrInvalidArgument)
	}
	names := make(map[string]bool, total)
	check := func(name string) error {
		if name == "" {
			return fmt.Errorf("%w: shader group with empty name", ErrInvalidArgument)
		}
		if names[name] {
			return fmt.Errorf("%w: duplicate shader group %q", ErrInvalidArgument, name)
		}
		names[name] = true
		return nil
	}
	for i := range ci.GeneralShaders {
		g := &ci.GeneralShaders[i]
		if err := check(g.Name); err != nil {
			return err
		}
		if g.Shader.CreateInfo == nil {
			return fmt.Errorf("%w: general group %q has no shader", ErrInvalidArgument, g.Name)
		}
	}
	for i := range ci.TriangleHitShaders {
		g := &ci.TriangleHitShaders[i]
		if err := check(g.Name); err != nil {
			return err
		}
		if g.ClosestHitShader.CreateInfo == nil {
			return fmt.Errorf("%w: triangle hit group %q has no closest-hit shader", ErrInvalidArgument, g.Name)
		}
	}
	for i := range ci.ProceduralHitShaders {
		g := &ci.ProceduralHitShaders[i]
		if err := check(g.Name); err != nil {
			return err
		}
		if g.IntersectionShader.CreateInfo == nil {
			return fmt.Errorf("%w: procedural hit group %q has no intersection shader", ErrInvalidArgument, g.Name)
		}
	}
	return nil
}

// pipelineChunks is the order pipeline categories appear in the file.
var pipelineChunks = [...]ChunkType{
	ChunkGraphicsPipelines,
	ChunkComputePipelines,
	ChunkRayTracingPipelines,
	ChunkTilePipelines,
}

// deviceLayout records where each resource's device data landed inside one
// device segment, relative to the segment start.
type deviceLayout struct {
	shaderIndex   offsetAndSize                          // shader index array
	signatureData map[string]offsetAndSize               // by signature name
	pipelineData  map[ChunkType]map[string]offsetAndSize // by chunk and name
}

// buildDeviceSegment lays out one device's block: the shader index array,
// the deduplicated shader records, the signature blobs and the pipelines'
// shader index lists.
func (a *Archiver) buildDeviceSegment(dev DeviceType) (*membuf.Builder, deviceLayout) {
	lay := deviceLayout{
		signatureData: make(map[string]offsetAndSize),
		pipelineData:  make(map[ChunkType]map[string]offsetAndSize),
	}
	sigNames := slices.Sorted(maps.Keys(a.signatures))

	var b membuf.Builder
	n := a.shaders[dev].len()
	if n > 0 {
		b.Reserve(8*n, segmentAlign)
		for _, e := range a.shaders[dev].entries {
			b.Reserve(len(e.data), segmentAlign)
		}
	}
	for _, name := range sigNames {
		if data := a.signatures[name].perDevice[dev]; len(data) > 0 {
			b.Reserve(len(data), segmentAlign)
		}
	}
	for _, chunk := range pipelineChunks {
		for _, name := range slices.Sorted(maps.Keys(a.pipelines[chunk])) {
			if data := a.pipelines[chunk][name].perDevice[dev]; len(data) > 0 {
				b.Reserve(len(data), segmentAlign)
			}
		}
	}
	b.Commit()

	if n > 0 {
		idx := b.Alloc(8*n, segmentAlign)
		lay.shaderIndex = offsetAndSize{Offset: uint32(idx.Offset()), Size: uint32(idx.Size())}
		for i, e := range a.shaders[dev].entries {
			sp := b.Alloc(len(e.data), segmentAlign)
			copy(sp.Bytes(), e.data)
			idx.PutUint32(8*i, uint32(sp.Offset()))
			idx.PutUint32(8*i+4, uint32(sp.Size()))
		}
	}
	for _, name := range sigNames {
		if data := a.signatures[name].perDevice[dev]; len(data) > 0 {
			sp := b.Alloc(len(data), segmentAlign)
			copy(sp.Bytes(), data)
			lay.signatureData[name] = offsetAndSize{Offset: uint32(sp.Offset()), Size: uint32(sp.Size())}
		}
	}
	for _, chunk := range pipelineChunks {
		perName := make(map[string]offsetAndSize)
		for _, name := range slices.Sorted(maps.Keys(a.pipelines[chunk])) {
			if data := a.pipelines[chunk][name].perDevice[dev]; len(data) > 0 {
				sp := b.Alloc(len(data), segmentAlign)
				copy(sp.Bytes(), data)
				perName[name] = offsetAndSize{Offset: uint32(sp.Offset()), Size: uint32(sp.Size())}
			}
		}
		lay.pipelineData[chunk] = perName
	}
	return &b, lay
}

// sharedEntry locates one descriptor record inside the shared segment.
type sharedEntry struct {
	off  uint32 // segment-relative
	size uint32
}

// Finalize lays out and returns the complete archive. The archiver can
// keep accepting objects afterwards; each call produces a self-contained
// snapshot.
func (a *Archiver) Finalize() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Per-device segments first: the shared segment's data headers point
	// into them.
	var devSegs [deviceTypeCount]*membuf.Builder
	var devLays [deviceTypeCount]deviceLayout
	for dev := DeviceType(0); dev < deviceTypeCount; dev++ {
		devSegs[dev], devLays[dev] = a.buildDeviceSegment(dev)
	}

	shared, sharedIndex, err := a.buildSharedSegment(devLays)
	if err != nil {
		return nil, err
	}

	debug, err := a.debug.encode()
	if err != nil {
		return nil, err
	}

	// Chunk set and body sizes.
	type chunkBody struct {
		typ   ChunkType
		size  uint32
		write func(p []byte, base uint32) // base is the shared segment's file offset
	}
	var chunks []chunkBody
	chunks = append(chunks, chunkBody{
		typ:  ChunkDebugInfo,
		size: uint32(len(debug)),
		write: func(p []byte, _ uint32) {
			copy(p, debug)
		},
	})
	named := func(typ ChunkType, names []string, index map[string]sharedEntry) chunkBody {
		size := 4 + 12*len(names)
		for _, n := range names {
			size += len(n) + 1
		}
		return chunkBody{
			typ:  typ,
			size: uint32(size),
			write: func(p []byte, base uint32) {
				writeNamedResourceTable(p, names, index, base)
			},
		}
	}
	if len(a.signatures) > 0 {
		chunks = append(chunks, named(ChunkResourceSignatures, slices.Sorted(maps.Keys(a.signatures)), sharedIndex[ChunkResourceSignatures]))
	}
	for _, chunk := range pipelineChunks {
		if len(a.pipelines[chunk]) > 0 {
			chunks = append(chunks, named(chunk, slices.Sorted(maps.Keys(a.pipelines[chunk])), sharedIndex[chunk]))
		}
	}
	if len(a.renderPasses) > 0 {
		chunks = append(chunks, named(ChunkRenderPasses, slices.Sorted(maps.Keys(a.renderPasses)), sharedIndex[ChunkRenderPasses]))
	}
	haveShaders := false
	for dev := range a.shaders {
		if a.shaders[dev].len() > 0 {
			haveShaders = true
		}
	}
	if haveShaders {
		hdr := newDataHeader(ChunkShaders)
		for dev := DeviceType(0); dev < deviceTypeCount; dev++ {
			if a.shaders[dev].len() > 0 {
				loc := devLays[dev].shaderIndex
				hdr.setDeviceData(dev, loc.Offset, loc.Size)
			}
		}
		chunks = append(chunks, chunkBody{
			typ:  ChunkShaders,
			size: dataHeaderSize,
			write: func(p []byte, _ uint32) {
				w := serde.NewWriter(p)
				if err := hdr.serialize(w); err != nil {
					panic(err) // buffer is sized exactly
				}
			},
		})
	}

	// File layout.
	off := uint32(headerSize + chunkHeaderSize*len(chunks))
	chunkOffsets := make([]uint32, len(chunks))
	for i, c := range chunks {
		off = alignUp(off, segmentAlign)
		chunkOffsets[i] = off
		off += c.size
	}
	sharedBase := alignUp(off, segmentAlign)
	off = sharedBase + uint32(shared.Len())
	hdr := newArchiveHeader()
	hdr.NumChunks = uint32(len(chunks))
	for dev := DeviceType(0); dev < deviceTypeCount; dev++ {
		if devSegs[dev].IsEmpty() {
			continue
		}
		off = alignUp(off, segmentAlign)
		hdr.BlockBaseOffsets[dev] = off
		off += uint32(devSegs[dev].Len())
	}
	total := off

	out := make([]byte, total)
	w := serde.NewWriter(out[:headerSize])
	if err := hdr.serialize(w); err != nil {
		return nil, err
	}
	tw := serde.NewWriter(out[headerSize : headerSize+chunkHeaderSize*len(chunks)])
	for i, c := range chunks {
		ch := chunkHeader{Type: c.typ, Size: c.size, Offset: chunkOffsets[i]}
		if err := ch.serialize(tw); err != nil {
			return nil, err
		}
	}
	for i, c := range chunks {
		c.write(out[chunkOffsets[i]:chunkOffsets[i]+c.size], sharedBase)
	}
	copy(out[sharedBase:], shared.Bytes())
	for dev := DeviceType(0); dev < deviceTypeCount; dev++ {
		if base := hdr.BlockBaseOffsets[dev]; base != invalidOffset {
			copy(out[base:], devSegs[dev].Bytes())
		}
	}
	logger().Debug("finalized archive", "bytes", total, "chunks", len(chunks))
	return out, nil
}

// buildSharedSegment lays out every descriptor record: a data header (a
// bare type tag for render passes) followed by the serialized descriptor.
func (a *Archiver) buildSharedSegment(devLays [deviceTypeCount]deviceLayout) (*membuf.Builder, map[ChunkType]map[string]sharedEntry, error) {
	var b membuf.Builder
	index := make(map[ChunkType]map[string]sharedEntry)

	reserveAll := func(hdrSize int, names []string, sharedOf func(name string) []byte) {
		for _, name := range names {
			b.Reserve(hdrSize, segmentAlign)
			b.Reserve(len(sharedOf(name)), 1)
		}
	}
	sigNames := slices.Sorted(maps.Keys(a.signatures))
	rpNames := slices.Sorted(maps.Keys(a.renderPasses))
	reserveAll(dataHeaderSize, sigNames, func(n string) []byte { return a.signatures[n].shared })
	for _, chunk := range pipelineChunks {
		names := slices.Sorted(maps.Keys(a.pipelines[chunk]))
		reserveAll(dataHeaderSize, names, func(n string) []byte { return a.pipelines[chunk][n].shared })
	}
	reserveAll(4, rpNames, func(n string) []byte { return a.renderPasses[n].shared })
	b.Commit()

	writeRecord := func(typ ChunkType, name string, hdr *dataHeader, shared []byte) error {
		var hp membuf.Span
		if hdr != nil {
			hp = b.Alloc(dataHeaderSize, segmentAlign)
			w := serde.NewWriter(hp.Bytes())
			if err := hdr.serialize(w); err != nil {
				return err
			}
		} else {
			hp = b.Alloc(4, segmentAlign)
			hp.PutUint32(0, uint32(typ))
		}
		body := b.Copy(shared)
		if index[typ] == nil {
			index[typ] = make(map[string]sharedEntry)
		}
		index[typ][name] = sharedEntry{
			off:  uint32(hp.Offset()),
			size: uint32(body.Offset() + body.Size() - hp.Offset()),
		}
		return nil
	}

	for _, name := range sigNames {
		rec := a.signatures[name]
		hdr := newDataHeader(ChunkResourceSignatures)
		for dev := DeviceType(0); dev < deviceTypeCount; dev++ {
			if loc, ok := devLays[dev].signatureData[name]; ok {
				hdr.setDeviceData(dev, loc.Offset, loc.Size)
			}
		}
		if err := writeRecord(ChunkResourceSignatures, name, &hdr, rec.shared); err != nil {
			return nil, nil, err
		}
	}
	for _, chunk := range pipelineChunks {
		for _, name := range slices.Sorted(maps.Keys(a.pipelines[chunk])) {
			rec := a.pipelines[chunk][name]
			hdr := newDataHeader(chunk)
			for dev := DeviceType(0); dev < deviceTypeCount; dev++ {
				if loc, ok := devLays[dev].pipelineData[chunk][name]; ok {
					hdr.setDeviceData(dev, loc.Offset, loc.Size)
				}
			}
			if err := writeRecord(chunk, name, &hdr, rec.shared); err != nil {
				return nil, nil, err
			}
		}
	}
	for _, name := range rpNames {
		if err := writeRecord(ChunkRenderPasses, name, nil, a.renderPasses[name].shared); err != nil {
			return nil, nil, err
		}
	}
	return &b, index, nil
}

// writeNamedResourceTable encodes one named-resource chunk body: the entry
// count, three parallel arrays (name lengths, record sizes, absolute record
// offsets) and the packed NUL-terminated names.
func writeNamedResourceTable(p []byte, names []string, index map[string]sharedEntry, sharedBase uint32) {
	w := serde.NewWriter(p)
	n := uint32(len(names))
	_ = w.Uint32(&n)
	for _, name := range names {
		l := uint32(len(name) + 1)
		_ = w.Uint32(&l)
	}
	for _, name := range names {
		sz := index[name].size
		_ = w.Uint32(&sz)
	}
	for _, name := range names {
		off := sharedBase + index[name].off
		_ = w.Uint32(&off)
	}
	pos := 4 + 12*len(names)
	for _, name := range names {
		copy(p[pos:], name)
		pos += len(name) + 1 // trailing NUL
	}
}

// WriteTo finalizes the archive and writes it to w.
func (a *Archiver) WriteTo(w io.Writer) (int64, error) {
	data, err := a.Finalize()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}
