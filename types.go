package psopack

import "github.com/gogpu/gputypes"

const (
	// MaxRenderTargets is the number of simultaneous render target slots.
	MaxRenderTargets = 8
	// MaxResourceSignatures is the number of signature binding slots a
	// pipeline can use.
	MaxResourceSignatures = 8
)

// ResourceType classifies a resource declared by a signature.
type ResourceType uint32

const (
	ResourceTypeUnknown ResourceType = iota
	ResourceTypeConstantBuffer
	ResourceTypeTextureSRV
	ResourceTypeBufferSRV
	ResourceTypeTextureUAV
	ResourceTypeBufferUAV
	ResourceTypeSampler
	ResourceTypeInputAttachment
	ResourceTypeAccelStruct
)

// ResourceVariableType selects how often a resource binding changes.
type ResourceVariableType uint32

const (
	ResourceVariableStatic ResourceVariableType = iota
	ResourceVariableMutable
	ResourceVariableDynamic
)

// PipelineResourceFlags carries per-resource traits.
type PipelineResourceFlags uint32

const (
	ResourceFlagNone            PipelineResourceFlags = 0
	ResourceFlagNoDynamicBuffer PipelineResourceFlags = 1 << iota
	ResourceFlagCombinedSampler
	ResourceFlagFormattedBuffer
	ResourceFlagRuntimeArray
)

// ShaderStageFlags is a bitmask of shader stages a resource is visible to.
type ShaderStageFlags uint32

const (
	StageFlagVertex ShaderStageFlags = 1 << iota
	StageFlagPixel
	StageFlagGeometry
	StageFlagHull
	StageFlagDomain
	StageFlagCompute
	StageFlagAmplification
	StageFlagMesh
	StageFlagRayGen
	StageFlagRayMiss
	StageFlagRayClosestHit
	StageFlagRayAnyHit
	StageFlagRayIntersection
	StageFlagCallable
	StageFlagTile

	StageFlagsAllGraphics = StageFlagVertex | StageFlagPixel | StageFlagGeometry |
		StageFlagHull | StageFlagDomain
)

// PipelineResourceDesc declares one resource slot of a signature.
type PipelineResourceDesc struct {
	Name         string
	Stages       ShaderStageFlags
	ArraySize    uint32
	Type         ResourceType
	VariableType ResourceVariableType
	Flags        PipelineResourceFlags
}

// FilterType selects texture filtering for a sampler.
type FilterType uint32

const (
	FilterPoint FilterType = iota
	FilterLinear
	FilterAnisotropic
)

// AddressMode selects texture coordinate wrapping for a sampler.
type AddressMode uint32

const (
	AddressWrap AddressMode = iota
	AddressMirror
	AddressClamp
	AddressBorder
)

// SamplerDesc describes an immutable sampler baked into a signature.
type SamplerDesc struct {
	MinFilter, MagFilter, MipFilter FilterType
	AddressU, AddressV, AddressW    AddressMode
	MipLODBias                      float32
	MaxAnisotropy                   uint32
	ComparisonFunc                  gputypes.CompareFunction
	MinLOD, MaxLOD                  float32
}

// ImmutableSamplerDesc binds a SamplerDesc to a texture or sampler name.
type ImmutableSamplerDesc struct {
	Stages               ShaderStageFlags
	SamplerOrTextureName string
	Desc                 SamplerDesc
}

// ResourceSignatureDesc describes a pipeline resource signature: the full
// set of resources a group of pipelines binds, plus its binding slot.
type ResourceSignatureDesc struct {
	Name                  string
	Resources             []PipelineResourceDesc
	ImmutableSamplers     []ImmutableSamplerDesc
	BindingIndex          uint8
	UseCombinedSamplers   bool
	CombinedSamplerSuffix string
}

// ShaderResourceVariableDesc overrides the variable type of one resource in
// a pipeline's implicit resource layout.
type ShaderResourceVariableDesc struct {
	Name   string
	Stages ShaderStageFlags
	Type   ResourceVariableType
	Flags  PipelineResourceFlags
}

// PipelineResourceLayoutDesc is the implicit resource layout used when a
// pipeline is created without explicit signatures.
type PipelineResourceLayoutDesc struct {
	DefaultVariableType   ResourceVariableType
	DefaultVariableStages ShaderStageFlags
	Variables             []ShaderResourceVariableDesc
	ImmutableSamplers     []ImmutableSamplerDesc
}

// ResourceState is a bitmask of resource usage states, used by render pass
// attachments and subpass transitions.
type ResourceState uint32

const (
	ResourceStateUnknown      ResourceState = 0
	ResourceStateRenderTarget ResourceState = 1 << iota
	ResourceStateDepthWrite
	ResourceStateDepthRead
	ResourceStateShaderResource
	ResourceStateInputAttachment
	ResourceStatePresent
	ResourceStateResolveDest
	ResourceStateUnorderedAccess
	ResourceStateCommon
)

// RenderPassAttachmentDesc describes one attachment of a render pass.
type RenderPassAttachmentDesc struct {
	Format         gputypes.TextureFormat
	SampleCount    uint8
	LoadOp         gputypes.LoadOp
	StoreOp        gputypes.StoreOp
	StencilLoadOp  gputypes.LoadOp
	StencilStoreOp gputypes.StoreOp
	InitialState   ResourceState
	FinalState     ResourceState
}

// AttachmentUnused marks an attachment reference slot as not used by the
// subpass.
const AttachmentUnused = ^uint32(0)

// AttachmentReference points a subpass slot at a render pass attachment.
type AttachmentReference struct {
	AttachmentIndex uint32
	State           ResourceState
}

// ShadingRateAttachment describes the subpass shading rate attachment.
type ShadingRateAttachment struct {
	Attachment AttachmentReference
	TileSize   [2]uint32
}

// SubpassDesc describes one subpass of a render pass.
type SubpassDesc struct {
	InputAttachments        []AttachmentReference
	RenderTargetAttachments []AttachmentReference
	ResolveAttachments      []AttachmentReference
	DepthStencilAttachment  *AttachmentReference
	PreserveAttachments     []uint32
	ShadingRateAttachment   *ShadingRateAttachment
}

// SubpassDependencyDesc describes an execution and memory dependency
// between two subpasses.
type SubpassDependencyDesc struct {
	SrcSubpass    uint32
	DstSubpass    uint32
	SrcStageMask  uint32
	DstStageMask  uint32
	SrcAccessMask uint32
	DstAccessMask uint32
}

// RenderPassDesc describes a render pass: its attachments, subpasses and
// inter-subpass dependencies.
type RenderPassDesc struct {
	Name         string
	Attachments  []RenderPassAttachmentDesc
	Subpasses    []SubpassDesc
	Dependencies []SubpassDependencyDesc
}

// PipelineType tags the kind of a stored pipeline record.
type PipelineType uint32

const (
	PipelineTypeGraphics PipelineType = iota
	PipelineTypeCompute
	PipelineTypeMesh
	PipelineTypeRayTracing
	PipelineTypeTile

	pipelineTypeCount
)

// String returns the pipeline type name.
func (t PipelineType) String() string {
	switch t {
	case PipelineTypeGraphics:
		return "graphics"
	case PipelineTypeCompute:
		return "compute"
	case PipelineTypeMesh:
		return "mesh"
	case PipelineTypeRayTracing:
		return "ray_tracing"
	case PipelineTypeTile:
		return "tile"
	default:
		return "unknown"
	}
}

// PipelineStateFlags carries pipeline creation traits.
type PipelineStateFlags uint32

const (
	PSOFlagNone                   PipelineStateFlags = 0
	PSOFlagIgnoreMissingVariables PipelineStateFlags = 1 << iota
)

// PipelineStateCreateInfo is the part common to all pipeline kinds.
//
// Signatures lists the explicit resource signatures the pipeline binds. An
// empty list means the pipeline uses its implicit ResourceLayout; the
// archiver then synthesizes and stores a default signature for it.
type PipelineStateCreateInfo struct {
	Name           string
	Flags          PipelineStateFlags
	ResourceLayout PipelineResourceLayoutDesc
	Signatures     []*ResourceSignatureDesc
}

// ColorMask selects the color channels a render target write touches.
type ColorMask uint8

const (
	ColorMaskRed ColorMask = 1 << iota
	ColorMaskGreen
	ColorMaskBlue
	ColorMaskAlpha

	ColorMaskAll = ColorMaskRed | ColorMaskGreen | ColorMaskBlue | ColorMaskAlpha
)

// RenderTargetBlendDesc describes blending for one render target slot.
type RenderTargetBlendDesc struct {
	BlendEnable    bool
	LogicOpEnable  bool
	SrcBlend       gputypes.BlendFactor
	DestBlend      gputypes.BlendFactor
	BlendOp        gputypes.BlendOperation
	SrcBlendAlpha  gputypes.BlendFactor
	DestBlendAlpha gputypes.BlendFactor
	BlendOpAlpha   gputypes.BlendOperation
	WriteMask      ColorMask
}

// BlendStateDesc describes the blend state of a graphics pipeline.
type BlendStateDesc struct {
	AlphaToCoverageEnable  bool
	IndependentBlendEnable bool
	RenderTargets          [MaxRenderTargets]RenderTargetBlendDesc
}

// FillMode selects triangle rasterization fill.
type FillMode uint32

const (
	FillSolid FillMode = iota
	FillWireframe
)

// RasterizerDesc describes the rasterizer state of a graphics pipeline.
type RasterizerDesc struct {
	FillMode              FillMode
	CullMode              gputypes.CullMode
	FrontFace             gputypes.FrontFace
	DepthClipEnable       bool
	ScissorEnable         bool
	AntialiasedLineEnable bool
	DepthBias             int32
	DepthBiasClamp        float32
	SlopeScaledDepthBias  float32
}

// StencilOp selects the update applied to a stencil value.
type StencilOp uint32

const (
	StencilKeep StencilOp = iota
	StencilZero
	StencilReplace
	StencilIncrSat
	StencilDecrSat
	StencilInvert
	StencilIncrWrap
	StencilDecrWrap
)

// StencilOpDesc describes stencil behavior for one triangle facing.
type StencilOpDesc struct {
	StencilFailOp      StencilOp
	StencilDepthFailOp StencilOp
	StencilPassOp      StencilOp
	StencilFunc        gputypes.CompareFunction
}

// DepthStencilDesc describes the depth-stencil state of a graphics
// pipeline.
type DepthStencilDesc struct {
	DepthEnable      bool
	DepthWriteEnable bool
	DepthFunc        gputypes.CompareFunction
	StencilEnable    bool
	StencilReadMask  uint8
	StencilWriteMask uint8
	FrontFace        StencilOpDesc
	BackFace         StencilOpDesc
}

// LayoutElement describes one vertex input attribute.
type LayoutElement struct {
	HLSLSemantic         string
	InputIndex           uint32
	BufferSlot           uint32
	Format               gputypes.VertexFormat
	StepMode             gputypes.VertexStepMode
	RelativeOffset       uint32
	Stride               uint32
	InstanceDataStepRate uint32
}

// GraphicsPipelineDesc is the fixed-function state of a graphics pipeline.
// RenderPass and the RTV/DSV formats are mutually exclusive: a pipeline
// either targets an explicit render pass (stored by name and unpacked with
// it) or a plain format list.
type GraphicsPipelineDesc struct {
	Blend             BlendStateDesc
	SampleMask        uint32
	Rasterizer        RasterizerDesc
	DepthStencil      DepthStencilDesc
	InputLayout       []LayoutElement
	PrimitiveTopology gputypes.PrimitiveTopology
	NumViewports      uint8
	NumRenderTargets  uint8
	SubpassIndex      uint8
	RTVFormats        [MaxRenderTargets]gputypes.TextureFormat
	DSVFormat         gputypes.TextureFormat
	SampleCount       uint8
	SampleQuality     uint8
	RenderPass        *RenderPassDesc
}

// GraphicsPipelineCreateInfo describes a graphics or mesh pipeline.
type GraphicsPipelineCreateInfo struct {
	PipelineStateCreateInfo
	GraphicsPipeline GraphicsPipelineDesc

	VS *ShaderCreateInfo
	PS *ShaderCreateInfo
	DS *ShaderCreateInfo
	HS *ShaderCreateInfo
	GS *ShaderCreateInfo
	AS *ShaderCreateInfo
	MS *ShaderCreateInfo
}

// shaders returns the pipeline's shaders in canonical stage order.
func (ci *GraphicsPipelineCreateInfo) shaders() []ShaderCreateInfo {
	var out []ShaderCreateInfo
	for _, sh := range []*ShaderCreateInfo{ci.VS, ci.PS, ci.DS, ci.HS, ci.GS, ci.AS, ci.MS} {
		if sh != nil {
			out = append(out, *sh)
		}
	}
	return out
}

// pipelineType distinguishes mesh pipelines from classic vertex pipelines.
func (ci *GraphicsPipelineCreateInfo) pipelineType() PipelineType {
	if ci.MS != nil {
		return PipelineTypeMesh
	}
	return PipelineTypeGraphics
}

// ComputePipelineCreateInfo describes a compute pipeline.
type ComputePipelineCreateInfo struct {
	PipelineStateCreateInfo
	CS *ShaderCreateInfo
}

// TilePipelineDesc is the fixed-function state of a tile pipeline.
type TilePipelineDesc struct {
	NumRenderTargets uint8
	SampleCount      uint8
	RTVFormats       [MaxRenderTargets]gputypes.TextureFormat
}

// TilePipelineCreateInfo describes a tile pipeline.
type TilePipelineCreateInfo struct {
	PipelineStateCreateInfo
	TilePipeline TilePipelineDesc
	TS           *ShaderCreateInfo
}

// RayTracingPipelineDesc is the fixed-function state of a ray-tracing
// pipeline.
type RayTracingPipelineDesc struct {
	ShaderRecordSize  uint16
	MaxRecursionDepth uint8
}

// invalidShaderIndex marks an absent shader slot in a stored shader group.
const invalidShaderIndex = ^uint32(0)

// ShaderRef identifies one shader slot of a ray-tracing shader group.
//
// While building an archive, CreateInfo points at the shader to store.
// After unpacking, the slot starts out as an archive shader index and a
// resolve pass fills Shader with the live object; the index is never
// reinterpreted as a pointer.
type ShaderRef struct {
	CreateInfo *ShaderCreateInfo

	index  uint32
	Shader *Shader
}

// Ref wraps a shader create info for use in a shader group slot.
func Ref(ci *ShaderCreateInfo) ShaderRef { return ShaderRef{CreateInfo: ci} }

// RayTracingGeneralShaderGroup names a single ray-gen, miss or callable
// shader.
type RayTracingGeneralShaderGroup struct {
	Name   string
	Shader ShaderRef
}

// RayTracingTriangleHitShaderGroup names the shaders run on triangle hits.
type RayTracingTriangleHitShaderGroup struct {
	Name             string
	ClosestHitShader ShaderRef
	AnyHitShader     ShaderRef
}

// RayTracingProceduralHitShaderGroup names the shaders run on procedural
// geometry hits.
type RayTracingProceduralHitShaderGroup struct {
	Name               string
	IntersectionShader ShaderRef
	ClosestHitShader   ShaderRef
	AnyHitShader       ShaderRef
}

// RayTracingPipelineCreateInfo describes a ray-tracing pipeline.
type RayTracingPipelineCreateInfo struct {
	PipelineStateCreateInfo
	RayTracingPipeline RayTracingPipelineDesc

	GeneralShaders       []RayTracingGeneralShaderGroup
	TriangleHitShaders   []RayTracingTriangleHitShaderGroup
	ProceduralHitShaders []RayTracingProceduralHitShaderGroup

	ShaderRecordName string
	MaxAttributeSize uint32
	MaxPayloadSize   uint32
}

// shaderRefs returns pointers to every group shader slot, in group order.
func (ci *RayTracingPipelineCreateInfo) shaderRefs() []*ShaderRef {
	var refs []*ShaderRef
	for i := range ci.GeneralShaders {
		refs = append(refs, &ci.GeneralShaders[i].Shader)
	}
	for i := range ci.TriangleHitShaders {
		g := &ci.TriangleHitShaders[i]
		refs = append(refs, &g.ClosestHitShader, &g.AnyHitShader)
	}
	for i := range ci.ProceduralHitShaders {
		g := &ci.ProceduralHitShaders[i]
		refs = append(refs, &g.IntersectionShader, &g.ClosestHitShader, &g.AnyHitShader)
	}
	return refs
}

// shaders returns the distinct create infos referenced by the groups, in
// first-use order.
func (ci *RayTracingPipelineCreateInfo) shaders() []ShaderCreateInfo {
	var out []ShaderCreateInfo
	seen := make(map[*ShaderCreateInfo]bool)
	for _, ref := range ci.shaderRefs() {
		if ref.CreateInfo == nil || seen[ref.CreateInfo] {
			continue
		}
		seen[ref.CreateInfo] = true
		out = append(out, *ref.CreateInfo)
	}
	return out
}
