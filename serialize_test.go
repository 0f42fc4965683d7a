package psopack

import (
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/psopack/serde"
)

func testSignatureDesc() *ResourceSignatureDesc {
	return &ResourceSignatureDesc{
		Resources: []PipelineResourceDesc{
			{Name: "cbFrame", Stages: StageFlagVertex | StageFlagPixel, ArraySize: 1,
				Type: ResourceTypeConstantBuffer, VariableType: ResourceVariableStatic},
			{Name: "g_Textures", Stages: StageFlagPixel, ArraySize: 8,
				Type: ResourceTypeTextureSRV, VariableType: ResourceVariableMutable,
				Flags: ResourceFlagRuntimeArray},
		},
		ImmutableSamplers: []ImmutableSamplerDesc{
			{Stages: StageFlagPixel, SamplerOrTextureName: "g_Textures",
				Desc: SamplerDesc{
					MinFilter: FilterLinear, MagFilter: FilterLinear, MipFilter: FilterPoint,
					AddressU: AddressWrap, AddressV: AddressClamp, AddressW: AddressWrap,
					MaxAnisotropy:  4,
					ComparisonFunc: gputypes.CompareFunctionAlways,
					MaxLOD:         1000,
				}},
		},
		BindingIndex:          2,
		UseCombinedSamplers:   true,
		CombinedSamplerSuffix: "_sampler",
	}
}

func testRenderPassDesc() *RenderPassDesc {
	return &RenderPassDesc{
		Attachments: []RenderPassAttachmentDesc{
			{Format: gputypes.TextureFormatRGBA8Unorm, SampleCount: 1,
				LoadOp: gputypes.LoadOpClear, StoreOp: gputypes.StoreOpStore,
				InitialState: ResourceStateUnknown, FinalState: ResourceStateShaderResource},
			{Format: gputypes.TextureFormatDepth24PlusStencil8, SampleCount: 1,
				LoadOp: gputypes.LoadOpClear, StoreOp: gputypes.StoreOpDiscard,
				StencilLoadOp: gputypes.LoadOpClear, StencilStoreOp: gputypes.StoreOpDiscard,
				FinalState: ResourceStateDepthWrite},
		},
		Subpasses: []SubpassDesc{
			{
				RenderTargetAttachments: []AttachmentReference{{AttachmentIndex: 0, State: ResourceStateRenderTarget}},
				DepthStencilAttachment:  &AttachmentReference{AttachmentIndex: 1, State: ResourceStateDepthWrite},
			},
			{
				InputAttachments:        []AttachmentReference{{AttachmentIndex: 0, State: ResourceStateInputAttachment}},
				RenderTargetAttachments: []AttachmentReference{{AttachmentIndex: 0, State: ResourceStateRenderTarget}},
				PreserveAttachments:     []uint32{1},
			},
		},
		Dependencies: []SubpassDependencyDesc{
			{SrcSubpass: 0, DstSubpass: 1, SrcStageMask: 0x80, DstStageMask: 0x20,
				SrcAccessMask: 0x100, DstAccessMask: 0x80},
		},
	}
}

func TestSignatureDescRoundTrip(t *testing.T) {
	in := testSignatureDesc()
	blob, err := measureAndWrite(func(s *serde.Serializer) error {
		return serializeSignatureDesc(s, in)
	})
	if err != nil {
		t.Fatal(err)
	}
	out := &ResourceSignatureDesc{}
	r := serde.NewReader(blob)
	if err := serializeSignatureDesc(r, out); err != nil {
		t.Fatal(err)
	}
	if !r.IsEnd() {
		t.Error("record not fully consumed")
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestRenderPassDescRoundTrip(t *testing.T) {
	in := testRenderPassDesc()
	blob, err := measureAndWrite(func(s *serde.Serializer) error {
		return serializeRenderPassDesc(s, in)
	})
	if err != nil {
		t.Fatal(err)
	}
	out := &RenderPassDesc{}
	r := serde.NewReader(blob)
	if err := serializeRenderPassDesc(r, out); err != nil {
		t.Fatal(err)
	}
	if !r.IsEnd() {
		t.Error("record not fully consumed")
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestGraphicsPipelineRoundTrip(t *testing.T) {
	in := &GraphicsPipelineCreateInfo{}
	in.Flags = PSOFlagIgnoreMissingVariables
	in.ResourceLayout = PipelineResourceLayoutDesc{
		DefaultVariableType: ResourceVariableMutable,
		Variables: []ShaderResourceVariableDesc{
			{Name: "cbCamera", Stages: StageFlagVertex, Type: ResourceVariableDynamic},
		},
	}
	d := &in.GraphicsPipeline
	d.Blend.RenderTargets[0] = RenderTargetBlendDesc{BlendEnable: true, WriteMask: ColorMaskAll}
	d.SampleMask = 0xFFFFFFFF
	d.Rasterizer = RasterizerDesc{CullMode: gputypes.CullModeNone, DepthClipEnable: true, DepthBias: -2}
	d.DepthStencil = DepthStencilDesc{DepthEnable: true, DepthWriteEnable: true,
		DepthFunc: gputypes.CompareFunctionNotEqual}
	d.InputLayout = []LayoutElement{
		{HLSLSemantic: "POSITION", Format: gputypes.VertexFormatFloat32x4, StepMode: gputypes.VertexStepModeVertex, Stride: 32},
		{HLSLSemantic: "TEXCOORD", InputIndex: 1, Format: gputypes.VertexFormatFloat32x2, RelativeOffset: 16, Stride: 32},
	}
	d.PrimitiveTopology = gputypes.PrimitiveTopologyTriangleList
	d.NumViewports = 1
	d.NumRenderTargets = 2
	d.RTVFormats[0] = gputypes.TextureFormatRGBA8Unorm
	d.RTVFormats[1] = gputypes.TextureFormatBGRA8Unorm
	d.DSVFormat = gputypes.TextureFormatDepth24PlusStencil8
	d.SampleCount = 4

	pt := PipelineTypeGraphics
	prsNames := []string{"SigA", "SigB"}
	rpName := "MainPass"
	blob, err := measureAndWrite(func(s *serde.Serializer) error {
		return serializeGraphicsPipeline(s, &pt, in, &prsNames, &rpName)
	})
	if err != nil {
		t.Fatal(err)
	}

	out := &GraphicsPipelineCreateInfo{}
	var outPT PipelineType
	var outNames []string
	var outRP string
	r := serde.NewReader(blob)
	if err := serializeGraphicsPipeline(r, &outPT, out, &outNames, &outRP); err != nil {
		t.Fatal(err)
	}
	if !r.IsEnd() {
		t.Error("record not fully consumed")
	}
	if outPT != PipelineTypeGraphics || outRP != "MainPass" || !reflect.DeepEqual(outNames, prsNames) {
		t.Errorf("envelope mismatch: type=%v rp=%q names=%v", outPT, outRP, outNames)
	}
	if out.Flags != in.Flags || !reflect.DeepEqual(out.ResourceLayout, in.ResourceLayout) {
		t.Error("base state mismatch")
	}
	if !reflect.DeepEqual(out.GraphicsPipeline, in.GraphicsPipeline) {
		t.Errorf("fixed-function state mismatch:\n in: %+v\nout: %+v", in.GraphicsPipeline, out.GraphicsPipeline)
	}
}

func TestRayTracingPipelineRoundTrip(t *testing.T) {
	rayGen := &ShaderCreateInfo{Stage: ShaderStageRayGen, EntryPoint: "main"}
	hit := &ShaderCreateInfo{Stage: ShaderStageRayClosestHit, EntryPoint: "chit"}
	in := &RayTracingPipelineCreateInfo{
		RayTracingPipeline: RayTracingPipelineDesc{ShaderRecordSize: 64, MaxRecursionDepth: 2},
		GeneralShaders: []RayTracingGeneralShaderGroup{
			{Name: "Main", Shader: Ref(rayGen)},
		},
		TriangleHitShaders: []RayTracingTriangleHitShaderGroup{
			{Name: "Hit", ClosestHitShader: Ref(hit)}, // any-hit slot left empty
		},
		ShaderRecordName: "g_Record",
		MaxAttributeSize: 8,
		MaxPayloadSize:   16,
	}
	local := map[*ShaderCreateInfo]uint32{rayGen: 0, hit: 1}
	remap := func(ref *ShaderRef) (uint32, error) {
		if ref.CreateInfo == nil {
			return invalidShaderIndex, nil
		}
		return local[ref.CreateInfo], nil
	}

	pt := PipelineTypeRayTracing
	var prsNames []string
	blob, err := measureAndWrite(func(s *serde.Serializer) error {
		return serializeRayTracingPipeline(s, &pt, in, &prsNames, remap)
	})
	if err != nil {
		t.Fatal(err)
	}

	out := &RayTracingPipelineCreateInfo{}
	var outPT PipelineType
	var outNames []string
	r := serde.NewReader(blob)
	if err := serializeRayTracingPipeline(r, &outPT, out, &outNames, nil); err != nil {
		t.Fatal(err)
	}
	if !r.IsEnd() {
		t.Error("record not fully consumed")
	}
	if out.RayTracingPipeline != in.RayTracingPipeline ||
		out.ShaderRecordName != "g_Record" || out.MaxAttributeSize != 8 || out.MaxPayloadSize != 16 {
		t.Errorf("desc mismatch: %+v", out)
	}
	if len(out.GeneralShaders) != 1 || out.GeneralShaders[0].Name != "Main" ||
		out.GeneralShaders[0].Shader.index != 0 {
		t.Errorf("general group mismatch: %+v", out.GeneralShaders)
	}
	if len(out.TriangleHitShaders) != 1 {
		t.Fatalf("triangle groups = %d", len(out.TriangleHitShaders))
	}
	g := out.TriangleHitShaders[0]
	if g.ClosestHitShader.index != 1 || g.AnyHitShader.index != invalidShaderIndex {
		t.Errorf("hit group slots: chit=%d ahit=%d", g.ClosestHitShader.index, g.AnyHitShader.index)
	}
}

// Randomized round trips. Seeds are fixed so failures reproduce; list
// elements are appended so zero counts stay nil, which is what reading a
// zero count produces.

func randString(r *rand.Rand, max int) string {
	b := make([]byte, r.IntN(max+1))
	for i := range b {
		b[i] = byte('a' + r.IntN(26))
	}
	return string(b)
}

func randBool(r *rand.Rand) bool { return r.IntN(2) == 0 }

func randSamplerDesc(r *rand.Rand) SamplerDesc {
	return SamplerDesc{
		MinFilter:      FilterType(r.Uint32()),
		MagFilter:      FilterType(r.Uint32()),
		MipFilter:      FilterType(r.Uint32()),
		AddressU:       AddressMode(r.Uint32()),
		AddressV:       AddressMode(r.Uint32()),
		AddressW:       AddressMode(r.Uint32()),
		MipLODBias:     r.Float32(),
		MaxAnisotropy:  r.Uint32(),
		ComparisonFunc: gputypes.CompareFunction(r.Uint32()),
		MinLOD:         r.Float32(),
		MaxLOD:         r.Float32(),
	}
}

func randImmutableSampler(r *rand.Rand) ImmutableSamplerDesc {
	return ImmutableSamplerDesc{
		Stages:               ShaderStageFlags(r.Uint32()),
		SamplerOrTextureName: randString(r, 12),
		Desc:                 randSamplerDesc(r),
	}
}

func randSignatureDesc(r *rand.Rand) *ResourceSignatureDesc {
	d := &ResourceSignatureDesc{
		BindingIndex:          uint8(r.Uint32()),
		UseCombinedSamplers:   randBool(r),
		CombinedSamplerSuffix: randString(r, 10),
	}
	for i := r.IntN(5); i > 0; i-- {
		d.Resources = append(d.Resources, PipelineResourceDesc{
			Name:         randString(r, 12),
			Stages:       ShaderStageFlags(r.Uint32()),
			ArraySize:    r.Uint32(),
			Type:         ResourceType(r.Uint32()),
			VariableType: ResourceVariableType(r.Uint32()),
			Flags:        PipelineResourceFlags(r.Uint32()),
		})
	}
	for i := r.IntN(3); i > 0; i-- {
		d.ImmutableSamplers = append(d.ImmutableSamplers, randImmutableSampler(r))
	}
	return d
}

func randAttachmentRef(r *rand.Rand) AttachmentReference {
	return AttachmentReference{AttachmentIndex: r.Uint32(), State: ResourceState(r.Uint32())}
}

func randRenderPassDesc(r *rand.Rand) *RenderPassDesc {
	d := &RenderPassDesc{}
	for i := r.IntN(MaxRenderTargets + 1); i > 0; i-- {
		d.Attachments = append(d.Attachments, RenderPassAttachmentDesc{
			Format:         gputypes.TextureFormat(r.Uint32()),
			SampleCount:    uint8(r.Uint32()),
			LoadOp:         gputypes.LoadOp(r.Uint32()),
			StoreOp:        gputypes.StoreOp(r.Uint32()),
			StencilLoadOp:  gputypes.LoadOp(r.Uint32()),
			StencilStoreOp: gputypes.StoreOp(r.Uint32()),
			InitialState:   ResourceState(r.Uint32()),
			FinalState:     ResourceState(r.Uint32()),
		})
	}
	for i := r.IntN(3); i > 0; i-- {
		sp := SubpassDesc{}
		for j := r.IntN(3); j > 0; j-- {
			sp.InputAttachments = append(sp.InputAttachments, randAttachmentRef(r))
		}
		for j := r.IntN(3); j > 0; j-- {
			sp.RenderTargetAttachments = append(sp.RenderTargetAttachments, randAttachmentRef(r))
		}
		for j := r.IntN(2); j > 0; j-- {
			sp.ResolveAttachments = append(sp.ResolveAttachments, randAttachmentRef(r))
		}
		for j := r.IntN(3); j > 0; j-- {
			sp.PreserveAttachments = append(sp.PreserveAttachments, r.Uint32())
		}
		if randBool(r) {
			ref := randAttachmentRef(r)
			sp.DepthStencilAttachment = &ref
		}
		if r.IntN(4) == 0 {
			sp.ShadingRateAttachment = &ShadingRateAttachment{
				Attachment: randAttachmentRef(r),
				TileSize:   [2]uint32{r.Uint32(), r.Uint32()},
			}
		}
		d.Subpasses = append(d.Subpasses, sp)
	}
	for i := r.IntN(3); i > 0; i-- {
		d.Dependencies = append(d.Dependencies, SubpassDependencyDesc{
			SrcSubpass: r.Uint32(), DstSubpass: r.Uint32(),
			SrcStageMask: r.Uint32(), DstStageMask: r.Uint32(),
			SrcAccessMask: r.Uint32(), DstAccessMask: r.Uint32(),
		})
	}
	return d
}

func randResourceLayout(r *rand.Rand) PipelineResourceLayoutDesc {
	d := PipelineResourceLayoutDesc{
		DefaultVariableType:   ResourceVariableType(r.Uint32()),
		DefaultVariableStages: ShaderStageFlags(r.Uint32()),
	}
	for i := r.IntN(3); i > 0; i-- {
		d.Variables = append(d.Variables, ShaderResourceVariableDesc{
			Name:   randString(r, 12),
			Stages: ShaderStageFlags(r.Uint32()),
			Type:   ResourceVariableType(r.Uint32()),
			Flags:  PipelineResourceFlags(r.Uint32()),
		})
	}
	for i := r.IntN(2); i > 0; i-- {
		d.ImmutableSamplers = append(d.ImmutableSamplers, randImmutableSampler(r))
	}
	return d
}

func randGraphicsCI(r *rand.Rand) *GraphicsPipelineCreateInfo {
	ci := &GraphicsPipelineCreateInfo{}
	ci.Flags = PipelineStateFlags(r.Uint32())
	ci.ResourceLayout = randResourceLayout(r)
	d := &ci.GraphicsPipeline
	d.Blend.AlphaToCoverageEnable = randBool(r)
	d.Blend.IndependentBlendEnable = randBool(r)
	for i := range d.Blend.RenderTargets {
		d.Blend.RenderTargets[i] = RenderTargetBlendDesc{
			BlendEnable:    randBool(r),
			LogicOpEnable:  randBool(r),
			SrcBlend:       gputypes.BlendFactor(r.Uint32()),
			DestBlend:      gputypes.BlendFactor(r.Uint32()),
			BlendOp:        gputypes.BlendOperation(r.Uint32()),
			SrcBlendAlpha:  gputypes.BlendFactor(r.Uint32()),
			DestBlendAlpha: gputypes.BlendFactor(r.Uint32()),
			BlendOpAlpha:   gputypes.BlendOperation(r.Uint32()),
			WriteMask:      ColorMask(r.Uint32()),
		}
	}
	d.SampleMask = r.Uint32()
	d.Rasterizer = RasterizerDesc{
		FillMode:              FillMode(r.Uint32()),
		CullMode:              gputypes.CullMode(r.Uint32()),
		FrontFace:             gputypes.FrontFace(r.Uint32()),
		DepthClipEnable:       randBool(r),
		ScissorEnable:         randBool(r),
		AntialiasedLineEnable: randBool(r),
		DepthBias:             int32(r.Uint32()),
		DepthBiasClamp:        r.Float32(),
		SlopeScaledDepthBias:  r.Float32(),
	}
	randStencil := func() StencilOpDesc {
		return StencilOpDesc{
			StencilFailOp:      StencilOp(r.Uint32()),
			StencilDepthFailOp: StencilOp(r.Uint32()),
			StencilPassOp:      StencilOp(r.Uint32()),
			StencilFunc:        gputypes.CompareFunction(r.Uint32()),
		}
	}
	d.DepthStencil = DepthStencilDesc{
		DepthEnable:      randBool(r),
		DepthWriteEnable: randBool(r),
		DepthFunc:        gputypes.CompareFunction(r.Uint32()),
		StencilEnable:    randBool(r),
		StencilReadMask:  uint8(r.Uint32()),
		StencilWriteMask: uint8(r.Uint32()),
		FrontFace:        randStencil(),
		BackFace:         randStencil(),
	}
	for i := r.IntN(4); i > 0; i-- {
		d.InputLayout = append(d.InputLayout, LayoutElement{
			HLSLSemantic:         randString(r, 10),
			InputIndex:           r.Uint32(),
			BufferSlot:           r.Uint32(),
			Format:               gputypes.VertexFormat(r.Uint32()),
			StepMode:             gputypes.VertexStepMode(r.Uint32()),
			RelativeOffset:       r.Uint32(),
			Stride:               r.Uint32(),
			InstanceDataStepRate: r.Uint32(),
		})
	}
	d.PrimitiveTopology = gputypes.PrimitiveTopology(r.Uint32())
	d.NumViewports = uint8(r.Uint32())
	d.NumRenderTargets = uint8(r.Uint32())
	d.SubpassIndex = uint8(r.Uint32())
	for i := range d.RTVFormats {
		d.RTVFormats[i] = gputypes.TextureFormat(r.Uint32())
	}
	d.DSVFormat = gputypes.TextureFormat(r.Uint32())
	d.SampleCount = uint8(r.Uint32())
	d.SampleQuality = uint8(r.Uint32())
	return ci
}

func TestSignatureDescRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewPCG(0x5049, 0x534f))
	for i := 0; i < 64; i++ {
		var in *ResourceSignatureDesc
		switch i {
		case 0:
			in = &ResourceSignatureDesc{} // zero counts, empty suffix
		case 1:
			// All-bits masks, maximum binding slot, full resource list.
			in = &ResourceSignatureDesc{
				BindingIndex:          0xFF,
				UseCombinedSamplers:   true,
				CombinedSamplerSuffix: "_s",
			}
			for j := 0; j < 16; j++ {
				in.Resources = append(in.Resources, PipelineResourceDesc{
					Name:         randString(r, 8),
					Stages:       ^ShaderStageFlags(0),
					ArraySize:    ^uint32(0),
					Type:         ^ResourceType(0),
					VariableType: ^ResourceVariableType(0),
					Flags:        ^PipelineResourceFlags(0),
				})
			}
		default:
			in = randSignatureDesc(r)
		}
		blob, err := measureAndWrite(func(s *serde.Serializer) error {
			return serializeSignatureDesc(s, in)
		})
		if err != nil {
			t.Fatalf("iter %d: %v", i, err)
		}
		out := &ResourceSignatureDesc{}
		rd := serde.NewReader(blob)
		if err := serializeSignatureDesc(rd, out); err != nil {
			t.Fatalf("iter %d: %v", i, err)
		}
		if !rd.IsEnd() {
			t.Fatalf("iter %d: record not fully consumed", i)
		}
		if !reflect.DeepEqual(in, out) {
			t.Fatalf("iter %d: round trip mismatch:\n in: %+v\nout: %+v", i, in, out)
		}
	}
}

func TestRenderPassDescRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewPCG(0x5250, 0x4443))
	for i := 0; i < 64; i++ {
		var in *RenderPassDesc
		switch i {
		case 0:
			in = &RenderPassDesc{} // no attachments, subpasses or dependencies
		case 1:
			// Maximum attachment count with all-bits states.
			in = &RenderPassDesc{}
			for j := 0; j < MaxRenderTargets; j++ {
				in.Attachments = append(in.Attachments, RenderPassAttachmentDesc{
					SampleCount:  0xFF,
					InitialState: ^ResourceState(0),
					FinalState:   ^ResourceState(0),
				})
			}
			in.Subpasses = append(in.Subpasses, SubpassDesc{
				DepthStencilAttachment: &AttachmentReference{AttachmentIndex: AttachmentUnused, State: ^ResourceState(0)},
			})
		default:
			in = randRenderPassDesc(r)
		}
		blob, err := measureAndWrite(func(s *serde.Serializer) error {
			return serializeRenderPassDesc(s, in)
		})
		if err != nil {
			t.Fatalf("iter %d: %v", i, err)
		}
		out := &RenderPassDesc{}
		rd := serde.NewReader(blob)
		if err := serializeRenderPassDesc(rd, out); err != nil {
			t.Fatalf("iter %d: %v", i, err)
		}
		if !rd.IsEnd() {
			t.Fatalf("iter %d: record not fully consumed", i)
		}
		if !reflect.DeepEqual(in, out) {
			t.Fatalf("iter %d: round trip mismatch:\n in: %+v\nout: %+v", i, in, out)
		}
	}
}

func TestGraphicsPipelineRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewPCG(0x4752, 0x5050))
	for i := 0; i < 32; i++ {
		in := randGraphicsCI(r)
		if i == 0 {
			in = &GraphicsPipelineCreateInfo{} // everything zero
		}
		var prsNames []string
		for j := r.IntN(MaxResourceSignatures + 1); j > 0; j-- {
			prsNames = append(prsNames, randString(r, 10))
		}
		rpName := randString(r, 10)

		pt := PipelineTypeGraphics
		blob, err := measureAndWrite(func(s *serde.Serializer) error {
			return serializeGraphicsPipeline(s, &pt, in, &prsNames, &rpName)
		})
		if err != nil {
			t.Fatalf("iter %d: %v", i, err)
		}
		out := &GraphicsPipelineCreateInfo{}
		var outPT PipelineType
		var outNames []string
		var outRP string
		rd := serde.NewReader(blob)
		if err := serializeGraphicsPipeline(rd, &outPT, out, &outNames, &outRP); err != nil {
			t.Fatalf("iter %d: %v", i, err)
		}
		if !rd.IsEnd() {
			t.Fatalf("iter %d: record not fully consumed", i)
		}
		if outPT != pt || outRP != rpName || !reflect.DeepEqual(outNames, prsNames) {
			t.Fatalf("iter %d: envelope mismatch: type=%v rp=%q names=%v", i, outPT, outRP, outNames)
		}
		if out.Flags != in.Flags || !reflect.DeepEqual(out.ResourceLayout, in.ResourceLayout) {
			t.Fatalf("iter %d: base state mismatch", i)
		}
		if !reflect.DeepEqual(out.GraphicsPipeline, in.GraphicsPipeline) {
			t.Fatalf("iter %d: fixed-function state mismatch:\n in: %+v\nout: %+v",
				i, in.GraphicsPipeline, out.GraphicsPipeline)
		}
	}
}

func TestRayTracingPipelineRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewPCG(0x5254, 0x5053))
	for i := 0; i < 32; i++ {
		pool := make([]*ShaderCreateInfo, 1+r.IntN(4))
		for j := range pool {
			pool[j] = &ShaderCreateInfo{Stage: ShaderStage(r.Uint32()), EntryPoint: randString(r, 8)}
		}
		pick := func() ShaderRef {
			if r.IntN(4) == 0 {
				return ShaderRef{} // slot left empty
			}
			return Ref(pool[r.IntN(len(pool))])
		}
		in := &RayTracingPipelineCreateInfo{
			RayTracingPipeline: RayTracingPipelineDesc{
				ShaderRecordSize:  uint16(r.Uint32()),
				MaxRecursionDepth: uint8(r.Uint32()),
			},
			ShaderRecordName: randString(r, 10),
			MaxAttributeSize: r.Uint32(),
			MaxPayloadSize:   r.Uint32(),
		}
		if i > 0 { // iteration 0 keeps every group list empty
			for j := r.IntN(3); j > 0; j-- {
				in.GeneralShaders = append(in.GeneralShaders,
					RayTracingGeneralShaderGroup{Name: randString(r, 8), Shader: pick()})
			}
			for j := r.IntN(3); j > 0; j-- {
				in.TriangleHitShaders = append(in.TriangleHitShaders,
					RayTracingTriangleHitShaderGroup{Name: randString(r, 8),
						ClosestHitShader: pick(), AnyHitShader: pick()})
			}
			for j := r.IntN(2); j > 0; j-- {
				in.ProceduralHitShaders = append(in.ProceduralHitShaders,
					RayTracingProceduralHitShaderGroup{Name: randString(r, 8),
						IntersectionShader: pick(), ClosestHitShader: pick(), AnyHitShader: pick()})
			}
		}
		local := make(map[*ShaderCreateInfo]uint32, len(pool))
		for j, sh := range pool {
			local[sh] = uint32(j)
		}
		remap := func(ref *ShaderRef) (uint32, error) {
			if ref.CreateInfo == nil {
				return invalidShaderIndex, nil
			}
			return local[ref.CreateInfo], nil
		}

		pt := PipelineTypeRayTracing
		var prsNames []string
		blob, err := measureAndWrite(func(s *serde.Serializer) error {
			return serializeRayTracingPipeline(s, &pt, in, &prsNames, remap)
		})
		if err != nil {
			t.Fatalf("iter %d: %v", i, err)
		}
		out := &RayTracingPipelineCreateInfo{}
		var outPT PipelineType
		var outNames []string
		rd := serde.NewReader(blob)
		if err := serializeRayTracingPipeline(rd, &outPT, out, &outNames, nil); err != nil {
			t.Fatalf("iter %d: %v", i, err)
		}
		if !rd.IsEnd() {
			t.Fatalf("iter %d: record not fully consumed", i)
		}
		if out.RayTracingPipeline != in.RayTracingPipeline ||
			out.ShaderRecordName != in.ShaderRecordName ||
			out.MaxAttributeSize != in.MaxAttributeSize ||
			out.MaxPayloadSize != in.MaxPayloadSize {
			t.Fatalf("iter %d: desc mismatch: %+v", i, out)
		}
		inRefs, outRefs := in.shaderRefs(), out.shaderRefs()
		if len(inRefs) != len(outRefs) {
			t.Fatalf("iter %d: slot count %d != %d", i, len(outRefs), len(inRefs))
		}
		for k := range inRefs {
			want := invalidShaderIndex
			if inRefs[k].CreateInfo != nil {
				want = local[inRefs[k].CreateInfo]
			}
			if outRefs[k].index != want {
				t.Fatalf("iter %d: slot %d index %d, want %d", i, k, outRefs[k].index, want)
			}
		}
		for k := range in.GeneralShaders {
			if out.GeneralShaders[k].Name != in.GeneralShaders[k].Name {
				t.Fatalf("iter %d: general group %d name mismatch", i, k)
			}
		}
	}
}

func TestListCountExceedingInputFails(t *testing.T) {
	// A count field near 2^32 with nothing behind it must fail before any
	// allocation is sized from it.
	blob := binary.LittleEndian.AppendUint32(nil, 0xFFFFFFFF)
	out := &ResourceSignatureDesc{}
	if err := serializeSignatureDesc(serde.NewReader(blob), out); !errors.Is(err, serde.ErrShortBuffer) {
		t.Errorf("err = %v, want ErrShortBuffer", err)
	}
}

func TestCompiledShaderRoundTrip(t *testing.T) {
	in := CompiledShader{
		Stage:          ShaderStagePixel,
		EntryPoint:     "PSMain",
		SourceLanguage: SourceLanguageHLSL,
		Compiler:       ShaderCompilerDXC,
		Bytes:          []byte{0x44, 0x58, 0x42, 0x43, 0, 1, 2, 3},
	}
	blob, err := measureAndWrite(func(s *serde.Serializer) error {
		return serializeCompiledShader(s, &in)
	})
	if err != nil {
		t.Fatal(err)
	}
	var out CompiledShader
	if err := serializeCompiledShader(serde.NewReader(blob), &out); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestDedupTable(t *testing.T) {
	var tab dedupTable
	a := []byte("shader-a")
	b := []byte("shader-b")

	i0 := tab.addOrFind(a)
	i1 := tab.addOrFind(b)
	if i0 == i1 {
		t.Fatal("distinct payloads must get distinct indices")
	}
	if again := tab.addOrFind(append([]byte(nil), a...)); again != i0 {
		t.Errorf("identical payload got index %d, want %d", again, i0)
	}

	// A single flipped byte must not collide.
	c := append([]byte(nil), a...)
	c[0] ^= 1
	if i2 := tab.addOrFind(c); i2 == i0 {
		t.Error("near-identical payload deduplicated incorrectly")
	}
	if tab.len() != 3 {
		t.Errorf("table holds %d entries, want 3", tab.len())
	}
}
