package psopack

import (
	"fmt"

	"github.com/gogpu/psopack/serde"
)

// Descriptor serializers. Each function runs identically in measure, write
// and read mode; field order is part of the file format and must not
// change between modes or releases without a version bump.

// serializeList serializes a uint32 count followed by the elements.
func serializeList[T any](s *serde.Serializer, items *[]T, fn func(*serde.Serializer, *T) error) error {
	n := uint32(len(*items))
	if err := s.Uint32(&n); err != nil {
		return err
	}
	if s.Mode() == serde.Read {
		// Every element consumes at least one byte, so a count beyond the
		// remaining input is corrupt. Checked before the allocation.
		if int64(n) > int64(s.Remaining()) {
			return fmt.Errorf("%w: list count %d exceeds %d remaining bytes", serde.ErrShortBuffer, n, s.Remaining())
		}
		if n == 0 {
			*items = nil
		} else {
			*items = make([]T, n)
		}
	}
	for i := range *items {
		if err := fn(s, &(*items)[i]); err != nil {
			return err
		}
	}
	return nil
}

// serializeOpt serializes a presence flag followed by the value, if any.
func serializeOpt[T any](s *serde.Serializer, v **T, fn func(*serde.Serializer, *T) error) error {
	has := *v != nil
	if err := s.Bool(&has); err != nil {
		return err
	}
	if s.Mode() == serde.Read {
		if !has {
			*v = nil
		} else if *v == nil {
			*v = new(T)
		}
	}
	if !has {
		return nil
	}
	return fn(s, *v)
}

func serializeCompiledShader(s *serde.Serializer, sh *CompiledShader) error {
	if err := serde.Enum(s, &sh.Stage); err != nil {
		return err
	}
	if err := s.Str(&sh.EntryPoint); err != nil {
		return err
	}
	if err := serde.Enum(s, &sh.SourceLanguage); err != nil {
		return err
	}
	if err := serde.Enum(s, &sh.Compiler); err != nil {
		return err
	}
	// Payload is last so it needs no length prefix of its own.
	return s.Raw(&sh.Bytes)
}

// serializeShaderIndices serializes a pipeline's per-device list of indices
// into the device shader table.
func serializeShaderIndices(s *serde.Serializer, idx *[]uint32) error {
	return serializeList(s, idx, func(s *serde.Serializer, v *uint32) error {
		return s.Uint32(v)
	})
}

func serializeSamplerDesc(s *serde.Serializer, d *SamplerDesc) error {
	for _, f := range []*FilterType{&d.MinFilter, &d.MagFilter, &d.MipFilter} {
		if err := serde.Enum(s, f); err != nil {
			return err
		}
	}
	for _, a := range []*AddressMode{&d.AddressU, &d.AddressV, &d.AddressW} {
		if err := serde.Enum(s, a); err != nil {
			return err
		}
	}
	if err := s.Float32(&d.MipLODBias); err != nil {
		return err
	}
	if err := s.Uint32(&d.MaxAnisotropy); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.ComparisonFunc); err != nil {
		return err
	}
	if err := s.Float32(&d.MinLOD); err != nil {
		return err
	}
	return s.Float32(&d.MaxLOD)
}

func serializeImmutableSampler(s *serde.Serializer, d *ImmutableSamplerDesc) error {
	if err := serde.Enum(s, &d.Stages); err != nil {
		return err
	}
	if err := s.Str(&d.SamplerOrTextureName); err != nil {
		return err
	}
	return serializeSamplerDesc(s, &d.Desc)
}

func serializePipelineResource(s *serde.Serializer, d *PipelineResourceDesc) error {
	if err := s.Str(&d.Name); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.Stages); err != nil {
		return err
	}
	if err := s.Uint32(&d.ArraySize); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.Type); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.VariableType); err != nil {
		return err
	}
	return serde.Enum(s, &d.Flags)
}

// serializeSignatureDesc serializes a resource signature descriptor. The
// name lives in the chunk's named-resource table, not in the record.
func serializeSignatureDesc(s *serde.Serializer, d *ResourceSignatureDesc) error {
	if err := serializeList(s, &d.Resources, serializePipelineResource); err != nil {
		return err
	}
	if err := serializeList(s, &d.ImmutableSamplers, serializeImmutableSampler); err != nil {
		return err
	}
	if err := s.Uint8(&d.BindingIndex); err != nil {
		return err
	}
	if err := s.Bool(&d.UseCombinedSamplers); err != nil {
		return err
	}
	return s.Str(&d.CombinedSamplerSuffix)
}

func serializeAttachmentRef(s *serde.Serializer, r *AttachmentReference) error {
	if err := s.Uint32(&r.AttachmentIndex); err != nil {
		return err
	}
	return serde.Enum(s, &r.State)
}

func serializeShadingRate(s *serde.Serializer, a *ShadingRateAttachment) error {
	if err := serializeAttachmentRef(s, &a.Attachment); err != nil {
		return err
	}
	if err := s.Uint32(&a.TileSize[0]); err != nil {
		return err
	}
	return s.Uint32(&a.TileSize[1])
}

func serializeAttachmentDesc(s *serde.Serializer, d *RenderPassAttachmentDesc) error {
	if err := serde.Enum(s, &d.Format); err != nil {
		return err
	}
	if err := s.Uint8(&d.SampleCount); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.LoadOp); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.StoreOp); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.StencilLoadOp); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.StencilStoreOp); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.InitialState); err != nil {
		return err
	}
	return serde.Enum(s, &d.FinalState)
}

func serializeSubpass(s *serde.Serializer, d *SubpassDesc) error {
	if err := serializeList(s, &d.InputAttachments, serializeAttachmentRef); err != nil {
		return err
	}
	if err := serializeList(s, &d.RenderTargetAttachments, serializeAttachmentRef); err != nil {
		return err
	}
	if err := serializeList(s, &d.ResolveAttachments, serializeAttachmentRef); err != nil {
		return err
	}
	if err := serializeList(s, &d.PreserveAttachments, func(s *serde.Serializer, v *uint32) error {
		return s.Uint32(v)
	}); err != nil {
		return err
	}
	if err := serializeOpt(s, &d.DepthStencilAttachment, serializeAttachmentRef); err != nil {
		return err
	}
	return serializeOpt(s, &d.ShadingRateAttachment, serializeShadingRate)
}

func serializeSubpassDependency(s *serde.Serializer, d *SubpassDependencyDesc) error {
	for _, v := range []*uint32{
		&d.SrcSubpass, &d.DstSubpass,
		&d.SrcStageMask, &d.DstStageMask,
		&d.SrcAccessMask, &d.DstAccessMask,
	} {
		if err := s.Uint32(v); err != nil {
			return err
		}
	}
	return nil
}

// serializeRenderPassDesc serializes a render pass descriptor, name
// excluded.
func serializeRenderPassDesc(s *serde.Serializer, d *RenderPassDesc) error {
	if err := serializeList(s, &d.Attachments, serializeAttachmentDesc); err != nil {
		return err
	}
	if err := serializeList(s, &d.Subpasses, serializeSubpass); err != nil {
		return err
	}
	return serializeList(s, &d.Dependencies, serializeSubpassDependency)
}

func serializeResourceVariable(s *serde.Serializer, d *ShaderResourceVariableDesc) error {
	if err := s.Str(&d.Name); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.Stages); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.Type); err != nil {
		return err
	}
	return serde.Enum(s, &d.Flags)
}

func serializeResourceLayout(s *serde.Serializer, d *PipelineResourceLayoutDesc) error {
	if err := serde.Enum(s, &d.DefaultVariableType); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.DefaultVariableStages); err != nil {
		return err
	}
	if err := serializeList(s, &d.Variables, serializeResourceVariable); err != nil {
		return err
	}
	return serializeList(s, &d.ImmutableSamplers, serializeImmutableSampler)
}

// serializePipelineBase serializes the part common to all pipeline kinds:
// the type tag, flags, implicit layout and the names of the bound resource
// signatures.
func serializePipelineBase(s *serde.Serializer, pt *PipelineType, ci *PipelineStateCreateInfo, prsNames *[]string) error {
	if err := serde.Enum(s, pt); err != nil {
		return err
	}
	if err := serde.Enum(s, &ci.Flags); err != nil {
		return err
	}
	if err := serializeResourceLayout(s, &ci.ResourceLayout); err != nil {
		return err
	}
	return serializeList(s, prsNames, func(s *serde.Serializer, v *string) error {
		return s.Str(v)
	})
}

func serializeBlendTarget(s *serde.Serializer, d *RenderTargetBlendDesc) error {
	if err := s.Bool(&d.BlendEnable); err != nil {
		return err
	}
	if err := s.Bool(&d.LogicOpEnable); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.SrcBlend); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.DestBlend); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.BlendOp); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.SrcBlendAlpha); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.DestBlendAlpha); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.BlendOpAlpha); err != nil {
		return err
	}
	return serde.Enum(s, &d.WriteMask)
}

func serializeBlendState(s *serde.Serializer, d *BlendStateDesc) error {
	if err := s.Bool(&d.AlphaToCoverageEnable); err != nil {
		return err
	}
	if err := s.Bool(&d.IndependentBlendEnable); err != nil {
		return err
	}
	for i := range d.RenderTargets {
		if err := serializeBlendTarget(s, &d.RenderTargets[i]); err != nil {
			return err
		}
	}
	return nil
}

func serializeRasterizer(s *serde.Serializer, d *RasterizerDesc) error {
	if err := serde.Enum(s, &d.FillMode); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.CullMode); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.FrontFace); err != nil {
		return err
	}
	if err := s.Bool(&d.DepthClipEnable); err != nil {
		return err
	}
	if err := s.Bool(&d.ScissorEnable); err != nil {
		return err
	}
	if err := s.Bool(&d.AntialiasedLineEnable); err != nil {
		return err
	}
	if err := s.Int32(&d.DepthBias); err != nil {
		return err
	}
	if err := s.Float32(&d.DepthBiasClamp); err != nil {
		return err
	}
	return s.Float32(&d.SlopeScaledDepthBias)
}

func serializeStencilOp(s *serde.Serializer, d *StencilOpDesc) error {
	if err := serde.Enum(s, &d.StencilFailOp); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.StencilDepthFailOp); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.StencilPassOp); err != nil {
		return err
	}
	return serde.Enum(s, &d.StencilFunc)
}

func serializeDepthStencil(s *serde.Serializer, d *DepthStencilDesc) error {
	if err := s.Bool(&d.DepthEnable); err != nil {
		return err
	}
	if err := s.Bool(&d.DepthWriteEnable); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.DepthFunc); err != nil {
		return err
	}
	if err := s.Bool(&d.StencilEnable); err != nil {
		return err
	}
	if err := s.Uint8(&d.StencilReadMask); err != nil {
		return err
	}
	if err := s.Uint8(&d.StencilWriteMask); err != nil {
		return err
	}
	if err := serializeStencilOp(s, &d.FrontFace); err != nil {
		return err
	}
	return serializeStencilOp(s, &d.BackFace)
}

func serializeLayoutElement(s *serde.Serializer, d *LayoutElement) error {
	if err := s.Str(&d.HLSLSemantic); err != nil {
		return err
	}
	if err := s.Uint32(&d.InputIndex); err != nil {
		return err
	}
	if err := s.Uint32(&d.BufferSlot); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.Format); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.StepMode); err != nil {
		return err
	}
	if err := s.Uint32(&d.RelativeOffset); err != nil {
		return err
	}
	if err := s.Uint32(&d.Stride); err != nil {
		return err
	}
	return s.Uint32(&d.InstanceDataStepRate)
}

// serializeGraphicsPipeline serializes the shared record of a graphics or
// mesh pipeline. The render pass travels by name; rpName is empty when the
// pipeline has none.
func serializeGraphicsPipeline(s *serde.Serializer, pt *PipelineType, ci *GraphicsPipelineCreateInfo, prsNames *[]string, rpName *string) error {
	if err := serializePipelineBase(s, pt, &ci.PipelineStateCreateInfo, prsNames); err != nil {
		return err
	}
	d := &ci.GraphicsPipeline
	if err := serializeBlendState(s, &d.Blend); err != nil {
		return err
	}
	if err := s.Uint32(&d.SampleMask); err != nil {
		return err
	}
	if err := serializeRasterizer(s, &d.Rasterizer); err != nil {
		return err
	}
	if err := serializeDepthStencil(s, &d.DepthStencil); err != nil {
		return err
	}
	if err := serializeList(s, &d.InputLayout, serializeLayoutElement); err != nil {
		return err
	}
	if err := serde.Enum(s, &d.PrimitiveTopology); err != nil {
		return err
	}
	if err := s.Uint8(&d.NumViewports); err != nil {
		return err
	}
	if err := s.Uint8(&d.NumRenderTargets); err != nil {
		return err
	}
	if err := s.Uint8(&d.SubpassIndex); err != nil {
		return err
	}
	for i := range d.RTVFormats {
		if err := serde.Enum(s, &d.RTVFormats[i]); err != nil {
			return err
		}
	}
	if err := serde.Enum(s, &d.DSVFormat); err != nil {
		return err
	}
	if err := s.Uint8(&d.SampleCount); err != nil {
		return err
	}
	if err := s.Uint8(&d.SampleQuality); err != nil {
		return err
	}
	return s.Str(rpName)
}

// serializeComputePipeline serializes the shared record of a compute
// pipeline. Beyond the common part there is no fixed-function state.
func serializeComputePipeline(s *serde.Serializer, pt *PipelineType, ci *ComputePipelineCreateInfo, prsNames *[]string) error {
	return serializePipelineBase(s, pt, &ci.PipelineStateCreateInfo, prsNames)
}

func serializeTilePipeline(s *serde.Serializer, pt *PipelineType, ci *TilePipelineCreateInfo, prsNames *[]string) error {
	if err := serializePipelineBase(s, pt, &ci.PipelineStateCreateInfo, prsNames); err != nil {
		return err
	}
	d := &ci.TilePipeline
	if err := s.Uint8(&d.NumRenderTargets); err != nil {
		return err
	}
	if err := s.Uint8(&d.SampleCount); err != nil {
		return err
	}
	for i := range d.RTVFormats {
		if err := serde.Enum(s, &d.RTVFormats[i]); err != nil {
			return err
		}
	}
	return nil
}

// shaderRemap computes the wire index of a shader group slot on the way
// out, leaving the slot itself untouched. Nil when reading.
type shaderRemap func(ref *ShaderRef) (uint32, error)

func serializeShaderSlot(s *serde.Serializer, ref *ShaderRef, remap shaderRemap) error {
	if remap == nil {
		return s.Uint32(&ref.index)
	}
	idx, err := remap(ref)
	if err != nil {
		return err
	}
	return s.Uint32(&idx)
}

// serializeRayTracingPipeline serializes the shared record of a ray-tracing
// pipeline. Group shader slots travel as indices into the pipeline's shader
// list; remap computes them on the way out and must be nil on the way in.
func serializeRayTracingPipeline(s *serde.Serializer, pt *PipelineType, ci *RayTracingPipelineCreateInfo, prsNames *[]string, remap shaderRemap) error {
	if err := serializePipelineBase(s, pt, &ci.PipelineStateCreateInfo, prsNames); err != nil {
		return err
	}
	d := &ci.RayTracingPipeline
	if err := s.Uint16(&d.ShaderRecordSize); err != nil {
		return err
	}
	if err := s.Uint8(&d.MaxRecursionDepth); err != nil {
		return err
	}
	if err := s.Str(&ci.ShaderRecordName); err != nil {
		return err
	}
	if err := s.Uint32(&ci.MaxAttributeSize); err != nil {
		return err
	}
	if err := s.Uint32(&ci.MaxPayloadSize); err != nil {
		return err
	}
	if err := serializeList(s, &ci.GeneralShaders, func(s *serde.Serializer, g *RayTracingGeneralShaderGroup) error {
		if err := s.Str(&g.Name); err != nil {
			return err
		}
		return serializeShaderSlot(s, &g.Shader, remap)
	}); err != nil {
		return err
	}
	if err := serializeList(s, &ci.TriangleHitShaders, func(s *serde.Serializer, g *RayTracingTriangleHitShaderGroup) error {
		if err := s.Str(&g.Name); err != nil {
			return err
		}
		if err := serializeShaderSlot(s, &g.ClosestHitShader, remap); err != nil {
			return err
		}
		return serializeShaderSlot(s, &g.AnyHitShader, remap)
	}); err != nil {
		return err
	}
	return serializeList(s, &ci.ProceduralHitShaders, func(s *serde.Serializer, g *RayTracingProceduralHitShaderGroup) error {
		if err := s.Str(&g.Name); err != nil {
			return err
		}
		if err := serializeShaderSlot(s, &g.IntersectionShader, remap); err != nil {
			return err
		}
		if err := serializeShaderSlot(s, &g.ClosestHitShader, remap); err != nil {
			return err
		}
		return serializeShaderSlot(s, &g.AnyHitShader, remap)
	})
}

// measureAndWrite runs fn once to size the record and once to encode it.
// The two passes must agree exactly.
func measureAndWrite(fn func(*serde.Serializer) error) ([]byte, error) {
	m := serde.NewMeasurer()
	if err := fn(m); err != nil {
		return nil, err
	}
	buf := make([]byte, m.Size())
	w := serde.NewWriter(buf)
	if err := fn(w); err != nil {
		return nil, err
	}
	if !w.IsEnd() {
		return nil, fmt.Errorf("psopack: measured size %d disagrees with written size %d", m.Size(), w.Size())
	}
	return buf, nil
}
