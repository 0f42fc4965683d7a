package psopack

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Unpack-time overrides. An override carries a flag mask naming the fields
// to replace; only flagged fields are read. Flags outside the known set are
// an error, never silently ignored, so a caller built against a newer
// revision fails loudly instead of getting a half-applied override.

// GraphicsPipelineOverrideFlags selects the fields of a stored graphics
// pipeline to replace at unpack time.
type GraphicsPipelineOverrideFlags uint32

const (
	GraphicsOverrideName GraphicsPipelineOverrideFlags = 1 << iota
	GraphicsOverrideBlend
	GraphicsOverrideSampleMask
	GraphicsOverrideRasterizer
	GraphicsOverrideDepthStencil
	GraphicsOverrideInputLayout
	GraphicsOverridePrimitiveTopology
	GraphicsOverrideNumViewports
	// GraphicsOverrideRenderTargets replaces NumRenderTargets and
	// RTVFormats together.
	GraphicsOverrideRenderTargets
	GraphicsOverrideDepthTarget
	// GraphicsOverrideSampleDesc replaces SampleCount and SampleQuality
	// together.
	GraphicsOverrideSampleDesc

	graphicsOverrideEnd
)

// GraphicsPipelineOverrides replaces selected fixed-function state of a
// stored graphics pipeline.
type GraphicsPipelineOverrides struct {
	Flags GraphicsPipelineOverrideFlags

	Name              string
	Blend             BlendStateDesc
	SampleMask        uint32
	Rasterizer        RasterizerDesc
	DepthStencil      DepthStencilDesc
	InputLayout       []LayoutElement
	PrimitiveTopology gputypes.PrimitiveTopology
	NumViewports      uint8
	NumRenderTargets  uint8
	RTVFormats        [MaxRenderTargets]gputypes.TextureFormat
	DSVFormat         gputypes.TextureFormat
	SampleCount       uint8
	SampleQuality     uint8
}

func (o *GraphicsPipelineOverrides) active() bool { return o != nil && o.Flags != 0 }

func (o *GraphicsPipelineOverrides) apply(ci *GraphicsPipelineCreateInfo) error {
	if !o.active() {
		return nil
	}
	if unknown := o.Flags &^ (graphicsOverrideEnd - 1); unknown != 0 {
		return fmt.Errorf("%w: unknown graphics override flags %#x", ErrInvalidArgument, uint32(unknown))
	}
	d := &ci.GraphicsPipeline
	for flags := o.Flags; flags != 0; {
		bit := flags & -flags
		flags &^= bit
		switch bit {
		case GraphicsOverrideName:
			if o.Name == "" {
				return fmt.Errorf("%w: override name is empty", ErrInvalidArgument)
			}
			ci.Name = o.Name
		case GraphicsOverrideBlend:
			d.Blend = o.Blend
		case GraphicsOverrideSampleMask:
			d.SampleMask = o.SampleMask
		case GraphicsOverrideRasterizer:
			d.Rasterizer = o.Rasterizer
		case GraphicsOverrideDepthStencil:
			d.DepthStencil = o.DepthStencil
		case GraphicsOverrideInputLayout:
			d.InputLayout = o.InputLayout
		case GraphicsOverridePrimitiveTopology:
			d.PrimitiveTopology = o.PrimitiveTopology
		case GraphicsOverrideNumViewports:
			d.NumViewports = o.NumViewports
		case GraphicsOverrideRenderTargets:
			if int(o.NumRenderTargets) > MaxRenderTargets {
				return fmt.Errorf("%w: override declares %d render targets", ErrInvalidArgument, o.NumRenderTargets)
			}
			d.NumRenderTargets = o.NumRenderTargets
			d.RTVFormats = o.RTVFormats
		case GraphicsOverrideDepthTarget:
			d.DSVFormat = o.DSVFormat
		case GraphicsOverrideSampleDesc:
			d.SampleCount = o.SampleCount
			d.SampleQuality = o.SampleQuality
		}
	}
	return nil
}

// TilePipelineOverrideFlags selects the fields of a stored tile pipeline to
// replace at unpack time.
type TilePipelineOverrideFlags uint32

const (
	TileOverrideName TilePipelineOverrideFlags = 1 << iota
	TileOverrideRenderTargets
	TileOverrideSampleCount

	tileOverrideEnd
)

// TilePipelineOverrides replaces selected state of a stored tile pipeline.
type TilePipelineOverrides struct {
	Flags TilePipelineOverrideFlags

	Name             string
	NumRenderTargets uint8
	RTVFormats       [MaxRenderTargets]gputypes.TextureFormat
	SampleCount      uint8
}

func (o *TilePipelineOverrides) active() bool { return o != nil && o.Flags != 0 }

func (o *TilePipelineOverrides) apply(ci *TilePipelineCreateInfo) error {
	if !o.active() {
		return nil
	}
	if unknown := o.Flags &^ (tileOverrideEnd - 1); unknown != 0 {
		return fmt.Errorf("%w: unknown tile override flags %#x", ErrInvalidArgument, uint32(unknown))
	}
	for flags := o.Flags; flags != 0; {
		bit := flags & -flags
		flags &^= bit
		switch bit {
		case TileOverrideName:
			if o.Name == "" {
				return fmt.Errorf("%w: override name is empty", ErrInvalidArgument)
			}
			ci.Name = o.Name
		case TileOverrideRenderTargets:
			if int(o.NumRenderTargets) > MaxRenderTargets {
				return fmt.Errorf("%w: override declares %d render targets", ErrInvalidArgument, o.NumRenderTargets)
			}
			ci.TilePipeline.NumRenderTargets = o.NumRenderTargets
			ci.TilePipeline.RTVFormats = o.RTVFormats
		case TileOverrideSampleCount:
			ci.TilePipeline.SampleCount = o.SampleCount
		}
	}
	return nil
}

// RenderPassAttachmentOverrideFlags selects the fields of one stored
// attachment to replace.
type RenderPassAttachmentOverrideFlags uint32

const (
	AttachmentOverrideFormat RenderPassAttachmentOverrideFlags = 1 << iota
	AttachmentOverrideSampleCount
	AttachmentOverrideLoadOps
	AttachmentOverrideStoreOps
	AttachmentOverrideStates

	attachmentOverrideEnd
)

// RenderPassAttachmentOverride replaces selected fields of one attachment.
type RenderPassAttachmentOverride struct {
	AttachmentIndex uint32
	Flags           RenderPassAttachmentOverrideFlags

	Format         gputypes.TextureFormat
	SampleCount    uint8
	LoadOp         gputypes.LoadOp
	StencilLoadOp  gputypes.LoadOp
	StoreOp        gputypes.StoreOp
	StencilStoreOp gputypes.StoreOp
	InitialState   ResourceState
	FinalState     ResourceState
}

// RenderPassOverrides adjusts a stored render pass at unpack time, e.g. to
// retarget it at the swap chain's actual surface format.
type RenderPassOverrides struct {
	Attachments []RenderPassAttachmentOverride
}

func (o *RenderPassOverrides) active() bool { return o != nil && len(o.Attachments) > 0 }

func (o *RenderPassOverrides) apply(desc *RenderPassDesc) error {
	if !o.active() {
		return nil
	}
	for i := range o.Attachments {
		ov := &o.Attachments[i]
		if int(ov.AttachmentIndex) >= len(desc.Attachments) {
			return fmt.Errorf("%w: attachment override index %d of %d",
				ErrInvalidArgument, ov.AttachmentIndex, len(desc.Attachments))
		}
		if unknown := ov.Flags &^ (attachmentOverrideEnd - 1); unknown != 0 {
			return fmt.Errorf("%w: unknown attachment override flags %#x", ErrInvalidArgument, uint32(unknown))
		}
		att := &desc.Attachments[ov.AttachmentIndex]
		for flags := ov.Flags; flags != 0; {
			bit := flags & -flags
			flags &^= bit
			switch bit {
			case AttachmentOverrideFormat:
				att.Format = ov.Format
			case AttachmentOverrideSampleCount:
				att.SampleCount = ov.SampleCount
			case AttachmentOverrideLoadOps:
				att.LoadOp = ov.LoadOp
				att.StencilLoadOp = ov.StencilLoadOp
			case AttachmentOverrideStoreOps:
				att.StoreOp = ov.StoreOp
				att.StencilStoreOp = ov.StencilStoreOp
			case AttachmentOverrideStates:
				att.InitialState = ov.InitialState
				att.FinalState = ov.FinalState
			}
		}
	}
	return nil
}
