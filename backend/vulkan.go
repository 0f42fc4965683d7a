package backend

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/psopack"
)

func init() {
	Register(psopack.DeviceVulkan, VulkanPatcher)
}

// VulkanPatcher prepares shaders for Vulkan devices. WGSL sources are
// compiled to SPIR-V with naga so the archive stores bytecode the driver
// loads directly; everything else passes through unchanged.
func VulkanPatcher(dev psopack.DeviceType, shaders []psopack.ShaderCreateInfo) ([]psopack.CompiledShader, error) {
	out := make([]psopack.CompiledShader, len(shaders))
	for i := range shaders {
		ci := &shaders[i]
		cs := psopack.CompiledShader{
			Stage:          ci.Stage,
			EntryPoint:     ci.EntryPoint,
			SourceLanguage: ci.SourceLanguage,
			Compiler:       ci.Compiler,
		}
		if ci.SourceLanguage == psopack.SourceLanguageWGSL && len(ci.ByteCode) == 0 {
			spirv, err := naga.Compile(ci.Source)
			if err != nil {
				return nil, fmt.Errorf("backend: compile %s shader %q for %s: %w",
					ci.Stage, ci.EntryPoint, dev, err)
			}
			cs.Bytes = spirv
			// The record now holds bytecode, not text.
			cs.SourceLanguage = psopack.SourceLanguageDefault
			cs.Compiler = psopack.ShaderCompilerNaga
			out[i] = cs
			continue
		}
		if len(ci.ByteCode) != 0 {
			cs.Bytes = ci.ByteCode
		} else {
			cs.Bytes = []byte(ci.Source)
		}
		out[i] = cs
	}
	return out, nil
}
