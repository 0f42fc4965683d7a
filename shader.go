package psopack

// ShaderStage identifies the pipeline stage a shader executes in.
type ShaderStage uint32

const (
	ShaderStageUnknown ShaderStage = iota
	ShaderStageVertex
	ShaderStagePixel
	ShaderStageGeometry
	ShaderStageHull
	ShaderStageDomain
	ShaderStageCompute
	ShaderStageAmplification
	ShaderStageMesh
	ShaderStageRayGen
	ShaderStageRayMiss
	ShaderStageRayClosestHit
	ShaderStageRayAnyHit
	ShaderStageRayIntersection
	ShaderStageCallable
	ShaderStageTile
)

// String returns the stage name.
func (st ShaderStage) String() string {
	switch st {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStagePixel:
		return "pixel"
	case ShaderStageGeometry:
		return "geometry"
	case ShaderStageHull:
		return "hull"
	case ShaderStageDomain:
		return "domain"
	case ShaderStageCompute:
		return "compute"
	case ShaderStageAmplification:
		return "amplification"
	case ShaderStageMesh:
		return "mesh"
	case ShaderStageRayGen:
		return "ray_gen"
	case ShaderStageRayMiss:
		return "ray_miss"
	case ShaderStageRayClosestHit:
		return "ray_closest_hit"
	case ShaderStageRayAnyHit:
		return "ray_any_hit"
	case ShaderStageRayIntersection:
		return "ray_intersection"
	case ShaderStageCallable:
		return "callable"
	case ShaderStageTile:
		return "tile"
	default:
		return "unknown"
	}
}

// SourceLanguage identifies the language a shader was authored in.
type SourceLanguage uint32

const (
	SourceLanguageDefault SourceLanguage = iota
	SourceLanguageHLSL
	SourceLanguageGLSL
	SourceLanguageWGSL
	SourceLanguageMSL
)

// ShaderCompiler identifies the compiler that produced (or should produce)
// the device bytecode.
type ShaderCompiler uint32

const (
	ShaderCompilerDefault ShaderCompiler = iota
	ShaderCompilerGlslang
	ShaderCompilerDXC
	ShaderCompilerFXC
	ShaderCompilerNaga
)

// ShaderCreateInfo describes one shader attached to a pipeline being
// archived. Exactly one of Source and ByteCode must be set; a backend
// patcher may replace either with device bytecode before the shader is
// stored.
type ShaderCreateInfo struct {
	Stage          ShaderStage
	EntryPoint     string
	SourceLanguage SourceLanguage
	Compiler       ShaderCompiler

	// Source is the shader text. Stored as-is for source-consuming
	// backends unless a patcher compiles it.
	Source string

	// ByteCode is precompiled device bytecode.
	ByteCode []byte
}

// payload returns the bytes that travel in the archive for this shader.
func (ci *ShaderCreateInfo) payload() []byte {
	if len(ci.ByteCode) != 0 {
		return ci.ByteCode
	}
	return []byte(ci.Source)
}

// CompiledShader is one device-ready shader record: the metadata needed to
// recreate the shader plus its payload bytes. This is the unit the
// per-device deduplication table and the archive shader segments store.
type CompiledShader struct {
	Stage          ShaderStage
	EntryPoint     string
	SourceLanguage SourceLanguage
	Compiler       ShaderCompiler
	Bytes          []byte
}

// createInfo reconstructs the create info a Device consumes.
func (cs *CompiledShader) createInfo() *ShaderCreateInfo {
	ci := &ShaderCreateInfo{
		Stage:          cs.Stage,
		EntryPoint:     cs.EntryPoint,
		SourceLanguage: cs.SourceLanguage,
		Compiler:       cs.Compiler,
	}
	// Text languages ride in Source so backends that compile at creation
	// time see them where they expect them.
	switch cs.SourceLanguage {
	case SourceLanguageDefault:
		ci.ByteCode = cs.Bytes
	default:
		ci.Source = string(cs.Bytes)
	}
	return ci
}

// Patcher converts the shaders of one pipeline into device-ready records
// for a single device type. Implementations must return one record per
// input, in input order. The default patcher passes payloads through
// unchanged.
type Patcher func(dev DeviceType, shaders []ShaderCreateInfo) ([]CompiledShader, error)

// PassthroughPatcher stores each shader's source or bytecode as provided.
func PassthroughPatcher(dev DeviceType, shaders []ShaderCreateInfo) ([]CompiledShader, error) {
	out := make([]CompiledShader, len(shaders))
	for i := range shaders {
		ci := &shaders[i]
		out[i] = CompiledShader{
			Stage:          ci.Stage,
			EntryPoint:     ci.EntryPoint,
			SourceLanguage: ci.SourceLanguage,
			Compiler:       ci.Compiler,
			Bytes:          ci.payload(),
		}
	}
	return out, nil
}
