package shaders

import (
	_ "embed"
)

//go:embed particle_common.wgsl
var particleCommonWGSL string

//go:embed particle_emit.wgsl
var particleEmitWGSL string

//go:embed particle_update.wgsl
var particleUpdateWGSL string

//go:embed particle_render.wgsl
var particleRenderWGSL string

// Each compute module is prefixed with the shared struct and helper definitions.
var (
	ParticleEmitWGSL   = particleCommonWGSL + particleEmitWGSL
	ParticleUpdateWGSL = particleCommonWGSL + particleUpdateWGSL
	ParticleRenderWGSL = particleCommonWGSL + particleRenderWGSL
)
