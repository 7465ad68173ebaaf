package webgpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/particles/gpu"
	"github.com/gekko3d/particles/gpu/shaders"
)

type pipelines struct {
	emitModule   *wgpu.ShaderModule
	updateModule *wgpu.ShaderModule
	renderModule *wgpu.ShaderModule

	computeBGL *wgpu.BindGroupLayout // pool, dead list, alive sets, counters, draw args
	emitBGL    *wgpu.BindGroupLayout
	updateBGL  *wgpu.BindGroupLayout
	renderBGL0 *wgpu.BindGroupLayout
	renderBGL1 *wgpu.BindGroupLayout

	emitLayout   *wgpu.PipelineLayout
	updateLayout *wgpu.PipelineLayout
	argsLayout   *wgpu.PipelineLayout
	renderLayout *wgpu.PipelineLayout

	Emit      *wgpu.ComputePipeline
	Update    *wgpu.ComputePipeline
	BuildArgs *wgpu.ComputePipeline
	Render    map[gpu.BlendMode]*wgpu.RenderPipeline
}

func storageEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: wgpu.ShaderStageCompute,
		Buffer: wgpu.BufferBindingLayout{
			Type: wgpu.BufferBindingTypeStorage,
		},
	}
}

func newPipelines(device *wgpu.Device, format wgpu.TextureFormat) (*pipelines, error) {
	p := &pipelines{Render: make(map[gpu.BlendMode]*wgpu.RenderPipeline)}
	if err := p.create(device, format); err != nil {
		p.release()
		return nil, err
	}
	return p, nil
}

func (p *pipelines) create(device *wgpu.Device, format wgpu.TextureFormat) error {
	var err error
	p.emitModule, err = device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "ParticleEmit",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.ParticleEmitWGSL},
	})
	if err != nil {
		return fmt.Errorf("failed to create emit shader: %w", err)
	}
	p.updateModule, err = device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "ParticleUpdate",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.ParticleUpdateWGSL},
	})
	if err != nil {
		return fmt.Errorf("failed to create update shader: %w", err)
	}
	p.renderModule, err = device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "ParticleRender",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.ParticleRenderWGSL},
	})
	if err != nil {
		return fmt.Errorf("failed to create render shader: %w", err)
	}

	p.computeBGL, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ParticleComputeBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			storageEntry(0), storageEntry(1), storageEntry(2),
			storageEntry(3), storageEntry(4), storageEntry(5),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create compute bind group layout: %w", err)
	}

	p.emitBGL, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ParticleEmitBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: true,
					MinBindingSize:   gpu.EmitterParamsSize,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create emit bind group layout: %w", err)
	}

	p.updateBGL, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ParticleUpdateBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: gpu.UpdateParamsSize,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeDepth,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create update bind group layout: %w", err)
	}

	p.renderBGL0, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ParticleRenderBGL0",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: gpu.SystemConstantsSize,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageVertex,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageVertex,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create render bind group layout 0: %w", err)
	}

	p.renderBGL1, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ParticleRenderBGL1",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: true,
					MinBindingSize:   gpu.RenderParamsSize,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create render bind group layout 1: %w", err)
	}

	if p.emitLayout, err = device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "ParticleEmitLayout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.computeBGL, p.emitBGL},
	}); err != nil {
		return fmt.Errorf("failed to create emit pipeline layout: %w", err)
	}
	if p.updateLayout, err = device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "ParticleUpdateLayout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.computeBGL, p.updateBGL},
	}); err != nil {
		return fmt.Errorf("failed to create update pipeline layout: %w", err)
	}
	if p.argsLayout, err = device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "ParticleArgsLayout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.computeBGL},
	}); err != nil {
		return fmt.Errorf("failed to create build-args pipeline layout: %w", err)
	}
	if p.renderLayout, err = device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "ParticleRenderLayout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.renderBGL0, p.renderBGL1},
	}); err != nil {
		return fmt.Errorf("failed to create render pipeline layout: %w", err)
	}

	if p.Emit, err = device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "ParticleEmitPipeline",
		Layout: p.emitLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     p.emitModule,
			EntryPoint: "main",
		},
	}); err != nil {
		return fmt.Errorf("failed to create emit pipeline: %w", err)
	}
	if p.Update, err = device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "ParticleUpdatePipeline",
		Layout: p.updateLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     p.updateModule,
			EntryPoint: "update",
		},
	}); err != nil {
		return fmt.Errorf("failed to create update pipeline: %w", err)
	}
	if p.BuildArgs, err = device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "ParticleBuildArgsPipeline",
		Layout: p.argsLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     p.updateModule,
			EntryPoint: "build_args",
		},
	}); err != nil {
		return fmt.Errorf("failed to create build-args pipeline: %w", err)
	}

	for _, mode := range gpu.BlendModes {
		rp, err := device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
			Label:  "ParticleRender_" + mode.String(),
			Layout: p.renderLayout,
			Vertex: wgpu.VertexState{
				Module:     p.renderModule,
				EntryPoint: "vs_main",
			},
			Fragment: &wgpu.FragmentState{
				Module:     p.renderModule,
				EntryPoint: "fs_main",
				Targets: []wgpu.ColorTargetState{
					{
						Format:    format,
						WriteMask: wgpu.ColorWriteMaskAll,
						Blend:     blendState(mode),
					},
				},
			},
			Primitive: wgpu.PrimitiveState{
				Topology:  wgpu.PrimitiveTopologyTriangleList,
				FrontFace: wgpu.FrontFaceCCW,
				CullMode:  wgpu.CullModeNone,
			},
			// Particles never write depth.
			DepthStencil: nil,
			Multisample: wgpu.MultisampleState{
				Count: 1,
				Mask:  0xFFFFFFFF,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create %s render pipeline: %w", mode, err)
		}
		p.Render[mode] = rp
	}
	return nil
}

func blendState(mode gpu.BlendMode) *wgpu.BlendState {
	switch mode {
	case gpu.BlendAdditive:
		return &wgpu.BlendState{
			Color: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorSrcAlpha, DstFactor: wgpu.BlendFactorOne},
			Alpha: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorZero, DstFactor: wgpu.BlendFactorOne},
		}
	case gpu.BlendMultiply:
		return &wgpu.BlendState{
			Color: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorDst, DstFactor: wgpu.BlendFactorZero},
			Alpha: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorZero, DstFactor: wgpu.BlendFactorOne},
		}
	case gpu.BlendPremultiplied:
		return &wgpu.BlendState{
			Color: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorOne, DstFactor: wgpu.BlendFactorOneMinusSrcAlpha},
			Alpha: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorOne, DstFactor: wgpu.BlendFactorOneMinusSrcAlpha},
		}
	default:
		return &wgpu.BlendState{
			Color: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorSrcAlpha, DstFactor: wgpu.BlendFactorOneMinusSrcAlpha},
			Alpha: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorOne, DstFactor: wgpu.BlendFactorOneMinusSrcAlpha},
		}
	}
}

func (p *pipelines) release() {
	for mode, rp := range p.Render {
		rp.Release()
		delete(p.Render, mode)
	}
	for _, cp := range []**wgpu.ComputePipeline{&p.Emit, &p.Update, &p.BuildArgs} {
		if *cp != nil {
			(*cp).Release()
			*cp = nil
		}
	}
	for _, pl := range []**wgpu.PipelineLayout{&p.emitLayout, &p.updateLayout, &p.argsLayout, &p.renderLayout} {
		if *pl != nil {
			(*pl).Release()
			*pl = nil
		}
	}
	for _, l := range []**wgpu.BindGroupLayout{&p.computeBGL, &p.emitBGL, &p.updateBGL, &p.renderBGL0, &p.renderBGL1} {
		if *l != nil {
			(*l).Release()
			*l = nil
		}
	}
	for _, m := range []**wgpu.ShaderModule{&p.emitModule, &p.updateModule, &p.renderModule} {
		if *m != nil {
			(*m).Release()
			*m = nil
		}
	}
}
