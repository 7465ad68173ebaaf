package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/gekko3d/particles"
	"github.com/gekko3d/particles/config"
	"github.com/gekko3d/particles/gpu"
	"github.com/gekko3d/particles/gpu/webgpu"
	"github.com/gekko3d/particles/telemetry"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

// viewer owns the window, surface and device shared with the particle backend.
type viewer struct {
	window   *glfw.Window
	instance *wgpu.Instance
	surface  *wgpu.Surface
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	config   *wgpu.SurfaceConfiguration
	clear    wgpu.Color
	log      *slog.Logger
}

func newViewer(cfg *config.Config, logger *slog.Logger) (*viewer, error) {
	wc := cfg.Render.Window
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(wc.Width, wc.Height, wc.Title, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	v := &viewer{window: window, log: logger}
	c := cfg.Render.ClearColor
	v.clear = wgpu.Color{R: float64(c[0]), G: float64(c[1]), B: float64(c[2]), A: float64(c[3])}

	v.instance = wgpu.CreateInstance(nil)
	v.surface = v.instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))
	v.adapter, err = v.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: v.surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		v.release()
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}
	v.device, err = v.adapter.RequestDevice(nil)
	if err != nil {
		v.release()
		return nil, fmt.Errorf("failed to request device: %w", err)
	}
	v.queue = v.device.GetQueue()

	width, height := window.GetFramebufferSize()
	caps := v.surface.GetCapabilities(v.adapter)
	present := wgpu.PresentModeFifo
	if !wc.VSync && slices.Contains(caps.PresentModes, wgpu.PresentModeImmediate) {
		present = wgpu.PresentModeImmediate
	}
	v.config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: present,
		AlphaMode:   caps.AlphaModes[0],
	}
	v.surface.Configure(v.adapter, v.device, v.config)
	return v, nil
}

func (v *viewer) resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	v.config.Width = uint32(w)
	v.config.Height = uint32(h)
	v.surface.Configure(v.adapter, v.device, v.config)
}

// clearTarget clears the frame before the particle passes load it.
func (v *viewer) clearTarget(view *wgpu.TextureView) error {
	encoder, err := v.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: v.clear,
		}},
	})
	if err := pass.End(); err != nil {
		pass.Release()
		return err
	}
	pass.Release()
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	defer cmd.Release()
	v.queue.Submit(cmd)
	return nil
}

func (v *viewer) release() {
	if v.device != nil {
		v.device.Release()
	}
	if v.adapter != nil {
		v.adapter.Release()
	}
	if v.surface != nil {
		v.surface.Release()
	}
	if v.instance != nil {
		v.instance.Release()
	}
	if v.window != nil {
		v.window.Destroy()
	}
}

// runWindow renders into a glfw window. Space pauses, R restarts, Escape quits.
func runWindow(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts runOptions) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to init glfw: %w", err)
	}
	defer glfw.Terminate()

	v, err := newViewer(cfg, logger)
	if err != nil {
		return err
	}
	defer v.release()

	cfg.System.Backend = gpu.BackendWebGPU
	backend, err := newBackend(cfg, webgpu.Options{Device: v.device, ColorFormat: v.config.Format}, gpu.BackendWebGPU)
	if err != nil {
		return err
	}
	wb := backend.(*webgpu.Backend)
	sys, err := newSystem(cfg, backend, logger)
	if err != nil {
		return err
	}
	defer sys.Shutdown()

	rec, err := newRecorder(ctx, cfg, sys.MaxParticles(), logger)
	if err != nil {
		return err
	}
	defer rec.close()

	cam := cfg.Camera()
	v.window.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		v.resize(width, height)
		if height > 0 {
			cam.Aspect = float32(width) / float32(height)
		}
	})
	v.window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeySpace:
			togglePause(sys)
		case glfw.KeyR:
			if err := sys.Restart(); err != nil {
				logger.Error("restart failed", "error", err)
				return
			}
			sys.Play()
		}
	})

	last := glfw.GetTime()
	var simTime float64
	for frame := 0; !v.window.ShouldClose(); frame++ {
		if ctx.Err() != nil || (opts.frames > 0 && frame >= opts.frames) {
			break
		}
		glfw.PollEvents()

		now := glfw.GetTime()
		dt := float32(now - last)
		last = now
		orbit(cam, dt)

		rec.prof.BeginScope(telemetry.PhaseUpdate)
		sys.Update(dt)
		rec.prof.EndScope(telemetry.PhaseUpdate)
		rec.prof.BeginScope(telemetry.PhaseRender)
		err := v.renderFrame(sys, wb, cam)
		rec.prof.EndScope(telemetry.PhaseRender)
		if err != nil {
			logger.Warn("frame dropped", "frame", frame, "error", err)
			rec.prof.Reset()
			continue
		}
		simTime += float64(dt)
		rec.record(sys.Stats(), simTime)
	}
	return finish(sys, opts, logger)
}

func (v *viewer) renderFrame(sys *particles.ParticleSystem, wb *webgpu.Backend, cam *particles.Camera) error {
	tex, err := v.surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("failed to acquire surface texture: %w", err)
	}
	defer tex.Release()
	view, err := tex.CreateView(nil)
	if err != nil {
		return fmt.Errorf("failed to create view: %w", err)
	}
	defer view.Release()

	if err := v.clearTarget(view); err != nil {
		return fmt.Errorf("failed to clear frame: %w", err)
	}
	wb.SetRenderTarget(view)
	defer wb.SetRenderTarget(nil)
	if err := sys.Render(cam, nil); err != nil {
		return err
	}
	v.surface.Present()
	return nil
}

// togglePause pauses a playing system and resumes a paused one.
func togglePause(sys *particles.ParticleSystem) {
	for i := 0; i < sys.EmitterCount(); i++ {
		if e := sys.EmitterAt(i); e != nil && e.IsPlaying() {
			sys.Pause()
			return
		}
	}
	sys.Play()
}

// orbit turns the camera slowly around its target.
func orbit(cam *particles.Camera, dt float32) {
	const speed = 0.15 // radians per second
	offset := cam.Position.Sub(cam.Target)
	rot := mgl32.HomogRotate3DY(speed * dt)
	cam.Position = cam.Target.Add(rot.Mul4x1(offset.Vec4(1)).Vec3())
}
