package webgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/particles/gpu"
)

const (
	readbackIdle = iota
	readbackCopied
	readbackMapping
	readbackMapped
)

// queueReadback records a copy of the counter block and draw args into the
// readback buffer, but only when the previous readback has been consumed.
func (b *Backend) queueReadback(encoder *wgpu.CommandEncoder) bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.readbackState != readbackIdle {
		return false
	}
	encoder.CopyBufferToBuffer(b.CounterBuf, 0, b.ReadbackBuf, 0, gpu.CountersSize)
	encoder.CopyBufferToBuffer(b.DrawArgsBuf, 0, b.ReadbackBuf, gpu.CountersSize, gpu.DrawArgsSize)
	b.readbackState = readbackCopied
	b.copiedGen = b.readbackGen
	return true
}

// invalidateReadback forgets the last counters. A readback copied before the
// call is dropped when it lands.
func (b *Backend) invalidateReadback() {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.hasLast = false
	b.readbackGen++
}

// landReadback stores mapped counter bytes unless they predate the last
// invalidateReadback. b.stateMu must be held.
func (b *Backend) landReadback(data []byte) bool {
	if b.copiedGen != b.readbackGen || len(data) < gpu.CountersSize {
		return false
	}
	b.last = gpu.CountersFromBytes(data)
	b.hasLast = true
	return true
}

func (b *Backend) mapReadback() {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.readbackState != readbackCopied {
		return
	}
	b.readbackState = readbackMapping
	err := b.ReadbackBuf.MapAsync(wgpu.MapModeRead, 0, b.ReadbackBuf.GetSize(), func(status wgpu.BufferMapAsyncStatus) {
		b.stateMu.Lock()
		defer b.stateMu.Unlock()
		if status == wgpu.BufferMapAsyncStatusSuccess {
			b.readbackState = readbackMapped
		} else {
			b.readbackState = readbackIdle
		}
	})
	if err != nil {
		b.readbackState = readbackIdle
		b.warnf("counter readback map failed: %v", err)
	}
}

// pollReadback picks up a completed counter readback without blocking.
func (b *Backend) pollReadback() {
	if b.ReadbackBuf == nil {
		return
	}
	b.Device.Poll(false, nil)

	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.readbackState != readbackMapped {
		return
	}
	if !b.landReadback(b.ReadbackBuf.GetMappedRange(0, uint(gpu.CountersSize))) {
		b.debugf("dropped stale counter readback")
	}
	b.ReadbackBuf.Unmap()
	b.readbackState = readbackIdle
}

// LastCounters returns the latest counter block read back from the device.
// It lags the submitted frames by one or more frames.
func (b *Backend) LastCounters() (gpu.Counters, bool) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.last, b.hasLast
}

// Snapshot copies the allocator buffers to a staging buffer and blocks until
// the device has executed all submitted work.
func (b *Backend) Snapshot(current gpu.AliveSet) (*gpu.Snapshot, error) {
	if b.PoolBuf == nil {
		return nil, gpu.ErrNotInitialized
	}
	listBytes := uint64(b.capacity) * 4
	size := gpu.CountersSize + gpu.DrawArgsSize + 3*listBytes

	staging, err := b.createBuffer("SnapshotStaging", size, wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	encoder, err := b.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %w", err)
	}
	defer encoder.Release()

	off := uint64(0)
	encoder.CopyBufferToBuffer(b.CounterBuf, 0, staging, off, gpu.CountersSize)
	off += gpu.CountersSize
	encoder.CopyBufferToBuffer(b.DrawArgsBuf, 0, staging, off, gpu.DrawArgsSize)
	off += gpu.DrawArgsSize
	deadOff := off
	encoder.CopyBufferToBuffer(b.DeadBuf, 0, staging, deadOff, listBytes)
	curOff := deadOff + listBytes
	encoder.CopyBufferToBuffer(b.AliveBufs[current], 0, staging, curOff, listBytes)
	nextOff := curOff + listBytes
	encoder.CopyBufferToBuffer(b.AliveBufs[current.Other()], 0, staging, nextOff, listBytes)

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish snapshot commands: %w", err)
	}
	defer cmd.Release()
	b.Queue.Submit(cmd)

	var status wgpu.BufferMapAsyncStatus
	done := false
	err = staging.MapAsync(wgpu.MapModeRead, 0, staging.GetSize(), func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to map snapshot buffer: %w", err)
	}
	for !done {
		b.Device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("failed to map snapshot buffer: status %d", status)
	}
	defer staging.Unmap()
	data := staging.GetMappedRange(0, uint(size))

	counters := gpu.CountersFromBytes(data[0:gpu.CountersSize])
	snap := &gpu.Snapshot{
		Capacity: b.capacity,
		Counters: counters,
		DrawArgs: gpu.DrawArgsFromBytes(data[gpu.CountersSize : gpu.CountersSize+gpu.DrawArgsSize]),
	}
	dead := max(0, min(int(counters.DeadTop), int(b.capacity)))
	snap.Free = readIDs(data[deadOff:], dead)
	snap.Current = readIDs(data[curOff:], int(min(counters.AliveCountIn, b.capacity)))
	snap.Next = readIDs(data[nextOff:], int(min(counters.AliveCountOut, b.capacity)))
	return snap, nil
}

func readIDs(data []byte, n int) []uint32 {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return ids
}
