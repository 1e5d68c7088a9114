// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/grayscott/gpucore"
)

// copyPitchAlignment is the row alignment CopyTextureToBuffer requires.
const copyPitchAlignment = 256

// CreateCommandEncoder starts a new command recording. Recording is
// host-side only; HAL commands are encoded at Submit.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.live() {
		return nil, gpucore.ErrDeviceClosed
	}
	return &encoder{dev: d, label: label}, nil
}

// Submit encodes cb and hands it to the queue. The returned submission
// completes when the fence of the command buffer signals.
func (d *Device) Submit(cb gpucore.CommandBuffer) (*gpucore.Submission, error) {
	buf, ok := cb.(*commandBuffer)
	if !ok || buf.dev != d {
		return nil, fmt.Errorf("command buffer: %w", gpucore.ErrForeignResource)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.live() {
		return nil, gpucore.ErrDeviceClosed
	}
	if buf.submitted {
		return nil, fmt.Errorf("gpu: command buffer %q submitted twice", buf.label)
	}
	buf.submitted = true

	t := &transient{}
	err := d.encode(buf.label, t, func(enc hal.CommandEncoder) error {
		for _, c := range buf.cmds {
			if err := c.record(d, enc, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		err = d.submit(t)
	}
	if err != nil {
		d.releaseLocked(t)
		return nil, err
	}

	sub := gpucore.NewSubmission(d.nextID.Add(1), buf.label)
	d.track(t, func(err error) {
		if err != nil {
			d.log.Warn("gpu: submission failed", "id", sub.ID(), "label", sub.Label(), "err", err)
		}
		sub.Complete(err)
	})
	return sub, nil
}

// WriteBuffer uploads data through a staging buffer and a queued copy, so
// the write lands between the submissions made before and after it.
func (d *Device) WriteBuffer(b gpucore.Buffer, offset uint64, data []byte) error {
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	size := uint64(len(data))
	if offset+size > buf.size {
		return fmt.Errorf("gpu: write of %d bytes at %d overflows %q (%d)", size, offset, buf.label, buf.size)
	}
	if size == 0 {
		return nil
	}
	if offset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("gpu: write of %d bytes at %d to %q is not 4-byte aligned", size, offset, buf.label)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.live() {
		return gpucore.ErrDeviceClosed
	}
	t := &transient{}
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: buf.label + "_upload",
		Size:  size,
		Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("gpu: create upload buffer: %w", err)
	}
	t.buffers = append(t.buffers, staging)
	d.queue.WriteBuffer(staging, 0, data)

	err = d.encode(buf.label+"_write", t, func(enc hal.CommandEncoder) error {
		enc.CopyBufferToBuffer(staging, buf.raw, []hal.BufferCopy{{SrcOffset: 0, DstOffset: offset, Size: size}})
		return nil
	})
	if err == nil {
		err = d.submit(t)
	}
	if err != nil {
		d.releaseLocked(t)
		return err
	}
	d.track(t, func(err error) {
		if err != nil {
			d.log.Warn("gpu: buffer upload failed", "buffer", buf.label, "err", err)
		}
	})
	return nil
}

// ReadBuffer copies b into a mappable staging buffer behind all submitted
// work and returns its contents.
func (d *Device) ReadBuffer(b gpucore.Buffer) ([]byte, error) {
	buf, err := d.buffer(b)
	if err != nil {
		return nil, err
	}

	t := &transient{}
	var staging hal.Buffer
	err = d.locked(func() error {
		var err error
		staging, err = d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: buf.label + "_readback",
			Size:  buf.size,
			Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("gpu: create readback buffer: %w", err)
		}
		t.buffers = append(t.buffers, staging)
		err = d.encode(buf.label+"_read", t, func(enc hal.CommandEncoder) error {
			enc.CopyBufferToBuffer(buf.raw, staging, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: buf.size}})
			return nil
		})
		if err != nil {
			return err
		}
		return d.submit(t)
	}, t)
	if err != nil {
		return nil, err
	}
	defer d.done(t)

	if err := d.wait(t); err != nil {
		return nil, err
	}
	out := make([]byte, buf.size)
	if err := d.queue.ReadBuffer(staging, 0, out); err != nil {
		return nil, fmt.Errorf("gpu: readback %q: %w", buf.label, err)
	}
	return out, nil
}

// ReadTarget copies the target texture into a staging buffer behind all
// submitted work and converts it to RGBA.
func (d *Device) ReadTarget(rt gpucore.RenderTarget) (*image.RGBA, error) {
	tg, ok := rt.(*target)
	if !ok || tg.dev != d {
		return nil, fmt.Errorf("render target: %w", gpucore.ErrForeignResource)
	}
	img := image.NewRGBA(image.Rect(0, 0, tg.width, tg.height))

	w, h := uint32(tg.width), uint32(tg.height) //nolint:gosec // validated at creation
	bytesPerRow := w * 4
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	stagingSize := uint64(alignedBytesPerRow) * uint64(h)

	t := &transient{}
	var staging hal.Buffer
	drawn := true
	err := d.locked(func() error {
		if tg.tex == nil {
			return errTargetDestroyed
		}
		if !tg.drawn {
			drawn = false
			return nil
		}
		var err error
		staging, err = d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "render_target_readback",
			Size:  stagingSize,
			Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("gpu: create readback buffer: %w", err)
		}
		t.buffers = append(t.buffers, staging)
		err = d.encode("render_target_read", t, func(enc hal.CommandEncoder) error {
			enc.TransitionTextures([]hal.TextureBarrier{{
				Texture: tg.tex,
				Usage: hal.TextureUsageTransition{
					OldUsage: gputypes.TextureUsageRenderAttachment,
					NewUsage: gputypes.TextureUsageCopySrc,
				},
			}})
			enc.CopyTextureToBuffer(tg.tex, staging, []hal.BufferTextureCopy{{
				BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: alignedBytesPerRow, RowsPerImage: h},
				TextureBase:  hal.ImageCopyTexture{Texture: tg.tex, MipLevel: 0},
				Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
			}})
			enc.TransitionTextures([]hal.TextureBarrier{{
				Texture: tg.tex,
				Usage: hal.TextureUsageTransition{
					OldUsage: gputypes.TextureUsageCopySrc,
					NewUsage: gputypes.TextureUsageRenderAttachment,
				},
			}})
			return nil
		})
		if err != nil {
			return err
		}
		return d.submit(t)
	}, t)
	if err != nil {
		return nil, err
	}
	if !drawn {
		return img, nil
	}
	defer d.done(t)

	if err := d.wait(t); err != nil {
		return nil, err
	}
	readback := make([]byte, stagingSize)
	if err := d.queue.ReadBuffer(staging, 0, readback); err != nil {
		return nil, fmt.Errorf("gpu: readback render target: %w", err)
	}
	bgra := tg.format == gpucore.TextureFormatBGRA8Unorm
	for row := 0; row < tg.height; row++ {
		src := readback[row*int(alignedBytesPerRow) : row*int(alignedBytesPerRow)+int(bytesPerRow)]
		dst := img.Pix[row*img.Stride : row*img.Stride+int(bytesPerRow)]
		copy(dst, src)
		if bgra {
			for i := 0; i < len(dst); i += 4 {
				dst[i], dst[i+2] = dst[i+2], dst[i]
			}
		}
	}
	return img, nil
}

// locked runs fn under d.mu on a live device, releasing t if fn fails.
// The caller owns t afterwards and must wait on it and call done.
func (d *Device) locked(fn func() error, t *transient) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.live() {
		return gpucore.ErrDeviceClosed
	}
	d.pending.Add(1)
	if err := fn(); err != nil {
		d.releaseLocked(t)
		d.pending.Done()
		return err
	}
	if t.fence == nil {
		d.pending.Done()
	}
	return nil
}

// done releases a synchronously waited transient.
func (d *Device) done(t *transient) {
	d.release(t)
	d.pending.Done()
}
