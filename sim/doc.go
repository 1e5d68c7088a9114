// Package sim advances a Gray-Scott reaction-diffusion field on a device.
//
// A Stepper owns two field buffers tagged with the roles Source and
// Destination. Each step reads Source, writes Destination and swaps the
// tags, so after a batch the most recently written buffer is the Source.
// Batches are recorded into one command encoder and submitted once; the
// per-step results in between are never observable.
//
// Field layout: two little-endian float32 values (u, v) per cell, rows
// stored top to bottom.
package sim
