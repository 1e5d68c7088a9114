// Package present owns the render-visible copy of the simulation field and
// draws it as a full-screen quad.
//
// The frame controller copies each batch result into a Texture; a Renderer
// draws whatever the Texture holds on every display tick without waiting
// for the device. Palette and Snapshot colorize a host copy of the field
// for image output.
package present
