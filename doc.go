// Package psopack reads and writes device object archives: single files
// holding precompiled graphics, compute, tile and ray-tracing pipeline
// state objects together with their shaders, resource signatures and
// render passes, for up to six device backends at once.
//
// # Overview
//
// An archive is built once, offline or at first run, and unpacked at load
// time to skip shader compilation and pipeline warmup. One file serves all
// backends: device-independent descriptors are stored once, while shader
// bytecode and other device-specific blobs live in per-device blocks, so a
// reader touches only the block for the device it was opened with.
//
// # Writing
//
//	arc, err := psopack.NewArchiver(
//	    psopack.DeviceFlagVulkan|psopack.DeviceFlagMetalIOS,
//	    backend.Options()...,
//	)
//	if err != nil { ... }
//	err = arc.AddGraphicsPipeline(&ci, psopack.DeviceFlagVulkan)
//	...
//	_, err = arc.WriteTo(f)
//
// Shaders are deduplicated per device: a shader shared by many pipelines
// is stored once. Adding the same object twice is a no-op; a name
// collision with different content fails with [ErrDuplicateName].
//
// # Reading
//
//	ar, err := psopack.Open(src, psopack.DeviceVulkan)
//	if err != nil { ... }
//	pso, err := ar.UnpackGraphicsPipeline("Opaque", device, nil)
//
// Unpacked objects are created through the caller's [Device] and cached
// weakly by name: unpacking a name twice returns the same instance while
// the caller still holds it, and a dropped object is recreated on the next
// request. Shaders are cached strongly per archive until
// [Archive.ClearShaderCache].
//
// # Logging
//
// psopack is silent by default. Call [SetLogger] with a [log/slog.Logger]
// to see per-object archive traffic at debug level.
package psopack
