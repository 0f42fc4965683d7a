package psopack

// DeviceType identifies a backend API whose compiled data can be stored in
// an archive. The numeric values index the per-device block-base-offset
// table in the archive header and are part of the file format.
type DeviceType uint32

const (
	DeviceOpenGL DeviceType = iota // also GLES
	DeviceD3D11
	DeviceD3D12
	DeviceVulkan
	DeviceMetalIOS
	DeviceMetalMacOS

	deviceTypeCount = 6
)

// String returns the device type name.
func (t DeviceType) String() string {
	switch t {
	case DeviceOpenGL:
		return "OpenGL"
	case DeviceD3D11:
		return "Direct3D11"
	case DeviceD3D12:
		return "Direct3D12"
	case DeviceVulkan:
		return "Vulkan"
	case DeviceMetalIOS:
		return "Metal-iOS"
	case DeviceMetalMacOS:
		return "Metal-macOS"
	default:
		return "unknown"
	}
}

// IsValid reports whether t is a known device type.
func (t DeviceType) IsValid() bool { return t < deviceTypeCount }

// Flag returns the DeviceFlags bit for t.
func (t DeviceType) Flag() DeviceFlags { return 1 << t }

// DeviceFlags is a bitmask of device types, one bit per DeviceType value.
type DeviceFlags uint32

const (
	DeviceFlagOpenGL     DeviceFlags = 1 << DeviceOpenGL
	DeviceFlagD3D11      DeviceFlags = 1 << DeviceD3D11
	DeviceFlagD3D12      DeviceFlags = 1 << DeviceD3D12
	DeviceFlagVulkan     DeviceFlags = 1 << DeviceVulkan
	DeviceFlagMetalIOS   DeviceFlags = 1 << DeviceMetalIOS
	DeviceFlagMetalMacOS DeviceFlags = 1 << DeviceMetalMacOS

	// DeviceFlagsAll enables every supported device type.
	DeviceFlagsAll DeviceFlags = 1<<deviceTypeCount - 1
)

// Has reports whether the bit for t is set.
func (f DeviceFlags) Has(t DeviceType) bool { return f&t.Flag() != 0 }
