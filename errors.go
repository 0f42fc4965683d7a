package psopack

import "errors"

// Sentinel errors. Functions wrap these with context; match with errors.Is.
var (
	// ErrInvalidArgument reports a malformed descriptor, an empty name, an
	// unsupported device flag set or a bad override mask.
	ErrInvalidArgument = errors.New("psopack: invalid argument")

	// ErrDuplicateName reports a name collision with a previously stored
	// object of different content. Re-adding identical content succeeds.
	ErrDuplicateName = errors.New("psopack: duplicate resource name")

	// ErrNotFound reports that an archive holds no resource of the
	// requested name and kind.
	ErrNotFound = errors.New("psopack: resource not found")

	// ErrBadMagic reports that the input is not a pipeline archive.
	ErrBadMagic = errors.New("psopack: bad magic, not a pipeline archive")

	// ErrUnsupportedVersion reports an archive written by an incompatible
	// format revision.
	ErrUnsupportedVersion = errors.New("psopack: unsupported archive version")

	// ErrCorrupt reports a structurally invalid archive: truncated data,
	// out-of-bounds offsets, duplicate chunks or unknown chunk types.
	ErrCorrupt = errors.New("psopack: corrupt archive")

	// ErrNoDeviceData reports that the archive carries no data for the
	// device type the reader was opened with.
	ErrNoDeviceData = errors.New("psopack: archive has no data for device")
)
