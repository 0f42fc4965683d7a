package psopack

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// DebugInfo is the optional provenance record stored alongside the archive
// contents. It never affects unpacking and tolerates unknown fields from
// newer writers.
type DebugInfo struct {
	// APIVersion is the engine API version the archive was built against.
	APIVersion uint32 `cbor:"api_version"`

	// GitHash identifies the source revision of the producing tool.
	GitHash string `cbor:"git_hash,omitempty"`

	// Tool names the producing tool, e.g. "psopack-cli 1.4".
	Tool string `cbor:"tool,omitempty"`

	// Annotations carries free-form producer metadata.
	Annotations map[string]string `cbor:"annotations,omitempty"`
}

// debugEncMode encodes deterministically so identical inputs produce
// identical archives.
var debugEncMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("psopack: cbor enc mode: %v", err))
	}
	debugEncMode = em
}

func (d *DebugInfo) encode() ([]byte, error) {
	p, err := debugEncMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("psopack: encode debug info: %w", err)
	}
	return p, nil
}

func decodeDebugInfo(p []byte) (DebugInfo, error) {
	var d DebugInfo
	if err := cbor.Unmarshal(p, &d); err != nil {
		return DebugInfo{}, fmt.Errorf("psopack: decode debug info: %w", err)
	}
	return d, nil
}
