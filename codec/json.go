package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// It is the most portable option: manifests and catalog files written with
// it are readable by any JSON tooling. Persisted data always records the
// codec name, so switching codecs later does not strand existing files.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the default codec used by the library.
//
// This affects newly-created manifests, snapshots, and catalogs. Existing
// persisted files are self-describing (they store the codec name in their
// header) and are opened by selecting the appropriate codec by name.
var Default Codec = GoJSON{}
