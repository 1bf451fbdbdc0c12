package updates

import (
	"encoding/json"
)

// CodecName is the gRPC content subtype the update source speaks.
const CodecName = "json"

// Codec marshals gRPC messages as JSON. It is forced on both ends of the
// connection, so no protobuf registration is needed.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return CodecName
}
