package protocol

import "encoding/json"

// Serializer defines the contract for serializing snapshot and depth views,
// e.g. before they are written to the snapshot cache. Implementations may
// choose any format as long as Marshal/Unmarshal round-trip.
type Serializer interface {
	// Marshal serializes a Go struct (e.g. DepthSnapshot) into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a Go struct.
	// v must be a pointer to the target struct.
	Unmarshal(data []byte, v any) error
}

// JSONSerializer is the default Serializer backed by encoding/json.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
