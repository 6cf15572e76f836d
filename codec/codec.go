// Package codec provides serialization for event payloads and aggregate
// snapshots.
//
// Codecs encode the domain-level payload of an event (or a cached aggregate
// snapshot), separate from whatever envelope a store or relay wraps around
// it. Serializing stores record the payload type name alongside the bytes
// and decode back into the concrete type registered with RegisterType.
//
// Usage:
//
//	// Register payload types once, at startup
//	codec.RegisterType[OrderCreated]("order.created")
//	codec.RegisterType[OrderShipped]("order.shipped")
//
//	// Pick a codec per store/relay (JSON is the default)
//	store := store.NewRedis(client).WithCodec(codec.MsgPack{})
package codec

// Codec encodes/decodes payload data.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes the payload to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes to the target type.
	// The target must be a pointer.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type (e.g., "application/json").
	ContentType() string
}

// Default returns the default codec (JSON).
func Default() Codec {
	return JSON{}
}
