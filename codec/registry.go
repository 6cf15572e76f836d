package codec

import (
	"reflect"
	"sync"
)

var (
	mu       sync.RWMutex
	registry = map[string]Codec{
		"application/json": JSON{},
	}
)

// Register adds a codec to the global registry.
// Codecs are looked up by their ContentType() during decoding.
func Register(codec Codec) {
	mu.Lock()
	defer mu.Unlock()
	registry[codec.ContentType()] = codec
}

// Get retrieves a codec by content type from the global registry.
// Returns the codec and true if found, or nil and false if not found.
func Get(contentType string) (Codec, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[contentType]
	return c, ok
}

// MustGet retrieves a codec by content type, returning the default JSON codec
// if the requested content type is not found.
func MustGet(contentType string) Codec {
	if c, ok := Get(contentType); ok {
		return c
	}
	return JSON{}
}

var (
	typeMu      sync.RWMutex
	typesByName = map[string]func() any{}
	namesByType = map[reflect.Type]string{}
)

// RegisterType registers a payload type under a stable name.
//
// Serializing stores and relays record the name alongside the encoded
// payload; on read, the payload is decoded back into a fresh value of the
// registered type. Register value types (not pointers):
//
//	codec.RegisterType[OrderCreated]("order.created")
//
// Registering the same name twice overwrites the previous entry.
func RegisterType[T any](name string) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	typeMu.Lock()
	defer typeMu.Unlock()
	typesByName[name] = func() any { return new(T) }
	namesByType[t] = name
}

// TypeName returns the registered name for the payload's type.
// Falls back to the reflect type string for unregistered types, which is
// sufficient for in-memory use but not for serializing stores.
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	typeMu.RLock()
	defer typeMu.RUnlock()
	if name, ok := namesByType[t]; ok {
		return name
	}
	return t.String()
}

// NewPayload returns a pointer to a fresh zero value of the payload type
// registered under name, suitable as a Decode target.
// Returns nil and false for unregistered names.
func NewPayload(name string) (any, bool) {
	typeMu.RLock()
	defer typeMu.RUnlock()
	fn, ok := typesByName[name]
	if !ok {
		return nil, false
	}
	return fn(), true
}
