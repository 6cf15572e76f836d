package codec

import (
	"testing"
	"time"

	"syreclabs.com/go/faker"
)

func init() {
	faker.Seed(time.Now().UnixNano())
}

type shipment struct {
	Carrier string `json:"carrier" msgpack:"carrier"`
	Weight  int    `json:"weight" msgpack:"weight"`
}

func randomShipment() shipment {
	return shipment{
		Carrier: faker.Company().Name(),
		Weight:  faker.RandomInt(1, 10000),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, c := range []Codec{JSON{}, MsgPack{}} {
		t.Run(c.ContentType(), func(t *testing.T) {
			in := randomShipment()
			data, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			var out shipment
			if err := c.Decode(data, &out); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if out != in {
				t.Errorf("round trip changed value: got %+v, want %+v", out, in)
			}
		})
	}
}

func TestCodecRegistry(t *testing.T) {
	if _, ok := Get("application/json"); !ok {
		t.Error("JSON codec not registered by default")
	}
	if _, ok := Get("application/msgpack"); !ok {
		t.Error("MsgPack codec not registered by its init")
	}
	if _, ok := Get("application/does-not-exist"); ok {
		t.Error("unknown content type reported as registered")
	}
	if c := MustGet("application/does-not-exist"); c.ContentType() != (JSON{}).ContentType() {
		t.Errorf("MustGet fallback = %s, want JSON", c.ContentType())
	}
	if c := MustGet("application/msgpack"); c.ContentType() != (MsgPack{}).ContentType() {
		t.Errorf("MustGet = %s, want msgpack", c.ContentType())
	}
}

func TestTypeRegistry(t *testing.T) {
	RegisterType[shipment]("test.shipment")

	if name := TypeName(shipment{}); name != "test.shipment" {
		t.Errorf("TypeName = %q, want test.shipment", name)
	}
	// Unregistered types fall back to the reflect name.
	type unregistered struct{}
	if name := TypeName(unregistered{}); name == "" {
		t.Error("TypeName of unregistered type is empty")
	}

	target, ok := NewPayload("test.shipment")
	if !ok {
		t.Fatal("NewPayload missed a registered name")
	}
	if _, ok := target.(*shipment); !ok {
		t.Fatalf("NewPayload returned %T, want *shipment", target)
	}
	if _, ok := NewPayload("test.never-registered"); ok {
		t.Error("NewPayload hit an unregistered name")
	}
}

func TestTypeRegistryDecodeTarget(t *testing.T) {
	RegisterType[shipment]("test.shipment")
	in := randomShipment()
	data, err := JSON{}.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	target, ok := NewPayload("test.shipment")
	if !ok {
		t.Fatal("NewPayload missed a registered name")
	}
	if err := (JSON{}).Decode(data, target); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := *(target.(*shipment)); got != in {
		t.Errorf("decoded %+v, want %+v", got, in)
	}
}
