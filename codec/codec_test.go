package codec

import (
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type row struct {
	ID        int       `json:"id" msgpack:"id" cbor:"id"`
	Name      string    `json:"name" msgpack:"name" cbor:"name"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt" cbor:"createdAt"`
}

func TestStructCodecs(t *testing.T) {
	in := row{ID: 7, Name: "user7", CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}

	cases := []struct {
		name string
		c    Codec[row]
	}{
		{"json", JSON[row]{}},
		{"msgpack", Msgpack[row]{}},
		{"cbor", MustCBOR[row](false)},
		{"cbor_deterministic", MustCBOR[row](true)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.c.Encode(in)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			out, err := tc.c.Decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.ID != in.ID || out.Name != in.Name || !out.CreatedAt.Equal(in.CreatedAt) {
				t.Fatalf("got %+v want %+v", out, in)
			}
		})
	}
}

func TestCBORDeterministicIsStable(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, err := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("deterministic encodings differ: %x vs %x", a, b)
	}
}

func TestProtobufCodec(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	b, err := c.Encode(wrapperspb.String("alice"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.GetValue() != "alice" {
		t.Fatalf("got %q", out.GetValue())
	}
}

func TestProtoMappedCodec(t *testing.T) {
	c := ProtoMapped[row, *wrapperspb.StringValue]{
		Proto: NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }),
		To: func(r row) (*wrapperspb.StringValue, error) {
			return wrapperspb.String(r.Name), nil
		},
		From: func(m *wrapperspb.StringValue) (row, error) {
			return row{Name: m.GetValue()}, nil
		},
	}
	b, err := c.Encode(row{ID: 1, Name: "user1"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.Name != "user1" {
		t.Fatalf("got %+v", out)
	}
	if _, err := c.Decode([]byte{0xff}); err == nil {
		t.Fatal("expected error on garbage input")
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if _, err := c.Decode([]byte("tiny")); err != nil {
		t.Fatalf("at limit should decode: %v", err)
	}
	_, err := c.Decode([]byte(strings.Repeat("x", 5)))
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected too large error, got %v", err)
	}
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	out, _ := Bytes{}.Decode(src)
	src[0] = 'z'
	if string(out) != "abc" {
		t.Fatalf("decode aliased the input: %q", out)
	}
}
