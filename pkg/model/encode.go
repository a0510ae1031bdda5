package model

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// All persisted objects are serialized with canonical CBOR so identical
// values always produce identical bytes, the property content addressing
// depends on.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("model: building CBOR encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("model: building CBOR decoder: %v", err))
	}
}

// Encode serializes v into its canonical byte form.
func Encode(v interface{}) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// Decode deserializes canonical bytes into v.
func Decode(data []byte, v interface{}) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// EncodeManifest returns the canonical bytes and Oid of a manifest.
func EncodeManifest(m *Manifest) ([]byte, Oid, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, Oid{}, err
	}
	return data, ComputeOid(data), nil
}

// DecodeManifest parses manifest bytes.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := Decode(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// EncodeChangeset returns the canonical bytes and Oid of a changeset. The
// change records are sorted first so the caller cannot accidentally produce
// two Oids for the same logical changeset.
func EncodeChangeset(c *Changeset) ([]byte, Oid, error) {
	c.SortChanges()
	data, err := Encode(c)
	if err != nil {
		return nil, Oid{}, err
	}
	return data, ComputeOid(data), nil
}

// DecodeChangeset parses changeset bytes.
func DecodeChangeset(data []byte) (*Changeset, error) {
	var c Changeset
	if err := Decode(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// EncodeBlob returns the canonical bytes and Oid of a chunk-list blob.
func EncodeBlob(b *Blob) ([]byte, Oid, error) {
	data, err := Encode(b)
	if err != nil {
		return nil, Oid{}, err
	}
	return data, ComputeOid(data), nil
}

// DecodeBlob parses blob bytes.
func DecodeBlob(data []byte) (*Blob, error) {
	var b Blob
	if err := Decode(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
