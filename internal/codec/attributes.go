// Package codec serializes the attribute blob sent to the local peer after
// its response. The connector treats the blob as opaque bytes.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding, so the same attributes always
// produce the same blob.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeAttributes encodes attrs as a CBOR map of text strings. A nil map
// encodes as an empty map.
func EncodeAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	blob, err := encMode.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return blob, nil
}

// DecodeAttributes is the inverse of EncodeAttributes.
func DecodeAttributes(blob []byte) (map[string]string, error) {
	var attrs map[string]string
	if err := decMode.Unmarshal(blob, &attrs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return attrs, nil
}
