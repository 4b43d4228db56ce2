// Package codec is the deterministic CBOR encoding used for cached blob
// columns and for transaction hashing. The same value always encodes to the
// same bytes, so hashes over encoded transactions are stable.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// keep sub-second precision of cached timestamps
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

type Encoder = cbor.Encoder

type Decoder = cbor.Decoder

func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
