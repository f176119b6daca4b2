package storage

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/Skryldev/asset-manager/core"
)

// record is the persisted form of one entry, shared by the file and SQLite
// backends.
type record struct {
	Key      string         `cbor:"1,keyasint"`
	Essence  []byte         `cbor:"2,keyasint"`
	Metadata map[string]any `cbor:"3,keyasint"`
	Tags     []string       `cbor:"4,keyasint"`
}

// snapshot is the whole state of a file store in insertion order.
type snapshot struct {
	Records []record `cbor:"1,keyasint"`
}

// Largest limits fxamacker/cbor accepts.
const (
	maxElements     = 2147483647
	maxNestedLevels = 65535
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so that equal
// states serialise to identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Metadata maps decode as map[string]any, and unsigned integers
		// as int64, matching core.Normalize.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
		// The encoder writes Go strings as-is, so text that is not valid
		// UTF-8 must read back unchanged.
		UTF8: cbor.UTF8DecodeInvalid,
		// Whatever Set accepted must load again: lift the element and
		// nesting limits to the library maximums.
		MaxArrayElements: maxElements,
		MaxMapPairs:      maxElements,
		MaxNestedLevels:  maxNestedLevels,
	}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

func newRecord(key string, a *core.Asset, tags Tags) record {
	return record{
		Key:      key,
		Essence:  a.Bytes(),
		Metadata: map[string]any(a.Metadata()),
		Tags:     tags.Sorted(),
	}
}

func (r record) entry() entry {
	md := core.Metadata(r.Metadata)
	if md == nil {
		md = core.Metadata{}
	}
	return entry{asset: core.NewAsset(r.Essence, md), tags: NewTags(r.Tags...)}
}

func marshalMetadata(md core.Metadata) ([]byte, error) {
	return encMode.Marshal(map[string]any(md))
}

func unmarshalMetadata(data []byte) (core.Metadata, error) {
	var md map[string]any
	if err := decMode.Unmarshal(data, &md); err != nil {
		return nil, err
	}
	if md == nil {
		md = map[string]any{}
	}
	return core.Metadata(md), nil
}
