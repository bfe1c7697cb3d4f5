// Package collate encodes view keys into byte strings whose bytewise order
// matches the collation order of the keys themselves. Keys are JSON-like
// values, ordered by type and then by value:
//
//	null < false < true < numbers < strings < arrays < objects
//
// Arrays compare element-wise, with a shorter array ordering before a longer
// one having the same prefix. Strings compare bytewise (not by Unicode
// collation). Objects compare by their canonical JSON encoding.
package collate

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jgraettinger/cockroach-encoding/encoding"
	"github.com/pkg/errors"
)

// Type tags which prefix each encoded value. Zero is reserved as the array
// terminator, and must order before every tag.
const (
	tagEnd byte = iota
	tagNull
	tagFalse
	tagTrue
	tagNumber
	tagString
	tagArray
	tagObject
)

// Encode appends the collation encoding of |key| to |b|. Supported key types
// are nil, bool, all Go integer and float types, string, []interface{},
// and map[string]interface{} (or any value which encoding/json would decode
// into one of these).
func Encode(b []byte, key interface{}) ([]byte, error) {
	switch k := key.(type) {
	case nil:
		return append(b, tagNull), nil
	case bool:
		if k {
			return append(b, tagTrue), nil
		}
		return append(b, tagFalse), nil
	case string:
		return encoding.EncodeStringAscending(append(b, tagString), k), nil
	case float64:
		return encoding.EncodeFloatAscending(append(b, tagNumber), k), nil
	case float32:
		return encoding.EncodeFloatAscending(append(b, tagNumber), float64(k)), nil
	case int:
		return encoding.EncodeFloatAscending(append(b, tagNumber), float64(k)), nil
	case int32:
		return encoding.EncodeFloatAscending(append(b, tagNumber), float64(k)), nil
	case int64:
		return encoding.EncodeFloatAscending(append(b, tagNumber), float64(k)), nil
	case uint:
		return encoding.EncodeFloatAscending(append(b, tagNumber), float64(k)), nil
	case uint32:
		return encoding.EncodeFloatAscending(append(b, tagNumber), float64(k)), nil
	case uint64:
		return encoding.EncodeFloatAscending(append(b, tagNumber), float64(k)), nil
	case json.Number:
		var f, err = k.Float64()
		if err != nil {
			return nil, errors.WithMessage(err, "parsing json.Number")
		}
		return encoding.EncodeFloatAscending(append(b, tagNumber), f), nil
	case []interface{}:
		b = append(b, tagArray)
		for i, e := range k {
			var err error
			if b, err = Encode(b, e); err != nil {
				return nil, errors.WithMessagef(err, "array index %d", i)
			}
		}
		return append(b, tagEnd), nil
	case []string:
		b = append(b, tagArray)
		for _, e := range k {
			b = encoding.EncodeStringAscending(append(b, tagString), e)
		}
		return append(b, tagEnd), nil
	case map[string]interface{}:
		// encoding/json marshals maps with sorted keys, which is canonical.
		var j, err = json.Marshal(k)
		if err != nil {
			return nil, errors.WithMessage(err, "encoding object key")
		}
		return encoding.EncodeBytesAscending(append(b, tagObject), j), nil
	default:
		return nil, errors.Errorf("unsupported key type %T", key)
	}
}

// Decode decodes a single key from |b|, returning the remainder of |b|.
// Numbers decode as float64, arrays as []interface{}, and objects as
// map[string]interface{}.
func Decode(b []byte) ([]byte, interface{}, error) {
	if len(b) == 0 {
		return nil, nil, errors.New("unexpected end of key")
	}
	var tag = b[0]
	b = b[1:]

	switch tag {
	case tagNull:
		return b, nil, nil
	case tagFalse:
		return b, false, nil
	case tagTrue:
		return b, true, nil
	case tagNumber:
		var rem, f, err = encoding.DecodeFloatAscending(b)
		return rem, f, err
	case tagString:
		var rem, s, err = encoding.DecodeBytesAscending(b, nil)
		return rem, string(s), err
	case tagArray:
		var out = []interface{}{}
		for {
			if len(b) == 0 {
				return nil, nil, errors.New("unterminated array")
			} else if b[0] == tagEnd {
				return b[1:], out, nil
			}
			var e interface{}
			var err error
			if b, e, err = Decode(b); err != nil {
				return nil, nil, err
			}
			out = append(out, e)
		}
	case tagObject:
		var rem, j, err = encoding.DecodeBytesAscending(b, nil)
		if err != nil {
			return nil, nil, err
		}
		var m map[string]interface{}
		if err = json.Unmarshal(j, &m); err != nil {
			return nil, nil, errors.WithMessage(err, "decoding object key")
		}
		return rem, m, nil
	default:
		return nil, nil, fmt.Errorf("invalid key tag %d", tag)
	}
}

// MustEncode is Encode which panics on error.
func MustEncode(key interface{}) []byte {
	var b, err = Encode(nil, key)
	if err != nil {
		panic(err)
	}
	return b
}

// Sort orders |keys| by their collation.
func Sort(keys []interface{}) error {
	var enc = make([][]byte, len(keys))
	for i, k := range keys {
		var err error
		if enc[i], err = Encode(nil, k); err != nil {
			return err
		}
	}
	sort.Sort(byEncoding{keys, enc})
	return nil
}

type byEncoding struct {
	keys []interface{}
	enc  [][]byte
}

func (s byEncoding) Len() int           { return len(s.keys) }
func (s byEncoding) Less(i, j int) bool { return string(s.enc[i]) < string(s.enc[j]) }
func (s byEncoding) Swap(i, j int) {
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
	s.enc[i], s.enc[j] = s.enc[j], s.enc[i]
}
