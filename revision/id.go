package revision

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ID identifies a revision of a document, as "<generation>-<digest>".
// Generation is a positive integer which increases by exactly one from a
// revision to each of its children. Digest is an opaque token which is
// compared bytewise.
type ID string

// ErrInvalidID is returned for malformed revision IDs.
var ErrInvalidID = errors.New("invalid revision ID")

// MakeID returns the ID of |generation| and |digest|.
func MakeID(generation int, digest string) ID {
	return ID(strconv.Itoa(generation) + "-" + digest)
}

// ParseID parses and validates the string as an ID.
func ParseID(s string) (ID, error) {
	var id = ID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate returns an error if the ID is not of the form "<generation>-<digest>".
func (id ID) Validate() error {
	var ind = strings.IndexByte(string(id), '-')
	if ind <= 0 {
		return ExtendContext(&ValidationError{Err: fmt.Errorf("%w (%q)", ErrInvalidID, string(id))}, "ID")
	} else if gen, err := strconv.Atoi(string(id[:ind])); err != nil || gen <= 0 {
		return ExtendContext(&ValidationError{Err: fmt.Errorf("%w (bad generation %q)", ErrInvalidID, string(id))}, "ID")
	} else if ind == len(id)-1 {
		return ExtendContext(&ValidationError{Err: fmt.Errorf("%w (empty digest %q)", ErrInvalidID, string(id))}, "ID")
	}
	return nil
}

// Generation of the ID, or zero if the ID is invalid.
func (id ID) Generation() int {
	var ind = strings.IndexByte(string(id), '-')
	if ind <= 0 {
		return 0
	}
	var gen, err = strconv.Atoi(string(id[:ind]))
	if err != nil || gen < 0 {
		return 0
	}
	return gen
}

// Digest of the ID, or "" if the ID is invalid.
func (id ID) Digest() string {
	var ind = strings.IndexByte(string(id), '-')
	if ind <= 0 {
		return ""
	}
	return string(id[ind+1:])
}

// String returns the ID as a string.
func (id ID) String() string { return string(id) }

// Compare orders IDs by generation, and then bytewise by digest.
// It returns -1, 0, or 1 as |a| is less than, equal to, or greater than |b|.
func Compare(a, b ID) int {
	if ga, gb := a.Generation(), b.Generation(); ga != gb {
		if ga < gb {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Digest(), b.Digest())
}

// Digest returns a deterministic digest of a new revision, as a function of
// its parent revision ID, deletion status, and body. Two peers making the
// identical edit produce the identical revision ID. The parent is prefixed
// by its varint length, so that parent and body can't be confused.
func Digest(parent ID, deleted bool, body []byte) string {
	var h = md5.New()
	h.Write(binary.AppendUvarint(nil, uint64(len(parent))))
	h.Write([]byte(parent))
	if deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
