// Package blobstore is a content-addressed store of immutable blobs, such as
// document bodies and attachments, held in an afero.Fs. Blobs are keyed by
// the SHA-1 digest of their content and are optionally compressed at rest.
package blobstore

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.gazette.dev/docdb/codecs"
)

// ErrNotFound is returned when a blob does not exist in the Store.
var ErrNotFound = errors.New("blob not found")

// Key is the content digest of a blob, as "sha1-<base64 digest>".
type Key string

const keyPrefix = "sha1-"

// KeyOf returns the Key of |content|.
func KeyOf(content []byte) Key {
	var sum = sha1.Sum(content)
	return Key(keyPrefix + base64.StdEncoding.EncodeToString(sum[:]))
}

// Validate returns an error if the Key is malformed.
func (k Key) Validate() error {
	if !strings.HasPrefix(string(k), keyPrefix) {
		return errors.Errorf("invalid blob key %q (expected %s prefix)", string(k), keyPrefix)
	} else if b, err := base64.StdEncoding.DecodeString(string(k[len(keyPrefix):])); err != nil {
		return errors.WithMessagef(err, "invalid blob key %q", string(k))
	} else if len(b) != sha1.Size {
		return errors.Errorf("invalid blob key %q (bad digest length %d)", string(k), len(b))
	}
	return nil
}

// Store is a content-addressed blob store rooted at a directory of an afero.Fs.
// Each blob file is a one-byte CompressionCodec header followed by the encoded
// content, so a Store may read blobs written under a different Codec.
type Store struct {
	// Codec with which new blobs are written.
	Codec codecs.CompressionCodec

	fs   afero.Fs
	root string
}

// NewStore returns a Store of |fs| rooted at |root|, which is created if it
// doesn't yet exist.
func NewStore(fs afero.Fs, root string, codec codecs.CompressionCodec) (*Store, error) {
	if err := fs.MkdirAll(root, 0750); err != nil {
		return nil, errors.WithMessage(err, "creating blob store root")
	}
	return &Store{Codec: codec, fs: fs, root: root}, nil
}

// Put stores |content| if not already present, and returns its Key.
func (s *Store) Put(content []byte) (Key, error) {
	var key = KeyOf(content)
	var path = s.path(key)

	if _, err := s.fs.Stat(path); err == nil {
		return key, nil // Already stored.
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(s.Codec))

	var w, err = codecs.NewCodecWriter(&buf, s.Codec)
	if err != nil {
		return "", err
	}
	if _, err = w.Write(content); err == nil {
		err = w.Close()
	}
	if err != nil {
		return "", errors.WithMessage(err, "compressing blob")
	}

	// Write to a temporary file which is then atomically renamed, so that a
	// partially-written blob is never observed under its Key.
	f, err := afero.TempFile(s.fs, s.root, ".partial-")
	if err != nil {
		return "", errors.WithMessage(err, "creating temp file")
	}
	if _, err = f.Write(buf.Bytes()); err == nil {
		err = f.Close()
	} else {
		_ = f.Close()
	}
	if err == nil {
		err = s.fs.Rename(f.Name(), path)
	}
	if err != nil {
		if rmErr := s.fs.Remove(f.Name()); rmErr != nil {
			log.WithFields(log.Fields{"err": rmErr, "path": f.Name()}).
				Warn("failed to cleanup temp file")
		}
		return "", errors.WithMessage(err, "writing blob")
	}
	return key, nil
}

// Get returns the content of the blob having |key|.
func (s *Store) Get(key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var b, err = afero.ReadFile(s.fs, s.path(key))
	if os.IsNotExist(err) {
		return nil, errors.WithMessagef(ErrNotFound, "%s", key)
	} else if err != nil {
		return nil, errors.WithMessage(err, "reading blob")
	} else if len(b) == 0 {
		return nil, errors.Errorf("blob %s is truncated", key)
	}

	r, err := codecs.NewCodecReader(bytes.NewReader(b[1:]), codecs.CompressionCodec(b[0]))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.WithMessage(err, "decompressing blob")
	} else if KeyOf(content) != key {
		return nil, errors.Errorf("blob %s is corrupt (content digest mismatch)", key)
	}
	return content, nil
}

// Has returns true if the blob having |key| is stored.
func (s *Store) Has(key Key) bool {
	var _, err = s.fs.Stat(s.path(key))
	return err == nil
}

// Delete removes the blob having |key|. It is not an error if the blob does not exist.
func (s *Store) Delete(key Key) error {
	if err := s.fs.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.WithMessage(err, "removing blob")
	}
	return nil
}

// Keys returns the Keys of all stored blobs, in unspecified order.
func (s *Store) Keys() ([]Key, error) {
	var infos, err = afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, errors.WithMessage(err, "listing blob store")
	}
	var out []Key
	for _, info := range infos {
		var name = info.Name()
		if info.IsDir() || !strings.HasSuffix(name, blobSuffix) {
			continue
		}
		var sum, err = hex.DecodeString(strings.TrimSuffix(name, blobSuffix))
		if err != nil || len(sum) != sha1.Size {
			continue
		}
		out = append(out, Key(keyPrefix+base64.StdEncoding.EncodeToString(sum)))
	}
	return out, nil
}

// GarbageCollect deletes all blobs not in |keep|, returning the number deleted.
func (s *Store) GarbageCollect(keep map[Key]struct{}) (int, error) {
	var keys, err = s.Keys()
	if err != nil {
		return 0, err
	}
	var deleted int
	for _, k := range keys {
		if _, ok := keep[k]; ok {
			continue
		} else if err = s.Delete(k); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// TotalSize returns the total stored (compressed) size of all blobs.
func (s *Store) TotalSize() (int64, error) {
	var infos, err = afero.ReadDir(s.fs, s.root)
	if err != nil {
		return 0, errors.WithMessage(err, "listing blob store")
	}
	var size int64
	for _, info := range infos {
		if !info.IsDir() && strings.HasSuffix(info.Name(), blobSuffix) {
			size += info.Size()
		}
	}
	return size, nil
}

// path maps a Key to a file path. Base64 isn't file-name safe,
// so files are named by the hex encoding of the digest.
func (s *Store) path(key Key) string {
	var sum, _ = base64.StdEncoding.DecodeString(strings.TrimPrefix(string(key), keyPrefix))
	return filepath.Join(s.root, hex.EncodeToString(sum)+blobSuffix)
}

const blobSuffix = ".blob"
