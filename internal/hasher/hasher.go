package hasher

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Digest algorithm names as they appear in evidence records.
const (
	MD5        = "md5"
	SHA1       = "sha1"
	SHA256     = "sha256"
	BLAKE2b256 = "blake2b256"
)

// chunkSize is the unit of work between cancellation checks.
const chunkSize = 1 << 20

// ErrUnknownAlgorithm is returned when a digest name is not recognized.
var ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

// DefaultAlgorithms is the set computed for new evidence. MD5 and SHA1
// stay in the set for cross-checking against older acquisition reports,
// not for collision resistance.
func DefaultAlgorithms() []string {
	return []string{MD5, SHA1, SHA256}
}

// Progress receives byte counts as hashing advances. total is -1 when the
// file size is unknown.
type Progress func(done, total int64)

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case BLAKE2b256:
		h, err := blake2b.New256(nil)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// File computes the requested digests of the file at path in a single
// pass, returning algorithm -> lowercase hex digest and the byte count
// hashed. Cancellation is honored at chunk boundaries; a cancelled call
// returns ctx.Err() and no partial digests.
func File(ctx context.Context, path string, algorithms []string, progress Progress) (map[string]string, int64, error) {
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms()
	}

	hashes := make(map[string]hash.Hash, len(algorithms))
	writers := make([]io.Writer, 0, len(algorithms))
	for _, alg := range algorithms {
		if _, dup := hashes[alg]; dup {
			continue
		}
		h, err := newHash(alg)
		if err != nil {
			return nil, 0, err
		}
		hashes[alg] = h
		writers = append(writers, h)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	total := int64(-1)
	if info, err := f.Stat(); err == nil {
		total = info.Size()
	}

	sink := io.MultiWriter(writers...)
	buf := make([]byte, chunkSize)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, done, err
		}
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return nil, done, werr
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, done, err
		}
	}

	digests := make(map[string]string, len(hashes))
	for alg, h := range hashes {
		digests[alg] = hex.EncodeToString(h.Sum(nil))
	}
	return digests, done, nil
}

// Algorithms lists the recorded algorithm names in deterministic order.
func Algorithms(digests map[string]string) []string {
	out := make([]string, 0, len(digests))
	for alg := range digests {
		out = append(out, alg)
	}
	sort.Strings(out)
	return out
}

// Supported reports whether this package can compute the algorithm.
// Evidence records may carry externally computed digests under other
// names; those are custody metadata, not verifiable here.
func Supported(algorithm string) bool {
	_, err := newHash(algorithm)
	return err == nil
}
