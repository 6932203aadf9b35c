package hasher

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evidence.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestFileComputesAllDefaultDigests(t *testing.T) {
	data := bytes.Repeat([]byte("forensic evidence block\n"), 1000)
	path := writeTempFile(t, data)

	digests, n, err := File(context.Background(), path, nil, nil)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("hashed %d bytes, want %d", n, len(data))
	}

	wantMD5 := md5.Sum(data)
	wantSHA1 := sha1.Sum(data)
	wantSHA256 := sha256.Sum256(data)
	want := map[string]string{
		MD5:    hex.EncodeToString(wantMD5[:]),
		SHA1:   hex.EncodeToString(wantSHA1[:]),
		SHA256: hex.EncodeToString(wantSHA256[:]),
	}
	for alg, wantHex := range want {
		if digests[alg] != wantHex {
			t.Errorf("%s = %s, want %s", alg, digests[alg], wantHex)
		}
	}
	if len(digests) != len(want) {
		t.Errorf("digest count = %d, want %d", len(digests), len(want))
	}
}

func TestFileBlake2b(t *testing.T) {
	path := writeTempFile(t, []byte("abc"))

	digests, _, err := File(context.Background(), path, []string{BLAKE2b256}, nil)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	// Known BLAKE2b-256 vector for "abc".
	const want = "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319"
	if digests[BLAKE2b256] != want {
		t.Errorf("blake2b256 = %s, want %s", digests[BLAKE2b256], want)
	}
}

func TestFileUnknownAlgorithm(t *testing.T) {
	path := writeTempFile(t, []byte("x"))

	_, _, err := File(context.Background(), path, []string{"crc32"}, nil)
	if !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("File(crc32) err = %v, want ErrUnknownAlgorithm", err)
	}
}

func TestFileMissingPath(t *testing.T) {
	_, _, err := File(context.Background(), filepath.Join(t.TempDir(), "nope.dd"), nil, nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("File(missing) err = %v, want fs not-exist", err)
	}
}

func TestFileCancellation(t *testing.T) {
	// Several chunks worth of data so at least one boundary check fires.
	data := bytes.Repeat([]byte{0xAB}, chunkSize*3)
	path := writeTempFile(t, data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	digests, _, err := File(ctx, path, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("File(cancelled) err = %v, want context.Canceled", err)
	}
	if digests != nil {
		t.Errorf("cancelled hash returned partial digests: %v", digests)
	}
}

func TestFileProgress(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, chunkSize+512)
	path := writeTempFile(t, data)

	var calls int
	var lastDone, lastTotal int64
	progress := func(done, total int64) {
		calls++
		lastDone = done
		lastTotal = total
	}

	if _, _, err := File(context.Background(), path, []string{SHA256}, progress); err != nil {
		t.Fatalf("File: %v", err)
	}
	if calls < 2 {
		t.Errorf("progress calls = %d, want >= 2", calls)
	}
	if lastDone != int64(len(data)) {
		t.Errorf("final progress done = %d, want %d", lastDone, len(data))
	}
	if lastTotal != int64(len(data)) {
		t.Errorf("progress total = %d, want %d", lastTotal, len(data))
	}
}

func TestFileDeduplicatesAlgorithms(t *testing.T) {
	path := writeTempFile(t, []byte("dup"))

	digests, _, err := File(context.Background(), path, []string{SHA256, SHA256}, nil)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if len(digests) != 1 {
		t.Errorf("digest count = %d, want 1", len(digests))
	}
}

func TestAlgorithmsSorted(t *testing.T) {
	got := Algorithms(map[string]string{"sha256": "x", "md5": "y", "sha1": "z"})
	want := []string{"md5", "sha1", "sha256"}
	if len(got) != len(want) {
		t.Fatalf("Algorithms length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Algorithms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
