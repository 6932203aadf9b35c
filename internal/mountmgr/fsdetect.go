package mountmgr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/custodian-dfir/custodian/internal/models"
)

// detectHeaderSize bounds how much of the partition header is read for
// signature matching. 4 KiB covers every signature below, including the
// ext superblock that starts 1024 bytes in.
const detectHeaderSize = 4096

// ext superblock layout, relative to partition start.
const (
	extSuperblockOffset = 1024
	extMagicOffset      = extSuperblockOffset + 0x38
	extCompatOffset     = extSuperblockOffset + 0x5C
	extIncompatOffset   = extSuperblockOffset + 0x60
	extMagic            = 0xEF53

	extCompatHasJournal   = 0x0004
	extIncompatExtents    = 0x0040
	extIncompat64Bit      = 0x0080
	extIncompatFlexGroups = 0x0200
)

// DetectFilesystem reads a bounded header region at offset and matches
// known on-disk signatures. The first match wins; no match yields
// models.FSTypeUnknown with a nil error.
func DetectFilesystem(r io.ReaderAt, offset int64) (string, error) {
	buf := make([]byte, detectHeaderSize)
	n, err := r.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	buf = buf[:n]

	switch {
	case matchAt(buf, 3, []byte("NTFS    ")):
		return "ntfs", nil
	case matchAt(buf, 3, []byte("EXFAT   ")):
		return "exfat", nil
	case isExt(buf):
		return extVariant(buf), nil
	case isFAT(buf):
		return fatVariant(buf), nil
	case matchAt(buf, 1024, []byte("H+")):
		return "hfsplus", nil
	case matchAt(buf, 1024, []byte("HX")):
		return "hfsx", nil
	default:
		return models.FSTypeUnknown, nil
	}
}

// DetectFilesystemFile opens path and detects the filesystem at offset.
func DetectFilesystemFile(path string, offset int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return DetectFilesystem(f, offset)
}

func matchAt(buf []byte, offset int, sig []byte) bool {
	if len(buf) < offset+len(sig) {
		return false
	}
	return bytes.Equal(buf[offset:offset+len(sig)], sig)
}

func isExt(buf []byte) bool {
	if len(buf) < extMagicOffset+2 {
		return false
	}
	return binary.LittleEndian.Uint16(buf[extMagicOffset:]) == extMagic
}

// extVariant narrows the ext family from superblock feature flags:
// extents mark ext4, a journal without extents marks ext3, neither is
// ext2. The distinction matters when passing -t to mount(8).
func extVariant(buf []byte) string {
	if len(buf) < extIncompatOffset+4 {
		return "ext2"
	}
	compat := binary.LittleEndian.Uint32(buf[extCompatOffset:])
	incompat := binary.LittleEndian.Uint32(buf[extIncompatOffset:])
	switch {
	case incompat&(extIncompatExtents|extIncompat64Bit|extIncompatFlexGroups) != 0:
		return "ext4"
	case compat&extCompatHasJournal != 0:
		return "ext3"
	default:
		return "ext2"
	}
}

func isFAT(buf []byte) bool {
	if len(buf) < 512 {
		return false
	}
	// Boot sector signature, then one of the FAT type tags.
	if buf[510] != 0x55 || buf[511] != 0xAA {
		return false
	}
	return matchAt(buf, 82, []byte("FAT32   ")) ||
		matchAt(buf, 54, []byte("FAT16   ")) ||
		matchAt(buf, 54, []byte("FAT12   "))
}

func fatVariant(buf []byte) string {
	switch {
	case matchAt(buf, 82, []byte("FAT32   ")):
		return "fat32"
	case matchAt(buf, 54, []byte("FAT16   ")):
		return "fat16"
	default:
		return "fat12"
	}
}
