package mountmgr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf16"
)

// sectorSize is fixed at 512 for partition math. Tooling that produced
// the offsets investigators work from (mmls, fdisk) reports 512-byte
// sectors for disk images.
const sectorSize = 512

// ErrNoPartitionTable means the image has no recognizable MBR or GPT; it
// is likely a bare partition image mountable at offset zero.
var ErrNoPartitionTable = errors.New("no partition table")

// PartitionInfo describes one entry of an image's partition table, with
// the byte offset ready to hand to Mount.
type PartitionInfo struct {
	Index      int    `json:"index"`
	Scheme     string `json:"scheme"` // "mbr" or "gpt"
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"` // gpt label
	StartLBA   uint64 `json:"start_lba"`
	Sectors    uint64 `json:"sectors"`
	ByteOffset int64  `json:"byte_offset"`
	SizeBytes  int64  `json:"size_bytes"`
	Bootable   bool   `json:"bootable,omitempty"`
}

// mbrTypeNames labels the partition type byte for display. Unlisted types
// render as hex.
var mbrTypeNames = map[byte]string{
	0x01: "FAT12",
	0x04: "FAT16 <32M",
	0x05: "Extended",
	0x06: "FAT16",
	0x07: "NTFS/exFAT",
	0x0B: "FAT32 CHS",
	0x0C: "FAT32 LBA",
	0x0E: "FAT16 LBA",
	0x0F: "Extended LBA",
	0x27: "Hidden NTFS",
	0x82: "Linux swap",
	0x83: "Linux",
	0x8E: "Linux LVM",
	0xA5: "FreeBSD",
	0xAF: "HFS/HFS+",
	0xEE: "GPT protective",
	0xEF: "EFI system",
}

// gptTypeNames labels the handful of partition type GUIDs that actually
// show up in casework.
var gptTypeNames = map[string]string{
	"C12A7328-F81F-11D2-BA4B-00A0C93EC93B": "EFI system",
	"EBD0A0A2-B9E5-4433-87C0-68B6B72699C7": "Microsoft basic data",
	"E3C9E316-0B5C-4DB8-817D-F92DF00215AE": "Microsoft reserved",
	"DE94BBA4-06D1-4D40-A16A-BFD50179D6AC": "Windows recovery",
	"0FC63DAF-8483-4772-8E79-3D69D8477DE4": "Linux filesystem",
	"0657FD6D-A4AB-43C4-84E5-0933C84B4F4F": "Linux swap",
	"E6D6D379-F507-44C2-A23C-238F2A3DF928": "Linux LVM",
	"48465300-0000-11AA-AA11-00306543ECAC": "Apple HFS+",
	"7C3457EF-0000-11AA-AA11-00306543ECAC": "Apple APFS",
}

// ListPartitions parses the image's MBR, following into GPT when the
// protective entry is present, and returns entries with their byte
// offsets. Extended partition chains are reported as a single entry, not
// walked.
func ListPartitions(path string) ([]PartitionInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	boot := make([]byte, sectorSize)
	if _, err := io.ReadFull(f, boot); err != nil {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}
	if boot[510] != 0x55 || boot[511] != 0xAA {
		return nil, ErrNoPartitionTable
	}

	// NTFS and FAT boot sectors carry the same 0x55AA trailer as an MBR.
	// An OEM signature at offset 3 means this is a bare filesystem, not
	// a partitioned disk.
	if matchAt(boot, 3, []byte("NTFS    ")) || matchAt(boot, 3, []byte("EXFAT   ")) || isFAT(boot) {
		return nil, ErrNoPartitionTable
	}

	var parts []PartitionInfo
	for i := 0; i < 4; i++ {
		entry := boot[446+16*i : 446+16*(i+1)]
		ptype := entry[4]
		startLBA := uint64(binary.LittleEndian.Uint32(entry[8:12]))
		sectors := uint64(binary.LittleEndian.Uint32(entry[12:16]))
		if ptype == 0x00 || sectors == 0 {
			continue
		}
		if ptype == 0xEE {
			// Protective MBR; the real table is GPT.
			return listGPT(f)
		}
		name, ok := mbrTypeNames[ptype]
		if !ok {
			name = fmt.Sprintf("type 0x%02X", ptype)
		}
		parts = append(parts, PartitionInfo{
			Index:      i,
			Scheme:     "mbr",
			Type:       name,
			StartLBA:   startLBA,
			Sectors:    sectors,
			ByteOffset: int64(startLBA) * sectorSize,
			SizeBytes:  int64(sectors) * sectorSize,
			Bootable:   entry[0] == 0x80,
		})
	}
	if len(parts) == 0 {
		return nil, ErrNoPartitionTable
	}
	return parts, nil
}

func listGPT(f *os.File) ([]PartitionInfo, error) {
	header := make([]byte, sectorSize)
	if _, err := f.ReadAt(header, sectorSize); err != nil {
		return nil, fmt.Errorf("read gpt header: %w", err)
	}
	if !bytes.Equal(header[:8], []byte("EFI PART")) {
		return nil, fmt.Errorf("protective mbr without gpt header")
	}

	entriesLBA := binary.LittleEndian.Uint64(header[72:80])
	numEntries := binary.LittleEndian.Uint32(header[80:84])
	entrySize := binary.LittleEndian.Uint32(header[84:88])
	if entrySize < 128 || entrySize > 4096 {
		return nil, fmt.Errorf("implausible gpt entry size %d", entrySize)
	}
	if numEntries > 128 {
		numEntries = 128
	}

	table := make([]byte, int(entrySize)*int(numEntries))
	if _, err := f.ReadAt(table, int64(entriesLBA)*sectorSize); err != nil {
		return nil, fmt.Errorf("read gpt entries: %w", err)
	}

	var parts []PartitionInfo
	for i := 0; i < int(numEntries); i++ {
		entry := table[i*int(entrySize) : (i+1)*int(entrySize)]
		typeGUID := entry[:16]
		if isZeroGUID(typeGUID) {
			continue
		}
		firstLBA := binary.LittleEndian.Uint64(entry[32:40])
		lastLBA := binary.LittleEndian.Uint64(entry[40:48])
		if lastLBA < firstLBA {
			continue
		}
		sectors := lastLBA - firstLBA + 1

		guid := formatGUID(typeGUID)
		name, ok := gptTypeNames[guid]
		if !ok {
			name = guid
		}
		parts = append(parts, PartitionInfo{
			Index:      i,
			Scheme:     "gpt",
			Type:       name,
			Name:       decodeGPTName(entry[56:]),
			StartLBA:   firstLBA,
			Sectors:    sectors,
			ByteOffset: int64(firstLBA) * sectorSize,
			SizeBytes:  int64(sectors) * sectorSize,
		})
	}
	if len(parts) == 0 {
		return nil, ErrNoPartitionTable
	}
	return parts, nil
}

func isZeroGUID(guid []byte) bool {
	for _, b := range guid {
		if b != 0 {
			return false
		}
	}
	return true
}

// formatGUID renders a GPT GUID in its canonical mixed-endian text form:
// the first three groups are little-endian on disk, the last two are not.
func formatGUID(g []byte) string {
	return strings.ToUpper(fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.LittleEndian.Uint32(g[0:4]),
		binary.LittleEndian.Uint16(g[4:6]),
		binary.LittleEndian.Uint16(g[6:8]),
		binary.BigEndian.Uint16(g[8:10]),
		g[10:16]))
}

func decodeGPTName(raw []byte) string {
	// 36 UTF-16LE code units, NUL-terminated.
	limit := len(raw)
	if limit > 72 {
		limit = 72
	}
	units := make([]uint16, 0, limit/2)
	for i := 0; i+1 < limit; i += 2 {
		u := binary.LittleEndian.Uint16(raw[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
