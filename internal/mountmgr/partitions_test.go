package mountmgr

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeMBRImage(t *testing.T) string {
	t.Helper()
	buf := make([]byte, sectorSize)
	buf[510], buf[511] = 0x55, 0xAA

	// Entry 0: bootable NTFS partition at LBA 2048, 409600 sectors.
	entry := buf[446:462]
	entry[0] = 0x80
	entry[4] = 0x07
	binary.LittleEndian.PutUint32(entry[8:], 2048)
	binary.LittleEndian.PutUint32(entry[12:], 409600)

	// Entry 1: Linux partition at LBA 411648.
	entry = buf[462:478]
	entry[4] = 0x83
	binary.LittleEndian.PutUint32(entry[8:], 411648)
	binary.LittleEndian.PutUint32(entry[12:], 204800)

	path := filepath.Join(t.TempDir(), "disk.dd")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func TestListPartitionsMBR(t *testing.T) {
	parts, err := ListPartitions(writeMBRImage(t))
	if err != nil {
		t.Fatalf("ListPartitions: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("partitions = %d (%v), want 2", len(parts), parts)
	}

	first := parts[0]
	if first.Scheme != "mbr" || first.Type != "NTFS/exFAT" || !first.Bootable {
		t.Errorf("first partition = %+v", first)
	}
	if first.ByteOffset != 2048*512 {
		t.Errorf("first byte offset = %d, want %d", first.ByteOffset, 2048*512)
	}
	if first.SizeBytes != 409600*512 {
		t.Errorf("first size = %d, want %d", first.SizeBytes, 409600*512)
	}

	second := parts[1]
	if second.Type != "Linux" || second.Bootable {
		t.Errorf("second partition = %+v", second)
	}
	if second.ByteOffset != 411648*512 {
		t.Errorf("second byte offset = %d", second.ByteOffset)
	}
}

func TestListPartitionsGPT(t *testing.T) {
	// Protective MBR + GPT header at LBA 1 + entries at LBA 2.
	buf := make([]byte, 4*sectorSize)
	buf[510], buf[511] = 0x55, 0xAA
	entry := buf[446:462]
	entry[4] = 0xEE
	binary.LittleEndian.PutUint32(entry[8:], 1)
	binary.LittleEndian.PutUint32(entry[12:], 3)

	header := buf[sectorSize : 2*sectorSize]
	copy(header[:8], "EFI PART")
	binary.LittleEndian.PutUint64(header[72:], 2)   // entries at LBA 2
	binary.LittleEndian.PutUint32(header[80:], 4)   // entry count
	binary.LittleEndian.PutUint32(header[84:], 128) // entry size

	// One Microsoft basic data partition named "Basic data partition".
	gptEntry := buf[2*sectorSize : 2*sectorSize+128]
	typeGUID := []byte{
		0xA2, 0xA0, 0xD0, 0xEB, // EBD0A0A2 little-endian
		0xE5, 0xB9, // B9E5
		0x33, 0x44, // 4433
		0x87, 0xC0, // 87C0 big-endian
		0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7,
	}
	copy(gptEntry[:16], typeGUID)
	binary.LittleEndian.PutUint64(gptEntry[32:], 2048)   // first LBA
	binary.LittleEndian.PutUint64(gptEntry[40:], 206847) // last LBA
	name := "Basic data partition"
	for i, r := range name {
		binary.LittleEndian.PutUint16(gptEntry[56+2*i:], uint16(r))
	}

	path := filepath.Join(t.TempDir(), "gpt.dd")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	parts, err := ListPartitions(path)
	if err != nil {
		t.Fatalf("ListPartitions: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("partitions = %v, want 1 entry", parts)
	}
	p := parts[0]
	if p.Scheme != "gpt" {
		t.Errorf("scheme = %q, want gpt", p.Scheme)
	}
	if p.Type != "Microsoft basic data" {
		t.Errorf("type = %q, want Microsoft basic data", p.Type)
	}
	if p.Name != name {
		t.Errorf("name = %q, want %q", p.Name, name)
	}
	if p.ByteOffset != 2048*512 {
		t.Errorf("byte offset = %d, want %d", p.ByteOffset, 2048*512)
	}
	if p.Sectors != 204800 {
		t.Errorf("sectors = %d, want 204800", p.Sectors)
	}
}

func TestListPartitionsNoTable(t *testing.T) {
	dir := t.TempDir()

	blank := filepath.Join(dir, "blank.dd")
	if err := os.WriteFile(blank, make([]byte, sectorSize), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if _, err := ListPartitions(blank); !errors.Is(err, ErrNoPartitionTable) {
		t.Errorf("ListPartitions(blank) err = %v, want ErrNoPartitionTable", err)
	}

	// A bare NTFS partition image carries 0x55AA but is not partitioned.
	bare := filepath.Join(dir, "bare.dd")
	buf := make([]byte, sectorSize)
	copy(buf[3:], "NTFS    ")
	buf[510], buf[511] = 0x55, 0xAA
	if err := os.WriteFile(bare, buf, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if _, err := ListPartitions(bare); !errors.Is(err, ErrNoPartitionTable) {
		t.Errorf("ListPartitions(bare ntfs) err = %v, want ErrNoPartitionTable", err)
	}
}
