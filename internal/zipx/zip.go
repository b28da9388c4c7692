// Package zipx implements a minimal ZIP reader and writer.
//
// The writer always uses the "stored" (uncompressed) method, which is what we
// want for model bundles: OBJ/MTL/texture payloads are re-served to clients
// byte-for-byte. The reader handles both stored and DEFLATE entries so that
// vendor-produced archives can be unpacked regardless of how they were built.
// Both directions are pure functions over byte slices, no I/O.
package zipx

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"time"
)

// Entry is one file inside an archive.
type Entry struct {
	Name string
	Data []byte
}

const (
	localHeaderSig   = 0x04034b50
	centralDirSig    = 0x02014b50
	endOfCentralSig  = 0x06054b50
	localHeaderLen   = 30
	centralHeaderLen = 46
	endOfCentralLen  = 22

	// EOCD may be followed by a comment of up to 64 KiB, so the backward
	// scan for its signature is bounded by comment max + record length.
	maxEOCDScan = 65535 + endOfCentralLen

	methodStored  = 0
	methodDeflate = 8
)

var ErrNotZip = errors.New("zipx: end of central directory not found")

// crcTable is the standard CRC32 table for polynomial 0xEDB88320.
var crcTable [256]uint32

func init() {
	for i := range crcTable {
		c := uint32(i)
		for k := 0; k < 8; k++ {
			if c&1 != 0 {
				c = 0xEDB88320 ^ (c >> 1)
			} else {
				c >>= 1
			}
		}
		crcTable[i] = c
	}
}

func checksum(data []byte) uint32 {
	c := uint32(0xFFFFFFFF)
	for _, b := range data {
		c = crcTable[(c^uint32(b))&0xFF] ^ (c >> 8)
	}
	return c ^ 0xFFFFFFFF
}

// dosTime converts t to MS-DOS time and date words.
func dosTime(t time.Time) (timeWord, dateWord uint16) {
	timeWord = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	year := t.Year()
	if year < 1980 {
		year = 1980
	}
	dateWord = uint16(year-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	return
}

// Encode packs entries into a ZIP archive using the stored method.
func Encode(entries []Entry) []byte {
	var buf bytes.Buffer
	timeWord, dateWord := dosTime(time.Now())

	type record struct {
		name   string
		crc    uint32
		size   uint32
		offset uint32
	}
	records := make([]record, 0, len(entries))

	for _, e := range entries {
		offset := uint32(buf.Len())
		crc := checksum(e.Data)

		var h [localHeaderLen]byte
		binary.LittleEndian.PutUint32(h[0:], localHeaderSig)
		binary.LittleEndian.PutUint16(h[4:], 20) // version needed
		binary.LittleEndian.PutUint16(h[6:], 0)  // flags
		binary.LittleEndian.PutUint16(h[8:], methodStored)
		binary.LittleEndian.PutUint16(h[10:], timeWord)
		binary.LittleEndian.PutUint16(h[12:], dateWord)
		binary.LittleEndian.PutUint32(h[14:], crc)
		binary.LittleEndian.PutUint32(h[18:], uint32(len(e.Data))) // compressed
		binary.LittleEndian.PutUint32(h[22:], uint32(len(e.Data))) // uncompressed
		binary.LittleEndian.PutUint16(h[26:], uint16(len(e.Name)))
		binary.LittleEndian.PutUint16(h[28:], 0) // extra len
		buf.Write(h[:])
		buf.WriteString(e.Name)
		buf.Write(e.Data)

		records = append(records, record{name: e.Name, crc: crc, size: uint32(len(e.Data)), offset: offset})
	}

	centralStart := uint32(buf.Len())
	for _, r := range records {
		var h [centralHeaderLen]byte
		binary.LittleEndian.PutUint32(h[0:], centralDirSig)
		binary.LittleEndian.PutUint16(h[4:], 20) // version made by
		binary.LittleEndian.PutUint16(h[6:], 20) // version needed
		binary.LittleEndian.PutUint16(h[8:], 0)  // flags
		binary.LittleEndian.PutUint16(h[10:], methodStored)
		binary.LittleEndian.PutUint16(h[12:], timeWord)
		binary.LittleEndian.PutUint16(h[14:], dateWord)
		binary.LittleEndian.PutUint32(h[16:], r.crc)
		binary.LittleEndian.PutUint32(h[20:], r.size)
		binary.LittleEndian.PutUint32(h[24:], r.size)
		binary.LittleEndian.PutUint16(h[28:], uint16(len(r.name)))
		// extra, comment, disk number, internal attrs, external attrs: zero
		binary.LittleEndian.PutUint32(h[42:], r.offset)
		buf.Write(h[:])
		buf.WriteString(r.name)
	}
	centralSize := uint32(buf.Len()) - centralStart

	var e [endOfCentralLen]byte
	binary.LittleEndian.PutUint32(e[0:], endOfCentralSig)
	binary.LittleEndian.PutUint16(e[8:], uint16(len(records)))  // entries on disk
	binary.LittleEndian.PutUint16(e[10:], uint16(len(records))) // entries total
	binary.LittleEndian.PutUint32(e[12:], centralSize)
	binary.LittleEndian.PutUint32(e[16:], centralStart)
	buf.Write(e[:])

	return buf.Bytes()
}

// Decode extracts entries from a ZIP archive. Both stored and DEFLATE entries
// are supported. Decoding is lenient: entries that fail to parse are skipped
// and whatever was recovered so far is returned, since some producers emit
// inaccurate sizes or trailing junk. An archive with zero entries decodes to
// an empty slice.
func Decode(data []byte) ([]Entry, error) {
	eocd := findEndOfCentral(data)
	if eocd < 0 {
		return nil, ErrNotZip
	}

	count := int(binary.LittleEndian.Uint16(data[eocd+10:]))
	offset := int(binary.LittleEndian.Uint32(data[eocd+16:]))

	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		if offset+centralHeaderLen > len(data) {
			break
		}
		if binary.LittleEndian.Uint32(data[offset:]) != centralDirSig {
			break
		}
		method := binary.LittleEndian.Uint16(data[offset+10:])
		compressedSize := int(binary.LittleEndian.Uint32(data[offset+20:]))
		nameLen := int(binary.LittleEndian.Uint16(data[offset+28:]))
		extraLen := int(binary.LittleEndian.Uint16(data[offset+30:]))
		commentLen := int(binary.LittleEndian.Uint16(data[offset+32:]))
		localOffset := int(binary.LittleEndian.Uint32(data[offset+42:]))

		if offset+centralHeaderLen+nameLen > len(data) {
			break
		}
		name := string(data[offset+centralHeaderLen : offset+centralHeaderLen+nameLen])
		offset += centralHeaderLen + nameLen + extraLen + commentLen

		payload, ok := readLocalEntry(data, localOffset, compressedSize, method)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Name: name, Data: payload})
	}

	return entries, nil
}

// readLocalEntry slices the entry payload out of the local file record and
// inflates it if needed. The local header carries its own name/extra lengths,
// which may differ from the central directory's.
func readLocalEntry(data []byte, offset, compressedSize int, method uint16) ([]byte, bool) {
	if offset < 0 || offset+localHeaderLen > len(data) {
		return nil, false
	}
	if binary.LittleEndian.Uint32(data[offset:]) != localHeaderSig {
		return nil, false
	}
	nameLen := int(binary.LittleEndian.Uint16(data[offset+26:]))
	extraLen := int(binary.LittleEndian.Uint16(data[offset+28:]))

	start := offset + localHeaderLen + nameLen + extraLen
	end := start + compressedSize
	if start > len(data) || end > len(data) || end < start {
		return nil, false
	}
	raw := data[start:end]

	switch method {
	case methodStored:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, true
	case methodDeflate:
		r := flate.NewReader(bytes.NewReader(raw))
		defer r.Close()
		inflated, err := io.ReadAll(r)
		if err != nil && len(inflated) == 0 {
			return nil, false
		}
		// A declared-size mismatch is tolerated; return what inflated.
		return inflated, true
	default:
		return nil, false
	}
}

// findEndOfCentral scans backward from the tail for the EOCD signature.
func findEndOfCentral(data []byte) int {
	if len(data) < endOfCentralLen {
		return -1
	}
	stop := len(data) - maxEOCDScan
	if stop < 0 {
		stop = 0
	}
	for i := len(data) - endOfCentralLen; i >= stop; i-- {
		if binary.LittleEndian.Uint32(data[i:]) == endOfCentralSig {
			return i
		}
	}
	return -1
}

// SanitizeEntryName makes an archive entry name safe for use as a storage key:
// backslashes become slashes, leading slashes are stripped, and any ".."
// segments are dropped.
func SanitizeEntryName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimLeft(name, "/")
	parts := strings.Split(name, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "/")
}
