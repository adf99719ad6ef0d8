// Package archive reads and writes the ZIP container of APK files with
// entry alignment and an optional APK Signing Block.
package archive

import (
	"bytes"
	"encoding/binary"
	"io"

	apperrors "github.com/antisplit/pkg/errors"
)

const (
	localHeaderSig   = 0x04034b50
	centralHeaderSig = 0x02014b50
	eocdSig          = 0x06054b50
	zip64LocatorSig  = 0x07064b50

	localHeaderLen   = 30
	centralHeaderLen = 46
	eocdLen          = 22
	zip64LocatorLen  = 20
	maxCommentLen    = 0xFFFF
)

// Layout locates the sections of a ZIP file.
type Layout struct {
	Size       int64
	CDOffset   int64
	CDSize     int64
	EOCDOffset int64
	Entries    int
	// SigningBlockOffset is the start of the APK Signing Block, -1 when
	// the archive has none.
	SigningBlockOffset int64
	EOCD               []byte
}

// EntriesEnd returns the offset where local entry data ends.
func (l *Layout) EntriesEnd() int64 {
	if l.SigningBlockOffset >= 0 {
		return l.SigningBlockOffset
	}
	return l.CDOffset
}

// ReadLayout finds the end of central directory record and, when present,
// the signing block. Zip64 archives are rejected.
func ReadLayout(ra io.ReaderAt, size int64) (*Layout, error) {
	if size < eocdLen {
		return nil, apperrors.Format("zip of %d bytes is too short", size)
	}
	tailLen := int64(eocdLen + maxCommentLen)
	if tailLen > size {
		tailLen = size
	}
	tail := make([]byte, tailLen)
	if _, err := ra.ReadAt(tail, size-tailLen); err != nil && err != io.EOF {
		return nil, apperrors.IO(err, "read zip tail")
	}

	at := -1
	for i := len(tail) - eocdLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(tail[i:]) != eocdSig {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(tail[i+20:]))
		if i+eocdLen+commentLen == len(tail) {
			at = i
			break
		}
	}
	if at < 0 {
		return nil, apperrors.Format("end of central directory not found")
	}

	eocd := tail[at:]
	l := &Layout{
		Size:               size,
		EOCDOffset:         size - tailLen + int64(at),
		SigningBlockOffset: -1,
		EOCD:               append([]byte(nil), eocd...),
	}
	entries := binary.LittleEndian.Uint16(eocd[10:])
	cdSize := binary.LittleEndian.Uint32(eocd[12:])
	cdOffset := binary.LittleEndian.Uint32(eocd[16:])
	if entries == 0xFFFF || cdSize == 0xFFFFFFFF || cdOffset == 0xFFFFFFFF {
		return nil, apperrors.Format("zip64 archives are not supported")
	}
	if l.EOCDOffset >= zip64LocatorLen {
		var sig [4]byte
		if _, err := ra.ReadAt(sig[:], l.EOCDOffset-zip64LocatorLen); err == nil &&
			binary.LittleEndian.Uint32(sig[:]) == zip64LocatorSig {
			return nil, apperrors.Format("zip64 archives are not supported")
		}
	}
	l.Entries = int(entries)
	l.CDSize = int64(cdSize)
	l.CDOffset = int64(cdOffset)
	if l.CDOffset+l.CDSize > l.EOCDOffset {
		return nil, apperrors.Format("central directory [%d, %d) overlaps end record at %d", l.CDOffset, l.CDOffset+l.CDSize, l.EOCDOffset)
	}

	if l.CDOffset >= 8+signingFooterSize {
		footer := make([]byte, signingFooterSize)
		if _, err := ra.ReadAt(footer, l.CDOffset-signingFooterSize); err != nil {
			return nil, apperrors.IO(err, "read signing block footer")
		}
		if bytes.Equal(footer[8:], SigningBlockMagic) {
			blockSize := int64(binary.LittleEndian.Uint64(footer))
			start := l.CDOffset - blockSize - 8
			if blockSize < signingFooterSize || start < 0 {
				return nil, apperrors.Format("signing block size %d is invalid", blockSize)
			}
			l.SigningBlockOffset = start
		}
	}
	return l, nil
}

// ReadSigningBlock returns the archive's signing block, or nil when there
// is none.
func ReadSigningBlock(ra io.ReaderAt, l *Layout) (*SigningBlock, error) {
	if l.SigningBlockOffset < 0 {
		return nil, nil
	}
	data := make([]byte, l.CDOffset-l.SigningBlockOffset)
	if _, err := ra.ReadAt(data, l.SigningBlockOffset); err != nil {
		return nil, apperrors.IO(err, "read signing block")
	}
	return DecodeSigningBlock(data)
}

// ReadCentralDirectory returns the raw central directory bytes.
func ReadCentralDirectory(ra io.ReaderAt, l *Layout) ([]byte, error) {
	cd := make([]byte, l.CDSize)
	if _, err := ra.ReadAt(cd, l.CDOffset); err != nil {
		return nil, apperrors.IO(err, "read central directory")
	}
	return cd, nil
}

// EOCDWithOffset returns a copy of the end record pointing the central
// directory at offset.
func (l *Layout) EOCDWithOffset(offset int64) []byte {
	out := append([]byte(nil), l.EOCD...)
	binary.LittleEndian.PutUint32(out[16:], uint32(offset))
	return out
}

// Splice copies the archive to dst with block placed between the entries
// and the central directory, replacing any existing signing block.
func Splice(ra io.ReaderAt, l *Layout, block *SigningBlock, dst io.Writer) error {
	entriesEnd := l.EntriesEnd()
	if _, err := io.Copy(dst, io.NewSectionReader(ra, 0, entriesEnd)); err != nil {
		return apperrors.IO(err, "copy entries")
	}
	cdOffset := entriesEnd
	if block != nil {
		data := block.Bytes()
		if _, err := dst.Write(data); err != nil {
			return apperrors.IO(err, "write signing block")
		}
		cdOffset += int64(len(data))
	}
	if cdOffset > 0xFFFFFFFE {
		return apperrors.Format("central directory offset %d needs zip64", cdOffset)
	}
	if _, err := io.Copy(dst, io.NewSectionReader(ra, l.CDOffset, l.CDSize)); err != nil {
		return apperrors.IO(err, "copy central directory")
	}
	if _, err := dst.Write(l.EOCDWithOffset(cdOffset)); err != nil {
		return apperrors.IO(err, "write end record")
	}
	return nil
}
