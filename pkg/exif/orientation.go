package exif

import (
	"encoding/binary"
)

// Orientation is the EXIF orientation tag value (1-8)
type Orientation int

const (
	Normal          Orientation = 1
	FlipHorizontal  Orientation = 2
	Rotate180       Orientation = 3
	FlipVertical    Orientation = 4
	Transpose       Orientation = 5
	Rotate90        Orientation = 6 // 90 degrees clockwise to display upright
	Transverse      Orientation = 7
	Rotate270       Orientation = 8 // 270 degrees clockwise to display upright
	tagOrientation              = 0x0112
	markerSOI                   = 0xFFD8
	markerAPP1                  = 0xFFE1
	exifIdentifier              = 0x45786966 // "Exif"
	ifdEntrySize                = 12
)

var orientationNames = map[Orientation]string{
	Normal:         "normal",
	FlipHorizontal: "flip-horizontal",
	Rotate180:      "rotate-180",
	FlipVertical:   "flip-vertical",
	Transpose:      "transpose",
	Rotate90:       "rotate-90",
	Transverse:     "transverse",
	Rotate270:      "rotate-270",
}

func (o Orientation) String() string {
	if name, ok := orientationNames[o]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether o is one of the eight defined codes
func (o Orientation) Valid() bool {
	return o >= Normal && o <= Rotate270
}

// SwapsAxes reports whether displaying the image upright exchanges width and height
func (o Orientation) SwapsAxes() bool {
	return o >= Transpose && o <= Rotate270
}

// ReadOrientation extracts the orientation code from a JPEG's APP1/EXIF segment.
// Anything that is not a well formed JPEG with an orientation tag yields Normal.
func ReadOrientation(data []byte) Orientation {
	r := reader{data: data, order: binary.BigEndian}
	if marker, ok := r.uint16(0); !ok || marker != markerSOI {
		return Normal
	}

	offset := 2
	for offset < len(data) {
		marker, ok := r.uint16(offset)
		if !ok {
			return Normal
		}
		length, ok := r.uint16(offset + 2)
		if !ok {
			return Normal
		}
		if marker == markerAPP1 {
			if ident, ok := r.uint32(offset + 4); ok && ident == exifIdentifier {
				// TIFF header follows "Exif\0\0"
				return readTIFFOrientation(data, offset+10)
			}
		}
		if length < 2 {
			return Normal
		}
		offset += 2 + int(length)
	}
	return Normal
}

// readTIFFOrientation walks IFD0 of the TIFF structure starting at base
func readTIFFOrientation(data []byte, base int) Orientation {
	r := reader{data: data, order: binary.BigEndian}
	bom, ok := r.uint16(base)
	if !ok {
		return Normal
	}
	switch bom {
	case 0x4949: // II
		r.order = binary.LittleEndian
	case 0x4D4D: // MM
	default:
		return Normal
	}

	ifdOffset, ok := r.uint32(base + 4)
	if !ok || int(ifdOffset) < 0 {
		return Normal
	}
	ifd := base + int(ifdOffset)
	count, ok := r.uint16(ifd)
	if !ok {
		return Normal
	}

	for i := 0; i < int(count); i++ {
		entry := ifd + 2 + i*ifdEntrySize
		tag, ok := r.uint16(entry)
		if !ok {
			return Normal
		}
		if tag != tagOrientation {
			continue
		}
		value, ok := r.uint16(entry + 8)
		if !ok {
			return Normal
		}
		if o := Orientation(value); o.Valid() {
			return o
		}
		return Normal
	}
	return Normal
}

// reader does bounds-checked fixed-width reads
type reader struct {
	data  []byte
	order binary.ByteOrder
}

func (r reader) uint16(offset int) (uint16, bool) {
	if offset < 0 || offset+2 > len(r.data) {
		return 0, false
	}
	return r.order.Uint16(r.data[offset:]), true
}

func (r reader) uint32(offset int) (uint32, bool) {
	if offset < 0 || offset+4 > len(r.data) {
		return 0, false
	}
	return r.order.Uint32(r.data[offset:]), true
}
