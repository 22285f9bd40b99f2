package record

import "encoding/binary"

// Minimal Ogg page writer, enough to encapsulate an Opus packet stream per
// RFC 7845: an OpusHead page, an OpusTags page, then one page per flush of
// audio packets, with the end-of-stream flag on the final page.

const (
	oggFlagContinued = 0x01
	oggFlagBOS       = 0x02
	oggFlagEOS       = 0x04
)

// crcTable holds the Ogg CRC-32 (poly 0x04c11db7, unreflected, zero init).
var crcTable [256]uint32

func init() {
	for i := range crcTable {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		crcTable[i] = r
	}
}

func oggCRC(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

type oggWriter struct {
	serial  uint32
	pageSeq uint32
}

// page assembles one Ogg page holding the given packets. Each packet must be
// small enough for its lacing values to fit a single page (the recorder's
// 20 ms Opus packets are far below the limit).
func (w *oggWriter) page(packets [][]byte, granule uint64, flags byte) []byte {
	var lacing []byte
	bodyLen := 0
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		bodyLen += len(p)
	}

	page := make([]byte, 0, 27+len(lacing)+bodyLen)
	page = append(page, 'O', 'g', 'g', 'S', 0, flags)
	page = binary.LittleEndian.AppendUint64(page, granule)
	page = binary.LittleEndian.AppendUint32(page, w.serial)
	page = binary.LittleEndian.AppendUint32(page, w.pageSeq)
	w.pageSeq++
	page = append(page, 0, 0, 0, 0) // CRC placeholder
	page = append(page, byte(len(lacing)))
	page = append(page, lacing...)
	for _, p := range packets {
		page = append(page, p...)
	}

	binary.LittleEndian.PutUint32(page[22:26], oggCRC(page))
	return page
}

// opusHead builds the identification header packet for a mono Opus stream.
func opusHead(inputRate int) []byte {
	h := make([]byte, 0, 19)
	h = append(h, "OpusHead"...)
	h = append(h, 1)   // version
	h = append(h, 1)   // channel count
	h = binary.LittleEndian.AppendUint16(h, 312) // pre-skip at 48 kHz
	h = binary.LittleEndian.AppendUint32(h, uint32(inputRate))
	h = binary.LittleEndian.AppendUint16(h, 0) // output gain
	h = append(h, 0)                           // mapping family
	return h
}

// opusTags builds the comment header packet.
func opusTags() []byte {
	const vendor = "lingostream-capture"
	t := make([]byte, 0, 8+4+len(vendor)+4)
	t = append(t, "OpusTags"...)
	t = binary.LittleEndian.AppendUint32(t, uint32(len(vendor)))
	t = append(t, vendor...)
	t = binary.LittleEndian.AppendUint32(t, 0) // no user comments
	return t
}
