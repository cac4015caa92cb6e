package codec

import "bytes"

// ScanForEndLine looks for the end-line of transaction tid in buf, where buf
// starts at the first body byte. A match needs the CRLF that closes the body,
// the seven dashes, the exact tid, one continuation flag and a closing CRLF, so
// look-alike sequences inside the body (different tid, tid prefix or suffix, no
// line boundary, no flag) are skipped.
//
// It returns the offset of the CRLF preceding the end-line, which is the body
// length, and the flag. found is false if no complete end-line is present yet.
func ScanForEndLine(buf []byte, tid string) (offset int, flag Flag, found bool) {
	marker := endLineMarker(tid)
	from := 0
	for {
		idx := bytes.Index(buf[from:], marker)
		if idx < 0 {
			return 0, 0, false
		}
		pos := from + idx
		tail := pos + len(marker)
		if tail+3 > len(buf) {
			// candidate is incomplete; later data decides
			return 0, 0, false
		}
		f := Flag(buf[tail])
		if f.Valid() && buf[tail+1] == '\r' && buf[tail+2] == '\n' {
			return pos, f, true
		}
		from = pos + 1
	}
}

// EndLineTrailerLen returns the number of bytes an end-line for tid occupies
// after the body, including the CRLF that closes the body.
func EndLineTrailerLen(tid string) int {
	return len(crlf) + len(EndLinePrefix) + len(tid) + 1 + len(crlf)
}

// ContainsEndLineToken reports the first offset in data where "-------<tid>"
// occurs, or -1. Senders use it to keep a body from carrying text that could be
// confused with the transaction's own end-line.
func ContainsEndLineToken(data []byte, tid string) int {
	return bytes.Index(data, []byte(EndLinePrefix+tid))
}

func endLineMarker(tid string) []byte {
	marker := make([]byte, 0, len(crlf)+len(EndLinePrefix)+len(tid))
	marker = append(marker, crlf...)
	marker = append(marker, EndLinePrefix...)
	return append(marker, tid...)
}
