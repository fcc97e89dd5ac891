/*
Package stream serves video files to clients over a dedicated streaming connection.

This file implements the default media source: a raw H.264 Annex-B elementary stream. SPS and
PPS units form the extradata and NAL units are grouped into one packet per access unit.
*/
package stream

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// H.264 NAL unit types used for access unit detection.
const (
	nalSlice     = 1
	nalIDR       = 5
	nalSEI       = 6
	nalSPS       = 7
	nalPPS       = 8
	nalDelimiter = 9
)

var startCode = []byte{0, 0, 1}

// AnnexB opens .h264 files holding a raw Annex-B byte stream.
var AnnexB Opener = OpenerFunc(openAnnexB)

type annexBSource struct {
	extradata []byte
	packets   []Frame
	next      int
}

func openAnnexB(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	src, err := parseAnnexB(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// nalUnit is one NAL unit. raw includes the start code, body starts at the NAL header.
type nalUnit struct {
	raw  []byte
	body []byte
}

func (n nalUnit) kind() byte {
	return n.body[0] & 0x1f
}

func (n nalUnit) isVCL() bool {
	k := n.kind()
	return k == nalSlice || k == nalIDR
}

// firstSlice reports whether first_mb_in_slice is zero, the start of a new picture.
// ue(v) encodes zero as a single set bit.
func (n nalUnit) firstSlice() bool {
	return len(n.body) > 1 && n.body[1]&0x80 != 0
}

func parseAnnexB(data []byte) (*annexBSource, error) {
	src := &annexBSource{}

	var sps, pps []byte
	var unit []byte
	hasVCL, key := false, false

	flush := func() {
		if hasVCL {
			src.packets = append(src.packets, Frame{Data: unit, Key: key})
		}
		unit, hasVCL, key = nil, false, false
	}

	for _, nal := range splitNALs(data) {
		k := nal.kind()

		startsUnit := (nal.isVCL() && nal.firstSlice()) ||
			k == nalSEI || k == nalSPS || k == nalPPS || k == nalDelimiter
		if hasVCL && startsUnit {
			flush()
		}

		unit = append(unit, nal.raw...)
		if nal.isVCL() {
			hasVCL = true
		}
		if k == nalIDR {
			key = true
		}

		switch {
		case k == nalSPS && sps == nil:
			sps = nal.raw
		case k == nalPPS && pps == nil:
			pps = nal.raw
		}
	}
	flush()

	if sps == nil || pps == nil {
		return nil, ErrNoExtradata
	}
	src.extradata = append(append([]byte{}, sps...), pps...)

	return src, nil
}

// splitNALs cuts an Annex-B byte stream at its 3 and 4 byte start codes.
func splitNALs(data []byte) []nalUnit {
	var units []nalUnit

	start, size := findStartCode(data, 0)
	for start >= 0 {
		body := start + size
		next, nextSize := findStartCode(data, body)

		end := len(data)
		if next >= 0 {
			end = next
		}
		if end > body {
			units = append(units, nalUnit{raw: data[start:end], body: data[body:end]})
		}

		start, size = next, nextSize
	}

	return units
}

func findStartCode(data []byte, from int) (int, int) {
	i := bytes.Index(data[from:], startCode)
	if i < 0 {
		return -1, 0
	}
	i += from
	if i > from && data[i-1] == 0 {
		return i - 1, 4
	}
	return i, 3
}

func (s *annexBSource) Extradata() []byte {
	return s.extradata
}

func (s *annexBSource) Next() (Frame, error) {
	if s.next >= len(s.packets) {
		return Frame{}, io.EOF
	}
	f := s.packets[s.next]
	s.next++
	return f, nil
}

func (s *annexBSource) Close() error {
	s.packets = nil
	return nil
}
