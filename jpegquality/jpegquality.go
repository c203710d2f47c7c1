// Package jpegquality estimates quality level JPEG image was encoded with by
// comparing its luminance quantization table to the standard one.
package jpegquality

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

var (
	ErrInvalidJPEG  = errors.New("invalid JPEG header")
	ErrWrongTable   = errors.New("wrong size for quantization table")
	ErrShortSegment = errors.New("short segment length")
	ErrShortDQT     = errors.New("section DQT is too short")
	ErrNoDQT        = errors.New("no luminance quantization table found")
)

const (
	markerSOI  = 0xffd8
	markerEOI  = 0xffd9
	markerSOS  = 0xffda
	markerDQT  = 0xffdb
	markerTEM  = 0xff01
	markerRST0 = 0xffd0
	markerRST7 = 0xffd7
)

// stdLuminance is Annex K luminance table, order is irrelevant since only
// sum of coefficients is used.
var stdLuminance = [64]int{
	16, 11, 10, 16, 24, 40, 51, 61,
	12, 12, 14, 19, 26, 58, 60, 55,
	14, 13, 16, 24, 40, 57, 69, 56,
	14, 17, 22, 29, 51, 87, 80, 62,
	18, 22, 37, 56, 68, 109, 103, 77,
	24, 35, 55, 64, 81, 104, 113, 92,
	49, 64, 78, 87, 103, 121, 120, 101,
	72, 92, 95, 98, 112, 100, 103, 99,
}

var stdLuminanceSum = func() int {
	var s int
	for _, v := range stdLuminance {
		s += v
	}
	return s
}()

// QualityReader reports detected quality level in 1..100 range.
type QualityReader interface {
	Quality() int
}

type jpegReader struct {
	rs      io.ReadSeeker
	quality int
}

// New reads JPEG markers from the beginning of rs until luminance
// quantization table is found.
func New(rs io.ReadSeeker) (QualityReader, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	jr := &jpegReader{rs: rs}
	if err := jr.scan(); err != nil {
		return nil, err
	}
	return jr, nil
}

// NewWithBytes is New for in-memory data.
func NewWithBytes(data []byte) (QualityReader, error) {
	return New(bytes.NewReader(data))
}

func (jr *jpegReader) Quality() int {
	return jr.quality
}

func (jr *jpegReader) readMarker() uint16 {
	var b [2]byte
	if _, err := io.ReadFull(jr.rs, b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

func (jr *jpegReader) scan() error {
	if jr.readMarker() != markerSOI {
		return ErrInvalidJPEG
	}
	for {
		marker := jr.readMarker()
		switch {
		case marker == 0:
			return ErrShortSegment
		case marker == markerEOI || marker == markerSOS:
			return ErrNoDQT
		case marker == markerTEM || (marker >= markerRST0 && marker <= markerRST7):
			// no payload
			continue
		}

		length := jr.readMarker()
		if length < 2 {
			return ErrShortSegment
		}
		if marker != markerDQT {
			if _, err := jr.rs.Seek(int64(length)-2, io.SeekCurrent); err != nil {
				return err
			}
			continue
		}

		payload := make([]byte, int(length)-2)
		if _, err := io.ReadFull(jr.rs, payload); err != nil {
			return ErrShortDQT
		}
		if found, err := jr.parseDQT(payload); err != nil {
			return err
		} else if found {
			return nil
		}
	}
}

// parseDQT walks all tables of the segment, returns true when luminance
// (destination 0) table has been processed.
func (jr *jpegReader) parseDQT(payload []byte) (bool, error) {
	if len(payload) == 0 {
		return false, ErrShortDQT
	}
	for len(payload) > 0 {
		precision, dest := payload[0]>>4, payload[0]&0x0f
		payload = payload[1:]

		size := 64
		if precision > 0 {
			size = 128
		}
		if len(payload) < size {
			return false, ErrWrongTable
		}

		if dest == 0 {
			var sum int
			for i := range 64 {
				if precision > 0 {
					sum += int(binary.BigEndian.Uint16(payload[i*2:]))
				} else {
					sum += int(payload[i])
				}
			}
			jr.quality = estimate(sum)
			return true, nil
		}
		payload = payload[size:]
	}
	return false, nil
}

// estimate inverts libjpeg quality scaling: scale = 5000/q for q < 50 and
// 200-2q otherwise.
func estimate(sum int) int {
	scale := float64(sum) * 100 / float64(stdLuminanceSum)
	var q float64
	if scale <= 100 {
		q = (200 - scale) / 2
	} else {
		q = 5000 / scale
	}
	return min(max(int(math.Round(q)), 1), 100)
}
