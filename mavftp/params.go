package mavftp

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParamPackPath is the virtual file exposing the packed parameter table.
const ParamPackPath = "@PARAM/param.pck"

// Parameter pack magic values.
const (
	paramPackMagic             = 0x671B
	paramPackMagicWithDefaults = 0x671C
)

// ParamType is the scalar type of a parameter value.
type ParamType uint8

const (
	ParamTypeInt8 ParamType = iota + 1
	ParamTypeInt16
	ParamTypeInt32
	ParamTypeFloat32
)

// byteSize returns the encoded width of a value of this type.
func (t ParamType) byteSize() int {
	switch t {
	case ParamTypeInt8:
		return 1
	case ParamTypeInt16:
		return 2
	case ParamTypeInt32:
		return 4
	case ParamTypeFloat32:
		return 4
	}
	return 0
}

// Bits returns the value width in bits, for datatype comments.
func (t ParamType) Bits() int { return t.byteSize() * 8 }

func (t ParamType) String() string {
	switch t {
	case ParamTypeInt8:
		return "int8"
	case ParamTypeInt16:
		return "int16"
	case ParamTypeInt32:
		return "int32"
	case ParamTypeFloat32:
		return "float32"
	}
	return "unknown"
}

// Param is one decoded parameter record. The decoded table preserves wire
// order: duplicate names are possible on the wire and must survive for
// downstream sorting and merging.
type Param struct {
	Name       string
	Type       ParamType
	Value      float64
	HasDefault bool
	Default    float64
}

// FormatValue renders the value the way parameter files expect: integers
// without a decimal point, floats in shortest form.
func (p Param) FormatValue() string {
	return formatParamValue(p.Type, p.Value)
}

func formatParamValue(t ParamType, v float64) string {
	if t == ParamTypeFloat32 {
		return strconv.FormatFloat(v, 'g', -1, 32)
	}
	return strconv.FormatInt(int64(v), 10)
}

// DecodeParamBlob decodes a packed parameter table as delivered by a
// completed read of ParamPackPath.
//
// The blob is a 6-byte header (magic, count in this blob, total in system)
// followed by records. Each record is a type/flags byte, a combined
// name-length byte (low nibble: bytes shared with the previous record's
// name; high nibble: name length minus one), the non-shared name suffix, the
// value, and, when the defaults magic is present and the record's default
// flag is set, a default value of the same type. Records may be preceded by
// zero padding.
func DecodeParamBlob(data []byte) ([]Param, error) {
	if len(data) < 6 {
		return nil, ErrTruncatedBlob
	}
	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != paramPackMagic && magic != paramPackMagicWithDefaults {
		return nil, ErrBadParamMagic
	}
	withDefaults := magic == paramPackMagicWithDefaults
	total := int(binary.LittleEndian.Uint16(data[4:6]))

	var params []Param
	var prevName string
	pos := 6

	for {
		// records are separated by zero padding
		for pos < len(data) && data[pos] == 0 {
			pos++
		}
		if pos >= len(data) {
			break
		}

		typeByte := data[pos]
		pos++
		ptype := ParamType(typeByte & 0x0F)
		if ptype < ParamTypeInt8 || ptype > ParamTypeFloat32 {
			return nil, ErrTruncatedBlob
		}
		hasDefault := withDefaults && typeByte&0x10 != 0

		if pos >= len(data) {
			return nil, ErrTruncatedBlob
		}
		nameByte := data[pos]
		pos++
		commonLen := int(nameByte & 0x0F)
		nameLen := int(nameByte>>4) + 1
		if commonLen > nameLen || commonLen > len(prevName) {
			return nil, ErrTruncatedBlob
		}

		suffixLen := nameLen - commonLen
		valueLen := ptype.byteSize()
		need := suffixLen + valueLen
		if hasDefault {
			need += valueLen
		}
		if pos+need > len(data) {
			return nil, ErrTruncatedBlob
		}

		name := prevName[:commonLen] + string(data[pos:pos+suffixLen])
		pos += suffixLen

		value := decodeParamValue(ptype, data[pos:])
		pos += valueLen

		p := Param{Name: name, Type: ptype, Value: value}
		if hasDefault {
			p.HasDefault = true
			p.Default = decodeParamValue(ptype, data[pos:])
			pos += valueLen
		}
		params = append(params, p)
		prevName = name
	}

	if len(params) != total {
		return nil, ErrCountMismatch
	}
	return params, nil
}

func decodeParamValue(t ParamType, data []byte) float64 {
	switch t {
	case ParamTypeInt8:
		return float64(int8(data[0]))
	case ParamTypeInt16:
		return float64(int16(binary.LittleEndian.Uint16(data)))
	case ParamTypeInt32:
		return float64(int32(binary.LittleEndian.Uint32(data)))
	case ParamTypeFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data)))
	}
	return 0
}

// SortParams orders a decoded table for presentation. Segment order splits
// names on underscores and compares segment by segment, which groups related
// parameters; plain order is bytewise lexicographic. The sort is stable so
// wire-order duplicates keep their relative positions.
func SortParams(params []Param, segmentOrder bool) {
	if segmentOrder {
		sort.SliceStable(params, func(i, j int) bool {
			return lessBySegments(params[i].Name, params[j].Name)
		})
		return
	}
	sort.SliceStable(params, func(i, j int) bool {
		return params[i].Name < params[j].Name
	})
}

func lessBySegments(a, b string) bool {
	as := strings.Split(a, "_")
	bs := strings.Split(b, "_")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}

// WriteParams writes a parameter table as plain text, one "name,value" pair
// per line. When annotate is set each line carries a datatype comment and
// the file opens with a timestamp comment.
func WriteParams(w io.Writer, params []Param, annotate bool) error {
	if annotate {
		if _, err := fmt.Fprintf(w, "# saved %s\n", time.Now().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	for _, p := range params {
		var err error
		if annotate {
			_, err = fmt.Fprintf(w, "%s,%s  # %d-bit\n", p.Name, p.FormatValue(), p.Type.Bits())
		} else {
			_, err = fmt.Fprintf(w, "%s,%s\n", p.Name, p.FormatValue())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteParamDefaults writes the default values of those parameters that
// carry one, in the same text format.
func WriteParamDefaults(w io.Writer, params []Param, annotate bool) error {
	defaults := make([]Param, 0, len(params))
	for _, p := range params {
		if p.HasDefault {
			defaults = append(defaults, Param{Name: p.Name, Type: p.Type, Value: p.Default})
		}
	}
	return WriteParams(w, defaults, annotate)
}
