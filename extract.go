package serial

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// first run of 10 to 20 digits; longer runs yield their first 20 digits
	rfidPattern = regexp.MustCompile(`\d{10,20}`)

	// optional sign, digits, optional fraction; "+  450.5" is a valid reading
	weightPattern = regexp.MustCompile(`[+-]?\s*\d+\.?\d*`)
)

// Extractor pulls at most one value out of a complete line. A false result
// means the line carried nothing usable and should be ignored.
type Extractor interface {
	Extract(line string) (Value, bool)
}

// ValueKind tells which field of a Value is set.
type ValueKind int

const (
	ValueRFID ValueKind = iota + 1
	ValueWeight
)

func (k ValueKind) String() string {
	switch k {
	case ValueRFID:
		return "rfid"
	case ValueWeight:
		return "weight"
	default:
		return "unknown"
	}
}

// Value is one decoded reading: an RFID tag or a weight in kg.
type Value struct {
	Kind   ValueKind
	RFID   string
	Weight float64
}

// ExtractRFID returns the first run of 10 to 20 digits in line.
func ExtractRFID(line string) (string, bool) {
	tag := rfidPattern.FindString(line)
	return tag, tag != ""
}

// ExtractWeight returns the first signed decimal number in line when
// 0 <= value < ceiling.
func ExtractWeight(line string, ceiling float64) (float64, bool) {
	m := weightPattern.FindString(line)
	if m == "" {
		return 0, false
	}
	m = strings.Join(strings.Fields(m), "")
	w, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	if w < 0 || w >= ceiling {
		return 0, false
	}
	// "-0" is a valid zero reading
	return w + 0, true
}

// ScannerExtractor decodes RFID tags.
type ScannerExtractor struct{}

func (ScannerExtractor) Extract(line string) (Value, bool) {
	tag, ok := ExtractRFID(line)
	if !ok {
		return Value{}, false
	}
	return Value{Kind: ValueRFID, RFID: tag}, true
}

// ScaleExtractor decodes weights below Ceiling. A zero Ceiling selects
// DefaultWeightCeiling.
type ScaleExtractor struct {
	Ceiling float64
}

func (s ScaleExtractor) Extract(line string) (Value, bool) {
	ceiling := s.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultWeightCeiling
	}
	w, ok := ExtractWeight(line, ceiling)
	if !ok {
		return Value{}, false
	}
	return Value{Kind: ValueWeight, Weight: w}, true
}
