// Package payload decodes truck-load message bodies.
//
// Producers send JSON, sometimes wrapped in an extra JSON string layer, and one
// known producer emits bodies with embedded line breaks and a truck number whose
// closing quote is missing (`"truck_number":"123,"count":5`). Decode recovers
// exactly those shapes and nothing else: at most one string unwrap, and one
// normalization retry for the outer text and for the unwrapped text.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"truckcount-api/internal/model"
)

// KindDecode is the ErrorKind of DecodeError.
const KindDecode = "decode"

// DecodeError reports a body that could not be recovered.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("undecodable payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) ErrorKind() string { return KindDecode }

// unterminatedDigits matches a run of digits opened by a quote and followed by
// a comma where the closing quote should be.
var unterminatedDigits = regexp.MustCompile(`"(\d+),`)

var lineBreaks = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")

// Decode turns a raw message body into a LoadCount.
func Decode(raw string) (*model.LoadCount, error) {
	value, err := parseUnwrapped(raw)
	if err != nil {
		value, err = parseUnwrapped(normalize(raw))
		if err != nil {
			return nil, &DecodeError{Raw: raw, Err: err}
		}
	}

	load, err := toLoadCount(value)
	if err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}
	return load, nil
}

// normalize applies the fixed repairs for the known producer defect.
func normalize(text string) string {
	text = lineBreaks.Replace(text)
	return unterminatedDigits.ReplaceAllString(text, `"$1",`)
}

// parseUnwrapped parses text and, when it holds a JSON string, parses that
// string once more. The inner document gets at most one normalization retry.
func parseUnwrapped(text string) (any, error) {
	value, err := parse(text)
	if err != nil {
		return nil, err
	}
	inner, ok := value.(string)
	if !ok {
		return value, nil
	}
	if value, err = parse(inner); err == nil {
		return value, nil
	}
	return parse(normalize(inner))
}

func parse(text string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return value, nil
}

func toLoadCount(value any) (*model.LoadCount, error) {
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", value)
	}

	truck := ""
	switch v := fields["truck_number"].(type) {
	case string:
		truck = strings.TrimSpace(v)
	case json.Number:
		truck = v.String()
	}
	if truck == "" {
		return nil, errors.New("missing truck_number")
	}

	count, ok := ToCount(fields["count"])
	if !ok {
		return nil, fmt.Errorf("invalid count %v", fields["count"])
	}

	return &model.LoadCount{TruckNumber: truck, Count: count}, nil
}

// ToCount coerces a JSON-ish value to a non-negative whole count.
// Numeric strings are accepted; fractions, negatives, NaN and anything
// non-numeric are not.
func ToCount(value any) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return nonNegative(n)
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return fromFloat(f)
	case float64:
		return fromFloat(v)
	case int:
		return nonNegative(int64(v))
	case int64:
		return nonNegative(v)
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return nonNegative(n)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return fromFloat(f)
	}
	return 0, false
}

func fromFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, false
	}
	return nonNegative(int64(f))
}

func nonNegative(n int64) (int64, bool) {
	if n < 0 {
		return 0, false
	}
	return n, true
}
