package axeos

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// rawAPI decodes payloads into generic values, keeping numbers as json.Number
// so integer fields are never routed through float64.
var rawAPI = sonic.Config{
	UseNumber:  true,
	CopyString: true,
}.Froze()

// difficultyUnits maps the magnitude suffixes AxeOS appends to difficulty strings.
var difficultyUnits = map[string]float64{
	"K": 1e3,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,
	"P": 1e15,
	"E": 1e18,
}

// decimalNumber matches plain decimal numbers with an optional exponent.
// strconv.ParseFloat alone would also accept underscores, hex floats and "Inf".
var decimalNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// maxUint64Float is 2^64, the first float64 value that does not fit in a uint64.
const maxUint64Float = 1 << 64

// DecodeBoolFromInt decodes a boolean that the firmware encodes as an integer.
// 0 is false and any other integer is true. Every other JSON type is rejected.
func DecodeBoolFromInt(v any) (bool, error) {
	n, err := asNumber(v)
	if err != nil {
		return false, err
	}
	s := string(n)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i != 0, nil
	}
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return true, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
		return false, fmt.Errorf("%w: expected integer, got %s", ErrInvalidType, s)
	}
	return f != 0, nil
}

// DecodeDifficulty decodes a JSON string difficulty such as "1000" or "2.03 G".
func DecodeDifficulty(v any) (uint64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%w: expected string, got %s", ErrInvalidType, typeName(v))
	}
	return ParseDifficulty(s)
}

// ParseDifficulty parses "<number>" or "<number> <unit>" where unit is one of
// K, M, G, T, P, E. A bare number is truncated toward zero; a suffixed number
// is scaled and rounded to the nearest integer.
func ParseDifficulty(s string) (uint64, error) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return 0, fmt.Errorf("%w: invalid difficulty format: %q", ErrInvalidDifficulty, s)
	}

	if !decimalNumber.MatchString(parts[0]) {
		return 0, fmt.Errorf("%w: invalid number: %q", ErrInvalidDifficulty, parts[0])
	}
	number, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, fmt.Errorf("%w: invalid number: %q", ErrInvalidDifficulty, parts[0])
	}
	if number < 0 {
		return 0, fmt.Errorf("%w: negative difficulty: %q", ErrInvalidDifficulty, s)
	}

	if len(parts) == 1 {
		return difficultyToUint(math.Trunc(number), s)
	}

	multiplier, ok := difficultyUnits[parts[1]]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, parts[1])
	}

	return difficultyToUint(math.Round(number*multiplier), s)
}

func difficultyToUint(f float64, s string) (uint64, error) {
	if f >= maxUint64Float {
		return 0, fmt.Errorf("%w: difficulty %q exceeds 64 bits", ErrOutOfRange, s)
	}
	return uint64(f), nil
}

// DecodeSystemInfo decodes a /api/system/info response body.
// Fields not listed on SystemInfo are ignored.
func DecodeSystemInfo(body []byte) (*SystemInfo, error) {
	var raw map[string]any
	if err := rawAPI.Unmarshal(body, &raw); err != nil {
		return nil, decodeError("", err)
	}
	if raw == nil {
		return nil, decodeError("", fmt.Errorf("%w: expected object, got null", ErrInvalidType))
	}
	return DecodeSystemInfoObject(raw)
}

// DecodeSystemInfoObject builds a SystemInfo from an already parsed JSON object.
// It fails on the first missing or mistyped field, in wire order.
func DecodeSystemInfoObject(raw map[string]any) (*SystemInfo, error) {
	d := &objectDecoder{obj: raw}

	info := &SystemInfo{
		ASICModel:    d.str("ASICModel"),
		Version:      d.str("version"),
		AxeOSVersion: d.str("axeOSVersion"),
		BoardVersion: d.str("boardVersion"),

		StratumURL:             d.str("stratumURL"),
		StratumPort:            d.port("stratumPort"),
		StratumUser:            d.str("stratumUser"),
		IsUsingFallbackStratum: d.boolFromInt("isUsingFallbackStratum"),
		FallbackStratumURL:     d.str("fallbackStratumURL"),
		FallbackStratumPort:    d.port("fallbackStratumPort"),
		FallbackStratumUser:    d.str("fallbackStratumUser"),
		StratumLatency:         d.optionalFloat("responseTime"),

		Hashrate:         d.float("hashRate"),
		ExpectedHashrate: d.float("expectedHashrate"),
		BestDiff:         d.difficulty("bestDiff"),
		BestSessionDiff:  d.difficulty("bestSessionDiff"),
		PoolDifficulty:   d.uint("poolDifficulty"),

		SharesAccepted:        d.uint("sharesAccepted"),
		SharesRejected:        d.uint("sharesRejected"),
		SharesRejectedReasons: d.rejectReasons("sharesRejectedReasons"),
		BlockFound:            d.optionalBoolFromInt("blockFound"),

		AutoFanSpeed: d.boolFromInt("autofanspeed"),
		FanRPM:       d.int("fanrpm"),
		FanSpeed:     d.float("fanspeed"),

		Frequency:              d.int("frequency"),
		Hostname:               d.str("hostname"),
		SSID:                   d.str("ssid"),
		WifiRSSI:               d.int("wifiRSSI"),
		WifiStatus:             d.str("wifiStatus"),
		MACAddr:                d.str("macAddr"),
		APEnabled:              d.boolFromInt("apEnabled"),
		IsPSRAMAvailable:       d.boolFromInt("isPSRAMAvailable"),
		OverclockEnabled:       d.boolFromInt("overclockEnabled"),
		OverheatProtectionMode: d.boolFromInt("overheat_mode"),

		Temp:       d.float("temp"),
		TempTarget: d.float("temptarget"),

		UptimeSeconds: d.uint("uptimeSeconds"),
	}

	if d.err != nil {
		return nil, d.err
	}
	return info, nil
}

// objectDecoder reads typed fields from a JSON object and records the first failure.
// Once an error is recorded every later read is a no-op.
type objectDecoder struct {
	obj map[string]any
	err error
}

func (d *objectDecoder) fail(field string, err error) {
	if d.err == nil {
		d.err = decodeError(field, err)
	}
}

func (d *objectDecoder) lookup(field string) (any, bool) {
	if d.err != nil {
		return nil, false
	}
	v, ok := d.obj[field]
	if !ok {
		d.fail(field, ErrMissingField)
		return nil, false
	}
	return v, true
}

func (d *objectDecoder) str(field string) string {
	v, ok := d.lookup(field)
	if !ok {
		return ""
	}
	s, err := asString(v)
	if err != nil {
		d.fail(field, err)
	}
	return s
}

func (d *objectDecoder) float(field string) float64 {
	v, ok := d.lookup(field)
	if !ok {
		return 0
	}
	f, err := asFloat(v)
	if err != nil {
		d.fail(field, err)
	}
	return f
}

func (d *objectDecoder) optionalFloat(field string) *float64 {
	if d.err != nil {
		return nil
	}
	v, ok := d.obj[field]
	if !ok || v == nil {
		return nil
	}
	f, err := asFloat(v)
	if err != nil {
		d.fail(field, err)
		return nil
	}
	return &f
}

func (d *objectDecoder) int(field string) int64 {
	v, ok := d.lookup(field)
	if !ok {
		return 0
	}
	i, err := asInt(v)
	if err != nil {
		d.fail(field, err)
	}
	return i
}

func (d *objectDecoder) uint(field string) uint64 {
	v, ok := d.lookup(field)
	if !ok {
		return 0
	}
	u, err := asUint(v, 64)
	if err != nil {
		d.fail(field, err)
	}
	return u
}

func (d *objectDecoder) port(field string) uint16 {
	v, ok := d.lookup(field)
	if !ok {
		return 0
	}
	u, err := asUint(v, 16)
	if err != nil {
		d.fail(field, err)
	}
	return uint16(u)
}

func (d *objectDecoder) boolFromInt(field string) bool {
	v, ok := d.lookup(field)
	if !ok {
		return false
	}
	b, err := DecodeBoolFromInt(v)
	if err != nil {
		d.fail(field, err)
	}
	return b
}

// optionalBoolFromInt is boolFromInt with false as the default for an absent field.
// An explicit null is still rejected.
func (d *objectDecoder) optionalBoolFromInt(field string) bool {
	if d.err != nil {
		return false
	}
	if _, ok := d.obj[field]; !ok {
		return false
	}
	return d.boolFromInt(field)
}

func (d *objectDecoder) difficulty(field string) uint64 {
	v, ok := d.lookup(field)
	if !ok {
		return 0
	}
	u, err := DecodeDifficulty(v)
	if err != nil {
		d.fail(field, err)
	}
	return u
}

func (d *objectDecoder) rejectReasons(field string) []ShareRejectedReason {
	v, ok := d.lookup(field)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		d.fail(field, fmt.Errorf("%w: expected array, got %s", ErrInvalidType, typeName(v)))
		return nil
	}

	reasons := make([]ShareRejectedReason, 0, len(items))
	for i, item := range items {
		name := fmt.Sprintf("%s[%d]", field, i)
		obj, ok := item.(map[string]any)
		if !ok {
			d.fail(name, fmt.Errorf("%w: expected object, got %s", ErrInvalidType, typeName(item)))
			return nil
		}
		sub := &objectDecoder{obj: obj}
		reason := ShareRejectedReason{
			Message: sub.str("message"),
			Count:   sub.uint("count"),
		}
		if sub.err != nil {
			var e *Error
			if errors.As(sub.err, &e) {
				d.fail(name+"."+e.Field, e.Err)
			} else {
				d.fail(name, sub.err)
			}
			return nil
		}
		reasons = append(reasons, reason)
	}
	return reasons
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %s", ErrInvalidType, typeName(v))
	}
	return s, nil
}

func asNumber(v any) (json.Number, error) {
	switch n := v.(type) {
	case json.Number:
		return n, nil
	case float64:
		return json.Number(strconv.FormatFloat(n, 'g', -1, 64)), nil
	default:
		return "", fmt.Errorf("%w: expected number, got %s", ErrInvalidType, typeName(v))
	}
}

func asFloat(v any) (float64, error) {
	n, err := asNumber(v)
	if err != nil {
		return 0, err
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, n)
	}
	return f, nil
}

func asInt(v any) (int64, error) {
	n, err := asNumber(v)
	if err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(string(n), 10, 64)
	if err == nil {
		return i, nil
	}
	f, ferr := strconv.ParseFloat(string(n), 64)
	if ferr != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: expected integer, got %s", ErrInvalidType, n)
	}
	if f < math.MinInt64 || f >= -math.MinInt64 {
		return 0, fmt.Errorf("%w: %s does not fit in int64", ErrOutOfRange, n)
	}
	return int64(f), nil
}

func asUint(v any, bits int) (uint64, error) {
	n, err := asNumber(v)
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(string(n), 10, bits)
	if err == nil {
		return u, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%w: %s does not fit in uint%d", ErrOutOfRange, n, bits)
	}
	f, ferr := strconv.ParseFloat(string(n), 64)
	if ferr != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: expected unsigned integer, got %s", ErrInvalidType, n)
	}
	if f < 0 || f >= math.Ldexp(1, bits) {
		return 0, fmt.Errorf("%w: %s does not fit in uint%d", ErrOutOfRange, n, bits)
	}
	return uint64(f), nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
