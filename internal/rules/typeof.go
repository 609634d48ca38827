package rules

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/solatis/routingfilter/internal/types"
)

// TypeTag is one entry of the TYPEOF vocabulary.
type TypeTag string

const (
	TypeStr   TypeTag = "str"
	TypeInt   TypeTag = "int"
	TypeFloat TypeTag = "float"
	TypeBool  TypeTag = "bool"
	TypeList  TypeTag = "list"
	TypeDict  TypeTag = "dict"
	TypeIP    TypeTag = "ip"
	TypeMAC   TypeTag = "mac"
)

func parseTypeTags(values []any) ([]TypeTag, error) {
	tags := make([]TypeTag, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidTypeTag, v)
		}
		tag := TypeTag(strings.ToLower(strings.TrimSpace(s)))
		switch tag {
		case TypeStr, TypeInt, TypeFloat, TypeBool, TypeList, TypeDict, TypeIP, TypeMAC:
			tags = append(tags, tag)
		default:
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidTypeTag, s)
		}
	}
	return tags, nil
}

// hasTypeTag reports whether value has the given type.
// json.Number is int when it parses as an integer, float otherwise; bool is
// never int. A float64 is always float, even when integral: JSON decoded
// without UseNumber (and protobuf Structs) cannot tell 3 from 3.0, so decode
// events with event.Decode or event.NewReader to keep int detection.
func hasTypeTag(value any, tag TypeTag) bool {
	switch tag {
	case TypeStr:
		_, ok := value.(string)
		return ok
	case TypeInt:
		return isInt(value)
	case TypeFloat:
		return isFloat(value)
	case TypeBool:
		_, ok := value.(bool)
		return ok
	case TypeList:
		_, ok := value.([]any)
		return ok
	case TypeDict:
		_, ok := value.(map[string]any)
		return ok
	case TypeIP:
		return isIP(value)
	case TypeMAC:
		return isMAC(value)
	default:
		return false
	}
}

func isInt(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Int64()
		return err == nil
	default:
		return false
	}
}

func isFloat(value any) bool {
	switch v := value.(type) {
	case float32, float64:
		return true
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return false
		}
		_, err := v.Float64()
		return err == nil
	default:
		return false
	}
}

// isIP accepts strings holding an address or a CIDR. Integers, and strings
// that parse as integers, are rejected.
func isIP(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return false
	}
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// isMAC accepts 48-bit MAC addresses in colon, hyphen, dotted or bare hex
// form. Strings that parse as integers are rejected.
func isMAC(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return false
	}
	if len(s) == 12 {
		_, err := hex.DecodeString(s)
		return err == nil
	}
	hw, err := net.ParseMAC(s)
	return err == nil && len(hw) == 6
}
