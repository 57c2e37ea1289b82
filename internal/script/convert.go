package script

import (
	"math"

	"github.com/Shopify/go-lua"
)

// pushValue converts a Go value onto the Lua stack. Actions are pushed as
// userdata so they survive a round trip through handler return values.
func pushValue(l *lua.State, v any) {
	switch t := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(t)
	case int:
		l.PushInteger(t)
	case int64:
		l.PushNumber(float64(t))
	case float64:
		l.PushNumber(t)
	case string:
		l.PushString(t)
	case []any:
		l.NewTable()
		for i, el := range t {
			pushValue(l, el)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.NewTable()
		for key, el := range t {
			pushValue(l, el)
			l.SetField(-2, key)
		}
	case *Action:
		l.PushUserData(t)
		lua.SetMetaTableNamed(l, actionTypeName)
	default:
		l.PushNil()
	}
}

// toGoValue converts the Lua value at index into a Go value. Userdata passes
// through unchanged.
func toGoValue(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeString:
		value, _ := l.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := l.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(l, index)
	case lua.TypeUserData:
		return l.ToUserData(index)
	default:
		return nil
	}
}

// tableToGo converts a Lua table into a []any when it is a dense 1-based
// array, and a map[string]any otherwise.
func tableToGo(l *lua.State, index int) any {
	index = l.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := l.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			result = append(result, toGoValue(l, -1))
			l.Pop(1)
		}
		return result
	}

	return tableToMap(l, index)
}

func tableToMap(l *lua.State, index int) map[string]any {
	output := map[string]any{}
	index = l.AbsIndex(index)
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			key, _ := l.ToString(-2)
			output[key] = toGoValue(l, -1)
		}
		l.Pop(1)
	}
	return output
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 {
		return int(value)
	}
	return value
}
