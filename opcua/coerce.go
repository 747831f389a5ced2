package opcua

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// CoerceValue converts value to the Go type of current, the node's present
// value. OPC UA variants are strongly typed, so a JSON number destined for
// an Int16 node must arrive as int16 or the server rejects the write.
func CoerceValue(value, current any) (any, error) {
	switch current.(type) {
	case bool:
		return cast.ToBoolE(value)
	case string:
		return cast.ToStringE(value)
	case int8:
		return cast.ToInt8E(value)
	case int16:
		return cast.ToInt16E(value)
	case int32:
		return cast.ToInt32E(value)
	case int64:
		return cast.ToInt64E(value)
	case int:
		return cast.ToIntE(value)
	case uint8:
		return cast.ToUint8E(value)
	case uint16:
		return cast.ToUint16E(value)
	case uint32:
		return cast.ToUint32E(value)
	case uint64:
		return cast.ToUint64E(value)
	case float32:
		return cast.ToFloat32E(value)
	case float64:
		return cast.ToFloat64E(value)
	case time.Time:
		return cast.ToTimeE(value)
	case nil:
		// Node has no current value; pass the input through unchanged
		return value, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", current)
	}
}
