package sharepoint

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Information names a column and the value to compare or assign. The same
// pair serves as an exact-match filter predicate in ListItems and as a
// field assignment in UpdateItem.
type Information struct {
	Column string
	Value  string
}

// matches reports whether the item property named by the filter stringifies
// to exactly the filter's value. Comparison is case-sensitive; a property
// absent from the item never matches.
func (f Information) matches(fields map[string]any) bool {
	v, ok := fields[f.Column]
	if !ok {
		return false
	}

	return stringifyProperty(v) == f.Value
}

// stringifyProperty renders a decoded JSON property value for filter
// comparison. Integral numbers render without a decimal point so numeric
// columns compare as the integers they are.
func stringifyProperty(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatInt(int64(t), 10)
		}

		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
