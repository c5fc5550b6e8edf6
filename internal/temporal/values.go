package temporal

import (
	"fmt"
	"time"

	"github.com/timetrail/timetrail/internal/db"
)

// Coercion helpers for values coming back through the driver. pgx returns
// TIMESTAMP as time.Time and counts as int64; the casts below keep the
// engine indifferent to the exact scan type.

func rowString(r db.Row, key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format("2006-01-02 15:04:05.999999")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func rowInt64(r db.Row, key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func rowBool(r db.Row, key string) bool {
	b, _ := r[key].(bool)
	return b
}

// identityKey normalizes an identity value for map keying, so that e.g.
// int32 and int64 images of the same key collide as intended.
func identityKey(v any) string {
	return fmt.Sprintf("%v", v)
}
