package unified

import (
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"mesa-system/internal/apperrors"
)

// Only a constrained filter vocabulary translates to the local store:
// equality on scoping and identity fields, plus the email/username OR used
// for login. Anything else is rejected rather than silently ignored.
var filterColumns = map[string]string{
	"email":      "email",
	"username":   "username",
	"phone":      "phone",
	"sku":        "sku",
	"status":     "status",
	"category":   "category",
	"role":       "role",
	"name":       "name",
	"branchCode": "branch_code",
	"number":     "number",
}

var boolColumns = map[string]string{
	"isActive":    "is_active",
	"active":      "active",
	"isAvailable": "is_available",
}

const localIDPrefix = "local-"

// applyLocalFilter translates a remote-shaped filter onto a gorm query
// against the entity's mirror table.
func applyLocalFilter(q *gorm.DB, filter map[string]interface{}) (*gorm.DB, error) {
	for key, value := range filter {
		switch {
		case key == "branch":
			hex, ok := value.(string)
			if !ok {
				return nil, apperrors.Validation("branch", "branch filter must be an id string")
			}
			q = q.Where(
				"branch_id IN (SELECT id FROM branches WHERE remote_id = ?)", hex,
			)

		case key == "_id":
			hex, ok := value.(string)
			if !ok {
				return nil, apperrors.Validation("_id", "id filter must be a string")
			}
			if localID, ok := parseLocalID(hex); ok {
				q = q.Where("id = ?", localID)
			} else {
				q = q.Where("remote_id = ?", hex)
			}

		case key == "$or":
			clauses, ok := value.([]map[string]interface{})
			if !ok {
				return nil, apperrors.Validation("$or", "unsupported $or shape")
			}
			var parts []string
			var args []interface{}
			for _, clause := range clauses {
				for k, v := range clause {
					col, ok := filterColumns[k]
					if !ok {
						return nil, apperrors.Validation(k, "unsupported field in $or filter")
					}
					parts = append(parts, col+" = ?")
					args = append(args, v)
				}
			}
			if len(parts) > 0 {
				q = q.Where("("+strings.Join(parts, " OR ")+")", args...)
			}

		default:
			if col, ok := boolColumns[key]; ok {
				q = q.Where(col+" = ?", toBool(value))
				continue
			}
			col, ok := filterColumns[key]
			if !ok {
				return nil, apperrors.Validation(key, "filter field does not translate to the local store")
			}
			q = q.Where(col+" = ?", value)
		}
	}
	return q, nil
}

func parseLocalID(id string) (int64, bool) {
	if !strings.HasPrefix(id, localIDPrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(id, localIDPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// setColumns maps remote-shaped update keys to local mirror columns.
var setColumns = map[string]string{
	"name":        "name",
	"description": "description",
	"price":       "price",
	"cost":        "cost",
	"category":    "category",
	"stock":       "stock",
	"minStock":    "min_stock",
	"isAvailable": "is_available",
	"active":      "active",
	"isActive":    "is_active",
	"image":       "image",
	"sku":         "sku",
	"barcode":     "barcode",
	"email":       "email",
	"username":    "username",
	"password":    "password",
	"role":        "role",
	"phone":       "phone",
	"address":     "address",
	"contact":     "contact",
	"capacity":    "capacity",
	"location":    "location",
	"status":      "status",
	"number":      "number",
	"amount":      "amount",
}

func translateSet(set map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(set))
	for k, v := range set {
		col, ok := setColumns[k]
		if !ok {
			return nil, apperrors.Validation(k, "update field does not translate to the local store")
		}
		if _, isBool := boolColumns[k]; isBool {
			out[col] = toBool(v)
			continue
		}
		out[col] = v
	}
	return out, nil
}

func toBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return false
	}
}

func str(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func f64(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func i(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func boolOr(data map[string]interface{}, key string, def bool) bool {
	if v, ok := data[key]; ok {
		return toBool(v)
	}
	return def
}

// localRef renders the id callers see for a row that only exists locally.
func localRef(id int64) string {
	return fmt.Sprintf("%s%d", localIDPrefix, id)
}
