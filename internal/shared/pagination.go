package shared

// List limits shared by the repository listing queries.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListLimit normalizes a caller-supplied page size: non-positive values fall
// back to the default, oversized values are clamped.
func ListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
