package abac

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DescribePolicies renders policies for decision log lines as
// "[id: X, description: Y, id: Z, description: W]". Whitespace inside
// descriptions is collapsed to single spaces.
func DescribePolicies(policies []Policy) string {
	parts := make([]string, 0, len(policies))
	for i := range policies {
		p := &policies[i]
		id := "None"
		if p.ID != uuid.Nil {
			id = p.ID.String()
		}
		parts = append(parts, fmt.Sprintf("id: %s, description: %s", id, strings.Join(strings.Fields(p.Description), " ")))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
