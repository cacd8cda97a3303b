package order

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/toko-payflow/internal/common"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

// CartHash fingerprints cart contents so two orders placed from the same cart
// compare equal regardless of line order.
func CartHash(items []payflow.OrderItem) string {
	if len(items) == 0 {
		return ""
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%s:%d:%d", it.ProductID, it.Quantity, it.UnitAmount))
	}
	sort.Strings(lines)
	return common.Sha256Hex(strings.Join(lines, "|"))
}
