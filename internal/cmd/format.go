package cmd

import "fmt"

// formatCost formats a USD amount; sub-hundredth-of-a-cent spend shows as
// "< 0.0001" rather than rounding to zero.
func formatCost(c float64) string {
	if c > 0 && c < 0.0001 {
		return "< 0.0001"
	}
	return fmt.Sprintf("%.4f", c)
}
