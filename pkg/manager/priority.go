package manager

import "github.com/cuemby/ripple/pkg/types"

// sortByPriority orders names by priority(name), critical first; ties keep
// their relative registration order (stable sort).
func sortByPriority(names []string, priority func(string) types.Priority) {
	for i := 1; i < len(names); i++ {
		j := i
		for j > 0 && priority(names[j]).Less(priority(names[j-1])) {
			names[j], names[j-1] = names[j-1], names[j]
			j--
		}
	}
}
