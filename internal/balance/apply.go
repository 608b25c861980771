package balance

import "sort"

// Correction is one status change needed to reach a target.
type Correction struct {
	Name string
	From Assignment
	To   Assignment
}

// Applied reports whether current matches the target exactly: same
// participants, same id and ally for each.
func Applied(res Result, current map[string]Assignment) bool {
	if len(current) != len(res.Targets) {
		return false
	}
	for name, want := range res.Targets {
		if got, ok := current[name]; !ok || got != want {
			return false
		}
	}
	return true
}

// Corrections lists the changes, sorted by name, that bring current to the
// target. Participants absent from current are skipped.
func Corrections(res Result, current map[string]Assignment) []Correction {
	var out []Correction
	for name, want := range res.Targets {
		got, ok := current[name]
		if !ok || got == want {
			continue
		}
		out = append(out, Correction{Name: name, From: got, To: want})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
