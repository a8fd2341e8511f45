package goals

import (
	"strings"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "to": true, "with": true, "my": true,
	"me": true, "please": true, "can": true, "you": true, "i": true,
}

const jaccardDuplicateThreshold = 0.6

// PruneDuplicates removes near-duplicate undecomposed goals, keeping the
// oldest of each duplicate group. Run at startup. Returns the number of
// goals removed.
func (s *Store) PruneDuplicates() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := map[string]bool{}
	for i := 0; i < len(s.goals); i++ {
		a := s.goals[i]
		if a.Decomposed || removed[a.ID] {
			continue
		}
		for j := i + 1; j < len(s.goals); j++ {
			b := s.goals[j]
			if b.Decomposed || removed[b.ID] {
				continue
			}
			if isNearDuplicate(a.Description, b.Description) {
				// Goals are appended in creation order, so b is newer.
				removed[b.ID] = true
				s.logger.Info("Pruning duplicate goal %q (kept %q)", b.Description, a.Description)
			}
		}
	}
	if len(removed) == 0 {
		return 0
	}

	kept := s.goals[:0]
	for _, g := range s.goals {
		if !removed[g.ID] {
			kept = append(kept, g)
		}
	}
	s.goals = kept
	s.saveLocked()
	return len(removed)
}

// isNearDuplicate matches on substring containment or Jaccard word overlap
// above the threshold, after lowering and stop-word removal.
func isNearDuplicate(a, b string) bool {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return false
	}
	if strings.Contains(la, lb) || strings.Contains(lb, la) {
		return true
	}
	return jaccard(contentWords(la), contentWords(lb)) > jaccardDuplicateThreshold
}

func contentWords(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w != "" && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
