package realtime

// recentSet remembers the last size keys in insertion order.
type recentSet struct {
	keys  []string
	index map[string]struct{}
	next  int
}

func newRecentSet(size int) *recentSet {
	if size < 1 {
		size = 1
	}
	return &recentSet{
		keys:  make([]string, size),
		index: make(map[string]struct{}, size),
	}
}

// Add records key and reports whether it was new.
func (s *recentSet) Add(key string) bool {
	if _, ok := s.index[key]; ok {
		return false
	}
	if old := s.keys[s.next]; old != "" {
		delete(s.index, old)
	}
	s.keys[s.next] = key
	s.index[key] = struct{}{}
	s.next = (s.next + 1) % len(s.keys)
	return true
}
