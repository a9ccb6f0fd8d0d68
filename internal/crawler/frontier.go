package crawler

import "sync"

// Frontier is the deduplicated set of product URLs discovered during one run,
// plus the set of URLs already handed to extraction.
type Frontier struct {
	mu        sync.Mutex
	order     []string
	members   map[string]struct{}
	extracted map[string]struct{}
}

// NewFrontier returns an empty Frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		members:   make(map[string]struct{}),
		extracted: make(map[string]struct{}),
	}
}

// Add inserts url and reports whether it was new.
func (f *Frontier) Add(url string) bool {
	if url == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.members[url]; ok {
		return false
	}
	f.members[url] = struct{}{}
	f.order = append(f.order, url)
	return true
}

// URLs returns the members in discovery order.
func (f *Frontier) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Len returns the number of distinct URLs.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

// MarkExtracted records url as processed and reports whether this call was the first.
func (f *Frontier) MarkExtracted(url string) bool {
	if url == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.extracted[url]; ok {
		return false
	}
	f.extracted[url] = struct{}{}
	return true
}
