package reconnect

import (
	"strconv"
	"sync"
	"sync/atomic"
)

type (
	/*
	Strategy keeps track of how many times an operation identified by a tag
	may still be attempted.
	*/
	Strategy interface {
		// CanInvoke counts an attempt of the tag and reports whether it is within the limit.
		CanInvoke(tag string) bool
		// Reset forgets the attempts of the tag.
		Reset(tag string)
		// MakeTag returns tag with given prefix which is unique within the process.
		MakeTag(prefix string) string
	}

	// KTimes allows each tag to be invoked at most K times between resets.
	KTimes struct {
		k   uint
		mu  sync.Mutex
		cnt map[string]uint
	}
)

// tagSeq is shared by all strategies so that tags are unique process wide.
var tagSeq atomic.Uint64

func NewKTimes(k uint) *KTimes {
	return &KTimes{k: k, cnt: make(map[string]uint)}
}

func (s *KTimes) CanInvoke(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.cnt[tag] + 1
	s.cnt[tag] = n
	return n <= s.k
}

func (s *KTimes) Reset(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cnt, tag)
}

func (s *KTimes) MakeTag(prefix string) string {
	return prefix + "#" + strconv.FormatUint(tagSeq.Add(1), 10)
}

// pending returns number of tags with attempts counted.
func (s *KTimes) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cnt)
}

/*
Budget is the retry budget of a single call. The call is given its own tag so
that concurrent calls of the same operation do not consume each other's
attempts. Done must be called when the call returns.
*/
type Budget struct {
	s   Strategy
	tag string
}

func NewBudget(s Strategy, operation string) *Budget {
	return &Budget{s: s, tag: s.MakeTag(operation)}
}

func (b *Budget) Tag() string { return b.tag }

// Next counts an attempt and reports whether it is allowed.
func (b *Budget) Next() bool { return b.s.CanInvoke(b.tag) }

// Done releases the budget.
func (b *Budget) Done() { b.s.Reset(b.tag) }
