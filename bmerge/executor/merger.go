package executor

import (
	"sync"
	"sync/atomic"

	"github.com/wbrown/janus-merge/bmerge"
)

// rowOwner returns the node holding a global row of one side.
type rowOwner func(row int64) int

// rangeMerger matches every left key of a partition pair against the
// right partition by recursive binary search. Ranges are exclusive on both
// ends: (lLow, lUpp) holds the left positions lLow+1 .. lUpp-1.
type rangeMerger struct {
	left, right *bmerge.SortedPartition
	cmp         *bmerge.KeyComparator
	self        *bmerge.KeyComparator // left against left
	allLeft     bool
	parallel    int64

	leftOwner, rightOwner rowOwner

	matches *MatchIndex

	perNodeLeft  []atomic.Int64
	perNodeRight []atomic.Int64
	numRows      atomic.Int64
	oneToMany    atomic.Bool
	matchedLeft  atomic.Int64

	wg sync.WaitGroup
}

func newRangeMerger(left, right *bmerge.SortedPartition, leftWidths, rightWidths bmerge.FieldWidths,
	numNodes int, leftOwner, rightOwner rowOwner, opts Options) *rangeMerger {
	return &rangeMerger{
		left:         left,
		right:        right,
		cmp:          bmerge.NewKeyComparator(leftWidths, rightWidths),
		self:         bmerge.NewKeyComparator(leftWidths, leftWidths),
		allLeft:      opts.allLeft(),
		parallel:     opts.ParallelMergeThreshold,
		leftOwner:    leftOwner,
		rightOwner:   rightOwner,
		matches:      NewMatchIndex(left.BatchSize, left.NumRows),
		perNodeLeft:  make([]atomic.Int64, numNodes),
		perNodeRight: make([]atomic.Int64, numNodes),
	}
}

// run merges the whole pair and waits for any spawned branches.
func (m *rangeMerger) run() {
	if m.left.NumRows == 0 {
		return
	}
	m.merge(-1, m.left.NumRows, -1, m.right.NumRows)
	m.wg.Wait()
}

func (m *rangeMerger) compare(l, r int64) int {
	return m.cmp.Compare(m.left.Keys, l, m.right.Keys, r)
}

func (m *rangeMerger) merge(lLowIn, lUppIn, rLowIn, rUppIn int64) {
	lLow, lUpp, rLow, rUpp := lLowIn, lUppIn, rLowIn, rUppIn
	lr := lLow + (lUpp-lLow)/2

	for rLow < rUpp-1 {
		mid := rLow + (rUpp-rLow)/2
		c := m.compare(lr, mid)
		if c < 0 {
			rUpp = mid
		} else if c > 0 {
			rLow = mid
		} else {
			// Equal: bisect outwards for both ends of the right block.
			tmpLow, tmpUpp := mid, mid
			for tmpLow < rUpp-1 {
				mid = tmpLow + (rUpp-tmpLow)/2
				if m.compare(lr, mid) == 0 {
					tmpLow = mid
				} else {
					rUpp = mid
				}
			}
			for rLow < tmpUpp-1 {
				mid = rLow + (tmpUpp-rLow)/2
				if m.compare(lr, mid) == 0 {
					tmpUpp = mid
				} else {
					rLow = mid
				}
			}
			break
		}
	}

	// Left duplicates are expected to be rare, so scan linearly.
	leftKeys := m.left.Keys
	tmp := lr + 1
	for tmp < lUpp && m.self.Compare(leftKeys, tmp, leftKeys, lr) == 0 {
		tmp++
	}
	lUpp = tmp
	tmp = lr - 1
	for tmp > lLow && m.self.Compare(leftKeys, tmp, leftKeys, lr) == 0 {
		tmp--
	}
	lLow = tmp

	m.record(lLow, lUpp, rLow, rUpp)

	lower := lLow > lLowIn && (rLow > rLowIn || m.allLeft)
	upper := lUpp < lUppIn && (rUpp < rUppIn || m.allLeft)
	if lower && m.parallel > 0 && lLow-lLowIn >= m.parallel {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.merge(lLowIn, lLow+1, rLowIn, rLow+1)
		}()
		lower = false
	}
	if lower {
		m.merge(lLowIn, lLow+1, rLowIn, rLow+1)
	}
	if upper {
		m.merge(lUpp-1, lUppIn, rUpp-1, rUppIn)
	}
}

// record stores the match of the left block (lLow, lUpp) against the right
// block (rLow, rUpp) and counts the rows each node will be asked for.
func (m *rangeMerger) record(lLow, lUpp, rLow, rUpp int64) {
	length := rUpp - rLow - 1
	if length == 0 && !m.allLeft {
		return
	}
	if length > 1 {
		m.oneToMany.Store(true)
	}
	dups := lUpp - lLow - 1
	m.numRows.Add(max(1, length) * dups)
	if length > 0 {
		m.matchedLeft.Add(dups)
	}

	for j := lLow + 1; j < lUpp; j++ {
		m.perNodeLeft[m.leftOwner(m.left.Order.At(j))].Add(1)
		if length == 0 {
			continue
		}
		m.matches.Set(j, bmerge.MatchRecord{First: rLow + 2, Length: length})
		for r := rLow + 1; r < rUpp; r++ {
			m.perNodeRight[m.rightOwner(m.right.Order.At(r))].Add(1)
		}
	}
}

func (m *rangeMerger) pendingLeft() []int64  { return loadCounts(m.perNodeLeft) }
func (m *rangeMerger) pendingRight() []int64 { return loadCounts(m.perNodeRight) }

func loadCounts(c []atomic.Int64) []int64 {
	out := make([]int64, len(c))
	for i := range c {
		out[i] = c[i].Load()
	}
	return out
}
