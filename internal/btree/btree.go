// Package btree implements the secondary index over a table's int columns:
// a B+Tree keyed on the composite (value, rowId) pair, with leaf nodes
// linked into a sibling chain for ordered range scans. Page 0 of the
// index's own Pager is always the root, for the life of the index.
package btree

import (
	"fmt"
	"sort"

	"github.com/teto/tetodb/internal/pager"
)

// RowDeletionChecker lets the B+Tree consult and update a heap table's
// tombstones without importing internal/heap directly: the index package
// depends only on internal/pager, and tests can supply an in-memory
// checker in place of a heap table.
type RowDeletionChecker interface {
	IsRowDeleted(rowID uint32) bool
	MarkRowDeleted(rowID uint32) error
}

const rootPageNum pager.PageNum = 0

// BTree is a single secondary index, backed by its own Pager.
type BTree struct {
	pager   *pager.Pager
	checker RowDeletionChecker

	maxLeafCells     int
	maxInternalCells int
}

// Open wraps the index stored in p, initializing page 0 as an empty leaf
// root when p's file has no pages yet.
func Open(p *pager.Pager, checker RowDeletionChecker) (*BTree, error) {
	t := &BTree{
		pager:            p,
		checker:          checker,
		maxLeafCells:     defaultMaxLeafCells,
		maxInternalCells: defaultMaxInternalCells,
	}
	if p.NumPages() == 0 {
		pn, err := p.AllocateNewPage()
		if err != nil {
			return nil, err
		}
		if pn != rootPageNum {
			return nil, fmt.Errorf("btree: expected root page 0, got %d", pn)
		}
		root := leafNode{pageNum: rootPageNum, header: header{isLeaf: true, isRoot: true}}
		pg, err := t.pager.Get(rootPageNum, true)
		if err != nil {
			return nil, err
		}
		storeLeaf(pg, root)
	}
	return t, nil
}

// SetMaxCellsForTesting overrides the per-node fanout, letting tests force
// splits with small datasets instead of filling a full 4 KiB page.
func (t *BTree) SetMaxCellsForTesting(leaf, internal int) {
	t.maxLeafCells = leaf
	t.maxInternalCells = internal
}

func (t *BTree) loadLeaf(pn pager.PageNum, markDirty bool) (leafNode, error) {
	pg, err := t.pager.Get(pn, markDirty)
	if err != nil {
		return leafNode{}, err
	}
	return loadLeaf(pg, pn), nil
}

func (t *BTree) storeLeaf(n leafNode) error {
	pg, err := t.pager.Get(n.pageNum, true)
	if err != nil {
		return err
	}
	storeLeaf(pg, n)
	return nil
}

func (t *BTree) loadInternal(pn pager.PageNum, markDirty bool) (internalNode, error) {
	pg, err := t.pager.Get(pn, markDirty)
	if err != nil {
		return internalNode{}, err
	}
	return loadInternal(pg, pn), nil
}

func (t *BTree) storeInternal(n internalNode) error {
	pg, err := t.pager.Get(n.pageNum, true)
	if err != nil {
		return err
	}
	storeInternal(pg, n)
	return nil
}

func (t *BTree) isLeafPage(pn pager.PageNum) (bool, error) {
	pg, err := t.pager.Get(pn, false)
	if err != nil {
		return false, err
	}
	return pg.Data[0] == nodeTypeLeaf, nil
}

// findLeaf descends from the root to the leaf that would hold (key, rowId).
func (t *BTree) findLeaf(key int32, rowID uint32) (pager.PageNum, error) {
	pn := rootPageNum
	for {
		isLeaf, err := t.isLeafPage(pn)
		if err != nil {
			return 0, err
		}
		if isLeaf {
			return pn, nil
		}
		in, err := t.loadInternal(pn, false)
		if err != nil {
			return 0, err
		}
		pn = internalFindChild(in, key, rowID)
	}
}

// internalFindChild picks the child of n responsible for (key, rowId): the
// childPage of the first cell strictly greater than the target, or
// rightChild if no cell qualifies.
func internalFindChild(n internalNode, key int32, rowID uint32) pager.PageNum {
	for _, c := range n.cells {
		if compareKey(key, rowID, c.key, c.rowID) < 0 {
			return c.childPage
		}
	}
	return n.rightChild
}

// Insert adds (key, rowId) to the index.
func (t *BTree) Insert(key int32, rowID uint32) error {
	split, _, _, _, err := t.insertIntoSubtree(rootPageNum, key, rowID)
	if err != nil {
		return err
	}
	if split {
		return fmt.Errorf("btree: unresolved split reached the root")
	}
	return nil
}

// insertIntoSubtree inserts into the subtree rooted at pn. If the node pn
// overflowed and was not itself the root, it reports the promoted
// separator and the new right sibling's page for the caller (pn's parent)
// to absorb; root overflow is resolved internally via splitRoot.
func (t *BTree) insertIntoSubtree(pn pager.PageNum, key int32, rowID uint32) (split bool, sepKey int32, sepRowID uint32, newPage pager.PageNum, err error) {
	isLeaf, err := t.isLeafPage(pn)
	if err != nil {
		return false, 0, 0, 0, err
	}

	if isLeaf {
		leaf, err := t.loadLeaf(pn, false)
		if err != nil {
			return false, 0, 0, 0, err
		}
		overflow := t.leafInsertNonFull(&leaf, key, rowID)
		if !overflow {
			if err := t.storeLeaf(leaf); err != nil {
				return false, 0, 0, 0, err
			}
			return false, 0, 0, 0, nil
		}

		newLeaf, promKey, promRowID, err := t.splitLeafWithInsert(&leaf, key, rowID)
		if err != nil {
			return false, 0, 0, 0, err
		}
		if err := t.storeLeaf(leaf); err != nil {
			return false, 0, 0, 0, err
		}
		if err := t.storeLeaf(newLeaf); err != nil {
			return false, 0, 0, 0, err
		}
		if leaf.header.isRoot {
			if err := t.splitRoot(leaf.pageNum, newLeaf.pageNum, promKey, promRowID); err != nil {
				return false, 0, 0, 0, err
			}
			return false, 0, 0, 0, nil
		}
		return true, promKey, promRowID, newLeaf.pageNum, nil
	}

	in, err := t.loadInternal(pn, false)
	if err != nil {
		return false, 0, 0, 0, err
	}
	childPn := internalFindChild(in, key, rowID)

	childSplit, childSepKey, childSepRowID, childNewPage, err := t.insertIntoSubtree(childPn, key, rowID)
	if err != nil {
		return false, 0, 0, 0, err
	}
	if !childSplit {
		return false, 0, 0, 0, nil
	}

	// The recursive call may have evicted our frame for pn; reload it.
	in, err = t.loadInternal(pn, false)
	if err != nil {
		return false, 0, 0, 0, err
	}

	overflow := t.internalInsertNonFull(&in, childPn, childSepKey, childSepRowID, childNewPage)
	if !overflow {
		if err := t.storeInternal(in); err != nil {
			return false, 0, 0, 0, err
		}
		return false, 0, 0, 0, nil
	}

	newRight, promKey, promRowID, err := t.splitInternalWithInsert(&in, childPn, childSepKey, childSepRowID, childNewPage)
	if err != nil {
		return false, 0, 0, 0, err
	}
	if err := t.storeInternal(in); err != nil {
		return false, 0, 0, 0, err
	}
	if err := t.storeInternal(newRight); err != nil {
		return false, 0, 0, 0, err
	}
	if err := t.rewriteChildParents(childPagesOf(newRight), newRight.pageNum); err != nil {
		return false, 0, 0, 0, err
	}
	if in.header.isRoot {
		if err := t.splitRoot(in.pageNum, newRight.pageNum, promKey, promRowID); err != nil {
			return false, 0, 0, 0, err
		}
		return false, 0, 0, 0, nil
	}
	return true, promKey, promRowID, newRight.pageNum, nil
}

// leafInsertNonFull attempts to place (key, rowId) into leaf without
// growing past maxLeafCells. If the slot the binary search lands on holds
// a tombstoned row, the new cell overwrites it in place: this never
// disturbs sort order, since the overwritten cell was already >= the new
// key and the new key is >= its left neighbor. Returns true if the leaf is
// full and the caller must split.
func (t *BTree) leafInsertNonFull(leaf *leafNode, key int32, rowID uint32) bool {
	idx := sort.Search(len(leaf.cells), func(i int) bool {
		return compareKey(leaf.cells[i].key, leaf.cells[i].rowID, key, rowID) >= 0
	})

	if idx < len(leaf.cells) && t.checker.IsRowDeleted(leaf.cells[idx].rowID) {
		leaf.cells[idx] = leafCell{key: key, rowID: rowID}
		return false
	}

	if len(leaf.cells) >= t.maxLeafCells {
		return true
	}

	leaf.cells = append(leaf.cells, leafCell{})
	copy(leaf.cells[idx+1:], leaf.cells[idx:])
	leaf.cells[idx] = leafCell{key: key, rowID: rowID}
	leaf.header.numCells = uint16(len(leaf.cells))
	return false
}

// splitLeafWithInsert builds the conceptual MAX+1-cell sorted list (the
// existing full leaf plus the pending insert) and distributes it across
// leaf (left, mutated in place) and a newly allocated right sibling.
func (t *BTree) splitLeafWithInsert(leaf *leafNode, key int32, rowID uint32) (leafNode, int32, uint32, error) {
	idx := sort.Search(len(leaf.cells), func(i int) bool {
		return compareKey(leaf.cells[i].key, leaf.cells[i].rowID, key, rowID) >= 0
	})
	combined := make([]leafCell, 0, len(leaf.cells)+1)
	combined = append(combined, leaf.cells[:idx]...)
	combined = append(combined, leafCell{key: key, rowID: rowID})
	combined = append(combined, leaf.cells[idx:]...)

	splitIdx := (len(combined) + 1) / 2 // ceil(n/2)

	newPageNum, err := t.pager.AllocateNewPage()
	if err != nil {
		return leafNode{}, 0, 0, err
	}

	newLeaf := leafNode{
		pageNum: newPageNum,
		header:  header{isLeaf: true, isRoot: false, parent: leaf.header.parent},
		cells:   append([]leafCell(nil), combined[splitIdx:]...),
	}
	newLeaf.nextLeaf = leaf.nextLeaf

	leaf.cells = append([]leafCell(nil), combined[:splitIdx]...)
	leaf.nextLeaf = newPageNum

	return newLeaf, newLeaf.cells[0].key, newLeaf.cells[0].rowID, nil
}

// internalInsertNonFull inserts a newly promoted separator into n. leftPage
// is the (unchanged) page number of the child that just split; rightPage is
// its new sibling. The existing pointer to leftPage is located first, and
// the pointer immediately following it in sort order is overwritten with
// rightPage — matching the pre-split state, where leftPage alone covered
// the whole range now split between leftPage and rightPage.
func (t *BTree) internalInsertNonFull(n *internalNode, leftPage pager.PageNum, sepKey int32, sepRowID uint32, rightPage pager.PageNum) bool {
	i := indexOfChild(n.cells, leftPage)
	if i == -1 {
		i = len(n.cells)
	}

	if len(n.cells) >= t.maxInternalCells {
		return true
	}

	n.cells = append(n.cells, internalCell{})
	copy(n.cells[i+1:], n.cells[i:])
	n.cells[i] = internalCell{key: sepKey, rowID: sepRowID, childPage: leftPage}
	n.header.numCells = uint16(len(n.cells))

	if i+1 < len(n.cells) {
		n.cells[i+1].childPage = rightPage
	} else {
		n.rightChild = rightPage
	}
	return false
}

func indexOfChild(cells []internalCell, childPage pager.PageNum) int {
	for i, c := range cells {
		if c.childPage == childPage {
			return i
		}
	}
	return -1
}

// splitInternalWithInsert mirrors splitLeafWithInsert for internal nodes:
// it builds the conceptual MAX+1-cell list, then splits at MAX/2. The cell
// at that index is promoted to the parent rather than kept on either side;
// its childPage becomes n's new rightChild, and the right sibling inherits
// n's old rightChild.
func (t *BTree) splitInternalWithInsert(n *internalNode, leftPage pager.PageNum, sepKey int32, sepRowID uint32, rightPage pager.PageNum) (internalNode, int32, uint32, error) {
	combined := append([]internalCell(nil), n.cells...)
	curRight := n.rightChild

	i := indexOfChild(combined, leftPage)
	if i == -1 {
		i = len(combined)
	}
	combined = append(combined, internalCell{})
	copy(combined[i+1:], combined[i:])
	combined[i] = internalCell{key: sepKey, rowID: sepRowID, childPage: leftPage}
	if i+1 < len(combined) {
		combined[i+1].childPage = rightPage
	} else {
		curRight = rightPage
	}

	splitIdx := t.maxInternalCells / 2
	promoted := combined[splitIdx]

	newPageNum, err := t.pager.AllocateNewPage()
	if err != nil {
		return internalNode{}, 0, 0, err
	}

	newRight := internalNode{
		pageNum:    newPageNum,
		header:     header{isLeaf: false, isRoot: false, parent: n.header.parent},
		rightChild: curRight,
		cells:      append([]internalCell(nil), combined[splitIdx+1:]...),
	}

	n.cells = append([]internalCell(nil), combined[:splitIdx]...)
	n.rightChild = promoted.childPage

	return newRight, promoted.key, promoted.rowID, nil
}

func childPagesOf(n internalNode) []pager.PageNum {
	pages := make([]pager.PageNum, 0, len(n.cells)+1)
	for _, c := range n.cells {
		pages = append(pages, c.childPage)
	}
	pages = append(pages, n.rightChild)
	return pages
}

// rewriteChildParents sets header.parent = newParent on every page listed,
// used after a split or a root promotion relocates a node's owner.
func (t *BTree) rewriteChildParents(pages []pager.PageNum, newParent pager.PageNum) error {
	for _, pn := range pages {
		isLeaf, err := t.isLeafPage(pn)
		if err != nil {
			return err
		}
		if isLeaf {
			n, err := t.loadLeaf(pn, false)
			if err != nil {
				return err
			}
			n.header.parent = newParent
			if err := t.storeLeaf(n); err != nil {
				return err
			}
		} else {
			n, err := t.loadInternal(pn, false)
			if err != nil {
				return err
			}
			n.header.parent = newParent
			if err := t.storeInternal(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitRoot keeps page 0 as the root after the node living there overflows
// and splits. The current (already-split, left-half) contents of the root
// page are relocated to a freshly allocated page; page 0 is reinitialized
// as a two-child internal node with a single separator. If the relocated
// node is itself internal, its children's parent pointers are rewritten to
// its new page number.
func (t *BTree) splitRoot(oldRootPage, rightPage pager.PageNum, sepKey int32, sepRowID uint32) error {
	isLeaf, err := t.isLeafPage(oldRootPage)
	if err != nil {
		return err
	}

	leftPage, err := t.pager.AllocateNewPage()
	if err != nil {
		return err
	}

	if isLeaf {
		old, err := t.loadLeaf(oldRootPage, false)
		if err != nil {
			return err
		}
		old.pageNum = leftPage
		old.header.isRoot = false
		old.header.parent = oldRootPage
		if err := t.storeLeaf(old); err != nil {
			return err
		}
	} else {
		old, err := t.loadInternal(oldRootPage, false)
		if err != nil {
			return err
		}
		old.pageNum = leftPage
		old.header.isRoot = false
		old.header.parent = oldRootPage
		if err := t.storeInternal(old); err != nil {
			return err
		}
		if err := t.rewriteChildParents(childPagesOf(old), leftPage); err != nil {
			return err
		}
	}

	newRoot := internalNode{
		pageNum:    oldRootPage,
		header:     header{isLeaf: false, isRoot: true, parent: 0},
		rightChild: rightPage,
		cells:      []internalCell{{key: sepKey, rowID: sepRowID, childPage: leftPage}},
	}
	if err := t.storeInternal(newRoot); err != nil {
		return err
	}

	rightIsLeaf, err := t.isLeafPage(rightPage)
	if err != nil {
		return err
	}
	if rightIsLeaf {
		rn, err := t.loadLeaf(rightPage, false)
		if err != nil {
			return err
		}
		rn.header.parent = oldRootPage
		return t.storeLeaf(rn)
	}
	rn, err := t.loadInternal(rightPage, false)
	if err != nil {
		return err
	}
	rn.header.parent = oldRootPage
	return t.storeInternal(rn)
}

// SelectRange returns the row ids of every live cell with key in [low,
// high], sorted ascending by row id. It walks the leaf sibling chain
// starting from the leaf that would hold low, stopping once a leaf's
// highest key exceeds high.
func (t *BTree) SelectRange(low, high int32) ([]uint32, error) {
	pn, err := t.findLeaf(low, 0)
	if err != nil {
		return nil, err
	}

	var out []uint32
	for {
		leaf, err := t.loadLeaf(pn, false)
		if err != nil {
			return nil, err
		}
		stop := false
		for _, c := range leaf.cells {
			if c.key < low {
				continue
			}
			if c.key > high {
				stop = true
				break
			}
			if t.checker.IsRowDeleted(c.rowID) {
				continue
			}
			out = append(out, c.rowID)
		}
		if stop || leaf.nextLeaf == 0 {
			break
		}
		pn = leaf.nextLeaf
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// DeleteRange marks every live row with key in [low, high] as deleted via
// checker, and returns how many rows it marked. Unlike SelectRange, it
// mutates each visited leaf: after marking, tombstoned cells are dropped
// from the leaf's cell list (opportunistic compaction). It never merges or
// rebalances nodes — an emptied leaf is simply left empty in the chain.
func (t *BTree) DeleteRange(low, high int32) (int, error) {
	pn, err := t.findLeaf(low, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for {
		leaf, err := t.loadLeaf(pn, true)
		if err != nil {
			return count, err
		}
		stop := false
		for _, c := range leaf.cells {
			if c.key < low {
				continue
			}
			if c.key > high {
				stop = true
				break
			}
			if t.checker.IsRowDeleted(c.rowID) {
				continue
			}
			if err := t.checker.MarkRowDeleted(c.rowID); err != nil {
				return count, err
			}
			count++
		}

		survivors := make([]leafCell, 0, len(leaf.cells))
		for _, c := range leaf.cells {
			if !t.checker.IsRowDeleted(c.rowID) {
				survivors = append(survivors, c)
			}
		}
		leaf.cells = survivors
		if err := t.storeLeaf(leaf); err != nil {
			return count, err
		}

		if stop || leaf.nextLeaf == 0 {
			break
		}
		pn = leaf.nextLeaf
	}
	return count, nil
}
