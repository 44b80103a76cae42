// Package pager exposes a fixed-size (4 KiB) paged view over a file. It
// maintains a bounded set of in-memory frames, evicts under pressure with a
// clock (second-chance) algorithm, and commits through a shadow-paging
// protocol: dirty pages evicted between commits go to a side file, and only
// FlushAll makes them durable in the main file. A crash before FlushAll's
// fsync leaves the main file exactly as it was after the prior commit.
package pager

import (
	"fmt"
	"io"
	"os"

	"github.com/teto/tetodb/internal/dberrors"
)

// PageSize is the fixed frame size used for every page in every file the
// engine manages (heap data files and B+Tree index files alike).
const PageSize = 4096

// PageNum identifies a page within a single file. Page 0 is reserved: for
// heap files it is just the first row page, for B+Tree files it is always
// the stable root.
type PageNum = uint32

// DefaultMaxPages bounds the buffer pool's resident frame count. It is
// deliberately small enough that ordinary workloads exercise eviction
// (spec invariant: clock eviction must preserve correctness when the pool
// is smaller than the working set).
const DefaultMaxPages = 64

// Page is an in-memory frame holding one page's worth of bytes plus the
// bookkeeping the clock algorithm needs. Callers receive a *Page from Get
// and must treat it as valid only until the next call to Get on the same
// Pager, since any Get may trigger eviction that repurposes the frame for
// a different page.
type Page struct {
	Data    [PageSize]byte
	pageNum PageNum
	valid   bool
	dirty   bool
	recent  bool
}

// PageNum reports which page this frame currently holds.
func (p *Page) PageNum() PageNum { return p.pageNum }

// Pager owns one main file and one shadow ("temp") file, a fixed frame
// pool, and the page table mapping resident page numbers to frame indexes.
type Pager struct {
	path      string
	file      *os.File
	shadow    *os.File
	shadowPtr string

	frames    []Page
	pageTable map[PageNum]int
	clockHand int

	numPages    uint32
	pagesInTemp map[PageNum]bool
}

// Open opens (creating if necessary) the main file at path and a same-sized
// shadow file at path+".tmp", truncating the shadow file so that any
// uncommitted work from a prior crash is discarded. Failing to open either
// file is fatal to the process per the design's error taxonomy.
func Open(path string) (*Pager, error) {
	return OpenSized(path, DefaultMaxPages)
}

// OpenSized is Open with an explicit buffer pool size, primarily so tests
// can shrink the pool far below a tree's working set.
func OpenSized(path string, maxPages int) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w: %w", path, dberrors.ErrIOFatal, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: stat %s: %w: %w", path, dberrors.ErrIOFatal, err)
	}
	if fi.Size()%PageSize != 0 {
		f.Close()
		return nil, fmt.Errorf("pager: %s is not a whole number of pages", path)
	}

	shadowPath := path + ".tmp"
	shadow, err := os.OpenFile(shadowPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: open shadow %s: %w: %w", shadowPath, dberrors.ErrIOFatal, err)
	}

	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	p := &Pager{
		path:        path,
		file:        f,
		shadow:      shadow,
		shadowPtr:   shadowPath,
		frames:      make([]Page, maxPages),
		pageTable:   make(map[PageNum]int, maxPages),
		numPages:    uint32(fi.Size() / PageSize),
		pagesInTemp: make(map[PageNum]bool),
	}
	return p, nil
}

// NumPages reports how many pages the file logically has, including pages
// allocated but not yet durably flushed.
func (p *Pager) NumPages() uint32 { return p.numPages }

// Get returns the resident frame for pageNum, loading it from the shadow
// file or main file (or zero-initializing it, if it was allocated past the
// end of both files) if it is not already cached. When markDirty is true
// the frame is flagged dirty immediately, matching callers that fetch a
// page specifically to mutate it.
func (p *Pager) Get(pageNum PageNum, markDirty bool) (*Page, error) {
	if pageNum >= p.numPages {
		return nil, fmt.Errorf("pager: page %d out of bounds (numPages=%d)", pageNum, p.numPages)
	}

	if idx, ok := p.pageTable[pageNum]; ok {
		fr := &p.frames[idx]
		fr.recent = true
		if markDirty {
			fr.dirty = true
		}
		return fr, nil
	}

	idx, err := p.evictOne()
	if err != nil {
		return nil, err
	}

	fr := &p.frames[idx]
	for i := range fr.Data {
		fr.Data[i] = 0
	}
	uncommitted, err := p.loadInto(fr, pageNum)
	if err != nil {
		return nil, err
	}
	fr.pageNum = pageNum
	fr.valid = true
	fr.recent = true
	// A page still recorded in pagesInTemp, or freshly allocated past the end
	// of the main file, has no committed copy in the main file yet. Once
	// resident it must be treated as dirty regardless of what this
	// particular caller asked for, or a read-only fetch would make it
	// resident-but-clean and FlushAll would skip it in both of its passes.
	fr.dirty = markDirty || uncommitted
	p.pageTable[pageNum] = idx
	return fr, nil
}

// loadInto fills fr.Data for pageNum, consulting the shadow file first (it
// holds the most recent evicted image of an uncommitted page), then the
// main file, and otherwise leaving the frame zeroed for a brand-new page. It
// reports whether the page has no committed copy in the main file (it was
// loaded from the shadow file, or is brand-new).
func (p *Pager) loadInto(fr *Page, pageNum PageNum) (bool, error) {
	if p.pagesInTemp[pageNum] {
		return true, p.readAt(p.shadow, fr.Data[:], pageNum)
	}

	off := int64(pageNum) * PageSize
	fi, err := p.file.Stat()
	if err != nil {
		return false, fmt.Errorf("pager: stat main file: %w: %w", dberrors.ErrIOFatal, err)
	}
	if off >= fi.Size() {
		return true, nil // freshly allocated beyond EOF: zero-initialized
	}
	return false, p.readAt(p.file, fr.Data[:], pageNum)
}

func (p *Pager) readAt(f *os.File, buf []byte, pageNum PageNum) error {
	off := int64(pageNum) * PageSize
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("pager: read page %d: %w: %w", pageNum, dberrors.ErrIOFatal, err)
	}
	_ = n
	return nil
}

// MarkDirty flags the resident frame for pageNum as modified. The page
// must already be resident (fetched via Get) — marking a non-resident page
// dirty is a programming error.
func (p *Pager) MarkDirty(pageNum PageNum) {
	if idx, ok := p.pageTable[pageNum]; ok {
		p.frames[idx].dirty = true
	}
}

// AllocateNewPage grows the file by one page, returning its number. The new
// page is zero-initialized and logically dirty from birth; its frame is
// reserved lazily on the next Get.
func (p *Pager) AllocateNewPage() (PageNum, error) {
	pn := p.numPages
	p.numPages++
	return pn, nil
}

// evictOne runs one pass of the clock algorithm and returns a frame index
// ready to be reused. Not-yet-valid frames (startup path, or frames that
// have simply never been populated) are chosen immediately.
func (p *Pager) evictOne() (int, error) {
	for {
		fr := &p.frames[p.clockHand]
		if !fr.valid {
			idx := p.clockHand
			p.advanceClock()
			return idx, nil
		}
		if fr.recent {
			fr.recent = false
			p.advanceClock()
			continue
		}

		// Evict: drop the page-table entry, persist if dirty, reuse frame.
		delete(p.pageTable, fr.pageNum)
		if fr.dirty {
			if err := p.writeToShadow(fr.pageNum, fr.Data[:]); err != nil {
				return 0, err
			}
			p.pagesInTemp[fr.pageNum] = true
		}
		idx := p.clockHand
		fr.valid = false
		fr.dirty = false
		fr.recent = false
		p.advanceClock()
		return idx, nil
	}
}

func (p *Pager) advanceClock() {
	p.clockHand = (p.clockHand + 1) % len(p.frames)
}

func (p *Pager) writeToShadow(pageNum PageNum, data []byte) error {
	off := int64(pageNum) * PageSize
	if _, err := p.shadow.WriteAt(data, off); err != nil {
		return fmt.Errorf("pager: write shadow page %d: %w: %w", pageNum, dberrors.ErrIOFatal, err)
	}
	return nil
}

// FlushAll performs the shadow-paging commit protocol:
//  1. Every page recorded in pagesInTemp but not currently resident is
//     copied from the shadow file into the main file at the same offset.
//  2. Every resident dirty frame is written to the main file; its dirty
//     bit is cleared.
//  3. The main file descriptor is durably synced.
//  4. The shadow file is truncated to zero length and pagesInTemp cleared.
//
// Until step 3 completes, the main file still reflects the prior committed
// state — a crash before then loses all work since the last commit.
func (p *Pager) FlushAll() error {
	for pn := range p.pagesInTemp {
		if _, resident := p.pageTable[pn]; resident {
			continue
		}
		buf := make([]byte, PageSize)
		if err := p.readAt(p.shadow, buf, pn); err != nil {
			return err
		}
		if err := p.writeToMain(pn, buf); err != nil {
			return err
		}
	}

	for i := range p.frames {
		fr := &p.frames[i]
		if fr.valid && fr.dirty {
			if err := p.writeToMain(fr.pageNum, fr.Data[:]); err != nil {
				return err
			}
			fr.dirty = false
		}
	}

	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("pager: sync main file: %w: %w", dberrors.ErrIOFatal, err)
	}

	if err := p.shadow.Truncate(0); err != nil {
		return fmt.Errorf("pager: truncate shadow file: %w: %w", dberrors.ErrIOFatal, err)
	}
	p.pagesInTemp = make(map[PageNum]bool)

	return nil
}

func (p *Pager) writeToMain(pageNum PageNum, data []byte) error {
	off := int64(pageNum) * PageSize
	if _, err := p.file.WriteAt(data, off); err != nil {
		return fmt.Errorf("pager: write main page %d: %w: %w", pageNum, dberrors.ErrIOFatal, err)
	}
	return nil
}

// Close flushes nothing on its own — callers decide whether uncommitted
// work should be discarded or committed first via FlushAll — and releases
// the underlying file descriptors.
func (p *Pager) Close() error {
	err1 := p.file.Close()
	err2 := p.shadow.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// ShadowPath returns the path of the side file used for uncommitted pages,
// primarily so tests can assert it is zero-length after a clean commit or
// a clean startup.
func (p *Pager) ShadowPath() string { return p.shadowPtr }
