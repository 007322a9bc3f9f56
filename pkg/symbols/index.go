// Package symbols is the symbol index builder and type system named in
// spec.md's system overview table ("Symbol index builder", "Type
// system"). It runs the multi-phase parallel pipeline of spec.md §4.2
// over one Binary's DWARF data and produces the compact per-unit indices
// (address->line, function->address, name->DIE, type graph) the
// unwinder, evaluator, and TUI all query.
package symbols

import (
	"debug/dwarf"
	"fmt"
	"sort"
	"sync"

	"github.com/al13n321/nnd/pkg/dwarf/frame"
	"github.com/al13n321/nnd/pkg/dwarf/line"
	"github.com/al13n321/nnd/pkg/elfbin"
	"github.com/al13n321/nnd/pkg/logflags"
	"github.com/al13n321/nnd/pkg/workqueue"
	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"
)

// Unit is one DWARF compilation unit (spec.md §3 "Debug unit").
type Unit struct {
	Offset      dwarf.Offset
	AddrSize    int
	Language    int64
	Name        string
	CompDir     string
	LowPC       uint64
	entry       *dwarf.Entry
	lines       *line.Table
	arena       *TypeArena
}

func (u *Unit) sig() dwarf.Offset { return u.Offset }

// Function is spec.md §3 "Function record".
type Function struct {
	Name         string
	DemangledName string
	LowPC, HighPC uint64 // 0,0 if only a declaration
	Unit         *Unit
	DIE          dwarf.Offset
	FrameBase    []byte // constant DW_AT_frame_base expression, if not a loclist
	FrameBaseLoclistOff int
	HasFrameBaseLoclist bool
	InlineSites  []*InlineCallSite
}

// InlineCallSite describes one DW_TAG_inlined_subroutine within a
// function, used by pkg/unwind to synthesize virtual frames.
type InlineCallSite struct {
	LowPC, HighPC uint64
	AbstractOriginName string
	CallFile, CallLine int
	DIE          dwarf.Offset
	Parent       *InlineCallSite // nil for top-level inlines
	Children     []*InlineCallSite
	IsTailCall   bool
}

// LineRecord is an address-resolved spec.md §3 "Line record" exposed at
// the Index level (Unit already holds the raw table; this is the merged
// flattened view used for binary search across the whole binary).
type LineRecord = line.Record

// Global is a file-static or binary-global variable declaration.
type Global struct {
	Name string
	Unit *Unit
	DIE  dwarf.Offset
	Type TypeID
	// Location is the constant location expression (usually DW_OP_addr);
	// file statics and true globals are both represented this way.
	Location []byte
}

// Index is the complete set of compact per-binary indices spec.md §4.2
// describes: sorted function ranges, merged line table, name tries for
// functions/types/globals, and the type arena.
type Index struct {
	Binary *elfbin.Binary
	DWARF  *dwarf.Data
	Frame  frame.FrameDescriptionEntries

	Units     []*Unit
	Functions []*Function // sorted by LowPC, overlaps repaired
	Globals   []*Global
	Arena     *TypeArena

	funcTrie   *trie.Trie
	typeTrie   *trie.Trie
	globalTrie *trie.Trie

	lineCache *lru.Cache // addr -> line.Record, bounded per spec.md §11 domain-stack wiring

	warningsMu sync.Mutex
	Warnings   []string // recoverable per-CU errors, spec.md §7 "Symbol errors"
}

// warnf records a recoverable symbol error: the offending CU is skipped,
// the rest of the binary remains usable (spec.md §7).
func (ix *Index) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	ix.warningsMu.Lock()
	ix.Warnings = append(ix.Warnings, msg)
	ix.warningsMu.Unlock()
	logflags.Logger(logflags.DomainSymbols, "index").Warn(msg)
}

// Load runs the full pipeline (section scan -> unit enumeration ->
// parallel unit parsing -> merge -> name indices) for bin, publishing
// progress on job's tracker and honoring cancellation at CU boundaries.
// On cancellation it returns a non-nil error and no partial Index is
// returned to the caller, matching spec.md §5 "a cancelled symbol load
// frees its partial indices atomically".
func Load(bin *elfbin.Binary, job *workqueue.Job, poolSize int) (*Index, error) {
	tr := job.Tracker()

	// Phase 1: section scan is implicit in elfbin.Open; here we just
	// pull the raw DWARF data out (stdlib debug/elf -> debug/dwarf).
	tr.SetStage(workqueue.StageSectionScan, 1)
	secs := bin.DWARFSections()
	if len(secs[".debug_info"]) == 0 {
		return nil, fmt.Errorf("symbols: no .debug_info section in %s", bin.Path)
	}
	dwdata, err := dwarf.New(secs[".debug_abbrev"], nil, nil, secs[".debug_info"], secs[".debug_line"], nil, secs[".debug_ranges"], secs[".debug_str"])
	if err != nil {
		return nil, fmt.Errorf("symbols: malformed DWARF: %w", err)
	}
	tr.Advance(1)
	if job.Cancelled() {
		return nil, fmt.Errorf("symbols: cancelled during section scan")
	}

	lineCache, _ := lru.New(4096)
	ix := &Index{Binary: bin, DWARF: dwdata, Arena: newTypeArena(), lineCache: lineCache}

	// eh_frame/debug_frame are optional; absence degrades unwinding, not
	// symbol loading overall (spec.md §7 "I/O errors... features degrade").
	endian := frame.DwarfEndian(secs[".debug_info"])
	if fb := secs[".debug_frame"]; len(fb) > 0 {
		if fdes, err := frame.Parse(fb, endian, bin.LoadBias, 8); err == nil {
			ix.Frame = ix.Frame.Append(fdes)
		} else {
			ix.warnf("parsing .debug_frame: %v", err)
		}
	}
	if eh := secs[".eh_frame"]; len(eh) > 0 {
		if fdes, err := frame.Parse(eh, endian, bin.LoadBias, 8); err == nil {
			ix.Frame = ix.Frame.Append(fdes)
		} else {
			ix.warnf("parsing .eh_frame: %v", err)
		}
	}

	// Phase 2: unit enumeration.
	tr.SetStage(workqueue.StageHeaderParse, 0)
	var cuEntries []*dwarf.Entry
	r := dwdata.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("symbols: enumerating units: %w", err)
		}
		if e == nil {
			break
		}
		if e.Tag == dwarf.TagCompileUnit {
			cuEntries = append(cuEntries, e)
			r.SkipChildren()
		}
	}
	tr.SetStage(workqueue.StageHeaderParse, len(cuEntries))

	// Phase 3: parallel unit parsing.
	tr.SetStage(workqueue.StageUnitParse, len(cuEntries))
	type contribution struct {
		unit      *Unit
		functions []*Function
		globals   []*Global
	}
	contribs := make([]contribution, len(cuEntries))
	pool := workqueue.NewPool(poolSize)
	var wg sync.WaitGroup
	var cancelled bool
	var cancelMu sync.Mutex
	for i, ce := range cuEntries {
		i, ce := i, ce
		wg.Add(1)
		go func() {
			defer wg.Done()
			if job.Cancelled() {
				cancelMu.Lock()
				cancelled = true
				cancelMu.Unlock()
				return
			}
			pool.Submit(func() {
				defer tr.Advance(1)
				u, fns, globals, err := ix.parseUnit(dwdata, ce)
				if err != nil {
					ix.warnf("unit at %#x: %v", ce.Offset, err)
					return
				}
				contribs[i] = contribution{unit: u, functions: fns, globals: globals}
			})
		}()
	}
	wg.Wait()
	pool.Close()

	cancelMu.Lock()
	wasCancelled := cancelled
	cancelMu.Unlock()
	if wasCancelled || job.Cancelled() {
		return nil, fmt.Errorf("symbols: cancelled during unit parsing")
	}

	// Phase 4: merge.
	tr.SetStage(workqueue.StageMerge, len(contribs))
	for _, c := range contribs {
		if c.unit == nil {
			tr.Advance(1)
			continue
		}
		ix.Units = append(ix.Units, c.unit)
		ix.Functions = append(ix.Functions, c.functions...)
		ix.Globals = append(ix.Globals, c.globals...)
		tr.Advance(1)
	}
	sort.Slice(ix.Functions, func(i, j int) bool { return ix.Functions[i].LowPC < ix.Functions[j].LowPC })
	ix.repairOverlaps()

	// Phase 5: name indices.
	tr.SetStage(workqueue.StageIndexBuild, len(ix.Functions)+len(ix.Globals))
	ix.funcTrie = trie.New()
	ix.typeTrie = trie.New()
	ix.globalTrie = trie.New()
	for i, fn := range ix.Functions {
		ix.funcTrie.Add(fn.Name, i)
		tr.Advance(1)
	}
	for i, g := range ix.Globals {
		ix.globalTrie.Add(g.Name, i)
		tr.Advance(1)
	}
	ix.Arena.mu.Lock()
	for i, t := range ix.Arena.types {
		if t.Name != "" {
			ix.typeTrie.Add(t.Name, i)
		}
	}
	ix.Arena.mu.Unlock()

	return ix, nil
}

// repairOverlaps enforces spec.md §3's Function record invariant:
// "address ranges of non-inlined functions in one binary are disjoint
// after overlap repair; ties broken by smaller range wins, then lower
// address wins."
func (ix *Index) repairOverlaps() {
	fns := ix.Functions
	out := fns[:0]
	for i := 0; i < len(fns); i++ {
		cur := fns[i]
		if len(out) > 0 {
			prev := out[len(out)-1]
			if cur.LowPC < prev.HighPC {
				curLen := cur.HighPC - cur.LowPC
				prevLen := prev.HighPC - prev.LowPC
				keepCur := curLen < prevLen || (curLen == prevLen && cur.LowPC < prev.LowPC)
				if keepCur {
					out[len(out)-1] = cur
				}
				continue
			}
		}
		out = append(out, cur)
	}
	ix.Functions = out
}

// FuncForPC binary-searches the sorted function table.
func (ix *Index) FuncForPC(pc uint64) *Function {
	fns := ix.Functions
	idx := sort.Search(len(fns), func(i int) bool { return fns[i].LowPC > pc })
	if idx == 0 {
		return nil
	}
	fn := fns[idx-1]
	if pc >= fn.LowPC && pc < fn.HighPC {
		return fn
	}
	return nil
}

// unitForPC finds the unit whose line table should be consulted for pc,
// by locating the enclosing function and following its Unit pointer;
// falls back to a linear scan over unit LowPC for functions the index
// doesn't cover.
func (ix *Index) unitForPC(pc uint64) *Unit {
	if fn := ix.FuncForPC(pc); fn != nil {
		return fn.Unit
	}
	var best *Unit
	for _, u := range ix.Units {
		if u.LowPC <= pc && (best == nil || u.LowPC > best.LowPC) {
			best = u
		}
	}
	return best
}

// PCToLine resolves pc to a source line (spec.md §4.2 "Line lookup").
func (ix *Index) PCToLine(pc uint64) (line.Record, error) {
	if v, ok := ix.lineCache.Get(pc); ok {
		return v.(line.Record), nil
	}
	u := ix.unitForPC(pc)
	if u == nil || u.lines == nil {
		return line.Record{}, line.ErrNoLineForPC
	}
	rec, err := u.lines.PCToLine(pc)
	if err != nil {
		return line.Record{}, err
	}
	ix.lineCache.Add(pc, rec)
	return rec, nil
}

// LineToPC resolves file:line to the lowest matching address within the
// first unit (in ix.Units order) that has any address for that line
// (spec.md §4.1 process controller's deferred breakpoint resolution).
func (ix *Index) LineToPC(file string, lineNo int) (uint64, error) {
	for _, u := range ix.Units {
		if u.lines == nil {
			continue
		}
		pcs := u.lines.LineToPCs(file, lineNo)
		if len(pcs) > 0 {
			sort.Slice(pcs, func(i, j int) bool { return pcs[i] < pcs[j] })
			return pcs[0], nil
		}
	}
	return 0, fmt.Errorf("symbols: no code at %s:%d", file, lineNo)
}

// FuncByName looks up a function by exact name.
func (ix *Index) FuncByName(name string) *Function {
	node, ok := ix.funcTrie.Find(name)
	if !ok {
		return nil
	}
	idx := node.Meta().(int)
	return ix.Functions[idx]
}

// StatementLineRange returns [low, high) covering every address mapped
// to the same source line as pc, satisfying pkg/proc.LineRanger for
// line-granularity stepping (spec.md §4.1 "Line step-over").
func (ix *Index) StatementLineRange(pc uint64) (low, high uint64, err error) {
	u := ix.unitForPC(pc)
	if u == nil || u.lines == nil {
		return 0, 0, line.ErrNoLineForPC
	}
	return u.lines.StatementRange(pc)
}

// FuncToPC resolves a function name to its entry address, for
// pkg/proc.BreakpointResolver.
func (ix *Index) FuncToPC(name string) (uint64, error) {
	fn := ix.FuncByName(name)
	if fn == nil || fn.LowPC == 0 {
		return 0, fmt.Errorf("symbols: no function named %q", name)
	}
	return fn.LowPC, nil
}

// PrefixSearch returns every function name with the given prefix,
// spec.md §4.2's name index search. It takes no cancellation token and
// makes no internal check: this is O(prefix matches), so a caller that
// wants to abandon a batch of searches stops between calls.
func (ix *Index) PrefixSearch(prefix string) []string {
	return ix.funcTrie.PrefixSearch(prefix)
}

// FuzzySearch is the supplemented feature grounded on original_source/search.rs:
// subsequence fuzzy matching over function names, alongside the
// prefix search spec.md already specifies.
func (ix *Index) FuzzySearch(pattern string) []string {
	return ix.funcTrie.FuzzySearch(pattern)
}

// TypePrefixSearch mirrors PrefixSearch for the type name index.
func (ix *Index) TypePrefixSearch(prefix string) []string {
	return ix.typeTrie.PrefixSearch(prefix)
}
