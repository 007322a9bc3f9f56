package proc

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ThreadInfo is the supplemented per-thread metadata snapshot from
// SPEC_FULL.md §12 ("process_info.rs → process/thread metadata snapshot"):
// state letter, accumulated CPU ticks, and kernel thread name, read from
// /proc/<pid>/task/<tid>/stat. Grounded on original_source/process_info.rs's
// ProcStat/ResourceStats.
type ThreadInfo struct {
	TID       int
	State     byte   // one of R/S/D/Z/T/t/... per proc(5)
	Comm      string // kernel thread name, as set by the target (prctl PR_SET_NAME)
	UTicks    uint64 // utime, in sysconf(_SC_CLK_TCK) ticks
	STicks    uint64
	CPUPct    float64 // computed from the two-bucket history below
}

// resourceBucket is one accounting window; two are kept so a stat refresh
// immediately after a suspend/resume doesn't distort the percentage (same
// rationale as original_source/process_info.rs's ResourceStats: "we want to
// exclude periods when the thread was suspended... and show updated stats
// immediately when suspended or resumed").
type resourceBucket struct {
	utime, stime uint64
	dur          time.Duration
}

type resourceStats struct {
	latestUTicks, latestSTicks uint64
	lastSampled                time.Time
	haveLast                   bool
	bucket, prevBucket         resourceBucket
}

// clkTck is sysconf(_SC_CLK_TCK), almost universally 100 on Linux; reading
// the real value requires cgo, which this module avoids (pkg/proc has no
// other cgo dependency), so the conventional constant is used, matching
// delve's assumption in its own /proc-based helpers.
const clkTck = 100

// periodicWindow bounds how long a bucket accumulates before rotating, so
// cpuPercentage reflects roughly the last half-second of activity.
const periodicWindow = 500 * time.Millisecond

func (r *resourceStats) update(utime, stime uint64, now time.Time, suspended bool) {
	if r.haveLast {
		dur := now.Sub(r.lastSampled)
		if (r.bucket.dur+dur)*2 > periodicWindow {
			r.prevBucket = r.bucket
			r.bucket = resourceBucket{}
		}
		r.bucket.dur += dur
		r.bucket.utime += utime - r.latestUTicks
		r.bucket.stime += stime - r.latestSTicks
	}
	r.latestUTicks, r.latestSTicks = utime, stime
	r.haveLast = !suspended
	if !suspended {
		r.lastSampled = now
	}
}

func (r *resourceStats) cpuPercentage() float64 {
	dur := r.bucket.dur
	ticks := r.bucket.utime + r.bucket.stime
	if r.bucket.dur*2 <= periodicWindow {
		dur += r.prevBucket.dur
		ticks += r.prevBucket.utime + r.prevBucket.stime
	}
	if dur <= 0 {
		return 0
	}
	return float64(ticks) / clkTck * float64(time.Second) / float64(dur) * 100
}

// ThreadInfo reads tid's current /proc/<pid>/task/<tid>/stat snapshot and
// folds it into that thread's running CPU-usage estimate.
func (c *Controller) ThreadInfo(tid int) (ThreadInfo, error) {
	c.mu.Lock()
	th, ok := c.threads[tid]
	pid := c.pid
	c.mu.Unlock()
	if !ok {
		return ThreadInfo{}, fmt.Errorf("proc: no such thread %d", tid)
	}

	state, comm, utime, stime, err := readProcStat(pid, tid)
	if err != nil {
		return ThreadInfo{}, err
	}

	c.mu.Lock()
	if th.resources == nil {
		th.resources = &resourceStats{}
	}
	suspended := th.Status == StatusStopped || th.Status == StatusStepping
	th.resources.update(utime, stime, procNow(), suspended)
	pct := th.resources.cpuPercentage()
	c.mu.Unlock()

	return ThreadInfo{TID: tid, State: state, Comm: comm, UTicks: utime, STicks: stime, CPUPct: pct}, nil
}

// procNow is time.Now, indirected only so the field has a single call site
// to point at if a deterministic clock is ever needed for tests.
func procNow() time.Time { return time.Now() }

// readProcStat parses the fields of /proc/<pid>/task/<tid>/stat this
// debugger needs: state (field 3), comm (field 2, parenthesized and
// possibly containing spaces or parens itself), utime/stime (fields 14-15)
// — per proc(5). Grounded on original_source/process_info.rs's ProcStat.
func readProcStat(pid, tid int) (state byte, comm string, utime, stime uint64, err error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/stat", pid, tid))
	if err != nil {
		return 0, "", 0, 0, err
	}
	open := bytes.IndexByte(data, '(')
	close := bytes.LastIndexByte(data, ')')
	if open < 0 || close < 0 || close < open {
		return 0, "", 0, 0, fmt.Errorf("proc: malformed stat line for tid %d", tid)
	}
	comm = string(data[open+1 : close])
	rest := bytes.Fields(data[close+1:])
	if len(rest) < 13 {
		return 0, "", 0, 0, fmt.Errorf("proc: truncated stat line for tid %d", tid)
	}
	state = rest[0][0]
	ut, err1 := strconv.ParseUint(string(rest[11]), 10, 64)
	st, err2 := strconv.ParseUint(string(rest[12]), 10, 64)
	if err1 != nil {
		return state, comm, 0, 0, err1
	}
	if err2 != nil {
		return state, comm, 0, 0, err2
	}
	return state, comm, ut, st, nil
}
