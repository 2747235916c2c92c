package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// File states shown on a Board.
const (
	StateRequested = "requested"
	StateReceiving = "receiving"
	StateDone      = "done"
	StateRejected  = "rejected"
)

type row struct {
	name  string
	state string
	meter *Meter
}

// Board tracks every file of one client run, in request order.
type Board struct {
	mu   sync.Mutex
	rows []*row
	idx  map[string]*row
	now  func() time.Time
}

// NewBoard returns an empty board using the wall clock.
func NewBoard() *Board {
	return NewBoardWithNow(time.Now)
}

// NewBoardWithNow returns a board with a custom time source (for tests).
func NewBoardWithNow(now func() time.Time) *Board {
	return &Board{idx: make(map[string]*row), now: now}
}

func (b *Board) get(name string) *row {
	r, ok := b.idx[name]
	if !ok {
		r = &row{name: name, state: StateRequested, meter: NewMeterWithNow(b.now)}
		b.idx[name] = r
		b.rows = append(b.rows, r)
	}
	return r
}

// Request adds name in the requested state.
func (b *Board) Request(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.get(name)
}

// Start marks name as receiving total bytes.
func (b *Board) Start(name string, total int64) {
	b.mu.Lock()
	r := b.get(name)
	r.state = StateReceiving
	b.mu.Unlock()
	r.meter.Start(total)
}

// Add records n bytes received for name.
func (b *Board) Add(name string, n int) {
	b.mu.Lock()
	r := b.get(name)
	b.mu.Unlock()
	r.meter.Add(n)
}

// Done marks name as complete.
func (b *Board) Done(name string) { b.set(name, StateDone) }

// Reject marks name as refused by the server.
func (b *Board) Reject(name string) { b.set(name, StateRejected) }

func (b *Board) set(name, state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.get(name).state = state
}

// State returns the state of name and its progress.
func (b *Board) State(name string) (string, Stats, bool) {
	b.mu.Lock()
	r, ok := b.idx[name]
	var state string
	if ok {
		state = r.state
	}
	b.mu.Unlock()
	if !ok {
		return "", Stats{}, false
	}
	return state, r.meter.Snapshot(), true
}

// Pending reports how many files are neither done nor rejected.
func (b *Board) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.rows {
		if r.state != StateDone && r.state != StateRejected {
			n++
		}
	}
	return n
}

// Lines renders one line per file.
func (b *Board) Lines() []string {
	b.mu.Lock()
	rows := append([]*row(nil), b.rows...)
	states := make([]string, len(rows))
	width := 0
	for i, r := range rows {
		states[i] = r.state
		width = max(width, len(r.name))
	}
	b.mu.Unlock()

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = formatLine(r.name, width, states[i], r.meter.Snapshot())
	}
	return out
}

// Render writes the current board to w.
func (b *Board) Render(w io.Writer) int {
	lines := b.Lines()
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return len(lines)
}

// Live redraws the board on w every interval until the returned stop
// function is called. On a non-terminal writer only the final board is written.
func (b *Board) Live(w io.Writer, interval time.Duration) (stop func()) {
	tty := IsTTY(w)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if !tty {
			<-done
			b.Render(w)
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		drawn := 0
		redraw := func() {
			if drawn > 0 {
				fmt.Fprintf(w, "\033[%dA", drawn)
			}
			drawn = 0
			for _, l := range b.Lines() {
				fmt.Fprintf(w, "\r\033[2K%s\n", l)
				drawn++
			}
		}
		for {
			select {
			case <-done:
				redraw()
				return
			case <-ticker.C:
				redraw()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-finished
	}
}

// IsTTY reports whether w is a character device.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func formatLine(name string, width int, state string, st Stats) string {
	switch state {
	case StateRejected:
		return fmt.Sprintf("%s  rejected", padRight(name, width))
	case StateRequested:
		return fmt.Sprintf("%s  waiting", padRight(name, width))
	}
	line := fmt.Sprintf("%s  %s %5.1f%%  %s",
		padRight(name, width),
		renderBar(st.Percent, 20),
		st.Percent,
		formatBytes(st.BytesDone),
	)
	if state == StateDone {
		return line + "  done"
	}
	return line + "  " + formatRate(st.RateBps) + "  ETA " + formatETA(st.ETA)
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func renderBar(percent float64, width int) string {
	percent = min(max(percent, 0), 100)
	filled := min(int((percent/100)*float64(width)), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func formatRate(bps float64) string {
	const (
		k = 1024
		m = 1024 * k
		g = 1024 * m
	)
	switch {
	case bps >= g:
		return fmt.Sprintf("%.2f GB/s", bps/float64(g))
	case bps >= m:
		return fmt.Sprintf("%.1f MB/s", bps/float64(m))
	case bps >= k:
		return fmt.Sprintf("%.0f KB/s", bps/float64(k))
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}

func formatBytes(n int64) string {
	const k = 1024
	switch {
	case n >= k*k*k:
		return fmt.Sprintf("%.2f GiB", float64(n)/(k*k*k))
	case n >= k*k:
		return fmt.Sprintf("%.1f MiB", float64(n)/(k*k))
	case n >= k:
		return fmt.Sprintf("%.1f KiB", float64(n)/k)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--:--"
	}
	secs := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
