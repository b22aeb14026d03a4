package monitoring

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
)

// Bar renders session progress on a terminal: a gradient bar over the
// estimated exposure time and a second line with the frame count and the
// elapsed and remaining time.
type Bar struct {
	mu       sync.Mutex
	w        io.Writer
	model    progress.Model
	title    string
	total    time.Duration
	done     time.Duration
	start    time.Time
	now      func() time.Time
	rendered bool
}

// NewBar returns a Bar writing to w for a session expected to take total.
func NewBar(w io.Writer, title string, total time.Duration) *Bar {
	return &Bar{
		w:     w,
		model: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		title: title,
		total: total,
		now:   time.Now,
	}
}

// Advance implements the capture progress sink.
func (b *Bar) Advance(elapsed time.Duration, current, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.start.IsZero() {
		b.start = b.now()
	}
	b.done += elapsed

	if b.rendered {
		// Move back over the two lines drawn last time.
		fmt.Fprint(b.w, "\x1b[2A")
	}
	fmt.Fprintf(b.w, "\r\x1b[K%s %s\n", b.title, b.model.ViewAs(b.ratio()))
	fmt.Fprintf(b.w, "\r\x1b[Ktaking pictures %d/%d  elapsed %s  remaining %s\n",
		current, total, formatDuration(b.now().Sub(b.start)), formatDuration(b.remaining()))
	b.rendered = true
}

func (b *Bar) ratio() float64 {
	if b.total <= 0 {
		return 1
	}
	return min(float64(b.done)/float64(b.total), 1)
}

func (b *Bar) remaining() time.Duration {
	return max(b.total-b.done, 0)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%d:", h)
	}
	fmt.Fprintf(&b, "%02d:%02d", m, s)
	return b.String()
}
