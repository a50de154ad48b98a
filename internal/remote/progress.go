package remote

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// Progress reports transferred bytes for one object. On a terminal the
// line is redrawn in place; elsewhere only the final line is written.
type Progress struct {
	out   io.Writer
	name  string
	total int64
	tty   bool
	width int

	mu      sync.Mutex
	done    int64
	lastOut time.Time
}

// NewProgress creates a progress reporter writing to out. total may be 0
// when the size is unknown.
func NewProgress(out io.Writer, name string, total int64) *Progress {
	p := &Progress{out: out, name: name, total: total, width: 80}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			p.width = w
		}
	}
	return p
}

// Reader wraps r so reads advance the progress.
func (p *Progress) Reader(r io.Reader) io.Reader {
	return &progressReader{r: r, p: p}
}

// Writer wraps w so writes advance the progress.
func (p *Progress) Writer(w io.Writer) io.Writer {
	return &progressWriter{w: w, p: p}
}

// Bytes returns the bytes counted so far.
func (p *Progress) Bytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Finish writes the final line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := p.line()
	if p.tty {
		fmt.Fprintf(p.out, "\r%s\n", line)
		return
	}
	fmt.Fprintln(p.out, line)
}

// Add counts n transferred bytes.
func (p *Progress) Add(n int64) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += n
	if !p.tty || time.Since(p.lastOut) < 100*time.Millisecond {
		return
	}
	p.lastOut = time.Now()
	fmt.Fprintf(p.out, "\r%s", p.line())
}

func (p *Progress) line() string {
	var s string
	if p.total > 0 {
		s = fmt.Sprintf("%s / %s (%d%%)",
			humanize.Bytes(uint64(p.done)), humanize.Bytes(uint64(p.total)), p.done*100/p.total)
	} else {
		s = humanize.Bytes(uint64(p.done))
	}

	name := p.name
	if room := p.width - len(s) - 2; room > 3 && len(name) > room {
		name = "..." + name[len(name)-room+3:]
	}
	return name + "  " + s
}

type progressReader struct {
	r io.Reader
	p *Progress
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	pr.p.Add(int64(n))
	return n, err
}

type progressWriter struct {
	w io.Writer
	p *Progress
}

func (pw *progressWriter) Write(b []byte) (int, error) {
	n, err := pw.w.Write(b)
	pw.p.Add(int64(n))
	return n, err
}
