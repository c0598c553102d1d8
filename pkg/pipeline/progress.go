package pipeline

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Sternrassler/mit-registry-export/pkg/registry"
)

// TimeLayout is the timestamp format of the start and finish markers.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Progress receives run milestones in order: Start, Count, then per page
// PageStart, Item for each item, PageDone, and finally Finish.
type Progress interface {
	Start(at time.Time)
	Count(total int)
	PageStart(page, pages int)
	Item(row registry.Row)
	PageDone(page, pages int)
	Finish(at time.Time)
}

// NopProgress discards all milestones.
type NopProgress struct{}

func (NopProgress) Start(time.Time) {}
func (NopProgress) Count(int) {}
func (NopProgress) PageStart(int, int) {}
func (NopProgress) Item(registry.Row) {}
func (NopProgress) PageDone(int, int) {}
func (NopProgress) Finish(time.Time) {}

// ConsoleProgress prints human-readable markers, one dot per item:
//
//	Start time: 2024-05-01 10:00:00.000000
//	Rows count: 250
//	Processing page 1 / 3: ....
//	Finish time: 2024-05-01 10:07:12.000000
type ConsoleProgress struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleProgress writes markers to out.
func NewConsoleProgress(out io.Writer) *ConsoleProgress {
	return &ConsoleProgress{out: out}
}

func (p *ConsoleProgress) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *ConsoleProgress) Start(at time.Time) {
	p.printf("Start time: %s\n", at.Format(TimeLayout))
}

func (p *ConsoleProgress) Count(total int) {
	p.printf("Rows count: %d\n", total)
}

func (p *ConsoleProgress) PageStart(page, pages int) {
	p.printf("Processing page %d / %d: ", page, pages)
}

func (p *ConsoleProgress) Item(registry.Row) {
	p.printf(".")
}

func (p *ConsoleProgress) PageDone(int, int) {
	p.printf("\n")
}

func (p *ConsoleProgress) Finish(at time.Time) {
	p.printf("Finish time: %s\n", at.Format(TimeLayout))
}
