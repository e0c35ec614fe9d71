package output

import (
	"sort"
	"sync"

	"github.com/pterm/pterm"
)

// Printer renders command results to the terminal independent of log level.
type Printer struct {
	mu    sync.Mutex
	quiet bool
}

func NewPrinter(quiet bool) *Printer {
	return &Printer{quiet: quiet}
}

func (p *Printer) Info(msg string, fields map[string]any) {
	if p.quiet {
		return
	}
	p.printWith(pterm.Info, msg, fields)
}

func (p *Printer) Success(msg string, fields map[string]any) {
	p.printWith(pterm.Success, msg, fields)
}

func (p *Printer) Error(msg string, fields map[string]any) {
	p.printWith(pterm.Error, msg, fields)
}

func (p *Printer) Warn(msg string, fields map[string]any) {
	p.printWith(pterm.Warning, msg, fields)
}

func (p *Printer) printWith(prefix pterm.PrefixPrinter, msg string, fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix.Println(msg)
	if len(fields) == 0 {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pterm.Printf("  %s: %v\n", k, fields[k])
	}
}
