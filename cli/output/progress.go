package output

import (
	"sync"

	"github.com/jgoldverg/imgdrop/pkg/rdt"
	"github.com/pterm/pterm"
)

// ChunkProgress draws one pterm progress bar for a file body. The bar
// is created on the first callback since the byte total is only known then.
type ChunkProgress struct {
	title string

	mu   sync.Mutex
	bar  *pterm.ProgressbarPrinter
	done int
}

func NewChunkProgress(title string) *ChunkProgress {
	return &ChunkProgress{title: title}
}

// Func returns the callback to hand to the rdt sender or receiver.
func (p *ChunkProgress) Func() rdt.ProgressFunc {
	return func(done, total int) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if total <= 0 {
			return
		}
		if p.bar == nil {
			bar, err := pterm.DefaultProgressbar.
				WithTitle(p.title).
				WithTotal(total).
				WithRemoveWhenDone(false).
				Start()
			if err != nil {
				return
			}
			p.bar = bar
		}
		if delta := done - p.done; delta > 0 {
			p.bar.Add(delta)
			p.done = done
		}
	}
}

// Stop finishes the bar if one was started.
func (p *ChunkProgress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_, _ = p.bar.Stop()
		p.bar = nil
	}
}
