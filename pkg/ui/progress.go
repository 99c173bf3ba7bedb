package ui

import (
	"fmt"
	"strings"
	"time"

	"postpulse/pkg/checkpoint"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// Bar renders done/total as a fixed-width bar. A non-positive total renders an empty bar.
func Bar(done, total, width int) string {
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)
}

// CrawlTracker formats crawl progress and the account discovery rate of this session.
type CrawlTracker struct {
	start      time.Time
	downloaded int
	now        func() time.Time
}

// NewCrawlTracker starts tracking from the state's current download count, so a resumed crawl
// reports the rate of this session only.
func NewCrawlTracker(initial checkpoint.Progress) *CrawlTracker {
	return &CrawlTracker{start: time.Now(), downloaded: initial.Downloaded, now: time.Now}
}

// Rate returns accounts downloaded per minute since the tracker started.
func (t *CrawlTracker) Rate(p checkpoint.Progress) float64 {
	elapsed := t.now().Sub(t.start).Minutes()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.Downloaded-t.downloaded) / elapsed
}

// Line renders one progress line.
func (t *CrawlTracker) Line(p checkpoint.Progress) string {
	var head string
	if p.Target > 0 {
		head = fmt.Sprintf("[%s] %d/%d (%.1f%%)", Bar(p.Downloaded, p.Target, 20), p.Downloaded, p.Target,
			float64(p.Downloaded)/float64(p.Target)*100)
	} else {
		head = fmt.Sprintf("%d accounts", p.Downloaded)
	}
	return fmt.Sprintf("%s | visited %d | frontier %d | next %d | %.1f/min",
		head, p.Visited, p.Frontier, p.NextFrontier, t.Rate(p))
}
