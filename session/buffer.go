package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// RenderMode selects how buffered lines are rendered for a caller.
type RenderMode int

const (
	// RenderFull returns each line in full.
	RenderFull RenderMode = iota

	// RenderTruncated caps each line at the configured width, appending
	// "..." when content was cut.
	RenderTruncated
)

// Entry is a single captured output line with its capture time.
type Entry struct {
	Time time.Time
	Text string
}

// OutputBuffer is a bounded FIFO of captured output lines. When full, the
// oldest line is evicted to make room. Lines are stored once, untruncated;
// truncation is applied at render time so the two render modes always
// describe the same underlying content.
//
// Safe for concurrent use: the process reader goroutine appends while
// adapter goroutines read.
type OutputBuffer struct {
	mu         sync.Mutex
	entries    []Entry
	head       int // index of the oldest entry
	count      int
	truncWidth int
}

// NewOutputBuffer creates a buffer holding at most capacity lines, rendering
// truncated lines at most truncWidth characters wide.
func NewOutputBuffer(capacity, truncWidth int) *OutputBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &OutputBuffer{
		entries:    make([]Entry, capacity),
		truncWidth: truncWidth,
	}
}

// Append records a line with the current time.
func (b *OutputBuffer) Append(text string) {
	b.AppendAt(time.Now(), text)
}

// AppendAt records a line with an explicit capture time.
func (b *OutputBuffer) AppendAt(t time.Time, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.entries) {
		b.entries[b.head] = Entry{Time: t, Text: text}
		b.head = (b.head + 1) % len(b.entries)
		return
	}
	b.entries[(b.head+b.count)%len(b.entries)] = Entry{Time: t, Text: text}
	b.count++
}

// Len returns the number of lines currently held.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Last returns the most recent line and true, or false when empty.
func (b *OutputBuffer) Last() (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return Entry{}, false
	}
	return b.entries[(b.head+b.count-1)%len(b.entries)], true
}

// TailEntries returns up to n of the most recent entries in capture order.
// n <= 0 returns everything held.
func (b *OutputBuffer) TailEntries(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]Entry, n)
	start := b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.entries[(b.head+start+i)%len(b.entries)]
	}
	return out
}

// Tail renders up to n of the most recent lines, oldest first. Each line is
// prefixed with its capture time as "[HH:MM:SS] ".
func (b *OutputBuffer) Tail(n int, mode RenderMode) []string {
	entries := b.TailEntries(n)
	out := make([]string, len(entries))
	for i, e := range entries {
		text := e.Text
		if mode == RenderTruncated {
			text = b.truncate(text)
		}
		out[i] = fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), text)
	}
	return out
}

// Render joins Tail output into a single newline-separated string.
func (b *OutputBuffer) Render(n int, mode RenderMode) string {
	return strings.Join(b.Tail(n, mode), "\n")
}

func (b *OutputBuffer) truncate(text string) string {
	if b.truncWidth <= 0 || len(text) <= b.truncWidth {
		return text
	}
	if b.truncWidth <= 3 {
		return text[:b.truncWidth]
	}
	return text[:b.truncWidth-3] + "..."
}
