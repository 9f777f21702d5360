package loggers

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is one captured log call.
type Entry struct {
	Channel Channel
	Msg     string
	Args    []any
}

// String renders the entry as "channel: msg k=v ...".
func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Channel, e.Msg)
	for i := 0; i+1 < len(e.Args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", e.Args[i], e.Args[i+1])
	}
	return b.String()
}

// Recorder captures log calls in memory. Used by tests and by the scenario
// harness to assert on reported errors.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Funcs returns channel functions that append to the recorder.
func (r *Recorder) Funcs() map[Channel]Func {
	out := make(map[Channel]Func, len(Channels))
	for _, ch := range Channels {
		ch := ch
		out[ch] = func(msg string, args ...any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.entries = append(r.entries, Entry{Channel: ch, Msg: msg, Args: args})
		}
	}
	return out
}

// Entries returns the captured entries, optionally filtered by channel.
func (r *Recorder) Entries(channels ...Channel) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if len(channels) == 0 || containsChannel(channels, e.Channel) {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards captured entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

func containsChannel(chs []Channel, ch Channel) bool {
	for _, c := range chs {
		if c == ch {
			return true
		}
	}
	return false
}
