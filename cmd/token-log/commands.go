package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/zzerding/xiaomi-token-web/pkg/log"
)

// readEvents streams all events of a log file into fn. A truncated final
// record is tolerated: a crashed process may have been cut off mid-write.
func readEvents(path string, fn func(log.Event)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := log.NewDecoder(f)
	for {
		var event log.Event
		if err := dec.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("decoding event: %w", err)
		}
		fn(event)
	}
}

// cmdView prints events in human-readable form.
func cmdView(args []string) error {
	var categoryName, step, sessionID string
	path, err := parseArgs("view", args, func(fs *flag.FlagSet) {
		fs.StringVar(&categoryName, "category", "", "Only show events of this category: EXCHANGE, STATE, ERROR")
		fs.StringVar(&step, "step", "", "Only show events of this protocol step")
		fs.StringVar(&sessionID, "session", "", "Only show events of this session id")
	})
	if err != nil {
		return err
	}

	return readEvents(path, func(event log.Event) {
		if categoryName != "" && event.Category.String() != strings.ToUpper(categoryName) {
			return
		}
		if step != "" && event.Step != step {
			return
		}
		if sessionID != "" && event.SessionID != sessionID {
			return
		}
		formatEvent(os.Stdout, event)
	})
}

// formatEvent writes one event as a header line plus indented details.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	session := event.SessionID
	if len(session) > 8 {
		session = session[:8]
	}

	fmt.Fprintf(w, "%s [%s] %-8s %s\n", ts, session, event.Category, event.Step)

	switch {
	case event.Exchange != nil:
		channel := ""
		if event.Exchange.Encrypted {
			channel = " (encrypted)"
		}
		fmt.Fprintf(w, "  %s %s -> %d%s\n",
			event.Exchange.Method, event.Exchange.URL, event.Exchange.Status, channel)
	case event.StateChange != nil:
		reason := ""
		if event.StateChange.Reason != "" {
			reason = " (" + event.StateChange.Reason + ")"
		}
		fmt.Fprintf(w, "  %s -> %s%s\n",
			event.StateChange.OldState, event.StateChange.NewState, reason)
	case event.Error != nil:
		fmt.Fprintf(w, "  %s: %s\n", event.Error.Context, event.Error.Message)
	}
}

// cmdExport writes events as JSON lines to stdout.
func cmdExport(args []string) error {
	path, err := parseArgs("export", args, nil)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	var encodeErr error
	err = readEvents(path, func(event log.Event) {
		if encodeErr == nil {
			encodeErr = enc.Encode(event)
		}
	})
	if err != nil {
		return err
	}
	return encodeErr
}

// logStats aggregates per-file statistics.
type logStats struct {
	total      int
	categories map[string]int
	steps      map[string]int
	sessions   map[string]bool
	errors     int
	statuses   map[int]int
}

// cmdStats prints statistics about a log file.
func cmdStats(args []string) error {
	path, err := parseArgs("stats", args, nil)
	if err != nil {
		return err
	}

	stats := logStats{
		categories: map[string]int{},
		steps:      map[string]int{},
		sessions:   map[string]bool{},
		statuses:   map[int]int{},
	}
	err = readEvents(path, func(event log.Event) {
		stats.total++
		stats.categories[event.Category.String()]++
		if event.Step != "" {
			stats.steps[event.Step]++
		}
		if event.SessionID != "" {
			stats.sessions[event.SessionID] = true
		}
		if event.Error != nil {
			stats.errors++
		}
		if event.Exchange != nil {
			stats.statuses[event.Exchange.Status]++
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("Events:   %d\n", stats.total)
	fmt.Printf("Sessions: %d\n", len(stats.sessions))
	fmt.Printf("Errors:   %d\n", stats.errors)

	fmt.Println("\nBy category:")
	for _, k := range sortedKeys(stats.categories) {
		fmt.Printf("  %-10s %d\n", k, stats.categories[k])
	}

	fmt.Println("\nBy step:")
	for _, k := range sortedKeys(stats.steps) {
		fmt.Printf("  %-16s %d\n", k, stats.steps[k])
	}

	if len(stats.statuses) > 0 {
		fmt.Println("\nHTTP statuses:")
		codes := make([]int, 0, len(stats.statuses))
		for c := range stats.statuses {
			codes = append(codes, c)
		}
		sort.Ints(codes)
		for _, c := range codes {
			label := fmt.Sprintf("%d", c)
			if c == 0 {
				label = "failed"
			}
			fmt.Printf("  %-7s %d\n", label, stats.statuses[c])
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
