// Command meshlog views and analyzes protocol log files written by
// meshnode's -protocol-log flag.
//
// Usage:
//
//	meshlog <command> [flags] <file.blog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON lines
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	meshlog view demo.blog
//
//	# View only network-layer inbound events
//	meshlog view -layer network -direction in demo.blog
//
//	# Export to JSONL
//	meshlog export -o demo.jsonl demo.blog
//
//	# Show statistics
//	meshlog stats demo.blog
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/btmesh-protocol/btmesh-go/pkg/log"
)

const usage = `meshlog - mesh protocol log analyzer

Usage:
  meshlog <command> [flags] <file.blog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON lines
  stats    Show statistics about the log file

Use "meshlog <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func parseLayer(s string) (log.Layer, error) {
	layers := map[string]log.Layer{
		"bearer":  log.LayerBearer,
		"network": log.LayerNetwork,
		"lower":   log.LayerLower,
		"upper":   log.LayerUpper,
		"access":  log.LayerAccess,
		"driver":  log.LayerDriver,
	}
	layer, ok := layers[s]
	if !ok {
		return 0, fmt.Errorf("unknown layer %q", s)
	}
	return layer, nil
}

func parseDirection(s string) (log.Direction, error) {
	switch s {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

func parseCategory(s string) (log.Category, error) {
	categories := map[string]log.Category{
		"message": log.CategoryMessage,
		"beacon":  log.CategoryBeacon,
		"state":   log.CategoryState,
		"error":   log.CategoryError,
	}
	category, ok := categories[s]
	if !ok {
		return 0, fmt.Errorf("unknown category %q", s)
	}
	return category, nil
}

// buildFilter translates the shared view/export flags into a log.Filter.
func buildFilter(layer, direction, category string) (log.Filter, error) {
	var filter log.Filter
	if layer != "" {
		l, err := parseLayer(layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if direction != "" {
		d, err := parseDirection(direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if category != "" {
		c, err := parseCategory(category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	return filter, nil
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	layer := fs.String("layer", "", "Filter by layer (bearer, network, lower, upper, access, driver)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, beacon, state, error)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		os.Exit(1)
	}

	filter, err := buildFilter(*layer, *direction, *category)
	if err != nil {
		fatal(err)
	}
	reader, err := log.NewFilteredReader(fs.Arg(0), filter)
	if err != nil {
		fatal(err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			fatal(err)
		}
		fmt.Println(formatEvent(event))
	}
}

// formatEvent renders one event as a single line.
func formatEvent(event log.Event) string {
	line := fmt.Sprintf("%s %-3s %-7s %-7s",
		event.Timestamp.Format("15:04:05.000"),
		event.Direction, event.Layer, event.Category)
	if event.Src != 0 || event.Dst != 0 {
		line += fmt.Sprintf(" %#04x->%#04x", event.Src, event.Dst)
	}
	if event.Seq != 0 {
		line += fmt.Sprintf(" seq=%d", event.Seq)
	}
	switch {
	case event.Frame != nil:
		line += fmt.Sprintf(" frame kind=%#02x size=%d", event.Frame.Kind, event.Frame.Size)
	case event.PDU != nil:
		line += fmt.Sprintf(" pdu ttl=%d", event.PDU.TTL)
		if len(event.PDU.Opcode) > 0 {
			line += fmt.Sprintf(" opcode=%x", event.PDU.Opcode)
		}
		if event.PDU.Segmented {
			line += " segmented"
		}
		if event.PDU.Relayed {
			line += " relayed"
		}
	case event.StateChange != nil:
		line += fmt.Sprintf(" %s: %s", event.StateChange.Entity, event.StateChange.NewState)
		if event.StateChange.Reason != "" {
			line += fmt.Sprintf(" (%s)", event.StateChange.Reason)
		}
	case event.Error != nil:
		line += fmt.Sprintf(" error: %s", event.Error.Message)
		if event.Error.Context != "" {
			line += fmt.Sprintf(" (%s)", event.Error.Context)
		}
	}
	return line
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.String("o", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		os.Exit(1)
	}

	reader, err := log.NewReader(fs.Arg(0))
	if err != nil {
		fatal(err)
	}
	defer reader.Close()

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fatal(err)
		}
		defer f.Close()
		out = f
	}

	encoder := json.NewEncoder(out)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			fatal(err)
		}
		if err := encoder.Encode(event); err != nil {
			fatal(err)
		}
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		os.Exit(1)
	}

	reader, err := log.NewReader(fs.Arg(0))
	if err != nil {
		fatal(err)
	}
	defer reader.Close()

	var (
		total      int
		first      time.Time
		last       time.Time
		byLayer    = map[string]int{}
		byCategory = map[string]int{}
	)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fatal(err)
		}
		total++
		if first.IsZero() || event.Timestamp.Before(first) {
			first = event.Timestamp
		}
		if event.Timestamp.After(last) {
			last = event.Timestamp
		}
		byLayer[event.Layer.String()]++
		byCategory[event.Category.String()]++
	}

	fmt.Printf("Events:    %d\n", total)
	if total > 0 {
		fmt.Printf("Time span: %s .. %s (%s)\n",
			first.Format(time.RFC3339), last.Format(time.RFC3339),
			last.Sub(first).Round(time.Millisecond))
	}
	printCounts("By layer", byLayer)
	printCounts("By category", byCategory)
}

func printCounts(title string, counts map[string]int) {
	fmt.Printf("%s:\n", title)
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %d\n", name, counts[name])
	}
}
