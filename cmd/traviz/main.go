// traviz CLI: headless trace inspection, rendering and catalog management.
//
// Usage:
//
//	traviz <command> [flags]
//
// Commands:
//
//	fetch     Retrieve a trace file from the collector
//	inspect   Print bounds, span counts and diagnostics of a trace file
//	render    Print a display mode's rows as an indented tree
//	analyze   Duration statistics and hotspots for a trace file
//	deps      Dependency links and delays between two span names
//	diff      Compare the attributes of two spans
//	convert   Rewrite a trace file as records JSON
//	modes     List, import or delete stored display modes
//	filters   List, import or delete stored node filters
//	relations List, import or delete stored relations, or find them in a trace
//	views     List, import or delete stored relation views
//	recent    List recently opened trace files
//	status    Show the viewer's status server snapshot
//	version   Print version information
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Mr-Dark-debug/traviz/internal/analysis"
	"github.com/Mr-Dark-debug/traviz/internal/collector"
	"github.com/Mr-Dark-debug/traviz/internal/config"
	"github.com/Mr-Dark-debug/traviz/internal/logging"
	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/session"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/internal/tracefile"
	"github.com/Mr-Dark-debug/traviz/pkg/jsonutil"
	"github.com/Mr-Dark-debug/traviz/pkg/timeutil"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "fetch":
		cmdFetch()
	case "inspect":
		cmdInspect()
	case "render":
		cmdRender()
	case "analyze":
		cmdAnalyze()
	case "deps":
		cmdDeps()
	case "diff":
		cmdDiff()
	case "convert":
		cmdConvert()
	case "modes":
		cmdModes()
	case "filters":
		cmdFilters()
	case "relations":
		cmdRelations()
	case "views":
		cmdRelationViews()
	case "recent":
		cmdRecent()
	case "status":
		cmdStatus()
	case "version":
		fmt.Printf("traviz v%s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`traviz - distributed trace viewer

Usage:
  traviz <command> [flags]

Commands:
  fetch      Retrieve a trace file from the collector
  inspect    Print bounds, span counts and diagnostics of a trace file
  render     Print a display mode's rows as an indented tree
  analyze    Duration statistics and hotspots for a trace file
  deps       Dependency links and delays between two span names
  diff       Compare the attributes of two spans
  convert    Rewrite a trace file as records JSON
  modes      List, import or delete stored display modes
  filters    List, import or delete stored node filters
  relations  List, import or delete stored relations, or find them in a trace
  views      List, import or delete stored relation views
  recent     List recently opened trace files
  status     Show the viewer's status server snapshot
  version    Print version information

Run 'traviz <command> --help' for details on each command.
Run 'traviz-tui' for the interactive viewer.`)
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// setup loads configuration and the logger shared by all commands.
func setup(configPath string) (*config.Config, *zap.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	return cfg, logger
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func loadTrace(ctx context.Context, path string) *trace.RawTrace {
	if path == "" {
		log.Fatal("Error: --file is required")
	}
	rt, err := tracefile.Load(ctx, path)
	if err != nil {
		log.Fatalf("Failed to load trace: %v", err)
	}
	return rt
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(b))
}

// cmdFetch posts a window and attribution filter to the collector and
// writes the returned trace file.
func cmdFetch() {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	url := fs.String("url", "", "Collector URL (overrides config)")
	from := fs.Int64("from", 0, "Window start, unix milliseconds (required)")
	to := fs.Int64("to", 0, "Window end, unix milliseconds (required)")
	out := fs.String("o", "-", "Output file, - for stdout")
	var nodes, threads stringList
	fs.Var(&nodes, "node", "Only spans of this node (repeatable)")
	fs.Var(&threads, "thread", "Only spans of this thread (repeatable)")
	fs.Parse(os.Args[2:])

	if *from == 0 || *to <= *from {
		fmt.Fprintln(os.Stderr, "Error: --from and --to are required and --to must be after --from")
		fs.Usage()
		os.Exit(1)
	}

	cfg, logger := setup(*configPath)
	defer logger.Sync()
	if *url != "" {
		cfg.Collector.URL = *url
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := collector.NewClient(cfg.Collector.URL, cfg.Collector.GetTimeoutDuration(), logger)
	data, err := client.Fetch(ctx, collector.Query{
		Window: trace.Window{Start: trace.FromMillis(*from), End: trace.FromMillis(*to)},
		Filter: modes.AttributionSet{Nodes: nodes, Threads: threads},
	})
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}

	if *out == "-" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d bytes to %s\n", len(data), *out)
}

// inspectReport is the output of `traviz inspect`.
type inspectReport struct {
	File        string             `json:"file"`
	Start       string             `json:"start"`
	End         string             `json:"end"`
	Duration    string             `json:"duration"`
	Spans       int                `json:"spans"`
	Roots       int                `json:"roots"`
	Open        int                `json:"open"`
	Orphans     int                `json:"orphans"`
	Nodes       map[string]int     `json:"nodes"`
	Diagnostics []trace.Diagnostic `json:"diagnostics"`
}

// cmdInspect prints a summary of a trace file.
func cmdInspect() {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	file := fs.String("file", "", "Trace file (required)")
	outputFormat := fs.String("format", "text", "Output format: text, json")
	fs.Parse(os.Args[2:])

	ctx, cancel := signalContext()
	defer cancel()
	rt := loadTrace(ctx, *file)

	b := rt.Bounds()
	report := inspectReport{
		File:        *file,
		Start:       timeutil.FormatTimestampFull(int64(b.Start)),
		End:         timeutil.FormatTimestampFull(int64(b.End)),
		Duration:    timeutil.FormatNanos(int64(b.Width())),
		Spans:       rt.Len(),
		Roots:       len(rt.Roots()),
		Nodes:       make(map[string]int),
		Diagnostics: rt.Diagnostics(),
	}
	for _, s := range rt.Spans() {
		report.Nodes[s.Node]++
		if s.Open {
			report.Open++
		}
		if s.Orphan {
			report.Orphans++
		}
	}

	switch *outputFormat {
	case "json":
		printJSON(report)
	case "text":
		fmt.Printf("File:      %s\n", report.File)
		fmt.Printf("Bounds:    %s .. %s (%s)\n", report.Start, report.End, report.Duration)
		fmt.Printf("Spans:     %d (%d roots, %d open, %d orphans)\n", report.Spans, report.Roots, report.Open, report.Orphans)
		nodes := make([]string, 0, len(report.Nodes))
		for n := range report.Nodes {
			nodes = append(nodes, n)
		}
		sort.Strings(nodes)
		for _, n := range nodes {
			fmt.Printf("  %-24s %d\n", n, report.Nodes[n])
		}
		fmt.Printf("Diagnostics: %d\n", len(report.Diagnostics))
		for _, d := range report.Diagnostics {
			fmt.Printf("  %s\n", d)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown format: %s\n", *outputFormat)
		os.Exit(1)
	}
}

// cmdRender evaluates a display mode over a window and prints its rows.
func cmdRender() {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dbPath := fs.String("db", "", "Path to catalog database (overrides config)")
	file := fs.String("file", "", "Trace file (required)")
	modeName := fs.String("mode", "", "Display mode (default from config)")
	filterName := fs.String("filter", "", "Node filter for filtered modes")
	from := fs.Int64("from", 0, "Window start, nanoseconds (default: trace start)")
	to := fs.Int64("to", 0, "Window end, nanoseconds (default: trace end)")
	fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath)
	defer logger.Sync()
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}

	cat, closeStore := assembleCatalog(cfg, logger)
	defer closeStore()
	sess, err := session.New(cat.SessionOptions(cfg, logger, nil))
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	defer sess.Close()

	if *modeName != "" {
		if err := sess.SetMode(*modeName); err != nil {
			log.Fatalf("Error: %v (available: %s)", err, strings.Join(cat.Registry.Names(), ", "))
		}
	}
	if *filterName != "" {
		if err := sess.SetFilter(*filterName); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	if *file == "" {
		log.Fatal("Error: --file is required")
	}
	path := *file
	if err := sess.Load(ctx, path, func(ctx context.Context) (*trace.RawTrace, error) {
		return tracefile.Load(ctx, path)
	}); err != nil {
		log.Fatalf("Failed to load trace: %v", err)
	}

	w := sess.Viewport().Bounds()
	if *from != 0 {
		w.Start = trace.Time(*from)
	}
	if *to != 0 {
		w.End = trace.Time(*to)
	}
	sess.Viewport().SetWindow(w)

	frame := sess.Frame()
	fmt.Printf("# %s, filter %s, window %s\n", frame.Mode, frame.Filter, frame.Window)
	fmt.Print(modes.Outline(frame.Rows))
	for _, d := range frame.Diagnostics {
		fmt.Fprintf(os.Stderr, "diagnostic: %s\n", d)
	}
}

// cmdAnalyze runs the analysis suite on a trace file and outputs a report.
func cmdAnalyze() {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	file := fs.String("file", "", "Trace file (required)")
	spanName := fs.String("span", "", "Span name to analyze")
	attrs := fs.String("attr", "", "Attribute filter, e.g. 'shard_id=2,cached'")
	outputFormat := fs.String("format", "markdown", "Output format: markdown, json")
	fs.Parse(os.Args[2:])

	ctx, cancel := signalContext()
	defer cancel()
	rt := loadTrace(ctx, *file)

	analyzer := analysis.NewAnalyzer(rt)
	if *spanName == "" {
		fmt.Fprintf(os.Stderr, "No --span given. Span names in this trace: %s\n\n",
			strings.Join(analyzer.SpanNames(), ", "))
	}
	report := analyzer.FullAnalysis(analysis.SpanQuery{Name: *spanName, AttributeFilter: *attrs})

	switch *outputFormat {
	case "json":
		printJSON(report)
	case "markdown":
		fmt.Print(analysis.FormatReport(report))
	default:
		fmt.Fprintf(os.Stderr, "Unknown format: %s\n", *outputFormat)
		os.Exit(1)
	}
}

// cmdDeps forms dependency links between two span names and reports the
// delays per node.
func cmdDeps() {
	fs := flag.NewFlagSet("deps", flag.ExitOnError)
	file := fs.String("file", "", "Trace file (required)")
	describe := fs.String("describe", "", "Full query, e.g. \"'a' -> 'b' (cardinality: 1_to_n, threshold: 2)\"")
	source := fs.String("source", "", "Source span name")
	target := fs.String("target", "", "Target span name")
	threshold := fs.Int("threshold", 1, "Spans of the many side per link")
	var linking stringList
	fs.Var(&linking, "link", "Attribute that must match on both ends (repeatable)")
	groupBy := fs.String("group-by", "", "String attribute splitting the many side into groups")
	scope := fs.String("scope", string(analysis.SameNode), "Where the other side may live: self, all_nodes")
	timing := fs.String("timing", string(analysis.EarliestFirst), "earliest_first or latest_first")
	aggregation := fs.String("aggregation", string(analysis.FirstCompletedGroup),
		"first_completed_group or wait_for_last_group")
	cardinality := fs.String("cardinality", string(analysis.NToOne), "n_to_1 or 1_to_n")
	outputFormat := fs.String("format", "markdown", "Output format: markdown, json")
	fs.Parse(os.Args[2:])

	q := analysis.DependencyQuery{
		Source:            *source,
		Target:            *target,
		Threshold:         *threshold,
		LinkingAttributes: linking,
		GroupBy:           *groupBy,
		Scope:             analysis.SourceScope(*scope),
		Timing:            analysis.TimingStrategy(*timing),
		Aggregation:       analysis.GroupAggregation(*aggregation),
		Cardinality:       analysis.Cardinality(*cardinality),
	}
	if *describe != "" {
		parsed, err := analysis.ParseDependencyQuery(*describe)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		q = parsed
	}
	if q.Source == "" || q.Target == "" {
		fmt.Fprintln(os.Stderr, "Error: --source and --target (or --describe) are required")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt := loadTrace(ctx, *file)

	report, err := analysis.NewAnalyzer(rt).AnalyzeDependency(q)
	if err != nil {
		log.Fatalf("Dependency analysis failed: %v", err)
	}
	switch *outputFormat {
	case "json":
		printJSON(report)
	case "markdown":
		fmt.Print(analysis.FormatDependencyReport(report))
	default:
		fmt.Fprintf(os.Stderr, "Unknown format: %s\n", *outputFormat)
		os.Exit(1)
	}
}

// cmdDiff compares the attributes of two spans of one trace file.
func cmdDiff() {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	file := fs.String("file", "", "Trace file (required)")
	a := fs.String("a", "", "First span id (required)")
	b := fs.String("b", "", "Second span id (required)")
	fs.Parse(os.Args[2:])

	if *a == "" || *b == "" {
		fmt.Fprintln(os.Stderr, "Error: --a and --b are required")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt := loadTrace(ctx, *file)

	lookup := func(id string) *trace.Span {
		sp, ok := rt.Span(id)
		if !ok {
			log.Fatalf("Span %q not found", id)
		}
		return sp
	}
	changes := diffSpans(lookup(*a), lookup(*b))
	if len(changes) == 0 {
		fmt.Println("No differences.")
		return
	}
	for _, c := range changes {
		fmt.Println(c)
	}
}

// diffSpans compares name, node, duration and attributes of two spans.
// Attributes holding a JSON object on both sides are compared key by key.
func diffSpans(a, b *trace.Span) []jsonutil.Change {
	isObject := func(v trace.Value) bool {
		text := strings.TrimSpace(v.Text())
		return strings.HasPrefix(text, "{") && jsonutil.IsDocument(text)
	}
	fields := func(sp *trace.Span, skip map[string]bool) map[string]interface{} {
		m := make(map[string]interface{}, len(sp.Attributes)+3)
		for k, v := range sp.Attributes {
			if !skip[k] {
				m[k] = v.Text()
			}
		}
		m["name"] = sp.Name
		m["node"] = sp.Node
		m["duration"] = timeutil.FormatNanos(int64(sp.Duration()))
		return m
	}

	documents := make(map[string]bool)
	for k, va := range a.Attributes {
		if vb, ok := b.Attributes[k]; ok && isObject(va) && isObject(vb) {
			documents[k] = true
		}
	}

	changes := jsonutil.Diff(fields(a, documents), fields(b, documents))
	for k := range documents {
		sub, err := jsonutil.DiffJSON(a.Attributes[k].Text(), b.Attributes[k].Text())
		if err != nil {
			log.Fatalf("Failed to compare attribute %s: %v", k, err)
		}
		for _, c := range sub {
			c.Path = k + "." + c.Path
			changes = append(changes, c)
		}
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// cmdConvert decodes any supported trace file and writes records JSON.
func cmdConvert() {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	file := fs.String("file", "", "Input trace file (required)")
	out := fs.String("o", "-", "Output file, - for stdout")
	compact := fs.Bool("compact", false, "Write minified JSON")
	fs.Parse(os.Args[2:])

	if *file == "" {
		log.Fatal("Error: --file is required")
	}
	ctx, cancel := signalContext()
	defer cancel()

	records, err := tracefile.ReadFile(ctx, *file)
	if err != nil {
		log.Fatalf("Failed to read trace: %v", err)
	}
	data, err := tracefile.EncodeRecords(records)
	if err != nil {
		log.Fatalf("Failed to encode records: %v", err)
	}
	if *compact {
		data = []byte(jsonutil.CompactJSON(string(data)))
	}
	if *out == "-" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}
}

// cmdStatus shows the viewer's session by querying its status server.
func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	addr := fs.String("addr", "", "Status server address (default from config)")
	fs.Parse(os.Args[2:])

	if *addr == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		*addr = cfg.Metrics.Addr
	}
	if *addr == "" {
		fmt.Println("No status server configured. Start traviz-tui with --metrics <addr>.")
		os.Exit(1)
	}

	url := fmt.Sprintf("http://%s/api/session", *addr)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("traviz-tui is not running.")
		fmt.Printf("  (tried: %s)\n", url)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var sum session.Summary
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sum); err != nil {
		log.Fatalf("Failed to decode session: %v", err)
	}

	fmt.Println("traviz-tui is running.")
	fmt.Println()
	if sum.Source == "" {
		fmt.Println("  No trace loaded.")
	} else {
		fmt.Printf("  Source:       %s\n", sum.Source)
		fmt.Printf("  Spans:        %d\n", sum.Spans)
		fmt.Printf("  Diagnostics:  %d\n", sum.Diagnostics)
		fmt.Printf("  Window:       %s of %s\n",
			timeutil.FormatNanos(int64(sum.Window.Width())), timeutil.FormatNanos(int64(sum.Bounds.Width())))
		if sum.LoadedAt != nil {
			fmt.Printf("  Loaded:       %s\n", timeutil.RelativeTime(sum.LoadedAt.UnixNano()))
		}
	}
	fmt.Printf("  Mode:         %s\n", sum.Mode)
	fmt.Printf("  Node filter:  %s\n", sum.Filter)
	fmt.Printf("  Loading:      %v\n", sum.Loading)
}
