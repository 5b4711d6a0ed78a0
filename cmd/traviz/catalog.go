package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Mr-Dark-debug/traviz/internal/catalog"
	"github.com/Mr-Dark-debug/traviz/internal/config"
	"github.com/Mr-Dark-debug/traviz/internal/database"
	"github.com/Mr-Dark-debug/traviz/internal/relations"
	"github.com/Mr-Dark-debug/traviz/pkg/timeutil"
)

// openStore opens the catalog database named by the config or --db flag.
func openStore(configPath, dbPath string) *database.DBService {
	cfg, logger := setup(configPath)
	defer logger.Sync()
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	store, err := database.NewDBService(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	return store
}

// catalogArgs parses the shared flags of the catalog commands. It returns
// the action and its positional argument.
func catalogArgs(command string) (action, arg string, store *database.DBService) {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: traviz %s <list|import|delete> [flags] [file|name]\n", command)
		os.Exit(1)
	}
	action = os.Args[2]

	fs := flag.NewFlagSet(command+" "+action, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dbPath := fs.String("db", "", "Path to catalog database (overrides config)")
	fs.Parse(os.Args[3:])

	switch action {
	case "list":
	case "import", "delete":
		if fs.NArg() != 1 {
			fmt.Fprintf(os.Stderr, "Usage: traviz %s %s [flags] <%s>\n", command, action,
				map[string]string{"import": "file", "delete": "name"}[action])
			os.Exit(1)
		}
		arg = fs.Arg(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown action: %s\n", action)
		os.Exit(1)
	}
	return action, arg, openStore(*configPath, *dbPath)
}

// cmdModes manages stored display modes.
func cmdModes() {
	action, arg, store := catalogArgs("modes")
	defer store.Close()

	switch action {
	case "list":
		defs, err := store.ListModes()
		if err != nil {
			log.Fatalf("Failed to list modes: %v", err)
		}
		if len(defs) == 0 {
			fmt.Println("No stored modes.")
			return
		}
		fmt.Printf("%-24s %-6s %-8s %s\n", "NAME", "RULES", "VERSION", "UPDATED")
		for _, d := range defs {
			fmt.Printf("%-24s %-6d %-8d %s\n", d.Name, len(d.Rules), d.Version, timeutil.RelativeTime(d.UpdatedAt))
		}
	case "import":
		data, err := os.ReadFile(arg)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", arg, err)
		}
		defs, err := database.DecodeModes(data)
		if err != nil {
			log.Fatalf("Failed to decode modes: %v", err)
		}
		for _, d := range defs {
			if err := store.SaveMode(d); err != nil {
				log.Fatalf("Failed to save mode %q: %v", d.Name, err)
			}
			fmt.Printf("Saved mode %s (%s)\n", d.Name, d.ID)
		}
	case "delete":
		if err := store.DeleteMode(arg); err != nil {
			log.Fatalf("Failed to delete mode %q: %v", arg, err)
		}
		fmt.Printf("Deleted mode %s\n", arg)
	}
}

// cmdFilters manages stored node filters.
func cmdFilters() {
	action, arg, store := catalogArgs("filters")
	defer store.Close()

	switch action {
	case "list":
		defs, err := store.ListFilters()
		if err != nil {
			log.Fatalf("Failed to list filters: %v", err)
		}
		if len(defs) == 0 {
			fmt.Println("No stored filters.")
			return
		}
		fmt.Printf("%-24s %-6s %-8s %s\n", "NAME", "RULES", "VERSION", "UPDATED")
		for _, d := range defs {
			fmt.Printf("%-24s %-6d %-8d %s\n", d.Name, len(d.Rules), d.Version, timeutil.RelativeTime(d.UpdatedAt))
		}
	case "import":
		data, err := os.ReadFile(arg)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", arg, err)
		}
		defs, err := database.DecodeFilters(data)
		if err != nil {
			log.Fatalf("Failed to decode filters: %v", err)
		}
		for _, d := range defs {
			if err := store.SaveFilter(d); err != nil {
				log.Fatalf("Failed to save filter %q: %v", d.Name, err)
			}
			fmt.Printf("Saved filter %s (%s)\n", d.Name, d.ID)
		}
	case "delete":
		if err := store.DeleteFilter(arg); err != nil {
			log.Fatalf("Failed to delete filter %q: %v", arg, err)
		}
		fmt.Printf("Deleted filter %s\n", arg)
	}
}

// cmdRecent lists recently opened trace files.
func cmdRecent() {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dbPath := fs.String("db", "", "Path to catalog database (overrides config)")
	limit := fs.Int("limit", 20, "Maximum number of files")
	fs.Parse(os.Args[2:])

	store := openStore(*configPath, *dbPath)
	defer store.Close()

	files, err := store.RecentFiles(*limit)
	if err != nil {
		log.Fatalf("Failed to list recent files: %v", err)
	}
	if len(files) == 0 {
		fmt.Println("No recent files.")
		return
	}
	fmt.Printf("%-12s %-8s %-6s %s\n", "OPENED", "SPANS", "OPENS", "PATH")
	for _, f := range files {
		fmt.Printf("%-12s %-8d %-6d %s\n", timeutil.RelativeTime(f.OpenedAt), f.SpanCount, f.OpenCount, f.Path)
	}
}

// assembleCatalog merges configuration with the catalog database, when one
// exists. The returned func closes the database.
func assembleCatalog(cfg *config.Config, logger *zap.Logger) (*catalog.Catalog, func()) {
	var src catalog.Source
	closeStore := func() {}
	if _, err := os.Stat(cfg.Storage.DBPath); err == nil {
		store, err := database.NewDBService(cfg.Storage.DBPath)
		if err != nil {
			log.Fatalf("Failed to open catalog: %v", err)
		}
		src = store
		closeStore = func() { store.Close() }
	}
	cat, err := catalog.Assemble(cfg, src, logger)
	if err != nil {
		closeStore()
		log.Fatalf("Failed to assemble catalog: %v", err)
	}
	return cat, closeStore
}

// cmdRelations manages stored span relations and finds relation
// instances in a trace file.
func cmdRelations() {
	if len(os.Args) >= 3 && os.Args[2] == "find" {
		findRelations()
		return
	}
	action, arg, store := catalogArgs("relations")
	defer store.Close()

	switch action {
	case "list":
		defs, err := store.ListRelations()
		if err != nil {
			log.Fatalf("Failed to list relations: %v", err)
		}
		if len(defs) == 0 {
			fmt.Println("No stored relations.")
			return
		}
		fmt.Printf("%-24s %-32s %-8s %s\n", "NAME", "FROM -> TO", "VERSION", "UPDATED")
		for _, d := range defs {
			ends := fmt.Sprintf("%s -> %s", d.From.Name.Value, d.To.Name.Value)
			fmt.Printf("%-24s %-32s %-8d %s\n", d.Name, ends, d.Version, timeutil.RelativeTime(d.UpdatedAt))
		}
	case "import":
		data, err := os.ReadFile(arg)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", arg, err)
		}
		defs, err := database.DecodeRelations(data)
		if err != nil {
			log.Fatalf("Failed to decode relations: %v", err)
		}
		for _, d := range defs {
			if err := store.SaveRelation(d); err != nil {
				log.Fatalf("Failed to save relation %q: %v", d.Name, err)
			}
			fmt.Printf("Saved relation %s (%s)\n", d.Name, d.ID)
		}
	case "delete":
		if err := store.DeleteRelation(arg); err != nil {
			log.Fatalf("Failed to delete relation %q: %v", arg, err)
		}
		fmt.Printf("Deleted relation %s\n", arg)
	}
}

// cmdRelationViews manages stored relation views.
func cmdRelationViews() {
	action, arg, store := catalogArgs("views")
	defer store.Close()

	switch action {
	case "list":
		defs, err := store.ListRelationViews()
		if err != nil {
			log.Fatalf("Failed to list relation views: %v", err)
		}
		if len(defs) == 0 {
			fmt.Println("No stored relation views.")
			return
		}
		fmt.Printf("%-24s %-8s %s\n", "NAME", "VERSION", "RELATIONS")
		for _, d := range defs {
			fmt.Printf("%-24s %-8d %s\n", d.Name, d.Version, strings.Join(d.Relations, ", "))
		}
	case "import":
		data, err := os.ReadFile(arg)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", arg, err)
		}
		defs, err := database.DecodeRelationViews(data)
		if err != nil {
			log.Fatalf("Failed to decode relation views: %v", err)
		}
		for _, d := range defs {
			if err := store.SaveRelationView(d); err != nil {
				log.Fatalf("Failed to save relation view %q: %v", d.Name, err)
			}
			fmt.Printf("Saved relation view %s (%s)\n", d.Name, d.ID)
		}
	case "delete":
		if err := store.DeleteRelationView(arg); err != nil {
			log.Fatalf("Failed to delete relation view %q: %v", arg, err)
		}
		fmt.Printf("Deleted relation view %s\n", arg)
	}
}

// findRelations prints the relation instances of one view over a trace
// file.
func findRelations() {
	fs := flag.NewFlagSet("relations find", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dbPath := fs.String("db", "", "Path to catalog database (overrides config)")
	file := fs.String("file", "", "Trace file (required)")
	view := fs.String("view", relations.AllRelationsView, "Relation view")
	outputFormat := fs.String("format", "text", "Output format: text, json")
	fs.Parse(os.Args[3:])

	cfg, logger := setup(*configPath)
	defer logger.Sync()
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}
	cat, closeStore := assembleCatalog(cfg, logger)
	defer closeStore()

	ctx, cancel := signalContext()
	defer cancel()
	rt := loadTrace(ctx, *file)

	found, err := cat.Relations.Find(rt, *view)
	if err != nil {
		var names []string
		for _, v := range cat.Relations.Views() {
			names = append(names, v.Name)
		}
		log.Fatalf("Error: %v (available: %s)", err, strings.Join(names, ", "))
	}

	switch *outputFormat {
	case "json":
		printJSON(found)
	case "text":
		if len(found) == 0 {
			fmt.Println("No relations found.")
			return
		}
		fmt.Printf("%-24s %-20s %-20s %s\n", "RELATION", "FROM", "TO", "DELAY")
		for _, in := range found {
			fmt.Printf("%-24s %-20s %-20s %s\n", in.Relation, in.From, in.To, timeutil.FormatNanos(int64(in.Delay)))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown format: %s\n", *outputFormat)
		os.Exit(1)
	}
}
