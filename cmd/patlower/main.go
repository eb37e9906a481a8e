// Command patlower lowers pattern-matching switches in interchange documents
// to MIR with debug scopes and variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/orizon-lang/patlower/internal/build"
	"github.com/orizon-lang/patlower/internal/cli"
	"github.com/orizon-lang/patlower/internal/config"
	"github.com/orizon-lang/patlower/internal/diagnostics"
	"github.com/orizon-lang/patlower/internal/driver"
	"github.com/orizon-lang/patlower/internal/position"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("patlower", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		showVersion = fs.Bool("version", false, "show version information")
		jsonOutput  = fs.Bool("json", false, "print version information as JSON")
		configFile  = fs.String("config", config.DefaultFile, "configuration file")
		watch       = fs.Bool("watch", false, "re-lower inputs when they change")

		jobs      = fs.Int("jobs", 0, "files lowered in parallel")
		policy    = fs.String("shadow-policy", "", "debug variables for pattern bindings: per-name|per-clause")
		outDir    = fs.String("out-dir", "", "write artifacts to this directory instead of stdout")
		emitMIR   = fs.Bool("emit-mir", false, "emit MIR")
		emitMeta  = fs.Bool("emit-metadata", false, "emit LLVM-style debug metadata")
		emitJSON  = fs.Bool("emit-debug-json", false, "emit the debug info side-table as JSON")
		emitDWARF = fs.Bool("emit-dwarf", false, "emit DWARF sections (requires -out-dir)")
		emitSM    = fs.Bool("emit-sourcemap", false, "emit a source map")
		cacheKind = fs.String("cache", "", "artifact cache: none|memory|sqlite")
		cachePath = fs.String("cache-path", "", "sqlite cache database")
		logLevel  = fs.String("log-level", "", "debug|info|warn|error|disabled")
		logFormat = fs.String("log-format", "", "console|json")
		color     = fs.String("color", "", "auto|always|never")
	)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: patlower [OPTIONS] <INPUT>...\n\n")
		fmt.Fprintf(stderr, "Lowers pattern-matching switches to MIR with debug scopes.\n\nOPTIONS:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nEnvironment: PATLOWER_JOBS, PATLOWER_SHADOW_POLICY, PATLOWER_CACHE, PATLOWER_CACHE_PATH,\n")
		fmt.Fprintf(stderr, "PATLOWER_OUT_DIR, PATLOWER_LOG_LEVEL, PATLOWER_LOG_FORMAT, PATLOWER_COLOR, PATLOWER_WATCH_DEBOUNCE\n")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		cli.PrintVersion(stdout, "patlower", *jsonOutput)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	cfg, err := config.Load(*configFile, !explicit["config"])
	if err == nil {
		err = cfg.ApplyEnv(os.Getenv)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if explicit["jobs"] {
		cfg.Jobs = *jobs
	}
	if explicit["shadow-policy"] {
		cfg.ShadowPolicy = *policy
	}
	if explicit["out-dir"] {
		cfg.Emit.OutDir = *outDir
	}
	if explicit["emit-mir"] || explicit["emit-metadata"] || explicit["emit-debug-json"] ||
		explicit["emit-dwarf"] || explicit["emit-sourcemap"] {
		cfg.Emit.MIR, cfg.Emit.Metadata, cfg.Emit.DebugJSON = *emitMIR, *emitMeta, *emitJSON
		cfg.Emit.DWARF, cfg.Emit.SourceMap = *emitDWARF, *emitSM
	}
	if explicit["cache"] {
		cfg.Cache.Kind = *cacheKind
	}
	if explicit["cache-path"] {
		cfg.Cache.Path = *cachePath
	}
	if explicit["log-level"] {
		cfg.Log.Level = *logLevel
	}
	if explicit["log-format"] {
		cfg.Log.Format = *logFormat
	}
	if explicit["color"] {
		cfg.Color = *color
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if cfg.Emit.DWARF && cfg.Emit.OutDir == "" {
		fmt.Fprintln(stderr, "Error: -emit-dwarf requires -out-dir")
		return 2
	}

	log, err := cli.NewLogger(stderr, cli.LogOptions{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	pol, _ := cfg.Policy()

	var cache build.Cache
	switch cfg.Cache.Kind {
	case "memory":
		cache = build.NewInMemoryLRUCache(cfg.Cache.Entries)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		sc, err := build.OpenSQLiteCache(cfg.Cache.Path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer sc.Close()
		cache = sc
	}

	d := driver.New(driver.Options{
		Policy: pol,
		Jobs:   cfg.Jobs,
		DWARF:  cfg.Emit.DWARF,
		Cache:  cache,
		Logger: log,
	})
	useColor := cfg.Color == "always" || (cfg.Color == "auto" && cli.IsTerminal(stderr))
	report := func(r driver.Result) bool {
		return reportResult(r, cfg, stdout, stderr, useColor)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watch {
		if err := d.Watch(ctx, fs.Args(), cfg.Watch.Debounce, func(r driver.Result) { report(r) }); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	results, err := d.CompileFiles(ctx, fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	status := 0
	for _, r := range results {
		if !report(r) {
			status = 1
		}
	}
	return status
}

// originalSources loads the source files the diagnostics of r point into.
// Positions refer to the program the interchange document was produced from,
// named by its file field and resolved against the document's directory. A
// position in the document itself carries no readable source, so it gets no
// excerpt.
func originalSources(r driver.Result) *position.SourceMap {
	sm := position.NewSourceMap()
	for _, d := range r.Diagnostics {
		name := d.Span.Start.Filename
		if name == "" || name == r.Path || sm.GetFile(name) != nil {
			continue
		}
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(r.Path), p)
		}
		if src, err := os.ReadFile(p); err == nil {
			sm.AddFile(name, string(src))
		}
	}
	return sm
}

// reportResult prints diagnostics and writes the selected artifacts of r. It
// returns false if the file failed.
func reportResult(r driver.Result, cfg *config.Config, stdout, stderr io.Writer, color bool) bool {
	if r.Err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", r.Err)
		return false
	}
	if len(r.Diagnostics) > 0 {
		diagnostics.Render(stderr, r.Diagnostics, originalSources(r), color)
	}
	if r.Diagnostics.HasErrors() {
		return false
	}

	var names []string
	if cfg.Emit.MIR {
		names = append(names, build.ArtifactMIR)
	}
	if cfg.Emit.Metadata {
		names = append(names, build.ArtifactMetadata)
	}
	if cfg.Emit.DebugJSON {
		names = append(names, build.ArtifactDebug)
	}
	if cfg.Emit.SourceMap {
		names = append(names, build.ArtifactSourceMap)
	}
	if cfg.Emit.DWARF {
		var sections []string
		for name := range r.Artifacts.Files {
			if strings.HasPrefix(name, build.ArtifactDWARF) {
				sections = append(sections, name)
			}
		}
		sort.Strings(sections)
		names = append(names, sections...)
	}

	base := strings.TrimSuffix(filepath.Base(r.Path), filepath.Ext(r.Path))
	for _, name := range names {
		data := r.Artifacts.Files[name]
		if cfg.Emit.OutDir == "" {
			stdout.Write(data)
			continue
		}
		if err := os.MkdirAll(cfg.Emit.OutDir, 0o755); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return false
		}
		if err := os.WriteFile(filepath.Join(cfg.Emit.OutDir, base+"."+name), data, 0o644); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return false
		}
	}
	return true
}
