// Package driver runs the lowering pipeline over input files: decode,
// resolve, lower, annotate and render. Files are processed independently and
// in parallel; no slot, scope or allocator state is shared between them.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/orizon-lang/patlower/internal/build"
	"github.com/orizon-lang/patlower/internal/cli"
	"github.com/orizon-lang/patlower/internal/debug"
	"github.com/orizon-lang/patlower/internal/diagnostics"
	perrors "github.com/orizon-lang/patlower/internal/errors"
	"github.com/orizon-lang/patlower/internal/hir"
	"github.com/orizon-lang/patlower/internal/mir"
)

// Options configures a Driver.
type Options struct {
	Policy debug.ShadowPolicy
	// Jobs bounds the number of files lowered at once; <=0 means one.
	Jobs int
	// DWARF adds DWARF sections to the artifacts.
	DWARF bool
	// Cache, if set, stores artifacts of inputs that lower without
	// diagnostics.
	Cache  build.Cache
	Logger *cli.Logger
}

// Result is the outcome for one input file. Err reports a failure of the
// pipeline itself (unreadable file, malformed document); problems in the
// program are reported in Diagnostics.
type Result struct {
	Path        string
	Artifacts   build.Artifact
	Diagnostics diagnostics.List
	Cached      bool
	Elapsed     time.Duration
	Err         error
}

// Failed reports whether the file produced no usable output.
func (r Result) Failed() bool { return r.Err != nil || r.Diagnostics.HasErrors() }

// Driver lowers files. It is safe for concurrent use.
type Driver struct {
	opts   Options
	log    *cli.Logger
	flight singleflight.Group

	// newEmitter is replaced in tests for reproducible build ids.
	newEmitter func() *debug.Emitter
}

func New(opts Options) *Driver {
	if opts.Jobs <= 0 {
		opts.Jobs = 1
	}
	log := opts.Logger
	if log == nil {
		log = cli.Nop()
	}
	return &Driver{opts: opts, log: log, newEmitter: debug.NewEmitter}
}

// CompileFiles lowers every path with at most Options.Jobs files in flight.
// Results are in input order. Per-file failures are reported in the results;
// the returned error is non-nil only if ctx ends first.
func (d *Driver) CompileFiles(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Jobs)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = d.CompileFile(ctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// CompileFile lowers one file. Concurrent calls for the same path share one
// run.
func (d *Driver) CompileFile(ctx context.Context, path string) Result {
	v, _, _ := d.flight.Do(path, func() (interface{}, error) {
		src, err := os.ReadFile(path)
		if err != nil {
			return Result{Path: path, Err: perrors.Wrap(err, perrors.CategoryIO, "READ", "read "+path)}, nil
		}
		return d.CompileSource(ctx, path, src), nil
	})
	return v.(Result)
}

// CompileSource lowers an in-memory document named path.
func (d *Driver) CompileSource(ctx context.Context, path string, src []byte) (res Result) {
	start := time.Now()
	log := d.log.With("file", path)
	res.Path = path
	defer func() { res.Elapsed = time.Since(start) }()

	key := build.HashInput(src, filepath.ToSlash(path), d.opts.Policy.String(), fmt.Sprint(d.opts.DWARF), cli.Version)
	if d.opts.Cache != nil {
		art, ok, err := d.opts.Cache.Get(key)
		if err != nil {
			log.Warn("cache read failed: %v", err)
		} else if ok {
			log.Debug("cache hit")
			res.Artifacts, res.Cached = art, true
			return res
		}
	}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	log.Debug("lowering")
	art, diags, err := d.lower(path, src)
	res.Artifacts, res.Diagnostics, res.Err = art, diags, err
	switch {
	case err != nil:
		log.Error("%v", err)
	case diags.HasErrors():
		log.Warn("%d error(s)", diags.ErrorCount())
	default:
		log.Info("lowered %s function(s)", art.Metadata["functions"])
	}

	if d.opts.Cache != nil && err == nil && len(diags) == 0 {
		if err := d.opts.Cache.Put(key, art); err != nil {
			log.Warn("cache write failed: %v", err)
		}
	}
	return res
}

// lower runs the pipeline on one document.
func (d *Driver) lower(path string, src []byte) (build.Artifact, diagnostics.List, error) {
	m, err := hir.Decode(bytes.NewReader(src), path)
	if err != nil {
		return build.Artifact{}, nil, err
	}
	diags := hir.Resolve(m)
	if diags.HasErrors() {
		diags.Sort()
		return build.Artifact{}, diags, nil
	}

	mod, lowerDiags, err := mir.NewLowerer().LowerModule(m)
	diags.Append(lowerDiags)
	diags.Sort()
	if err != nil {
		return build.Artifact{}, diags, err
	}

	em := d.newEmitter()
	em.Policy = d.opts.Policy
	info, err := em.Emit(mod)
	if err != nil {
		return build.Artifact{}, diags, perrors.Wrap(err, perrors.CategoryInternal, "DEBUG_INFO", path)
	}

	art := build.Artifact{
		Files:    map[string][]byte{},
		Metadata: map[string]string{
			"build_id":  info.BuildID,
			"policy":    d.opts.Policy.String(),
			"functions": strconv.Itoa(len(mod.Functions)),
		},
	}
	art.Files[build.ArtifactMIR] = []byte(mod.String())

	var md bytes.Buffer
	if err := debug.RenderMetadata(&md, mod, info.Modules[0]); err != nil {
		return build.Artifact{}, diags, perrors.Wrap(err, perrors.CategoryInternal, "RENDER", path)
	}
	art.Files[build.ArtifactMetadata] = md.Bytes()

	js, err := debug.Serialize(info)
	if err != nil {
		return build.Artifact{}, diags, err
	}
	art.Files[build.ArtifactDebug] = js

	sm, err := debug.GenerateSourceMap(info)
	if err != nil {
		return build.Artifact{}, diags, err
	}
	smb, err := debug.SerializeSourceMap(sm)
	if err != nil {
		return build.Artifact{}, diags, err
	}
	art.Files[build.ArtifactSourceMap] = smb

	if d.opts.DWARF {
		secs, err := debug.BuildDWARF(info)
		if err != nil {
			return build.Artifact{}, diags, perrors.Wrap(err, perrors.CategoryInternal, "DWARF", path)
		}
		art.Files[build.ArtifactDWARF+"abbrev"] = secs.Abbrev
		art.Files[build.ArtifactDWARF+"info"] = secs.Info
		art.Files[build.ArtifactDWARF+"line"] = secs.Line
		art.Files[build.ArtifactDWARF+"str"] = secs.Str
	}
	return art, diags, nil
}
