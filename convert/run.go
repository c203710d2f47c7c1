// Package convert implements program subcommands: it reads HTML document,
// resolves its images and either reports placements or renders document
// with embedded images.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"

	"imgspan/cache"
	"imgspan/config"
	"imgspan/loader"
	"imgspan/markup"
	"imgspan/render"
	"imgspan/richtext"
	"imgspan/spanner"
	"imgspan/state"
)

// Resolve is "resolve" subcommand action: it builds rich text from SOURCE
// and prints resolved image placements.
func Resolve(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("resolve")

	src, err := sourceArg(cmd, 1, log)
	if err != nil {
		return err
	}
	if err := prepareEnv(ctx, cmd, log); err != nil {
		return err
	}

	log.Info("Processing starting", zap.String("source", src))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return resolve(ctx, src, cmd.Root().Writer, log)
}

// Render is "render" subcommand action: it builds rich text from SOURCE and
// writes it as XHTML document to DESTINATION.
func Render(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("render")

	src, err := sourceArg(cmd, 2, log)
	if err != nil {
		return err
	}
	if err := prepareEnv(ctx, cmd, log); err != nil {
		return err
	}
	env.Overwrite = cmd.Bool("overwrite")

	dst, err := outputPath(src, cmd.Args().Get(1), &env.Cfg.Render, log)
	if err != nil {
		return err
	}

	log.Info("Processing starting", zap.String("source", src), zap.String("destination", dst))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return renderDocument(ctx, src, dst, log)
}

func sourceArg(cmd *cli.Command, maxArgs int, log *zap.Logger) (string, error) {
	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return "", errors.New("no input source has been specified")
	}
	if cmd.Args().Len() > maxArgs {
		log.Warn("Malformed command line, too many arguments", zap.Strings("ignoring", cmd.Args().Slice()[maxArgs:]))
	}
	return absLocator(src)
}

// prepareEnv moves command options shared by subcommands into environment.
func prepareEnv(ctx context.Context, cmd *cli.Command, log *zap.Logger) (err error) {
	env := state.EnvFromContext(ctx)

	if base := cmd.String("base"); len(base) > 0 {
		if env.Base, err = absLocator(base); err != nil {
			return err
		}
	}

	// document may declare wrong encoding or none at all
	cp := cmd.String("charset")
	if len(cp) > 0 {
		env.CodePage, err = markup.EncodingByName(cp)
		if err != nil {
			log.Warn("Unknown character set specification. Ignoring...", zap.String("charset", cp), zap.Error(err))
			env.CodePage = nil
		} else {
			n, _ := ianaindex.IANA.Name(env.CodePage)
			log.Debug("Forcing document encoding", zap.String("charset", n))
		}
	}
	return nil
}

// absLocator makes local paths absolute, URLs are returned unchanged.
func absLocator(locator string) (string, error) {
	if u, err := url.Parse(locator); err == nil && len(u.Scheme) > 1 {
		return locator, nil
	}
	abs, err := filepath.Abs(locator)
	if err != nil {
		return "", fmt.Errorf("unable to use %q: %w", locator, err)
	}
	return abs, nil
}

// outputPath returns name of the document to produce. Empty dst means
// current directory, existing directory gets file named by the configured
// template or after the source, with extension of the configured container.
func outputPath(src, dst string, cfg *config.RenderConfig, log *zap.Logger) (string, error) {
	var err error
	dir := strings.HasSuffix(dst, "/") || strings.HasSuffix(dst, string(filepath.Separator))
	if len(dst) == 0 {
		if dst, err = os.Getwd(); err != nil {
			return "", fmt.Errorf("unable to get working directory: %w", err)
		}
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return "", err
	}
	if fi, err := os.Stat(dst); err == nil && fi.IsDir() {
		dir = true
	}
	if dir {
		name, err := outputName(src, cfg)
		if err != nil {
			log.Warn("Unable to prepare output filename", zap.Error(err))
			name = cleanPathSegment(documentName(src), cfg)
		}
		if len(name) == 0 {
			name = "document"
		}
		return filepath.Join(dst, name+"."+cfg.Container), nil
	}
	return dst, nil
}

// documentName returns source file name without extension.
func documentName(src string) string {
	name := src
	if u, err := url.Parse(src); err == nil && len(u.Scheme) > 1 {
		name = u.Path
	}
	if i := strings.LastIndexByte(name, '#'); i >= 0 {
		// entry inside archive
		name = name[i+1:]
	}
	name = path.Base(strings.TrimRight(filepath.ToSlash(name), "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

// session holds components taking part in processing single document.
type session struct {
	loader  *loader.Loader
	handler *spanner.Handler
	log     *zap.Logger
}

func newSession(env *state.LocalEnv, src string, log *zap.Logger) (*session, error) {
	base := env.Base
	if len(base) == 0 {
		// relative image sources are relative to the document
		base = src
	}

	ld, err := loader.New(&env.Cfg.Images, base, log)
	if err != nil {
		return nil, fmt.Errorf("unable to prepare image loader: %w", err)
	}

	unit := env.Cfg.Images.Cache.CostUnit
	capacity := cache.CapacityFor(unit.Cost(env.MemoryBudget()), env.Cfg.Images.Cache.Fraction)
	log.Debug("Images cache prepared", zap.Int64("capacity", capacity), zap.String("unit", string(unit)))

	return &session{
		loader:  ld,
		handler: spanner.NewHandler(ld, capacity, env.Cfg.Images.ScaleFactor, log),
		log:     log,
	}, nil
}

// build reads source document and converts it to rich text with images
// resolved.
func (s *session) build(ctx context.Context, src string) (b *richtext.Builder, rerr error) {
	env := state.EnvFromContext(ctx)

	defer func(start time.Time) {
		// image decoders may panic on malformed input
		if r := recover(); r != nil {
			s.log.Error("Processing ended with panic",
				zap.Any("panic", r), zap.Duration("elapsed", time.Since(start)), zap.ByteString("stack", debug.Stack()))
			b, rerr = nil, fmt.Errorf("processing panic: %v", r)
		}
	}(time.Now())

	data, err := s.loader.Read(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("unable to read source: %w", err)
	}
	if env.Rpt != nil {
		env.Rpt.StoreData("source/"+documentName(src)+".html", data)
	}

	conv := markup.NewConverter(s.handler, env.CodePage, s.log)
	if b, err = conv.Convert(ctx, data, ""); err != nil {
		return nil, fmt.Errorf("unable to convert source (%s): %w", src, err)
	}

	stats := s.handler.Cache().Stats()
	s.log.Debug("Document converted",
		zap.Int("runes", b.Len()),
		zap.Int("embeds", conv.Embeds()),
		zap.Uint64("cache_hits", stats.Hits),
		zap.Uint64("cache_misses", stats.Misses),
		zap.Uint64("cache_evictions", stats.Evictions))

	if env.Rpt != nil {
		env.Rpt.StoreData("debug/text.txt", []byte(b.Dump()))
		env.Rpt.StoreData("debug/cache.txt", []byte(s.handler.Cache().String()))
	}
	return b, nil
}

func (s *session) close() {
	s.handler.Cache().Purge()
	s.loader.Close()
}

func resolve(ctx context.Context, src string, out io.Writer, log *zap.Logger) error {
	env := state.EnvFromContext(ctx)

	s, err := newSession(env, src, log)
	if err != nil {
		return err
	}
	defer s.close()

	b, err := s.build(ctx, src)
	if err != nil {
		return err
	}

	var werr error
	for _, span := range b.Spans() {
		p, ok := span.Object.(*spanner.Placement)
		if !ok {
			continue
		}
		_, err := fmt.Fprintf(out, "%d\t%d\t%dx%d\t%s\t%s\n", span.Start, span.End, p.Width, p.Height, p.Image, p.Src)
		werr = multierr.Append(werr, err)
	}
	_, err = fmt.Fprint(out, s.handler.Cache().String())
	werr = multierr.Append(werr, err)
	if werr != nil {
		return fmt.Errorf("unable to output placements: %w", werr)
	}
	return nil
}

func renderDocument(ctx context.Context, src, dst string, log *zap.Logger) error {
	env := state.EnvFromContext(ctx)

	s, err := newSession(env, src, log)
	if err != nil {
		return err
	}
	defer s.close()

	b, err := s.build(ctx, src)
	if err != nil {
		return err
	}

	if _, err := os.Stat(dst); err == nil && env.Overwrite {
		log.Warn("Overwriting existing file", zap.String("file", dst))
	}

	res, err := render.New(&env.Cfg.Render, env.Overwrite, log).Render(b, documentName(src), dst)
	if err != nil {
		return fmt.Errorf("unable to render document: %w", err)
	}
	if res.Skipped > 0 {
		log.Warn("Some images were not embedded", zap.Int("count", res.Skipped))
	}

	// Store rendering result for debugging
	if env.Rpt != nil {
		env.Rpt.Store("result/"+filepath.Base(res.Document), res.Document)
		if !strings.EqualFold(filepath.Ext(res.Document), ".epub") {
			for _, name := range res.Images {
				env.Rpt.Store("result/"+env.Cfg.Render.ImagesDir+"/"+filepath.Base(name), name)
			}
		}
	}
	return nil
}
