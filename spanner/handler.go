package spanner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"imgspan/bounds"
	"imgspan/cache"
	"imgspan/loader"
	"imgspan/richtext"
	"imgspan/style"
)

// Fetcher produces decoded image for source locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (*loader.Image, error)
}

// Placement is decoded image with final bounds, it is embedded into rich
// text in place of the image node.
type Placement struct {
	Src    string
	Image  *loader.Image
	Width  int
	Height int
}

// Size returns placement bounds in pixels.
func (p *Placement) Size() (int, int) {
	return p.Width, p.Height
}

func (p *Placement) String() string {
	return fmt.Sprintf("%q %dx%d", p.Src, p.Width, p.Height)
}

// Handler resolves image nodes. It owns decoded images cache, so repeated
// references to the same source are fetched and decoded once while they
// stay in cache.
type Handler struct {
	fetcher Fetcher
	cache   *cache.Cache[*loader.Image]
	parser  *style.Parser
	scale   float64
	log     *zap.Logger
}

// NewHandler creates handler with cache of requested capacity (in the
// same units images report their cost in). Invalid scale is treated as 1.
func NewHandler(fetcher Fetcher, capacity int64, scale float64, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		fetcher: fetcher,
		cache:   cache.New[*loader.Image](capacity, loader.Cost, log),
		parser:  style.NewParser(log),
		scale:   scale,
		log:     log.Named("images"),
	}
}

// Cache gives access to decoded images cache for inspection.
func (h *Handler) Cache() *cache.Cache[*loader.Image] {
	return h.cache
}

// Resolve returns placement for node or nil when image is not available.
// Failures are logged and never propagate.
func (h *Handler) Resolve(ctx context.Context, node ImageNode) *Placement {
	snap := h.parser.ParseAttr(style.Snapshot{}, node.Style, node.HasStyle)

	img, err := h.cache.GetOrLoad(node.Src, func(key string) (*loader.Image, error) {
		return h.fetcher.Fetch(ctx, key)
	})
	if err != nil {
		h.log.Warn("Unable to load image, skipping", zap.String("src", node.Src), zap.Error(err))
		return nil
	}
	if img == nil {
		h.log.Warn("Image source produced no image, skipping", zap.String("src", node.Src))
		return nil
	}

	w, hgt := bounds.Resolve(snap, node.Width, node.Height, img.Width, img.Height, h.scale)
	p := &Placement{
		Src:    node.Src,
		Image:  img,
		Width:  w,
		Height: hgt,
	}
	h.log.Debug("Image placed", zap.Stringer("placement", p), zap.Stringer("style", snap))
	return p
}

// HandleTag appends placeholder character to b and, when image could be
// resolved, registers embed span over [start, b.Len()). Placeholder is
// emitted even when there is nothing to embed.
func (h *Handler) HandleTag(ctx context.Context, node ImageNode, b *richtext.Builder, start int) *Placement {
	b.AppendRune(richtext.ObjectReplacement)

	p := h.Resolve(ctx, node)
	if p == nil {
		return nil
	}
	if err := b.PushSpan(p, start, b.Len()); err != nil {
		h.log.Warn("Unable to embed image", zap.String("src", node.Src), zap.Error(err))
		return nil
	}
	return p
}
