// Package pseudonymize implements the Pseudonymization Controller: the
// orchestration of TIFF rewriting, label rendering, escrow, and registry
// bookkeeping behind Pseudonymize and DePseudonymize.
package pseudonymize

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/slidevault/wsipseudo/internal/config"
	"github.com/slidevault/wsipseudo/internal/escrow"
	"github.com/slidevault/wsipseudo/internal/label"
	"github.com/slidevault/wsipseudo/internal/manifest"
	"github.com/slidevault/wsipseudo/internal/registry"
	"github.com/slidevault/wsipseudo/internal/stripcodec"
)

// StoreOpener begins one registry.Store unit of work per top-level
// manifest entity (a single slide, a case, or a study).
type StoreOpener interface {
	Begin(ctx context.Context) (registry.Store, error)
}

// errSkipped marks a slide that was recognized but intentionally not
// processed (a known-but-unsupported vendor); callers omit it from the
// output manifest rather than failing the whole run.
var errSkipped = errors.New("pseudonymize: slide skipped")

// Controller is the Pseudonymization Controller described in §4.6: it
// wires together the Registry, Escrow Store, Strip Codec, and Label
// Renderer to pseudonymize or de-pseudonymize a manifest.
type Controller struct {
	Store     StoreOpener
	Escrow    *escrow.Store
	Renderer  label.Renderer
	Validator manifest.Validator
	Config    config.Config
	Logger    *zap.Logger
}

// New builds a Controller. A nil Validator defaults to
// manifest.NoopValidator{}; a nil Logger defaults to zap.NewNop().
func New(store StoreOpener, esc *escrow.Store, renderer label.Renderer, cfg config.Config, validator manifest.Validator, logger *zap.Logger) *Controller {
	if validator == nil {
		validator = manifest.NoopValidator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	manifest.SetDateLayouts(cfg.DateFormat, cfg.DateTimeFormat)
	return &Controller{
		Store:     store,
		Escrow:    esc,
		Renderer:  renderer,
		Validator: validator,
		Config:    cfg,
		Logger:    logger,
	}
}

// resolveCodec builds the strip codec matching a captured compression
// scheme, falling back to Adobe Deflate when the original scheme has no
// direct re-encoder (§4.2's ResolveCompression rule), and returns the
// resolved compression scheme alongside it for the caller to stamp back
// onto the rewritten IFD's Compression tag.
func resolveCodec(rowsPerStrip int, captured uint16) (stripcodec.Codec, stripcodec.Compression, error) {
	comp, _ := stripcodec.ResolveCompression(captured)
	codec, err := stripcodec.New(rowsPerStrip, stripcodec.WithCompression(comp))
	return codec, comp, err
}

func (c *Controller) logSkip(path string, v vendor) {
	c.Logger.Info("skipping unsupported vendor", zap.String("path", path), zap.String("vendor", v.String()))
}
