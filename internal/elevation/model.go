// Package elevation implements elevation models: samplers that answer height
// queries for geographic positions from a tiled, cached dataset. A model is
// constructed once from a validated configuration and is safe for concurrent
// use; the few runtime-adjustable knobs (missing-data handling, network
// retrieval, expiry) sit behind a read-write lock.
package elevation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/gruppe-adler/terrain/internal/geo"
)

// ErrInvalidArgument reports a malformed composition request. It is returned
// wrapped with the offending detail.
var ErrInvalidArgument = errors.New("elevation: invalid argument")

// Model is the sampling surface shared by all elevation model kinds.
type Model interface {
	// Name returns the model's display name.
	Name() string

	// Sector returns the geographic extent the model covers.
	Sector() geo.Sector

	// Contains reports whether the position lies within the model's extent.
	Contains(lat, lon float64) bool

	// MinElevation and MaxElevation bound the dataset's values.
	MinElevation() float64
	MaxElevation() float64

	// BestResolution returns the finest resolution, in degrees per sample,
	// the model can deliver within the sector. A nil sector asks for the
	// model-wide best.
	BestResolution(sector *geo.Sector) float64

	// DetailHint returns the configured resolution bias for the sector. An
	// invalid sector is an ErrInvalidArgument.
	DetailHint(sector geo.Sector) (float64, error)

	// Elevation returns the mapped elevation at a position: the raw sample,
	// with the missing-data signal replaced by the configured replacement.
	// Positions outside the model or without data yield the replacement. A
	// NaN coordinate is an ErrInvalidArgument.
	Elevation(ctx context.Context, lat, lon float64) (float64, error)

	// UnmappedElevation returns the raw sample at a position. Positions
	// outside the model or without data yield the missing-data signal. A NaN
	// coordinate is an ErrInvalidArgument.
	UnmappedElevation(ctx context.Context, lat, lon float64) (float64, error)

	// Elevations fills buffer with mapped elevations for the given points,
	// targeting the requested resolution in degrees per sample. Slots whose
	// point has no data available keep their current content. The achieved
	// resolution is returned.
	Elevations(ctx context.Context, sector geo.Sector, points []orb.Point, targetResolution float64, buffer []float64) (float64, error)

	// GetElevations is the multi-resolution form of Elevations. Only the
	// first target resolution is consulted and the result holds the single
	// achieved resolution.
	GetElevations(ctx context.Context, sector geo.Sector, points []orb.Point, targetResolutions []float64, buffer []float64) ([]float64, error)

	// BestResolutions is the multi-resolution form of BestResolution; the
	// result holds a single entry.
	BestResolutions(sector *geo.Sector) []float64

	// ComposeElevations populates buffer from the model's finest data for a
	// grid of points laid out row-major with the given width. A slot is
	// written only when its raw sample differs from the missing-data signal;
	// untouched slots keep the caller's own sentinel.
	ComposeElevations(ctx context.Context, sector geo.Sector, points []orb.Point, tileWidth int, buffer []float64) error

	// ExtremeElevations returns the lowest and highest elevation to expect
	// within the sector.
	ExtremeElevations(sector geo.Sector) (min, max float64)

	// Missing-data handling. A raw sample equal to the signal is reported as
	// the replacement by the mapped query paths.
	MissingDataSignal() float64
	SetMissingDataSignal(v float64)
	MissingDataReplacement() float64
	SetMissingDataReplacement(v float64)

	// Network retrieval switch. While disabled the model serves exclusively
	// from its caches and performs zero outbound fetch attempts.
	NetworkRetrievalEnabled() bool
	SetNetworkRetrievalEnabled(enabled bool)

	// ExpiryTime sets the cutoff before which cached tiles count as stale.
	// The zero time disables expiry.
	ExpiryTime() time.Time
	SetExpiryTime(t time.Time)

	// Enabled toggles the model as a whole.
	Enabled() bool
	SetEnabled(enabled bool)
}

// Base carries the state and behavior shared by all models: the adjustable
// missing-data and retrieval knobs and the transparency rule. Concrete models
// embed it.
type Base struct {
	mu          sync.RWMutex
	name        string
	signal      float64
	replacement float64
	network     bool
	enabled     bool
	expiry      time.Time
	detailHint  float64
}

func newBase(name string, signal, replacement, detailHint float64, network bool, expiry time.Time) Base {
	return Base{
		name:        name,
		signal:      signal,
		replacement: replacement,
		detailHint:  detailHint,
		network:     network,
		enabled:     true,
		expiry:      expiry,
	}
}

// Name returns the model's display name.
func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

// SetName sets the model's display name.
func (b *Base) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
}

// MissingDataSignal returns the value marking absent data in raw samples.
func (b *Base) MissingDataSignal() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.signal
}

// SetMissingDataSignal replaces the missing-data signal.
func (b *Base) SetMissingDataSignal(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signal = v
}

// MissingDataReplacement returns the value reported for missing data by the
// mapped query paths.
func (b *Base) MissingDataReplacement() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.replacement
}

// SetMissingDataReplacement replaces the missing-data replacement.
func (b *Base) SetMissingDataReplacement(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replacement = v
}

// NetworkRetrievalEnabled reports whether outbound tile fetches are allowed.
func (b *Base) NetworkRetrievalEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.network
}

// SetNetworkRetrievalEnabled switches outbound tile fetches on or off.
func (b *Base) SetNetworkRetrievalEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.network = enabled
}

// ExpiryTime returns the cached-tile staleness cutoff.
func (b *Base) ExpiryTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.expiry
}

// SetExpiryTime sets the cached-tile staleness cutoff.
func (b *Base) SetExpiryTime(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expiry = t
}

// Enabled reports whether the model participates in sampling.
func (b *Base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetEnabled toggles the model.
func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// DetailHint returns the configured resolution bias. The hint is model-wide,
// but the sector is still validated so a malformed request surfaces.
func (b *Base) DetailHint(sector geo.Sector) (float64, error) {
	if !sector.IsValid() {
		return 0, fmt.Errorf("%w: invalid sector %v", ErrInvalidArgument, sector)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.detailHint, nil
}

// mapElevation applies the missing-data replacement to a raw sample.
func (b *Base) mapElevation(raw float64) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if raw == b.signal || math.IsNaN(raw) {
		return b.replacement
	}
	return raw
}

// IsTransparent reports whether a raw sample carries no renderable value: the
// sample is absent or equals the signal, and the replacement leaves the
// signal in place. When the replacement differs from the signal, a signal
// sample maps to a real value and is not transparent.
func (b *Base) IsTransparent(raw float64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return (math.IsNaN(raw) || raw == b.signal) && b.replacement == b.signal
}

// validateCompose checks a composition request. The checks run in a fixed
// order so callers get a stable first error.
func validateCompose(sector geo.Sector, points []orb.Point, tileWidth int, buffer []float64) error {
	if !sector.IsValid() {
		return fmt.Errorf("%w: invalid sector %v", ErrInvalidArgument, sector)
	}
	if points == nil {
		return fmt.Errorf("%w: points must not be nil", ErrInvalidArgument)
	}
	if buffer == nil {
		return fmt.Errorf("%w: buffer must not be nil", ErrInvalidArgument)
	}
	if tileWidth < 1 {
		return fmt.Errorf("%w: tile width %d is below 1", ErrInvalidArgument, tileWidth)
	}
	if len(buffer) < len(points) {
		return fmt.Errorf("%w: buffer holds %d of %d points", ErrInvalidArgument, len(buffer), len(points))
	}
	if tileWidth > len(points) {
		return fmt.Errorf("%w: tile width %d exceeds %d points", ErrInvalidArgument, tileWidth, len(points))
	}
	return nil
}
