// Package config defines the typed parameter set an elevation model is built
// from. A Params value is assembled from a JSON document, a coverage-service
// description or plain code, validated eagerly, and is immutable once a model
// has been constructed from it. Parse and Render form a pure
// serialize/deserialize pair: a model is always rebuilt from a Params value,
// never patched in place from a restored snapshot.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/gruppe-adler/terrain/internal/geo"
)

// Coordinate system accepted by the remote coverage path.
const CRSEPSG4326 = "EPSG:4326"

// Byte orders for raw elevation payloads.
const (
	LittleEndian = "little-endian"
	BigEndian    = "big-endian"
)

// Data types for raw elevation payloads.
const (
	Int16   = "int16"
	Float32 = "float32"
)

// Default resource holding precomputed extreme elevations, used when a model
// has at least six levels.
const DefaultExtremesFile = "config/SRTM30Plus_ExtremeElevations_5.bil"

// Error is a fatal construction-time configuration failure. It is never
// retried and propagates to the caller constructing the model.
type Error struct {
	Param  string
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration: missing required parameter %q", e.Param)
	}
	return fmt.Sprintf("configuration: parameter %q: %s", e.Param, e.Reason)
}

// MissingParam builds the error reported for an absent required parameter.
func MissingParam(name string) *Error {
	return &Error{Param: name}
}

// Params is the named-parameter mapping a model is constructed from. Optional
// numeric and boolean fields use pointers so that "absent" is distinguishable
// from a zero value; defaults are applied with the Apply*Defaults functions,
// which fill blanks and never override present values.
type Params struct {
	DatasetName      string      `json:"dataset-name,omitempty"`
	DisplayName      string      `json:"display-name,omitempty"`
	CacheName        string      `json:"cache-name,omitempty"`
	Service          string      `json:"service-endpoint,omitempty"`
	ServiceVersion   string      `json:"service-version,omitempty"`
	ImageFormat      string      `json:"image-format,omitempty"`
	FormatSuffix     string      `json:"format-suffix,omitempty"`
	CoordinateSystem string      `json:"coordinate-system,omitempty"`
	Sector           *geo.Sector `json:"bounding-sector,omitempty"`

	LevelZeroTileDelta float64 `json:"level-zero-tile-delta,omitempty"`
	TileWidth          int     `json:"tile-width,omitempty"`
	TileHeight         int     `json:"tile-height,omitempty"`
	NumLevels          int     `json:"num-levels,omitempty"`
	NumEmptyLevels     *int    `json:"num-empty-levels,omitempty"`

	MissingDataSignal      *float64 `json:"missing-data-signal,omitempty"`
	MissingDataReplacement *float64 `json:"missing-data-replacement,omitempty"`
	ElevationMin           *float64 `json:"elevation-min,omitempty"`
	ElevationMax           *float64 `json:"elevation-max,omitempty"`
	ElevationExtremesFile  string   `json:"elevation-extremes-file,omitempty"`

	ByteOrder string `json:"byte-order,omitempty"`
	DataType  string `json:"data-type,omitempty"`

	NetworkRetrievalEnabled *bool   `json:"network-retrieval-enabled,omitempty"`
	ExpiryTime              int64   `json:"expiry-time,omitempty"` // ms since epoch; 0 disables expiry
	DetailHint              float64 `json:"detail-hint,omitempty"`

	MaxAbsentTileAttempts      int `json:"max-absent-tile-attempts,omitempty"`
	MinAbsentTileCheckInterval int `json:"min-absent-tile-check-interval,omitempty"` // ms
}

// Parse reads a model configuration document.
func Parse(doc []byte) (Params, error) {
	var p Params
	if err := json.Unmarshal(doc, &p); err != nil {
		return Params{}, fmt.Errorf("parse model config: %w", err)
	}
	return p, nil
}

// Render writes the configuration document Parse accepts. Round-tripping a
// Params value through Render and Parse yields an equal value.
func Render(p Params) ([]byte, error) {
	doc, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("render model config: %w", err)
	}
	return doc, nil
}

// ValidateLocal checks the parameters required by the local raster-server
// path and reports the first missing one.
func (p Params) ValidateLocal() error {
	if p.DatasetName == "" {
		return MissingParam("dataset-name")
	}
	if p.CacheName == "" {
		return MissingParam("cache-name")
	}
	return nil
}

// ValidateWCS checks the parameters required by the remote coverage path and
// reports the first missing or unsupported one.
func (p Params) ValidateWCS() error {
	if p.DatasetName == "" {
		return MissingParam("dataset-name")
	}
	if p.Service == "" {
		return MissingParam("service-endpoint")
	}
	if p.CacheName == "" {
		return MissingParam("cache-name")
	}
	if p.ImageFormat == "" {
		return MissingParam("image-format")
	}
	if p.Sector == nil || !p.Sector.IsValid() {
		return MissingParam("bounding-sector")
	}
	if p.CoordinateSystem == "" {
		return MissingParam("coordinate-system")
	}
	if p.CoordinateSystem != CRSEPSG4326 {
		return &Error{Param: "coordinate-system", Reason: fmt.Sprintf("unsupported value %q, requires %s", p.CoordinateSystem, CRSEPSG4326)}
	}
	return nil
}

// ApplyBasicDefaults fills the blanks the generic tiled model relies on.
func (p *Params) ApplyBasicDefaults() {
	if p.TileWidth == 0 {
		p.TileWidth = 150
	}
	if p.TileHeight == 0 {
		p.TileHeight = 150
	}
	if p.FormatSuffix == "" {
		p.FormatSuffix = ".bil"
	}
	if p.NumLevels == 0 {
		p.NumLevels = 2
	}
	if p.NumEmptyLevels == nil {
		p.NumEmptyLevels = intPtr(0)
	}
	if p.ByteOrder == "" {
		p.ByteOrder = LittleEndian
	}
	if p.DataType == "" {
		p.DataType = Int16
	}
}

// ApplyWCSDefaults fills the blanks the remote coverage model relies on. The
// 18-level fallback approximates sub-meter ground resolution for global
// coverages.
func (p *Params) ApplyWCSDefaults() {
	if p.LevelZeroTileDelta == 0 {
		p.LevelZeroTileDelta = 20
	}
	if p.TileWidth == 0 {
		p.TileWidth = 150
	}
	if p.TileHeight == 0 {
		p.TileHeight = 150
	}
	if p.FormatSuffix == "" {
		p.FormatSuffix = ".tif"
	}
	if p.MissingDataSignal == nil {
		p.MissingDataSignal = floatPtr(-9999)
	}
	if p.NumLevels == 0 {
		p.NumLevels = 18
	}
	if p.NumEmptyLevels == nil {
		p.NumEmptyLevels = intPtr(0)
	}
	if p.ElevationMin == nil {
		p.ElevationMin = floatPtr(-11000)
	}
	if p.ElevationMax == nil {
		p.ElevationMax = floatPtr(8850)
	}
	if p.ElevationExtremesFile == "" && p.NumLevels >= 6 {
		p.ElevationExtremesFile = DefaultExtremesFile
	}
}

// Capabilities is the typed result of parsing a coverage service's
// capabilities document. The document schema itself is handled by an external
// collaborator; this package only consumes the mapping.
type Capabilities struct {
	Version        string
	GetCoverageURL string
}

// CoverageDescription is the typed result of parsing a describe-coverage
// document for a single coverage offering.
type CoverageDescription struct {
	Identifier     string
	Label          string
	LonLatEnvelope geo.Sector
	NativeFormat   string
	// Native grid resolution in degrees per cell along each axis. Zero when
	// the offering declares no rectified grid.
	GridResolutionX float64
	GridResolutionY float64
}

// FromCoverageDocuments merges a (capabilities, describe-coverage) pair into
// the given parameters, filling only fields not already present.
func FromCoverageDocuments(caps Capabilities, desc CoverageDescription, p Params) Params {
	if p.DatasetName == "" {
		p.DatasetName = desc.Identifier
	}
	if p.DisplayName == "" {
		p.DisplayName = desc.Label
	}
	if p.Service == "" {
		p.Service = caps.GetCoverageURL
	}
	if p.ServiceVersion == "" {
		p.ServiceVersion = caps.Version
	}
	if p.ImageFormat == "" {
		p.ImageFormat = desc.NativeFormat
	}
	if p.Sector == nil && desc.LonLatEnvelope.IsValid() {
		s := desc.LonLatEnvelope
		p.Sector = &s
	}
	if p.CoordinateSystem == "" {
		p.CoordinateSystem = CRSEPSG4326
	}
	return p
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// BoolOrDefault dereferences an optional boolean.
func BoolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// FloatOrDefault dereferences an optional float.
func FloatOrDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// IntOrDefault dereferences an optional int.
func IntOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
