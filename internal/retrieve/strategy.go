package retrieve

import (
	"github.com/gruppe-adler/terrain/internal/config"
	"github.com/gruppe-adler/terrain/internal/pyramid"
)

// Strategy binds a model to its tile source. A strategy finalizes the model
// configuration, hands out one Retriever per requested tile and supplies the
// level-count heuristic used when the configuration leaves the pyramid depth
// open.
type Strategy interface {
	// BuildConfig validates the parameters the strategy requires, fills its
	// defaults and returns the finalized configuration the model is built
	// from. Failures are *config.Error values.
	BuildConfig(p config.Params) (config.Params, error)

	// CreateRetriever returns a single-shot retriever for the tile.
	CreateRetriever(tile pyramid.Tile) (Retriever, error)

	// LevelCount reports the pyramid depth the strategy would choose for the
	// given parameters when num-levels is unset.
	LevelCount(p config.Params) int
}

// fillDescriptiveParams copies the descriptive keys of the server parameters
// into dst, never overwriting a value already present. The key set is fixed:
// dataset and display name, payload layout (byte order, image format, data
// type, format suffix), missing-data handling and the elevation range.
func fillDescriptiveParams(dst *config.Params, src config.Params) {
	if dst.DatasetName == "" {
		dst.DatasetName = src.DatasetName
	}
	if dst.DisplayName == "" {
		dst.DisplayName = src.DisplayName
	}
	if dst.ByteOrder == "" {
		dst.ByteOrder = src.ByteOrder
	}
	if dst.ImageFormat == "" {
		dst.ImageFormat = src.ImageFormat
	}
	if dst.DataType == "" {
		dst.DataType = src.DataType
	}
	if dst.FormatSuffix == "" {
		dst.FormatSuffix = src.FormatSuffix
	}
	if dst.MissingDataSignal == nil {
		dst.MissingDataSignal = src.MissingDataSignal
	}
	if dst.MissingDataReplacement == nil {
		dst.MissingDataReplacement = src.MissingDataReplacement
	}
	if dst.ElevationMin == nil {
		dst.ElevationMin = src.ElevationMin
	}
	if dst.ElevationMax == nil {
		dst.ElevationMax = src.ElevationMax
	}
}
