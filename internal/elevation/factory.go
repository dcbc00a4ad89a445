package elevation

import (
	"github.com/gruppe-adler/terrain/internal/config"
	"github.com/gruppe-adler/terrain/internal/retrieve"
	"github.com/gruppe-adler/terrain/internal/tilecache"
)

// New builds the model kind matching the configuration: a coverage-backed
// model when a service endpoint is named, a local raster-server model
// otherwise.
func New(p config.Params, store *tilecache.Store) (Model, error) {
	if p.Service != "" {
		return NewWCSModel(p, store)
	}
	strategy, err := retrieve.NewLocalStrategy(p, store)
	if err != nil {
		return nil, err
	}
	return NewBasicModel(p, store, strategy)
}
