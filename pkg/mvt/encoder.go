// pkg/mvt/encoder.go - Extracted layer to Mapbox Vector Tile encoding
package mvt

import (
	"fmt"

	"github.com/paulmach/orb/encoding/mvt"
	orbgeojson "github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
	"github.com/rs/zerolog/log"

	"github.com/valpere/geojson_tiler/pkg/geojson"
)

// Version is the vector tile format version written into layers
const Version = 2

// Encoder handles encoding of extracted tile-local layers into Mapbox Vector Tiles
type Encoder struct {
	extent  uint32
	options *EncodeOptions
}

// EncodeOptions configures the encoding process
type EncodeOptions struct {
	SimplifyGeometry  bool    `json:"simplify_geometry"`  // Simplify geometries using Douglas-Peucker
	SimplifyTolerance float64 `json:"simplify_tolerance"` // Tolerance in tile units
	RemoveEmpty       bool    `json:"remove_empty"`       // Drop geometry too small for the tile grid
	Gzip              bool    `json:"gzip"`               // Gzip the encoded tile
}

// NewEncoder creates a new encoder with default options
func NewEncoder(extent uint32) *Encoder {
	options := &EncodeOptions{
		SimplifyTolerance: 1.0,
	}

	if err := ValidateEncodeOptions(extent, options); err != nil {
		log.Warn().Err(err).Msg("invalid default encode options")
	}

	return &Encoder{
		extent:  extent,
		options: options,
	}
}

// NewEncoderWithOptions creates an encoder with custom options
func NewEncoderWithOptions(extent uint32, options *EncodeOptions) (*Encoder, error) {
	if err := ValidateEncodeOptions(extent, options); err != nil {
		return nil, fmt.Errorf("invalid encode options: %w", err)
	}

	return &Encoder{
		extent:  extent,
		options: options,
	}, nil
}

// Extent returns the tile extent the encoder writes
func (e *Encoder) Extent() uint32 {
	return e.extent
}

// Layer converts an extracted layer into an MVT layer, flipping y into the
// tile grid. Features with no geometry are skipped.
func (e *Encoder) Layer(layer *geojson.Layer) *mvt.Layer {
	features := make([]*orbgeojson.Feature, 0, len(layer.Features))

	for _, f := range layer.Features {
		geom := f.Geometry()
		if geom == nil || f.IsEmpty() {
			continue
		}

		feature := orbgeojson.NewFeature(simplifyMulti(flipGeometry(geom, e.extent)))
		for k, v := range f.Props {
			feature.Properties[k] = v
		}
		features = append(features, feature)
	}

	return &mvt.Layer{
		Name:     layer.Name,
		Version:  Version,
		Extent:   e.extent,
		Features: features,
	}
}

// Encode marshals one or more extracted layers into a single vector tile
func (e *Encoder) Encode(layers ...*geojson.Layer) ([]byte, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("no layers to encode")
	}

	mvtLayers := make(mvt.Layers, 0, len(layers))
	for _, l := range layers {
		mvtLayers = append(mvtLayers, e.Layer(l))
	}

	if e.options.SimplifyGeometry {
		mvtLayers.Simplify(simplify.DouglasPeucker(e.options.SimplifyTolerance))
	}
	if e.options.RemoveEmpty {
		mvtLayers.RemoveEmpty(1.0, 1.0)
	}

	var (
		data []byte
		err  error
	)
	if e.options.Gzip {
		data, err = mvt.MarshalGzipped(mvtLayers)
	} else {
		data, err = mvt.Marshal(mvtLayers)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal MVT: %w", err)
	}
	return data, nil
}

// ValidateEncodeOptions validates the encode options
func ValidateEncodeOptions(extent uint32, options *EncodeOptions) error {
	if extent == 0 {
		return fmt.Errorf("extent must be positive")
	}
	if options.SimplifyGeometry && options.SimplifyTolerance <= 0 {
		return fmt.Errorf("simplify tolerance must be positive, got %f", options.SimplifyTolerance)
	}
	return nil
}
