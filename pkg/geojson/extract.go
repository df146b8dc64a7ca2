// pkg/geojson/extract.go - GeoJSON to tile-local geometry extraction
package geojson

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DuplicateEpsilon is the tile-local distance below which a vertex repeats its predecessor
const DuplicateEpsilon = 1e-5

// DefaultNumericProperties is the property allow-list used when none is configured
var DefaultNumericProperties = []string{"height", "min_height"}

// ExtractOptions configures an Extractor
type ExtractOptions struct {
	NumericProperties []string        `json:"numeric_properties"` // property keys whose numeric values are kept
	LayerName         string          `json:"layer_name"`         // name given to extracted layers
	Logger            *zerolog.Logger `json:"-"`                  // defaults to the global zerolog logger
}

// Extractor turns GeoJSON documents into tile-local layers.
// It holds only immutable configuration and is safe for concurrent use.
type Extractor struct {
	allowed   map[string]struct{}
	layerName string
	logger    zerolog.Logger
}

// NewExtractor creates an extractor that keeps the default numeric properties
func NewExtractor() *Extractor {
	e, err := NewExtractorWithOptions(&ExtractOptions{})
	if err != nil {
		log.Warn().Err(err).Msg("invalid default extract options")
	}
	return e
}

// NewExtractorWithOptions creates an extractor with custom options
func NewExtractorWithOptions(options *ExtractOptions) (*Extractor, error) {
	if err := ValidateExtractOptions(options); err != nil {
		return nil, fmt.Errorf("invalid extract options: %w", err)
	}

	keys := options.NumericProperties
	if len(keys) == 0 {
		keys = DefaultNumericProperties
	}
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}

	layerName := options.LayerName
	if layerName == "" {
		layerName = "geojson"
	}

	logger := log.Logger
	if options.Logger != nil {
		logger = *options.Logger
	}

	return &Extractor{
		allowed:   allowed,
		layerName: layerName,
		logger:    logger,
	}, nil
}

// ValidateExtractOptions validates the extract options
func ValidateExtractOptions(options *ExtractOptions) error {
	for _, k := range options.NumericProperties {
		if k == "" {
			return fmt.Errorf("numeric property keys must not be empty")
		}
	}
	return nil
}

// NumericProperties returns the allow-listed property keys
func (e *Extractor) NumericProperties() []string {
	keys := make([]string, 0, len(e.allowed))
	for k := range e.allowed {
		keys = append(keys, k)
	}
	return keys
}

// ExtractPoint projects one [lon, lat] coordinate. keep is false when prev is
// given and the projected point lies within DuplicateEpsilon of it.
func ExtractPoint(coord Node, tc TileContext, prev *orb.Point) (orb.Point, bool, error) {
	if !coord.IsArray() {
		return orb.Point{}, false, newMalformed("", "coordinate must be an array")
	}

	var lonLat orb.Point
	i := 0
	var err error
	coord.ForEach(func(_ string, v Node) bool {
		if i == 2 {
			return false
		}
		lonLat[i], err = v.Number()
		if err != nil {
			err = withPath(err, "["+strconv.Itoa(i)+"]")
			return false
		}
		i++
		return true
	})
	if err != nil {
		return orb.Point{}, false, err
	}
	if i < 2 {
		return orb.Point{}, false, newMalformed("", "coordinate needs longitude and latitude")
	}

	p := Project(lonLat, tc)
	if prev != nil && planar.Distance(p, *prev) < DuplicateEpsilon {
		return p, false, nil
	}
	return p, true, nil
}

// ExtractLine projects a coordinate array into a line, dropping vertices that
// repeat their predecessor. The first vertex is always kept.
func ExtractLine(coords Node, tc TileContext) (orb.LineString, error) {
	if !coords.IsArray() {
		return nil, newMalformed("", "line coordinates must be an array")
	}

	line := orb.LineString{}
	idx := 0
	var err error
	coords.ForEach(func(_ string, v Node) bool {
		var prev *orb.Point
		if len(line) > 0 {
			prev = &line[len(line)-1]
		}
		p, keep, perr := ExtractPoint(v, tc, prev)
		if perr != nil {
			err = withPath(perr, "["+strconv.Itoa(idx)+"]")
			return false
		}
		if keep {
			line = append(line, p)
		}
		idx++
		return true
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// ExtractPolygon extracts each ring as a line. Rings are neither closed nor validated.
func ExtractPolygon(rings Node, tc TileContext) (orb.Polygon, error) {
	if !rings.IsArray() {
		return nil, newMalformed("", "polygon coordinates must be an array")
	}

	poly := orb.Polygon{}
	idx := 0
	var err error
	rings.ForEach(func(_ string, v Node) bool {
		line, lerr := ExtractLine(v, tc)
		if lerr != nil {
			err = withPath(lerr, "["+strconv.Itoa(idx)+"]")
			return false
		}
		poly = append(poly, orb.Ring(line))
		idx++
		return true
	})
	if err != nil {
		return nil, err
	}
	return poly, nil
}

// ExtractFeature reads a feature's allow-listed properties and its geometry.
// Unrecognized geometry types leave the feature with GeometryUnknown and no geometry.
func (e *Extractor) ExtractFeature(in Node, tc TileContext) (*Feature, error) {
	out := NewFeature()

	properties, ok := in.Member("properties")
	if !ok {
		return nil, missingMember("properties")
	}
	if err := e.extractProperties(properties, out.Props); err != nil {
		return nil, withPath(err, "properties")
	}

	geometry, ok := in.Member("geometry")
	if !ok {
		return nil, missingMember("geometry")
	}
	if !geometry.IsObject() {
		return nil, newMalformed("geometry", "geometry must be an object")
	}
	coords, ok := geometry.Member("coordinates")
	if !ok {
		return nil, missingMember("geometry.coordinates")
	}
	typeNode, ok := geometry.Member("type")
	if !ok {
		return nil, missingMember("geometry.type")
	}
	typeName, err := typeNode.Text()
	if err != nil {
		return nil, withPath(err, "geometry.type")
	}

	kind := ParseKind(typeName)
	if err := extractGeometry(kind, coords, tc, out); err != nil {
		return nil, withPath(err, "geometry.coordinates")
	}
	return out, nil
}

func (e *Extractor) extractProperties(properties Node, props Properties) error {
	// RFC 7946 allows "properties": null
	if properties.IsNull() {
		return nil
	}
	if !properties.IsObject() {
		return newMalformed("", "properties must be an object")
	}

	var err error
	properties.ForEach(func(name string, v Node) bool {
		if _, ok := e.allowed[name]; !ok {
			return true
		}
		value, nerr := v.Number()
		if nerr != nil {
			err = withPath(nerr, name)
			return false
		}
		props[name] = value
		return true
	})
	return err
}

func extractGeometry(kind Kind, coords Node, tc TileContext, out *Feature) error {
	out.GeometryType = kind.GeometryType()

	switch kind {
	case KindPoint:
		p, keep, err := ExtractPoint(coords, tc, nil)
		if err != nil {
			return err
		}
		if keep {
			out.Points = append(out.Points, p)
		}
		return nil

	case KindMultiPoint:
		// Members are independent points, so none is compared with its neighbour.
		return eachElement(coords, func(v Node) error {
			p, keep, err := ExtractPoint(v, tc, nil)
			if err != nil {
				return err
			}
			if keep {
				out.Points = append(out.Points, p)
			}
			return nil
		})

	case KindLineString:
		line, err := ExtractLine(coords, tc)
		if err != nil {
			return err
		}
		out.Lines = append(out.Lines, line)
		return nil

	case KindMultiLineString:
		return eachElement(coords, func(v Node) error {
			line, err := ExtractLine(v, tc)
			if err != nil {
				return err
			}
			out.Lines = append(out.Lines, line)
			return nil
		})

	case KindPolygon:
		poly, err := ExtractPolygon(coords, tc)
		if err != nil {
			return err
		}
		out.Polygons = append(out.Polygons, poly)
		return nil

	case KindMultiPolygon:
		return eachElement(coords, func(v Node) error {
			poly, err := ExtractPolygon(v, tc)
			if err != nil {
				return err
			}
			out.Polygons = append(out.Polygons, poly)
			return nil
		})

	case KindUnknown:
		return nil
	}
	return nil
}

// eachElement applies fn to every array element, stopping on the first error
func eachElement(arr Node, fn func(Node) error) error {
	if !arr.IsArray() {
		return newMalformed("", "coordinates must be an array")
	}

	idx := 0
	var err error
	arr.ForEach(func(_ string, v Node) bool {
		if ferr := fn(v); ferr != nil {
			err = withPath(ferr, "["+strconv.Itoa(idx)+"]")
			return false
		}
		idx++
		return true
	})
	return err
}

// ExtractLayer extracts every entry of the document's "features" array in order.
// A document without "features" is logged and yields an empty layer without error;
// any malformed feature aborts extraction.
func (e *Extractor) ExtractLayer(in Node, tc TileContext) (*Layer, error) {
	out := NewLayer(e.layerName)

	features, ok := in.Member("features")
	if !ok {
		e.logger.Error().Str("layer", e.layerName).Msg("GeoJSON missing 'features' member")
		return out, nil
	}
	if !features.IsArray() {
		return nil, newMalformed("features", "features must be an array")
	}

	idx := 0
	var err error
	features.ForEach(func(_ string, v Node) bool {
		f, ferr := e.ExtractFeature(v, tc)
		if ferr != nil {
			err = errors.Wrapf(withPath(ferr, "features["+strconv.Itoa(idx)+"]"), "extract layer %s", e.layerName)
			return false
		}
		out.Features = append(out.Features, f)
		idx++
		return true
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("layer", out.Name).
		Int("features", len(out.Features)).
		Msg("layer extracted")
	return out, nil
}

// ExtractDocument parses raw GeoJSON and extracts its layer
func (e *Extractor) ExtractDocument(data []byte, tc TileContext) (*Layer, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return e.ExtractLayer(doc, tc)
}
