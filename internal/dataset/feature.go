package dataset

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb/geojson"
)

// FeatureID identifies a feature across every tile of a dataset.
type FeatureID string

// IDOf returns the identifier of f. With an empty property the GeoJSON
// "id" member is used, otherwise the named property. Numbers and strings
// with the same text map to the same identifier.
func IDOf(f *geojson.Feature, property string) (FeatureID, bool) {
	var v any
	if property == "" {
		v = f.ID
	} else if f.Properties != nil {
		v = f.Properties[property]
	}

	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		return FeatureID(id), id != ""
	case float64:
		return FeatureID(strconv.FormatFloat(id, 'f', -1, 64)), true
	default:
		return FeatureID(fmt.Sprint(id)), true
	}
}
