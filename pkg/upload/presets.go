package upload

import (
	"fmt"
	"strings"
)

// Transformation is one derived rendition the delivery service prepares on
// ingest. Crop "fill" trims to exact dimensions; "fit" bounds within them.
type Transformation struct {
	Name    string
	Width   int
	Height  int
	Crop    string
	Sharpen int // service-side sharpen strength, 0 = none
}

// presets are the renditions requested for every jewelry image, in the
// order the service returns them. Thumbnail first: its URL is surfaced
// separately on the upload result.
var presets = []Transformation{
	{Name: "thumbnail", Width: 300, Height: 300, Crop: "fill"},
	{Name: "detail", Width: 800, Height: 800, Crop: "fill", Sharpen: 100},
	{Name: "zoom", Width: 1200, Height: 1200, Crop: "fit", Sharpen: 200},
}

// Presets returns a copy of the standard rendition set.
func Presets() []Transformation {
	out := make([]Transformation, len(presets))
	copy(out, presets)
	return out
}

// Directive renders the transformation in the service's compact form,
// e.g. "c_fill,w_300,h_300" or "c_fit,w_1200,h_1200,e_sharpen:200".
func (t Transformation) Directive() string {
	parts := []string{
		"c_" + t.Crop,
		fmt.Sprintf("w_%d", t.Width),
		fmt.Sprintf("h_%d", t.Height),
	}
	if t.Sharpen > 0 {
		parts = append(parts, fmt.Sprintf("e_sharpen:%d", t.Sharpen))
	}
	return strings.Join(parts, ",")
}

// EagerDirectives joins every preset's directive for the eager form field.
func EagerDirectives() string {
	directives := make([]string, len(presets))
	for i, t := range presets {
		directives[i] = t.Directive()
	}
	return strings.Join(directives, "|")
}
