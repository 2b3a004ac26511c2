package internal

import (
	"reflect"
	"strings"

	"github.com/mitchellh/reflectwalk"
	"github.com/pkg/errors"
)

// UniformTag is the struct tag that binds a numeric field to a shader uniform, e.g. `uniform:"speed"`.
const UniformTag = "uniform"

// SlidersFromStruct finds every numeric field tagged with UniformTag (at any depth) and returns one slider per field,
// keyed by the dotted field path. Remember that reflect is relatively slow: call it when the values change, not per
// frame.
func SlidersFromStruct(v interface{}) (map[string]Slider, error) {
	if v == nil {
		return nil, errors.New("sliders: nil value")
	}
	w := &sliderWalker{found: map[string]Slider{}}
	if err := reflectwalk.Walk(v, w); err != nil {
		return nil, errors.Wrap(err, "sliders: walk")
	}
	return w.found, nil
}

type sliderWalker struct {
	path    []string
	pending string
	found   map[string]Slider
}

func (w *sliderWalker) Enter(loc reflectwalk.Location) error {
	if loc == reflectwalk.StructField {
		w.path = append(w.path, w.pending)
	}
	return nil
}

func (w *sliderWalker) Exit(loc reflectwalk.Location) error {
	if loc == reflectwalk.StructField && len(w.path) > 0 {
		w.path = w.path[:len(w.path)-1]
	}
	return nil
}

func (w *sliderWalker) Struct(_ reflect.Value) error {
	return nil
}

func (w *sliderWalker) StructField(field reflect.StructField, value reflect.Value) error {
	if field.PkgPath != "" { // Unexported
		return reflectwalk.SkipEntry
	}
	uniform, tagged := field.Tag.Lookup(UniformTag)
	if !tagged {
		w.pending = field.Name // Keep walking (nested structs)
		return nil
	}
	id := strings.Join(append(append([]string{}, w.path...), field.Name), ".")
	if uniform == "" {
		uniform = field.Name
	}
	var val float32
	switch value.Kind() {
	case reflect.Float32, reflect.Float64:
		val = float32(value.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		val = float32(value.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		val = float32(value.Uint())
	default:
		return errors.Errorf("field %s tagged %q is not numeric (%s)", id, uniform, value.Kind())
	}
	w.found[id] = Slider{Uniform: uniform, Value: val}
	return reflectwalk.SkipEntry
}
