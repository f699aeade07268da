package mockeditor

import "fmt"

// params is a decoded JSON params object.
type params map[string]any

func (p params) str(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

func (p params) num(key string, def float64) float64 {
	if f, ok := p[key].(float64); ok {
		return f
	}
	return def
}

// vec reads a three-element array. Absent keys return def, ok=false.
func (p params) vec(key string, def [3]float64) ([3]float64, bool, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, false, nil
	}
	arr, ok := raw.([]any)
	if !ok || len(arr) != 3 {
		return def, false, fmt.Errorf("%s must be an array of 3 numbers", key)
	}
	var out [3]float64
	for i, v := range arr {
		f, ok := v.(float64)
		if !ok {
			return def, false, fmt.Errorf("%s[%d] is not a number", key, i)
		}
		out[i] = f
	}
	return out, true, nil
}
