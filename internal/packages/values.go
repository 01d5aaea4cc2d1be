package packages

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
)

// RenderValues builds the release values document: every valuesFiles match
// deep-merged in pattern order, then the inline values, then the dot-path
// overrides in key order. The result is YAML.
func RenderValues(spec v1alpha1.PackageSpec) ([]byte, error) {
	merged := map[string]any{}

	for _, pattern := range spec.ValuesFiles {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid values pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("values pattern %q matched no files", pattern)
		}
		sort.Strings(matches)
		for _, path := range matches {
			doc, err := readValuesFile(path)
			if err != nil {
				return nil, err
			}
			merged = mergeValues(merged, doc)
		}
	}

	if spec.Values != nil && len(spec.Values.Raw) > 0 {
		var inline map[string]any
		if err := json.Unmarshal(spec.Values.Raw, &inline); err != nil {
			return nil, fmt.Errorf("inline values must be an object: %w", err)
		}
		merged = mergeValues(merged, inline)
	}

	doc, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding values: %w", err)
	}

	keys := make([]string, 0, len(spec.Set))
	for k := range spec.Set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, path := range keys {
		doc, err = sjson.SetBytes(doc, path, parseScalar(spec.Set[path]))
		if err != nil {
			return nil, fmt.Errorf("applying override %q: %w", path, err)
		}
	}

	var out map[string]any
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("decoding values: %w", err)
	}
	return yaml.Marshal(out)
}

func readValuesFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading values file %s: %w", path, err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing values file %s: %w", path, err)
	}
	return doc, nil
}

// mergeValues overlays src onto dst. Nested maps merge; everything else
// (scalars, lists) is replaced, matching Helm's own values precedence.
func mergeValues(dst, src map[string]any) map[string]any {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = mergeValues(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}

// parseScalar types an override the way `helm --set` does for booleans and numbers.
func parseScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
