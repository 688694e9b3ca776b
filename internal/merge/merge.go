// Package merge implements the document store's deep-merge semantics:
// recursive object merge with array-replace, used to compute a WRITE's
// after-image from the caller-supplied patch.
package merge

// Merge returns a new value equal to target with source merged on top,
// following these rules (applied recursively):
//
//   - source == nil: return target unchanged.
//   - source is not a JSON object (primitive or array): return source.
//     Arrays replace wholesale; they are never merged element-wise.
//   - otherwise, for every key in source: if both target[k] and source[k]
//     are JSON objects, recurse; else source[k] overwrites target[k].
//
// target is never mutated. Merge is total: it never panics or errors,
// for any combination of JSON-shaped values (object / array / string /
// number / bool / nil) decoded via encoding/json into interface{}.
func Merge(target, source any) any {
	if source == nil {
		return target
	}

	sourceObj, sourceIsObj := source.(map[string]any)
	if !sourceIsObj {
		return source
	}

	targetObj, targetIsObj := target.(map[string]any)
	result := make(map[string]any, len(sourceObj))
	if targetIsObj {
		for k, v := range targetObj {
			result[k] = v
		}
	}

	for k, sv := range sourceObj {
		tv, exists := result[k]
		if exists {
			if tObj, tOK := tv.(map[string]any); tOK {
				if sObj, sOK := sv.(map[string]any); sOK {
					result[k] = Merge(tObj, sObj)
					continue
				}
			}
		}
		result[k] = sv
	}

	return result
}
