// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package repoconfig

// mergeDocs deep-merges child into parent per spec.md §4.6 "Merge
// semantics": objects merge key-by-key, scalars and mismatched-type
// values let the child win, arrays follow strategy. Neither input is
// mutated.
func mergeDocs(parent, child map[string]any, strategy ArrayMergeStrategy) map[string]any {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}

	for k, childVal := range child {
		parentVal, exists := out[k]
		if !exists {
			out[k] = childVal
			continue
		}
		out[k] = mergeValue(parentVal, childVal, strategy)
	}
	return out
}

func mergeValue(parentVal, childVal any, strategy ArrayMergeStrategy) any {
	parentMap, parentIsMap := parentVal.(map[string]any)
	childMap, childIsMap := childVal.(map[string]any)
	if parentIsMap && childIsMap {
		return mergeDocs(parentMap, childMap, strategy)
	}

	parentSlice, parentIsSlice := parentVal.([]any)
	childSlice, childIsSlice := childVal.([]any)
	if parentIsSlice && childIsSlice {
		return mergeArrays(parentSlice, childSlice, strategy)
	}

	// Scalars, or a type mismatch between cascade layers: child wins.
	return childVal
}

func mergeArrays(parent, child []any, strategy ArrayMergeStrategy) []any {
	switch strategy {
	case ArrayMergeConcatenate:
		out := make([]any, 0, len(parent)+len(child))
		out = append(out, parent...)
		out = append(out, child...)
		return out

	case ArrayMergeDeepByIndex:
		length := len(parent)
		if len(child) > length {
			length = len(child)
		}
		out := make([]any, length)
		for i := 0; i < length; i++ {
			switch {
			case i >= len(parent):
				out[i] = child[i]
			case i >= len(child):
				out[i] = parent[i]
			default:
				out[i] = mergeValue(parent[i], child[i], strategy)
			}
		}
		return out

	case ArrayMergeReplace:
		fallthrough
	default:
		return child
	}
}
