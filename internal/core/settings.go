package core

import "strings"

// secretMarkers are lowercase substrings that mark a settings key as secret
var secretMarkers = []string{"apikey", "secret", "password", "token"}

// IsSecretKey reports whether a settings key looks like it holds a credential
func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// StripSecrets returns a deep copy of s with every secret-shaped key removed at any depth
func StripSecrets(s Settings) Settings {
	if s == nil {
		return nil
	}
	out, _ := stripValue(map[string]interface{}(s)).(map[string]interface{})
	return Settings(out)
}

func stripValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if IsSecretKey(k) {
				continue
			}
			out[k] = stripValue(child)
		}
		return out
	case Settings:
		return stripValue(map[string]interface{}(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = stripValue(child)
		}
		return out
	default:
		return val
	}
}

// KeepSecrets returns a deep copy of restored with every secret-shaped key of
// active grafted back in at the same depth. Secrets never reach backups, so a
// restore that replaces the live settings would otherwise erase them. Keys the
// restored settings already carry win.
func KeepSecrets(restored, active Settings) Settings {
	out := restored.Clone()
	if out == nil {
		out = Settings{}
	}
	graftSecrets(map[string]interface{}(out), map[string]interface{}(active))
	return out
}

func graftSecrets(dst, src map[string]interface{}) {
	for k, v := range src {
		if IsSecretKey(k) {
			if _, ok := dst[k]; !ok {
				dst[k] = cloneValue(v)
			}
			continue
		}
		srcMap, ok := asMap(v)
		if !ok || !hasSecrets(srcMap) {
			continue
		}
		existing, present := dst[k]
		if !present {
			child := map[string]interface{}{}
			graftSecrets(child, srcMap)
			dst[k] = child
			continue
		}
		if dstMap, ok := asMap(existing); ok {
			graftSecrets(dstMap, srcMap)
		}
	}
}

func hasSecrets(m map[string]interface{}) bool {
	for k, v := range m {
		if IsSecretKey(k) {
			return true
		}
		if child, ok := asMap(v); ok && hasSecrets(child) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	out, _ := cloneValue(map[string]interface{}(s)).(map[string]interface{})
	return Settings(out)
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[k] = cloneValue(child)
		}
		return out
	case Settings:
		return cloneValue(map[string]interface{}(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return val
	}
}

// MergeSettings deep-merges overlay onto base and returns the result.
// Object values merge key by key; arrays and scalars in overlay replace base wholesale.
// Neither input is modified.
func MergeSettings(base, overlay Settings) Settings {
	out := base.Clone()
	if out == nil {
		out = Settings{}
	}
	for k, v := range overlay {
		out[k] = mergeValue(out[k], cloneValue(v))
	}
	return out
}

func mergeValue(base, overlay interface{}) interface{} {
	baseMap, baseOK := asMap(base)
	overlayMap, overlayOK := asMap(overlay)
	if !baseOK || !overlayOK {
		return overlay
	}
	for k, v := range overlayMap {
		baseMap[k] = mergeValue(baseMap[k], v)
	}
	return baseMap
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		return val, true
	case Settings:
		return map[string]interface{}(val), true
	default:
		return nil, false
	}
}
