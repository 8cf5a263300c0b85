package secretstores

import (
	"encoding/json"
	"fmt"
	"strings"
)

// splitField separates "name#field.path" into the secret name and the JSON
// field path inside it.
func splitField(key string) (name, field string) {
	name, field, _ = strings.Cut(key, "#")
	return name, strings.TrimPrefix(field, ".")
}

// extractField returns the string at a dotted path inside a JSON document.
func extractField(doc, path string) (string, error) {
	var data interface{}
	if err := json.Unmarshal([]byte(doc), &data); err != nil {
		return "", fmt.Errorf("secret is not valid JSON: %w", err)
	}

	current := data
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("cannot descend into %q: not an object", part)
		}
		if current, ok = obj[part]; !ok {
			return "", fmt.Errorf("field %q not found", part)
		}
	}

	switch v := current.(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("field %q is null", path)
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// setField returns doc with the string at a dotted path replaced by value.
// Missing intermediate objects are created. An empty doc starts a new object.
func setField(doc, path, value string) (string, error) {
	root := map[string]interface{}{}
	if strings.TrimSpace(doc) != "" {
		if err := json.Unmarshal([]byte(doc), &root); err != nil {
			return "", fmt.Errorf("existing secret is not a JSON object: %w", err)
		}
		// A JSON null decodes into a nil map.
		if root == nil {
			root = map[string]interface{}{}
		}
	}

	parts := strings.Split(path, ".")
	obj := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := obj[part].(map[string]interface{})
		if !ok {
			if v, exists := obj[part]; exists && v != nil {
				return "", fmt.Errorf("cannot descend into %q: not an object", part)
			}
			next = map[string]interface{}{}
			obj[part] = next
		}
		obj = next
	}
	obj[parts[len(parts)-1]] = value

	out, err := json.Marshal(root)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
