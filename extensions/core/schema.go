// ABOUTME: Form schema definitions for extension config UIs.
// ABOUTME: Extensions define schemas as data, the host renders them.

package core

// Component is one node of a form or page schema tree. The schema is inert
// data; the host's UI layer interprets it.
type Component struct {
	Type     string         `json:"type"`            // "row", "col", "switch", "text", "select", "textarea", "cron", "alert"
	Model    string         `json:"model,omitempty"` // config key an input binds to, empty for containers
	Label    string         `json:"label,omitempty"`
	Hint     string         `json:"hint,omitempty"`
	Items    []SelectItem   `json:"items,omitempty"` // options for selects
	Multiple bool           `json:"multiple,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
	Children []Component    `json:"children,omitempty"`
}

// SelectItem is one option of a select component.
type SelectItem struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Schema is a form or page schema: an ordered tree of components.
type Schema struct {
	Components []Component `json:"components"`
}

// Models returns every model name referenced by an input in the schema, in
// tree order. Container components contribute nothing.
func (s Schema) Models() []string {
	var models []string
	var walk func(cs []Component)
	walk = func(cs []Component) {
		for _, c := range cs {
			if c.Model != "" {
				models = append(models, c.Model)
			}
			walk(c.Children)
		}
	}
	walk(s.Components)
	return models
}

// Row and Col are shorthand constructors for container components.
func Row(children ...Component) Component {
	return Component{Type: "row", Children: children}
}

func Col(children ...Component) Component {
	return Component{Type: "col", Children: children}
}

// MergeDefaults merges a persisted config over the defaults map. Persisted
// values win key-by-key; keys absent from both stay absent.
func MergeDefaults(defaults, persisted map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(persisted))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range persisted {
		merged[k] = v
	}
	return merged
}
