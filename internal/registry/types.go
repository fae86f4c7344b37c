package registry

// Catalog is the process-wide model selection loaded from models.yaml.
type Catalog struct {
	AvailableModels []string `yaml:"available_models" json:"available_models"`
	CouncilModels   []string `yaml:"council_models" json:"council_models"`
	ChairmanModel   string   `yaml:"chairman_model" json:"chairman_model"`
	ClarifierModel  string   `yaml:"clarifier_model,omitempty" json:"clarifier_model,omitempty"`
	TitleModel      string   `yaml:"title_model,omitempty" json:"title_model,omitempty"`
}

// HasModel reports whether id is listed in AvailableModels.
func (c *Catalog) HasModel(id string) bool {
	for _, m := range c.AvailableModels {
		if m == id {
			return true
		}
	}
	return false
}
