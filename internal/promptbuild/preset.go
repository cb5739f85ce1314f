package promptbuild

// Preset is a YAML-driven variant of the prompt policy: a different
// instruction for the model, negative block or budget.
type Preset struct {
	Version           string `yaml:"version" json:"version"`
	Name              string `yaml:"name" json:"name"`
	Description       string `yaml:"description,omitempty" json:"description,omitempty"`
	SystemInstruction string `yaml:"system_instruction,omitempty" json:"system_instruction,omitempty"`
	Negative          string `yaml:"negative,omitempty" json:"negative,omitempty"`
	Marker            string `yaml:"marker,omitempty" json:"marker,omitempty"`
	MaxTokens         int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}
