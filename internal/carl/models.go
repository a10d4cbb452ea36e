package carl

// DefaultModel is selected when the configuration does not name one.
const DefaultModel = "llama3.2:1b"

// Models is the fixed set of models offered by the interactive picker.
var Models = []string{
	"llama3.2:1b",
	"llama3.1",
	"tinyllama",
	"llama3",
	"mistral-small",
}

// IsKnownModel reports whether name is part of the fixed model set.
func IsKnownModel(name string) bool {
	for _, m := range Models {
		if m == name {
			return true
		}
	}
	return false
}
