package config

// defaults seed newly created configuration files and back any key the user
// has not set. Keys mirror the flag config paths declared by the commands.
var defaults = map[string]any{
	"output":                 "text",
	"log-level":              "error",
	"color":                  "auto",
	"show-duration":          true,
	"ollama.base-url":        "http://localhost:11434",
	"ollama.model":           "llama3.2:1b",
	"ollama.request-timeout": 240,
}
