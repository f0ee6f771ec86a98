// Package stdlib ships the source of the pure-language library
// modules. Their functions compile like user code; stdio is absent
// because its bodies are supplied by the code generators.
package stdlib

import "embed"

//go:embed *.per
var sources embed.FS

// Source returns the embedded source of the named module.
func Source(name string) (string, bool) {
	data, err := sources.ReadFile(name + ".per")
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Names lists the embedded module names.
func Names() []string {
	entries, err := sources.ReadDir(".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		names = append(names, name[:len(name)-len(".per")])
	}
	return names
}
