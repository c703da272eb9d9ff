package flow

import (
	"regexp"
	"strings"
)

// Regex to find expressions like {{ variable }}
var templateRegex = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// RenderTemplate sustituye tokens {{var}} por los valores capturados.
// Una variable ausente se reemplaza por cadena vacía, nunca es error:
// un saludo sin nombre sigue siendo un saludo.
func RenderTemplate(text string, variables map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return templateRegex.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(templateRegex.FindStringSubmatch(match)[1])
		return variables[name]
	})
}

// TemplateVariables retorna los nombres de variables referenciados en un texto
func TemplateVariables(text string) []string {
	matches := templateRegex.FindAllStringSubmatch(text, -1)
	names := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
