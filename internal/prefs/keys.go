package prefs

import "strings"

const (
	// KeyTheme and its two aliases are always written together; readers
	// check them in this order.
	KeyTheme      = "sati_theme"
	KeyThemeLight = "light"
	KeyThemeAlias = "theme"

	KeyProvider      = "sati_api_provider"
	KeySelectedModel = "sati_selected_model"
	KeyConversations = "sati_conversations"

	KeyCodePrefix      = "sati_programming_code_"
	KeyTerminalHistory = "sati_programming_terminal_history"
	KeyTerminalOutput  = "sati_programming_terminal_output"

	KeyMaterialsCategory = "sati_materials_category"
	KeyMaterialsBranch   = "sati_materials_branch"
	KeyMaterialsResource = "sati_materials_resource"
)

var knownKeys = map[string]bool{
	KeyTheme:             true,
	KeyThemeLight:        true,
	KeyThemeAlias:        true,
	KeyProvider:          true,
	KeySelectedModel:     true,
	KeyConversations:     true,
	KeyTerminalHistory:   true,
	KeyTerminalOutput:    true,
	KeyMaterialsCategory: true,
	KeyMaterialsBranch:   true,
	KeyMaterialsResource: true,
}

// CodeKey is the key of the editor buffer for language
func CodeKey(language string) string {
	return KeyCodePrefix + language
}

// IsKnownKey reports whether key is one of the persisted preference keys
func IsKnownKey(key string) bool {
	if knownKeys[key] {
		return true
	}
	lang, ok := strings.CutPrefix(key, KeyCodePrefix)
	return ok && isLanguageName(lang)
}

func isLanguageName(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '+' || r == '#') {
			return false
		}
	}
	return true
}
