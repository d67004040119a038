package protocol

// Language describes one transcription language the backend advertises.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SupportedLanguages lists the language codes the backend accepts. The set is
// extensible server-side; an unsupported code is rejected by the backend with
// an error message, so this list is advisory for UIs and the CLI.
func SupportedLanguages() []Language {
	return []Language{
		{Code: "en-US", Name: "English (US)"},
		{Code: "vi-VN", Name: "Vietnamese"},
		{Code: "en-GB", Name: "English (UK)"},
		{Code: "es-ES", Name: "Spanish (Spain)"},
		{Code: "es-US", Name: "Spanish (US)"},
		{Code: "fr-FR", Name: "French"},
		{Code: "de-DE", Name: "German"},
		{Code: "it-IT", Name: "Italian"},
		{Code: "pt-BR", Name: "Portuguese (Brazil)"},
		{Code: "ja-JP", Name: "Japanese"},
		{Code: "ko-KR", Name: "Korean"},
		{Code: "zh-CN", Name: "Chinese (Mandarin)"},
	}
}

// IsKnownLanguage reports whether code appears in the advisory language list.
func IsKnownLanguage(code string) bool {
	for _, l := range SupportedLanguages() {
		if l.Code == code {
			return true
		}
	}
	return false
}
