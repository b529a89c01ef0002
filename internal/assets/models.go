package assets

import _ "embed"

// ModelsData holds the raw JSON catalog of Gemini models and their reasoning
// budget ranges.
//
//go:embed models.json
var ModelsData []byte
