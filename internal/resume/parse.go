package resume

import (
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"cvadapt/internal/jsonx"
)

var fencePattern = regexp.MustCompile("```json|```")

// errNoJSON means the model reply held nothing that decodes into the target.
var errNoJSON = errors.New("model reply is not valid JSON")

// decodeModelJSON decodes a model reply. Markdown fences are stripped first;
// when strict decoding fails the text is repaired and decoded again.
func decodeModelJSON[T any](reply string) (value T, repaired bool, err error) {
	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(reply, ""))
	if cleaned == "" {
		return value, false, errNoJSON
	}
	var strict T
	if err := jsonx.Unmarshal([]byte(cleaned), &strict); err == nil {
		return strict, false, nil
	}

	candidate := cleaned
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		candidate = cleaned[start : end+1]
	}
	fixed, repairErr := jsonrepair.JSONRepair(candidate)
	if repairErr != nil {
		return value, false, errors.Join(errNoJSON, repairErr)
	}
	if !strings.HasPrefix(strings.TrimSpace(fixed), "{") {
		return value, false, errNoJSON
	}
	var loose T
	if err := jsonx.Unmarshal([]byte(fixed), &loose); err != nil {
		return value, false, errors.Join(errNoJSON, err)
	}
	return loose, true, nil
}
