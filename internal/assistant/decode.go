package assistant

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/vade/internal/domain"
)

// ParsedResponse is a reply that satisfied the contract.
type ParsedResponse struct {
	Updates     []domain.CodeUpdate
	Explanation string
}

type rawReply struct {
	Updates     *[]rawUpdate `json:"updates"`
	Explanation *string      `json:"explanation"`
}

type rawUpdate struct {
	Language *string `json:"language"`
	Content  *string `json:"content"`
}

// Decode validates a raw model reply against the response contract.
//
// Surrounding whitespace is ignored. The reply must be exactly one JSON
// object with a string "explanation" and an optional "updates" array whose
// entries carry a known "language" and a string "content". Unknown fields
// and trailing data are violations. All failures are *ContractError.
func Decode(raw string) (ParsedResponse, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return ParsedResponse{}, contractError(raw, "reply is not a JSON object", nil)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.DisallowUnknownFields()

	var r rawReply
	if err := dec.Decode(&r); err != nil {
		return ParsedResponse{}, contractError(raw, "malformed reply", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return ParsedResponse{}, contractError(raw, "trailing data after reply object", nil)
	}

	if r.Explanation == nil {
		return ParsedResponse{}, contractError(raw, `missing "explanation"`, nil)
	}

	out := ParsedResponse{Explanation: *r.Explanation}
	if r.Updates == nil {
		return out, nil
	}

	out.Updates = make([]domain.CodeUpdate, 0, len(*r.Updates))
	for i, u := range *r.Updates {
		if u.Language == nil {
			return ParsedResponse{}, contractError(raw, fmt.Sprintf(`updates[%d]: missing "language"`, i), nil)
		}
		if u.Content == nil {
			return ParsedResponse{}, contractError(raw, fmt.Sprintf(`updates[%d]: missing "content"`, i), nil)
		}
		lang, err := domain.ParseLanguage(*u.Language)
		if err != nil {
			return ParsedResponse{}, contractError(raw, fmt.Sprintf("updates[%d]", i), err)
		}
		out.Updates = append(out.Updates, domain.CodeUpdate{Language: lang, Content: *u.Content})
	}
	return out, nil
}
