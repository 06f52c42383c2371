package orchestrator

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/chunker"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// aiDocument is the JSON shape requested from providers in full mode.
type aiDocument struct {
	Title         string      `json:"title"`
	PromulgatedOn string      `json:"promulgated_on"`
	City          string      `json:"city"`
	Signatories   []string    `json:"signatories"`
	Articles      []aiArticle `json:"articles"`
}

type aiArticle struct {
	Number looseString `json:"number"`
	Text   string      `json:"text"`
}

// looseString accepts a JSON string or number.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = looseString(n.String())
	return nil
}

// cleanJSON strips markdown fences and surrounding prose from a model reply.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func parseAIDocument(reply string) (aiDocument, error) {
	var doc aiDocument
	if err := json.Unmarshal([]byte(cleanJSON(reply)), &doc); err != nil {
		return aiDocument{}, model.DataError(model.CodeMalformedJSON, eris.Wrap(err, "orchestrator: decode ai reply"))
	}
	return doc, nil
}

// mergeDocuments combines per-chunk replies in order. An article that
// reappears in the next chunk was cut by the chunk boundary: its two parts
// are joined and the repeated overlap dropped. An unnumbered article that
// opens a later chunk continues the previous article. Other repeats keep
// their longest text. The title comes from the first chunk that has one and the
// closing metadata from the last.
func mergeDocuments(docs []aiDocument) model.ExtractionResult {
	res := model.ExtractionResult{Articles: []model.Article{}}
	seen := make(map[string]int)
	from := make(map[string]int)

	for c, d := range docs {
		if res.Metadata.Title == "" {
			res.Metadata.Title = strings.TrimSpace(d.Title)
		}
		if v := strings.TrimSpace(d.PromulgatedOn); v != "" {
			res.Metadata.PromulgatedOn = v
		}
		if v := strings.TrimSpace(d.City); v != "" {
			res.Metadata.City = v
		}
		if sig := nonEmpty(d.Signatories); len(sig) > 0 {
			res.Metadata.Signatories = sig
		}

		for j, a := range d.Articles {
			number := strings.TrimSpace(string(a.Number))
			text := strings.TrimSpace(a.Text)
			if text == "" {
				continue
			}
			if number == "" && j == 0 && c > 0 && len(res.Articles) > 0 {
				last := &res.Articles[len(res.Articles)-1]
				last.Text = chunker.Join(last.Text, text)
				from[last.Number] = c
				continue
			}
			if i, ok := seen[number]; ok && number != "" {
				switch {
				case from[number] == c-1:
					res.Articles[i].Text = chunker.Join(res.Articles[i].Text, text)
					from[number] = c
				case len(text) > len(res.Articles[i].Text):
					res.Articles[i].Text = text
				}
				continue
			}
			seen[number] = len(res.Articles)
			from[number] = c
			res.Articles = append(res.Articles, model.Article{
				Index:  len(res.Articles) + 1,
				Number: number,
				Text:   text,
			})
		}
	}
	return res
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
