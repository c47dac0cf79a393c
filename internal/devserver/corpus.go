// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ragchat/internal/stream"
)

// =============================================================================
// CORPUS
// =============================================================================

// Article is one canned answer with the documents it cites.
type Article struct {
	// Keywords select the article; any one found in the query matches.
	Keywords  []string          `yaml:"keywords"`
	Answer    string            `yaml:"answer"`
	Documents []stream.Document `yaml:"documents"`
}

// Corpus answers queries by keyword.
type Corpus struct {
	Articles []Article `yaml:"articles"`
	// Fallback answers queries no article matches.
	Fallback string `yaml:"fallback"`
}

// Match returns the first article with a keyword contained in query,
// ignoring case.
func (c *Corpus) Match(query string) (Article, bool) {
	q := strings.ToLower(query)
	for _, a := range c.Articles {
		for _, kw := range a.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(q, kw) {
				return a, true
			}
		}
	}
	return Article{}, false
}

// Answer returns the text streamed for query.
func (c *Corpus) Answer(query string) string {
	if a, ok := c.Match(query); ok {
		return a.Answer
	}
	return c.Fallback
}

// Documents returns the documents cited for query.
func (c *Corpus) Documents(query string) []stream.Document {
	if a, ok := c.Match(query); ok && a.Documents != nil {
		return a.Documents
	}
	return []stream.Document{}
}

// LoadCorpus reads a YAML corpus file.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse corpus %s: %w", path, err)
	}
	if len(c.Articles) == 0 && c.Fallback == "" {
		return nil, fmt.Errorf("corpus %s has no articles", path)
	}
	return &c, nil
}

func intPtr(n int) *int { return &n }

// DefaultCorpus is the built-in demo content. Its answers exercise the
// content pipeline: headings, lists, an HTML table, inline math and a
// backend image.
func DefaultCorpus() *Corpus {
	return &Corpus{
		Articles: []Article{
			{
				Keywords: []string{"김포", "gimpo", "gmp"},
				Answer: "운영시간은 다음과 같습니다.\n\n" +
					"## 김포공항 운영시간\n\n" +
					"<table><tr><th>구분</th><th>시간</th></tr>" +
					"<tr><td>국내선</td><td>06:00 - 23:00</td></tr>" +
					"<tr><td>국제선</td><td>06:00 - 23:00</td></tr></table>\n\n" +
					"- 심야 시간에는 **항공기 운항이 제한**됩니다.\n" +
					"- 터미널 지도: http://localhost:8080/images/gmp-terminal.png\n",
				Documents: []stream.Document{
					{Filename: "gmp-operations.pdf", PageNumber: intPtr(4), SectionTitle: "운영시간"},
					{Filename: "gmp-terminal-guide.pdf", PageNumber: intPtr(1)},
				},
			},
			{
				Keywords: []string{"gate", "게이트"},
				Answer: "Gates are assigned about **90 minutes** before departure.\n\n" +
					"1. Check the departure board\n" +
					"2. Follow the signs for your gate range\n\n" +
					"Walking time is roughly $t = d / v$ with $v \\approx 1.3$ m/s.",
				Documents: []stream.Document{
					{Filename: "wayfinding.md", SectionTitle: "Gates"},
				},
			},
		},
		Fallback: "I could not find that in the indexed documents. Try asking about **Gimpo** operating hours or gate assignment.",
	}
}
