package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultSearchResults = 10
	maxSearchResults     = 100
	// searchWithAIResults is the result count fed into the AI prompt.
	searchWithAIResults = 5
	// searchModel is the label the front-end shows for search answers.
	searchModel = "nexorax2-search"
)

// serpResponse is the subset of the SerpAPI payload we use. Nested
// objects stay untyped because their shape varies by query.
type serpResponse struct {
	AnswerBox         map[string]any   `json:"answer_box"`
	KnowledgeGraph    map[string]any   `json:"knowledge_graph"`
	OrganicResults    []map[string]any `json:"organic_results"`
	SearchInformation map[string]any   `json:"search_information"`
}

func (r serpResponse) totalResults() int64 {
	switch v := r.SearchInformation["total_results"].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(strings.ReplaceAll(v, ",", ""), 10, 64)
		return n
	}
	return 0
}

// SearchResults is the condensed search payload.
type SearchResults struct {
	Query          string           `json:"query"`
	Answer         string           `json:"answer"`
	Snippet        string           `json:"snippet"`
	Title          string           `json:"title"`
	Link           string           `json:"link"`
	KnowledgeGraph map[string]any   `json:"knowledge_graph"`
	OrganicResults []map[string]any `json:"organic_results"`
	TotalResults   int64            `json:"total_results"`
}

type SearchResponse struct {
	SearchQuery   string        `json:"search_query"`
	SearchResults SearchResults `json:"search_results"`
	Summary       string        `json:"summary"`
	Timestamp     int64         `json:"timestamp"`
}

type SearchAIResponse struct {
	Query              string          `json:"query"`
	Model              string          `json:"model"`
	SearchPerformed    bool            `json:"search_performed"`
	SearchResultsCount int             `json:"search_results_count"`
	AIResponse         json.RawMessage `json:"ai_response"`
	SearchContext      string          `json:"search_context"`
	Timestamp          int64           `json:"timestamp"`
}

func (c *Client) serpSearch(ctx context.Context, query string, num int) (serpResponse, error) {
	key, err := c.key(SerpAPI)
	if err != nil {
		return serpResponse{}, err
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("engine", "google")
	q.Set("api_key", key)
	q.Set("num", strconv.Itoa(num))
	q.Set("hl", "vi")
	q.Set("gl", "vn")
	u := strings.TrimRight(c.serp.BaseURL, "/") + "/search.json?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return serpResponse{}, err
	}
	body, err := c.do(SerpAPI, req)
	if err != nil {
		return serpResponse{}, err
	}
	var sr serpResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return serpResponse{}, fmt.Errorf("decode serpapi response: %w", err)
	}
	return sr, nil
}

// Search runs a web search and returns the condensed results with a
// plain-text summary.
func (c *Client) Search(ctx context.Context, query string, num int) (SearchResponse, error) {
	if num <= 0 {
		num = defaultSearchResults
	}
	num = min(num, maxSearchResults)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	sr, err := c.serpSearch(ctx, query, num)
	if err != nil {
		return SearchResponse{}, err
	}
	res := SearchResults{
		Query:          query,
		Answer:         str(sr.AnswerBox, "answer"),
		Snippet:        str(sr.AnswerBox, "snippet"),
		Title:          str(sr.AnswerBox, "title"),
		Link:           str(sr.AnswerBox, "link"),
		KnowledgeGraph: sr.KnowledgeGraph,
		OrganicResults: sr.OrganicResults[:min(5, len(sr.OrganicResults))],
		TotalResults:   sr.totalResults(),
	}
	if res.KnowledgeGraph == nil {
		res.KnowledgeGraph = map[string]any{}
	}
	if res.OrganicResults == nil {
		res.OrganicResults = []map[string]any{}
	}
	return SearchResponse{
		SearchQuery:   query,
		SearchResults: res,
		Summary:       summarize(res),
		Timestamp:     c.now().Unix(),
	}, nil
}

// SearchWithAI searches first and then asks Gemini to answer using the
// results as context. The whole exchange shares the long timeout.
func (c *Client) SearchWithAI(ctx context.Context, query string) (SearchAIResponse, error) {
	if _, err := c.key(Gemini); err != nil {
		return SearchAIResponse{}, err
	}
	if _, err := c.key(SerpAPI); err != nil {
		return SearchAIResponse{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.longTimeout)
	defer cancel()

	sr, err := c.serpSearch(ctx, query, searchWithAIResults)
	if err != nil {
		return SearchAIResponse{}, err
	}
	sc := searchContext(sr)
	payload, err := json.Marshal(generateRequest(searchPrompt(query, sc)))
	if err != nil {
		return SearchAIResponse{}, err
	}
	ai, err := c.Generate(ctx, c.gemini.Model, payload)
	if err != nil {
		return SearchAIResponse{}, err
	}
	return SearchAIResponse{
		Query:              query,
		Model:              searchModel,
		SearchPerformed:    true,
		SearchResultsCount: len(sr.OrganicResults),
		AIResponse:         ai,
		SearchContext:      sc,
		Timestamp:          c.now().Unix(),
	}, nil
}

func summarize(r SearchResults) string {
	var parts []string
	if r.Answer != "" {
		parts = append(parts, "Answer: "+r.Answer)
	}
	if r.Snippet != "" {
		parts = append(parts, "Summary: "+r.Snippet)
	}
	if r.Title != "" {
		parts = append(parts, "Title: "+r.Title)
	}
	if d := str(r.KnowledgeGraph, "description"); d != "" {
		parts = append(parts, "Description: "+d)
	}
	var lines []string
	for _, o := range r.OrganicResults[:min(3, len(r.OrganicResults))] {
		title, snip := str(o, "title"), str(o, "snippet")
		if title == "" || snip == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s...", title, truncateRunes(snip, 100)))
	}
	if len(lines) > 0 {
		parts = append(parts, "Search results:\n"+strings.Join(lines, "\n"))
	}
	if r.TotalResults > 0 {
		parts = append(parts, "Total results: "+thousands(r.TotalResults))
	}
	if len(parts) == 0 {
		return "No relevant information found."
	}
	return strings.Join(parts, "\n\n")
}

func searchContext(sr serpResponse) string {
	var parts []string
	for _, f := range []struct{ label, key string }{
		{"Quick answer", "answer"},
		{"Overview", "snippet"},
		{"Title", "title"},
	} {
		if v := str(sr.AnswerBox, f.key); v != "" {
			parts = append(parts, f.label+": "+v)
		}
	}
	if v := str(sr.KnowledgeGraph, "description"); v != "" {
		parts = append(parts, "Definition: "+v)
	}
	if v := str(sr.KnowledgeGraph, "title"); v != "" {
		parts = append(parts, "Main topic: "+v)
	}
	var lines []string
	for _, o := range sr.OrganicResults[:min(5, len(sr.OrganicResults))] {
		title, snip := str(o, "title"), str(o, "snippet")
		if title != "" && snip != "" {
			lines = append(lines, "- "+title+": "+snip)
		}
	}
	if len(lines) > 0 {
		parts = append(parts, "Google results:\n"+strings.Join(lines, "\n"))
	}
	if n := sr.totalResults(); n > 0 {
		parts = append(parts, "Total results found: "+thousands(n))
	}
	if len(parts) == 0 {
		return "No information was found by the search provider."
	}
	return strings.Join(parts, "\n\n")
}

func searchPrompt(query, sc string) string {
	return "You are NexoraX 2, an assistant with real-time Google Search access. " +
		"Answer the user's question using the search information below and your own knowledge.\n\n" +
		"User question: " + query + "\n\n" +
		"Search information:\n" + sc + "\n\n" +
		"Guidelines:\n" +
		"1. Prefer the search information for accurate, current answers.\n" +
		"2. Fill gaps from your own knowledge.\n" +
		"3. Reply in the user's language, naturally and clearly.\n" +
		"4. Cite sources when they are available.\n" +
		"5. Say so when the information is unclear or contradictory.\n\n" +
		"Answer:"
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateBody struct {
	Contents         []content       `json:"contents"`
	GenerationConfig map[string]any  `json:"generationConfig"`
	SafetySettings   []safetySetting `json:"safetySettings"`
}

func generateRequest(prompt string) generateBody {
	var safety []safetySetting
	for _, cat := range []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	} {
		safety = append(safety, safetySetting{Category: cat, Threshold: "BLOCK_MEDIUM_AND_ABOVE"})
	}
	return generateBody{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: map[string]any{
			"temperature":     0.7,
			"topK":            40,
			"topP":            0.95,
			"maxOutputTokens": 8192,
		},
		SafetySettings: safety,
	}
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// thousands formats n with comma separators.
func thousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
