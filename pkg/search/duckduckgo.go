package search

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3/client"
	"github.com/theapemachine/mnemo/pkg/errors"
)

const DefaultEndpoint = "https://api.duckduckgo.com/"

type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

/*
Searcher is the web-search collaborator behind the web_search tool.
*/
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

/*
DuckDuckGo queries the Instant Answer API. It needs no key, results come
from the abstract first and then related topics, nested groups included.
*/
type DuckDuckGo struct {
	endpoint string
	client   *client.Client
}

func NewDuckDuckGo(endpoint string, timeout time.Duration) *DuckDuckGo {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &DuckDuckGo{
		endpoint: endpoint,
		client:   client.New().SetTimeout(timeout),
	}
}

type instantAnswer struct {
	Heading       string  `json:"Heading"`
	AbstractText  string  `json:"AbstractText"`
	AbstractURL   string  `json:"AbstractURL"`
	RelatedTopics []topic `json:"RelatedTopics"`
}

type topic struct {
	Text     string  `json:"Text"`
	FirstURL string  `json:"FirstURL"`
	Topics   []topic `json:"Topics"`
}

func (ddg *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.Wrap(errors.KindValidation, errors.ErrEmptyText, "search query")
	}

	resp, err := ddg.client.Get(ddg.endpoint, client.Config{
		Ctx: ctx,
		Param: map[string]string{
			"q":           query,
			"format":      "json",
			"no_redirect": "1",
			"no_html":     "1",
		},
	})

	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "duckduckgo")
	}

	defer resp.Close()

	if resp.StatusCode() >= 300 {
		return nil, errors.New(errors.KindTransient, "duckduckgo: status %d", resp.StatusCode())
	}

	var answer instantAnswer

	if err := resp.JSON(&answer); err != nil {
		return nil, errors.Wrap(errors.KindTransient, errors.ErrMalformedResponse, "duckduckgo", err.Error())
	}

	results := flatten(answer, maxResults)
	log.Debug("web search", "query", query, "results", len(results))

	return results, nil
}

/*
flatten turns an instant answer into at most maxResults results.
*/
func flatten(answer instantAnswer, maxResults int) []Result {
	out := make([]Result, 0)

	if answer.AbstractText != "" {
		out = append(out, Result{
			Title:   answer.Heading,
			URL:     answer.AbstractURL,
			Snippet: answer.AbstractText,
		})
	}

	var walk func(topics []topic)

	walk = func(topics []topic) {
		for _, t := range topics {
			if maxResults > 0 && len(out) >= maxResults {
				return
			}

			if len(t.Topics) > 0 {
				walk(t.Topics)
				continue
			}

			if t.Text == "" || t.FirstURL == "" {
				continue
			}

			title, _, _ := strings.Cut(t.Text, " - ")
			out = append(out, Result{Title: title, URL: t.FirstURL, Snippet: t.Text})
		}
	}

	walk(answer.RelatedTopics)

	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}

	return out
}
