package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"healthnav/internal/model"
)

const promptTemplate = `You are an AI supervisor for rural health logistics.

Outbreak Summary:
%s
Decide ONE:
- FULL_RECOMPUTE
- LOCAL_REALLOCATION
- MONITOR_ONLY

Respond strictly in this format:

DECISION: <option>
REASON: <short explanation>
`

// Prompt renders the instruction sent to the completion endpoint.
func Prompt(s Summary) string { return fmt.Sprintf(promptTemplate, s.Text()) }

// HTTPAdvisor posts the prompt to a generateContent style completion
// endpoint and parses the reply.
type HTTPAdvisor struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPAdvisor returns nil when url is empty. Check before storing the
// result in an Advisor interface.
func NewHTTPAdvisor(url, apiKey string, timeout time.Duration) *HTTPAdvisor {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAdvisor{url: url, apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (a *HTTPAdvisor) Decide(ctx context.Context, s Summary) (model.StrategyDecision, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: Prompt(s)}}}}})
	if err != nil {
		return model.StrategyDecision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return model.StrategyDecision{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("x-goog-api-key", a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return model.StrategyDecision{}, fmt.Errorf("advisor request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.StrategyDecision{}, fmt.Errorf("advisor returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.StrategyDecision{}, fmt.Errorf("decoding advisor response: %w", err)
	}
	var text bytes.Buffer
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
			text.WriteByte('\n')
		}
	}
	d, err := ParseDecision(text.String())
	if err != nil {
		return model.StrategyDecision{}, err
	}
	d.Source = "llm"
	return d, nil
}
