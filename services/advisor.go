package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/retry"
)

// httpClient wird für alle externen HTTP-Anfragen in diesem Service verwendet.
var httpClient = &http.Client{Timeout: 60 * time.Second}

// advisorPromptTemplate ist der Arbeitsauftrag an das Sprachmodell. Die
// Antwort muss ein JSON-Objekt mit genau den erwarteten Schlüsseln sein.
const advisorPromptTemplate = `Convert this natural language request into structured PubMed and Global Index Medicus search queries:

Request: %s

Requirements:
- PubMed: Use [field] syntax (e.g., [Title/Abstract])
- GIM: Use plain keywords with boolean operators, no field tags
- Include boolean operators
- Return JSON with keys "pubmed_query" and "gim_query"`

// QuerySuggestion ist die strukturierte Antwort des Advisors.
type QuerySuggestion struct {
	PubmedQuery string `json:"pubmed_query"`
	GIMQuery    string `json:"gim_query"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Advisor übersetzt natürlichsprachliche Rechercheaufträge über eine
// OpenAI-kompatible Chat-API in fertige Suchanfragen.
type Advisor struct {
	Config *config.Config
	Logger *zap.Logger

	policy retry.Policy
}

// NewAdvisor erstellt eine neue Instanz des Advisors.
func NewAdvisor(cfg *config.Config, logger *zap.Logger) *Advisor {
	return &Advisor{
		Config: cfg,
		Logger: logger,
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
			RetryIf:     retry.IsTransient,
		},
	}
}

// Enabled meldet, ob ein API-Key konfiguriert ist.
func (adv *Advisor) Enabled() bool {
	return adv.Config.AdvisorAPIKey != ""
}

// Suggest schickt den Rechercheauftrag an das Modell und parst die
// strukturierte Antwort.
func (adv *Advisor) Suggest(ctx context.Context, request string) (*QuerySuggestion, error) {
	if !adv.Enabled() {
		return nil, fmt.Errorf("advisor ist nicht konfiguriert")
	}

	payload := chatRequest{
		Model: adv.Config.AdvisorModel,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(advisorPromptTemplate, request)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(adv.Config.AdvisorBaseURL, "/") + "/chat/completions"

	var parsed chatResponse
	err = adv.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+adv.Config.AdvisorAPIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			return retry.Transient(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retry.Transient(fmt.Errorf("advisor request failed: status %d", resp.StatusCode))
		default:
			return fmt.Errorf("advisor request failed: status %d", resp.StatusCode)
		}

		parsed = chatResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("advisor-antwort nicht lesbar: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("advisor-antwort enthält keine Vorschläge")
	}

	var suggestion QuerySuggestion
	content := parsed.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &suggestion); err != nil {
		adv.Logger.Warn("Advisor lieferte kein valides JSON", zap.String("content", content))
		return nil, fmt.Errorf("advisor-antwort nicht parsebar: %w", err)
	}

	adv.Logger.Info("Advisor-Vorschlag erzeugt",
		zap.String("pubmed_query", suggestion.PubmedQuery),
		zap.String("gim_query", suggestion.GIMQuery))
	return &suggestion, nil
}
