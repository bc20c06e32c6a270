package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"loan-orchestrator/internal/common/config"
	"loan-orchestrator/internal/common/errors"
	commonhttp "loan-orchestrator/internal/common/http"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/validation"
	"loan-orchestrator/internal/models"
)

const providerName = "genai"

var (
	faceMatchSchema = validation.MustCompile(`{
		"type": "object",
		"required": ["isMatch", "confidence", "reason"],
		"properties": {
			"isMatch":       {"type": "boolean"},
			"confidence":    {"type": "number"},
			"reason":        {"type": "string"},
			"extractedName": {"type": "string"},
			"idType":        {"type": "string"}
		}
	}`)

	documentSchema = validation.MustCompile(`{
		"type": "object",
		"required": ["documentType", "fraudRiskScore"],
		"properties": {
			"isAuthentic":        {"type": "boolean"},
			"documentType":       {"type": "string"},
			"extractedIncome":    {"type": "number"},
			"employerName":       {"type": "string"},
			"fraudRiskScore":     {"type": "number"},
			"deviceRiskAnalysis": {"type": "string"},
			"notes":              {"type": "string"}
		}
	}`)
)

// GenAIClient talks to a Gemini-style generateContent endpoint.
type GenAIClient struct {
	http    *commonhttp.Client
	baseURL string
	apiKey  string
	model   string
	logger  logger.Logger
}

func NewGenAIClient(cfg config.ProvidersConfig, log logger.Logger) *GenAIClient {
	return &GenAIClient{
		// Per-attempt deadlines come from the context; this is a backstop.
		http:    commonhttp.NewClient(2 * time.Minute),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		logger:  log.WithFields(map[string]interface{}{"component": "genai-client"}),
	}
}

type genPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type genContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []genPart `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents          []genContent      `json:"contents"`
	SystemInstruction *genContent       `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content genContent `json:"content"`
	} `json:"candidates"`
}

func imagePart(img []byte) genPart {
	return genPart{InlineData: &inlineData{
		MimeType: http.DetectContentType(img),
		Data:     base64.StdEncoding.EncodeToString(img),
	}}
}

func jsonConfig() *generationConfig {
	return &generationConfig{ResponseMimeType: "application/json"}
}

func (c *GenAIClient) MatchFace(ctx context.Context, req FaceMatchRequest) (*models.VerificationResult, error) {
	if len(req.IDImage) == 0 || len(req.SelfieImage) == 0 {
		return nil, errors.NewProviderRejectedError(providerName, stderrors.New("both images are required"))
	}
	text, err := c.generate(ctx, generateRequest{
		Contents: []genContent{{
			Role:  "user",
			Parts: []genPart{{Text: faceMatchPrompt(req)}, imagePart(req.IDImage), imagePart(req.SelfieImage)},
		}},
		GenerationConfig: jsonConfig(),
	})
	if err != nil {
		return nil, err
	}

	var result models.VerificationResult
	if err := decodeValidated(text, faceMatchSchema, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *GenAIClient) AnalyzeDocument(ctx context.Context, req DocumentRequest) (*models.DocumentAnalysisResult, error) {
	if len(req.Image) == 0 {
		return nil, errors.NewProviderRejectedError(providerName, stderrors.New("document image is required"))
	}
	text, err := c.generate(ctx, generateRequest{
		Contents: []genContent{{
			Role:  "user",
			Parts: []genPart{{Text: documentPrompt(req)}, imagePart(req.Image)},
		}},
		GenerationConfig: jsonConfig(),
	})
	if err != nil {
		return nil, err
	}

	var result models.DocumentAnalysisResult
	if err := decodeValidated(text, documentSchema, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *GenAIClient) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	switch req.Kind {
	case TemplateContract:
		return c.generate(ctx, generateRequest{
			Contents: []genContent{{Role: "user", Parts: []genPart{{Text: contractPrompt(req)}}}},
		})

	case TemplateChat:
		contents := make([]genContent, 0, len(req.History)+1)
		for _, m := range req.History {
			role := m.Role
			if role != "model" {
				role = "user"
			}
			contents = append(contents, genContent{Role: role, Parts: []genPart{{Text: m.Text}}})
		}
		contents = append(contents, genContent{Role: "user", Parts: []genPart{{Text: req.Message}}})
		return c.generate(ctx, generateRequest{
			Contents:          contents,
			SystemInstruction: &genContent{Parts: []genPart{{Text: chatSystemInstruction(req)}}},
		})

	default:
		return "", errors.NewProviderRejectedError(providerName, fmt.Errorf("unknown template %q", req.Kind))
	}
}

// generate posts one request and returns the first candidate's text.
// 429 and 5xx are reported as unavailable, other 4xx as rejected.
func (c *GenAIClient) generate(ctx context.Context, body generateRequest) (string, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	resp, err := c.http.PostJSON(ctx, url, map[string]string{"x-goog-api-key": c.apiKey}, body)
	if err != nil {
		return "", errors.NewProviderUnavailableError(providerName, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", errors.NewProviderUnavailableError(providerName, fmt.Errorf("status %d", resp.StatusCode))
	case !resp.OK():
		c.logger.Warn("Provider rejected request", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   truncate(string(resp.Body), 256),
		})
		return "", errors.NewProviderRejectedError(providerName, fmt.Errorf("status %d", resp.StatusCode))
	}

	var decoded generateResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", errors.NewProviderRejectedError(providerName, fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Candidates) == 0 {
		return "", errors.NewProviderRejectedError(providerName, stderrors.New("no candidates"))
	}

	var text strings.Builder
	for _, p := range decoded.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", errors.NewProviderRejectedError(providerName, stderrors.New("empty candidate"))
	}
	return text.String(), nil
}

// decodeValidated checks the model's JSON against schema before decoding.
func decodeValidated(text string, schema *validation.Schema, out interface{}) error {
	raw := []byte(stripFences(text))
	if result := schema.ValidateJSON(raw); !result.Valid {
		return errors.NewProviderRejectedError(providerName, fmt.Errorf("response failed schema: %s", result.Error()))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.NewProviderRejectedError(providerName, err)
	}
	return nil
}

// stripFences removes a ```json fence some models wrap around JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
