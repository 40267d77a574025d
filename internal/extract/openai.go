package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const extractionInstruction = `You are reading one page of a scanned insurance
remittance (explanation of payment) document. Return every payment line item
on the page as structured JSON. Use line_type "medical_service" for claim
service lines, "incentive_bonus" for quality or incentive payments,
"adjustment" for standalone adjustment rows, and "summary_total" for the
check or EFT total row. Amounts are dollars. If the page contains no payment
data (cover page, blank page), return an empty items array.`

// OpenAIConfig holds configuration for the OpenAI-backed extraction client.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string        // Optional (tests)
	Timeout    time.Duration // Per-request HTTP timeout
	MaxRetries int           // Attempt budget for transient upstream errors
	RetryDelay time.Duration // Base backoff delay
	RateLimit  int           // Requests per minute
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIClient implements Client against the OpenAI chat completions API.
type OpenAIClient struct {
	model      string
	maxRetries int
	retryDelay time.Duration
	limiter    *RateLimiter
	client     openai.Client
}

// requestSchema is the decoded form of responseSchema, sent with each call.
var requestSchema = func() map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(responseSchema), &m); err != nil {
		panic(fmt.Sprintf("invalid extraction response schema: %v", err))
	}
	return m
}()

// NewOpenAIClient creates a new extraction client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries are handled here, where the job attempt budget lives.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		limiter:    NewRateLimiter(cfg.RateLimit),
		client:     openai.NewClient(opts...),
	}
}

// ExtractPage runs one page through the service with bounded retry on
// transient upstream errors, honoring the server's retry hint when present.
func (c *OpenAIClient) ExtractPage(ctx context.Context, req Request) (*Result, error) {
	var result *Result

	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			res, err := c.extractOnce(ctx, req)
			if err != nil {
				if errors.Is(err, ErrRateLimited) {
					c.limiter.Record429()
				}
				return err
			}
			result = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(func(n uint, err error, cfg *retry.Config) time.Duration {
			if hint := retryAfterOf(err); hint > 0 {
				return hint
			}
			return retry.BackOffDelay(n, err, cfg)
		}),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *OpenAIClient) extractOnce(ctx context.Context, req Request) (*Result, error) {
	pageData := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(req.PagePDF)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionInstruction),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("Extract all payment line items from this page."),
				openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
					Filename: openai.String(fmt.Sprintf("page-%03d.pdf", req.PageNumber)),
					FileData: openai.String(pageData),
				}),
			}),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "remittance_page_extraction",
					Schema: requestSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &UpstreamError{
			Class: ErrUnavailable,
			Err:   errors.New("response contained no choices"),
		}
	}

	// An empty payload is a successful zero-item extraction (blank page).
	return parseResponse(resp.Choices[0].Message.Content)
}

// classifyError maps SDK errors onto the pipeline's error classes. Rate
// limiting and upstream unavailability are retryable; anything else is a
// permanent extraction error for this page attempt.
func classifyError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return &UpstreamError{
				Class:      ErrRateLimited,
				Status:     apierr.StatusCode,
				RetryAfter: retryAfterHeader(apierr.Response),
				Err:        err,
			}
		case apierr.StatusCode >= 500:
			return &UpstreamError{
				Class:      ErrUnavailable,
				Status:     apierr.StatusCode,
				RetryAfter: retryAfterHeader(apierr.Response),
				Err:        err,
			}
		default:
			return &UpstreamError{Status: apierr.StatusCode, Err: err}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Transport-level failure: the service is unreachable, treat as
	// unavailable so the attempt budget applies.
	return &UpstreamError{Class: ErrUnavailable, Err: err}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
