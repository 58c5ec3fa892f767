package suno

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
	"github.com/0xshugo/suno-api-mcp/internal/auth"
	"github.com/0xshugo/suno-api-mcp/internal/logging"
)

const (
	// DefaultBaseURL is the studio API used by the suno.com web client.
	DefaultBaseURL = "https://studio-api.prod.suno.com"
	// DefaultUserAgent mirrors a desktop browser.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

	webOrigin     = "https://suno.com"
	maxAPIBody    = 4 << 20
	maxAudioBytes = 512 << 20
)

// AccessSource hands out access credentials for provider calls.
// *auth.Monitor satisfies it.
type AccessSource interface {
	EnsureValidAccess(ctx context.Context) (auth.AccessCredential, error)
	Invalidate(token string)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL           string
	DeviceID          string
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *logging.Logger
	Now               func() time.Time
}

// Client talks to the studio API. Every request acquires a valid access
// credential first, so a long poll never outlives its token.
type Client struct {
	cfg     ClientConfig
	access  AccessSource
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewClient creates a studio API client.
func NewClient(access AccessSource, cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		cfg:     cfg,
		access:  access,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
	}
}

// GenerateRequest is one text-to-music submission.
type GenerateRequest struct {
	Tags         string
	Title        string
	Prompt       string
	Instrumental bool
	Model        string
	// TransactionID identifies the submission to the provider.
	TransactionID string
}

type generateMetadata struct {
	WebClientPathname string `json:"web_client_pathname"`
	IsMaxMode         bool   `json:"is_max_mode"`
	IsMumble          bool   `json:"is_mumble"`
	CreateMode        string `json:"create_mode"`
}

// generatePayload is the body the web client posts. Unused fields are sent
// as null because the endpoint rejects payloads that omit them.
type generatePayload struct {
	Token                  *string          `json:"token"`
	GenerationType         string           `json:"generation_type"`
	Title                  string           `json:"title"`
	Tags                   string           `json:"tags"`
	NegativeTags           string           `json:"negative_tags"`
	ArtistClipID           *string          `json:"artist_clip_id"`
	ArtistEndS             *float64         `json:"artist_end_s"`
	ArtistStartS           *float64         `json:"artist_start_s"`
	ContinueAt             *float64         `json:"continue_at"`
	ContinueClipID         *string          `json:"continue_clip_id"`
	ContinuedAlignedPrompt *string          `json:"continued_aligned_prompt"`
	CoverClipID            *string          `json:"cover_clip_id"`
	CoverEndS              *float64         `json:"cover_end_s"`
	CoverStartS            *float64         `json:"cover_start_s"`
	MakeInstrumental       bool             `json:"make_instrumental"`
	Metadata               generateMetadata `json:"metadata"`
	MV                     string           `json:"mv"`
	OverrideFields         []string         `json:"override_fields"`
	PersonaID              *string          `json:"persona_id"`
	Prompt                 string           `json:"prompt"`
	TransactionUUID        string           `json:"transaction_uuid"`
	UserUploadedImagesB64  *[]string        `json:"user_uploaded_images_b64"`
}

// Clip is one generated track as reported by the feed.
type Clip struct {
	ID           string `json:"id"`
	Title        string `json:"title,omitempty"`
	Status       string `json:"status"`
	AudioURL     string `json:"audio_url,omitempty"`
	WAVURL       string `json:"wav_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Clip statuses reported by the feed.
const (
	ClipComplete  = "complete"
	ClipError     = "error"
	ClipStreaming = "streaming"
)

// Credits is the billing summary.
type Credits struct {
	TotalCreditsLeft int64  `json:"total_credits_left"`
	Period           string `json:"period"`
	MonthlyUsage     int64  `json:"monthly_usage"`
	MonthlyLimit     int64  `json:"monthly_limit"`
}

// Generate submits a generation and returns the provider clip ids.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([]string, error) {
	mode := "simple"
	if req.Prompt != "" {
		mode = "custom"
	}
	payload := generatePayload{
		GenerationType:   "TEXT",
		Title:            req.Title,
		Tags:             req.Tags,
		MakeInstrumental: req.Instrumental,
		Metadata: generateMetadata{
			WebClientPathname: "/create",
			CreateMode:        mode,
		},
		MV:              req.Model,
		OverrideFields:  []string{},
		Prompt:          req.Prompt,
		TransactionUUID: req.TransactionID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generate request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/generate/v2-web/", body)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, id := range gjson.GetBytes(resp, "clips.#.id").Array() {
		if id.String() != "" {
			ids = append(ids, id.String())
		}
	}
	if len(ids) == 0 {
		return nil, apperr.Provider("generate", "", "no clips returned: %s", truncate(string(resp), 300))
	}
	return ids, nil
}

// Feed fetches the current state of the given clips.
func (c *Client) Feed(ctx context.Context, ids []string) ([]Clip, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	resp, err := c.do(ctx, http.MethodGet, "/api/feed/v2?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var clips []Clip
	gjson.GetBytes(resp, "clips").ForEach(func(_, v gjson.Result) bool {
		wav := v.Get("audio_url_wav").String()
		if wav == "" {
			wav = v.Get("wav_url").String()
		}
		clips = append(clips, Clip{
			ID:           v.Get("id").String(),
			Title:        v.Get("title").String(),
			Status:       v.Get("status").String(),
			AudioURL:     v.Get("audio_url").String(),
			WAVURL:       wav,
			ErrorMessage: v.Get("error_message").String(),
		})
		return true
	})
	return clips, nil
}

// Credits returns the account's billing summary.
func (c *Client) Credits(ctx context.Context) (Credits, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/billing/info/", nil)
	if err != nil {
		return Credits{}, err
	}
	return Credits{
		TotalCreditsLeft: gjson.GetBytes(resp, "total_credits_left").Int(),
		Period:           gjson.GetBytes(resp, "period").String(),
		MonthlyUsage:     gjson.GetBytes(resp, "monthly_usage").Int(),
		MonthlyLimit:     gjson.GetBytes(resp, "monthly_limit").Int(),
	}, nil
}

// Fetch downloads an artifact. Artifact URLs are public CDN links and
// carry no credentials.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.Validation("fetch", "invalid artifact url %q", rawURL)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, apperr.Transient("fetch", apperr.ClassTransient, err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, statusError("fetch", resp.StatusCode, body)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, apperr.Transient("fetch", apperr.ClassTransient, fmt.Errorf("failed to read artifact: %w", err))
	}
	return data, nil
}

// ProbeAudio reports whether rawURL answers HEAD with 200 and an audio
// content type.
func (c *Client) ProbeAudio(ctx context.Context, rawURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false, nil
	}
	return strings.HasPrefix(mediaType, "audio/"), nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	op := method + " " + strings.SplitN(path, "?", 2)[0]

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.Transient(op, apperr.ClassTransient, err)
	}

	cred, err := c.access.EnsureValidAccess(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, cred.Token)

	c.logger.Debug("%s", op)
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, apperr.Transient(op, apperr.ClassTransient, err)
	}
	defer c.closeBody(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return nil, apperr.Transient(op, apperr.ClassTransient, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.access.Invalidate(cred.Token)
		}
		return nil, statusError(op, resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("browser-token", browserToken(c.cfg.Now()))
	req.Header.Set("device-id", c.cfg.DeviceID)
	req.Header.Set("referring-pathname", "/home")
	req.Header.Set("Origin", webOrigin)
	req.Header.Set("Referer", webOrigin+"/")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
}

func (c *Client) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Debug("response body close error: %v", err)
	}
}

// browserToken builds the timestamp token the web client attaches to
// every request.
func browserToken(now time.Time) string {
	ts := `{"timestamp":` + strconv.FormatInt(now.UnixMilli(), 10) + `}`
	return `{"token":"` + base64.StdEncoding.EncodeToString([]byte(ts)) + `"}`
}

// statusError maps a non-2xx provider status to the error taxonomy.
func statusError(op string, code int, body []byte) *apperr.Error {
	detail := fmt.Errorf("status %d: %s", code, truncate(strings.TrimSpace(string(body)), 300))
	switch {
	case code == http.StatusUnauthorized:
		return apperr.Auth(op, apperr.ClassExpiredOrInvalid, detail)
	case code == http.StatusPaymentRequired:
		return apperr.Provider(op, "insufficient_credits", "insufficient credits")
	case code == http.StatusForbidden:
		return apperr.Auth(op, apperr.ClassForbidden, detail)
	case code == http.StatusTooManyRequests:
		return apperr.Transient(op, apperr.ClassRateLimited, detail)
	case code >= 500:
		return apperr.Transient(op, apperr.ClassTransient, detail)
	default:
		return apperr.Provider(op, "", "%v", detail)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
