package suno

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
	"github.com/0xshugo/suno-api-mcp/internal/audio"
	"github.com/0xshugo/suno-api-mcp/internal/logging"
	"github.com/0xshugo/suno-api-mcp/internal/output"
)

// Generation defaults.
const (
	DefaultTags                = "Liquid Drum and Bass, atmospheric, deep, rolling bassline"
	DefaultModel               = "chirp-crow"
	DefaultMaxTagsLength       = 200
	DefaultDownloadConcurrency = 2
)

// Models lists the accepted model identifiers.
var Models = []string{"chirp-crow", "chirp-v4", "chirp-v3-5"}

// Provider is the music service as seen by the orchestrator. *Client
// implements it.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) ([]string, error)
	Feed(ctx context.Context, ids []string) ([]Clip, error)
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	ProbeAudio(ctx context.Context, rawURL string) (bool, error)
}

// Writer persists artifacts. *output.Router implements it.
type Writer interface {
	Write(ctx context.Context, target output.Target, filename string, data []byte) (output.WriteResult, error)
}

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobSubmitted JobStatus = "submitted"
	JobPolling   JobStatus = "polling"
	JobReady     JobStatus = "ready"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobReady || s == JobFailed
}

// Params are the caller-supplied generation parameters.
type Params struct {
	Tags         string `json:"tags"`
	Title        string `json:"title"`
	Prompt       string `json:"prompt,omitempty"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
}

// Job tracks one generation for the duration of a single call.
type Job struct {
	Params       Params    `json:"params"`
	ProviderIDs  []string  `json:"provider_ids"`
	Status       JobStatus `json:"status"`
	Clips        []Clip    `json:"clips,omitempty"`
	ArtifactURLs []string  `json:"artifact_urls,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Err          error     `json:"-"`
}

// advance moves the job to s unless it is already terminal.
func (j *Job) advance(s JobStatus) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = s
	return true
}

// fail marks the job failed and returns err. The first failure sticks.
func (j *Job) fail(err error) error {
	if j.advance(JobFailed) {
		j.Err = err
	}
	return err
}

// Artifact is one clip normalised to WAV.
type Artifact struct {
	Clip     Clip   `json:"clip"`
	Filename string `json:"filename"`
	// Strategy names how the WAV was obtained: direct, derived or converted.
	Strategy string `json:"strategy,omitempty"`
	Data     []byte `json:"-"`
	Err      error  `json:"-"`
}

// TrackResult is the outcome for one clip after it was written.
type TrackResult struct {
	ClipID     string              `json:"clip_id"`
	Filename   string              `json:"filename,omitempty"`
	PreviewURL string              `json:"preview_url,omitempty"`
	Strategy   string              `json:"strategy,omitempty"`
	Write      *output.WriteResult `json:"write,omitempty"`
	Err        error               `json:"-"`
}

// Config configures an Orchestrator.
type Config struct {
	Provider            Provider
	Converter           audio.Converter
	Output              Writer
	Policy              PollPolicy
	DefaultModel        string
	MaxTagsLength       int
	DownloadConcurrency int
	Logger              *logging.Logger
	Now                 func() time.Time
	NewID               func() string
}

// Orchestrator drives submit, poll, materialise and write. It keeps no
// state between calls; each Job belongs to the call that created it.
type Orchestrator struct {
	cfg    Config
	logger *logging.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	cfg.Policy = cfg.Policy.withDefaults()
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.MaxTagsLength < 1 {
		cfg.MaxTagsLength = DefaultMaxTagsLength
	}
	if cfg.DownloadConcurrency < 1 {
		cfg.DownloadConcurrency = DefaultDownloadConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{cfg: cfg, logger: logger}
}

// Normalize fills defaults and validates p without any network call.
func (o *Orchestrator) Normalize(p Params) (Params, error) {
	p.Tags = strings.TrimSpace(p.Tags)
	if p.Tags == "" {
		p.Tags = DefaultTags
	}
	if n := utf8.RuneCountInString(p.Tags); n > o.cfg.MaxTagsLength {
		return p, apperr.Validation("submit", "tags are %d characters, the limit is %d", n, o.cfg.MaxTagsLength)
	}

	p.Model = strings.TrimSpace(p.Model)
	if p.Model == "" {
		p.Model = o.cfg.DefaultModel
	}
	known := false
	for _, m := range Models {
		if m == p.Model {
			known = true
			break
		}
	}
	if !known {
		return p, apperr.Validation("submit", "unknown model %q (valid: %s)", p.Model, strings.Join(Models, ", "))
	}

	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		p.Title = FallbackTitle()
	}
	return p, nil
}

// Submit validates p and posts the generation. Validation failures return
// a nil job. Provider failures return the failed job with the error.
func (o *Orchestrator) Submit(ctx context.Context, p Params) (*Job, error) {
	p, err := o.Normalize(p)
	if err != nil {
		return nil, err
	}

	job := &Job{Params: p, Status: JobSubmitted, CreatedAt: o.cfg.Now()}
	o.logger.Info("Generating: tags=%s, title=%s, instrumental=%v, model=%s", p.Tags, p.Title, p.Instrumental, p.Model)

	ids, err := o.cfg.Provider.Generate(ctx, GenerateRequest{
		Tags:          p.Tags,
		Title:         p.Title,
		Prompt:        p.Prompt,
		Instrumental:  p.Instrumental,
		Model:         p.Model,
		TransactionID: o.cfg.NewID(),
	})
	if err != nil {
		return job, job.fail(err)
	}
	job.ProviderIDs = ids
	o.logger.Info("Started generation: %s", strings.Join(ids, ", "))
	return job, nil
}

// PollUntilReady polls the feed until every clip is final, a
// non-retryable error occurs or the policy timeout elapses.
func (o *Orchestrator) PollUntilReady(ctx context.Context, job *Job) error {
	if job.Status.Terminal() {
		return job.Err
	}
	job.advance(JobPolling)

	policy := o.cfg.Policy
	pollCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	bo := policy.newBackOff()
	start := o.cfg.Now()
	failures := 0

	for {
		clips, err := o.cfg.Provider.Feed(pollCtx, job.ProviderIDs)
		if pollCtx.Err() != nil {
			return job.fail(pollError(pollCtx.Err(), policy.Timeout))
		}

		if err != nil {
			if !Retryable(err) {
				return job.fail(err)
			}
			failures++
			if failures >= policy.MaxErrors {
				return job.fail(fmt.Errorf("giving up after %d consecutive poll errors: %w", failures, err))
			}
			wait := bo.NextBackOff()
			o.logger.Warning("Poll failed (%d/%d), retrying in %s: %v", failures, policy.MaxErrors, wait.Round(time.Millisecond), err)
			if err := sleep(pollCtx, wait); err != nil {
				return job.fail(pollError(err, policy.Timeout))
			}
			continue
		}

		failures = 0
		bo.Reset()

		if policy.finished(job.ProviderIDs, clips) {
			return o.settle(job, clips)
		}

		o.logger.Info("Generation in progress... (%.0fs)", o.cfg.Now().Sub(start).Seconds())
		if err := sleep(pollCtx, policy.Interval); err != nil {
			return job.fail(pollError(err, policy.Timeout))
		}
	}
}

// settle records final clips. The job is ready when at least one clip
// completed.
func (o *Orchestrator) settle(job *Job, clips []Clip) error {
	job.Clips = clips
	var reasons []string
	for _, c := range clips {
		if c.Status == ClipError {
			reasons = append(reasons, fmt.Sprintf("%s: %s", c.ID, errorMessage(c)))
			continue
		}
		if c.WAVURL != "" {
			job.ArtifactURLs = append(job.ArtifactURLs, c.WAVURL)
		}
		if c.AudioURL != "" {
			job.ArtifactURLs = append(job.ArtifactURLs, c.AudioURL)
		}
	}
	if len(reasons) == len(clips) {
		return job.fail(apperr.Provider("generate", "", "all clips failed (%s)", strings.Join(reasons, "; ")))
	}
	job.advance(JobReady)
	return nil
}

func errorMessage(c Clip) string {
	if c.ErrorMessage == "" {
		return "Unknown error"
	}
	return c.ErrorMessage
}

// Materialize fetches every clip of a ready job as WAV, with at most
// DownloadConcurrency downloads in flight. Per-clip failures are carried
// in Artifact.Err.
func (o *Orchestrator) Materialize(ctx context.Context, job *Job) ([]Artifact, error) {
	if job.Status != JobReady {
		return nil, apperr.Validation("materialize", "job is %s, not ready", job.Status)
	}

	artifacts := make([]Artifact, len(job.Clips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.DownloadConcurrency)

	for i, clip := range job.Clips {
		title := clip.Title
		if title == "" {
			title = job.Params.Title
		}
		artifacts[i] = Artifact{Clip: clip, Filename: TrackFilename(title, clip.ID)}
		if clip.Status == ClipError {
			artifacts[i].Err = apperr.Provider("generate", "", "%s", errorMessage(clip))
			continue
		}
		g.Go(func() error {
			data, strategy, err := o.fetchWAV(gctx, clip)
			artifacts[i].Data, artifacts[i].Strategy, artifacts[i].Err = data, strategy, err
			return nil
		})
	}
	_ = g.Wait()
	return artifacts, nil
}

// fetchWAV tries, in order, the provider WAV link, a WAV link derived
// from the MP3 URL, and finally an MP3 download converted locally. Only
// the last strategy reports errors.
func (o *Orchestrator) fetchWAV(ctx context.Context, clip Clip) ([]byte, string, error) {
	candidates := []struct{ strategy, url string }{
		{"direct", clip.WAVURL},
		{"derived", DeriveWAVURL(clip.AudioURL)},
	}
	for _, c := range candidates {
		if c.url == "" {
			continue
		}
		if data, ok := o.tryWAV(ctx, c.url); ok {
			return data, c.strategy, nil
		}
		o.logger.Debug("clip %s: %s WAV unavailable", clip.ID, c.strategy)
	}

	if clip.AudioURL == "" {
		return nil, "", apperr.Provider("materialize", "", "no audio URL for clip %s", clip.ID)
	}
	if o.cfg.Converter == nil {
		return nil, "", apperr.Conversion("materialize", fmt.Errorf("no audio converter configured"))
	}
	mp3, err := o.cfg.Provider.Fetch(ctx, clip.AudioURL)
	if err != nil {
		return nil, "", err
	}
	wav, err := o.cfg.Converter.ToWAV(ctx, mp3)
	if err != nil {
		return nil, "", err
	}
	return wav, "converted", nil
}

func (o *Orchestrator) tryWAV(ctx context.Context, rawURL string) ([]byte, bool) {
	ok, err := o.cfg.Provider.ProbeAudio(ctx, rawURL)
	if err != nil || !ok {
		return nil, false
	}
	data, err := o.cfg.Provider.Fetch(ctx, rawURL)
	if err != nil || !audio.IsWAV(data) {
		return nil, false
	}
	return data, true
}

// DeriveWAVURL guesses the WAV variant of an MP3 URL.
func DeriveWAVURL(mp3URL string) string {
	switch {
	case mp3URL == "":
		return ""
	case strings.Contains(mp3URL, ".mp3"):
		return strings.ReplaceAll(mp3URL, ".mp3", ".wav")
	case strings.Contains(mp3URL, "?"):
		return mp3URL + "&format=wav"
	default:
		return mp3URL + "?format=wav"
	}
}

// Run executes the whole pipeline and writes every artifact to target.
// Submit and poll failures are returned; per-clip failures are reported in
// the results.
func (o *Orchestrator) Run(ctx context.Context, p Params, target output.Target) (*Job, []TrackResult, error) {
	job, err := o.Submit(ctx, p)
	if err != nil {
		return job, nil, err
	}
	if err := o.PollUntilReady(ctx, job); err != nil {
		return job, nil, err
	}
	artifacts, err := o.Materialize(ctx, job)
	if err != nil {
		return job, nil, err
	}

	results := make([]TrackResult, 0, len(artifacts))
	for _, a := range artifacts {
		res := TrackResult{ClipID: a.Clip.ID, Filename: a.Filename, PreviewURL: a.Clip.AudioURL, Strategy: a.Strategy, Err: a.Err}
		if a.Err == nil {
			w, err := o.cfg.Output.Write(ctx, target, a.Filename, a.Data)
			if err != nil {
				res.Err = err
			} else {
				res.Write = &w
				o.logger.Success("Saved %s -> %s (%s)", w.Name, target.Name, a.Strategy)
			}
		}
		if res.Err != nil {
			o.logger.Warning("Clip %s failed: %v", a.Clip.ID, res.Err)
		}
		results = append(results, res)
	}
	return job, results, nil
}
