package suno

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
	"github.com/0xshugo/suno-api-mcp/internal/output"
)

var testWAV = []byte("RIFF\x00\x00\x00\x00WAVEfmt data")

type fakeProvider struct {
	mu            sync.Mutex
	ids           []string
	genErr        error
	generateCalls int
	lastRequest   GenerateRequest

	feed      func(call int) ([]Clip, error)
	feedCalls int

	audio   map[string]bool
	files   map[string][]byte
	fetched []string
}

func (f *fakeProvider) Generate(_ context.Context, req GenerateRequest) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	f.lastRequest = req
	if f.genErr != nil {
		return nil, f.genErr
	}
	return f.ids, nil
}

func (f *fakeProvider) Feed(ctx context.Context, _ []string) ([]Clip, error) {
	f.mu.Lock()
	f.feedCalls++
	call := f.feedCalls
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, apperr.Transient("feed", apperr.ClassTransient, err)
	}
	return f.feed(call)
}

func (f *fakeProvider) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	data, ok := f.files[rawURL]
	if !ok {
		return nil, apperr.Provider("fetch", "", "status 404")
	}
	return data, nil
}

func (f *fakeProvider) ProbeAudio(_ context.Context, rawURL string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audio[rawURL], nil
}

func (f *fakeProvider) calls() (generate, feed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls, f.feedCalls
}

type fakeConverter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *fakeConverter) ToWAV(_ context.Context, src []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return append([]byte("RIFF\x00\x00\x00\x00WAVE"), src...), nil
}

func fastPolicy() PollPolicy {
	return PollPolicy{
		Interval:       2 * time.Millisecond,
		Timeout:        2 * time.Second,
		BackoffInitial: time.Millisecond,
		BackoffMax:     4 * time.Millisecond,
		MaxErrors:      5,
	}
}

func newTestOrchestrator(p *fakeProvider, conv *fakeConverter, w Writer, policy PollPolicy) *Orchestrator {
	cfg := Config{Provider: p, Output: w, Policy: policy, NewID: func() string { return "tx" }}
	if conv != nil {
		cfg.Converter = conv
	}
	return NewOrchestrator(cfg)
}

func completeAfter(n int, clips ...Clip) func(int) ([]Clip, error) {
	return func(call int) ([]Clip, error) {
		if call < n {
			pending := make([]Clip, len(clips))
			for i, c := range clips {
				pending[i] = Clip{ID: c.ID, Status: "queued"}
			}
			return pending, nil
		}
		return clips, nil
	}
}

func TestSubmitRejectsLongTags(t *testing.T) {
	p := &fakeProvider{ids: []string{"c1"}}
	o := newTestOrchestrator(p, nil, nil, fastPolicy())

	job, err := o.Submit(context.Background(), Params{Tags: strings.Repeat("a", 201)})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if job != nil {
		t.Errorf("expected no job, got %+v", job)
	}
	if gen, _ := p.calls(); gen != 0 {
		t.Errorf("provider called %d times for rejected tags", gen)
	}

	job, err = o.Submit(context.Background(), Params{Tags: strings.Repeat("a", 200)})
	if err != nil {
		t.Fatalf("200 characters should be accepted: %v", err)
	}
	if job.Status != JobSubmitted || job.ProviderIDs[0] != "c1" {
		t.Errorf("job = %+v", job)
	}
}

func TestNormalize(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, nil, nil, fastPolicy())

	p, err := o.Normalize(Params{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Tags != DefaultTags || p.Model != DefaultModel || p.Title == "" {
		t.Errorf("defaults not applied: %+v", p)
	}

	if _, err := o.Normalize(Params{Model: "chirp-v9"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("unknown model = %v, want validation error", err)
	}
	if p, err := o.Normalize(Params{Model: "chirp-v3-5", Title: " Keep "}); err != nil || p.Title != "Keep" {
		t.Errorf("Normalize() = %+v, %v", p, err)
	}
}

func TestSubmitProviderFailure(t *testing.T) {
	p := &fakeProvider{genErr: apperr.Provider("generate", "insufficient_credits", "insufficient credits")}
	o := newTestOrchestrator(p, nil, nil, fastPolicy())

	job, err := o.Submit(context.Background(), Params{Tags: "dnb", Title: "t"})
	if apperr.CodeOf(err) != "insufficient_credits" {
		t.Fatalf("code = %s", apperr.CodeOf(err))
	}
	if job.Status != JobFailed || job.Err == nil {
		t.Errorf("job = %+v", job)
	}
	if p.lastRequest.TransactionID != "tx" {
		t.Errorf("transaction id = %q", p.lastRequest.TransactionID)
	}
}

func TestPollUntilReady(t *testing.T) {
	p := &fakeProvider{
		ids:  []string{"c1"},
		feed: completeAfter(3, Clip{ID: "c1", Status: ClipComplete, AudioURL: "https://cdn/c1.mp3"}),
	}
	o := newTestOrchestrator(p, nil, nil, fastPolicy())

	job, err := o.Submit(context.Background(), Params{Tags: "dnb"})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.PollUntilReady(context.Background(), job); err != nil {
		t.Fatalf("PollUntilReady() error = %v", err)
	}
	if job.Status != JobReady {
		t.Errorf("status = %s", job.Status)
	}
	if _, feed := p.calls(); feed != 3 {
		t.Errorf("feed calls = %d, want 3", feed)
	}
	if len(job.ArtifactURLs) != 1 || job.ArtifactURLs[0] != "https://cdn/c1.mp3" {
		t.Errorf("artifact urls = %v", job.ArtifactURLs)
	}
}

func TestPollCeiling(t *testing.T) {
	p := &fakeProvider{
		ids: []string{"c1"},
		feed: func(int) ([]Clip, error) {
			return []Clip{{ID: "c1", Status: "queued"}}, nil
		},
	}
	policy := fastPolicy()
	policy.Timeout = 50 * time.Millisecond
	o := newTestOrchestrator(p, nil, nil, policy)

	job, err := o.Submit(context.Background(), Params{Tags: "dnb"})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err = o.PollUntilReady(context.Background(), job)
	elapsed := time.Since(start)

	if !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("expected transient timeout error, got %v", err)
	}
	if !strings.Contains(err.Error(), "not ready") {
		t.Errorf("error = %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("polling took %s, ceiling is %s", elapsed, policy.Timeout)
	}
	if job.Status != JobFailed {
		t.Errorf("status = %s", job.Status)
	}
}

func TestPollRetriesTransientErrors(t *testing.T) {
	done := []Clip{{ID: "c1", Status: ClipComplete, AudioURL: "u"}}
	p := &fakeProvider{
		ids: []string{"c1"},
		feed: func(call int) ([]Clip, error) {
			if call <= 2 {
				return nil, apperr.Transient("feed", apperr.ClassRateLimited, errors.New("429"))
			}
			return done, nil
		},
	}
	o := newTestOrchestrator(p, nil, nil, fastPolicy())
	job, _ := o.Submit(context.Background(), Params{Tags: "dnb"})

	if err := o.PollUntilReady(context.Background(), job); err != nil {
		t.Fatalf("PollUntilReady() error = %v", err)
	}
	if _, feed := p.calls(); feed != 3 {
		t.Errorf("feed calls = %d, want 3", feed)
	}
}

func TestPollGivesUpAfterMaxErrors(t *testing.T) {
	p := &fakeProvider{
		ids: []string{"c1"},
		feed: func(int) ([]Clip, error) {
			return nil, apperr.Transient("feed", apperr.ClassTransient, errors.New("connection reset"))
		},
	}
	policy := fastPolicy()
	policy.MaxErrors = 3
	o := newTestOrchestrator(p, nil, nil, policy)
	job, _ := o.Submit(context.Background(), Params{Tags: "dnb"})

	err := o.PollUntilReady(context.Background(), job)
	if !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, feed := p.calls(); feed != 3 {
		t.Errorf("feed calls = %d, want 3", feed)
	}
}

func TestPollStopsOnNonRetryableError(t *testing.T) {
	tests := map[string]error{
		"auth":     apperr.Auth("feed", apperr.ClassExpiredOrInvalid, errors.New("401")),
		"provider": apperr.Provider("feed", "", "bad request"),
	}
	for name, feedErr := range tests {
		t.Run(name, func(t *testing.T) {
			p := &fakeProvider{ids: []string{"c1"}, feed: func(int) ([]Clip, error) { return nil, feedErr }}
			o := newTestOrchestrator(p, nil, nil, fastPolicy())
			job, _ := o.Submit(context.Background(), Params{Tags: "dnb"})

			err := o.PollUntilReady(context.Background(), job)
			if !errors.Is(err, feedErr) {
				t.Fatalf("error = %v, want %v", err, feedErr)
			}
			if _, feed := p.calls(); feed != 1 {
				t.Errorf("feed calls = %d, want 1", feed)
			}
			if job.Status != JobFailed {
				t.Errorf("status = %s", job.Status)
			}
		})
	}
}

func TestPollStreaming(t *testing.T) {
	streaming := []Clip{{ID: "c1", Status: ClipStreaming, AudioURL: "u"}}

	t.Run("not final by default", func(t *testing.T) {
		p := &fakeProvider{
			ids: []string{"c1"},
			feed: func(call int) ([]Clip, error) {
				if call < 3 {
					return streaming, nil
				}
				return []Clip{{ID: "c1", Status: ClipComplete, AudioURL: "u"}}, nil
			},
		}
		o := newTestOrchestrator(p, nil, nil, fastPolicy())
		job, _ := o.Submit(context.Background(), Params{Tags: "dnb"})
		if err := o.PollUntilReady(context.Background(), job); err != nil {
			t.Fatal(err)
		}
		if _, feed := p.calls(); feed != 3 {
			t.Errorf("feed calls = %d, want 3", feed)
		}
	})

	t.Run("accepted when configured", func(t *testing.T) {
		p := &fakeProvider{ids: []string{"c1"}, feed: func(int) ([]Clip, error) { return streaming, nil }}
		policy := fastPolicy()
		policy.AcceptStreaming = true
		o := newTestOrchestrator(p, nil, nil, policy)
		job, _ := o.Submit(context.Background(), Params{Tags: "dnb"})
		if err := o.PollUntilReady(context.Background(), job); err != nil {
			t.Fatal(err)
		}
		if _, feed := p.calls(); feed != 1 {
			t.Errorf("feed calls = %d, want 1", feed)
		}
	})
}

func TestPollWaitsForAllClips(t *testing.T) {
	p := &fakeProvider{
		ids: []string{"c1", "c2"},
		feed: func(call int) ([]Clip, error) {
			if call == 1 {
				return []Clip{{ID: "c1", Status: ClipComplete}}, nil
			}
			return []Clip{{ID: "c1", Status: ClipComplete}, {ID: "c2", Status: ClipComplete}}, nil
		},
	}
	o := newTestOrchestrator(p, nil, nil, fastPolicy())
	job, _ := o.Submit(context.Background(), Params{Tags: "dnb"})
	if err := o.PollUntilReady(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if len(job.Clips) != 2 {
		t.Errorf("clips = %+v", job.Clips)
	}
}

func TestPollAllClipsFailed(t *testing.T) {
	p := &fakeProvider{
		ids:  []string{"c1"},
		feed: completeAfter(1, Clip{ID: "c1", Status: ClipError, ErrorMessage: "content policy"}),
	}
	o := newTestOrchestrator(p, nil, nil, fastPolicy())
	job, _ := o.Submit(context.Background(), Params{Tags: "dnb"})

	err := o.PollUntilReady(context.Background(), job)
	if !apperr.Is(err, apperr.KindProvider) || !strings.Contains(err.Error(), "content policy") {
		t.Fatalf("error = %v", err)
	}
	if job.Status != JobFailed {
		t.Errorf("status = %s", job.Status)
	}
}

func TestPollCancellation(t *testing.T) {
	p := &fakeProvider{
		ids:  []string{"c1"},
		feed: func(int) ([]Clip, error) { return []Clip{{ID: "c1", Status: "queued"}}, nil },
	}
	policy := fastPolicy()
	policy.Timeout = time.Minute
	policy.Interval = 10 * time.Millisecond
	o := newTestOrchestrator(p, nil, nil, policy)
	job, _ := o.Submit(context.Background(), Params{Tags: "dnb"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.PollUntilReady(ctx, job) }()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("polling did not stop after cancellation")
	}

	_, before := p.calls()
	time.Sleep(30 * time.Millisecond)
	if _, after := p.calls(); after != before {
		t.Errorf("feed called %d more times after cancellation", after-before)
	}
}

func TestTerminalJobIsImmutable(t *testing.T) {
	p := &fakeProvider{ids: []string{"c1"}, feed: func(int) ([]Clip, error) {
		return nil, apperr.Provider("feed", "", "gone")
	}}
	o := newTestOrchestrator(p, nil, nil, fastPolicy())
	job, _ := o.Submit(context.Background(), Params{Tags: "dnb"})

	first := o.PollUntilReady(context.Background(), job)
	if first == nil || job.Status != JobFailed {
		t.Fatalf("expected failed job, got %s, %v", job.Status, first)
	}

	if job.advance(JobReady) {
		t.Error("failed job must not advance")
	}
	if err := job.fail(errors.New("second")); err == nil || job.Err != first {
		t.Errorf("job error overwritten: %v", job.Err)
	}
	if err := o.PollUntilReady(context.Background(), job); err != first {
		t.Errorf("re-poll = %v, want original error", err)
	}
	if _, feed := p.calls(); feed != 1 {
		t.Errorf("terminal job polled again (%d calls)", feed)
	}
	if _, err := o.Materialize(context.Background(), job); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Materialize on failed job = %v", err)
	}
}

func readyJob(clips ...Clip) *Job {
	ids := make([]string, len(clips))
	for i, c := range clips {
		ids[i] = c.ID
	}
	return &Job{Params: Params{Title: "Fallback"}, ProviderIDs: ids, Status: JobReady, Clips: clips}
}

func TestMaterializeStrategies(t *testing.T) {
	tests := []struct {
		name         string
		clip         Clip
		audio        map[string]bool
		files        map[string][]byte
		convErr      error
		wantStrategy string
		wantKind     apperr.Kind
		wantConvert  int
	}{
		{
			name:         "direct wav",
			clip:         Clip{ID: "c1", Status: ClipComplete, WAVURL: "https://cdn/x.wav", AudioURL: "https://cdn/c1.mp3"},
			audio:        map[string]bool{"https://cdn/x.wav": true},
			files:        map[string][]byte{"https://cdn/x.wav": testWAV},
			wantStrategy: "direct",
		},
		{
			name:         "derived wav",
			clip:         Clip{ID: "c1", Status: ClipComplete, AudioURL: "https://cdn/c1.mp3"},
			audio:        map[string]bool{"https://cdn/c1.wav": true},
			files:        map[string][]byte{"https://cdn/c1.wav": testWAV},
			wantStrategy: "derived",
		},
		{
			name:         "derived url serves mp3",
			clip:         Clip{ID: "c1", Status: ClipComplete, AudioURL: "https://cdn/c1.mp3"},
			audio:        map[string]bool{"https://cdn/c1.wav": true},
			files:        map[string][]byte{"https://cdn/c1.wav": []byte("ID3 not wav"), "https://cdn/c1.mp3": []byte("ID3")},
			wantStrategy: "converted",
			wantConvert:  1,
		},
		{
			name:         "converted",
			clip:         Clip{ID: "c1", Status: ClipComplete, AudioURL: "https://cdn/c1.mp3"},
			files:        map[string][]byte{"https://cdn/c1.mp3": []byte("ID3")},
			wantStrategy: "converted",
			wantConvert:  1,
		},
		{
			name:        "conversion failure",
			clip:        Clip{ID: "c1", Status: ClipComplete, AudioURL: "https://cdn/c1.mp3"},
			files:       map[string][]byte{"https://cdn/c1.mp3": []byte("ID3")},
			convErr:     apperr.Conversion("ffmpeg", errors.New("exit status 1")),
			wantKind:    apperr.KindConversion,
			wantConvert: 1,
		},
		{
			name:     "no audio url",
			clip:     Clip{ID: "c1", Status: ClipComplete},
			wantKind: apperr.KindProvider,
		},
		{
			name:     "clip reported failed",
			clip:     Clip{ID: "c1", Status: ClipError, ErrorMessage: "policy"},
			wantKind: apperr.KindProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{audio: tt.audio, files: tt.files}
			conv := &fakeConverter{err: tt.convErr}
			o := newTestOrchestrator(p, conv, nil, fastPolicy())

			artifacts, err := o.Materialize(context.Background(), readyJob(tt.clip))
			if err != nil {
				t.Fatalf("Materialize() error = %v", err)
			}
			a := artifacts[0]
			if tt.wantKind != "" {
				if !apperr.Is(a.Err, tt.wantKind) {
					t.Fatalf("error = %v, want kind %s", a.Err, tt.wantKind)
				}
				if a.Data != nil {
					t.Error("failed artifact must carry no data")
				}
			} else {
				if a.Err != nil {
					t.Fatalf("unexpected error: %v", a.Err)
				}
				if a.Strategy != tt.wantStrategy {
					t.Errorf("strategy = %s, want %s", a.Strategy, tt.wantStrategy)
				}
				if !strings.HasPrefix(string(a.Data), "RIFF") {
					t.Errorf("data is not WAV: %q", a.Data)
				}
			}
			if conv.calls != tt.wantConvert {
				t.Errorf("converter calls = %d, want %d", conv.calls, tt.wantConvert)
			}
			if a.Filename != "Fallback_c1.wav" {
				t.Errorf("filename = %q", a.Filename)
			}
		})
	}
}

func TestMaterializeConcurrency(t *testing.T) {
	var clips []Clip
	files := map[string][]byte{}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("c%d", i)
		url := "https://cdn/" + id + ".mp3"
		clips = append(clips, Clip{ID: id, Title: "T", Status: ClipComplete, AudioURL: url})
		files[url] = []byte("ID3")
	}

	conv := &trackingConverter{}
	o := NewOrchestrator(Config{
		Provider:            &fakeProvider{files: files},
		Converter:           conv,
		DownloadConcurrency: 2,
	})

	artifacts, err := o.Materialize(context.Background(), readyJob(clips...))
	if err != nil {
		t.Fatal(err)
	}
	for i, a := range artifacts {
		if a.Err != nil || a.Clip.ID != clips[i].ID {
			t.Errorf("artifact %d = %+v, %v", i, a.Clip, a.Err)
		}
	}
	if peak := conv.peak; peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

type trackingConverter struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (c *trackingConverter) ToWAV(_ context.Context, src []byte) ([]byte, error) {
	c.mu.Lock()
	c.current++
	c.peak = max(c.peak, c.current)
	c.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	c.mu.Lock()
	c.current--
	c.mu.Unlock()
	return append([]byte("RIFF\x00\x00\x00\x00WAVE"), src...), nil
}

func TestRun(t *testing.T) {
	p := &fakeProvider{
		ids: []string{"c1", "c2"},
		feed: completeAfter(2,
			Clip{ID: "c1", Title: "Night: Drive", Status: ClipComplete, AudioURL: "https://cdn/c1.mp3"},
			Clip{ID: "c2", Status: ClipError, ErrorMessage: "moderated"},
		),
		files: map[string][]byte{"https://cdn/c1.mp3": []byte("ID3")},
	}
	router := output.NewRouter(output.RouterConfig{BaseDir: t.TempDir()})
	target, err := router.Resolve("ch1")
	if err != nil {
		t.Fatal(err)
	}
	o := newTestOrchestrator(p, &fakeConverter{}, router, fastPolicy())

	job, results, err := o.Run(context.Background(), Params{Tags: "dnb", Title: "Given"}, target)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if job.Status != JobReady || len(results) != 2 {
		t.Fatalf("job = %s, results = %+v", job.Status, results)
	}

	ok, failed := results[0], results[1]
	if ok.Err != nil || ok.Write == nil {
		t.Fatalf("first clip = %+v, %v", ok, ok.Err)
	}
	if ok.Filename != "Night_ Drive_c1.wav" {
		t.Errorf("filename = %q", ok.Filename)
	}
	if ok.PreviewURL != "https://cdn/c1.mp3" {
		t.Errorf("preview = %q", ok.PreviewURL)
	}
	if _, err := os.Stat(ok.Write.Path); err != nil {
		t.Errorf("written file missing: %v", err)
	}
	if failed.Err == nil || !strings.Contains(failed.Err.Error(), "moderated") {
		t.Errorf("second clip error = %v", failed.Err)
	}

	files, err := router.List(target)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name != ok.Filename {
		t.Errorf("listing = %+v", files)
	}
}
