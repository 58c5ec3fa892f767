// Package suno implements the studio API client and the generation job
// orchestrator.
//
// A generation moves through submitted, polling and then ready or failed.
// Submit validates parameters before any network call. PollUntilReady is
// bounded by PollPolicy.Timeout and retries only transient errors with a
// capped exponential backoff. Materialize obtains a WAV for every clip,
// converting the MP3 with ffmpeg when no WAV is served.
package suno
