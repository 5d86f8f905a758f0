// Package transcription sends encoded audio chunks to speech-to-text
// backends and assembles the ordered transcript.
//
// Backends implement Service: HTTPClient (any OpenAI-compatible multipart
// endpoint, with retries and rate limiting), OpenAIService (openai-go SDK)
// and SpeechService (Google Cloud Speech-to-Text). The Orchestrator runs
// chunks with bounded concurrency, skips oversized or failing chunks, and
// joins the remaining fragments in chunk order.
package transcription
