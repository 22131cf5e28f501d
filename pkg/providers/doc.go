// Package providers groups the per-provider request builders.
//
// It is organized into sub-packages, one per supported backend:
//   - [github.com/germanamz/consult/pkg/providers/ollama]: local Ollama /api/generate, optional base64 images
//   - [github.com/germanamz/consult/pkg/providers/groq]: Groq chat completions, text only
//   - [github.com/germanamz/consult/pkg/providers/openai]: OpenAI chat completions, optional multi-part image content
//
// Each builder implements [github.com/germanamz/consult/pkg/modeladapter.Completer]
// and performs exactly one attempt; retries are the dispatcher's concern.
package providers
