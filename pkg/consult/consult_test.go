package consult_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/germanamz/consult/pkg/consult"
	"github.com/germanamz/consult/pkg/failure"
	"github.com/germanamz/consult/pkg/modeladapter"
	"github.com/germanamz/consult/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTransport answers every request with handler and records what it saw.
type stubTransport struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	handler  func(n int, r *http.Request) (*http.Response, error)
}

func (s *stubTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}

	s.mu.Lock()
	s.requests = append(s.requests, r)
	s.bodies = append(s.bodies, body)
	n := len(s.requests)
	s.mu.Unlock()

	return s.handler(n, r)
}

func (s *stubTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *stubTransport) body(t *testing.T, i int) map[string]any {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	var m map[string]any
	require.NoError(t, json.Unmarshal(s.bodies[i], &m))
	return m
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// sleeps records the delays requested by the retry loop without waiting.
type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.d = append(s.d, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newClient(t *testing.T, handler func(n int, r *http.Request) (*http.Response, error)) (*consult.Client, *stubTransport, *sleeps) {
	t.Helper()

	st := &stubTransport{handler: handler}
	sl := &sleeps{}

	c := consult.New(
		consult.WithHTTPClient(&http.Client{Transport: st}),
		consult.WithSleepFunc(sl.sleep),
	)

	return c, st, sl
}

func noCalls(t *testing.T) func(int, *http.Request) (*http.Response, error) {
	return func(_ int, r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request to %s", r.URL)
		return jsonResponse(http.StatusOK, `{}`), nil
	}
}

func TestConsult_OllamaScenario(t *testing.T) {
	c, st, _ := newClient(t, func(_ int, r *http.Request) (*http.Response, error) {
		assert.Equal(t, "http://localhost:11434/api/generate", r.URL.String())
		return jsonResponse(http.StatusOK, `{"response": "4 "}`), nil
	})

	got, err := c.Consult(context.Background(), query.New("What is 2+2?", query.Ollama, query.WithModel("llama3")))
	require.NoError(t, err)
	assert.Equal(t, "4", got)
	assert.Equal(t, 1, st.count())

	body := st.body(t, 0)
	assert.Equal(t, "llama3", body["model"])
	assert.Equal(t, false, body["stream"])
}

func TestConsult_UnsupportedProviderNoNetwork(t *testing.T) {
	for _, name := range []string{"anthropic", "", "OLLAMA", "groq ", "gemini"} {
		t.Run(name, func(t *testing.T) {
			c, st, sl := newClient(t, noCalls(t))

			_, err := c.Consult(context.Background(), query.New("hi", query.Provider(name), query.WithCredential("k")))

			assert.ErrorIs(t, err, failure.ErrUnsupportedProvider)
			assert.Equal(t, failure.UnsupportedProvider, failure.KindOf(err))
			assert.Zero(t, st.count())
			assert.Empty(t, sl.d)
		})
	}
}

func TestConsult_MissingCredentialNoNetwork(t *testing.T) {
	for _, p := range []query.Provider{query.Groq, query.OpenAI} {
		t.Run(p.String(), func(t *testing.T) {
			c, st, sl := newClient(t, noCalls(t))

			_, err := c.Consult(context.Background(), query.New("Hi", p, query.WithCredential("  ")))

			assert.ErrorIs(t, err, failure.ErrMissingCredential)
			assert.Zero(t, st.count())
			assert.Empty(t, sl.d)

			var fe *failure.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, p.String(), fe.Provider)
		})
	}
}

func TestConsult_MissingImageNoNetwork(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.jpg")

	for _, p := range []query.Provider{query.Ollama, query.OpenAI} {
		t.Run(p.String(), func(t *testing.T) {
			c, st, sl := newClient(t, noCalls(t))

			_, err := c.Consult(context.Background(), query.New("describe", p,
				query.WithCredential("k"),
				query.WithImage(missing),
			))

			assert.ErrorIs(t, err, failure.ErrImageNotFound)
			assert.Zero(t, st.count())
			assert.Empty(t, sl.d)
		})
	}
}

func TestConsult_GroqIgnoresMissingImage(t *testing.T) {
	c, st, _ := newClient(t, func(_ int, r *http.Request) (*http.Response, error) {
		assert.Equal(t, "https://api.groq.com/openai/v1/chat/completions", r.URL.String())
		return jsonResponse(http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"plain"}}]}`), nil
	})

	got, err := c.Consult(context.Background(), query.New("describe", query.Groq,
		query.WithCredential("gsk"),
		query.WithImage(filepath.Join(t.TempDir(), "missing.jpg")),
	))
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
	assert.Equal(t, 1, st.count())
}

func TestConsult_MalformedExhaustsThreeAttempts(t *testing.T) {
	c, st, sl := newClient(t, func(_ int, _ *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"done": true}`), nil
	})

	_, err := c.Consult(context.Background(), query.New("hi", query.Ollama))

	assert.ErrorIs(t, err, failure.ErrExhaustedRetries)
	assert.ErrorIs(t, err, failure.ErrMalformedResponse)
	assert.Equal(t, 3, st.count())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sl.d)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.ExhaustedRetries, fe.Kind)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, "ollama", fe.Provider)
}

func TestConsult_TransportErrorsThenSuccess(t *testing.T) {
	c, st, sl := newClient(t, func(n int, _ *http.Request) (*http.Response, error) {
		if n < 3 {
			return nil, errors.New("connection refused")
		}
		return jsonResponse(http.StatusOK, `{"choices":[{"message":{"content":" third time lucky "}}]}`), nil
	})

	got, err := c.Consult(context.Background(), query.New("hi", query.OpenAI, query.WithCredential("sk")))
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", got)
	assert.Equal(t, 3, st.count())
	assert.Len(t, sl.d, 2)
}

func TestConsult_HTTPStatusIsRetried(t *testing.T) {
	c, st, _ := newClient(t, func(n int, _ *http.Request) (*http.Response, error) {
		if n == 1 {
			return jsonResponse(http.StatusBadGateway, `upstream down`), nil
		}
		return jsonResponse(http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`), nil
	})

	got, err := c.Consult(context.Background(), query.New("hi", query.Groq, query.WithCredential("gsk")))
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, st.count())
}

func TestConsult_ExhaustedKeepsLastStatus(t *testing.T) {
	c, _, _ := newClient(t, func(_ int, _ *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`), nil
	})

	_, err := c.Consult(context.Background(), query.New("hi", query.Groq, query.WithCredential("gsk")))

	assert.ErrorIs(t, err, failure.ErrExhaustedRetries)
	assert.ErrorIs(t, err, failure.ErrHTTPStatus)
	assert.ErrorContains(t, err, "rate limited")
}

func TestConsult_OllamaImageRoundTrip(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x43, 0x00, 0x08, 0x06}
	path := filepath.Join(t.TempDir(), "img.jpg")
	require.NoError(t, os.WriteFile(path, jpeg, 0o600))

	c, st, _ := newClient(t, func(_ int, _ *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"response":"a picture"}`), nil
	})

	_, err := c.Consult(context.Background(), query.New("describe", query.Ollama, query.WithImage(path)))
	require.NoError(t, err)

	images, ok := st.body(t, 0)["images"].([]any)
	require.True(t, ok)
	require.Len(t, images, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(jpeg), images[0])
}

func TestConsult_InvalidPromptIsFatal(t *testing.T) {
	c, st, _ := newClient(t, noCalls(t))

	_, err := c.Consult(context.Background(), query.New("", query.Ollama))

	assert.ErrorIs(t, err, failure.ErrInvalidQuery)
	assert.Zero(t, st.count())
}

func TestConsult_InfiniteTemperatureIsFatal(t *testing.T) {
	c, st, sl := newClient(t, noCalls(t))

	_, err := c.Consult(context.Background(), query.New("hi", query.Ollama, query.WithTemperature(math.Inf(1))))

	assert.ErrorIs(t, err, failure.ErrInvalidQuery)
	assert.True(t, failure.IsFatal(err))
	assert.NotErrorIs(t, err, failure.ErrExhaustedRetries)
	assert.Zero(t, st.count())
	assert.Empty(t, sl.d)
}

func TestConsult_UnencodablePayloadIsFatal(t *testing.T) {
	calls := 0
	sl := &sleeps{}
	c := consult.New(
		consult.WithCompleter(query.Ollama, modeladapter.CompleterFunc(func(ctx context.Context, _ query.Query) (string, error) {
			calls++
			ma := modeladapter.New("http://localhost:11434", modeladapter.Auth{}, nil)
			return "", ma.PostJSON(ctx, "/api/generate", map[string]float64{"temperature": math.NaN()}, nil)
		})),
		consult.WithSleepFunc(sl.sleep),
	)

	_, err := c.Consult(context.Background(), query.New("hi", query.Ollama))

	assert.ErrorIs(t, err, failure.ErrInvalidQuery)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sl.d)
}

func TestConsult_CanceledSkipsDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	st := &stubTransport{handler: func(_ int, _ *http.Request) (*http.Response, error) {
		cancel()
		return nil, errors.New("connection reset")
	}}

	c := consult.New(
		consult.WithHTTPClient(&http.Client{Transport: st}),
		consult.WithRetryDelay(time.Hour),
	)

	done := make(chan error, 1)
	go func() {
		_, err := c.Consult(ctx, query.New("hi", query.Ollama))
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, failure.ErrCanceled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, failure.ErrExhaustedRetries)
		assert.Equal(t, 1, st.count())
	case <-time.After(5 * time.Second):
		t.Fatal("Consult did not return after cancellation")
	}
}

func TestConsult_PerAttemptTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte(`{"response":"fast"}`))
	}))
	t.Cleanup(srv.Close)

	c := consult.New(consult.WithRetryDelay(-1))

	got, err := c.Consult(context.Background(), query.New("hi", query.Ollama,
		query.WithBaseURL(srv.URL),
		query.WithTimeout(100*time.Millisecond),
	))
	require.NoError(t, err)
	assert.Equal(t, "fast", got)
	assert.Equal(t, int32(2), hits.Load())
}

func TestConsult_WithCompleterOverride(t *testing.T) {
	calls := 0
	c := consult.New(
		consult.WithCompleter(query.Groq, modeladapter.CompleterFunc(func(_ context.Context, q query.Query) (string, error) {
			calls++
			return "stubbed " + q.Prompt, nil
		})),
		consult.WithCompleter("bard", modeladapter.CompleterFunc(func(_ context.Context, _ query.Query) (string, error) {
			t.Error("unsupported providers cannot be registered")
			return "", nil
		})),
	)

	got, err := c.Consult(context.Background(), query.New("hi", query.Groq))
	require.NoError(t, err)
	assert.Equal(t, "stubbed hi", got)
	assert.Equal(t, 1, calls)

	_, err = c.Consult(context.Background(), query.New("hi", "bard"))
	assert.ErrorIs(t, err, failure.ErrUnsupportedProvider)
}

func TestConsult_WithEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"proxied"}}]}`))
	}))
	t.Cleanup(srv.Close)

	c := consult.New(consult.WithEndpoint(query.OpenAI, srv.URL))

	got, err := c.Consult(context.Background(), query.New("hi", query.OpenAI, query.WithCredential("sk")))
	require.NoError(t, err)
	assert.Equal(t, "proxied", got)
}

func TestFanout_IndependentResults(t *testing.T) {
	c, _, _ := newClient(t, func(_ int, r *http.Request) (*http.Response, error) {
		if strings.Contains(r.URL.Host, "groq") {
			return jsonResponse(http.StatusOK, `{"choices":[{"message":{"content":"from groq"}}]}`), nil
		}
		return jsonResponse(http.StatusOK, `{"response":"from ollama"}`), nil
	})

	results := c.Fanout(context.Background(),
		query.New("hi", query.Ollama),
		query.New("hi", query.Groq, query.WithCredential("gsk")),
		query.New("hi", query.OpenAI), // no key
	)

	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "from ollama", results[0].Text)

	assert.NoError(t, results[1].Err)
	assert.Equal(t, "from groq", results[1].Text)

	assert.ErrorIs(t, results[2].Err, failure.ErrMissingCredential)
	assert.Equal(t, query.OpenAI, results[2].Query.Provider)
}

func TestFanout_BackoffDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})

	c := consult.New(
		consult.WithCompleter(query.Ollama, modeladapter.CompleterFunc(func(_ context.Context, _ query.Query) (string, error) {
			return "", failure.New(failure.TransportError, "refused")
		})),
		consult.WithCompleter(query.Groq, modeladapter.CompleterFunc(func(_ context.Context, _ query.Query) (string, error) {
			close(release)
			return "quick", nil
		})),
		consult.WithSleepFunc(func(ctx context.Context, _ time.Duration) error {
			// The failing call waits until the other call has finished.
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := c.Fanout(ctx, query.New("a", query.Ollama), query.New("b", query.Groq))

	assert.ErrorIs(t, results[0].Err, failure.ErrExhaustedRetries)
	require.NoError(t, results[1].Err)
	assert.Equal(t, "quick", results[1].Text)
}

func TestPackageConsult_Unsupported(t *testing.T) {
	_, err := consult.Consult(context.Background(), "hi", "nope")
	assert.ErrorIs(t, err, failure.ErrUnsupportedProvider)
}
