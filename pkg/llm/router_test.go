package llm

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts one provider interaction for router tests.
type fakeProvider struct {
	name     string
	resp     *Response
	err      error
	chunks   []Chunk
	noClose  bool // keep the raw channel open until ctx dies
	blockFor time.Duration
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req *Request, cred Credential) (*Response, error) {
	if f.blockFor > 0 {
		select {
		case <-time.After(f.blockFor):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeProvider) GenerateStream(ctx context.Context, req *Request, cred Credential) (<-chan Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan Chunk, len(f.chunks)+1)
	go func() {
		for _, c := range f.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				close(out)
				return
			}
		}
		if f.noClose {
			<-ctx.Done()
		}
		close(out)
	}()
	return out, nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{errors.New("status code: 401, invalid api key"), KindInvalidCredential},
		{errors.New("permission denied for model"), KindInvalidCredential},
		{errors.New("status code: 429, rate limit reached"), KindRateLimited},
		{errors.New("quota exceeded for this billing period"), KindRateLimited},
		{errors.New("this model's maximum context length is 8192 tokens"), KindContextTooLarge},
		{errors.New("prompt is too long: 210000 tokens"), KindContextTooLarge},
		{errors.New("status code: 503, service unavailable"), KindProviderUnavailable},
		{errors.New("dial tcp: connection refused"), KindProviderUnavailable},
		{errors.New("overloaded_error"), KindProviderUnavailable},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("client timeout while awaiting headers"), KindTimeout},
		{errors.New("something nobody has seen before"), KindUnknown},
	}

	for _, tc := range cases {
		got := Classify("test", tc.err)
		assert.Equal(t, tc.want, got.Kind, "classifying %q", tc.err)
		assert.ErrorIs(t, got, tc.err, "cause must stay unwrappable")
	}
}

func TestKindOf(t *testing.T) {
	classified := Classify("test", errors.New("rate limit"))
	wrapped := errors.Wrap(classified, "outer context")

	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("raw")))
}

func TestRouterUnknownProvider(t *testing.T) {
	r := NewRouter()

	_, err := r.Generate(context.Background(), "nope", &Request{}, Credential{}, time.Second)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, _, err = r.GenerateStream(context.Background(), "nope", &Request{}, Credential{}, time.Second)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRouterGenerateClassifiesFailure(t *testing.T) {
	r := NewRouter()
	r.Register(&fakeProvider{name: "fake", err: errors.New("status code: 429, slow down")})

	_, err := r.Generate(context.Background(), "fake", &Request{}, Credential{}, time.Second)
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestRouterGenerateTimeout(t *testing.T) {
	r := NewRouter()
	r.Register(&fakeProvider{name: "fake", blockFor: time.Second, resp: &Response{Text: "late"}})

	_, err := r.Generate(context.Background(), "fake", &Request{}, Credential{}, 20*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestRouterStreamContract(t *testing.T) {
	r := NewRouter()
	r.Register(&fakeProvider{name: "fake", chunks: []Chunk{
		{Delta: "hel"},
		{Delta: "lo"},
		{Done: true, Usage: &Usage{TotalTokens: 5}, RequestID: "req-1"},
		{Delta: "after terminal, must be dropped"},
	}})

	chunks, cancel, err := r.GenerateStream(context.Background(), "fake", &Request{}, Credential{}, time.Second)
	require.NoError(t, err)
	defer cancel()

	var got []Chunk
	for c := range chunks {
		got = append(got, c)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "hel", got[0].Delta)
	assert.Equal(t, "lo", got[1].Delta)
	assert.True(t, got[2].Terminal())
	assert.True(t, got[2].Done)
	assert.Equal(t, "req-1", got[2].RequestID)
}

func TestRouterStreamClassifiesErrChunk(t *testing.T) {
	r := NewRouter()
	r.Register(&fakeProvider{name: "fake", chunks: []Chunk{
		{Delta: "partial"},
		{Err: errors.New("status code: 503, service unavailable")},
	}})

	chunks, cancel, err := r.GenerateStream(context.Background(), "fake", &Request{}, Credential{}, time.Second)
	require.NoError(t, err)
	defer cancel()

	var last Chunk
	for c := range chunks {
		last = c
	}
	require.Error(t, last.Err)
	assert.Equal(t, KindProviderUnavailable, KindOf(last.Err))
}

func TestRouterStreamTruncationBecomesUnavailable(t *testing.T) {
	// The adapter channel closes after deltas with no terminal chunk. The
	// router must synthesize the terminal error itself.
	r := NewRouter()
	r.Register(&fakeProvider{name: "fake", chunks: []Chunk{{Delta: "cut off"}}})

	chunks, cancel, err := r.GenerateStream(context.Background(), "fake", &Request{}, Credential{}, time.Second)
	require.NoError(t, err)
	defer cancel()

	var got []Chunk
	for c := range chunks {
		got = append(got, c)
	}
	require.Len(t, got, 2)
	require.Error(t, got[1].Err)
	assert.Equal(t, KindProviderUnavailable, KindOf(got[1].Err))
}

func TestRouterStreamDeadlineBecomesTimeout(t *testing.T) {
	r := NewRouter()
	r.Register(&fakeProvider{name: "fake", chunks: []Chunk{{Delta: "x"}}, noClose: true})

	chunks, cancel, err := r.GenerateStream(context.Background(), "fake", &Request{}, Credential{}, 30*time.Millisecond)
	require.NoError(t, err)
	defer cancel()

	var last Chunk
	for c := range chunks {
		last = c
	}
	require.Error(t, last.Err)
	assert.Equal(t, KindTimeout, KindOf(last.Err))
}
