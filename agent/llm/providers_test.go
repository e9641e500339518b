package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tmc/langchaingo/llms"
)

type fakeChatModel struct {
	seen []*schema.Message
	resp *schema.Message
	err  error
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.seen = input
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func TestEinoProviderMapsRoles(t *testing.T) {
	t.Parallel()

	fake := &fakeChatModel{resp: &schema.Message{Role: schema.Assistant, Content: `  {"intent":"AskHours"} `}}
	p, err := NewEinoProvider(context.Background(), "eino", fake)
	if err != nil {
		t.Fatalf("NewEinoProvider() error = %v", err)
	}

	req := contractx.ModelRequest{System: "sys", Messages: []contractx.Message{
		{Role: contractx.RoleCustomer, Content: "hi"},
		{Role: contractx.RoleAgent, Content: "hello"},
		{Role: contractx.RoleCustomer, Content: "when do you open?"},
	}}
	out, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"intent":"AskHours"}` {
		t.Fatalf("unexpected output %q", out)
	}
	if len(fake.seen) != 4 || fake.seen[0].Role != schema.System || fake.seen[2].Role != schema.Assistant || fake.seen[3].Role != schema.User {
		t.Fatalf("unexpected messages sent to model: %#v", fake.seen)
	}
}

func TestEinoProviderPropagatesModelError(t *testing.T) {
	t.Parallel()

	p, _ := NewEinoProvider(context.Background(), "eino", &fakeChatModel{err: errors.New("rate limited")})
	if _, err := p.Complete(context.Background(), testReq); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAIProviderCallsChatCompletions(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"We open at five."}}]}`))
	}))
	defer srv.Close()

	client := openaisdk.NewClient(option.WithAPIKey("k"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	p, err := NewOpenAIProvider("openai", &client, "m", 0.2, 100)
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}

	out, err := p.Complete(context.Background(), testReq)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != "We open at five." {
		t.Fatalf("unexpected output %q", out)
	}
	msgs, _ := body["messages"].([]any)
	if body["model"] != "m" || len(msgs) != 2 {
		t.Fatalf("unexpected request body: %#v", body)
	}
}

func TestOpenAIProviderSurfacesHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := openaisdk.NewClient(option.WithAPIKey("k"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	p, _ := NewOpenAIProvider("openai", &client, "m", 0.2, 0)
	if _, err := p.Complete(context.Background(), testReq); err == nil {
		t.Fatal("expected error")
	}
}

type fakeLangchainModel struct {
	seen []llms.MessageContent
}

func (f *fakeLangchainModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.seen = messages
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: " ok "}}}, nil
}

func (f *fakeLangchainModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "ok", nil
}

func TestLangchainProviderMapsRoles(t *testing.T) {
	t.Parallel()

	fake := &fakeLangchainModel{}
	p, err := NewLangchainProvider("lc", fake, 0.1, 50)
	if err != nil {
		t.Fatalf("NewLangchainProvider() error = %v", err)
	}
	out, err := p.Complete(context.Background(), contractx.ModelRequest{System: "sys", Messages: []contractx.Message{
		{Role: contractx.RoleCustomer, Content: "hi"},
		{Role: contractx.RoleAgent, Content: "hello"},
	}})
	if err != nil || out != "ok" {
		t.Fatalf("Complete() = %q, %v", out, err)
	}
	if len(fake.seen) != 3 || fake.seen[0].Role != llms.ChatMessageTypeSystem || fake.seen[2].Role != llms.ChatMessageTypeAI {
		t.Fatalf("unexpected messages: %#v", fake.seen)
	}
}
