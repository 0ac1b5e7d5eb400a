package providers

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type namedFunc struct {
	name string
	DispatchFunc
}

func (n namedFunc) Name() string { return n.name }

func echo(name string) namedFunc {
	return namedFunc{name: name, DispatchFunc: func(ctx context.Context, modelID, prompt string, opts DispatchOptions) (*Response, error) {
		return &Response{Text: name + ":" + modelID}, nil
	}}
}

func TestRegistry_RegisterProvider(t *testing.T) {
	r := NewRegistry("openai")

	if err := r.RegisterProvider(echo("openai")); err != nil {
		t.Fatalf("RegisterProvider() error = %v", err)
	}
	if err := r.RegisterProvider(echo("openai")); !errors.Is(err, ErrProviderAlreadyRegistered) {
		t.Errorf("duplicate register error = %v, want ErrProviderAlreadyRegistered", err)
	}
	if err := r.RegisterProvider(echo("")); err == nil {
		t.Error("expected error for empty provider name")
	}
	if err := r.RegisterProvider(nil); err == nil {
		t.Error("expected error for nil provider")
	}

	if err := r.RegisterProvider(echo("anthropic")); err != nil {
		t.Fatalf("RegisterProvider() error = %v", err)
	}
	if got, want := r.ListProviders(), []string{"anthropic", "openai"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ListProviders() = %v, want %v", got, want)
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry("openai")
	_ = r.RegisterProvider(echo("openai"))
	_ = r.RegisterProvider(echo("anthropic"))
	r.MapModel("claude-3-5-sonnet", "anthropic")
	r.MapModel("gemini-pro", "google")

	tests := []struct {
		model    string
		wantText string
		wantErr  bool
	}{
		{model: "gpt-4o", wantText: "openai:gpt-4o"},
		{model: "claude-3-5-sonnet", wantText: "anthropic:claude-3-5-sonnet"},
		{model: "gemini-pro", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			resp, err := r.Dispatch(context.Background(), tt.model, "hi", DispatchOptions{})
			if tt.wantErr {
				var te *TransportError
				if !errors.As(err, &te) || te.Code != "provider_not_configured" {
					t.Fatalf("expected provider_not_configured, got %v", err)
				}
				if !errors.Is(err, ErrProviderNotFound) {
					t.Errorf("error should wrap ErrProviderNotFound: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if resp.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", resp.Text, tt.wantText)
			}
		})
	}

	if got := r.ProviderFor("unmapped"); got != "openai" {
		t.Errorf("ProviderFor(unmapped) = %q, want openai", got)
	}
}
