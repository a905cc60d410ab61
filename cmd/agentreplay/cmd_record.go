package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agentreplay/internal/llm"
	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/internal/recorder"
	"github.com/capitalize-ai/agentreplay/internal/store"
)

type recordOptions struct {
	provider    string
	model       string
	prompt      string
	system      string
	name        string
	output      string
	baseURL     string
	maxTokens   int
	temperature float64
	stream      bool
}

func newRecordCmd(a *app) *cobra.Command {
	var o recordOptions
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one LLM call as a trace file",
		Long: `record sends a single prompt to the configured provider and writes the
exchange as a trace, so it can be replayed or diffed against a later run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.record(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.provider, "provider", "", "llm provider: openai or anthropic (default from config)")
	f.StringVar(&o.model, "model", "", "model name (default: provider default)")
	f.StringVar(&o.prompt, "prompt", "", "user prompt")
	f.StringVar(&o.system, "system", "", "optional system prompt")
	f.StringVar(&o.name, "name", "", "trace name (default: output file stem)")
	f.StringVarP(&o.output, "output", "o", "", "trace file to write")
	f.StringVar(&o.baseURL, "base-url", "", "override the provider API endpoint")
	f.IntVar(&o.maxTokens, "max-tokens", 0, "completion token limit")
	f.Float64Var(&o.temperature, "temperature", 0, "sampling temperature")
	f.BoolVar(&o.stream, "stream", false, "stream tokens to stdout as they arrive")
	cmd.MarkFlagRequired("prompt")
	cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) record(cmd *cobra.Command, o recordOptions) (err error) {
	if o.provider == "" {
		o.provider = a.cfg.DefaultLLM
	}
	provider, err := llm.ParseProvider(o.provider)
	if err != nil {
		return err
	}
	key := a.cfg.OpenAIAPIKey
	if provider == llm.ProviderAnthropic {
		key = a.cfg.AnthropicAPIKey
	}

	var opts []llm.Option
	if o.baseURL != "" {
		opts = append(opts, llm.WithBaseURL(o.baseURL))
	}
	client, err := llm.NewClient(provider, key, opts...)
	if err != nil {
		return err
	}

	if o.name == "" {
		o.name = strings.TrimSuffix(filepath.Base(o.output), filepath.Ext(o.output))
	}
	sink, err := store.OpenFileSink(o.output)
	if err != nil {
		return err
	}
	rec, err := recorder.New(o.name,
		recorder.WithSink(sink),
		recorder.WithLogger(a.log),
		recorder.WithMetadata(map[string]any{
			"provider": string(provider),
			"model":    o.model,
			"command":  "record",
		}),
	)
	if err != nil {
		sink.Close()
		return err
	}
	defer func() {
		t, ferr := rec.Finish()
		if ferr != nil {
			err = errors.Join(err, ferr)
			return
		}
		a.log.Info("Trace written",
			zap.String("path", o.output),
			zap.String("trace_id", t.ID),
			zap.Int("events", t.EventCount()),
		)
		fmt.Fprintf(cmd.ErrOrStderr(), "recorded %s (%d events) to %s\n", t.ID, t.EventCount(), o.output)
	}()

	traced := llm.NewRecordedClient(client, rec)
	req := &llm.CompletionRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		Stream:      o.stream,
	}
	if o.system != "" {
		req.Messages = append(req.Messages, llm.ChatMessage{Role: "system", Content: o.system})
	}
	req.Messages = append(req.Messages, llm.ChatMessage{Role: "user", Content: o.prompt})

	out := cmd.OutOrStdout()
	return rec.WithSpan("completion", func() error {
		if o.stream {
			_, err := traced.CompleteStream(cmd.Context(), req, func(token string, _ int) error {
				_, err := fmt.Fprint(out, token)
				return err
			})
			fmt.Fprintln(out)
			return err
		}
		resp, err := traced.Complete(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, resp.Content)
		_, err = rec.Emit(model.Log{
			Message: "completion finished",
			Level:   "info",
			Extra:   map[string]any{"stop_reason": resp.StopReason},
		})
		return err
	})
}
