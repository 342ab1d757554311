package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Tool is a function the model may call during generation.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Execute     func(ctx context.Context, args json.RawMessage) (any, error)
}

type Toolset map[string]Tool

func (ts Toolset) definitions() []openai.Tool {
	if len(ts) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(ts))
	for _, t := range ts {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// run executes a call and always produces a JSON result; failures are
// reported to the model as {"error": "..."} instead of aborting the turn.
func (ts Toolset) run(ctx context.Context, call ToolCall) json.RawMessage {
	t, ok := ts[call.Name]
	if !ok {
		return errorResult(fmt.Errorf("unknown tool %q", call.Name))
	}
	res, err := t.Execute(ctx, call.Args)
	if err != nil {
		return errorResult(err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return errorResult(err)
	}
	return b
}

func errorResult(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}

type WeatherReport struct {
	Location    string `json:"location"`
	Temperature int    `json:"temperature"`
}

// WeatherTool reports a fahrenheit temperature in [32, 90] for a location.
// randFloat defaults to math/rand when nil.
func WeatherTool(randFloat func() float64) Tool {
	if randFloat == nil {
		randFloat = rand.Float64
	}
	return Tool{
		Name:        "weather",
		Description: "Get the weather in a location (fahrenheit)",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "location": {"type": "string", "description": "The location to get the weather for"}
  },
  "required": ["location"]
}`),
		Execute: func(_ context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Location string `json:"location"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("weather: bad arguments: %w", err)
			}
			if strings.TrimSpace(in.Location) == "" {
				return nil, fmt.Errorf("weather: location is required")
			}
			temp := int(math.Round(randFloat()*(90-32) + 32))
			return WeatherReport{Location: in.Location, Temperature: temp}, nil
		},
	}
}
