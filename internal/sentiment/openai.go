package sentiment

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const polarityInstructions = "Rate the emotional polarity of the user's message. " +
	"Return JSON with a single field polarity between -1 (very negative) and 1 (very positive). " +
	"Use 0 for neutral or factual text."

type polarityResult struct {
	Polarity float64 `json:"polarity" jsonschema:"required,description=Sentiment polarity from -1 to 1"`
}

var polaritySchema = mustSchema[polarityResult]()

// OpenAIScorer asks an OpenAI model for a polarity using structured output.
type OpenAIScorer struct {
	client *openai.Client
	model  string
}

func NewOpenAIScorer(apiKey, model string, opts ...option.RequestOption) *OpenAIScorer {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIScorer{client: &client, model: model}
}

func (s *OpenAIScorer) Score(ctx context.Context, text string) (float64, error) {
	params := responses.ResponseNewParams{
		Model:           s.model,
		MaxOutputTokens: openai.Int(64),
		Instructions:    openai.String(polarityInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "Polarity",
					Schema:      polaritySchema,
					Strict:      openai.Bool(true),
					Description: openai.String("Sentiment polarity JSON"),
					Type:        "json_schema",
				},
			},
		},
	}

	resp, err := s.client.Responses.New(ctx, params)
	if err != nil {
		return 0, goerr.Wrap(err, "openai sentiment request failed", goerr.V("model", s.model))
	}
	return decodePolarity(resp.OutputText())
}

func decodePolarity(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start >= 0 && end > start {
		s = s[start : end+1]
	}
	var res polarityResult
	if err := json.Unmarshal([]byte(s), &res); err != nil {
		return 0, goerr.Wrap(err, "failed to decode polarity", goerr.V("output", out))
	}
	return Clamp(res.Polarity), nil
}

func mustSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	m["additionalProperties"] = false
	return m
}
