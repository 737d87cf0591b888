package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
)

// Registry stores available tools.
type Registry struct {
	tools map[Name]Tool
}

// NewRegistry builds a registry from tools.
func NewRegistry(items ...Tool) *Registry {
	reg := &Registry{tools: map[Name]Tool{}}
	for _, item := range items {
		reg.tools[item.Name()] = item
	}
	return reg
}

// NewLocalRegistry returns the screenshot, list_files and read_file tools.
func NewLocalRegistry(uploader Uploader) *Registry {
	return NewRegistry(NewScreenshotTool(uploader), NewListFilesTool(), NewReadFileTool())
}

// Get resolves a model-issued name to a tool.
func (r *Registry) Get(raw string) (Tool, error) {
	name, ok := ParseName(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, raw)
	}
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not enabled", ErrUnknownTool, raw)
	}
	return tool, nil
}

// Names returns sorted tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// OpenAITools converts tool definitions to OpenAI tool schema.
func (r *Registry) OpenAITools() []openai.ChatCompletionToolUnionParam {
	var defs []openai.ChatCompletionToolUnionParam
	for _, name := range r.Names() {
		tool := r.tools[Name(name)]
		defs = append(defs, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        name,
					Description: param.NewOpt(tool.Description()),
					Parameters:  tool.Schema(),
					Strict:      param.NewOpt(true),
				},
			},
		})
	}
	return defs
}

func decodeArgs(input json.RawMessage, out any) error {
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}
