package provider

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	. "github.com/smartystreets/goconvey/convey"
)

func toolRoundTrip() []Message {
	return []Message{
		{Role: RoleUser, Content: "what did I say about hiking?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "c1", Name: "search_memories", Arguments: `{"query":"hiking"}`},
			{ID: "c2", Name: "web_search", Arguments: `{"query":"trails"}`},
		}},
		{Role: RoleTool, ToolCallID: "c1", Content: `{"results":[]}`},
		{Role: RoleTool, ToolCallID: "c2", Name: "web_search", Content: `{"results":[]}`},
	}
}

func TestConvertMessages(t *testing.T) {
	Convey("Given a conversation with a tool round-trip", t, func() {
		messages := toolRoundTrip()

		Convey("Anthropic should fold tool results into one user turn", func() {
			out := (&AnthropicBackend{}).convertMessages(messages, true)
			So(len(out), ShouldEqual, 3)
			So(len(out[1].Content), ShouldEqual, 2)
			So(out[1].Content[0].OfToolUse, ShouldNotBeNil)
			So(len(out[2].Content), ShouldEqual, 2)
			So(out[2].Content[0].OfToolResult, ShouldNotBeNil)
		})

		Convey("Anthropic without tools should carry the round-trip as text only", func() {
			out := (&AnthropicBackend{}).convertMessages(messages, false)
			So(len(out), ShouldEqual, 3)

			for _, message := range out {
				for _, block := range message.Content {
					So(block.OfToolUse, ShouldBeNil)
					So(block.OfToolResult, ShouldBeNil)
					So(block.OfText, ShouldNotBeNil)
				}
			}

			So(out[1].Content[0].OfText.Text, ShouldEqual, `[called search_memories with {"query":"hiking"}]`)
			So(out[2].Content[0].OfText.Text, ShouldEqual, `Tool search_memories result: {"results":[]}`)
			So(out[2].Content[1].OfText.Text, ShouldStartWith, "Tool web_search result")
		})

		Convey("Gemini should recover function names for tool results", func() {
			out := (&GoogleBackend{}).convertMessages(messages)
			So(len(out), ShouldEqual, 4)
			So(out[1].Role, ShouldEqual, "model")
			So(out[2].Parts[0].FunctionResponse.Name, ShouldEqual, "search_memories")
			So(out[1].Parts[0].FunctionCall.Args["query"], ShouldEqual, "hiking")
		})

		Convey("OpenAI should lead with the system prompt", func() {
			out := (&OpenAIBackend{}).convertMessages(&Params{System: "be brief", Messages: messages})
			So(len(out), ShouldEqual, 5)
			So(out[0].OfSystem, ShouldNotBeNil)
			So(out[2].OfAssistant, ShouldNotBeNil)
			So(len(out[2].OfAssistant.ToolCalls), ShouldEqual, 2)
			So(out[3].OfTool, ShouldNotBeNil)
		})

		Convey("Cohere should flatten everything into one message", func() {
			out := (&CohereBackend{}).convertMessages(&Params{System: "be brief", Messages: messages})
			So(out, ShouldStartWith, "be brief")
			So(out, ShouldContainSubstring, "Tool web_search result")
		})
	})
}

func TestSchemaOf(t *testing.T) {
	Convey("Given an mcp tool", t, func() {
		tool := mcp.NewTool("search_memories",
			mcp.WithString("query", mcp.Required()),
		)

		schema := schemaOf(tool)
		So(schema["type"], ShouldEqual, "object")
		So(schema["required"], ShouldResemble, []string{"query"})

		Convey("Anthropic should declare the required fields", func() {
			out := (&AnthropicBackend{}).convertTools(&Params{Tools: []mcp.Tool{tool}})
			So(len(out), ShouldEqual, 1)
			So(out[0].OfTool.InputSchema.Required, ShouldResemble, []string{"query"})
			So(out[0].OfTool.InputSchema.Properties, ShouldNotBeNil)
		})
	})
}

func TestArguments(t *testing.T) {
	Convey("Given model-produced arguments", t, func() {
		So(decodeArguments(`{"a":1}`)["a"], ShouldEqual, 1.0)
		So(decodeArguments(`not json`), ShouldBeEmpty)

		encoded, err := encodeArguments(map[string]any{"q": "x"})
		So(err, ShouldBeNil)
		So(encoded, ShouldEqual, `{"q":"x"}`)
	})
}
