package tools

import (
	"github.com/cohesivestack/valgo"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/theapemachine/mnemo/pkg/errors"
)

const maxQueryLength = 500

/*
bind decodes the raw arguments into target. Type mismatches are reported as
invalid params.
*/
func bind(req mcp.CallToolRequest, target any) *errors.ToolError {
	if err := req.BindArguments(target); err != nil {
		return errors.ErrToolInvalidParams.WithData(err.Error())
	}

	return nil
}

/*
check turns a failed valgo validation into an invalid params ToolError whose
data lists the offending fields.
*/
func check(validation *valgo.Validation) *errors.ToolError {
	if validation.Valid() {
		return nil
	}

	return errors.ErrToolInvalidParams.WithData(validation.Error())
}

type searchMemoriesArgs struct {
	Query  string `json:"query"`
	Limit  *int   `json:"limit"`
	Domain string `json:"domain"`
}

func validateSearchMemories(req mcp.CallToolRequest) (searchMemoriesArgs, *errors.ToolError) {
	args := searchMemoriesArgs{}

	if err := bind(req, &args); err != nil {
		return args, err
	}

	limit := defaultLimit

	if args.Limit != nil {
		limit = *args.Limit
	}

	args.Limit = &limit

	return args, check(valgo.
		Is(valgo.String(args.Query, "query").Not().Blank().MaxLength(maxQueryLength)).
		Is(valgo.Int(limit, "limit").Between(1, 20)).
		Is(valgo.String(args.Domain, "domain").MaxLength(64)))
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults *int   `json:"max_results"`
}

func validateWebSearch(req mcp.CallToolRequest) (webSearchArgs, *errors.ToolError) {
	args := webSearchArgs{}

	if err := bind(req, &args); err != nil {
		return args, err
	}

	limit := defaultLimit

	if args.MaxResults != nil {
		limit = *args.MaxResults
	}

	args.MaxResults = &limit

	return args, check(valgo.
		Is(valgo.String(args.Query, "query").Not().Blank().MaxLength(maxQueryLength)).
		Is(valgo.Int(limit, "max_results").Between(1, 10)))
}
