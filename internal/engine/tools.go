package engine

import (
	"fmt"

	"google.golang.org/genai"
)

// Tool names declared to the research model.
const (
	toolProposeChange = "propose_change"
	toolListFiles     = "list_files"
	toolGetFile       = "get_file"
)

// ProposeArgs is the validated payload of a propose_change call.
type ProposeArgs struct {
	TargetFile  string
	Description string
	CodeChange  string
}

// ListFilesArgs is the validated payload of a list_files call.
type ListFilesArgs struct {
	Path string
}

// GetFileArgs is the validated payload of a get_file call.
type GetFileArgs struct {
	Path string
}

// ToolCall is the decoded form of a model tool call: exactly one field is set.
type ToolCall struct {
	Propose   *ProposeArgs
	ListFiles *ListFilesArgs
	GetFile   *GetFileArgs
}

// Declarations returns the three tools exposed to the research model.
func Declarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:        toolProposeChange,
			Description: "Submit a single concrete improvement for the repository. Terminal: the proposal is reviewed before anything happens.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"target_file": {Type: genai.TypeString, Description: "Path of the file the change applies to"},
					"description": {Type: genai.TypeString, Description: "One-sentence summary of the improvement"},
					"code_change": {Type: genai.TypeString, Description: "The proposed change as plain text"},
				},
				Required: []string{"target_file", "description", "code_change"},
			},
		},
		{
			Name:        toolListFiles,
			Description: "List files and directories at a path in the repository. Omit path for the root.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"path": {Type: genai.TypeString, Description: "Directory path to list"},
				},
			},
		},
		{
			Name:        toolGetFile,
			Description: "Read the text content of one file in the repository.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"path": {Type: genai.TypeString, Description: "File path to read"},
				},
				Required: []string{"path"},
			},
		},
	}
}

// DecodeToolCall validates a raw model function call against the fixed
// argument shapes. A failure here is a tool-dispatch error, fed back to the
// model as a tool result, never a crash.
func DecodeToolCall(fc *genai.FunctionCall) (*ToolCall, error) {
	switch fc.Name {
	case toolProposeChange:
		targetFile, err := stringArg(fc.Args, "target_file", true)
		if err != nil {
			return nil, err
		}
		description, err := stringArg(fc.Args, "description", true)
		if err != nil {
			return nil, err
		}
		codeChange, err := stringArg(fc.Args, "code_change", true)
		if err != nil {
			return nil, err
		}
		return &ToolCall{Propose: &ProposeArgs{
			TargetFile:  targetFile,
			Description: description,
			CodeChange:  codeChange,
		}}, nil

	case toolListFiles:
		path, err := stringArg(fc.Args, "path", false)
		if err != nil {
			return nil, err
		}
		return &ToolCall{ListFiles: &ListFilesArgs{Path: path}}, nil

	case toolGetFile:
		path, err := stringArg(fc.Args, "path", true)
		if err != nil {
			return nil, err
		}
		return &ToolCall{GetFile: &GetFileArgs{Path: path}}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", fc.Name)
	}
}

// stringArg extracts one string field from untyped tool-call arguments.
func stringArg(args map[string]any, key string, required bool) (string, error) {
	raw, present := args[key]
	if !present {
		if required {
			return "", fmt.Errorf("%s is required", key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if required && s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}
