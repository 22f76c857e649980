package assistant

import (
	"github.com/invopop/jsonschema"
	"google.golang.org/genai"

	"github.com/ashureev/vade/internal/domain"
)

// SystemInstruction is the persona and output contract the session is
// created with.
const SystemInstruction = `You are AVA (Vade's Advanced Virtual Engine), the universe's most advanced and future-come machinist whose first language is code of any kind. You possess best-in-class NLP understanding and the quickest code generation capabilities possible.
You can both chat with the user and directly modify the HTML, CSS, and JavaScript code in the editor.
When the user asks for a code change, provide the full, updated code for the relevant language(s) within the 'updates' array of your JSON response.
When you modify code, also provide a brief explanation of what you did in the 'explanation' field.
If the user is just chatting, respond naturally in the 'explanation' field and leave the 'updates' array empty.
Always respond with a JSON object that follows the specified schema.`

const (
	updatesDescription     = "A list of code files to update. Can be empty if no code changes are requested."
	languageDescription    = "The language of the code to update. Must be one of 'HTML', 'CSS', or 'JavaScript'."
	contentDescription     = "The full, new content of the code file."
	explanationDescription = "A friendly, conversational explanation of the changes made or a response to the user's query."
)

// Reply is the wire shape of a model reply.
type Reply struct {
	Updates     []ReplyUpdate `json:"updates,omitempty" jsonschema_description:"A list of code files to update. Can be empty if no code changes are requested."`
	Explanation string        `json:"explanation" jsonschema_description:"A friendly, conversational explanation of the changes made or a response to the user's query."`
}

// ReplyUpdate is one entry of Reply.Updates.
type ReplyUpdate struct {
	Language string `json:"language" jsonschema:"enum=HTML,enum=CSS,enum=JavaScript" jsonschema_description:"The language of the code to update. Must be one of 'HTML', 'CSS', or 'JavaScript'."`
	Content  string `json:"content" jsonschema_description:"The full, new content of the code file."`
}

// ResponseSchema returns the JSON schema every reply must satisfy.
func ResponseSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return r.Reflect(&Reply{})
}

func geminiSchema() *genai.Schema {
	enum := make([]string, 0, len(domain.Languages))
	for _, l := range domain.Languages {
		enum = append(enum, string(l))
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"updates": {
				Type:        genai.TypeArray,
				Description: updatesDescription,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"language": {
							Type:        genai.TypeString,
							Description: languageDescription,
							Enum:        enum,
						},
						"content": {
							Type:        genai.TypeString,
							Description: contentDescription,
						},
					},
					Required: []string{"language", "content"},
				},
			},
			"explanation": {
				Type:        genai.TypeString,
				Description: explanationDescription,
			},
		},
		Required: []string{"explanation"},
	}
}
