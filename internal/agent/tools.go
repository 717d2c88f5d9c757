package agent

import "github.com/vectorsync-ai/vectorsync/internal/llm"

// Tool names in the fixed agent tool schema.
const (
	ToolRequestMoreContext = "request_more_context_by_question"
	ToolAnswerWithSQL      = "answer_user_question_with_sql_statement"
)

// moreContextInput is the argument payload of the context tool.
type moreContextInput struct {
	Question string `json:"question"`
}

// answerInput is the argument payload of the answer tool.
type answerInput struct {
	SQLStatement              string  `json:"sql_statement"`
	CommandType               string  `json:"command_type"`
	RelevantDatabaseObjectIDs []int64 `json:"relevant_database_object_ids"`
	RelevantSQLExampleIDs     []int64 `json:"relevant_sql_example_ids"`
}

// agentTools returns the two tools every provider adapter receives. The
// schema is fixed; changing it breaks recorded conversations.
func agentTools() []llm.Tool {
	return []llm.Tool{
		{
			Name: ToolRequestMoreContext,
			Description: "Request additional database schema context by asking a follow-up " +
				"question about the database. Use this when the provided context is not " +
				"sufficient to write the SQL statement.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]interface{}{
						"type":        "string",
						"description": "A question about the database schema.",
					},
				},
				"required": []string{"question"},
			},
		},
		{
			Name: ToolAnswerWithSQL,
			Description: "Answer the user's question with a SQL statement. Only use this " +
				"when the provided context is sufficient to write a correct statement.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sql_statement": map[string]interface{}{
						"type":        "string",
						"description": "The SQL statement that answers the user's question.",
					},
					"command_type": map[string]interface{}{
						"type":        "string",
						"description": "The SQL command type, e.g. SELECT or INSERT.",
					},
					"relevant_database_object_ids": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "integer"},
						"description": "Ids of the database objects the statement depends on.",
					},
					"relevant_sql_example_ids": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "integer"},
						"description": "Ids of the SQL examples that informed the statement.",
					},
				},
				"required": []string{
					"sql_statement", "command_type",
					"relevant_database_object_ids", "relevant_sql_example_ids",
				},
			},
		},
	}
}
