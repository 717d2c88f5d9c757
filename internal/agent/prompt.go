package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vectorsync-ai/vectorsync/internal/catalog"
)

// systemPrompt is the fixed system message for every agent call.
const systemPrompt = `You are an expert SQL developer working against a PostgreSQL database.
You answer user questions by writing a single SQL statement.
You are given descriptions of database objects and example SQL statements as context.
If the context is insufficient, request more by asking a question about the schema.
When you answer, report which context items you relied on by their ids.
Never invent tables or columns that are not in the provided context.`

// promptHeader opens every rendered prompt. It is reproduced byte for byte
// on each iteration so identical context renders identical prompts.
const promptHeader = `Consider the following context when answering the user's question.

`

// renderPrompt assembles the user message for one iteration: header,
// database objects, SQL examples, any invalid-statement feedback, and the
// question.
func renderPrompt(question string, objs map[int64]*catalog.Object, sqls map[int64]*catalog.SQLExample, promptErr string) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)

	for _, o := range sortedObjects(objs) {
		renderObject(&sb, o)
	}
	for _, ex := range sortedExamples(sqls) {
		renderSQLExample(&sb, ex)
	}

	if promptErr != "" {
		sb.WriteString(promptErr)
		sb.WriteString("\n")
	}

	sb.WriteString("Q: ")
	sb.WriteString(question)
	return sb.String()
}

func renderObject(sb *strings.Builder, o *catalog.Object) {
	fmt.Fprintf(sb, "<database-object id=%q type=%q name=%q>\n",
		fmt.Sprint(o.ID), o.ObjType, strings.Join(o.ObjNames, "."))
	sb.WriteString(o.Description)
	sb.WriteString("\n</database-object>\n\n")
}

func renderSQLExample(sb *strings.Builder, ex *catalog.SQLExample) {
	fmt.Fprintf(sb, "<sql-example id=%q>\n", fmt.Sprint(ex.ID))
	if ex.Description != "" {
		sb.WriteString("-- ")
		sb.WriteString(ex.Description)
		sb.WriteString("\n")
	}
	sb.WriteString(ex.SQL)
	sb.WriteString("\n</sql-example>\n\n")
}

// renderInvalidSQL formats validator feedback carried into the next
// iteration.
func renderInvalidSQL(sqlText, errMsg string) string {
	var sb strings.Builder
	sb.WriteString("<invalid-sql-statement>\n")
	sb.WriteString(sqlText)
	sb.WriteString("\n-- error: ")
	sb.WriteString(errMsg)
	sb.WriteString("\n</invalid-sql-statement>\n")
	return sb.String()
}

func sortedObjects(objs map[int64]*catalog.Object) []*catalog.Object {
	out := make([]*catalog.Object, 0, len(objs))
	for _, o := range objs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedExamples(sqls map[int64]*catalog.SQLExample) []*catalog.SQLExample {
	out := make([]*catalog.SQLExample, 0, len(sqls))
	for _, ex := range sqls {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
