package chat

import (
	"strings"

	"github.com/fabfab/docqa-agent/index"
)

const (
	MessageEmptyQuestion = "Please enter a question."
	MessageError         = "An error occurred"
	MessageNoContext     = "No context available."
)

const groundedTemplate = "Use the following pieces of context to answer the question at the end. " +
	"If you don't know the answer, just say that you don't know, don't try to make up an answer.\n\n" +
	"%CONTEXT%\n\nQuestion: %QUESTION%\nHelpful Answer:"

// joinChunks concatenates chunk texts in retrieval order, separated by a
// blank line.
func joinChunks(chunks []index.Chunk) string {
	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		texts = append(texts, chunk.Text)
	}
	return strings.Join(texts, "\n\n")
}

func groundedPrompt(context, question string) string {
	return strings.NewReplacer("%CONTEXT%", context, "%QUESTION%", question).Replace(groundedTemplate)
}

// DocumentReply is the transcript entry for a document-mode exchange: the
// answer followed by the context it was drawn from.
func DocumentReply(answer, context string) string {
	return "Answer:\n" + answer + "\n\nContext retrieved:\n" + context
}
