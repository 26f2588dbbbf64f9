package generation

var styleTemplates = map[Style]string{
	StyleAnswer: `Task: answer the question directly from the context.
- Quote numbering such as "1.1" or "අ)" when the context uses it.
- Keep the answer short; use bullet points for lists.`,

	StyleSummary: `Task: summarise the context.
- Cover every main point in the order the context presents them.
- Use short bullet points and finish with one sentence that ties them together.`,

	StyleQuestions: `Task: write practice questions with model answers from the context.
- Number the questions 1, 2, 3 and keep each answer under the question.
- Mix recall questions with questions that need explanation.
- Every answer must be supported by the context.`,

	StyleExplain: `Task: explain the concept step by step.
- Start from what the context defines, then build up.
- Use one example taken from the context where possible.`,

	StyleGreeting: `Task: reply to the greeting briefly and offer help with the uploaded study material.`,
}
