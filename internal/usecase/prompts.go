package usecase

import (
	"fmt"
	"strings"

	"comment-refiner/internal/domain/ports/repository"
)

// OnboardingPrompt is shown to the reader before the first turn.
const OnboardingPrompt = "Please provide a comment on the article."

var (
	assessInstruction = "Do you believe that this represents a complete opinion, or is there more detail to be extracted? " +
		"Are there any misunderstandings by the user? If there is more detail to be extracted or something to be explored, " +
		"ask the question that will extract it in the style of a radio talk show host -- and keep the question succinct. " +
		"If not, reply " + Sentinel + "."

	restateInstruction = "Now you must articulate the user's opinion so far, in the 1st person and the present tense, " +
		"in a conversational manner."

	confirmInstruction = "If the user agrees with the comment, reply " + Sentinel +
		". Otherwise, ask the user to clarify or add more detail."
)

func articlePrompt(article string) string {
	return "A reader has read the following article, and will provide a comment\n\nArticle: " + article
}

func confirmationPrompt(comment string) string {
	return fmt.Sprintf("It sounds like you're saying: %s. Is that right or is there anything else to add?", comment)
}

func restatementSummary(restated string) string {
	return "I have interpreted the user's opinion so far to be: " + restated
}

func relatedOpinionsMessage(related []repository.Neighbor) string {
	var b strings.Builder
	b.WriteString("Other readers have left comments similar to this opinion. ")
	b.WriteString("The user has not necessarily seen them, so do not assume they are aware of them. ")
	b.WriteString("You may use them to explore how the user's view differs:\n")
	for _, r := range related {
		b.WriteString("- ")
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
