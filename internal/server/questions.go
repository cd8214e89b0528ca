package server

import "fmt"

// Question counts per subscription level.
const (
	FreeQuestions    = 5
	SuperQuestions   = 10
	PremiumQuestions = 15
)

var touristQuestions = []string{
	"What is the purpose of your visit to the United States?",
	"How long do you plan to stay?",
	"Where will you be staying during your visit?",
	"Have you visited the United States before?",
	"What do you do for a living in your home country?",
	"Who is sponsoring your trip?",
	"Do you have family or friends in the United States?",
	"What places do you plan to visit?",
	"How much will this trip cost and how will you pay for it?",
	"What ties do you have to your home country?",
	"Are you traveling alone or with someone?",
	"Do you have travel insurance for this trip?",
	"What is your monthly income?",
	"Have you ever been refused a visa to any country?",
	"What guarantees that you will return home after your visit?",
}

var studentQuestions = []string{
	"Which university admitted you and what will you study?",
	"Why did you choose this university?",
	"Why do you want to study in the United States instead of your home country?",
	"Who will pay for your education?",
	"What is your sponsor's occupation and annual income?",
	"What are your plans after completing your studies?",
	"What was your undergraduate GPA or academic standing?",
	"Have you received any scholarships?",
	"How did you prepare for your standardized tests?",
	"Do you have relatives in the United States?",
	"What do your parents do for a living?",
	"How does this program relate to your previous studies?",
	"Where will you live while studying?",
	"What will you do if your visa is rejected?",
	"How can you prove you intend to return after graduation?",
}

// questionBank returns the ordered question list for a visa type.
func questionBank(visaType string) ([]string, error) {
	switch visaType {
	case "tourist":
		return touristQuestions, nil
	case "student":
		return studentQuestions, nil
	}
	return nil, fmt.Errorf("unknown visa type %q", visaType)
}

// questionCount maps a subscription level to its session length.
// Unknown levels fall back to the free tier.
func questionCount(level string) int {
	switch level {
	case "premium":
		return PremiumQuestions
	case "super":
		return SuperQuestions
	default:
		return FreeQuestions
	}
}
