package gateway

import (
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/capitalize-ai/listing-assistant/internal/model"
)

// RefusalSentence is the exact reply the model must give for questions
// outside the supplied context.
const RefusalSentence = "I'm sorry, I can only help with questions about our property listings and this website."

const preamble = `You are the assistant of a real-estate marketplace website.
Answer ONLY using the information in the context below: the current property listings, the website features and the help answers.
Do not use any outside knowledge, do not invent listings, prices or locations, and keep answers short and friendly.
If a question cannot be answered from this context, reply with exactly this sentence and nothing else:
"` + RefusalSentence + `"`

var features = []string{
	"Browse properties: the Listings section shows every available property with photos, price, beds, baths and location.",
	"Filter properties: the Filters section narrows listings by location and maximum price.",
	"Chat commands: say \"show me properties in <city>\" or \"under $<amount>\" to filter, \"show listings\" or \"show filters\" to jump to a section.",
	"Voice input: press the microphone button to speak instead of typing.",
	"Voice replies: the assistant can read answers aloud; use the mute button or the settings panel to change voice and language.",
	"Agent dashboard: registered agents manage their listings and inquiries from the dashboard.",
	"Events: the Events page lists open houses and seminars with online registration.",
}

var faq = []struct{ q, a string }{
	{"How do I filter by price?", "Type or say \"under $500,000\" in the chat, or set the maximum price in the Filters section."},
	{"How do I search a city?", "Type or say \"show me properties in Austin\" in the chat, or use the location filter."},
	{"How do I contact an agent?", "Open a listing and use the contact button on the listing card."},
	{"How do I register for an event?", "Go to the Events page, choose an event and fill in the registration form."},
	{"Can I use my voice?", "Yes. Press the microphone button in the chat panel and speak your question."},
	{"Does the assistant remember me?", "Yes. Your recent chat and preferences are kept on this device until you reset the assistant memory."},
}

// BuildContext renders the context prompt for listings. The output depends
// only on the listings and their order.
func BuildContext(listings []model.Listing) string {
	var b strings.Builder
	b.WriteString(preamble)

	b.WriteString("\n\nCURRENT LISTINGS:\n")
	if len(listings) == 0 {
		b.WriteString("- (no listings available)\n")
	}
	for _, l := range listings {
		b.WriteString("- ")
		b.WriteString(l.Title)
		b.WriteString(": ")
		b.WriteString(humanize.Comma(int64(l.Beds)))
		b.WriteString(" beds, ")
		b.WriteString(humanize.Comma(int64(l.Baths)))
		b.WriteString(" baths, $")
		b.WriteString(humanize.Comma(int64(l.Price)))
		b.WriteString(", located in ")
		b.WriteString(l.Location)
		b.WriteString("\n")
	}

	b.WriteString("\nWEBSITE FEATURES:\n")
	for _, f := range features {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}

	b.WriteString("\nHELP ANSWERS:\n")
	for _, qa := range faq {
		b.WriteString("Q: ")
		b.WriteString(qa.q)
		b.WriteString("\nA: ")
		b.WriteString(qa.a)
		b.WriteString("\n")
	}

	return b.String()
}
