package coordinator

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const chargeDescriptionMax = 100

func paymentLinkText(handle, payURL string, amountCents int64, currency string) string {
	return fmt.Sprintf("🎨 Hi @%s! I'd love to create that image for you.\n\n"+
		"💳 Please complete your payment of %s here: %s\n\n"+
		"⏱️ I'll generate your image as soon as payment is confirmed!",
		handle, formatAmount(amountCents, currency), payURL)
}

func resultText(prompt string) string {
	return fmt.Sprintf("🎨 Here's your AI-generated image based on: %q\n\n"+
		"✨ Hope you love it! Feel free to mention me again for more creations.", prompt)
}

func apologyText(handle string) string {
	return fmt.Sprintf("😔 Sorry @%s, I encountered an error with your image request. "+
		"Please try again later or contact support.", handle)
}

// chargeDescription truncates the prompt to what the provider displays.
func chargeDescription(prompt string) string {
	if utf8.RuneCountInString(prompt) <= chargeDescriptionMax {
		return "AI image: " + prompt
	}
	runes := []rune(prompt)
	return "AI image: " + string(runes[:chargeDescriptionMax])
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}
