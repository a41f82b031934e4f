package ai

import (
	"fmt"
	"regexp"
	"strings"
)

// NoResultText replaces an empty model answer.
const NoResultText = "Sorry, I couldn't find any significant historical events for that date."

const offlineApology = "Sorry, I couldn't connect to the historical events database. Please check your internet connection and try again."

var monthDayPattern = regexp.MustCompile(`(\w+) (\d+)`)

// OfflineReply is served when the provider cannot be reached at all. When the
// query names a month and day it returns illustrative events that are
// explicitly labeled as examples, otherwise an apology.
func OfflineReply(query string) string {
	match := monthDayPattern.FindStringSubmatch(query)
	if len(match) < 3 {
		return offlineApology
	}

	month, day := match[1], match[2]
	return fmt.Sprintf("Here are some historical events for %s %s:\n\n", month, day) +
		"1912: The RMS Titanic sank in the North Atlantic Ocean after colliding with an iceberg.\n\n" +
		"1775: The American Revolutionary War began with the Battles of Lexington and Concord.\n\n" +
		"1989: The Tiananmen Square protests began in China.\n\n" +
		fmt.Sprintf("(Note: These are example events and may not actually correspond to %s %s. The API connection failed, so I'm providing generic examples.)", month, day)
}

// cleanReply strips a leading role label left over from transcript prompts.
func cleanReply(text string) string {
	if rest, ok := strings.CutPrefix(text, "Assistant:"); ok {
		text = rest
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return NoResultText
	}
	return text
}
