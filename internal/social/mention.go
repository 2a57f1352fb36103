package social

import (
	"regexp"
	"strings"
)

// Payload is the subset of an account activity delivery the bot reads.
type Payload struct {
	ForUserID         string  `json:"for_user_id"`
	TweetCreateEvents []Tweet `json:"tweet_create_events"`
}

type Tweet struct {
	IDStr           string   `json:"id_str"`
	Text            string   `json:"text"`
	User            User     `json:"user"`
	Entities        Entities `json:"entities"`
	RetweetedStatus *struct {
		IDStr string `json:"id_str"`
	} `json:"retweeted_status,omitempty"`
}

type User struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
}

type Entities struct {
	UserMentions []User `json:"user_mentions"`
}

// MentionFilter picks the tweets addressed to the bot and extracts prompts.
type MentionFilter struct {
	bot     string
	mention *regexp.Regexp
}

// NewMentionFilter creates a MentionFilter for the bot account. A leading @ is ignored.
func NewMentionFilter(botUsername string) *MentionFilter {
	bot := strings.TrimPrefix(botUsername, "@")
	return &MentionFilter{
		bot:     bot,
		mention: regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(bot) + `\s*`),
	}
}

// Accept reports whether t mentions the bot and is neither the bot's own
// post nor a retweet.
func (f *MentionFilter) Accept(t Tweet) bool {
	if strings.EqualFold(t.User.ScreenName, f.bot) || t.RetweetedStatus != nil {
		return false
	}
	for _, m := range t.Entities.UserMentions {
		if strings.EqualFold(m.ScreenName, f.bot) {
			return true
		}
	}
	return false
}

// Prompt strips every mention of the bot from text and trims the rest.
func (f *MentionFilter) Prompt(text string) string {
	return strings.TrimSpace(f.mention.ReplaceAllString(text, ""))
}
