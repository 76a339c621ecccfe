package reminder

import (
	"fmt"
	"strings"
	"time"
)

// DisplayLayout renders reminder times in chat replies.
const DisplayLayout = "Monday, January 02 at 03:04 PM"

const WelcomeText = `👋 Welcome to Reminder Bot!

Send me a message like:
• "Remind me to buy milk tomorrow"
• "Remind me to call mom in 2 hours"
• "Remind me to submit the report before Friday morning"

I'll work out when you want to be reminded and message you at that time.

Commands:
/start - Show this message
/list - View your pending reminders
/help - Get help`

const HelpText = `🤖 How to use Reminder Bot:

Send a normal message starting with "Remind me to ..." and say when.

Examples:
• "Remind me to buy petrol before Friday morning"
• "Remind me to work out tomorrow"
• "Remind me to stretch in 45 minutes"

Times are in %s.`

const ParseFailureText = "❌ I couldn't understand your reminder.\n\nTry something like: 'Remind me to [task] in 2 hours' or 'Remind me to [task] tomorrow'"

const NoPendingText = "📋 You have no pending reminders."

const TooManyPendingText = "⚠️ You already have %d pending reminders. Wait for some to fire before adding more."

const GenericErrorText = "❌ An error occurred. Please try again."

// FormatReminderBody is the text delivered when a task fires.
func FormatReminderBody(task string) string {
	return "🔔 Reminder: " + task
}

// FormatConfirmation acknowledges a stored reminder.
func FormatConfirmation(p ParsedReminder) string {
	return fmt.Sprintf("✅ Got it! I'll remind you to:\n\n'%s'\n\nat %s", p.TaskDescription, p.FireAt.Format(DisplayLayout))
}

// FormatHelp fills the configured timezone into HelpText.
func FormatHelp(loc *time.Location) string {
	name := "UTC"
	if loc != nil {
		name = loc.String()
	}
	return fmt.Sprintf(HelpText, name)
}

// FormatTaskList renders pending tasks as a numbered list in loc.
func FormatTaskList(tasks []Task, loc *time.Location) string {
	if len(tasks) == 0 {
		return NoPendingText
	}
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	b.WriteString("📋 Your pending reminders:\n\n")
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. %s\n   ⏰ %s\n\n", i+1, t.TaskDescription, t.FireAt.In(loc).Format(DisplayLayout))
	}
	return strings.TrimRight(b.String(), "\n")
}
