package telegram

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/database"
)

// User-facing replies. Plain-text templates are sent without a parse mode;
// anything built with EscapeMarkdownV2 goes out as MarkdownV2.

const (
	NotAuthorizedMessage = "❌ You are not authorized to use this bot."
	AdminOnlyMessage     = "❌ Only admins can add users."
	GenericHintMessage   = "💡 Send a PDF file to add new student work, or use /help for commands."
	UnknownTypeMessage   = "🤖 Sorry, I did not recognize that message type. Please send a PDF file, photo, or use /help for commands."
	VoiceMessage         = "🎤 Voice message received! Voice-to-text feature coming soon."
	InternalErrorMessage = "❌ Something went wrong while handling your message. Please try again later."

	AskTitleMessage       = "📝 Now please provide the title of the work:"
	AskAuthorMessage      = "📝 Great! Now please provide the author name:"
	AskDescriptionMessage = "📝 Perfect! Now please provide a description of the work:"
	OfferThumbnailMessage = "📸 Optionally, you can send a thumbnail image for this work, or send /done to finish."
	AwaitThumbnailMessage = "📸 Please send a thumbnail image or type /done to finish."
	AllDoneMessage        = "🎉 All done! Your student work is now live on the website."
	EmptyInputPrefix      = "✏️ That message was empty."
	FinishStepFirstPrefix = "⏳ /done only works once the work is published."
	PublishFailedMessage  = "❌ Failed to save the showcase item. Please send the description again."

	CancelledMessage       = "✅ Process cancelled!\n\nYour PDF upload has been cancelled. You can start over by sending a new PDF file."
	NothingToCancelMessage = "📝 No active process to cancel. Send a PDF file to start uploading content."

	ProcessingPDFMessage       = "📄 Processing PDF... Please wait."
	PDFUploadedMessage         = "✅ PDF uploaded successfully!"
	NotAPDFMessage             = "❌ Please send the work as a PDF file."
	FileTooLargeMessage        = "❌ The file is larger than 20MB, which is the most the bot can download."
	ProcessingThumbnailMessage = "📸 Processing thumbnail image..."
	ThumbnailLinkedMessage     = "✅ Thumbnail uploaded and linked to your showcase item!"
	ThumbnailUploadedMessage   = "✅ Thumbnail uploaded!"
	NoPhotoMessage             = "❌ No photo found in the message."
	LimiterUnavailableMessage  = "⚠️ Upload limits cannot be checked right now. Please try again later."

	NoShowcaseItemsMessage = "📚 No showcase items found."
	ListFailedMessage      = "❌ Error retrieving showcase items."

	AddUserUsageMessage = `👥 Add User Command

To add a new user, send their user ID in this format:
adduser USER_ID ROLE

Roles:
• content_manager - Can manage content
• admin - Full access

Example:
adduser 123456789 content_manager`
	AddUserFormatMessage   = "❌ Invalid format. Use: adduser USER_ID ROLE"
	AddUserRoleMessage     = "❌ Invalid role. Use: content_manager or admin"
	AddUserIDMessage       = "❌ User ID must be numeric."
	AddUserSavedTemplate   = "✅ User %s added with role: %s\n\n✅ Change saved permanently to database."
	AddUserFailedMessage   = "❌ Failed to save user permanently. Please try again."
	UserIDTemplate         = "👤 Your Telegram User ID: %s\n\nShare this ID with an admin to get access."
	RateLimitedTemplate    = "❌ Rate limit exceeded. Try again in %ds."
	ThumbRateLimitTemplate = "❌ Thumbnail rate limit exceeded. Try again in %ds."
	PDFErrorTemplate       = "❌ Error processing PDF: %s. Please try again."
	PhotoErrorTemplate     = "❌ Error processing photo: %s. Please try again."
	SuggestionTemplate     = "💡 Suggested description (optional, your text was kept):\n\n%s"
	SpikeAlertTemplate     = "🚨 Error spike: %d errors in the last %s."
)

func startMessage(role string) string {
	return fmt.Sprintf(`🎨 Showcase Bot

Welcome! This bot helps you manage student showcase content.

Your Role: %s

Commands:
📁 Send a PDF file to add a new student work
📋 /list - View published showcase items
🔍 /status - Check bot status and your role
👤 /userid - Get your Telegram user ID
❌ /cancel - Cancel current PDF upload process
❓ /help - Show this help message

Admin Commands:
👥 /adduser - Add new users (admin only)

How to add content:
1. Send a PDF file (max 20MB)
2. I'll ask for title, author, and description
3. Optionally send a thumbnail image
4. Content goes live automatically!`, role)
}

const helpMessage = `📚 Help - Showcase Bot

Adding Student Work:
1. Send a PDF file of the student's work
2. Follow the prompts to add details
3. Optionally add a thumbnail image, or send /done

Commands:
📋 /list - View the latest published works
🔍 /status - Check bot status and your role
👤 /userid - Get your Telegram user ID
❌ /cancel - Cancel current PDF upload process
❓ /help - Show this help

Admin Commands:
👥 /adduser - Add new users (admin only)

Tips:
• PDFs are private and shared through expiring links
• Thumbnails are public for fast loading`

// StatusInfo is what /status reports besides the caller's own identity.
type StatusInfo struct {
	StoreKind       string
	PDFBucket       string
	ThumbnailBucket string
	AIAssist        bool
}

func statusMessage(info StatusInfo, role, userID string, users int) string {
	ai := "off"
	if info.AIAssist {
		ai = "on"
	}
	lines := []string{
		Bold("🤖 Bot Status"),
		"",
		"✅ Bot is running",
		"🗄 Store: " + EscapeMarkdownV2(info.StoreKind),
		"✨ AI assist: " + ai,
		"",
		Bold("📊 Storage Buckets"),
		"• PDFs: " + EscapeMarkdownV2(info.PDFBucket),
		"• Thumbnails: " + EscapeMarkdownV2(info.ThumbnailBucket),
		"",
		"👤 Your Role: " + EscapeMarkdownV2(role),
		"👥 Total Users: " + EscapeMarkdownV2(fmt.Sprint(users)),
		"🆔 Your User ID: " + EscapeMarkdownV2(userID),
	}
	return strings.Join(lines, "\n")
}

func listMessage(items []*database.ShowcaseItem) string {
	var sb strings.Builder
	sb.WriteString(Bold("📚 Published Showcase Items"))
	sb.WriteString("\n\n")
	for _, item := range items {
		fmt.Fprintf(&sb, "📖 %s\n", Bold(EscapeMarkdownV2(item.Title)))
		fmt.Fprintf(&sb, "👤 Author: %s\n", EscapeMarkdownV2(item.Author))
		fmt.Fprintf(&sb, "📅 %s\n\n", EscapeMarkdownV2(item.CreatedAt.Format("2006-01-02")))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func publishedMessage(title string) string {
	return fmt.Sprintf("✅ %s has been published successfully\\!", Bold(EscapeMarkdownV2(title)))
}

func uploadedFileMessage(name string, pages int) string {
	if pages > 0 {
		return fmt.Sprintf("📁 File: %s (%d pages)", name, pages)
	}
	return "📁 File: " + name
}

// retrySeconds rounds up so a refusal never says "0s".
func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

func spikeAlertMessage(errors int, window time.Duration) string {
	return fmt.Sprintf(SpikeAlertTemplate, errors, window)
}
