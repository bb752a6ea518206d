package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/providers"
	"github.com/nextlevelbuilder/clawrouter/internal/relay"
	"github.com/nextlevelbuilder/clawrouter/internal/session"
)

const (
	groupMembersHeader = "## Group Chat Members"

	mentionRulesFromUser = "**When the message @mentions multiple bots (including you), " +
		"ONLY respond to the part directed at YOU.** Ignore instructions and questions " +
		"meant for other bots entirely — do not answer them, summarize them, or reference " +
		"them in your response.\n\n" +
		"**Do NOT @mention other bots in your response** unless ALL of the following are true:\n" +
		"1. You need another bot to execute a task that you cannot do yourself.\n" +
		"2. Your next step depends on the result of that task.\n" +
		"3. There is no other way to obtain the result.\n\n" +
		"If you are unsure, do NOT @mention. Specifically:\n" +
		"- Do not @mention a bot just to ask its opinion or for general help.\n" +
		"- Do not answer on behalf of another bot, even if you know the answer.\n" +
		"- If the question involves another bot's expertise, let the user decide whether to ask them.\n\n" +
		"Mention syntax: write @name in your response%s. The system converts it to a proper @mention automatically."

	mentionRulesFromBot = "You are replying to another bot. Keep your response focused on the task.\n" +
		"- Do NOT @mention additional bots unless the requesting bot explicitly asked you to relay " +
		"results to a specific bot by name.\n" +
		"- Avoid chain-summoning: if you can answer directly, just answer.\n\n" +
		"Mention syntax: write @name in your response%s. The system converts it to a proper @mention automatically."

	userReminderGroup = "[System] This is a group chat. ONLY answer the part directed at you. " +
		"Do NOT answer for other bots. Do NOT @mention other bots unless you need one to execute " +
		"a task and your next step depends on its result."

	groupRoutingRules = "If from another BOT: NO for acknowledgments (OK/thanks), redundant, done. " +
		"YES for substantive question, task needing you. " +
		"If from a USER not @you: NO unless you were recently involved (follow-up) or it clearly " +
		"targets your expertise. YES if recent follow-up or clear new request for you."

	groupRoutingPromptTemplate = "You are: %s\n%s\n\n%s said: \"%s\"\n\n%sRules: %s\n\nReply with ONLY 'YES' or 'NO'."
)

const (
	selfDescMaxLen  = 300
	msgPreviewMaxLen = 300
	historyEntryMaxLen = 100
	historyTailCount   = 8
	historyScanCount   = 20
)

// GroupChatFilter is the routing filter governing multi-party chats: bot
// reply depth limiting, mention-based gating, and an LLM relevance check
// for the ambiguous middle ground. Non-group messages are left untouched
// (Abstain) so other filters or the chain default apply.
type GroupChatFilter struct {
	Provider  providers.Provider
	Model     string
	Workspace string
	Roster    relay.Roster

	MaxBotReplyDepth     int
	BotReplyLLMThreshold int
	BotReplyLLMCheck     bool
}

// NewGroupChatFilter builds a filter with the documented defaults.
func NewGroupChatFilter(provider providers.Provider, model, workspace string, roster relay.Roster) *GroupChatFilter {
	return &GroupChatFilter{
		Provider:             provider,
		Model:                model,
		Workspace:            workspace,
		Roster:               roster,
		MaxBotReplyDepth:     8,
		BotReplyLLMThreshold: 3,
		BotReplyLLMCheck:     true,
	}
}

func (f *GroupChatFilter) ShouldRespond(ctx context.Context, msg bus.InboundMessage, s *session.Session) (Decision, error) {
	if msg.MetaOr("chat_type", "") != "group" {
		return Abstain, nil
	}

	fromBot := msg.MetaBool("from_bot")
	mentioned := msg.MetaBool("is_mentioned")
	policy := msg.MetaOr("group_policy", "open")

	if fromBot {
		depth := 1
		if s != nil {
			depth = s.CountTrailingBots(30) + 1
		}
		if depth >= f.MaxBotReplyDepth {
			return Skip, nil
		}
		if !mentioned {
			return Skip, nil
		}
		if mentioned && (depth <= f.BotReplyLLMThreshold || !f.BotReplyLLMCheck) {
			return Respond, nil
		}
		// fall through to LLM gate
	} else {
		if policy == "open" || mentioned {
			return Respond, nil
		}
		// policy == "mention" (defence in depth) or "auto": fall through
	}

	respond := f.llmShouldRespond(ctx, msg, s, fromBot)
	if respond {
		return Respond, nil
	}
	return Skip, nil
}

func (f *GroupChatFilter) BuildPromptExtras(msg bus.InboundMessage, s *session.Session) string {
	if msg.MetaOr("chat_type", "") != "group" {
		return ""
	}
	members := decodeGroupMembers(msg)
	if len(members) == 0 {
		return ""
	}

	var lines []string
	var firstBotName string
	for _, m := range members {
		label := "@" + m.Name
		if m.Type == "bot" {
			label += " (bot)"
			if firstBotName == "" {
				firstBotName = m.Name
			}
		}
		if m.Description != "" {
			label += " - " + m.Description
		}
		lines = append(lines, "- "+label)
	}

	mentionHint := ""
	if firstBotName != "" {
		mentionHint = fmt.Sprintf(" (e.g. @%s)", firstBotName)
	}

	template := mentionRulesFromUser
	if msg.MetaBool("from_bot") {
		template = mentionRulesFromBot
	}
	mentionRules := fmt.Sprintf(template, mentionHint)

	return fmt.Sprintf("\n\n%s\nOther members in this group chat:\n%s\n\n%s",
		groupMembersHeader, strings.Join(lines, "\n"), mentionRules)
}

func (f *GroupChatFilter) BuildUserReminder(msg bus.InboundMessage, s *session.Session) string {
	if msg.MetaOr("chat_type", "") != "group" {
		return ""
	}
	return userReminderGroup
}

func (f *GroupChatFilter) llmShouldRespond(ctx context.Context, msg bus.InboundMessage, s *session.Session, fromBot bool) bool {
	defaultRespond := !fromBot // bot sender: conservative skip; human sender: charitable respond
	if f.Provider == nil {
		return defaultRespond
	}

	members := decodeGroupMembers(msg)
	selfDesc := f.buildSelfDescription(members)
	peersDesc := buildPeersDescription(members)
	historyBlurb := buildHistoryBlurb(s)

	senderHint := "A user (did NOT @mention you)"
	if fromBot {
		senderHint = "Another bot"
	}
	msgPreview := runewidth.Truncate(msg.Content, msgPreviewMaxLen, "")

	prompt := fmt.Sprintf(groupRoutingPromptTemplate, selfDesc, peersDesc, senderHint, msgPreview, historyBlurb, groupRoutingRules)

	resp, err := f.Provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Model:    f.Model,
		Options: map[string]interface{}{
			providers.OptMaxTokens:   64,
			providers.OptTemperature: 0.0,
		},
	})
	if err != nil {
		return defaultRespond
	}

	combined := strings.TrimSpace(strings.TrimSpace(resp.ReasoningContent) + "\n" + strings.TrimSpace(resp.Content))
	combined = strings.TrimSpace(combined)
	if combined == "" {
		return defaultRespond
	}
	answer := strings.ToUpper(combined)
	hasYes := strings.Contains(answer, "YES")
	hasNo := strings.Contains(answer, "NO")
	if !hasYes {
		return false
	}
	if !hasNo {
		return true
	}
	return strings.LastIndex(answer, "YES") > strings.LastIndex(answer, "NO")
}

func (f *GroupChatFilter) buildSelfDescription(members []relay.Member) string {
	if f.Roster != nil {
		otherNames := make(map[string]bool, len(members))
		for _, m := range members {
			otherNames[m.Name] = true
		}
		for _, m := range f.Roster.Members("") {
			if m.Type == "bot" && !otherNames[m.Name] {
				if m.Description != "" {
					return runewidth.Truncate(fmt.Sprintf("%s: %s", m.Name, m.Description), selfDescMaxLen, "")
				}
				return m.Name
			}
		}
	}

	var parts []string
	for _, filename := range []string{"AGENTS.md", "SOUL.md"} {
		data, err := os.ReadFile(filepath.Join(f.Workspace, filename))
		if err == nil {
			parts = append(parts, runewidth.Truncate(string(data), selfDescMaxLen, ""))
		}
	}
	if len(parts) == 0 {
		return "a helpful AI assistant"
	}
	return strings.Join(parts, "\n")
}

func buildPeersDescription(members []relay.Member) string {
	if len(members) == 0 {
		return ""
	}
	var lines []string
	for _, m := range members {
		entry := fmt.Sprintf("- %s (%s)", m.Name, m.Type)
		if m.Description != "" {
			entry += ": " + m.Description
		}
		lines = append(lines, entry)
	}
	return "\nOther members in this group:\n" + strings.Join(lines, "\n")
}

func buildHistoryBlurb(s *session.Session) string {
	if s == nil {
		return ""
	}
	recent := s.GetRecentForPrompt(historyScanCount)
	if len(recent) == 0 {
		return ""
	}
	start := 0
	if len(recent) > historyTailCount {
		start = len(recent) - historyTailCount
	}
	var lines []string
	for _, entry := range recent[start:] {
		content := runewidth.Truncate(entry.Content, historyEntryMaxLen, "")
		label := entry.Role
		if entry.Sender != "" {
			label += " (" + entry.Sender + ")"
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", label, content))
	}
	return "\nRecent:\n" + strings.Join(lines, "\n") + "\n\n"
}

func decodeGroupMembers(msg bus.InboundMessage) []relay.Member {
	raw, ok := msg.Metadata["group_members"]
	if !ok || raw == "" {
		return nil
	}
	var members []relay.Member
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		return nil
	}
	return members
}
