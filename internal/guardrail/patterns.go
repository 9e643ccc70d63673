package guardrail

import (
	"regexp"
	"strings"
)

type IssueKind string

const (
	IssueCredential       IssueKind = "credential"
	IssueBlockedTopic     IssueKind = "blocked_topic"
	IssueContentSafety    IssueKind = "content_safety"
	IssuePII              IssueKind = "pii"
	IssueFutureCommitment IssueKind = "future_commitment"
	IssueCompetitor       IssueKind = "competitor_disparagement"
	IssueAnalytics        IssueKind = "analytics_unavailable"
)

type Issue struct {
	Kind   IssueKind `json:"kind"`
	Detail string    `json:"detail"`
}

const (
	CredentialsMessage = "I noticed your message may contain sensitive credentials. " +
		"Please never share AWS access keys, secret keys, passwords, or other credentials in this chat. " +
		"If you've accidentally exposed credentials, please rotate them immediately through the AWS Console. " +
		"I'm here to help with your technical question - could you rephrase without including sensitive information?"

	ContentBlockedMessage = "I can't help with this request because it was flagged by our content safety policies. " +
		"Please rephrase your question."

	ResponseBlockedMessage = "I apologize, but I cannot provide this response due to content safety policies."

	RefineResponseMessage = "I apologize, but I need to refine my response to ensure it meets our guidelines. " +
		"Could you provide more details about your specific use case or issue?"

	GenericSafeMessage = "I want to make sure I provide safe and accurate information. " +
		"Could you please rephrase your question or provide more context?"
)

type credentialPattern struct {
	name    string
	pattern *regexp.Regexp
	// context, when set, must also match before the pattern counts.
	context *regexp.Regexp
}

var credentialPatterns = []credentialPattern{
	{name: "AWS Access Key", pattern: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{
		name:    "AWS Secret Key",
		pattern: regexp.MustCompile(`(^|[^A-Za-z0-9/+=])[A-Za-z0-9/+=]{40}([^A-Za-z0-9/+=]|$)`),
		context: regexp.MustCompile(`(?i)\b(secret|aws_secret_access_key)\b`),
	},
	{name: "Password", pattern: regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[:=]\s*\S+`)},
	{name: "Private Key", pattern: regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+|EC\s+|OPENSSH\s+)?PRIVATE\s+KEY-----`)},
	{name: "API Key", pattern: regexp.MustCompile(`(?i)\b(api[_-]?key|apikey)\s*[:=]\s*["']?[A-Za-z0-9_\-]{20,}`)},
}

type blockedTopic struct {
	topic    string
	keywords *regexp.Regexp
	response string
}

func keywordPattern(keywords ...string) *regexp.Regexp {
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = regexp.QuoteMeta(k)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

var blockedTopics = []blockedTopic{
	{
		topic: "future_features",
		keywords: keywordPattern("roadmap", "upcoming", "will be released", "future release",
			"planning to launch", "next version", "future plans"),
		response: "I cannot make commitments or discuss specific future AWS features or roadmap items. " +
			"I recommend checking the AWS What's New blog (https://aws.amazon.com/new/) and AWS re:Invent " +
			"announcements for information about new services and features.",
	},
	{
		topic: "account_credentials",
		keywords: keywordPattern("access key", "secret key", "password", "credentials",
			"login info", "authentication token"),
		response: "I cannot provide, request, or handle AWS account credentials. " +
			"Please never share your access keys, passwords, or other credentials in this chat. " +
			"If you've accidentally exposed credentials, please rotate them immediately through the AWS Console.",
	},
	{
		topic: "direct_account_modification",
		keywords: keywordPattern("delete my", "modify my account", "change my billing",
			"cancel my subscription", "close my account"),
		response: "I cannot directly modify AWS accounts or resources. For account changes, billing " +
			"modifications, or account closure, please use the AWS Console or contact AWS Support directly " +
			"through your support plan.",
	},
}

var (
	futureCommitmentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)we will (launch|release|add)`),
		regexp.MustCompile(`(?i)coming soon`),
		regexp.MustCompile(`(?i)in the (next|upcoming) (version|release)`),
		regexp.MustCompile(`(?i)(aws|amazon) (is|will be) planning`),
		regexp.MustCompile(`(?i)(aws|amazon) will (launch|release|add)`),
	}

	competitorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(azure|gcp|google cloud).*(bad|worse|inferior|poor)`),
		regexp.MustCompile(`(?i)(azure|gcp|google cloud).*(should not|shouldn't|avoid)`),
		regexp.MustCompile(`(?i)(azure|gcp|google cloud).*(problem|issue|flaw)`),
	}
)

// DetectCredentials returns one issue per credential pattern found in text.
func DetectCredentials(text string) []Issue {
	var issues []Issue
	for _, p := range credentialPatterns {
		if p.context != nil && !p.context.MatchString(text) {
			continue
		}
		if p.pattern.MatchString(text) {
			issues = append(issues, Issue{Kind: IssueCredential, Detail: p.name})
		}
	}
	return issues
}

// DetectBlockedTopics returns one issue per blocked topic mentioned in text.
func DetectBlockedTopics(text string) []Issue {
	var issues []Issue
	for _, t := range blockedTopics {
		if t.keywords.MatchString(text) {
			issues = append(issues, Issue{Kind: IssueBlockedTopic, Detail: t.topic})
		}
	}
	return issues
}

// CheckInputPatterns runs the credential and blocked topic checks.
func CheckInputPatterns(text string) []Issue {
	return append(DetectCredentials(text), DetectBlockedTopics(text)...)
}

// CheckOutputPatterns flags credentials, future commitments and competitor
// disparagement in generated text.
func CheckOutputPatterns(text string) []Issue {
	issues := DetectCredentials(text)
	for _, p := range futureCommitmentPatterns {
		if p.MatchString(text) {
			issues = append(issues, Issue{Kind: IssueFutureCommitment, Detail: "output contains future commitment"})
			break
		}
	}
	for _, p := range competitorPatterns {
		if p.MatchString(text) {
			issues = append(issues, Issue{Kind: IssueCompetitor, Detail: "output may contain competitor disparagement"})
			break
		}
	}
	return issues
}

// SafeInputMessage picks the user-facing message for blocked input.
// Credential disclosures take precedence over topic responses.
func SafeInputMessage(issues []Issue) string {
	for _, i := range issues {
		if i.Kind == IssueCredential {
			return CredentialsMessage
		}
	}
	for _, i := range issues {
		if i.Kind != IssueBlockedTopic {
			continue
		}
		for _, t := range blockedTopics {
			if t.topic == i.Detail {
				return t.response
			}
		}
	}
	for _, i := range issues {
		if i.Kind == IssueContentSafety || i.Kind == IssueAnalytics {
			return ContentBlockedMessage
		}
	}
	return GenericSafeMessage
}

// SafeOutputMessage picks the replacement for a blocked answer.
func SafeOutputMessage(issues []Issue) string {
	for _, i := range issues {
		if i.Kind == IssueCredential || i.Kind == IssueContentSafety || i.Kind == IssueAnalytics {
			return ResponseBlockedMessage
		}
	}
	return RefineResponseMessage
}

func hasKind(issues []Issue, kind IssueKind) bool {
	for _, i := range issues {
		if i.Kind == kind {
			return true
		}
	}
	return false
}
