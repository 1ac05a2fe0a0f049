// Package classify decides whether an inbound client text is safe to answer
// automatically. It is pure and deterministic: no I/O, no external calls, so
// every outcome can be audited and unit-tested in isolation.
package classify

import (
	"regexp"
	"strings"
)

// Result is the classification outcome for one inbound message.
type Result string

const (
	// ResultDealRelated means the text is a policy-information question the
	// system has the data to answer automatically.
	ResultDealRelated Result = "deal_related"

	// ResultNonDeal means a human must handle it: blocked topic, missing
	// data, or an unrecognized request.
	ResultNonDeal Result = "non_deal"

	// ResultNotQuestion means the text is not an information request at all
	// and should be ignored rather than escalated.
	ResultNotQuestion Result = "not_question"
)

// Fact keys the entity rules and reply prompt read from deal data.
const (
	FactPolicyNumber   = "policy_number"
	FactCarrierName    = "carrier_name"
	FactPlanType       = "plan_type"
	FactPolicyStatus   = "policy_status"
	FactPremium        = "premium"
	FactCoverageAmount = "coverage_amount"
	FactBeneficiary    = "beneficiary"
	FactEffectiveDate  = "effective_date"
	FactRenewalDate    = "renewal_date"
	FactNextPayment    = "next_payment"
	FactAgentName      = "agent_name"
	FactAgentEmail     = "agent_email"
	FactAgentPhone     = "agent_phone"
	FactClientName     = "client_name"
)

// Facts is the deal data available when classifying; empty values count as
// unknown.
type Facts map[string]string

func (f Facts) hasAny(keys []string) bool {
	for _, k := range keys {
		if strings.TrimSpace(f[k]) != "" {
			return true
		}
	}
	return false
}

// Hard-block patterns. Any match escalates to a human no matter how the rest
// of the text reads: claims, policy changes, legal matters, and open-ended
// help requests must never get an automated reply.
var hardBlockREs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:file|filed|filing|submit|submitted|open|start)\s+(?:a\s+|my\s+|the\s+)?claims?\b`),
	regexp.MustCompile(`(?i)\bclaims?\s+(?:status|number|form|process|department|check)\b`),
	regexp.MustCompile(`(?i)\b(?:accident|crash|wreck|totaled|injur(?:y|ed)|hospitalized|passed\s+away|death\s+certificate)\b`),
	regexp.MustCompile(`(?i)\b(?:cancel(?:ling|ing|led)?|terminate|surrender|drop|switch|change|update|upgrade|downgrade|modify|increase|decrease|add|remove)\b[^.?!]{0,40}\b(?:polic(?:y|ies)|coverage|plan|premium|beneficiar(?:y|ies)|payment)\b`),
	regexp.MustCompile(`(?i)\b(?:lawyer|attorney|legal|lawsuit|sue|suing|court|subpoena)\b`),
	regexp.MustCompile(`(?i)\bi\s+(?:want|need|would\s+like)\s+(?:some\s+)?help\b`),
	regexp.MustCompile(`(?i)\b(?:talk|speak)\s+(?:to|with)\s+(?:a\s+|an\s+)?(?:person|human|someone|agent\s+directly|representative|rep)\b`),
	regexp.MustCompile(`(?i)\brefunds?\b`),
}

// Question-shape patterns. A text qualifies as an information request when it
// starts with an interrogative word, or carries a question mark together with
// an interrogative/possessive cue, and does not read as a statement of want.
var (
	leadingInterrogativeRE = regexp.MustCompile(`(?i)^\s*(?:who|whom|whose|what|which|when|where|why|how|is|are|am|was|were|do|does|did|can|could|will|would|should|shall|may|might|must|have|has)\b`)
	interrogativeCueRE     = regexp.MustCompile(`(?i)\b(?:who|whom|whose|what|which|when|where|why|how|my|mine|our)\b`)
)

var wantStatementREs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi\s+(?:want|wanted|wanna|need|needed)\s+to\b`),
	regexp.MustCompile(`(?i)\bi(?:'d|\s+would)\s+like\s+to\b`),
	regexp.MustCompile(`(?i)\bi\s+(?:want|need)\s+(?:a|an|the|my|some)\b`),
	regexp.MustCompile(`(?i)\b(?:please|pls)\s+(?:send|call|email|mail|text)\b`),
}

// entityRule maps a topic trigger to the deal fields needed to answer it.
// The table is scanned in order and the first matching trigger decides the
// outcome, so specific triggers (agent email/phone) must stay listed before
// broader ones (agent).
type entityRule struct {
	name     string
	trigger  *regexp.Regexp
	fields   []string
	required bool
}

var entityRules = []entityRule{
	{
		name:     "agent_contact",
		trigger:  regexp.MustCompile(`(?i)\b(?:agent|broker)(?:'s)?\s+(?:email|e-?mail|phone|number|contact)\b`),
		fields:   []string{FactAgentEmail, FactAgentPhone},
		required: true,
	},
	{
		name:     "policy_number",
		trigger:  regexp.MustCompile(`(?i)\bpolic(?:y|ies)\s*(?:number|no\.?|num|#|id)\b`),
		fields:   []string{FactPolicyNumber},
		required: true,
	},
	{
		name:     "premium",
		trigger:  regexp.MustCompile(`(?i)\b(?:premium|monthly\s+payment|price|cost|rate)\b`),
		fields:   []string{FactPremium},
		required: true,
	},
	{
		name:     "carrier",
		trigger:  regexp.MustCompile(`(?i)\b(?:carrier|insurance\s+company|insurer|underwriter|company\s+name)\b`),
		fields:   []string{FactCarrierName},
		required: true,
	},
	{
		name:     "policy_dates",
		trigger:  regexp.MustCompile(`(?i)\b(?:effective|start|renewal|expiration|expiry|end)\s+date\b|\bwhen\s+(?:does|did|will)\s+(?:my|the)\s+(?:polic(?:y|ies)|coverage|plan)\b`),
		fields:   []string{FactEffectiveDate, FactRenewalDate},
		required: true,
	},
	{
		name:     "coverage_amount",
		trigger:  regexp.MustCompile(`(?i)\b(?:coverage|benefit|death\s+benefit|face)\s+(?:amount|value|limit)\b|\bhow\s+much\s+.{0,20}\bcover(?:ed|age)?\b`),
		fields:   []string{FactCoverageAmount},
		required: true,
	},
	{
		name:     "beneficiary",
		trigger:  regexp.MustCompile(`(?i)\bbeneficiar(?:y|ies)\b`),
		fields:   []string{FactBeneficiary},
		required: true,
	},
	{
		name:     "payment",
		trigger:  regexp.MustCompile(`(?i)\b(?:payment|bill|billing|due\s+date|autopay|auto-?draft|draft\s+date)\b`),
		fields:   []string{FactNextPayment},
		required: true,
	},
	{
		name:     "plan_type",
		trigger:  regexp.MustCompile(`(?i)\b(?:plan|polic(?:y|ies))\s+type\b|\bwhat\s+(?:kind|type)\s+of\s+(?:plan|polic(?:y|ies)|coverage)\b`),
		fields:   []string{FactPlanType},
		required: true,
	},
	{
		name:     "policy_status",
		trigger:  regexp.MustCompile(`(?i)\b(?:active|in\s+force|lapsed|status)\b`),
		fields:   []string{FactPolicyStatus},
		required: false,
	},
	{
		name:     "agent",
		trigger:  regexp.MustCompile(`(?i)\b(?:agent|broker)\b|\bwho\s+(?:sold|wrote|handles)\b`),
		fields:   []string{FactAgentName},
		required: false,
	},
}

// Classify runs the three-layer pipeline over one inbound text:
//
//  1. Hard-block layer: any blocked-topic pattern forces non_deal.
//  2. Question-shape layer: texts that do not read as an information request
//     are not_question.
//  3. Entity-availability layer: the first matching entity rule decides; a
//     required rule whose fields are all empty means non_deal, anything else
//     that matches is deal_related, and no match at all is non_deal.
//
// Layers short-circuit in that order. When no facts are supplied the entity
// layer cannot vouch for an answer, so the result is non_deal.
func Classify(text string, facts Facts) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ResultNotQuestion
	}

	for _, re := range hardBlockREs {
		if re.MatchString(trimmed) {
			return ResultNonDeal
		}
	}

	if !isQuestion(trimmed) {
		return ResultNotQuestion
	}

	if facts == nil {
		return ResultNonDeal
	}

	for _, rule := range entityRules {
		if !rule.trigger.MatchString(trimmed) {
			continue
		}
		if rule.required && !facts.hasAny(rule.fields) {
			return ResultNonDeal
		}
		return ResultDealRelated
	}

	return ResultNonDeal
}

func isQuestion(text string) bool {
	for _, re := range wantStatementREs {
		if re.MatchString(text) {
			return false
		}
	}

	if leadingInterrogativeRE.MatchString(text) {
		return true
	}
	return strings.Contains(text, "?") && interrogativeCueRE.MatchString(text)
}
