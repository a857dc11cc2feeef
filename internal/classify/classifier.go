// Package classify decides whether a raw message is a newsletter worth
// indexing, from header and sender heuristics alone.
package classify

import (
	"regexp"
	"strings"

	"github.com/Triyansha/newsletter-rag/internal/domain"
)

// Config holds the tunable decision thresholds. A message is accepted
// when it carries at least StrongSignalsRequired strong signals OR at
// least WeakSignalsRequired weak signals, and (when FilterPromotions is
// set) no promotional verdict.
type Config struct {
	StrongSignalsRequired int
	WeakSignalsRequired   int
	FilterPromotions      bool
}

// Decision is the classification outcome for one message.
type Decision struct {
	IsNewsletter bool
	Confidence   float64
	Reasons      []string
}

// Newsletter platforms whose sender domain is a strong signal on its own.
var newsletterDomains = map[string]bool{
	"substack.com":        true,
	"beehiiv.com":         true,
	"mailchimp.com":       true,
	"convertkit.com":      true,
	"buttondown.email":    true,
	"ghost.io":            true,
	"mailerlite.com":      true,
	"campaignmonitor.com": true,
	"morningbrew.com":     true,
	"axios.com":           true,
	"thehustle.co":        true,
	"medium.com":          true,
}

// Retail / social / transactional domains that are never worth indexing.
var blacklistedDomains = map[string]bool{
	"amazon.com":       true,
	"ebay.com":         true,
	"walmart.com":      true,
	"doordash.com":     true,
	"ubereats.com":     true,
	"booking.com":      true,
	"airbnb.com":       true,
	"facebookmail.com": true,
	"twitter.com":      true,
	"x.com":            true,
	"instagram.com":    true,
	"netflix.com":      true,
	"spotify.com":      true,
	"paypal.com":       true,
}

// Local parts of automated, non-editorial senders.
var promotionalSenders = map[string]bool{
	"noreply":       true,
	"no-reply":      true,
	"donotreply":    true,
	"do-not-reply":  true,
	"notifications": true,
	"notification":  true,
	"alerts":        true,
	"alert":         true,
	"marketing":     true,
	"promo":         true,
	"promotions":    true,
	"deals":         true,
	"offers":        true,
	"orders":        true,
	"billing":       true,
}

var (
	senderPatternRe = regexp.MustCompile(
		`(?i)newsletter|digest|weekly|daily|updates?|bulletin|dispatch|brief|roundup|recap|edition|insider|bytes`,
	)
	subjectPatternRe = regexp.MustCompile(
		`(?i)issue\s*#?\d+|edition\s*#?\d+|vol\.?\s*\d+|#\d+\s*[-:]|weekly|daily|monthly|digest|roundup|newsletter|this\s+week|top\s+\d+|best\s+of|highlights`,
	)
	promoSubjectRe = regexp.MustCompile(
		`(?i)\d+%\s*off|save\s+\$?\d+|discount|\bsale\b|\bdeal\b|coupon|limited\s+time|last\s+chance|flash\s+sale|free\s+shipping|order\s+(confirmed?|shipped|delivered)|tracking|invoice|receipt|password\s+reset|verify\s+your|abandoned\s+cart`,
	)
)

// Signal confidence weights, mirroring how strongly each heuristic
// predicts a real newsletter.
const (
	weightUnsubscribe    = 0.35
	weightDomain         = 0.35
	weightBulkHeader     = 0.15
	weightSenderPattern  = 0.20
	weightSubjectPattern = 0.25
)

// Classifier applies header and sender heuristics with configurable
// thresholds.
type Classifier struct {
	cfg Config
}

// New creates a Classifier. Zero thresholds fall back to the
// 1-strong-or-2-weak default.
func New(cfg Config) *Classifier {
	if cfg.StrongSignalsRequired <= 0 {
		cfg.StrongSignalsRequired = 1
	}
	if cfg.WeakSignalsRequired <= 0 {
		cfg.WeakSignalsRequired = 2
	}
	return &Classifier{cfg: cfg}
}

// Classify scores a message and returns the indexing decision.
func (c *Classifier) Classify(msg *domain.RawMessage) Decision {
	var (
		strong, weak int
		confidence   float64
		reasons      []string
	)

	if msg.Header("List-Unsubscribe") != "" {
		strong++
		confidence += weightUnsubscribe
		reasons = append(reasons, "list-unsubscribe header")
	}

	domainPart := msg.SenderDomain()
	if newsletterDomains[domainPart] {
		strong++
		confidence += weightDomain
		reasons = append(reasons, "newsletter platform: "+domainPart)
	}

	if isBulkHeader(msg) {
		weak++
		confidence += weightBulkHeader
		reasons = append(reasons, "bulk-mail header")
	}
	if senderPatternRe.MatchString(msg.SenderName()) {
		weak++
		confidence += weightSenderPattern
		reasons = append(reasons, "newsletter sender pattern")
	}
	if subjectPatternRe.MatchString(msg.Subject) {
		weak++
		confidence += weightSubjectPattern
		reasons = append(reasons, "newsletter subject pattern")
	}

	if confidence > 1 {
		confidence = 1
	}

	accepted := strong >= c.cfg.StrongSignalsRequired || weak >= c.cfg.WeakSignalsRequired

	if accepted && c.cfg.FilterPromotions {
		if promoReason := c.promotional(msg); promoReason != "" {
			return Decision{
				IsNewsletter: false,
				Confidence:   confidence,
				Reasons:      append(reasons, promoReason),
			}
		}
	}

	return Decision{IsNewsletter: accepted, Confidence: confidence, Reasons: reasons}
}

// promotional returns a non-empty reason when the message looks like
// marketing or transactional mail rather than editorial content.
func (c *Classifier) promotional(msg *domain.RawMessage) string {
	if blacklistedDomains[msg.SenderDomain()] {
		return "blacklisted sender domain"
	}
	local := msg.SenderAddress()
	if i := strings.IndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}
	for _, part := range strings.FieldsFunc(local, func(r rune) bool { return r == '.' || r == '+' || r == '_' }) {
		if promotionalSenders[part] {
			return "automated sender: " + part
		}
	}
	if promoSubjectRe.MatchString(msg.Subject) {
		return "promotional subject"
	}
	return ""
}

// isBulkHeader reports a bulk-mail header: Precedence bulk/list or a
// List-Id header.
func isBulkHeader(msg *domain.RawMessage) bool {
	switch strings.ToLower(msg.Header("Precedence")) {
	case "bulk", "list":
		return true
	}
	return msg.Header("List-Id") != ""
}
