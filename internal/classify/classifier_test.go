package classify

import (
	"testing"

	"github.com/Triyansha/newsletter-rag/internal/domain"
)

func msgWith(sender, subject string, headers map[string]string) *domain.RawMessage {
	return &domain.RawMessage{
		SourceID: "msg-1",
		Sender:   sender,
		Subject:  subject,
		Headers:  headers,
	}
}

// A single List-Unsubscribe header must be enough on its own.
func TestClassify_SingleListUnsubscribe(t *testing.T) {
	c := New(Config{})
	msg := msgWith("someone@personal-blog.org", "Thoughts on distributed systems",
		map[string]string{"List-Unsubscribe": "<mailto:unsub@personal-blog.org>"})

	d := c.Classify(msg)
	if !d.IsNewsletter {
		t.Fatalf("expected newsletter, got %+v", d)
	}
	if d.Confidence <= 0 {
		t.Errorf("expected positive confidence, got %g", d.Confidence)
	}
}

func TestClassify_PlatformDomainIsStrong(t *testing.T) {
	c := New(Config{})
	d := c.Classify(msgWith("writer@substack.com", "A plain subject", nil))
	if !d.IsNewsletter {
		t.Fatalf("expected newsletter for platform domain, got %+v", d)
	}
}

func TestClassify_HeaderLookupIsCaseInsensitive(t *testing.T) {
	c := New(Config{})
	msg := msgWith("a@b.org", "subject",
		map[string]string{"list-unsubscribe": "<https://b.org/u>"})
	if d := c.Classify(msg); !d.IsNewsletter {
		t.Errorf("expected newsletter with lowercase header name, got %+v", d)
	}
}

// One weak signal alone must not be enough, two must.
func TestClassify_WeakSignalThreshold(t *testing.T) {
	c := New(Config{})

	one := c.Classify(msgWith("The Weekly Digest <hello@example.org>", "Hello", nil))
	if one.IsNewsletter {
		t.Errorf("one weak signal accepted: %+v", one)
	}

	two := c.Classify(msgWith("The Weekly Digest <hello@example.org>", "Issue #42: things happened", nil))
	if !two.IsNewsletter {
		t.Errorf("two weak signals rejected: %+v", two)
	}
}

func TestClassify_BulkHeaderCountsWeak(t *testing.T) {
	c := New(Config{})
	msg := msgWith("hello@example.org", "This week in databases",
		map[string]string{"Precedence": "bulk"})
	if d := c.Classify(msg); !d.IsNewsletter {
		t.Errorf("bulk header plus subject pattern rejected: %+v", d)
	}
}

func TestClassify_PlainPersonalMailRejected(t *testing.T) {
	c := New(Config{})
	d := c.Classify(msgWith("Alice <alice@gmail.com>", "Lunch tomorrow?", nil))
	if d.IsNewsletter {
		t.Errorf("personal mail accepted: %+v", d)
	}
	if d.Confidence != 0 {
		t.Errorf("expected zero confidence, got %g", d.Confidence)
	}
}

func TestClassify_PromotionalFiltering(t *testing.T) {
	c := New(Config{FilterPromotions: true})

	cases := []struct {
		name string
		msg  *domain.RawMessage
	}{
		{"blacklisted domain", msgWith("deals@amazon.com", "Weekly deals digest",
			map[string]string{"List-Unsubscribe": "<mailto:u@amazon.com>"})},
		{"noreply sender", msgWith("noreply@shop.example", "Your weekly roundup",
			map[string]string{"List-Unsubscribe": "<mailto:u@shop.example>"})},
		{"promo subject", msgWith("news@shop.example", "50% off this weekly sale",
			map[string]string{"List-Unsubscribe": "<mailto:u@shop.example>"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if d := c.Classify(tc.msg); d.IsNewsletter {
				t.Errorf("expected rejection, got %+v", d)
			}
		})
	}
}

func TestClassify_PromotionalFilterDisabled(t *testing.T) {
	c := New(Config{FilterPromotions: false})
	msg := msgWith("noreply@shop.example", "Your weekly roundup",
		map[string]string{"List-Unsubscribe": "<mailto:u@shop.example>"})
	if d := c.Classify(msg); !d.IsNewsletter {
		t.Errorf("expected acceptance with filtering off, got %+v", d)
	}
}

func TestClassify_ConfidenceCappedAtOne(t *testing.T) {
	c := New(Config{})
	msg := msgWith("Morning Brew Daily <crew@morningbrew.com>", "Issue #100: daily digest",
		map[string]string{"List-Unsubscribe": "<mailto:u@morningbrew.com>", "Precedence": "bulk"})

	d := c.Classify(msg)
	if !d.IsNewsletter {
		t.Fatalf("expected newsletter, got %+v", d)
	}
	if d.Confidence > 1 {
		t.Errorf("confidence above 1: %g", d.Confidence)
	}
	if len(d.Reasons) < 4 {
		t.Errorf("expected all signals reported, got %v", d.Reasons)
	}
}

func TestClassify_StricterThresholds(t *testing.T) {
	c := New(Config{StrongSignalsRequired: 2, WeakSignalsRequired: 3})
	msg := msgWith("a@b.org", "subject",
		map[string]string{"List-Unsubscribe": "<mailto:u@b.org>"})
	if d := c.Classify(msg); d.IsNewsletter {
		t.Errorf("one strong signal accepted under 2-strong threshold: %+v", d)
	}
}
