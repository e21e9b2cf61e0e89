package task

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/store"
)

// DefaultConfirmationPatterns recognize result text that asks the requester a yes/no question.
var DefaultConfirmationPatterns = []string{
	`(?i)\b(shall|should|may|can) i (go ahead|proceed|send|continue|do)\b`,
	`(?i)\bdo you want me to\b`,
	`(?i)\bwould you like me to\b`,
	`(?i)\bplease confirm\b`,
	`(?i)\breply (with )?["']?yes["']? (or|/) ["']?no["']?`,
	`(?i)\(\s*y(es)?\s*/\s*n(o)?\s*\)`,
}

// Detector decides whether a successful result needs human confirmation.
type Detector interface {
	RequiresConfirmation(text string) bool
}

// PatternDetector is a Detector backed by regular expressions.
type PatternDetector struct {
	patterns []*regexp.Regexp
}

// NewPatternDetector compiles patterns. An empty list selects DefaultConfirmationPatterns.
func NewPatternDetector(patterns []string) (*PatternDetector, error) {
	if len(patterns) == 0 {
		patterns = DefaultConfirmationPatterns
	}
	d := &PatternDetector{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid confirmation pattern %q: %w", p, err)
		}
		d.patterns = append(d.patterns, re)
	}
	return d, nil
}

// RequiresConfirmation implements Detector.
func (d *PatternDetector) RequiresConfirmation(text string) bool {
	for _, re := range d.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Notifier is told that new work may be claimable.
type Notifier interface {
	Notify()
}

type nopNotifier struct{}

func (nopNotifier) Notify() {}

// ReplyOutcome reports what HandleReply did with a message.
type ReplyOutcome string

const (
	// ReplyIgnored means the message was not an answer to a pending confirmation.
	ReplyIgnored   ReplyOutcome = "ignored"
	ReplyConfirmed ReplyOutcome = "confirmed"
	ReplyCancelled ReplyOutcome = "cancelled"
)

// Gate parks results that need approval and resumes or cancels them on reply.
type Gate struct {
	store    store.TaskStore
	detector Detector
	delivery Delivery
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewGate creates a Gate. SetNotifier connects it to the dispatcher.
func NewGate(s store.TaskStore, detector Detector, delivery Delivery, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:    s,
		detector: detector,
		delivery: delivery,
		notifier: nopNotifier{},
		now:      time.Now,
		logger:   logger.With(slog.String("component", "confirmation_gate")),
	}
}

// SetNotifier sets who is told when a confirmed task becomes claimable again.
// It must be called before the gate handles replies.
func (g *Gate) SetNotifier(n Notifier) {
	if n != nil {
		g.notifier = n
	}
}

// ShouldRequestConfirmation reports whether a successful result of t must be
// parked for approval instead of completing. A task confirmed once is never
// gated again.
func (g *Gate) ShouldRequestConfirmation(t *domain.Task, res Result) bool {
	if t.ConfirmedAt != nil || !t.HasConversation() {
		return false
	}
	if !g.delivery.SupportsReplies(t) {
		return false
	}
	return g.detector.RequiresConfirmation(res.Text)
}

// HandleReply applies a requester's message to the confirmation pending on the
// conversation, if any. Messages that are neither clearly affirmative nor
// clearly negative are ignored so they can be handled as new requests.
func (g *Gate) HandleReply(
	ctx context.Context,
	tenantID, conversationRef, text string,
) (ReplyOutcome, *domain.Task, error) {
	affirmative, recognized := ClassifyReply(text)
	if !recognized {
		return ReplyIgnored, nil, nil
	}

	pending, err := g.store.FindPendingConfirmation(ctx, tenantID, conversationRef)
	if err != nil {
		if store.IsNotFoundError(err) {
			return ReplyIgnored, nil, nil
		}
		return ReplyIgnored, nil, fmt.Errorf("failed to find pending confirmation: %w", err)
	}

	log := g.logger.With(
		slog.Int64("task_id", pending.ID),
		slog.String("tenant_id", tenantID))

	if affirmative {
		confirmed, err := g.store.Confirm(ctx, pending.ID, g.now().UTC())
		if err != nil {
			return ReplyIgnored, nil, fmt.Errorf("failed to confirm task: %w", err)
		}
		g.notifier.Notify()
		log.Info("task confirmed by reply")
		return ReplyConfirmed, confirmed, nil
	}

	if _, err := g.store.Cancel(ctx, pending.ID, store.ReasonConfirmationDenied, g.now().UTC()); err != nil {
		return ReplyIgnored, nil, fmt.Errorf("failed to cancel task: %w", err)
	}
	cancelled, err := g.store.Get(ctx, pending.ID)
	if err != nil {
		return ReplyCancelled, nil, fmt.Errorf("failed to reload cancelled task: %w", err)
	}
	log.Info("task cancelled by reply")
	return ReplyCancelled, cancelled, nil
}

var (
	affirmativeReplies = map[string]struct{}{
		"yes": {}, "y": {}, "yeah": {}, "yep": {}, "sure": {}, "ok": {}, "okay": {},
		"go ahead": {}, "do it": {}, "confirm": {}, "confirmed": {}, "approve": {},
		"approved": {}, "proceed": {}, "yes please": {},
	}
	negativeReplies = map[string]struct{}{
		"no": {}, "n": {}, "nope": {}, "cancel": {}, "stop": {}, "dont": {}, "don't": {},
		"do not": {}, "abort": {}, "deny": {}, "reject": {}, "no thanks": {},
	}
)

// ClassifyReply reports whether text is an affirmative answer and whether it
// was recognized as an answer at all.
func ClassifyReply(text string) (affirmative bool, recognized bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, ".!?, ")
	normalized = strings.Join(strings.Fields(normalized), " ")

	if _, ok := affirmativeReplies[normalized]; ok {
		return true, true
	}
	if _, ok := negativeReplies[normalized]; ok {
		return false, true
	}
	return false, false
}
