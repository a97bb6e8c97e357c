package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinicdesk/internal/aiconfig"
	"github.com/wolfman30/clinicdesk/internal/intent"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

// Outcome values for Decision.Outcome.
const (
	OutcomeDisabled             = "disabled"
	OutcomeGated                = "gated"
	OutcomeAutoResponseDisabled = "auto_response_disabled"
	OutcomeNoReply              = "no_reply"
	OutcomeReply                = "reply"
	// OutcomeEligible is a Gate result: a reply would be generated.
	OutcomeEligible = "eligible"
)

// ReplySourceRule marks replies produced by RuleReply.
const ReplySourceRule = "rule"

// Decision is the gating result for one inbound message.
type Decision struct {
	Intent       intent.Result `json:"intent"`
	WorkingHours bool          `json:"working_hours"`
	Activated    bool          `json:"activated"`
	Urgent       bool          `json:"urgent"`
	Reply        string        `json:"reply,omitempty"`
	ReplySource  string        `json:"reply_source,omitempty"`
	Outcome      string        `json:"outcome"`
}

// ShouldRespond reports whether a reply must be dispatched.
func (d Decision) ShouldRespond() bool {
	return d.Reply != ""
}

// Policy combines the classifier, business hours and the AI configuration.
type Policy struct {
	mode       aiconfig.GatingMode
	generators []Generator
	profile    ClinicProfile
	logger     *logging.Logger
}

// NewPolicy builds a policy. Generators are tried in order; when all fail or
// return nothing the rule-based reply is used.
func NewPolicy(mode aiconfig.GatingMode, profile ClinicProfile, logger *logging.Logger, generators ...Generator) *Policy {
	if logger == nil {
		logger = logging.Default()
	}
	return &Policy{mode: mode, generators: generators, profile: profile, logger: logger}
}

// Mode returns the configured gating mode.
func (p *Policy) Mode() aiconfig.GatingMode {
	return p.mode
}

// Activation reports (workingHours, activated) for cfg at now, ignoring Enabled.
func (p *Policy) Activation(cfg aiconfig.Config, now time.Time) (bool, bool) {
	working := cfg.IsWorkingTime(now)
	return working, p.mode.ShouldActivate(cfg, working)
}

// Gate runs the gating steps without generating a reply. Outcome is
// OutcomeEligible when Decide would go on to generate one.
func (p *Policy) Gate(rc ReplyContext) Decision {
	d := Decision{Intent: rc.Intent}
	if !rc.Config.Enabled {
		d.Outcome = OutcomeDisabled
		return d
	}

	d.WorkingHours, d.Activated = p.Activation(rc.Config, rc.Now)
	d.Urgent = rc.Intent.IsEmergency()

	switch {
	case !d.Activated:
		d.Outcome = OutcomeGated
	case !rc.Config.AutoResponseEnabled:
		d.Outcome = OutcomeAutoResponseDisabled
	default:
		d.Outcome = OutcomeEligible
	}
	return d
}

// Decide gates the message and, when eligible, generates the reply. It
// performs no writes; the caller applies the tag and dispatches the reply.
func (p *Policy) Decide(ctx context.Context, rc ReplyContext) Decision {
	d := p.Gate(rc)
	if d.Outcome != OutcomeEligible {
		return d
	}
	rc.WorkingHours = d.WorkingHours
	d.Reply, d.ReplySource = p.generate(ctx, rc)
	if d.Reply == "" {
		d.Outcome = OutcomeNoReply
	} else {
		d.Outcome = OutcomeReply
	}
	return d
}

func (p *Policy) generate(ctx context.Context, rc ReplyContext) (string, string) {
	for _, g := range p.generators {
		text, err := safeGenerate(ctx, g, rc)
		if err != nil {
			p.logger.Warn("reply generator failed, falling back",
				"generator", g.Name(),
				"intent", rc.Intent.Label,
				"error", err,
			)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			return text, g.Name()
		}
	}
	if text := RuleReply(rc.Intent, p.profile, rc.Config); text != "" {
		return text, ReplySourceRule
	}
	return "", ""
}

func safeGenerate(ctx context.Context, g Generator, rc ReplyContext) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversation: generator %s panicked: %v", g.Name(), r)
		}
	}()
	return g.Generate(ctx, rc)
}
