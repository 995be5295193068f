package paygate

import "strings"

// Path is the checkout route chosen for a session.
type Path string

const (
	PathCoupon Path = "coupon"
	PathFree   Path = "free"
	PathPaid   Path = "paid"
)

// Gate decides whether a job needs payment. Order matters: bypass coupon,
// then free tier, then paid.
// The zero Gate is unconfigured; build one with New or NewFromEnv.
type Gate struct {
	bypass  []string
	ceiling int64
	built   bool
}

func New(freeTierBytes int64, bypassTokens []string) Gate {
	if freeTierBytes < 0 {
		freeTierBytes = 0
	}
	tokens := make([]string, 0, len(bypassTokens))
	for _, t := range bypassTokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return Gate{bypass: tokens, ceiling: freeTierBytes, built: true}
}

func NewFromEnv() Gate {
	return New(FreeTierBytes(), BypassTokens())
}

func (g Gate) FreeTierCeiling() int64 { return g.ceiling }

// IsZero reports whether g was declared rather than built.
func (g Gate) IsZero() bool { return !g.built }

// MatchBypass compares the coupon to the known bypass tokens case-insensitively.
// It returns the canonical token on a match.
func (g Gate) MatchBypass(coupon string) (string, bool) {
	c := strings.TrimSpace(coupon)
	if c == "" {
		return "", false
	}
	for _, t := range g.bypass {
		if strings.EqualFold(c, t) {
			return t, true
		}
	}
	return "", false
}

// JobToken is the token sent with a free-tier job start. The job-start
// endpoint only accepts bypass tokens, so the first configured one is used.
func (g Gate) JobToken() string {
	if len(g.bypass) == 0 {
		return DefaultBypassToken
	}
	return g.bypass[0]
}

// Decide returns the checkout path and the token to start the job with.
// The token is empty for PathPaid.
func (g Gate) Decide(coupon string, sizeBytes int64) (Path, string) {
	if tok, ok := g.MatchBypass(coupon); ok {
		return PathCoupon, tok
	}
	if sizeBytes <= g.ceiling {
		return PathFree, g.JobToken()
	}
	return PathPaid, ""
}
