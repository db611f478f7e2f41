package grantd

import (
	"context"
	"errors"
	"strings"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
	"github.com/pilab-dev/grantd/log"
)

// InteractionKind enumerates the possible outcomes of the interaction
// decision for a validated authorize request.
type InteractionKind string

const (
	InteractionLogin    InteractionKind = "login"
	InteractionConsent  InteractionKind = "consent"
	InteractionRedirect InteractionKind = "redirect"
	InteractionError    InteractionKind = "error"
	InteractionIssue    InteractionKind = "issue"
)

// InteractionResult tells the caller what to do next with a validated
// request: show a UI page, follow a custom redirect, surface an error, or
// hand the request to the responder for issuance.
type InteractionResult struct {
	Kind        InteractionKind
	RedirectURL string
	Error       *serrors.OAuth2Error
}

// ConsentDecision is an explicit consent answer collected from the consent
// UI, fed back into the decision on the follow-up pass.
type ConsentDecision struct {
	Granted       bool
	GrantedScopes []string
	Remember      bool
}

// CustomInteractionHook lets deployments inject an extra interaction step
// (for example mandatory MFA enrollment) after login and consent are settled.
// Returning a non-empty URL redirects the user agent there.
type CustomInteractionHook interface {
	Intercept(ctx context.Context, req *ValidatedAuthorizeRequest, session *domain.Session) (string, error)
}

// InteractionEngine decides, for a validated request and the current session
// and consent state, whether login, consent, a custom redirect or issuance is
// next. The ordering is load bearing: login strictly precedes consent, and
// consent strictly precedes issuance, so scopes are never granted to an
// unauthenticated subject.
type InteractionEngine struct {
	consents *GrantStore[domain.Consent]
	hook     CustomInteractionHook
	clock    domain.Clock
	logger   log.Logger
}

// NewInteractionEngine creates the decision engine. hook may be nil.
func NewInteractionEngine(
	consents *GrantStore[domain.Consent],
	hook CustomInteractionHook,
	clock domain.Clock,
	logger log.Logger,
) *InteractionEngine {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &InteractionEngine{
		consents: consents,
		hook:     hook,
		clock:    clock,
		logger:   logger,
	}
}

// consentHandle derives the deterministic raw handle a subject/client consent
// is stored under. Hashing happens inside the typed store as usual.
func consentHandle(subjectID, clientID string) string {
	return subjectID + "|" + clientID
}

// Decide evaluates the interaction state machine for the request.
func (e *InteractionEngine) Decide(ctx context.Context, req *ValidatedAuthorizeRequest, session *domain.Session, decision *ConsentDecision) (*InteractionResult, error) {
	if !session.IsAuthenticated(e.clock.Now()) {
		return &InteractionResult{Kind: InteractionLogin}, nil
	}

	if decision != nil && !decision.Granted {
		return &InteractionResult{
			Kind:  InteractionError,
			Error: serrors.NewAccessDenied("the user denied the authorization request"),
		}, nil
	}

	if req.Client.RequireConsent {
		switch {
		case decision != nil:
			// Explicit grant from the consent UI on this pass.
			if decision.Remember {
				if err := e.rememberConsent(ctx, req, session, decision); err != nil {
					return nil, err
				}
			}
			if scope, ok := coveredBy(decision.GrantedScopes, req.Scopes); !ok {
				e.logger.Debug(ctx, "consent decision narrows requested scopes", map[string]interface{}{
					"missing_scope": scope,
				})
				return &InteractionResult{
					Kind:  InteractionError,
					Error: serrors.NewAccessDenied("consent does not cover the requested scopes"),
				}, nil
			}
		default:
			ok, err := e.hasRememberedConsent(ctx, req, session)
			if err != nil {
				return nil, err
			}
			if !ok {
				return &InteractionResult{Kind: InteractionConsent}, nil
			}
		}
	}

	if e.hook != nil {
		target, err := e.hook.Intercept(ctx, req, session)
		if err != nil {
			return nil, err
		}
		if target != "" {
			return &InteractionResult{Kind: InteractionRedirect, RedirectURL: target}, nil
		}
	}

	return &InteractionResult{Kind: InteractionIssue}, nil
}

func (e *InteractionEngine) hasRememberedConsent(ctx context.Context, req *ValidatedAuthorizeRequest, session *domain.Session) (bool, error) {
	consent, err := e.consents.Get(ctx, consentHandle(session.SubjectID, req.ClientID))
	if err != nil {
		if errors.Is(err, serrors.ErrGrantNotFound) {
			return false, nil
		}
		return false, err
	}
	return consent.Covers(req.Scopes), nil
}

func (e *InteractionEngine) rememberConsent(ctx context.Context, req *ValidatedAuthorizeRequest, session *domain.Session, decision *ConsentDecision) error {
	granted := decision.GrantedScopes
	if len(granted) == 0 {
		granted = req.Scopes
	}
	consent := &domain.Consent{
		ClientID:      req.ClientID,
		SubjectID:     session.SubjectID,
		GrantedScopes: granted,
		CreationTime:  e.clock.Now(),
	}
	meta := GrantMeta{
		ClientID:  req.ClientID,
		SubjectID: session.SubjectID,
	}
	return e.consents.CreateWithHandle(ctx, consentHandle(session.SubjectID, req.ClientID), consent, meta)
}

// coveredBy reports whether want is a subset of have, returning the first
// missing scope otherwise.
func coveredBy(have, want []string) (string, bool) {
	if len(have) == 0 {
		return "", true
	}
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[strings.TrimSpace(s)] = struct{}{}
	}
	for _, s := range want {
		if _, ok := set[s]; !ok {
			return s, false
		}
	}
	return "", true
}
