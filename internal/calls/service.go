package calls

import (
	"context"
	"errors"
	"strings"
	"time"

	"outbound-dialer/internal/calllog"
	"outbound-dialer/internal/convai"
	"outbound-dialer/internal/jobs"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/internal/users"
	"outbound-dialer/pkg/logger"
)

// AgentProvider is the subset of the conversational-agent API used to place calls.
type AgentProvider interface {
	ImportPhoneNumber(ctx context.Context, req convai.ImportPhoneNumberRequest) (string, error)
	FindPhoneNumber(ctx context.Context, number string) (string, error)
	AssignAgent(ctx context.Context, phoneNumberID, agentID string) error
	PlaceOutboundCall(ctx context.Context, req convai.OutboundCallRequest) (convai.OutboundCallResult, error)
}

type TokenIssuer interface {
	Issue(conversationID string) (token, hash string, err error)
}

// Service performs exactly one outbound call attempt per Initiate, provisioning
// the user's number and agent binding first when they are missing.
//
// Provisioning is read-then-write and not guarded against two jobs of the same
// user racing through it for the first time.
type Service struct {
	users   users.Repository
	numbers telephony.NumberProvider
	agents  AgentProvider
	logs    calllog.Repository
	tokens  TokenIssuer
	clock   func() time.Time
}

func NewService(u users.Repository, numbers telephony.NumberProvider, agents AgentProvider, logs calllog.Repository, tokens TokenIssuer) *Service {
	return &Service{
		users:   u,
		numbers: numbers,
		agents:  agents,
		logs:    logs,
		tokens:  tokens,
		clock:   time.Now,
	}
}

func (s *Service) Initiate(ctx context.Context, req Request) (Result, error) {
	l := logger.From(ctx).With("user_id", req.UserID, "lead_id", req.Lead.ID)

	profile, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		return Result{}, jobFatal("load user profile", err)
	}
	if profile.AgentID == "" {
		return Result{}, jobFatal("agent", ErrMissingPrerequisite)
	}
	if profile.VoiceAccountSID == "" || profile.VoiceAuthToken == "" {
		return Result{}, jobFatal("voice sub-account", ErrMissingPrerequisite)
	}
	creds := telephony.Credentials{AccountSID: profile.VoiceAccountSID, AuthToken: profile.VoiceAuthToken}

	fromNumber, err := s.resolveNumber(ctx, profile, creds)
	if err != nil {
		return Result{}, err
	}
	bindingID, err := s.resolveBinding(ctx, profile, fromNumber, creds)
	if err != nil {
		return Result{}, err
	}

	toNumber, err := NormalizePhone(req.Lead.Phone)
	if err != nil {
		return Result{}, leadFatal("normalize "+req.Lead.Phone, err)
	}

	vars := DynamicVariables(req.UserID, profile.AgentID, fromNumber, toNumber, req.Lead)

	placed, err := s.agents.PlaceOutboundCall(ctx, convai.OutboundCallRequest{
		AgentID:            profile.AgentID,
		AgentPhoneNumberID: bindingID,
		ToNumber:           toNumber,
		DynamicVariables:   vars,
	})
	if err != nil {
		return Result{}, leadFatal("place call", err)
	}
	if placed.ConversationID == "" {
		return Result{}, leadFatal("place call", ErrNoConversationID)
	}

	res := Result{
		ConversationID: placed.ConversationID,
		CallSID:        placed.CallSID,
		FromNumber:     fromNumber,
		ToNumber:       toNumber,
		AgentID:        profile.AgentID,
	}

	now := s.clock().UTC()
	entry := calllog.Entry{
		ConversationID:   placed.ConversationID,
		UserID:           req.UserID,
		LeadID:           req.Lead.ID,
		Status:           calllog.StatusStarted,
		StartedAt:        &now,
		DynamicVariables: toAny(vars),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !req.SuppressStatusToken && s.tokens != nil {
		token, hash, err := s.tokens.Issue(placed.ConversationID)
		if err != nil {
			l.Warn("status token not issued", "conversation_id", placed.ConversationID, "err", err)
		} else {
			res.StatusToken = token
			entry.Metadata = map[string]any{calllog.MetadataTokenHashKey: hash}
		}
	}
	// The call is already ringing; a failed write is recovered by the webhook upsert.
	if err := s.logs.InsertIfAbsent(ctx, entry); err != nil {
		l.Error("call log insert failed", "conversation_id", placed.ConversationID, "err", err)
	}

	l.Info("call placed", "conversation_id", placed.ConversationID, "to", toNumber)
	return res, nil
}

func (s *Service) resolveNumber(ctx context.Context, profile users.Profile, creds telephony.Credentials) (string, error) {
	if profile.PhoneNumber != "" {
		return profile.PhoneNumber, nil
	}
	n, err := s.numbers.FirstNumber(ctx, creds)
	if err != nil {
		return "", jobFatal("resolve outbound number", err)
	}
	if err := s.users.SetPhoneNumber(ctx, profile.ID, n); err != nil {
		return "", jobFatal("persist outbound number", err)
	}
	logger.From(ctx).Info("outbound number provisioned", "user_id", profile.ID, "number", n)
	return n, nil
}

// resolveBinding imports the number and assigns the agent before persisting
// the binding id, so a failure in between is retried on the next attempt.
func (s *Service) resolveBinding(ctx context.Context, profile users.Profile, number string, creds telephony.Credentials) (string, error) {
	if profile.AgentPhoneNumberID != "" {
		return profile.AgentPhoneNumberID, nil
	}

	bindingID, err := s.agents.ImportPhoneNumber(ctx, convai.ImportPhoneNumberRequest{
		PhoneNumber: number,
		Label:       "outbound " + number,
		AccountSID:  creds.AccountSID,
		AuthToken:   creds.AuthToken,
		Provider:    s.numbers.Name(),
	})
	if errors.Is(err, convai.ErrAlreadyExists) {
		bindingID, err = s.agents.FindPhoneNumber(ctx, number)
		if err == nil && bindingID == "" {
			err = errors.New("imported number not found at provider")
		}
	}
	if err != nil {
		return "", jobFatal("import phone number", err)
	}

	if err := s.agents.AssignAgent(ctx, bindingID, profile.AgentID); err != nil && !errors.Is(err, convai.ErrAlreadyExists) {
		return "", jobFatal("assign agent", err)
	}
	if err := s.users.SetAgentPhoneNumberID(ctx, profile.ID, bindingID); err != nil {
		return "", jobFatal("persist agent binding", err)
	}
	logger.From(ctx).Info("agent binding provisioned", "user_id", profile.ID, "agent_phone_number_id", bindingID)
	return bindingID, nil
}

// DynamicVariables builds the correlation bag sent with a call. user_id and
// lead_id are always present.
func DynamicVariables(userID, agentID, fromNumber, toNumber string, lead jobs.Lead) map[string]string {
	full := lead.FullName
	if full == "" {
		full = strings.TrimSpace(lead.FirstName + " " + lead.LastName)
	}
	return map[string]string{
		"user_id":            userID,
		"lead_id":            lead.ID,
		"agent_id":           agentID,
		"agent_phone_number": fromNumber,
		"lead_phone_number":  toNumber,
		"lead_first_name":    lead.FirstName,
		"lead_last_name":     lead.LastName,
		"lead_full_name":     full,
		"lead_email":         lead.Email,
	}
}

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
