package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"outbound-dialer/internal/calllog"
	"outbound-dialer/internal/convai"
	"outbound-dialer/internal/jobs"
	"outbound-dialer/internal/statustoken"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/internal/users"
)

type fakeNumbers struct {
	number string
	err    error
	calls  int
}

func (f *fakeNumbers) Name() string { return "twilio" }

func (f *fakeNumbers) FirstNumber(ctx context.Context, creds telephony.Credentials) (string, error) {
	f.calls++
	return f.number, f.err
}

type fakeAgents struct {
	importErr   error
	importID    string
	listedID    string
	assignErr   error
	placeErr    error
	convID      string
	imports     int
	assigns     int
	lastRequest convai.OutboundCallRequest
}

func (f *fakeAgents) ImportPhoneNumber(ctx context.Context, req convai.ImportPhoneNumberRequest) (string, error) {
	f.imports++
	return f.importID, f.importErr
}

func (f *fakeAgents) FindPhoneNumber(ctx context.Context, number string) (string, error) {
	return f.listedID, nil
}

func (f *fakeAgents) AssignAgent(ctx context.Context, phoneNumberID, agentID string) error {
	f.assigns++
	return f.assignErr
}

func (f *fakeAgents) PlaceOutboundCall(ctx context.Context, req convai.OutboundCallRequest) (convai.OutboundCallResult, error) {
	f.lastRequest = req
	if f.placeErr != nil {
		return convai.OutboundCallResult{}, f.placeErr
	}
	return convai.OutboundCallResult{ConversationID: f.convID, CallSID: "CA1", Success: true}, nil
}

type fixture struct {
	svc     *Service
	users   *users.MemoryRepo
	numbers *fakeNumbers
	agents  *fakeAgents
	logs    *calllog.MemoryRepo
	tokens  *statustoken.Service
}

func newFixture(t *testing.T, p users.Profile) fixture {
	t.Helper()
	tokens, err := statustoken.New("secret")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	f := fixture{
		users:   users.NewMemoryRepo(p),
		numbers: &fakeNumbers{number: "+15550001111"},
		agents:  &fakeAgents{importID: "pn-1", convID: "conv-1"},
		logs:    calllog.NewMemoryRepo(),
		tokens:  tokens,
	}
	f.svc = NewService(f.users, f.numbers, f.agents, f.logs, tokens)
	f.svc.clock = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func baseProfile() users.Profile {
	return users.Profile{ID: "u1", AgentID: "agent-1", VoiceAccountSID: "AC1", VoiceAuthToken: "tok"}
}

var lead = jobs.Lead{ID: "lead-1", FirstName: "Ada", LastName: "Lovelace", Phone: "5551234567", Email: "ada@example.com"}

func TestInitiate_ProvisionsAndPlacesCall(t *testing.T) {
	f := newFixture(t, baseProfile())
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, Request{UserID: "u1", Lead: lead})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.ConversationID != "conv-1" || res.ToNumber != "+15551234567" || res.FromNumber != "+15550001111" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.StatusToken == "" {
		t.Fatalf("expected a status token")
	}

	p, _ := f.users.Get(ctx, "u1")
	if p.PhoneNumber != "+15550001111" || p.AgentPhoneNumberID != "pn-1" {
		t.Fatalf("provisioning not persisted: %+v", p)
	}

	vars := f.agents.lastRequest.DynamicVariables
	if vars["user_id"] != "u1" || vars["lead_id"] != "lead-1" || vars["lead_full_name"] != "Ada Lovelace" {
		t.Fatalf("unexpected dynamic variables: %v", vars)
	}

	e, err := f.logs.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("call log not written: %v", err)
	}
	if e.Status != calllog.StatusStarted || e.StartedAt == nil {
		t.Fatalf("unexpected call log: %+v", e)
	}
	if !f.tokens.Verify("conv-1", res.StatusToken, e.TokenHash()) {
		t.Fatalf("stored hash does not verify issued token")
	}

	// Second call reuses provisioned resources.
	f.agents.convID = "conv-2"
	if _, err := f.svc.Initiate(ctx, Request{UserID: "u1", Lead: lead}); err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if f.numbers.calls != 1 || f.agents.imports != 1 || f.agents.assigns != 1 {
		t.Fatalf("provisioning repeated: numbers=%d imports=%d assigns=%d", f.numbers.calls, f.agents.imports, f.agents.assigns)
	}
}

func TestInitiate_AbsorbsAlreadyExists(t *testing.T) {
	f := newFixture(t, baseProfile())
	f.agents.importErr = convai.ErrAlreadyExists
	f.agents.importID = ""
	f.agents.listedID = "pn-existing"
	f.agents.assignErr = convai.ErrAlreadyExists

	if _, err := f.svc.Initiate(context.Background(), Request{UserID: "u1", Lead: lead}); err != nil {
		t.Fatalf("expected already-exists to be absorbed, got %v", err)
	}
	p, _ := f.users.Get(context.Background(), "u1")
	if p.AgentPhoneNumberID != "pn-existing" {
		t.Fatalf("expected existing binding persisted, got %q", p.AgentPhoneNumberID)
	}
}

func TestInitiate_ErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(f *fixture, p *users.Profile, l *jobs.Lead)
		wantJob bool
	}{
		{"missing agent", func(f *fixture, p *users.Profile, l *jobs.Lead) { p.AgentID = "" }, true},
		{"missing sub-account", func(f *fixture, p *users.Profile, l *jobs.Lead) { p.VoiceAuthToken = "" }, true},
		{"no number", func(f *fixture, p *users.Profile, l *jobs.Lead) { f.numbers.err = telephony.ErrNoNumberAvailable }, true},
		{"import failure", func(f *fixture, p *users.Profile, l *jobs.Lead) { f.agents.importErr = errors.New("boom") }, true},
		{"assign failure", func(f *fixture, p *users.Profile, l *jobs.Lead) { f.agents.assignErr = errors.New("boom") }, true},
		{"bad phone", func(f *fixture, p *users.Profile, l *jobs.Lead) { l.Phone = "abc" }, false},
		{"placement failure", func(f *fixture, p *users.Profile, l *jobs.Lead) { f.agents.placeErr = errors.New("rejected") }, false},
		{"no conversation id", func(f *fixture, p *users.Profile, l *jobs.Lead) { f.agents.convID = "" }, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := baseProfile()
			l := lead
			f := newFixture(t, p)
			c.setup(&f, &p, &l)
			f.users = users.NewMemoryRepo(p)
			f.svc.users = f.users

			_, err := f.svc.Initiate(context.Background(), Request{UserID: "u1", Lead: l})
			if err == nil {
				t.Fatalf("expected error")
			}
			if c.wantJob != errors.Is(err, ErrJobFatal) {
				t.Fatalf("job fatal mismatch: %v", err)
			}
			if c.wantJob == errors.Is(err, ErrLeadFatal) {
				t.Fatalf("lead fatal mismatch: %v", err)
			}
			if f.logs.Len() != 0 {
				t.Fatalf("no call log expected on failure")
			}
		})
	}
}

func TestInitiate_SuppressStatusToken(t *testing.T) {
	f := newFixture(t, baseProfile())
	res, err := f.svc.Initiate(context.Background(), Request{UserID: "u1", Lead: lead, SuppressStatusToken: true})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.StatusToken != "" {
		t.Fatalf("token should be suppressed")
	}
	e, _ := f.logs.Get(context.Background(), "conv-1")
	if e.TokenHash() != "" {
		t.Fatalf("no hash expected when suppressed")
	}
}
